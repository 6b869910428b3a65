package repository

import "errors"

// ErrNotFound is returned by lookups when the requested row does not exist.
var ErrNotFound = errors.New("not found")
