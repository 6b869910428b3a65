// Command extract runs one extraction from the command line. Progress goes to
// stderr, the result is printed to stdout as JSON.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(defaultDeps()).Execute(); err != nil {
		os.Exit(1)
	}
}
