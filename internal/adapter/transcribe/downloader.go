package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"

	"github.com/user/note-enricher/internal/repository"
	"github.com/user/note-enricher/pkg/utils"
	"go.uber.org/zap"
)

// DefaultMaxBytes caps media downloads.
const DefaultMaxBytes = 200 << 20

// ErrMediaTooLarge is returned when a download exceeds the configured cap.
var ErrMediaTooLarge = errors.New("media exceeds size limit")

// Doer sends HTTP requests. *httpfetch.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Downloader stores remote media in temp files.
type Downloader struct {
	client   Doer
	maxBytes int64
	dir      string
	logger   *zap.Logger
}

var _ repository.MediaDownloader = (*Downloader)(nil)

// NewDownloader creates a Downloader writing into dir ("" means os.TempDir).
func NewDownloader(client Doer, maxBytes int64, dir string, logger *zap.Logger) *Downloader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{client: client, maxBytes: maxBytes, dir: dir, logger: logger}
}

// Download writes the media at rawURL to a temp file and returns its path.
func (d *Downloader) Download(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("download %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	if resp.ContentLength > d.maxBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrMediaTooLarge, resp.ContentLength)
	}

	f, err := os.CreateTemp(d.dir, "media-"+utils.HashURL(rawURL)[:16]+"-*"+fileExt(rawURL))
	if err != nil {
		return "", err
	}
	n, err := io.Copy(f, io.LimitReader(resp.Body, d.maxBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n > d.maxBytes {
		err = fmt.Errorf("%w: more than %d bytes", ErrMediaTooLarge, d.maxBytes)
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}

	d.logger.Debug("downloaded media", zap.String("url", rawURL), zap.Int64("bytes", n), zap.String("path", f.Name()))
	return f.Name(), nil
}

func fileExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := path.Ext(u.Path)
	if len(ext) > 6 {
		return ""
	}
	return ext
}
