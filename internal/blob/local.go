package blob

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Local keeps blobs on disk under Dir and serves them from BaseURL.
type Local struct {
	Dir     string
	BaseURL string
	Now     func() time.Time
}

func (l Local) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l Local) Put(ctx context.Context, filename, contentType string, r io.Reader) (string, int64, error) {
	handle := NewHandle(filename, l.now())
	full := filepath.Join(l.Dir, filepath.FromSlash(handle))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", 0, fmt.Errorf("create blob dir: %w", err)
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("create blob: %w", err)
	}
	n, err := io.Copy(f, &ctxReader{ctx: ctx, r: r})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(full)
		return "", 0, fmt.Errorf("write blob: %w", err)
	}
	return handle, n, nil
}

func (l Local) URL(_ context.Context, handle string) (string, error) {
	if !ValidHandle(handle) {
		return "", ErrNotFound
	}
	if _, err := os.Stat(l.Path(handle)); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	parts := strings.Split(handle, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.TrimRight(l.BaseURL, "/") + "/" + strings.Join(parts, "/"), nil
}

// Path returns the on-disk location of handle.
func (l Local) Path(handle string) string {
	return filepath.Join(l.Dir, filepath.FromSlash(handle))
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
