// Package blob stores proof image bytes and turns storage handles back into URLs.
package blob

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("blob not found")

// Store is the object storage collaborator. Handles are opaque to callers.
type Store interface {
	Put(ctx context.Context, filename, contentType string, r io.Reader) (handle string, size int64, err error)
	URL(ctx context.Context, handle string) (string, error)
}

// NewHandle returns a collision-free object key that keeps the file extension.
func NewHandle(filename string, now time.Time) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(filename, `\`, "/"))))
	if len(ext) > 10 || strings.ContainsAny(ext, "?#%") {
		ext = ""
	}
	return now.UTC().Format("2006/01/02") + "/" + uuid.NewString() + ext
}

// ValidHandle rejects keys that could escape the store root.
func ValidHandle(handle string) bool {
	if handle == "" || strings.HasPrefix(handle, "/") || strings.Contains(handle, `\`) {
		return false
	}
	for _, part := range strings.Split(handle, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}
