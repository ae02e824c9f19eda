package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCS stores blobs in a Cloud Storage bucket and hands out V4 signed URLs.
type GCS struct {
	client *storage.Client
	Bucket string
	TTL    time.Duration
	Now    func() time.Time
}

func NewGCS(ctx context.Context, bucket, credentialsFile string, ttl time.Duration) (*GCS, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", credentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS storage client: %w", err)
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &GCS{client: client, Bucket: bucket, TTL: ttl}, nil
}

func (g *GCS) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g *GCS) Put(ctx context.Context, filename, contentType string, r io.Reader) (string, int64, error) {
	handle := NewHandle(filename, g.now())
	w := g.client.Bucket(g.Bucket).Object(handle).NewWriter(ctx)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.ContentType = contentType
	n, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		return "", 0, fmt.Errorf("copy %s to gs://%s/%s: %w", filename, g.Bucket, handle, err)
	}
	if err := w.Close(); err != nil {
		return "", 0, fmt.Errorf("close GCS writer for %s: %w", handle, err)
	}
	return handle, n, nil
}

func (g *GCS) URL(ctx context.Context, handle string) (string, error) {
	if !ValidHandle(handle) {
		return "", ErrNotFound
	}
	bkt := g.client.Bucket(g.Bucket)
	if _, err := bkt.Object(handle).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return "", ErrNotFound
		}
		return "", err
	}
	return bkt.SignedURL(handle, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: g.now().Add(g.TTL),
	})
}

func (g *GCS) Close() error {
	return g.client.Close()
}
