// Package thumbnails keeps harvested thumbnail images in a blob bucket.
package thumbnails

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"

	"github.com/R3E-Network/geoharvest/internal/errors"
	"github.com/R3E-Network/geoharvest/pkg/logger"
)

// Store saves thumbnails under a key and serves them back.
type Store struct {
	bucket    *blob.Bucket
	publicURL string
	log       *logger.Logger
}

// Open opens the bucket at bucketURL, for example "mem://" or
// "file:///var/lib/geoharvest/thumbs". Stored objects are published
// under publicURL.
func Open(ctx context.Context, bucketURL, publicURL string, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewDefault("thumbnails")
	}
	if bucketURL == "" {
		bucketURL = "mem://"
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open thumbnail bucket %q: %w", bucketURL, err)
	}
	return New(bucket, publicURL, log), nil
}

// New wraps an open bucket.
func New(bucket *blob.Bucket, publicURL string, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewDefault("thumbnails")
	}
	if publicURL != "" && !strings.HasSuffix(publicURL, "/") {
		publicURL += "/"
	}
	return &Store{bucket: bucket, publicURL: publicURL, log: log}
}

// Save writes data under key, replacing any previous object, and returns
// its public URL.
func (s *Store) Save(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	opts := &blob.WriterOptions{ContentType: contentType}
	if err := s.bucket.WriteAll(ctx, key, data, opts); err != nil {
		return "", fmt.Errorf("write thumbnail %s: %w", key, err)
	}
	return s.PublicURL(key), nil
}

// PublicURL is the URL a stored key is served from.
func (s *Store) PublicURL(key string) string {
	return s.publicURL + key
}

// Open returns a reader for key and its content type. The caller closes
// the reader.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, "", err
	}
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, "", errors.NewNotFoundError("thumbnail", key)
		}
		return nil, "", fmt.Errorf("read thumbnail %s: %w", key, err)
	}
	return r, r.ContentType(), nil
}

// Close releases the bucket.
func (s *Store) Close() error {
	return s.bucket.Close()
}

func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned != key || strings.Contains(key, "..") {
		return "", errors.NewValidationError("key", fmt.Sprintf("invalid thumbnail key %q", key))
	}
	return cleaned, nil
}
