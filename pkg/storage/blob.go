// Package storage persists uploaded file answers in a gocloud bucket so the
// submitted payload can carry a key instead of the file bytes.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/goliatone/go-formflow/pkg/transform"
)

// ErrNotFound reports a missing object.
var ErrNotFound = errors.New("storage: object not found")

// BlobStore writes uploads to a bucket under a key prefix.
type BlobStore struct {
	bucket *blob.Bucket
	prefix string
}

var _ transform.Uploader = (*BlobStore)(nil)

// OpenBlobStore opens bucketURL (mem://, file://, s3://, gs://, azblob://).
func OpenBlobStore(ctx context.Context, bucketURL, prefix string) (*BlobStore, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("storage: open bucket: %w", err)
	}
	return NewBlobStore(bucket, prefix), nil
}

// NewBlobStore wraps an open bucket.
func NewBlobStore(bucket *blob.Bucket, prefix string) *BlobStore {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &BlobStore{bucket: bucket, prefix: prefix}
}

// Upload implements transform.Uploader and returns the full object key.
func (s *BlobStore) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	full := s.keyFor(key)
	opts := &blob.WriterOptions{ContentType: contentType}
	if err := s.bucket.WriteAll(ctx, full, data, opts); err != nil {
		return "", fmt.Errorf("storage: write %s: %w", full, err)
	}
	return full, nil
}

// Get reads an object written by Upload.
func (s *BlobStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	attrs, err := s.bucket.Attributes(ctx, key)
	if err != nil {
		return nil, "", s.mapErr(key, err)
	}
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		return nil, "", s.mapErr(key, err)
	}
	return data, attrs.ContentType, nil
}

// Delete removes an object. Missing objects are not an error.
func (s *BlobStore) Delete(ctx context.Context, key string) error {
	err := s.bucket.Delete(ctx, key)
	if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return err
}

// Close closes the bucket.
func (s *BlobStore) Close() error {
	return s.bucket.Close()
}

func (s *BlobStore) keyFor(key string) string {
	return s.prefix + strings.TrimLeft(key, "/")
}

func (s *BlobStore) mapErr(key string, err error) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return fmt.Errorf("storage: read %s: %w", key, err)
}
