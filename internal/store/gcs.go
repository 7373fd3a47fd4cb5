package store

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSBlobStore persists audio in a Google Cloud Storage bucket and returns
// public object URLs. Production deployments point the frontend straight at
// the bucket instead of proxying audio through the gateway.
type GCSBlobStore struct {
	client *storage.Client
	bucket string
}

func NewGCSBlobStore(ctx context.Context, bucket string) (*GCSBlobStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSBlobStore{client: client, bucket: bucket}, nil
}

func (s *GCSBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("write gs://%s/%s: %w", s.bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("write gs://%s/%s: %w", s.bucket, key, err)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, key), nil
}

func (s *GCSBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read gs://%s/%s: %w", s.bucket, key, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (s *GCSBlobStore) Close() error {
	return s.client.Close()
}
