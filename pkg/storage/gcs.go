package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

type gcsStore struct {
	client *storage.Client
	bucket string
}

// NewGCS uses the application default credentials, extra client options are for tests and emulators.
func NewGCS(ctx context.Context, bucket string, opts ...option.ClientOption) (ObjectStore, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create gcs client")
	}
	log.Info().Str("bucket", bucket).Msg("gcs storage ready")
	return &gcsStore{
		client: client,
		bucket: bucket,
	}, nil
}

func (g *gcsStore) Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	writer := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = contentType
	written, err := io.Copy(writer, body)
	if err != nil {
		_ = writer.Close()
		return "", errors.Wrapf(err, "cannot upload gs://%s/%s", g.bucket, key)
	}
	if err := writer.Close(); err != nil {
		return "", errors.Wrapf(err, "cannot finish upload gs://%s/%s", g.bucket, key)
	}
	log.Debug().Str("key", key).Int64("size", written).Msg("uploaded to gcs")
	return fmt.Sprintf("gs://%s/%s", g.bucket, key), nil
}

func (g *gcsStore) URL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	url, err := g.client.Bucket(g.bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", errors.Wrapf(err, "cannot sign gs://%s/%s", g.bucket, key)
	}
	return url, nil
}

func (g *gcsStore) Close() error {
	return g.client.Close()
}
