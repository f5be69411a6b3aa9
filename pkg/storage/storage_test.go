package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type s3Request struct {
	method      string
	path        string
	contentType string
	body        string
}

func newFakeS3(t *testing.T) (*httptest.Server, func() []s3Request) {
	var mu sync.Mutex
	var requests []s3Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		requests = append(requests, s3Request{
			method:      r.Method,
			path:        r.URL.Path,
			contentType: r.Header.Get("Content-Type"),
			body:        string(body),
		})
		mu.Unlock()
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server, func() []s3Request {
		mu.Lock()
		defer mu.Unlock()
		return append([]s3Request(nil), requests...)
	}
}

func TestS3Put(t *testing.T) {
	server, requests := newFakeS3(t)
	store, err := NewS3(context.Background(), S3Options{
		Bucket:          "recordings-bucket",
		Region:          "us-east-1",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		Endpoint:        server.URL,
	})
	require.NoError(t, err)
	defer store.Close()

	location, err := store.Put(context.Background(), "recordings/abc.mp3", strings.NewReader("ID3 mp3 data"), "audio/mpeg")
	require.NoError(t, err)
	assert.Equal(t, "s3://recordings-bucket/recordings/abc.mp3", location)

	got := requests()
	require.Len(t, got, 1)
	assert.Equal(t, http.MethodPut, got[0].method)
	assert.Equal(t, "/recordings-bucket/recordings/abc.mp3", got[0].path)
	assert.Equal(t, "audio/mpeg", got[0].contentType)
	assert.Equal(t, "ID3 mp3 data", got[0].body)
}

func TestS3PutFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<Error><Code>AccessDenied</Code><Message>nope</Message></Error>`))
	}))
	defer server.Close()

	store, err := NewS3(context.Background(), S3Options{
		Bucket:          "recordings-bucket",
		Region:          "us-east-1",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		Endpoint:        server.URL,
	})
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "recordings/abc.mp3", strings.NewReader("x"), "audio/mpeg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://recordings-bucket/recordings/abc.mp3")
}

func TestS3URL(t *testing.T) {
	store, err := NewS3(context.Background(), S3Options{
		Bucket:          "recordings-bucket",
		Region:          "us-east-1",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		Endpoint:        "http://localhost:9000",
	})
	require.NoError(t, err)

	url, err := store.URL(context.Background(), "recordings/abc-stream.wav", 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "http://localhost:9000/recordings-bucket/recordings/abc-stream.wav?"))
	assert.Contains(t, url, "X-Amz-Expires=900")
	assert.Contains(t, url, "X-Amz-Signature=")
}

func TestStoresRequireBucket(t *testing.T) {
	_, err := NewS3(context.Background(), S3Options{Region: "us-east-1"})
	assert.Error(t, err)

	_, err = NewGCS(context.Background(), "", option.WithoutAuthentication())
	assert.Error(t, err)
}

func TestGCSClient(t *testing.T) {
	store, err := NewGCS(context.Background(), "recordings-bucket", option.WithoutAuthentication())
	require.NoError(t, err)
	assert.NoError(t, store.Close())
}
