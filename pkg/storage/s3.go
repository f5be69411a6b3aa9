package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type S3Options struct {
	Bucket string
	Region string
	// Static credentials, when empty the default AWS chain is used.
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint points to an S3 compatible store (MinIO, localstack), implies path style.
	Endpoint string
}

type s3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

func NewS3(ctx context.Context, opts S3Options) (ObjectStore, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	loadOptions := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKeyID != "" {
		loadOptions = append(loadOptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, errors.Wrap(err, "cannot load aws config")
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	log.Info().Str("bucket", opts.Bucket).Str("region", opts.Region).Str("endpoint", opts.Endpoint).Msg("s3 storage ready")
	return &s3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  opts.Bucket,
	}, nil
}

func (s *s3Store) Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	// Seekable bodies let the SDK sign the payload also over plain http endpoints.
	data, err := io.ReadAll(body)
	if err != nil {
		return "", errors.Wrapf(err, "cannot read body for %s", key)
	}
	startTime := time.Now()
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", errors.Wrapf(err, "cannot upload s3://%s/%s", s.bucket, key)
	}
	log.Debug().Str("key", key).Int("size", len(data)).Dur("elapsed", time.Since(startTime)).Msg("uploaded to s3")
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func (s *s3Store) URL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	request, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", errors.Wrapf(err, "cannot presign s3://%s/%s", s.bucket, key)
	}
	return request.URL, nil
}

func (s *s3Store) Close() error {
	return nil
}
