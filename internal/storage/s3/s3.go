// Package s3 stores content objects in S3 or an S3-compatible server such as MinIO.
package s3

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/fruitsalade/aftp/internal/logging"
	"github.com/fruitsalade/aftp/internal/metrics"
)

// BackendConfig is the JSON-serializable S3 backend configuration.
type BackendConfig struct {
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Region    string `json:"region"`
	UseSSL    bool   `json:"use_ssl"`
}

// endpointURL adds a scheme when the endpoint is a bare host:port.
func (c BackendConfig) endpointURL() string {
	if c.Endpoint == "" || strings.Contains(c.Endpoint, "://") {
		return c.Endpoint
	}
	if c.UseSSL {
		return "https://" + c.Endpoint
	}
	return "http://" + c.Endpoint
}

// S3Backend implements storage.Backend on a single bucket.
type S3Backend struct {
	client *s3.Client
	bucket string
}

// NewBackend creates a new S3 backend from a BackendConfig.
func NewBackend(ctx context.Context, cfg BackendConfig) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if endpoint := cfg.endpointURL(); endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               endpoint,
					HostnameImmutable: true,
				}, nil
			},
		)
		opts = append(opts, config.WithEndpointResolverWithOptions(resolver))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	backend := &S3Backend{
		client: client,
		bucket: cfg.Bucket,
	}

	if err := backend.ensureBucket(ctx); err != nil {
		logging.Error("bucket check failed", zap.Error(err))
	}

	return backend, nil
}

// NewFromJSON creates an S3Backend from raw JSON config.
func NewFromJSON(ctx context.Context, raw json.RawMessage) (*S3Backend, error) {
	var cfg BackendConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse s3 config: %w", err)
	}
	return NewBackend(ctx, cfg)
}

func record(op string, start time.Time, err error) {
	metrics.RecordContentOperation("s3", op, time.Since(start), err == nil)
}

func (b *S3Backend) ensureBucket(ctx context.Context) error {
	start := time.Now()
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err == nil {
		return nil
	}
	_, err = b.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(b.bucket),
	})
	record("create_bucket", start, err)
	if err != nil {
		return fmt.Errorf("bucket %s does not exist and cannot create: %w", b.bucket, err)
	}
	logging.Info("created S3 bucket", zap.String("bucket", b.bucket))
	return nil
}

// notFound rewrites missing-key responses as fs.ErrNotExist so callers can
// use storage.IsNotFound without importing the SDK.
func notFound(key string, err error) error {
	var noKey *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &nf) {
		return fmt.Errorf("object %s: %w", key, fs.ErrNotExist)
	}
	return err
}

// GetObject retrieves an object with range support.
func (b *S3Backend) GetObject(ctx context.Context, key string, offset, length int64) (rc io.ReadCloser, n int64, err error) {
	defer func(start time.Time) { record("get_object", start, err) }(time.Now())

	input := &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}

	if offset > 0 || length > 0 {
		var rangeStr string
		if length > 0 {
			rangeStr = fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
		} else {
			rangeStr = fmt.Sprintf("bytes=%d-", offset)
		}
		input.Range = aws.String(rangeStr)
	}

	result, err := b.client.GetObject(ctx, input)
	if err != nil {
		return nil, 0, fmt.Errorf("get object %s: %w", key, notFound(key, err))
	}

	size := int64(0)
	if result.ContentLength != nil {
		size = *result.ContentLength
	}
	return result.Body, size, nil
}

// PutObject uploads content. A negative size lets the SDK stream without a
// declared length.
func (b *S3Backend) PutObject(ctx context.Context, key string, body io.Reader, size int64) (err error) {
	defer func(start time.Time) { record("put_object", start, err) }(time.Now())

	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err = b.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}

	logging.Debug("S3 put object", zap.String("key", key), zap.Int64("size", size))
	return nil
}

// DeleteObject removes an object. S3 reports success for missing keys.
func (b *S3Backend) DeleteObject(ctx context.Context, key string) (err error) {
	defer func(start time.Time) { record("delete_object", start, err) }(time.Now())

	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if errors.Is(notFound(key, err), fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("delete object %s: %w", key, err)
	}

	logging.Debug("S3 delete object", zap.String("key", key))
	return nil
}

// ObjectSize returns the object's length from a HEAD request.
func (b *S3Backend) ObjectSize(ctx context.Context, key string) (size int64, err error) {
	defer func(start time.Time) { record("head_object", start, err) }(time.Now())

	result, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("head object %s: %w", key, notFound(key, err))
	}
	if result.ContentLength != nil {
		size = *result.ContentLength
	}
	return size, nil
}

// Type returns "s3".
func (b *S3Backend) Type() string { return "s3" }

// Close is a no-op for S3 backends.
func (b *S3Backend) Close() error { return nil }
