// Package r2 implements the uploader against Cloudflare R2 via its
// S3-compatible API.
package r2

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/reveriehq/reverie/pkg/upload"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxAttempts = 3
)

// Config is the configuration options for the R2 uploader.
type Config struct {
	// AccountID is the Cloudflare account identifier.
	AccountID string

	// AccessKeyID and SecretAccessKey are the R2 API token credentials.
	AccessKeyID     string
	SecretAccessKey string

	// Bucket is the target bucket name.
	Bucket string

	// CustomDomain, when set, is used to build public URLs instead of the
	// bucket endpoint.
	CustomDomain string

	// Timeout bounds each upload call (defaults to 10s).
	Timeout time.Duration

	// MaxAttempts bounds SDK retries per upload (defaults to 3).
	MaxAttempts int

	// Logger is the provided zap logger.
	Logger *zap.Logger
}

// Uploader implements upload.Uploader against an R2 bucket.
type Uploader struct {
	config Config
	logger *zap.Logger
	client *s3.Client
}

var _ upload.Uploader = (*Uploader)(nil)

// NewUploader creates an R2 uploader. Returns upload.MissingCredentialsError
// when any required credential is absent.
func NewUploader(config Config) (*Uploader, error) {
	for _, required := range []struct {
		field string
		value string
	}{
		{"account_id", config.AccountID},
		{"access_key_id", config.AccessKeyID},
		{"secret_access_key", config.SecretAccessKey},
		{"bucket", config.Bucket},
	} {
		if required.value == "" {
			return nil, &upload.MissingCredentialsError{Field: required.field}
		}
	}

	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaultMaxAttempts
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", config.AccountID)

	client := s3.NewFromConfig(aws.Config{
		Region: "auto",
		Credentials: credentials.NewStaticCredentialsProvider(
			config.AccessKeyID,
			config.SecretAccessKey,
			"",
		),
		RetryMaxAttempts: config.MaxAttempts,
	}, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	return &Uploader{
		config: config,
		logger: config.Logger,
		client: client,
	}, nil
}

// Upload writes data to the bucket under objectKey and returns its public URL.
func (u *Uploader) Upload(ctx context.Context, objectKey string, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, u.config.Timeout)
	defer cancel()

	start := time.Now()
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.config.Bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", objectKey, err)
	}

	u.logger.Debug("uploaded object",
		zap.String("key", objectKey),
		zap.Int("bytes", len(data)),
		zap.Duration("took", time.Since(start)),
	)

	return u.PublicURL(objectKey), nil
}

// PublicURL builds the publicly reachable URL for objectKey, preferring the
// configured custom domain.
func (u *Uploader) PublicURL(objectKey string) string {
	if u.config.CustomDomain != "" {
		return fmt.Sprintf("https://%s/%s", u.config.CustomDomain, objectKey)
	}
	return fmt.Sprintf("https://%s.%s.r2.cloudflarestorage.com/%s",
		u.config.Bucket, u.config.AccountID, objectKey)
}
