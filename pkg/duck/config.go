package duck

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds configuration for S3-compatible storage (AWS S3, MinIO, etc.)
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // e.g. "http://localhost:9000" for MinIO, empty for AWS
	Region          string
	UseSSL          bool
	URLStyle        string // "path" or "virtual"
}

func (c *S3Config) isMinIO() bool {
	return c.Endpoint != "" && !strings.Contains(c.Endpoint, "amazonaws.com")
}

func (c *S3Config) isLocal() bool {
	endpoint := strings.TrimPrefix(c.Endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.HasPrefix(endpoint, "localhost") ||
		strings.HasPrefix(endpoint, "127.0.0.1") ||
		strings.Contains(endpoint, "host.docker.internal")
}

// IsS3 reports whether uri names an S3 object.
func IsS3(uri string) bool {
	return strings.HasPrefix(uri, "s3://")
}

func envFirst(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// LoadS3ConfigFromEnv loads S3 configuration from environment variables.
//
// Environment variables:
//   - S3_ACCESS_KEY_ID or AWS_ACCESS_KEY_ID
//   - S3_SECRET_ACCESS_KEY or AWS_SECRET_ACCESS_KEY
//   - S3_ENDPOINT or AWS_ENDPOINT_URL (MinIO: "http://localhost:9000")
//   - S3_REGION or AWS_REGION (default "us-east-1")
//   - S3_USE_SSL ("true"/"false", defaults to false for MinIO)
//   - S3_URL_STYLE ("path" or "virtual", default "path")
//
// With neither key set the returned config uses the default AWS credential chain.
func LoadS3ConfigFromEnv() (*S3Config, error) {
	accessKeyID := envFirst("S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID")
	secretAccessKey := envFirst("S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY")

	if accessKeyID == "" && secretAccessKey != "" {
		return nil, fmt.Errorf("S3_SECRET_ACCESS_KEY or AWS_SECRET_ACCESS_KEY is set but S3_ACCESS_KEY_ID or AWS_ACCESS_KEY_ID is missing")
	}
	if accessKeyID != "" && secretAccessKey == "" {
		return nil, fmt.Errorf("S3_ACCESS_KEY_ID or AWS_ACCESS_KEY_ID is set but S3_SECRET_ACCESS_KEY or AWS_SECRET_ACCESS_KEY is missing")
	}

	region := envFirst("S3_REGION", "AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}

	cfg := &S3Config{
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
		Endpoint:        envFirst("S3_ENDPOINT", "AWS_ENDPOINT_URL"),
		Region:          region,
		URLStyle:        "path",
	}
	cfg.UseSSL = !cfg.isMinIO()

	if v := os.Getenv("S3_USE_SSL"); v != "" {
		cfg.UseSSL = v == "true" || v == "1"
	}
	if v := os.Getenv("S3_URL_STYLE"); v != "" {
		cfg.URLStyle = v
	}

	if cfg.isMinIO() && (cfg.AccessKeyID == "" || cfg.SecretAccessKey == "") {
		return nil, fmt.Errorf("MinIO requires both S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY to be set (endpoint: %s)", cfg.Endpoint)
	}
	return cfg, nil
}

// EnsureMinIOBucket creates the bucket of uri when it points at a localhost MinIO
// and the bucket does not exist yet. Other endpoints are left alone.
func EnsureMinIOBucket(ctx context.Context, log *slog.Logger, uri string, cfg *S3Config) error {
	if cfg.Endpoint == "" || !cfg.isLocal() || !IsS3(uri) {
		return nil
	}
	bucket, _ := splitS3(uri)
	if bucket == "" {
		return nil
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return fmt.Errorf("MinIO requires both S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY to be set")
	}

	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return err
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err == nil {
		return nil
	}
	log.Info("duck: creating MinIO bucket", "bucket", bucket, "endpoint", cfg.Endpoint)
	if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return nil
}

// newS3Client builds an S3 client for cfg. Static keys are used when set, the
// default AWS credential chain otherwise.
func newS3Client(ctx context.Context, cfg *S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}
	endpointURL := cfg.Endpoint
	if endpointURL != "" && !strings.HasPrefix(endpointURL, "http://") && !strings.HasPrefix(endpointURL, "https://") {
		scheme := "http://"
		if cfg.UseSSL {
			scheme = "https://"
		}
		endpointURL = scheme + endpointURL
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpointURL != "" {
			o.BaseEndpoint = aws.String(endpointURL)
		}
		o.UsePathStyle = cfg.URLStyle == "path"
	}), nil
}

// splitS3 returns the bucket and key of an s3:// uri.
func splitS3(uri string) (string, string) {
	bucket, key, _ := strings.Cut(strings.TrimPrefix(uri, "s3://"), "/")
	return bucket, key
}

// PrepareS3Config returns the S3 configuration needed to reach uris, or nil when
// none of them is on S3. Buckets of localhost MinIO output locations are created.
func PrepareS3Config(ctx context.Context, log *slog.Logger, outputs []string, uris ...string) (*S3Config, error) {
	remote := false
	for _, u := range append(append([]string{}, outputs...), uris...) {
		if IsS3(u) {
			remote = true
			break
		}
	}
	if !remote {
		return nil, nil
	}
	cfg, err := LoadS3ConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 configuration: %w", err)
	}
	for _, u := range outputs {
		if err := EnsureMinIOBucket(ctx, log, u, cfg); err != nil {
			return nil, fmt.Errorf("failed to ensure MinIO bucket exists: %w", err)
		}
	}
	return cfg, nil
}
