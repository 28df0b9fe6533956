package duck

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ReadDocument reads a small file such as a catalog or a fitted parameter set
// from a local path or an s3:// uri.
func ReadDocument(ctx context.Context, log *slog.Logger, cfg *S3Config, uri string) ([]byte, error) {
	if !IsS3(uri) {
		data, err := os.ReadFile(uri)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", uri, err)
		}
		return data, nil
	}
	if cfg == nil {
		return nil, fmt.Errorf("S3 configuration is required to read %s", uri)
	}
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	bucket, key := splitS3(uri)
	out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", uri, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", uri, err)
	}
	log.Debug("duck: document read", "uri", uri, "bytes", len(data))
	return data, nil
}

// WriteDocument writes data to a local path or an s3:// uri. Local files are
// written to a sibling temp path and renamed into place.
func WriteDocument(ctx context.Context, log *slog.Logger, cfg *S3Config, uri string, data []byte) error {
	if IsS3(uri) {
		if cfg == nil {
			return fmt.Errorf("S3 configuration is required to write %s", uri)
		}
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return err
		}
		bucket, key := splitS3(uri)
		if _, err := client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		}); err != nil {
			return fmt.Errorf("failed to put %s: %w", uri, err)
		}
		log.Debug("duck: document written", "uri", uri, "bytes", len(data))
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(uri), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp := fmt.Sprintf("%s.tmp-%d", uri, os.Getpid())
	defer os.Remove(tmp)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", uri, err)
	}
	if err := os.Rename(tmp, uri); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", uri, err)
	}
	log.Debug("duck: document written", "uri", uri, "bytes", len(data))
	return nil
}
