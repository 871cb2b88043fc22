// Package archive stores raw feed-item bodies that exceed the in-payload
// size boundary; the raw_feed_items row keeps the returned URI in
// archive_uri instead of the body.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ContentArchive stores oversized content and returns a reference URI.
type ContentArchive interface {
	Store(ctx context.Context, itemID string, content []byte) (string, error)
	Retrieve(ctx context.Context, reference string) ([]byte, error)
}

// S3ContentArchive stores content in S3-compatible storage.
type S3ContentArchive struct {
	client     *s3.Client
	bucket     string
	prefix     string
	localCache string
}

type S3ContentArchiveConfig struct {
	Bucket          string
	Prefix          string // e.g. "content/raw/"
	Region          string
	Endpoint        string // for MinIO/local S3
	AccessKeyID     string
	SecretAccessKey string
	LocalCacheDir   string
}

func NewS3ContentArchive(cfg S3ContentArchiveConfig) (*S3ContentArchive, error) {
	optFns := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsCfg, clientOpts...)

	if cfg.LocalCacheDir != "" {
		if err := os.MkdirAll(cfg.LocalCacheDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	return &S3ContentArchive{
		client:     client,
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		localCache: cfg.LocalCacheDir,
	}, nil
}

func (a *S3ContentArchive) Store(ctx context.Context, itemID string, content []byte) (string, error) {
	key := a.buildKey(itemID)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload content to S3: %w", err)
	}

	if a.localCache != "" {
		cachePath := filepath.Join(a.localCache, itemID)
		_ = os.WriteFile(cachePath, content, 0644)
	}

	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}

func (a *S3ContentArchive) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	key := extractKey(reference)

	if a.localCache != "" {
		cachePath := filepath.Join(a.localCache, filepath.Base(key))
		if data, err := os.ReadFile(cachePath); err == nil {
			return data, nil
		}
	}

	output, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get content from S3: %w", err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	if a.localCache != "" {
		cachePath := filepath.Join(a.localCache, filepath.Base(key))
		_ = os.WriteFile(cachePath, data, 0644)
	}

	return data, nil
}

func (a *S3ContentArchive) buildKey(itemID string) string {
	timestamp := time.Now().Format("2006/01/02")
	return fmt.Sprintf("%s%s/%s.raw", a.prefix, timestamp, itemID)
}

func extractKey(reference string) string {
	if len(reference) > 5 && reference[:5] == "s3://" {
		parts := reference[5:]
		for i, c := range parts {
			if c == '/' {
				return parts[i+1:]
			}
		}
	}
	return reference
}

// LocalContentArchive stores content on the local filesystem, for
// development or single-node deployments.
type LocalContentArchive struct {
	basePath string
}

func NewLocalContentArchive(basePath string) (*LocalContentArchive, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &LocalContentArchive{basePath: basePath}, nil
}

func (l *LocalContentArchive) Store(ctx context.Context, itemID string, content []byte) (string, error) {
	path := filepath.Join(l.basePath, itemID+".raw")
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("failed to write content: %w", err)
	}
	return path, nil
}

func (l *LocalContentArchive) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	return os.ReadFile(reference)
}
