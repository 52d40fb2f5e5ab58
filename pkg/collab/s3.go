package collab

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/parcelworks/canopy/pkg/cidlink"
)

// S3Uploader stores blobs in an S3 bucket keyed by their computed content
// identifier. Uploads are idempotent: an object that already exists under
// its identifier key is not re-uploaded.
type S3Uploader struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3UploaderConfig holds configuration for S3Uploader.
type S3UploaderConfig struct {
	Bucket   string
	Region   string
	Endpoint string // Optional custom endpoint (for MinIO, LocalStack, etc.)
	Prefix   string // Optional key prefix
}

// NewS3Uploader creates an S3-backed uploader.
func NewS3Uploader(ctx context.Context, cfg S3UploaderConfig) (*S3Uploader, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO/LocalStack
		}
	}

	return &S3Uploader{
		client: s3.NewFromConfig(awsCfg, clientOpts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (u *S3Uploader) UploadBatch(ctx context.Context, items []UploadItem) []UploadResult {
	results := make([]UploadResult, len(items))
	for i, item := range items {
		results[i] = u.putBlob(ctx, item.Data, item.Metadata)
	}
	return results
}

func (u *S3Uploader) UploadDirectory(ctx context.Context, path string, metadata map[string]string) UploadResult {
	entries, err := os.ReadDir(path)
	if err != nil {
		return UploadResult{Err: fmt.Errorf("read dir %s: %w", path, err)}
	}
	var last UploadResult
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(path, e.Name()))
		if err != nil {
			return UploadResult{Err: fmt.Errorf("read %s: %w", e.Name(), err)}
		}
		last = u.putBlob(ctx, data, metadata)
		if last.Err != nil {
			return last
		}
	}
	return last
}

func (u *S3Uploader) putBlob(ctx context.Context, data []byte, metadata map[string]string) UploadResult {
	id, err := cidlink.FromBytes(data, cidlink.Options{Version: 0})
	if err != nil {
		return UploadResult{Err: err}
	}
	key := u.prefix + id.String()

	// Idempotent: skip the put if the object already exists.
	_, err = u.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return UploadResult{Success: true, ID: id.String()}
	}

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata:    metadata,
	})
	if err != nil {
		return UploadResult{Err: fmt.Errorf("s3 put failed: %w", err)}
	}
	return UploadResult{Success: true, ID: id.String()}
}
