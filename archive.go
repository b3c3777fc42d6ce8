package lecturequiz

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// UploadArchive keeps the raw bytes of uploaded documents so a quiz can be
// traced back to its source file
type UploadArchive interface {
	Store(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// archiveKey names the stored object for a quiz's upload
func archiveKey(quizID, ext string) string {
	return fmt.Sprintf("%s/source%s", quizID, NormalizeExtension(ext))
}

func contentTypeFor(ext string) string {
	switch NormalizeExtension(ext) {
	case ".pdf":
		return "application/pdf"
	case ".pptx":
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	case ".ppt":
		return "application/vnd.ms-powerpoint"
	default:
		return "application/octet-stream"
	}
}

// LocalArchive writes uploads under a directory
type LocalArchive struct {
	Root string
}

func (a *LocalArchive) Store(_ context.Context, key string, data []byte, _ string) (string, error) {
	dst := filepath.Join(a.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	return dst, nil
}

// MinioArchive stores uploads in an S3-compatible bucket
type MinioArchive struct {
	client *minio.Client
	bucket string
}

// NewMinioArchive connects to the configured endpoint. The bucket is created
// on first use if missing.
func NewMinioArchive(cfg ArchiveConfig) (*MinioArchive, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &MinioArchive{client: client, bucket: cfg.MinioBucket}, nil
}

func (a *MinioArchive) Store(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return "", fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return "", fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload document: %w", err)
	}
	return "/" + a.bucket + "/" + key, nil
}

// NewUploadArchive builds the configured archive, or nil when archiving is off
func NewUploadArchive(cfg ArchiveConfig) (UploadArchive, error) {
	switch cfg.Type {
	case "local":
		return &LocalArchive{Root: cfg.LocalPath}, nil
	case "minio":
		return NewMinioArchive(cfg)
	default:
		return nil, nil
	}
}
