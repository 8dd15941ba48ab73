// Package storage stores uploaded invoice documents in S3-compatible
// object storage.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// AllowedContentTypes are the upload types the extraction pipeline accepts.
var AllowedContentTypes = []string{
	"application/pdf",
	"image/png",
	"image/jpeg",
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type Store struct {
	client *minio.Client
	bucket string
}

// New connects to object storage and creates the bucket if it is missing.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// Upload stores one document under a fresh object key scoped to the org.
// The original filename survives only in its extension; the key itself is
// unguessable.
func (s *Store) Upload(ctx context.Context, orgID, fileName, contentType string, body io.Reader, size int64) (string, error) {
	if !contentTypeAllowed(contentType) {
		return "", fmt.Errorf("content type %q not allowed", contentType)
	}
	key := orgID + "/" + uuid.NewString() + strings.ToLower(path.Ext(fileName))
	_, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload object: %w", err)
	}
	return key, nil
}

// PresignedDownload returns a short-lived download URL for an object.
func (s *Store) PresignedDownload(ctx context.Context, objectKey, downloadName string) (string, error) {
	params := url.Values{}
	if downloadName != "" {
		params.Set("response-content-disposition", `attachment; filename="`+downloadName+`"`)
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey, 15*time.Minute, params)
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return u.String(), nil
}

func (s *Store) Delete(ctx context.Context, objectKey string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func contentTypeAllowed(contentType string) bool {
	for _, allowed := range AllowedContentTypes {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}
