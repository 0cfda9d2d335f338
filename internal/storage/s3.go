package storage

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config describes an S3-compatible bucket (MinIO, R2, AWS).
type S3Config struct {
	Endpoint  string // host[:port], no scheme
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	LinkTTL   time.Duration
}

// ObjectStore publishes finished renders to an S3-compatible bucket and hands
// out presigned GET links.
type ObjectStore struct {
	client  *minio.Client
	bucket  string
	linkTTL time.Duration
}

func NewObjectStore(cfg S3Config) (*ObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	ttl := cfg.LinkTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ObjectStore{client: client, bucket: cfg.Bucket, linkTTL: ttl}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	log.Printf("[Storage] Created bucket %s", s.bucket)
	return nil
}

// Publish uploads a finished render and returns a presigned link valid for the
// configured TTL. The local copy is left in place.
func (s *ObjectStore) Publish(ctx context.Context, localPath string) (string, error) {
	objectPath := ObjectPath(time.Now(), filepath.Base(localPath))

	if _, err := s.client.FPutObject(ctx, s.bucket, objectPath, localPath, minio.PutObjectOptions{
		ContentType: contentTypeFor(localPath),
	}); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", objectPath, err)
	}

	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectPath, s.linkTTL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", objectPath, err)
	}

	log.Printf("[Storage] Published s3://%s/%s (link valid %v)", s.bucket, objectPath, s.linkTTL)
	return u.String(), nil
}
