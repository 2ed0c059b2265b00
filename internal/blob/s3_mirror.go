package blob

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MirrorConfig configures the optional S3 quarantine mirror.
type MirrorConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// QuarantineMirror pushes a copy of quarantined content to an offsite bucket
// so operators can inspect it without touching the live tree. It is optional:
// a nil mirror is a no-op.
type QuarantineMirror struct {
	client *minio.Client
	bucket string
}

func NewQuarantineMirror(cfg MirrorConfig) (*QuarantineMirror, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check quarantine bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create quarantine bucket: %w", err)
		}
	}

	return &QuarantineMirror{client: client, bucket: cfg.Bucket}, nil
}

func (m *QuarantineMirror) Push(ctx context.Context, key string, reader io.Reader, size int64) error {
	if m == nil {
		return nil
	}
	_, err := m.client.PutObject(ctx, m.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("failed to mirror quarantined object: %w", err)
	}
	return nil
}
