package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"beatquiz/config"
	"beatquiz/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var minioClient *minio.Client

// InitMinio connects the MinIO client and makes sure the bucket exists.
func InitMinio(cfg *config.Config) error {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return fmt.Errorf("failed to create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{
			Region: cfg.MinioRegion,
		}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info("bucket created", logger.String("bucket", cfg.MinioBucket))
	}

	minioClient = client
	logger.Info("minio client initialized",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket))
	return nil
}

// GetMinioClient returns the shared client, nil when MinIO is disabled.
func GetMinioClient() *minio.Client {
	return minioClient
}

// PreviewCache stores downloaded track previews in a bucket so repeated
// rounds do not hit the upstream API for the same clip.
type PreviewCache struct {
	client *minio.Client
	bucket string
	http   *http.Client
}

// NewPreviewCache builds a cache over the shared client. Returns nil
// when MinIO was not initialized.
func NewPreviewCache(bucket string) *PreviewCache {
	if minioClient == nil {
		return nil
	}
	return &PreviewCache{
		client: minioClient,
		bucket: bucket,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *PreviewCache) objectName(trackKey string) string {
	return "previews/" + trackKey + ".mp3"
}

// Cached reports whether a preview for trackKey is already stored.
func (p *PreviewCache) Cached(ctx context.Context, trackKey string) bool {
	_, err := p.client.StatObject(ctx, p.bucket, p.objectName(trackKey), minio.StatObjectOptions{})
	return err == nil
}

// Store downloads previewURL and uploads it under trackKey.
func (p *PreviewCache) Store(ctx context.Context, trackKey, previewURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, previewURL, nil)
	if err != nil {
		return err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download preview: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("preview download returned status %d", resp.StatusCode)
	}

	_, err = p.client.PutObject(ctx, p.bucket, p.objectName(trackKey), resp.Body, resp.ContentLength, minio.PutObjectOptions{
		ContentType: "audio/mpeg",
	})
	if err != nil {
		return fmt.Errorf("failed to upload preview: %w", err)
	}
	return nil
}

// Open returns a reader over a cached preview.
func (p *PreviewCache) Open(ctx context.Context, trackKey string) (io.ReadCloser, error) {
	obj, err := p.client.GetObject(ctx, p.bucket, p.objectName(trackKey), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open preview: %w", err)
	}
	return obj, nil
}

// PresignedURL returns a short-lived direct URL for a cached preview.
func (p *PreviewCache) PresignedURL(ctx context.Context, trackKey string, expiry time.Duration) (string, error) {
	u, err := p.client.PresignedGetObject(ctx, p.bucket, p.objectName(trackKey), expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign preview url: %w", err)
	}
	return u.String(), nil
}
