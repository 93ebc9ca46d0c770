package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DefaultPresignExpiry is used when Config.PresignExpiry is zero
const DefaultPresignExpiry = 24 * time.Hour

// ErrNotConfigured is returned when publishing is attempted without storage
var ErrNotConfigured = errors.New("object storage is not configured")

// Config holds S3-compatible storage settings
type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Region        string
	UseSSL        bool
	Prefix        string
	PresignExpiry time.Duration
}

// Publication describes an uploaded archive
type Publication struct {
	Bucket    string    `json:"bucket"`
	Object    string    `json:"object"`
	Size      int64     `json:"size"`
	ETag      string    `json:"etag"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Publisher uploads finished archives to object storage
type Publisher interface {
	Publish(ctx context.Context, localPath, objectName string) (*Publication, error)
}

// MinIOPublisher publishes through minio-go
type MinIOPublisher struct {
	client *minio.Client
	cfg    Config
	logger *slog.Logger
}

// NewMinIOPublisher creates a publisher. The bucket is created on first publish if missing.
func NewMinIOPublisher(cfg Config, logger *slog.Logger) (*MinIOPublisher, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, ErrNotConfigured
	}
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = DefaultPresignExpiry
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
		Transport: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			MaxIdleConns:    10,
			IdleConnTimeout: 90 * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinIOPublisher{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "storage"),
	}, nil
}

// Publish uploads localPath under the configured prefix and returns a presigned download URL
func (p *MinIOPublisher) Publish(ctx context.Context, localPath, objectName string) (*Publication, error) {
	if err := p.ensureBucket(ctx); err != nil {
		return nil, err
	}

	object := ObjectName(p.cfg.Prefix, objectName)
	info, err := p.client.FPutObject(ctx, p.cfg.Bucket, object, localPath, minio.PutObjectOptions{
		ContentType: contentType(object),
	})
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", object, err)
	}

	u, err := p.client.PresignedGetObject(ctx, p.cfg.Bucket, object, p.cfg.PresignExpiry, nil)
	if err != nil {
		return nil, fmt.Errorf("presign %s: %w", object, err)
	}

	p.logger.Info("archive published",
		"bucket", p.cfg.Bucket,
		"object", object,
		"size", info.Size,
	)

	return &Publication{
		Bucket:    p.cfg.Bucket,
		Object:    object,
		Size:      info.Size,
		ETag:      info.ETag,
		URL:       u.String(),
		ExpiresAt: time.Now().Add(p.cfg.PresignExpiry),
	}, nil
}

func (p *MinIOPublisher) ensureBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", p.cfg.Bucket, err)
	}
	if exists {
		return nil
	}
	if err := p.client.MakeBucket(ctx, p.cfg.Bucket, minio.MakeBucketOptions{Region: p.cfg.Region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", p.cfg.Bucket, err)
	}
	p.logger.Info("bucket created", "bucket", p.cfg.Bucket)
	return nil
}

// ObjectName joins prefix and name into a clean object key without a leading slash
func ObjectName(prefix, name string) string {
	key := path.Join("/", strings.Trim(prefix, "/"), name)
	return strings.TrimPrefix(key, "/")
}

func contentType(object string) string {
	switch strings.ToLower(path.Ext(object)) {
	case ".zip":
		return "application/zip"
	case ".json":
		return "application/json"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
