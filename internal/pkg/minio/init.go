package minio

import (
	"Parley/internal/api/config"
	"context"
	"fmt"
	log "log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Storage 聊天附件存储
type Storage struct {
	client     *minio.Client
	bucket     string
	publicBase string
}

// New 初始化 MinIO 客户端，并确保主存储桶存在
func New(cfg config.MinIOConfig) (*Storage, error) {
	var endpoint string
	var useSSL bool
	if cfg.InternalEndpoint != "" {
		endpoint = cfg.InternalEndpoint
		useSSL = cfg.InternalUseSSL
	} else {
		endpoint = cfg.ExternalEndpoint
		useSSL = true
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MainBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to minio server: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MainBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.MainBucket, err)
		}
		log.Info("MinIO bucket created", "bucket", cfg.MainBucket)
	}

	external := cfg.ExternalEndpoint
	externalSSL := cfg.ExternalUseSSL
	if external == "" {
		external, externalSSL = endpoint, useSSL
	}
	protocol := "http"
	if externalSSL {
		protocol = "https"
	}

	return &Storage{
		client:     client,
		bucket:     cfg.MainBucket,
		publicBase: fmt.Sprintf("%s://%s/%s/", protocol, external, cfg.MainBucket),
	}, nil
}
