package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/siteinspect/apiserver/config"
)

const reportKeyPrefix = "reports"

// New builds the gateway for the configured backend.
func New(ctx context.Context, cfg config.StorageConfig) (*Gateway, error) {
	var (
		backend ObjectStorage
		baseURL string
	)
	switch cfg.Backend {
	case config.StorageBackendMinio:
		client, err := NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, err
		}
		backend, baseURL = client, client.BaseURL()
	case config.StorageBackendGCS:
		client, err := NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, err
		}
		backend, baseURL = client, client.BaseURL()
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	if strings.TrimSpace(cfg.PublicBaseURL) != "" {
		baseURL = cfg.PublicBaseURL
	}
	return NewGateway(backend, baseURL, reportKeyPrefix), nil
}
