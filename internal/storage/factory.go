package storage

import (
	"fmt"

	"github.com/rowjay/postgres-backup-s3/internal/config"
)

func New(cfg config.StorageConfig) (Storage, error) {
	switch cfg.Backend {
	case config.BackendLocal:
		return NewLocal(cfg.Local.Path), nil
	case config.BackendS3, "":
		return NewS3(cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}
