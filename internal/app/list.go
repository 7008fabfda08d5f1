package app

import (
	"context"
	"fmt"

	"github.com/rowjay/postgres-backup-s3/internal/gpg"
	"github.com/rowjay/postgres-backup-s3/internal/util"
)

// List returns this database's backups, oldest first.
func (a *App) List(ctx context.Context) ([]Listed, error) {
	return a.artifacts(ctx)
}

// Validate checks tools, database connectivity and storage access without
// transferring anything.
func (a *App) Validate(ctx context.Context) error {
	if err := a.DB.Validate(ctx); err != nil {
		return err
	}
	if a.Cfg.Backup.Encrypted() {
		if err := gpg.Validate(); err != nil {
			return err
		}
	}
	if err := a.DB.Ping(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	prefix := util.ObjectPrefix(a.prefix(), a.Cfg.Database.Name)
	if _, err := a.Storage.List(ctx, prefix); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	return nil
}
