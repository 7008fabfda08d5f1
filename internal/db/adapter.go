package db

import (
	"context"

	"github.com/rowjay/postgres-backup-s3/internal/pipeline"
)

// Adapter is the database side of a backup: a size probe plus the dump and
// restore stages that bracket the stream.
type Adapter interface {
	Name() string
	Validate(ctx context.Context) error
	Ping(ctx context.Context) error
	Size(ctx context.Context) (int64, error)
	DumpStage() pipeline.Stage
	RestoreStage() pipeline.Stage
}
