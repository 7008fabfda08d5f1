package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rowjay/postgres-backup-s3/internal/hooks"
	"github.com/rowjay/postgres-backup-s3/internal/lock"
	"github.com/rowjay/postgres-backup-s3/internal/pipeline"
	"github.com/rowjay/postgres-backup-s3/internal/storage"
)

// MultipartThreshold is the database size above which uploads carry an
// expected size, so the part size grows enough to stay under 10,000 parts.
const MultipartThreshold int64 = 53_687_091_200

type BackupResult struct {
	Key          string
	DatabaseSize int64
	ExpectedSize int64
	Sweep        *SweepReport
	Duration     time.Duration
}

// Backup streams pg_dump through optional encryption into storage, then
// applies retention. Hook outcomes never change the returned error.
func (a *App) Backup(ctx context.Context) (*BackupResult, error) {
	guard, err := lock.Acquire(a.Cfg.Global.LockFile)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	r := a.newRun("backup")
	set := a.Cfg.Hooks.Backup

	if a.runHook(ctx, r, "pre-backup", set.Pre, nil) == hooks.Failed {
		r.log.Warn().Msg("pre-backup hook failed, continuing")
	}

	result, err := a.backup(ctx, r)
	key := ""
	if result != nil {
		key = result.Key
	}
	if err != nil {
		r.log.Error().Err(err).Int("exit_code", ExitCode(err)).Msg("backup failed")
	}
	a.postHook(ctx, r, set, key, err)
	a.notify(ctx, r, key, err)
	return result, err
}

func (a *App) backup(ctx context.Context, r run) (*BackupResult, error) {
	r.log.Info().Msg("querying database size")
	size, err := a.DB.Size(ctx)
	if err != nil {
		return nil, pipeline.NewStageError(StageSizeQuery, err)
	}
	if size < 0 {
		return nil, pipeline.NewStageError(StageSizeQuery, fmt.Errorf("database size is negative: %d", size))
	}
	if size == 0 {
		r.log.Warn().Msg("database size reported as 0 bytes")
	}
	r.log.Info().Int64("bytes", size).Str("size", humanize.IBytes(uint64(size))).Msg("database size")

	opts := storage.PutOptions{Metadata: map[string]string{"run-id": r.id}}
	if size > MultipartThreshold {
		opts.ExpectedSize = size
		r.log.Info().Int64("expected_size", size).Msg("database exceeds multipart threshold, declaring expected size")
	}

	key := a.objectKey(a.Now())
	result := &BackupResult{Key: key, DatabaseSize: size, ExpectedSize: opts.ExpectedSize}
	log := r.log.With().Str("key", key).Logger()

	stages := []pipeline.Stage{a.DB.DumpStage()}
	stages = a.withProgress(stages, log)
	if a.Cfg.Backup.Encrypted() {
		stages = append(stages, a.Encrypt(a.Cfg.Backup.Passphrase, log))
	}
	stages = append(stages, a.uploadStage(key, opts))

	log.Info().Bool("encrypted", a.Cfg.Backup.Encrypted()).Msg("starting backup transfer")
	start := a.Now()
	if err := pipeline.Run(ctx, stages...); err != nil {
		return nil, err
	}
	result.Duration = a.Now().Sub(start)
	log.Info().Dur("duration", result.Duration).Msg("backup uploaded")

	if a.Cfg.Backup.KeepDays > 0 {
		report := a.Sweep(ctx, a.Now())
		result.Sweep = &report
	}
	return result, nil
}

func (a *App) uploadStage(key string, opts storage.PutOptions) pipeline.Stage {
	return pipeline.Stage{
		Name: StageUpload,
		Run: func(ctx context.Context, in io.Reader, _ io.Writer) error {
			return a.Storage.Put(ctx, key, in, opts)
		},
	}
}
