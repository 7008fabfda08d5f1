package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/rowjay/postgres-backup-s3/internal/hooks"
	"github.com/rowjay/postgres-backup-s3/internal/lock"
	"github.com/rowjay/postgres-backup-s3/internal/pipeline"
	"github.com/rowjay/postgres-backup-s3/internal/storage"
	"github.com/rowjay/postgres-backup-s3/internal/util"
)

// Restore replays the artifact taken at timestamp, or the latest one when
// timestamp is empty. Nothing touches the database until the artifact is known
// to exist.
func (a *App) Restore(ctx context.Context, timestamp string) error {
	guard, err := lock.Acquire(a.Cfg.Global.LockFile)
	if err != nil {
		return err
	}
	defer guard.Release()

	r := a.newRun("restore")
	set := a.Cfg.Hooks.Restore

	target, err := a.resolveTarget(ctx, timestamp)
	if err != nil {
		r.log.Error().Err(err).Msg("could not resolve backup to restore")
		a.postHook(ctx, r, set, "", err)
		a.notify(ctx, r, "", err)
		return err
	}
	r.log.Info().Str("key", target.Key).Time("taken", target.Taken).Msg("resolved backup")

	if a.runHook(ctx, r, "pre-restore", set.Pre, nil) == hooks.Failed {
		r.log.Warn().Msg("pre-restore hook failed, continuing")
	}

	err = a.restore(ctx, r, target)
	if err != nil {
		r.log.Error().Err(err).Int("exit_code", ExitCode(err)).Msg("restore failed")
	}
	a.postHook(ctx, r, set, target.Key, err)
	a.notify(ctx, r, target.Key, err)
	return err
}

func (a *App) restore(ctx context.Context, r run, target util.Artifact) error {
	log := r.log.With().Str("key", target.Key).Logger()

	stages := []pipeline.Stage{a.downloadStage(target.Key)}
	stages = a.withProgress(stages, log)
	if target.Encrypted {
		stages = append(stages, a.Decrypt(a.Cfg.Backup.Passphrase, log))
	}
	stages = append(stages, a.DB.RestoreStage())

	log.Info().Msg("starting restore transfer")
	start := a.Now()
	if err := pipeline.Run(ctx, stages...); err != nil {
		return err
	}
	log.Info().Dur("duration", a.Now().Sub(start)).Msg("restore complete")
	return nil
}

func (a *App) resolveTarget(ctx context.Context, timestamp string) (util.Artifact, error) {
	db := a.Cfg.Database.Name
	encrypted := a.Cfg.Backup.Encrypted()

	if timestamp != "" {
		when, err := util.ParseTimestamp(timestamp)
		if err != nil {
			return util.Artifact{}, pipeline.NewStageError(StageResolve,
				fmt.Errorf("timestamp %q does not match %s", timestamp, util.TimestampLayout))
		}
		key := util.BuildObjectKey(a.prefix(), db, when, encrypted)
		if _, err := a.Storage.Stat(ctx, key); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return util.Artifact{}, pipeline.NewStageError(StageResolve, fmt.Errorf("%w: %s", ErrNoBackupFound, key))
			}
			return util.Artifact{}, pipeline.NewStageError(StageResolve, fmt.Errorf("stat %s: %w", key, err))
		}
		return util.Artifact{Key: key, Taken: when, Encrypted: encrypted}, nil
	}

	artifacts, err := a.artifacts(ctx)
	if err != nil {
		return util.Artifact{}, pipeline.NewStageError(StageResolve, err)
	}
	if len(artifacts) == 0 {
		return util.Artifact{}, pipeline.NewStageError(StageResolve,
			fmt.Errorf("%w under %s", ErrNoBackupFound, util.ObjectPrefix(a.prefix(), db)))
	}
	latest := artifacts[len(artifacts)-1].Artifact
	if latest.Encrypted != encrypted {
		return util.Artifact{}, pipeline.NewStageError(StageResolve, fmt.Errorf("%w: %s", ErrEncryptionMismatch, latest.Key))
	}
	return latest, nil
}

// Listed is an artifact together with its storage attributes.
type Listed struct {
	util.Artifact
	Size     int64
	Modified time.Time
}

// artifacts lists this database's backups in key order, which is also
// chronological order. Objects that are not artifacts are skipped.
func (a *App) artifacts(ctx context.Context) ([]Listed, error) {
	prefix := util.ObjectPrefix(a.prefix(), a.Cfg.Database.Name)
	objects, err := a.Storage.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	var out []Listed
	for _, obj := range objects {
		art, ok := util.ParseObjectKey(a.prefix(), a.Cfg.Database.Name, obj.Key)
		if !ok {
			continue
		}
		out = append(out, Listed{Artifact: art, Size: obj.Size, Modified: obj.Modified})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (a *App) downloadStage(key string) pipeline.Stage {
	return pipeline.Stage{
		Name: StageDownload,
		Run: func(ctx context.Context, _ io.Reader, out io.Writer) error {
			rc, err := a.Storage.Get(ctx, key)
			if err != nil {
				return err
			}
			defer rc.Close()
			_, err = io.Copy(out, rc)
			return err
		},
	}
}
