package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rowjay/postgres-backup-s3/internal/config"
	"github.com/rowjay/postgres-backup-s3/internal/db"
	"github.com/rowjay/postgres-backup-s3/internal/gpg"
	"github.com/rowjay/postgres-backup-s3/internal/hooks"
	"github.com/rowjay/postgres-backup-s3/internal/notify"
	"github.com/rowjay/postgres-backup-s3/internal/pipeline"
	"github.com/rowjay/postgres-backup-s3/internal/storage"
	"github.com/rowjay/postgres-backup-s3/internal/util"
)

type App struct {
	Cfg      *config.Config
	DB       db.Adapter
	Storage  storage.Storage
	Hooks    *hooks.Runner
	Log      zerolog.Logger
	Notifier notify.Notifier

	Now     func() time.Time
	Encrypt func(passphrase string, log zerolog.Logger) pipeline.Stage
	Decrypt func(passphrase string, log zerolog.Logger) pipeline.Stage
}

func New(cfg *config.Config, adapter db.Adapter, store storage.Storage, log zerolog.Logger, notifier notify.Notifier) *App {
	return &App{
		Cfg:      cfg,
		DB:       adapter,
		Storage:  store,
		Hooks:    hooks.NewRunner(log),
		Log:      log,
		Notifier: notifier,
		Now:      time.Now,
		Encrypt:  gpg.EncryptStage,
		Decrypt:  gpg.DecryptStage,
	}
}

// run carries per-invocation identity through logs, hooks and notifications.
type run struct {
	id    string
	kind  string
	start time.Time
	log   zerolog.Logger
}

func (a *App) newRun(kind string) run {
	id := uuid.NewString()
	return run{
		id:    id,
		kind:  kind,
		start: a.Now(),
		log:   a.Log.With().Str("run_id", id).Str("op", kind).Str("database", a.Cfg.Database.Name).Logger(),
	}
}

func (a *App) prefix() string {
	return a.Cfg.Storage.Prefix
}

func (a *App) runHook(ctx context.Context, r run, name, command string, env map[string]string) hooks.Outcome {
	runner := a.Hooks
	if runner == nil {
		runner = hooks.NewRunner(r.log)
	}
	scoped := *runner
	scoped.Log = r.log
	return scoped.Run(ctx, name, command, env)
}

// postHook runs the success or failure hook of set. It ignores cancellation of
// ctx so that an interrupted run still reports through its failure hook.
func (a *App) postHook(ctx context.Context, r run, set config.HookSet, key string, err error) {
	ctx = context.WithoutCancel(ctx)
	if err == nil {
		env := map[string]string{}
		if key != "" {
			env[hooks.EnvBackupKey] = key
		}
		a.runHook(ctx, r, "post-"+r.kind+"-success", set.PostSuccess, env)
		return
	}
	a.runHook(ctx, r, "post-"+r.kind+"-failure", set.PostFailure, failureEnv(err))
}

func (a *App) notify(ctx context.Context, r run, key string, err error) {
	if a.Notifier == nil {
		return
	}
	end := a.Now()
	event := notify.Event{
		RunID:     r.id,
		Type:      r.kind,
		Status:    statusFromErr(err),
		Database:  a.Cfg.Database.Name,
		Key:       key,
		StartedAt: r.start,
		EndedAt:   end,
		Duration:  end.Sub(r.start).String(),
		ExitCode:  ExitCode(err),
	}
	if err != nil {
		event.Error = err.Error()
		var se *StageError
		if errors.As(err, &se) {
			event.Stage = se.Stage
		}
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if nerr := a.Notifier.Notify(nctx, event); nerr != nil {
		r.log.Warn().Err(nerr).Msg("notification failed")
	}
}

func (a *App) withProgress(stages []pipeline.Stage, log zerolog.Logger) []pipeline.Stage {
	if a.Cfg.Global.ProgressInterval <= 0 {
		return stages
	}
	return append(stages, pipeline.Progress(a.Cfg.Global.ProgressInterval, log))
}

func (a *App) objectKey(when time.Time) string {
	return util.BuildObjectKey(a.prefix(), a.Cfg.Database.Name, when, a.Cfg.Backup.Encrypted())
}

func statusFromErr(err error) string {
	if err == nil {
		return "success"
	}
	return "failed"
}
