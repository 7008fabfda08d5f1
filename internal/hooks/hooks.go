// Package hooks runs operator supplied shell commands around backup and restore.
// Hook failures are reported, never propagated.
package hooks

import (
	"context"
	"errors"
	"os/exec"
	"sort"

	"github.com/rs/zerolog"

	"github.com/rowjay/postgres-backup-s3/internal/logging"
	"github.com/rowjay/postgres-backup-s3/internal/util"
)

type Outcome int

const (
	NotConfigured Outcome = iota
	Succeeded
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "not_configured"
	}
}

// Environment variables handed to post hooks.
const (
	EnvExitCode    = "EXIT_CODE"
	EnvFailedStage = "FAILED_STAGE"
	EnvBackupKey   = "BACKUP_KEY"
)

type Runner struct {
	Shell string
	Log   zerolog.Logger
}

func NewRunner(log zerolog.Logger) *Runner {
	return &Runner{Shell: "sh", Log: log}
}

// Run executes command with `sh -c`. The command sees the process environment
// plus extraEnv. Output is logged line by line.
func (r *Runner) Run(ctx context.Context, name, command string, extraEnv map[string]string) Outcome {
	if command == "" {
		return NotConfigured
	}
	log := r.Log.With().Str("hook", name).Logger()
	log.Info().Msg("running hook")

	cmd := util.Command(ctx, r.Shell, []string{"-c", command}, envList(extraEnv))
	stdout := logging.NewLineWriter(log, zerolog.InfoLevel)
	stderr := logging.NewLineWriter(log, zerolog.WarnLevel)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	err := cmd.Run()
	stdout.Close()
	stderr.Close()

	if err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		log.Warn().Err(err).Int("exit_code", code).Msg("hook failed")
		return Failed
	}
	log.Info().Msg("hook succeeded")
	return Succeeded
}

func envList(extra map[string]string) []string {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
