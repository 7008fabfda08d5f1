package app

import (
	"errors"
	"strconv"

	"github.com/rowjay/postgres-backup-s3/internal/hooks"
	"github.com/rowjay/postgres-backup-s3/internal/pipeline"
)

// Stages that are not part of the byte stream.
const (
	StageSizeQuery = "size-query"
	StageResolve   = "resolve"
	StageUpload    = "upload"
	StageDownload  = "download"
)

var (
	ErrNoBackupFound      = errors.New("no backup found")
	ErrEncryptionMismatch = errors.New("backup encryption does not match PASSPHRASE")
)

// StageError names the step that failed a run.
type StageError = pipeline.StageError

// ExitCode is the process exit status for the result of a run.
func ExitCode(err error) int {
	return pipeline.ExitCode(err)
}

func failureEnv(err error) map[string]string {
	env := map[string]string{hooks.EnvExitCode: strconv.Itoa(ExitCode(err))}
	var se *StageError
	if errors.As(err, &se) {
		env[hooks.EnvFailedStage] = se.Stage
	}
	return env
}
