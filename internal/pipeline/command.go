package pipeline

import (
	"context"
	"io"
	"os/exec"

	"github.com/rs/zerolog"

	"github.com/rowjay/postgres-backup-s3/internal/logging"
	"github.com/rowjay/postgres-backup-s3/internal/util"
)

// Command runs an external program as a stage. Its stderr goes to log at warn,
// one event per line.
func Command(name, path string, args []string, env []string, log zerolog.Logger) Stage {
	return Stage{
		Name: name,
		Run: func(ctx context.Context, in io.Reader, out io.Writer) error {
			cmd := util.Command(ctx, path, args, env)
			return Exec(cmd, in, out, log.With().Str("stage", name).Logger())
		},
	}
}

// Exec wires a prepared command to the stage streams and runs it to completion.
func Exec(cmd *exec.Cmd, in io.Reader, out io.Writer, log zerolog.Logger) error {
	if in != nil {
		cmd.Stdin = in
	}
	cmd.Stdout = out
	stderr := logging.NewLineWriter(log, zerolog.WarnLevel)
	cmd.Stderr = stderr
	defer stderr.Close()

	log.Debug().Str("cmd", cmd.Path).Strs("args", cmd.Args[1:]).Msg("starting process")
	return cmd.Run()
}
