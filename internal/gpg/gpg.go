// Package gpg wraps symmetric gpg encryption as pipeline stages. Output is
// plain OpenPGP, so artifacts can be decrypted by hand with gpg alone.
package gpg

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/rowjay/postgres-backup-s3/internal/pipeline"
	"github.com/rowjay/postgres-backup-s3/internal/util"
)

const (
	StageEncrypt = "gpg-encrypt"
	StageDecrypt = "gpg-decrypt"
)

// passphraseFD is the descriptor the child sees for the first ExtraFiles entry.
const passphraseFD = "3"

var baseArgs = []string{
	"--batch", "--yes", "--quiet",
	"--pinentry-mode", "loopback",
	"--no-symkey-cache",
	"--passphrase-fd", passphraseFD,
}

func EncryptStage(passphrase string, log zerolog.Logger) pipeline.Stage {
	args := append(append([]string{}, baseArgs...), "--symmetric", "--cipher-algo", "AES256")
	return stage(StageEncrypt, passphrase, args, log)
}

func DecryptStage(passphrase string, log zerolog.Logger) pipeline.Stage {
	args := append(append([]string{}, baseArgs...), "--decrypt")
	return stage(StageDecrypt, passphrase, args, log)
}

// Validate checks gpg is installed.
func Validate() error {
	return util.RequireBinary("gpg")
}

func stage(name, passphrase string, args []string, log zerolog.Logger) pipeline.Stage {
	return pipeline.Stage{
		Name: name,
		Run: func(ctx context.Context, in io.Reader, out io.Writer) error {
			pr, pw, err := os.Pipe()
			if err != nil {
				return fmt.Errorf("passphrase pipe: %w", err)
			}
			defer pr.Close()

			cmd := util.Command(ctx, "gpg", args, nil)
			cmd.ExtraFiles = []*os.File{pr}

			// gpg reads the passphrase before touching stdin, and one line
			// fits in the pipe buffer, so the write cannot block.
			writeErr := make(chan error, 1)
			go func() {
				_, err := io.WriteString(pw, passphrase+"\n")
				if cerr := pw.Close(); err == nil {
					err = cerr
				}
				writeErr <- err
			}()

			runErr := pipeline.Exec(cmd, in, out, log.With().Str("stage", name).Logger())
			if runErr != nil {
				return runErr
			}
			if err := <-writeErr; err != nil {
				return fmt.Errorf("write passphrase: %w", err)
			}
			return nil
		},
	}
}
