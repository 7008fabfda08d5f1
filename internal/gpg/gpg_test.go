package gpg

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/postgres-backup-s3/internal/pipeline"
)

func requireGPG(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("gpg"); err != nil {
		t.Skip("gpg not available")
	}
	t.Setenv("GNUPGHOME", t.TempDir())
}

func source(data []byte) pipeline.Stage {
	return pipeline.Stage{Name: "source", Run: func(_ context.Context, _ io.Reader, out io.Writer) error {
		_, err := out.Write(data)
		return err
	}}
}

func sink(buf *bytes.Buffer) pipeline.Stage {
	return pipeline.Stage{Name: "sink", Run: func(_ context.Context, in io.Reader, _ io.Writer) error {
		_, err := io.Copy(buf, in)
		return err
	}}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	requireGPG(t)
	log := zerolog.Nop()
	plain := []byte(strings.Repeat("PGDMP custom archive bytes\n", 4096))

	var cipher bytes.Buffer
	require.NoError(t, pipeline.Run(context.Background(), source(plain), EncryptStage("test_passphrase_123", log), sink(&cipher)))
	assert.NotContains(t, cipher.String(), "PGDMP")

	var out bytes.Buffer
	require.NoError(t, pipeline.Run(context.Background(), source(cipher.Bytes()), DecryptStage("test_passphrase_123", log), sink(&out)))
	assert.Equal(t, plain, out.Bytes())
}

func TestDecryptWrongPassphraseFails(t *testing.T) {
	requireGPG(t)
	log := zerolog.Nop()

	var cipher bytes.Buffer
	require.NoError(t, pipeline.Run(context.Background(), source([]byte("secret rows")), EncryptStage("right", log), sink(&cipher)))

	var out bytes.Buffer
	err := pipeline.Run(context.Background(), source(cipher.Bytes()), DecryptStage("wrong", log), sink(&out))
	require.Error(t, err)

	var se *pipeline.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageDecrypt, se.Stage)
	assert.NotZero(t, se.Code)
	assert.NotContains(t, out.String(), "secret rows")
}

func TestStageArgs(t *testing.T) {
	assert.Equal(t, StageEncrypt, EncryptStage("x", zerolog.Nop()).Name)
	assert.Equal(t, StageDecrypt, DecryptStage("x", zerolog.Nop()).Name)
	assert.Subset(t, baseArgs, []string{"--batch", "--pinentry-mode", "loopback", "--passphrase-fd", passphraseFD})
}
