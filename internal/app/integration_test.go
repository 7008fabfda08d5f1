//go:build integration

package app_test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/postgres-backup-s3/internal/app"
	"github.com/rowjay/postgres-backup-s3/internal/config"
	"github.com/rowjay/postgres-backup-s3/internal/db"
	"github.com/rowjay/postgres-backup-s3/internal/storage"
	"github.com/rowjay/postgres-backup-s3/internal/testinfra"
)

const testDB = "testdb"

type row struct {
	ID    int
	Name  string
	Value int
}

var seedRows = []row{{1, "test1", 100}, {2, "test2", 200}, {3, "test3", 300}}

func setupEnv(t *testing.T, ctx context.Context, passphrase string) *config.Config {
	t.Helper()
	testinfra.SkipIfNoDocker(t)
	testinfra.SkipIfMissing(t, "pg_dump", "pg_restore", "gpg")
	t.Setenv("GNUPGHOME", t.TempDir())

	pg := testinfra.StartPostgres(t, ctx, testDB)
	s3 := testinfra.StartMinIO(t, ctx, "backups")

	t.Setenv(config.EnvPostgresHost, pg.Host)
	t.Setenv(config.EnvPostgresPort, strconv.Itoa(pg.Port))
	t.Setenv(config.EnvPostgresUser, testinfra.PostgresUser)
	t.Setenv(config.EnvPostgresPassword, testinfra.PostgresPassword)
	t.Setenv(config.EnvPostgresDatabase, testDB)
	t.Setenv(config.EnvS3Endpoint, s3.Endpoint)
	t.Setenv(config.EnvS3Bucket, s3.Bucket)
	t.Setenv(config.EnvS3AccessKey, testinfra.MinIOAccessKey)
	t.Setenv(config.EnvS3SecretKey, testinfra.MinIOSecretKey)
	t.Setenv(config.EnvS3Region, "us-east-1")
	t.Setenv(config.EnvS3V4, "yes")
	t.Setenv(config.EnvPassphrase, passphrase)
	t.Setenv(config.EnvProgressInterval, "1")

	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func newApp(t *testing.T, cfg *config.Config) *app.App {
	t.Helper()
	log := zerolog.New(zerolog.NewTestWriter(t))
	store, err := storage.New(cfg.Storage)
	require.NoError(t, err)
	return app.New(cfg, db.NewPostgres(cfg.Database, log), store, log, nil)
}

func connect(t *testing.T, ctx context.Context, cfg *config.Config) *pgx.Conn {
	t.Helper()
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s", cfg.Database.User, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)
	conn, err := pgx.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(context.Background()) })
	return conn
}

func seed(t *testing.T, ctx context.Context, conn *pgx.Conn) {
	t.Helper()
	_, err := conn.Exec(ctx, `CREATE TABLE test_table (id integer PRIMARY KEY, name text NOT NULL, value integer NOT NULL)`)
	require.NoError(t, err)
	for _, r := range seedRows {
		_, err := conn.Exec(ctx, `INSERT INTO test_table (id, name, value) VALUES ($1, $2, $3)`, r.ID, r.Name, r.Value)
		require.NoError(t, err)
	}
}

func readRows(t *testing.T, ctx context.Context, conn *pgx.Conn) []row {
	t.Helper()
	rows, err := conn.Query(ctx, `SELECT id, name, value FROM test_table ORDER BY id`)
	require.NoError(t, err)
	out, err := pgx.CollectRows(rows, pgx.RowToStructByPos[row])
	require.NoError(t, err)
	return out
}

func tableExists(t *testing.T, ctx context.Context, conn *pgx.Conn) bool {
	t.Helper()
	var exists bool
	require.NoError(t, conn.QueryRow(ctx, `SELECT to_regclass('public.test_table') IS NOT NULL`).Scan(&exists))
	return exists
}

func TestRoundTripPlain(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cfg := setupEnv(t, ctx, "")
	conn := connect(t, ctx, cfg)
	seed(t, ctx, conn)

	svc := newApp(t, cfg)
	require.NoError(t, svc.Validate(ctx))

	res, err := svc.Backup(ctx)
	require.NoError(t, err)
	assert.Regexp(t, `^backup/testdb_\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.dump$`, res.Key)

	_, err = conn.Exec(ctx, `DROP TABLE test_table`)
	require.NoError(t, err)

	require.NoError(t, svc.Restore(ctx, ""))
	assert.Equal(t, seedRows, readRows(t, ctx, conn))

	items, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, res.Key, items[0].Key)
}

func TestRoundTripEncrypted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cfg := setupEnv(t, ctx, "test_passphrase_123")
	conn := connect(t, ctx, cfg)
	seed(t, ctx, conn)

	svc := newApp(t, cfg)
	res, err := svc.Backup(ctx)
	require.NoError(t, err)
	assert.Regexp(t, `\.dump\.gpg$`, res.Key)

	_, err = conn.Exec(ctx, `DROP TABLE test_table`)
	require.NoError(t, err)

	wrong := *cfg
	wrong.Backup.Passphrase = "not_the_passphrase"
	err = newApp(t, &wrong).Restore(ctx, "")
	require.Error(t, err)
	var se *app.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "gpg-decrypt", se.Stage)
	assert.False(t, tableExists(t, ctx, conn))

	require.NoError(t, svc.Restore(ctx, ""))
	assert.Equal(t, seedRows, readRows(t, ctx, conn))
}

func TestRestoreMissingTimestamp(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cfg := setupEnv(t, ctx, "")
	conn := connect(t, ctx, cfg)
	seed(t, ctx, conn)

	err := newApp(t, cfg).Restore(ctx, "2001-01-01T00:00:00")
	require.ErrorIs(t, err, app.ErrNoBackupFound)
	assert.NotZero(t, app.ExitCode(err))
	assert.Equal(t, seedRows, readRows(t, ctx, conn))
}
