package db

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/rowjay/postgres-backup-s3/internal/config"
	"github.com/rowjay/postgres-backup-s3/internal/pipeline"
	"github.com/rowjay/postgres-backup-s3/internal/util"
)

const (
	StageDump    = "pg_dump"
	StageRestore = "pg_restore"
)

type Postgres struct {
	cfg config.DatabaseConfig
	log zerolog.Logger
}

func NewPostgres(cfg config.DatabaseConfig, log zerolog.Logger) *Postgres {
	return &Postgres{cfg: cfg, log: log}
}

func (p *Postgres) Name() string { return "postgres" }

// Validate checks the client tools are installed.
func (p *Postgres) Validate(ctx context.Context) error {
	for _, bin := range []string{StageDump, StageRestore} {
		if err := util.RequireBinary(bin); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) connect(ctx context.Context) (*pgx.Conn, error) {
	connCfg, err := pgx.ParseConfig(p.url())
	if err != nil {
		return nil, fmt.Errorf("parse connection settings: %w", err)
	}
	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to %s:%d/%s: %w", p.cfg.Host, p.cfg.Port, p.cfg.Name, err)
	}
	return conn, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	conn, err := p.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())
	return conn.Ping(ctx)
}

// Size returns pg_database_size of the configured database in bytes.
func (p *Postgres) Size(ctx context.Context) (int64, error) {
	conn, err := p.connect(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close(context.Background())

	var size int64
	if err := conn.QueryRow(ctx, "SELECT pg_database_size($1)", p.cfg.Name).Scan(&size); err != nil {
		return 0, fmt.Errorf("query database size: %w", err)
	}
	return size, nil
}

// DumpStage writes a custom-format archive of the database to its output.
func (p *Postgres) DumpStage() pipeline.Stage {
	args := append([]string{"--format=custom"}, p.cfg.DumpExtraOpts...)
	args = append(args, p.cfg.Name)
	return pipeline.Command(StageDump, "pg_dump", args, buildPostgresEnv(p.cfg), p.log)
}

// RestoreStage replays a custom-format archive read from its input. Existing
// objects are dropped first and the whole restore runs in one transaction.
func (p *Postgres) RestoreStage() pipeline.Stage {
	args := []string{"--dbname", p.cfg.Name, "--clean", "--if-exists", "--single-transaction"}
	args = append(args, p.cfg.RestoreExtraOpts...)
	return pipeline.Command(StageRestore, "pg_restore", args, buildPostgresEnv(p.cfg), p.log)
}

func (p *Postgres) url() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(p.cfg.Host, portOrDefault(p.cfg.Port, 5432)),
		Path:   "/" + p.cfg.Name,
	}
	switch {
	case p.cfg.User != "" && p.cfg.Password != "":
		u.User = url.UserPassword(p.cfg.User, p.cfg.Password)
	case p.cfg.User != "":
		u.User = url.User(p.cfg.User)
	}
	return u.String()
}

func buildPostgresEnv(cfg config.DatabaseConfig) []string {
	env := []string{
		"PGHOST=" + cfg.Host,
		"PGPORT=" + portOrDefault(cfg.Port, 5432),
		"PGDATABASE=" + cfg.Name,
	}
	if cfg.User != "" {
		env = append(env, "PGUSER="+cfg.User)
	}
	if cfg.Password != "" {
		env = append(env, "PGPASSWORD="+cfg.Password)
	}
	return env
}

func portOrDefault(port int, def int) string {
	if port == 0 {
		return strconv.Itoa(def)
	}
	return strconv.Itoa(port)
}
