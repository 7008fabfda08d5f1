package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rowjay/postgres-backup-s3/internal/app"
	"github.com/rowjay/postgres-backup-s3/internal/config"
	"github.com/rowjay/postgres-backup-s3/internal/db"
	"github.com/rowjay/postgres-backup-s3/internal/logging"
	"github.com/rowjay/postgres-backup-s3/internal/notify"
	"github.com/rowjay/postgres-backup-s3/internal/storage"
	"github.com/rowjay/postgres-backup-s3/internal/util"
	"github.com/rowjay/postgres-backup-s3/internal/version"
)

type rootFlags struct {
	LogLevel  string
	LogFormat string
	Storage   string
	LocalPath string
}

func main() {
	root := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "pg-backup-s3",
		Short:         "Stream PostgreSQL backups to S3 and restore them",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&root.LogLevel, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&root.LogFormat, "log-format", "", "Log format (json, console); overrides LOG_FORMAT")
	rootCmd.PersistentFlags().StringVar(&root.Storage, "storage", "", "Storage backend (s3, local); overrides STORAGE_BACKEND")
	rootCmd.PersistentFlags().StringVar(&root.LocalPath, "storage-path", "", "Local storage path; overrides LOCAL_BACKUP_PATH")

	rootCmd.AddCommand(newBackupCmd(root))
	rootCmd.AddCommand(newRestoreCmd(root))
	rootCmd.AddCommand(newListCmd(root))
	rootCmd.AddCommand(newValidateCmd(root))
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(app.ExitCode(err))
	}
}

func newBackupCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Dump the database and upload it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, logger, err := setup(root)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(logger)
			defer cancel()

			res, err := svc.Backup(ctx)
			if err != nil {
				return err
			}
			logger.Info().Str("key", res.Key).Dur("duration", res.Duration).Msg("backup completed")
			return nil
		},
	}
}

func newRestoreCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restore [TIMESTAMP]",
		Short: "Restore the latest backup, or the one taken at TIMESTAMP (" + util.TimestampLayout + ")",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			timestamp := ""
			if len(args) == 1 {
				timestamp = args[0]
			}
			svc, logger, err := setup(root)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(logger)
			defer cancel()

			if err := svc.Restore(ctx, timestamp); err != nil {
				return err
			}
			logger.Info().Msg("restore completed")
			return nil
		},
	}
}

func newListCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backups of the configured database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, logger, err := setup(root)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(logger)
			defer cancel()

			items, err := svc.List(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("list failed")
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tSIZE\tMODIFIED\tENCRYPTED")
			for _, item := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", item.Key, humanize.IBytes(uint64(item.Size)), item.Modified.UTC().Format(time.RFC3339), item.Encrypted)
			}
			return w.Flush()
		},
	}
}

func newValidateCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check configuration, tools, database and storage access",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, logger, err := setup(root)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(logger)
			defer cancel()

			if err := svc.Validate(ctx); err != nil {
				logger.Error().Err(err).Msg("validation failed")
				return err
			}
			logger.Info().
				Str("database", svc.Cfg.Database.Name).
				Str("host", svc.Cfg.Database.Host).
				Str("backend", svc.Cfg.Storage.Backend).
				Str("prefix", svc.Cfg.Storage.Prefix).
				Bool("encrypted", svc.Cfg.Backup.Encrypted()).
				Int("keep_days", svc.Cfg.Backup.KeepDays).
				Str("schedule", svc.Cfg.Schedule).
				Msg("validation succeeded")
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pg-backup-s3 %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

func setup(root *rootFlags) (*app.App, zerolog.Logger, error) {
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat)
	store, err := storage.New(cfg.Storage)
	if err != nil {
		logger.Error().Err(err).Msg("storage setup failed")
		return nil, logger, err
	}
	adapter := db.NewPostgres(cfg.Database, logger)
	return app.New(cfg, adapter, store, logger, notify.FromConfig(cfg.Notify)), logger, nil
}

func loadConfig(root *rootFlags) (*config.Config, error) {
	if root.Storage != "" {
		os.Setenv(config.EnvStorageBackend, root.Storage)
	}
	if root.LocalPath != "" {
		os.Setenv(config.EnvLocalPath, root.LocalPath)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if root.LogLevel != "" {
		cfg.Global.LogLevel = root.LogLevel
	}
	if root.LogFormat != "" {
		cfg.Global.LogFormat = root.LogFormat
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM, which kills the running
// pipeline stages.
func signalContext(logger zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
