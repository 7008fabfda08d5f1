package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/spf13/viper"
)

// Environment variable names.
const (
	EnvPostgresHost       = "POSTGRES_HOST"
	EnvPostgresPort       = "POSTGRES_PORT"
	EnvPostgresUser       = "POSTGRES_USER"
	EnvPostgresPassword   = "POSTGRES_PASSWORD"
	EnvPostgresDatabase   = "POSTGRES_DATABASE"
	EnvDumpExtraOpts      = "PGDUMP_EXTRA_OPTS"
	EnvRestoreExtraOpts   = "PGRESTORE_EXTRA_OPTS"
	EnvS3AccessKey        = "S3_ACCESS_KEY_ID"
	EnvS3SecretKey        = "S3_SECRET_ACCESS_KEY"
	EnvS3Bucket           = "S3_BUCKET"
	EnvS3Region           = "S3_REGION"
	EnvS3Path             = "S3_PATH"
	EnvS3Endpoint         = "S3_ENDPOINT"
	EnvS3V4               = "S3_S3V4"
	EnvStorageBackend     = "STORAGE_BACKEND"
	EnvLocalPath          = "LOCAL_BACKUP_PATH"
	EnvSchedule           = "SCHEDULE"
	EnvPassphrase         = "PASSPHRASE"
	EnvKeepDays           = "BACKUP_KEEP_DAYS"
	EnvProgressInterval   = "PV_INTERVAL_SEC"
	EnvBackupPre          = "BACKUP_PRE_COMMAND"
	EnvBackupPostSuccess  = "BACKUP_POST_SUCCESS_COMMAND"
	EnvBackupPostFailure  = "BACKUP_POST_FAILURE_COMMAND"
	EnvRestorePre         = "RESTORE_PRE_COMMAND"
	EnvRestorePostSuccess = "RESTORE_POST_SUCCESS_COMMAND"
	EnvRestorePostFailure = "RESTORE_POST_FAILURE_COMMAND"
	EnvLogLevel           = "LOG_LEVEL"
	EnvLogFormat          = "LOG_FORMAT"
	EnvLockFile           = "LOCK_FILE"
	EnvNotifyWebhook      = "NOTIFY_WEBHOOK_URL"
)

var bindings = map[string]string{
	"database.host":               EnvPostgresHost,
	"database.port":               EnvPostgresPort,
	"database.user":               EnvPostgresUser,
	"database.password":           EnvPostgresPassword,
	"database.name":               EnvPostgresDatabase,
	"database.dump_extra_opts":    EnvDumpExtraOpts,
	"database.restore_extra_opts": EnvRestoreExtraOpts,
	"storage.s3.access_key":       EnvS3AccessKey,
	"storage.s3.secret_key":       EnvS3SecretKey,
	"storage.s3.bucket":           EnvS3Bucket,
	"storage.s3.region":           EnvS3Region,
	"storage.prefix":              EnvS3Path,
	"storage.s3.endpoint":         EnvS3Endpoint,
	"storage.s3.s3v4":             EnvS3V4,
	"storage.backend":             EnvStorageBackend,
	"storage.local.path":          EnvLocalPath,
	"schedule":                    EnvSchedule,
	"backup.passphrase":           EnvPassphrase,
	"backup.keep_days":            EnvKeepDays,
	"global.progress_interval":    EnvProgressInterval,
	"hooks.backup.pre":            EnvBackupPre,
	"hooks.backup.post_success":   EnvBackupPostSuccess,
	"hooks.backup.post_failure":   EnvBackupPostFailure,
	"hooks.restore.pre":           EnvRestorePre,
	"hooks.restore.post_success":  EnvRestorePostSuccess,
	"hooks.restore.post_failure":  EnvRestorePostFailure,
	"global.log_level":            EnvLogLevel,
	"global.log_format":           EnvLogFormat,
	"global.lock_file":            EnvLockFile,
	"notify.webhook_url":          EnvNotifyWebhook,
}

// Load resolves the environment into a validated Config.
func Load() (*Config, error) {
	vp := viper.New()
	for key, env := range bindings {
		if err := vp.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}
	setDefaults(vp)
	return parse(vp)
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("database.port", "5432")
	vp.SetDefault("storage.s3.region", "us-west-1")
	vp.SetDefault("storage.prefix", "backup")
	vp.SetDefault("storage.s3.s3v4", "no")
	vp.SetDefault("storage.backend", BackendS3)
	vp.SetDefault("storage.local.path", "./backups")
	vp.SetDefault("global.progress_interval", "5")
	vp.SetDefault("global.log_level", "info")
	vp.SetDefault("global.log_format", "console")
}

func parse(vp *viper.Viper) (*Config, error) {
	var errs []error
	fail := func(field, reason string) {
		errs = append(errs, &Error{Field: field, Reason: reason})
	}

	cfg := &Config{
		Global: GlobalConfig{
			LogLevel:  vp.GetString("global.log_level"),
			LogFormat: vp.GetString("global.log_format"),
			LockFile:  vp.GetString("global.lock_file"),
		},
		Database: DatabaseConfig{
			Host:     strings.TrimSpace(vp.GetString("database.host")),
			User:     vp.GetString("database.user"),
			Password: vp.GetString("database.password"),
			Name:     strings.TrimSpace(vp.GetString("database.name")),
		},
		Backup: BackupConfig{
			Passphrase: vp.GetString("backup.passphrase"),
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(strings.TrimSpace(vp.GetString("storage.backend"))),
			Prefix:  strings.Trim(vp.GetString("storage.prefix"), "/"),
			S3: S3Store{
				Endpoint:  strings.TrimSpace(vp.GetString("storage.s3.endpoint")),
				Region:    vp.GetString("storage.s3.region"),
				Bucket:    strings.TrimSpace(vp.GetString("storage.s3.bucket")),
				AccessKey: vp.GetString("storage.s3.access_key"),
				SecretKey: vp.GetString("storage.s3.secret_key"),
			},
			Local: LocalStore{Path: vp.GetString("storage.local.path")},
		},
		Hooks: HooksConfig{
			Backup: HookSet{
				Pre:         vp.GetString("hooks.backup.pre"),
				PostSuccess: vp.GetString("hooks.backup.post_success"),
				PostFailure: vp.GetString("hooks.backup.post_failure"),
			},
			Restore: HookSet{
				Pre:         vp.GetString("hooks.restore.pre"),
				PostSuccess: vp.GetString("hooks.restore.post_success"),
				PostFailure: vp.GetString("hooks.restore.post_failure"),
			},
		},
		Notify:   NotifyConfig{WebhookURL: strings.TrimSpace(vp.GetString("notify.webhook_url"))},
		Schedule: vp.GetString("schedule"),
	}

	port, err := strconv.Atoi(strings.TrimSpace(vp.GetString("database.port")))
	if err != nil || port < 1 || port > 65535 {
		fail(EnvPostgresPort, fmt.Sprintf("must be a TCP port, got %q", vp.GetString("database.port")))
	}
	cfg.Database.Port = port

	if cfg.Database.DumpExtraOpts, err = splitOpts(vp.GetString("database.dump_extra_opts")); err != nil {
		fail(EnvDumpExtraOpts, err.Error())
	}
	if cfg.Database.RestoreExtraOpts, err = splitOpts(vp.GetString("database.restore_extra_opts")); err != nil {
		fail(EnvRestoreExtraOpts, err.Error())
	}

	if cfg.Backup.KeepDays, err = nonNegativeInt(vp.GetString("backup.keep_days")); err != nil {
		fail(EnvKeepDays, err.Error())
	}
	secs, err := nonNegativeInt(vp.GetString("global.progress_interval"))
	if err != nil {
		fail(EnvProgressInterval, err.Error())
	}
	cfg.Global.ProgressInterval = time.Duration(secs) * time.Second

	if cfg.Storage.S3.ForcePathStyle, err = parseYesNo(vp.GetString("storage.s3.s3v4")); err != nil {
		fail(EnvS3V4, err.Error())
	}

	errs = append(errs, validate(cfg)...)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.Database.Host == "" {
		errs = append(errs, &Error{Field: EnvPostgresHost, Reason: "is required"})
	}
	if cfg.Database.Name == "" {
		errs = append(errs, &Error{Field: EnvPostgresDatabase, Reason: "is required"})
	}
	switch cfg.Storage.Backend {
	case BackendS3:
		if cfg.Storage.S3.Bucket == "" {
			errs = append(errs, &Error{Field: EnvS3Bucket, Reason: "is required"})
		}
		if cfg.Storage.S3.Endpoint != "" {
			u, err := url.Parse(cfg.Storage.S3.Endpoint)
			if err != nil || u.Host == "" {
				errs = append(errs, &Error{Field: EnvS3Endpoint, Reason: fmt.Sprintf("must be a URL like https://host:port, got %q", cfg.Storage.S3.Endpoint)})
			}
		}
	case BackendLocal:
		if cfg.Storage.Local.Path == "" {
			errs = append(errs, &Error{Field: EnvLocalPath, Reason: "is required"})
		}
	default:
		errs = append(errs, &Error{Field: EnvStorageBackend, Reason: fmt.Sprintf("must be %q or %q, got %q", BackendS3, BackendLocal, cfg.Storage.Backend)})
	}
	return errs
}

func splitOpts(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	args, err := shellwords.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("cannot be split into arguments: %w", err)
	}
	return args, nil
}

func nonNegativeInt(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("must be a non-negative integer, got %q", raw)
	}
	return n, nil
}

func parseYesNo(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "true", "1", "on":
		return true, nil
	case "no", "false", "0", "off", "":
		return false, nil
	default:
		return false, fmt.Errorf("must be yes or no, got %q", raw)
	}
}
