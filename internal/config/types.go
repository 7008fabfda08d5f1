package config

import (
	"fmt"
	"time"
)

// Config is the runtime configuration for one invocation. It is built once by Load
// and passed by value; nothing downstream reads the environment directly.
type Config struct {
	Global   GlobalConfig
	Database DatabaseConfig
	Backup   BackupConfig
	Storage  StorageConfig
	Hooks    HooksConfig
	Notify   NotifyConfig
	// Schedule is consumed by the external scheduler; kept for reporting only.
	Schedule string
}

type GlobalConfig struct {
	LogLevel         string
	LogFormat        string // json or console
	LockFile         string
	ProgressInterval time.Duration
}

type DatabaseConfig struct {
	Host             string
	Port             int
	User             string
	Password         string
	Name             string
	DumpExtraOpts    []string
	RestoreExtraOpts []string
}

type BackupConfig struct {
	Passphrase string
	KeepDays   int
}

// Encrypted reports whether artifacts are gpg-encrypted. This is the single
// switch behind the .dump / .dump.gpg suffix.
func (b BackupConfig) Encrypted() bool {
	return b.Passphrase != ""
}

const (
	BackendS3    = "s3"
	BackendLocal = "local"
)

type StorageConfig struct {
	Backend string
	Prefix  string
	S3      S3Store
	Local   LocalStore
}

type S3Store struct {
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
}

type LocalStore struct {
	Path string
}

// HookSet holds the operator commands around one operation.
type HookSet struct {
	Pre         string
	PostSuccess string
	PostFailure string
}

type HooksConfig struct {
	Backup  HookSet
	Restore HookSet
}

type NotifyConfig struct {
	WebhookURL string
}

// Error is a configuration problem tied to one environment variable.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s %s", e.Field, e.Reason)
}
