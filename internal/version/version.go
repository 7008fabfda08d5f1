package version

// Set at build time with -ldflags "-X github.com/rowjay/postgres-backup-s3/internal/version.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
