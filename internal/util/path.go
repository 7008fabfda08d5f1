package util

import (
	"strings"
	"time"
)

// TimestampLayout is the UTC timestamp embedded in every artifact key.
const TimestampLayout = "2006-01-02T15:04:05"

const (
	dumpSuffix = ".dump"
	gpgSuffix  = ".gpg"
)

// Artifact is a backup object identified by its key.
type Artifact struct {
	Key       string
	Taken     time.Time
	Encrypted bool
}

// BuildObjectKey returns {prefix}/{db}_{timestamp}.dump[.gpg].
func BuildObjectKey(prefix, db string, when time.Time, encrypted bool) string {
	key := ObjectPrefix(prefix, db) + when.UTC().Format(TimestampLayout) + dumpSuffix
	if encrypted {
		key += gpgSuffix
	}
	return key
}

// ObjectPrefix is the listing prefix shared by every artifact of one database.
func ObjectPrefix(prefix, db string) string {
	return PrefixDir(prefix) + db + "_"
}

// PrefixDir is the prefix itself with exactly one trailing slash, or empty.
func PrefixDir(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

// ParseObjectKey reports whether key is an artifact of db under prefix.
func ParseObjectKey(prefix, db, key string) (Artifact, bool) {
	rest, ok := strings.CutPrefix(key, ObjectPrefix(prefix, db))
	if !ok {
		return Artifact{}, false
	}
	encrypted := false
	if trimmed, ok := strings.CutSuffix(rest, gpgSuffix); ok {
		rest, encrypted = trimmed, true
	}
	stamp, ok := strings.CutSuffix(rest, dumpSuffix)
	if !ok {
		return Artifact{}, false
	}
	taken, err := time.ParseInLocation(TimestampLayout, stamp, time.UTC)
	if err != nil {
		return Artifact{}, false
	}
	return Artifact{Key: key, Taken: taken, Encrypted: encrypted}, true
}

// ParseTimestamp validates a user supplied timestamp.
func ParseTimestamp(raw string) (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, raw, time.UTC)
}
