package app

import (
	"context"
	"time"

	"github.com/rowjay/postgres-backup-s3/internal/util"
)

type SweepReport struct {
	Cutoff  time.Time
	Scanned int
	Deleted int
	Failed  int
}

// Sweep deletes every object under the storage prefix last modified on or
// before the cutoff day, which is KeepDays before now in UTC. Whole days are
// compared, not instants. Failures are logged and counted, never returned.
func (a *App) Sweep(ctx context.Context, now time.Time) SweepReport {
	cutoff := truncateDay(now.UTC().AddDate(0, 0, -a.Cfg.Backup.KeepDays))
	report := SweepReport{Cutoff: cutoff}
	log := a.Log.With().Str("op", "sweep").Str("cutoff", cutoff.Format(time.DateOnly)).Logger()

	prefix := util.PrefixDir(a.prefix())
	log.Info().Str("prefix", prefix).Int("keep_days", a.Cfg.Backup.KeepDays).Msg("removing old backups")

	objects, err := a.Storage.List(ctx, prefix)
	if err != nil {
		log.Warn().Err(err).Msg("listing for retention failed, skipping sweep")
		report.Failed++
		return report
	}

	for _, obj := range objects {
		report.Scanned++
		if truncateDay(obj.Modified.UTC()).After(cutoff) {
			continue
		}
		if err := a.Storage.Delete(ctx, obj.Key); err != nil {
			log.Warn().Err(err).Str("key", obj.Key).Msg("delete failed")
			report.Failed++
			continue
		}
		log.Info().Str("key", obj.Key).Time("modified", obj.Modified).Msg("deleted")
		report.Deleted++
	}

	log.Info().Int("scanned", report.Scanned).Int("deleted", report.Deleted).Int("failed", report.Failed).Msg("retention sweep finished")
	return report
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
