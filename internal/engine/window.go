package engine

import (
	"time"

	"go.uber.org/zap"
)

// WindowConfig carries the mode-specific bounds used to compute what to
// fetch. BackfillStart/BackfillEnd are only read in manual_backfill mode,
// InitialStart only when no incremental cursor exists yet.
type WindowConfig struct {
	Mode            RunMode
	BackfillStart   *time.Time
	BackfillEnd     *time.Time
	InitialStart    *time.Time
	LookbackDays    int
	MaxFetchingDays int
}

// computeDateWindow implements the central scheduling algorithm. It returns
// a nil window when there is nothing to fetch. lastRequested is the
// persisted incremental cursor, nil on the first ever run.
func computeDateWindow(cfg WindowConfig, lastRequested *time.Time, now time.Time, log *zap.Logger) (*DateWindow, error) {
	today := ToDate(now)

	switch cfg.Mode {
	case RunManualBackfill:
		return computeBackfillWindow(cfg, today, log)
	case RunIncremental:
		return computeIncrementalWindow(cfg, lastRequested, today, log)
	default:
		return nil, NewConfigurationError("unknown run mode: %s", cfg.Mode)
	}
}

// computeBackfillWindow validates an operator-specified range. There is no
// cap on the number of days: the operator explicitly asked for this range.
func computeBackfillWindow(cfg WindowConfig, today time.Time, log *zap.Logger) (*DateWindow, error) {
	if cfg.BackfillStart == nil {
		return nil, NewConfigurationError("manual backfill requires an explicit start date")
	}
	start := ToDate(*cfg.BackfillStart)
	if start.After(today) {
		return nil, NewConfigurationError("backfill start date %s is in the future", start.Format("2006-01-02"))
	}

	end := today
	if cfg.BackfillEnd != nil {
		end = ToDate(*cfg.BackfillEnd)
	}
	if end.After(today) {
		log.Warn("Backfill end date is in the future, clamping to today.",
			zap.String("requested_end", end.Format("2006-01-02")),
			zap.String("clamped_end", today.Format("2006-01-02")))
		end = today
	}
	if end.Before(start) {
		log.Error("Backfill range is inverted after adjustment.",
			zap.String("start", start.Format("2006-01-02")),
			zap.String("end", end.Format("2006-01-02")))
		return nil, NewConfigurationError("backfill end date %s precedes start date %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	return &DateWindow{Start: start, End: end}, nil
}

// computeIncrementalWindow derives the next incremental window. The start is
// the persisted cursor minus the lookback (so recent days are re-fetched to
// absorb late-arriving data), or the configured initial start on the first
// run, or today. Days to fetch are capped by MaxFetchingDays regardless of
// how stale the cursor is; catch-up then happens across repeated runs.
func computeIncrementalWindow(cfg WindowConfig, lastRequested *time.Time, today time.Time, log *zap.Logger) (*DateWindow, error) {
	var start time.Time
	switch {
	case lastRequested != nil:
		start = ToDate(*lastRequested).AddDate(0, 0, -cfg.LookbackDays)
	case cfg.InitialStart != nil:
		start = ToDate(*cfg.InitialStart)
	default:
		start = today
	}

	if start.After(today) {
		log.Info("Computed incremental start is beyond today, nothing to fetch.",
			zap.String("start", start.Format("2006-01-02")),
			zap.String("today", today.Format("2006-01-02")))
		return nil, nil
	}

	days := int(today.Sub(start).Hours()/24) + 1
	if cfg.MaxFetchingDays > 0 && days > cfg.MaxFetchingDays {
		log.Info("Capping fetch window to the configured maximum.",
			zap.Int("uncapped_days", days),
			zap.Int("max_fetching_days", cfg.MaxFetchingDays))
		days = cfg.MaxFetchingDays
	}
	if days <= 0 {
		return nil, nil
	}

	end := start.AddDate(0, 0, days-1)
	return &DateWindow{Start: start, End: end}, nil
}
