package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/arwahdevops/adsync/internal/metrics"
)

// ConnectorConfig describes one sync entity end-to-end: which entity to
// fetch, for which accounts, with which fields, and how its date windows
// are computed.
type ConnectorConfig struct {
	Entity   string
	Accounts []string
	Fields   []string
	Window   WindowConfig
	// ExpectedMaxRunDuration sizes the staleness timeout. A run observed as
	// in-progress is presumed crashed once 2*ExpectedMaxRunDuration+1s have
	// passed since its recorded start.
	ExpectedMaxRunDuration time.Duration
}

// StaleAfter returns the staleness timeout derived from the expected run
// duration.
func (c ConnectorConfig) StaleAfter() time.Duration {
	return 2*c.ExpectedMaxRunDuration + time.Second
}

// Connector drives one entity's sync run end-to-end: compute the window,
// fetch, store, maintain the status lifecycle. It never runs two
// overlapping imports for the same entity.
type Connector struct {
	cfg     ConnectorConfig
	source  SourceAdapter
	storage UpsertStorage
	state   StateStore
	clock   clockwork.Clock
	logger  *zap.Logger
	metrics *metrics.Store
}

func NewConnector(cfg ConnectorConfig, source SourceAdapter, storage UpsertStorage, state StateStore,
	clock clockwork.Clock, logger *zap.Logger, metricsStore *metrics.Store) *Connector {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Connector{
		cfg:     cfg,
		source:  source,
		storage: storage,
		state:   state,
		clock:   clock,
		logger:  logger.Named("connector").With(zap.String("entity", cfg.Entity)),
		metrics: metricsStore,
	}
}

// Run performs one synchronization run. A run already in progress within
// the staleness window makes Run a logged no-op, not an error. Any failure
// is recorded as Error status before being returned to the caller; retrying
// the whole run is the scheduler's decision, not ours.
func (c *Connector) Run(ctx context.Context) error {
	startedAt := c.clock.Now()
	log := c.logger

	proceed, err := c.guardDuplicateRun(ctx, startedAt)
	if err != nil {
		return err
	}
	if !proceed {
		return nil
	}

	if err := c.state.SetStatus(ctx, StatusImportInProgress, ""); err != nil {
		return fmt.Errorf("transition to import_in_progress for %s: %w", c.cfg.Entity, err)
	}
	if err := c.state.SetValue(ctx, ValueLastImportStarted, startedAt.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("record import start time for %s: %w", c.cfg.Entity, err)
	}
	c.appendLog(ctx, fmt.Sprintf("import started (mode=%s)", c.cfg.Window.Mode))
	c.metrics.SyncRunning.Set(1)
	defer c.metrics.SyncRunning.Set(0)

	// Watchdog: if this process dies mid-import, the delayed check marks
	// the run Error instead of leaving it import_in_progress forever.
	watchdog := c.armWatchdog(startedAt)
	defer watchdog.Stop()

	runErr := c.runImport(ctx, startedAt)

	elapsed := c.clock.Since(startedAt)
	c.metrics.RunDuration.WithLabelValues(c.cfg.Entity).Observe(elapsed.Seconds())

	if runErr != nil {
		c.appendLog(ctx, fmt.Sprintf("import failed after %s: %v", elapsed.Round(time.Millisecond), runErr))
		if stErr := c.state.SetStatus(ctx, StatusError, runErr.Error()); stErr != nil {
			log.Error("Failed to record error status.", zap.Error(stErr))
		}
		c.metrics.RunsTotal.WithLabelValues(c.cfg.Entity, "error").Inc()
		log.Error("Sync run failed.", zap.Error(runErr), zap.Duration("elapsed", elapsed))
		return runErr
	}

	if err := c.state.SetStatus(ctx, StatusImportDone, ""); err != nil {
		return fmt.Errorf("transition to import_done for %s: %w", c.cfg.Entity, err)
	}
	c.metrics.RunsTotal.WithLabelValues(c.cfg.Entity, "success").Inc()
	log.Info("Sync run finished.", zap.Duration("elapsed", elapsed))
	return nil
}

// guardDuplicateRun enforces the advisory mutual exclusion built on the
// persisted status. Returns proceed=false for the benign "someone else is
// already importing" case.
func (c *Connector) guardDuplicateRun(ctx context.Context, now time.Time) (bool, error) {
	status, err := c.state.GetStatus(ctx)
	if err != nil {
		return false, fmt.Errorf("read status for %s: %w", c.cfg.Entity, err)
	}

	if status != StatusImportInProgress && status != StatusCleanupInProgress {
		return true, nil
	}

	lastStarted, err := c.lastImportStartedAt(ctx)
	if err != nil {
		return false, err
	}
	if lastStarted != nil && now.Sub(*lastStarted) <= c.cfg.StaleAfter() {
		c.logger.Warn("Another import is still in progress, skipping this run.",
			zap.String("status", string(status)),
			zap.Time("previous_start", *lastStarted),
			zap.Duration("staleness_timeout", c.cfg.StaleAfter()))
		c.appendLog(ctx, fmt.Sprintf("run skipped: import already in progress since %s",
			lastStarted.Format(time.RFC3339)))
		c.metrics.RunsTotal.WithLabelValues(c.cfg.Entity, "skipped_in_progress").Inc()
		return false, nil
	}

	// Past the staleness window: the previous run is presumed crashed.
	detail := "previous run presumed crashed (staleness timeout exceeded)"
	c.logger.Warn("Stale in-progress run detected, superseding it.",
		zap.Duration("staleness_timeout", c.cfg.StaleAfter()))
	if err := c.state.SetStatus(ctx, StatusError, detail); err != nil {
		return false, fmt.Errorf("supersede stale run for %s: %w", c.cfg.Entity, err)
	}
	c.appendLog(ctx, detail)
	return true, nil
}

// runImport is the fetch/store body of a run, without lifecycle bookkeeping.
func (c *Connector) runImport(ctx context.Context, startedAt time.Time) error {
	log := c.logger

	lastRequested, err := c.lastRequestedDate(ctx)
	if err != nil {
		return err
	}

	window, err := computeDateWindow(c.cfg.Window, lastRequested, startedAt, log)
	if err != nil {
		c.metrics.SyncErrorsTotal.WithLabelValues("date_window", c.cfg.Entity).Inc()
		return err
	}
	if window == nil {
		log.Info("No days to fetch, finishing run immediately.")
		c.appendLog(ctx, "nothing to fetch (window is empty)")
		return nil
	}
	log.Info("Computed fetch window.",
		zap.String("window", window.String()),
		zap.Int("days", window.Days()))

	if err := c.storage.Init(ctx); err != nil {
		c.metrics.SyncErrorsTotal.WithLabelValues("storage_init", c.cfg.Entity).Inc()
		return fmt.Errorf("initialize storage for %s: %w", c.cfg.Entity, err)
	}
	defer func() {
		if cerr := c.storage.Close(context.WithoutCancel(ctx)); cerr != nil {
			log.Warn("Storage close failed.", zap.Error(cerr))
		}
	}()

	var accErrs error
	var totalRows int64
	for _, account := range c.cfg.Accounts {
		rows, fetchErr := c.fetchAndStoreAccount(ctx, account, window)
		totalRows += rows
		if fetchErr != nil {
			// One bad account must not block its siblings, but the failure
			// still decides the run's final status.
			log.Error("Account fetch/store failed, continuing with next account.",
				zap.String("account_id", account), zap.Error(fetchErr))
			c.appendLog(ctx, fmt.Sprintf("account %s failed: %v", account, fetchErr))
			c.metrics.SyncErrorsTotal.WithLabelValues("account_fetch", c.cfg.Entity).Inc()
			accErrs = multierr.Append(accErrs, fmt.Errorf("account %s: %w", account, fetchErr))
		}
	}

	if flushErr := c.storage.Flush(ctx); flushErr != nil {
		c.metrics.SyncErrorsTotal.WithLabelValues("storage_flush", c.cfg.Entity).Inc()
		accErrs = multierr.Append(accErrs, fmt.Errorf("final flush: %w", flushErr))
	}

	if accErrs != nil {
		return accErrs
	}

	// The incremental cursor only moves on a fully successful fetch, and a
	// manual backfill must never perturb it.
	if c.cfg.Window.Mode == RunIncremental {
		if err := c.state.SetValue(ctx, ValueLastRequestedDate, window.End.Format("2006-01-02")); err != nil {
			return fmt.Errorf("advance incremental cursor for %s: %w", c.cfg.Entity, err)
		}
	} else {
		if err := c.state.SetValue(ctx, ValueLastBackfillWindow, window.String()); err != nil {
			log.Warn("Could not record backfill window.", zap.Error(err))
		}
	}

	c.appendLog(ctx, fmt.Sprintf("import done: %d rows over %s (%d accounts)",
		totalRows, window.String(), len(c.cfg.Accounts)))
	return nil
}

func (c *Connector) fetchAndStoreAccount(ctx context.Context, account string, window *DateWindow) (int64, error) {
	log := c.logger.With(zap.String("account_id", account))
	fetchStart := c.clock.Now()

	records, err := c.source.Fetch(ctx, FetchSpec{
		Entity:    c.cfg.Entity,
		AccountID: account,
		Fields:    c.cfg.Fields,
		Window:    window,
	})
	if err != nil {
		return 0, err
	}
	log.Info("Fetched records from source.",
		zap.Int("records", len(records)),
		zap.Duration("fetch_duration", c.clock.Since(fetchStart)))
	c.metrics.RowsFetchedTotal.WithLabelValues(c.source.Platform(), c.cfg.Entity).Add(float64(len(records)))

	if len(records) == 0 {
		return 0, nil
	}
	if err := c.storage.Save(ctx, records); err != nil {
		return int64(len(records)), fmt.Errorf("save records: %w", err)
	}
	c.appendLog(ctx, fmt.Sprintf("account %s: %d rows fetched and saved", account, len(records)))
	return int64(len(records)), nil
}

// armWatchdog schedules the delayed crash check for the run started at
// startedAt. The check runs on its own context: the run's context is
// usually gone by the time a crashed run needs cleanup.
func (c *Connector) armWatchdog(startedAt time.Time) clockwork.Timer {
	expectedStart := startedAt.UTC().Format(time.RFC3339)
	return c.clock.AfterFunc(c.cfg.StaleAfter(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		status, err := c.state.GetStatus(ctx)
		if err != nil {
			c.logger.Error("Watchdog could not read status.", zap.Error(err))
			return
		}
		if status != StatusImportInProgress {
			return
		}
		recorded, err := c.state.GetValue(ctx, ValueLastImportStarted)
		if err != nil || recorded != expectedStart {
			// A newer run owns the status now.
			return
		}
		detail := fmt.Sprintf("watchdog: run started %s exceeded staleness timeout %s", expectedStart, c.cfg.StaleAfter())
		c.logger.Error("Watchdog marking crashed run as error.", zap.String("started", expectedStart))
		if err := c.state.SetStatus(ctx, StatusError, detail); err != nil {
			c.logger.Error("Watchdog failed to record error status.", zap.Error(err))
			return
		}
		c.appendLog(ctx, detail)
	})
}

func (c *Connector) lastRequestedDate(ctx context.Context) (*time.Time, error) {
	raw, err := c.state.GetValue(ctx, ValueLastRequestedDate)
	if err != nil {
		return nil, fmt.Errorf("read incremental cursor for %s: %w", c.cfg.Entity, err)
	}
	if raw == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("parse incremental cursor %q for %s: %w", raw, c.cfg.Entity, err)
	}
	return &t, nil
}

func (c *Connector) lastImportStartedAt(ctx context.Context) (*time.Time, error) {
	raw, err := c.state.GetValue(ctx, ValueLastImportStarted)
	if err != nil {
		return nil, fmt.Errorf("read last import timestamp for %s: %w", c.cfg.Entity, err)
	}
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("parse last import timestamp %q for %s: %w", raw, c.cfg.Entity, err)
	}
	return &t, nil
}

// appendLog writes a human-readable line to the persisted sync log. Logging
// must never fail a run, so errors are only reported to the process log.
func (c *Connector) appendLog(ctx context.Context, line string) {
	if err := c.state.AppendLog(ctx, line); err != nil {
		c.logger.Warn("Could not append to persisted sync log.", zap.String("line", line), zap.Error(err))
	}
}
