package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arwahdevops/adsync/internal/metrics"
)

type fakeState struct {
	mu      sync.Mutex
	values  map[string]string
	status  ExecutionStatus
	detail  string
	logLine []string
}

func newFakeState() *fakeState {
	return &fakeState{values: make(map[string]string), status: StatusIdle}
}

func (s *fakeState) GetValue(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[name], nil
}

func (s *fakeState) SetValue(ctx context.Context, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
	return nil
}

func (s *fakeState) GetStatus(ctx context.Context) (ExecutionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, nil
}

func (s *fakeState) SetStatus(ctx context.Context, status ExecutionStatus, errorDetail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.detail = errorDetail
	return nil
}

func (s *fakeState) AppendLog(ctx context.Context, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logLine = append(s.logLine, line)
	return nil
}

type fakeSource struct {
	recordsPerAccount map[string][]*Record
	failAccounts      map[string]error
	fetched           []FetchSpec
}

func (f *fakeSource) Platform() string { return "faketform" }

func (f *fakeSource) Fetch(ctx context.Context, spec FetchSpec) ([]*Record, error) {
	f.fetched = append(f.fetched, spec)
	if err, ok := f.failAccounts[spec.AccountID]; ok {
		return nil, err
	}
	return f.recordsPerAccount[spec.AccountID], nil
}

func (f *fakeSource) UniqueKeyFor(entity string) (UniqueKey, error) {
	return UniqueKey{"id"}, nil
}

func (f *fakeSource) SchemaFor(entity string) (Schema, error) {
	return Schema{Fields: []SchemaField{{Name: "id", Type: FieldInt64}}}, nil
}

type fakeStorage struct {
	saved    []*Record
	inits    int
	flushes  int
	closes   int
	flushErr error
}

func (f *fakeStorage) Init(ctx context.Context) error { f.inits++; return nil }

func (f *fakeStorage) Save(ctx context.Context, records []*Record) error {
	f.saved = append(f.saved, records...)
	return nil
}

func (f *fakeStorage) Flush(ctx context.Context) error { f.flushes++; return f.flushErr }

func (f *fakeStorage) Close(ctx context.Context) error { f.closes++; return nil }

func testRecord(id int64) *Record {
	rec := NewRecord()
	rec.Set("id", id)
	return rec
}

func newTestConnector(cfg ConnectorConfig, src SourceAdapter, st UpsertStorage, state StateStore, clock clockwork.Clock) *Connector {
	return NewConnector(cfg, src, st, state, clock, zap.NewNop(), metrics.NewMetricsStore())
}

func incrementalCfg() ConnectorConfig {
	return ConnectorConfig{
		Entity:   "faketform.report",
		Accounts: []string{"acc-1", "acc-2"},
		Window: WindowConfig{
			Mode:            RunIncremental,
			LookbackDays:    2,
			MaxFetchingDays: 30,
		},
		ExpectedMaxRunDuration: 10 * time.Minute,
	}
}

func TestRunAdvancesIncrementalCursor(t *testing.T) {
	clock := clockwork.NewFakeClockAt(date(2024, 1, 20).Add(6 * time.Hour))
	state := newFakeState()
	state.values[ValueLastRequestedDate] = "2024-01-18"
	src := &fakeSource{recordsPerAccount: map[string][]*Record{
		"acc-1": {testRecord(1), testRecord(2)},
		"acc-2": {testRecord(3)},
	}}
	store := &fakeStorage{}

	c := newTestConnector(incrementalCfg(), src, store, state, clock)
	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, StatusImportDone, state.status)
	assert.Equal(t, "2024-01-20", state.values[ValueLastRequestedDate])
	assert.Len(t, store.saved, 3)
	assert.Equal(t, 1, store.inits)
	assert.Equal(t, 1, store.flushes)
	assert.Equal(t, 1, store.closes)

	// Both accounts fetched with the same lookback window.
	require.Len(t, src.fetched, 2)
	assert.Equal(t, date(2024, 1, 16), src.fetched[0].Window.Start)
	assert.Equal(t, date(2024, 1, 20), src.fetched[0].Window.End)
}

func TestRunBackfillLeavesCursorUntouched(t *testing.T) {
	clock := clockwork.NewFakeClockAt(date(2024, 1, 20).Add(6 * time.Hour))
	state := newFakeState()
	state.values[ValueLastRequestedDate] = "2024-01-18"
	src := &fakeSource{recordsPerAccount: map[string][]*Record{"acc-1": {testRecord(1)}}}

	cfg := incrementalCfg()
	cfg.Accounts = []string{"acc-1"}
	cfg.Window.Mode = RunManualBackfill
	cfg.Window.BackfillStart = datePtr(2024, 1, 1)
	cfg.Window.BackfillEnd = datePtr(2024, 1, 5)

	c := newTestConnector(cfg, src, &fakeStorage{}, state, clock)
	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, StatusImportDone, state.status)
	assert.Equal(t, "2024-01-18", state.values[ValueLastRequestedDate], "backfill must not move the incremental cursor")
	assert.Equal(t, "2024-01-01..2024-01-05", state.values[ValueLastBackfillWindow])
}

func TestRunSkipsWhileImportInProgress(t *testing.T) {
	clock := clockwork.NewFakeClockAt(date(2024, 1, 20).Add(6 * time.Hour))
	state := newFakeState()
	state.status = StatusImportInProgress
	state.values[ValueLastImportStarted] = clock.Now().Add(-5 * time.Minute).UTC().Format(time.RFC3339)
	src := &fakeSource{}

	c := newTestConnector(incrementalCfg(), src, &fakeStorage{}, state, clock)
	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, StatusImportInProgress, state.status, "skip must not disturb the running import")
	assert.Empty(t, src.fetched)
}

func TestRunSupersedesStaleImport(t *testing.T) {
	cfg := incrementalCfg()
	clock := clockwork.NewFakeClockAt(date(2024, 1, 20).Add(6 * time.Hour))
	state := newFakeState()
	state.status = StatusImportInProgress
	// Older than 2*ExpectedMaxRunDuration+1s: presumed crashed.
	state.values[ValueLastImportStarted] = clock.Now().Add(-cfg.StaleAfter() - time.Minute).UTC().Format(time.RFC3339)
	src := &fakeSource{recordsPerAccount: map[string][]*Record{"acc-1": {testRecord(1)}}}

	cfg.Accounts = []string{"acc-1"}
	c := newTestConnector(cfg, src, &fakeStorage{}, state, clock)
	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, StatusImportDone, state.status)
	assert.NotEmpty(t, src.fetched, "a stale run must be superseded, not respected")
}

func TestRunContinuesPastFailingAccount(t *testing.T) {
	clock := clockwork.NewFakeClockAt(date(2024, 1, 20).Add(6 * time.Hour))
	state := newFakeState()
	state.values[ValueLastRequestedDate] = "2024-01-19"
	src := &fakeSource{
		recordsPerAccount: map[string][]*Record{"acc-2": {testRecord(7)}},
		failAccounts:      map[string]error{"acc-1": errors.New("boom")},
	}
	store := &fakeStorage{}

	c := newTestConnector(incrementalCfg(), src, store, state, clock)
	err := c.Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, StatusError, state.status)
	assert.Contains(t, state.detail, "acc-1")
	assert.Len(t, src.fetched, 2, "second account must still be fetched")
	assert.Len(t, store.saved, 1)
	assert.Equal(t, "2024-01-19", state.values[ValueLastRequestedDate], "cursor must not advance on partial failure")
}

func TestRunFlushFailureIsARunFailure(t *testing.T) {
	clock := clockwork.NewFakeClockAt(date(2024, 1, 20).Add(6 * time.Hour))
	state := newFakeState()
	state.values[ValueLastRequestedDate] = "2024-01-19"
	src := &fakeSource{recordsPerAccount: map[string][]*Record{"acc-1": {testRecord(1)}}}

	cfg := incrementalCfg()
	cfg.Accounts = []string{"acc-1"}
	c := newTestConnector(cfg, src, &fakeStorage{flushErr: errors.New("disk full")}, state, clock)
	err := c.Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, StatusError, state.status)
	assert.Equal(t, "2024-01-19", state.values[ValueLastRequestedDate])
}

func TestWatchdogMarksCrashedRun(t *testing.T) {
	cfg := incrementalCfg()
	clock := clockwork.NewFakeClockAt(date(2024, 1, 20).Add(6 * time.Hour))
	state := newFakeState()
	c := newTestConnector(cfg, &fakeSource{}, &fakeStorage{}, state, clock)

	startedAt := clock.Now()
	state.status = StatusImportInProgress
	state.values[ValueLastImportStarted] = startedAt.UTC().Format(time.RFC3339)

	timer := c.armWatchdog(startedAt)
	defer timer.Stop()
	clock.Advance(cfg.StaleAfter() + time.Second)

	// AfterFunc callbacks run asynchronously even on the fake clock.
	require.Eventually(t, func() bool {
		state.mu.Lock()
		defer state.mu.Unlock()
		return state.status == StatusError
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, state.detail, "watchdog")
}

func TestWatchdogYieldsToNewerRun(t *testing.T) {
	cfg := incrementalCfg()
	clock := clockwork.NewFakeClockAt(date(2024, 1, 20).Add(6 * time.Hour))
	state := newFakeState()
	c := newTestConnector(cfg, &fakeSource{}, &fakeStorage{}, state, clock)

	startedAt := clock.Now()
	state.status = StatusImportInProgress
	// A newer run has recorded its own start since.
	state.values[ValueLastImportStarted] = startedAt.Add(time.Hour).UTC().Format(time.RFC3339)

	timer := c.armWatchdog(startedAt)
	defer timer.Stop()
	clock.Advance(cfg.StaleAfter() + time.Second)

	time.Sleep(100 * time.Millisecond)
	state.mu.Lock()
	defer state.mu.Unlock()
	assert.Equal(t, StatusImportInProgress, state.status, "watchdog must not touch a run it does not own")
}
