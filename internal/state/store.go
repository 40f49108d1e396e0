package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/arwahdevops/adsync/internal/db"
	"github.com/arwahdevops/adsync/internal/engine"
)

// EntitySyncState is the persisted run state, one row per tracked entity.
// Created on the first run, mutated by every run, never deleted by the
// engine itself.
type EntitySyncState struct {
	Entity              string `gorm:"primaryKey;size:190"`
	LastRequestedDate   string `gorm:"size:10"` // YYYY-MM-DD, empty before the first successful incremental run
	Status              string `gorm:"size:32"`
	LastImportTimestamp string `gorm:"size:35"` // RFC3339
	LastBackfillWindow  string `gorm:"size:32"`
	LastErrorMessage    string `gorm:"type:text"`
	UpdatedAt           time.Time
}

func (EntitySyncState) TableName() string { return "entity_sync_states" }

// SyncLogEntry is one appended human-readable log line. The log outlives
// the process that wrote it, so a failed run stays diagnosable.
type SyncLogEntry struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Entity    string `gorm:"index;size:190"`
	Message   string `gorm:"type:text"`
	CreatedAt time.Time
}

func (SyncLogEntry) TableName() string { return "sync_log" }

// Store implements engine.StateStore on a GORM connection, scoped to one
// entity.
type Store struct {
	conn   *db.Connector
	entity string
	logger *zap.Logger
}

func NewStore(conn *db.Connector, entity string, logger *zap.Logger) *Store {
	return &Store{
		conn:   conn,
		entity: entity,
		logger: logger.Named("state-store").With(zap.String("entity", entity)),
	}
}

var _ engine.StateStore = (*Store)(nil)

// Migrate creates the state tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.conn.DB.WithContext(ctx).AutoMigrate(&EntitySyncState{}, &SyncLogEntry{}); err != nil {
		return fmt.Errorf("migrate state tables: %w", err)
	}
	return nil
}

// GetValue reads one of the well-known named run-state values. Unknown
// names are a programming error, not persisted data.
func (s *Store) GetValue(ctx context.Context, name string) (string, error) {
	row, err := s.load(ctx)
	if err != nil {
		return "", err
	}
	if row == nil {
		return "", nil
	}
	switch name {
	case engine.ValueLastRequestedDate:
		return row.LastRequestedDate, nil
	case engine.ValueLastImportStarted:
		return row.LastImportTimestamp, nil
	case engine.ValueLastBackfillWindow:
		return row.LastBackfillWindow, nil
	default:
		return "", fmt.Errorf("unknown state value name: %s", name)
	}
}

func (s *Store) SetValue(ctx context.Context, name, value string) error {
	var column string
	switch name {
	case engine.ValueLastRequestedDate:
		column = "last_requested_date"
	case engine.ValueLastImportStarted:
		column = "last_import_timestamp"
	case engine.ValueLastBackfillWindow:
		column = "last_backfill_window"
	default:
		return fmt.Errorf("unknown state value name: %s", name)
	}

	if err := s.ensureRow(ctx); err != nil {
		return err
	}
	err := s.conn.DB.WithContext(ctx).
		Model(&EntitySyncState{}).
		Where("entity = ?", s.entity).
		Update(column, value).Error
	if err != nil {
		return fmt.Errorf("set %s for %s: %w", name, s.entity, err)
	}
	return nil
}

// GetStatus returns StatusIdle for an entity that has never run.
func (s *Store) GetStatus(ctx context.Context) (engine.ExecutionStatus, error) {
	row, err := s.load(ctx)
	if err != nil {
		return "", err
	}
	if row == nil || row.Status == "" {
		return engine.StatusIdle, nil
	}
	return engine.ExecutionStatus(row.Status), nil
}

func (s *Store) SetStatus(ctx context.Context, status engine.ExecutionStatus, errorDetail string) error {
	if err := s.ensureRow(ctx); err != nil {
		return err
	}
	updates := map[string]interface{}{
		"status":             string(status),
		"last_error_message": errorDetail,
	}
	err := s.conn.DB.WithContext(ctx).
		Model(&EntitySyncState{}).
		Where("entity = ?", s.entity).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("set status %s for %s: %w", status, s.entity, err)
	}
	s.logger.Debug("Status transition persisted.",
		zap.String("status", string(status)),
		zap.String("error_detail", errorDetail))
	return nil
}

func (s *Store) AppendLog(ctx context.Context, line string) error {
	entry := SyncLogEntry{Entity: s.entity, Message: line}
	if err := s.conn.DB.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("append sync log for %s: %w", s.entity, err)
	}
	return nil
}

// RecentLog returns the newest n log lines, newest first.
func (s *Store) RecentLog(ctx context.Context, n int) ([]SyncLogEntry, error) {
	var entries []SyncLogEntry
	err := s.conn.DB.WithContext(ctx).
		Where("entity = ?", s.entity).
		Order("id DESC").
		Limit(n).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("read sync log for %s: %w", s.entity, err)
	}
	return entries, nil
}

func (s *Store) load(ctx context.Context) (*EntitySyncState, error) {
	var row EntitySyncState
	err := s.conn.DB.WithContext(ctx).
		Where("entity = ?", s.entity).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load sync state for %s: %w", s.entity, err)
	}
	return &row, nil
}

// ensureRow creates the entity's state row on first contact. The insert is
// conflict-tolerant so two near-simultaneous first runs cannot fail here.
func (s *Store) ensureRow(ctx context.Context) error {
	row := EntitySyncState{Entity: s.entity, Status: string(engine.StatusIdle)}
	err := s.conn.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("ensure sync state row for %s: %w", s.entity, err)
	}
	return nil
}
