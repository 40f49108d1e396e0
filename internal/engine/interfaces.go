package engine

import (
	"context"
)

// FetchSpec is one adapter invocation: an entity (API node/report), the
// account to read it for, the fields to request and an optional date window.
// Entities without a statistics dimension (plain entity listings) are
// fetched with a nil window.
type FetchSpec struct {
	Entity    string
	AccountID string
	Fields    []string
	Window    *DateWindow
}

// SourceAdapter turns a paginated, rate-limited external API into a flat
// record sequence. Implementations handle pagination, field-set chunking,
// entity batching, transient-error retries and transparent re-auth
// internally; a returned error is terminal for the fetch.
type SourceAdapter interface {
	// Platform names the external API, e.g. "facebook".
	Platform() string
	// Fetch rejects the call with a ConfigurationError before any network
	// access when the entity's unique-key fields are not a subset of
	// spec.Fields.
	Fetch(ctx context.Context, spec FetchSpec) ([]*Record, error)
	// UniqueKeyFor returns the declared unique key of an entity.
	UniqueKeyFor(entity string) (UniqueKey, error)
	// SchemaFor returns the schema definition of an entity.
	SchemaFor(entity string) (Schema, error)
}

// UpsertStorage converges a destination table to exactly one row per unique
// key, adding columns as new fields appear. Save is idempotent with respect
// to the unique key; calling it twice with the same records yields the same
// destination state as calling it once.
type UpsertStorage interface {
	// Init probes the destination table, bootstrapping it when absent and
	// loading the existing column set.
	Init(ctx context.Context) error
	// Save buffers records (last write wins per unique key) and flushes
	// full buffers plus a final unconditional flush before returning.
	Save(ctx context.Context, records []*Record) error
	// Flush writes any remaining buffered records.
	Flush(ctx context.Context) error
	// Close releases storage resources. It does not flush.
	Close(ctx context.Context) error
}

// Well-known StateStore value names.
const (
	ValueLastRequestedDate  = "last_requested_date"
	ValueLastImportStarted  = "last_import_timestamp"
	ValueLastBackfillWindow = "last_backfill_window"
)

// StateStore is the narrow persistence contract the engine consumes for run
// state and logging. The engine never touches the persistence technology
// behind it directly.
type StateStore interface {
	GetValue(ctx context.Context, name string) (string, error)
	SetValue(ctx context.Context, name, value string) error
	GetStatus(ctx context.Context) (ExecutionStatus, error)
	SetStatus(ctx context.Context, status ExecutionStatus, errorDetail string) error
	AppendLog(ctx context.Context, line string) error
}
