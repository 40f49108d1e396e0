package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// FieldType is the closed set of semantic types a schema field can declare.
// Each storage maps these to its own column types; a SchemaField.StorageType
// override takes precedence over the mapping.
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldInt32    FieldType = "int32"
	FieldInt64    FieldType = "int64"
	FieldFloat    FieldType = "float"
	FieldBool     FieldType = "bool"
	FieldDate     FieldType = "date"
	FieldDatetime FieldType = "datetime"
)

// SchemaField describes one destination column.
type SchemaField struct {
	Name          string
	Type          FieldType
	StorageType   string // storage-specific type override, e.g. "NUMERIC(20,4)"
	Description   string
	PartitionHint bool
}

// Schema is the ordered field list for one entity.
type Schema struct {
	Fields []SchemaField
}

// TypeOf returns the declared semantic type for a field name.
// Unknown fields default to FieldString, matching the storages' fallback
// of a variable-length text column.
func (s Schema) TypeOf(name string) FieldType {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Type
		}
	}
	return FieldString
}

// Has reports whether the schema declares the given field.
func (s Schema) Has(name string) bool {
	for _, f := range s.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Record is an ordered mapping of field name to scalar value. Values are
// restricted to string, int64, float64, bool, date strings (YYYY-MM-DD) or
// nil; adapters flatten anything nested to a stable JSON string before a
// record leaves the source layer.
type Record struct {
	names  []string
	values map[string]interface{}
}

func NewRecord() *Record {
	return &Record{values: make(map[string]interface{})}
}

// Set stores a value under name, preserving first-insertion order.
func (r *Record) Set(name string, value interface{}) {
	if _, ok := r.values[name]; !ok {
		r.names = append(r.names, name)
	}
	r.values[name] = value
}

// Get returns the value for name and whether it was set at all.
func (r *Record) Get(name string) (interface{}, bool) {
	v, ok := r.values[name]
	return v, ok
}

// FieldNames returns the field names in insertion order.
func (r *Record) FieldNames() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

func (r *Record) Len() int { return len(r.names) }

// Merge copies every field of other into r, overwriting existing values.
// Used when field-set chunks are merged back into a single row.
func (r *Record) Merge(other *Record) {
	for _, name := range other.names {
		r.Set(name, other.values[name])
	}
}

// FlattenValue renders a nested structure as a stable JSON string so it can
// be persisted in a scalar column. Map keys are sorted by encoding/json.
func FlattenValue(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// UniqueKey is the ordered list of field names identifying a record for
// dedup purposes. Every record an adapter emits must carry a non-null value
// for each key field; storages skip records that violate this.
type UniqueKey []string

// KeyString concatenates the key field values of rec. It returns an error
// when any key field is absent or null.
func (k UniqueKey) KeyString(rec *Record) (string, error) {
	parts := make([]string, 0, len(k))
	for _, name := range k {
		v, ok := rec.Get(name)
		if !ok || v == nil {
			return "", fmt.Errorf("unique key field %q is missing or null", name)
		}
		parts = append(parts, fmt.Sprintf("%v", v))
	}
	return strings.Join(parts, "|"), nil
}

// SubsetOf reports whether every key field appears in fields.
func (k UniqueKey) SubsetOf(fields []string) bool {
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	for _, name := range k {
		if !set[name] {
			return false
		}
	}
	return true
}

// DateWindow is an inclusive UTC date range.
type DateWindow struct {
	Start time.Time
	End   time.Time
}

// Days returns the number of calendar days covered, inclusive.
func (w DateWindow) Days() int {
	return int(w.End.Sub(w.Start).Hours()/24) + 1
}

func (w DateWindow) String() string {
	return fmt.Sprintf("%s..%s", w.Start.Format("2006-01-02"), w.End.Format("2006-01-02"))
}

// RunMode selects how the date window is computed.
type RunMode string

const (
	RunIncremental    RunMode = "incremental"
	RunManualBackfill RunMode = "manual_backfill"
)

// ExecutionStatus is the persisted run lifecycle state for one entity.
type ExecutionStatus string

const (
	StatusIdle              ExecutionStatus = "idle"
	StatusImportInProgress  ExecutionStatus = "import_in_progress"
	StatusImportDone        ExecutionStatus = "import_done"
	StatusCleanupInProgress ExecutionStatus = "cleanup_in_progress"
	StatusCleanupDone       ExecutionStatus = "cleanup_done"
	StatusError             ExecutionStatus = "error"
)

// Truncate a timestamp to its UTC calendar date.
func ToDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
