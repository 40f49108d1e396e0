package source

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/arwahdevops/adsync/internal/engine"
)

// CastValue coerces a raw JSON-decoded value into the scalar shape the
// declared field type expects. Platform APIs are loose about types (numeric
// strings, ints as floats, ISO timestamps for plain dates), so every value
// passes through here before it enters a Record. Values that cannot be
// coerced are kept as-is rather than dropped; the storage layer renders
// them as text.
func CastValue(v interface{}, t engine.FieldType) interface{} {
	if v == nil {
		return nil
	}
	switch t {
	case engine.FieldInt32, engine.FieldInt64:
		return castInt(v)
	case engine.FieldFloat:
		return castFloat(v)
	case engine.FieldBool:
		return castBool(v)
	case engine.FieldDate:
		return castDate(v)
	case engine.FieldDatetime:
		return castDatetime(v)
	default:
		return castString(v)
	}
}

func castInt(v interface{}) interface{} {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			return i
		}
		// APIs sometimes send integral values as "123.0"
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return int64(f)
		}
	}
	return v
}

func castFloat(v interface{}) interface{} {
	switch val := v.(type) {
	case float64:
		return val
	case int64:
		return float64(val)
	case int:
		return float64(val)
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return f
		}
	}
	return v
}

func castBool(v interface{}) interface{} {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "1", "yes", "enabled":
			return true
		case "false", "0", "no", "disabled":
			return false
		}
	case float64:
		return val != 0
	}
	return v
}

// castDate normalizes to YYYY-MM-DD. Timestamps are truncated to their UTC
// calendar date.
func castDate(v interface{}) interface{} {
	s, ok := v.(string)
	if !ok {
		return v
	}
	s = strings.TrimSpace(s)
	if _, err := time.ParseInLocation("2006-01-02", s, time.UTC); err == nil {
		return s
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "01/02/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format("2006-01-02")
		}
	}
	return v
}

func castDatetime(v interface{}) interface{} {
	s, ok := v.(string)
	if !ok {
		return v
	}
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return v
}

func castString(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return val
	case float64, int64, int, bool:
		return v
	default:
		// Nested objects and arrays become a stable JSON string.
		return engine.FlattenValue(v)
	}
}

// RecordFromMap builds a Record from one decoded API row, taking only the
// requested fields, in the requested order, cast per the entity schema.
// Fields absent from the row are set to nil so every record carries the
// full requested field list.
func RecordFromMap(raw map[string]interface{}, fields []string, schema engine.Schema) *engine.Record {
	rec := engine.NewRecord()
	for _, name := range fields {
		v, ok := raw[name]
		if !ok {
			rec.Set(name, nil)
			continue
		}
		rec.Set(name, CastValue(v, schema.TypeOf(name)))
	}
	return rec
}
