package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arwahdevops/adsync/internal/engine"
)

func TestColumnType(t *testing.T) {
	schema := engine.Schema{Fields: []engine.SchemaField{
		{Name: "clicks", Type: engine.FieldInt64},
		{Name: "spend", Type: engine.FieldFloat},
		{Name: "active", Type: engine.FieldBool},
		{Name: "date", Type: engine.FieldDate},
		{Name: "updated_at", Type: engine.FieldDatetime},
		{Name: "budget", Type: engine.FieldFloat, StorageType: "NUMERIC(20,4)"},
	}}

	testCases := []struct {
		field    string
		dialect  string
		expected string
	}{
		{"clicks", "postgres", "BIGINT"},
		{"clicks", "mysql", "BIGINT"},
		{"spend", "postgres", "DOUBLE PRECISION"},
		{"spend", "mysql", "DOUBLE"},
		{"active", "postgres", "BOOLEAN"},
		{"active", "mysql", "TINYINT(1)"},
		{"date", "postgres", "DATE"},
		{"updated_at", "postgres", "TIMESTAMP"},
		{"updated_at", "mysql", "DATETIME"},
		{"budget", "postgres", "NUMERIC(20,4)"}, // override wins
		{"budget", "mysql", "NUMERIC(20,4)"},
		{"never_declared", "postgres", "TEXT"},
	}

	for _, tc := range testCases {
		t.Run(tc.field+"_"+tc.dialect, func(t *testing.T) {
			assert.Equal(t, tc.expected, ColumnType(schema, tc.field, tc.dialect))
		})
	}
}

func TestKeyColumnTypeBoundsTextOnMySQL(t *testing.T) {
	schema := engine.Schema{Fields: []engine.SchemaField{
		{Name: "name", Type: engine.FieldString},
		{Name: "id", Type: engine.FieldInt64},
	}}
	assert.Equal(t, "VARCHAR(190)", keyColumnType(schema, "name", "mysql"))
	assert.Equal(t, "TEXT", keyColumnType(schema, "name", "postgres"))
	assert.Equal(t, "BIGINT", keyColumnType(schema, "id", "mysql"))
}

func TestRenderValue(t *testing.T) {
	assert.Equal(t, "NULL", RenderValue(nil))
	assert.Equal(t, "'Spring Sale'", RenderValue("Spring Sale"))
	assert.Equal(t, "'it''s fine'", RenderValue("it's fine"))
	assert.Equal(t, "TRUE", RenderValue(true))
	assert.Equal(t, "FALSE", RenderValue(false))
	assert.Equal(t, "42", RenderValue(int64(42)))
	assert.Equal(t, "3.25", RenderValue(3.25))
	assert.Equal(t, `'{"a":1}'`, RenderValue(map[string]interface{}{"a": 1}))
}
