package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arwahdevops/adsync/internal/config"
	"github.com/arwahdevops/adsync/internal/db"
	"github.com/arwahdevops/adsync/internal/engine"
	"github.com/arwahdevops/adsync/internal/metrics"
)

func warehouseSchema() engine.Schema {
	return engine.Schema{Fields: []engine.SchemaField{
		{Name: "campaign_id", Type: engine.FieldInt64},
		{Name: "date", Type: engine.FieldDate},
		{Name: "campaign_name", Type: engine.FieldString},
		{Name: "clicks", Type: engine.FieldInt64},
	}}
}

func newRenderWarehouse(t *testing.T, dialect string) *Warehouse {
	t.Helper()
	cfg := &config.Config{MaxBufferedRecords: 100, MaxStatementBytes: 1_000_000}
	wh, err := NewWarehouse(
		&db.Connector{Dialect: dialect},
		"campaign_report",
		engine.UniqueKey{"campaign_id", "date"},
		warehouseSchema(),
		cfg,
		metrics.NewMetricsStore(),
		zap.NewNop(),
	)
	require.NoError(t, err)
	return wh
}

func warehouseRow(id int64, date, name string, clicks int64) *engine.Record {
	rec := engine.NewRecord()
	rec.Set("campaign_id", id)
	rec.Set("date", date)
	rec.Set("campaign_name", name)
	rec.Set("clicks", clicks)
	return rec
}

func TestNewWarehouseRejectsKeyOutsideSchema(t *testing.T) {
	cfg := &config.Config{MaxBufferedRecords: 100, MaxStatementBytes: 1_000_000}
	_, err := NewWarehouse(&db.Connector{Dialect: "postgres"}, "t",
		engine.UniqueKey{"no_such_field"}, warehouseSchema(), cfg,
		metrics.NewMetricsStore(), zap.NewNop())
	var schemaErr *engine.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "no_such_field", schemaErr.Field)
}

func TestBuildUpsertPostgres(t *testing.T) {
	wh := newRenderWarehouse(t, "postgres")
	stmt := wh.buildUpsert([]*engine.Record{
		warehouseRow(101, "2024-03-01", "Spring Sale", 10),
		warehouseRow(102, "2024-03-01", "Brand Push", 4),
	})

	assert.Equal(t, `INSERT INTO "campaign_report" ("campaign_id", "date", "campaign_name", "clicks") VALUES `+
		`(101, '2024-03-01', 'Spring Sale', 10), (102, '2024-03-01', 'Brand Push', 4) `+
		`ON CONFLICT ("campaign_id", "date") DO UPDATE SET "campaign_name" = EXCLUDED."campaign_name", "clicks" = EXCLUDED."clicks"`,
		stmt)
}

func TestBuildUpsertMySQL(t *testing.T) {
	wh := newRenderWarehouse(t, "mysql")
	stmt := wh.buildUpsert([]*engine.Record{
		warehouseRow(101, "2024-03-01", "Spring Sale", 10),
	})

	assert.Contains(t, stmt, "INSERT INTO `campaign_report` (`campaign_id`, `date`, `campaign_name`, `clicks`)")
	assert.Contains(t, stmt, "ON DUPLICATE KEY UPDATE `campaign_name` = VALUES(`campaign_name`), `clicks` = VALUES(`clicks`)")
	assert.NotContains(t, stmt, "`campaign_id` = VALUES", "key columns must not be updated")
}

func TestBuildUpsertRendersNullsForMissingFields(t *testing.T) {
	wh := newRenderWarehouse(t, "postgres")
	sparse := engine.NewRecord()
	sparse.Set("campaign_id", int64(103))
	sparse.Set("date", "2024-03-02")
	sparse.Set("clicks", nil)

	stmt := wh.buildUpsert([]*engine.Record{
		warehouseRow(101, "2024-03-01", "Spring Sale", 10),
		sparse,
	})
	assert.Contains(t, stmt, "(103, '2024-03-02', NULL, NULL)")
}

func TestBuildCreateTable(t *testing.T) {
	t.Run("postgres", func(t *testing.T) {
		wh := newRenderWarehouse(t, "postgres")
		stmt := wh.buildCreateTable()
		assert.Equal(t, `CREATE TABLE "campaign_report" (`+
			`"campaign_id" BIGINT NOT NULL, "date" DATE NOT NULL, `+
			`"campaign_name" TEXT, "clicks" BIGINT, `+
			`PRIMARY KEY ("campaign_id", "date"))`, stmt)
	})

	t.Run("mysql string keys become varchar", func(t *testing.T) {
		cfg := &config.Config{MaxBufferedRecords: 100, MaxStatementBytes: 1_000_000}
		schema := engine.Schema{Fields: []engine.SchemaField{
			{Name: "name", Type: engine.FieldString},
			{Name: "value", Type: engine.FieldString},
		}}
		wh, err := NewWarehouse(&db.Connector{Dialect: "mysql"}, "kv",
			engine.UniqueKey{"name"}, schema, cfg, metrics.NewMetricsStore(), zap.NewNop())
		require.NoError(t, err)

		stmt := wh.buildCreateTable()
		assert.Contains(t, stmt, "`name` VARCHAR(190) NOT NULL")
		assert.Contains(t, stmt, "`value` TEXT")
	})
}

func TestUpsertHalvingFatalOnSingleOversizedRecord(t *testing.T) {
	wh := newRenderWarehouse(t, "postgres")
	wh.maxStatementBytes = 10 // any statement is oversized

	_, err := wh.upsertHalving(context.Background(), []*engine.Record{
		warehouseRow(101, "2024-03-01", "Spring Sale", 10),
	}, 0)
	var fatal *engine.FatalSizeError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "record", fatal.Subject)
}
