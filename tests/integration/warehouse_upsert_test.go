package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arwahdevops/adsync/internal/config"
	"github.com/arwahdevops/adsync/internal/db"
	"github.com/arwahdevops/adsync/internal/engine"
	"github.com/arwahdevops/adsync/internal/metrics"
	"github.com/arwahdevops/adsync/internal/storage"
)

func testReportSchema() engine.Schema {
	return engine.Schema{Fields: []engine.SchemaField{
		{Name: "campaign_id", Type: engine.FieldInt64},
		{Name: "date", Type: engine.FieldDate, PartitionHint: true},
		{Name: "campaign_name", Type: engine.FieldString},
		{Name: "clicks", Type: engine.FieldInt64},
		{Name: "spend", Type: engine.FieldFloat},
	}}
}

func reportRecord(id int64, date, name string, clicks int64, spend float64) *engine.Record {
	rec := engine.NewRecord()
	rec.Set("campaign_id", id)
	rec.Set("date", date)
	rec.Set("campaign_name", name)
	rec.Set("clicks", clicks)
	rec.Set("spend", spend)
	return rec
}

// TestWarehouseUpsertPostgres runs the warehouse storage end-to-end against
// a real PostgreSQL: bootstrap, idempotent re-save, value update, and
// additive column evolution.
func TestWarehouseUpsertPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in -short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	instance := startPostgresContainer(ctx, t)
	defer stopContainer(ctx, t, instance)

	conn := &db.Connector{DB: instance.DB, Dialect: instance.Dialect}
	cfg := &config.Config{MaxBufferedRecords: 100, MaxStatementBytes: 1_000_000}
	key := engine.UniqueKey{"campaign_id", "date"}

	wh, err := storage.NewWarehouse(conn, "campaign_report", key, testReportSchema(), cfg, metrics.NewMetricsStore(), zap.NewNop())
	require.NoError(t, err)

	// Bootstrap: table does not exist yet.
	require.NoError(t, wh.Init(ctx))
	assert.True(t, instance.DB.Migrator().HasTable("campaign_report"))

	batch := []*engine.Record{
		reportRecord(101, "2024-03-01", "Spring Sale", 10, 12.5),
		reportRecord(102, "2024-03-01", "Brand Push", 4, 3.25),
	}
	require.NoError(t, wh.Save(ctx, batch))

	var count int64
	require.NoError(t, instance.DB.Table("campaign_report").Count(&count).Error)
	assert.EqualValues(t, 2, count)

	// Saving the identical batch again must not create duplicates.
	require.NoError(t, wh.Save(ctx, batch))
	require.NoError(t, instance.DB.Table("campaign_report").Count(&count).Error)
	assert.EqualValues(t, 2, count)

	// An updated row for an existing key converges in place.
	require.NoError(t, wh.Save(ctx, []*engine.Record{
		reportRecord(101, "2024-03-01", "Spring Sale", 42, 55.75),
	}))
	var clicks int64
	require.NoError(t, instance.DB.Table("campaign_report").
		Where("campaign_id = ? AND date = ?", 101, "2024-03-01").
		Pluck("clicks", &clicks).Error)
	assert.EqualValues(t, 42, clicks)
	require.NoError(t, instance.DB.Table("campaign_report").Count(&count).Error)
	assert.EqualValues(t, 2, count)

	// A record carrying an unseen field triggers additive evolution.
	evolved := reportRecord(103, "2024-03-02", "New Launch", 7, 9.0)
	evolved.Set("conversions", int64(3))
	require.NoError(t, wh.Save(ctx, []*engine.Record{evolved}))
	assert.True(t, instance.DB.Migrator().HasColumn("campaign_report", "conversions"))

	var conversions int64
	require.NoError(t, instance.DB.Table("campaign_report").
		Where("campaign_id = ?", 103).
		Pluck("conversions", &conversions).Error)
	assert.EqualValues(t, 3, conversions)
}

// TestWarehouseRejectsHalfKeyedRecords verifies records without a complete
// unique key are skipped, not written.
func TestWarehouseRejectsHalfKeyedRecords(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in -short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	instance := startPostgresContainer(ctx, t)
	defer stopContainer(ctx, t, instance)

	conn := &db.Connector{DB: instance.DB, Dialect: instance.Dialect}
	cfg := &config.Config{MaxBufferedRecords: 100, MaxStatementBytes: 1_000_000}
	key := engine.UniqueKey{"campaign_id", "date"}

	wh, err := storage.NewWarehouse(conn, "campaign_report", key, testReportSchema(), cfg, metrics.NewMetricsStore(), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, wh.Init(ctx))

	halfKeyed := engine.NewRecord()
	halfKeyed.Set("campaign_id", int64(201))
	halfKeyed.Set("campaign_name", "No Date")

	require.NoError(t, wh.Save(ctx, []*engine.Record{
		halfKeyed,
		reportRecord(202, "2024-03-05", "Valid", 1, 0.5),
	}))

	var count int64
	require.NoError(t, instance.DB.Table("campaign_report").Count(&count).Error)
	assert.EqualValues(t, 1, count)
}
