package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arwahdevops/adsync/internal/config"
	"github.com/arwahdevops/adsync/internal/db"
	"github.com/arwahdevops/adsync/internal/engine"
	"github.com/arwahdevops/adsync/internal/metrics"
	"github.com/arwahdevops/adsync/internal/utils"
)

// Warehouse converges a SQL table to one row per unique key with a single
// multi-row upsert statement per flush. Statements that render larger than
// the configured byte ceiling are split in half and retried recursively.
type Warehouse struct {
	conn              *db.Connector
	table             string
	key               engine.UniqueKey
	schema            engine.Schema
	buffer            *PendingBuffer
	existing          *ColumnSet
	maxStatementBytes int
	metrics           *metrics.Store
	logger            *zap.Logger
}

func NewWarehouse(conn *db.Connector, table string, key engine.UniqueKey, schema engine.Schema, cfg *config.Config, m *metrics.Store, logger *zap.Logger) (*Warehouse, error) {
	for _, kf := range key {
		if !schema.Has(kf) {
			return nil, &engine.SchemaError{Table: table, Field: kf, Msg: "unique key field not declared in schema"}
		}
	}
	return &Warehouse{
		conn:              conn,
		table:             table,
		key:               key,
		schema:            schema,
		buffer:            NewPendingBuffer(key, cfg.MaxBufferedRecords),
		maxStatementBytes: cfg.MaxStatementBytes,
		metrics:           m,
		logger:            logger.Named("warehouse-storage").With(zap.String("table", table)),
	}, nil
}

var _ engine.UpsertStorage = (*Warehouse)(nil)

// Init probes the destination table, creating it from the declared schema
// when absent, and loads the live column set for evolution checks.
func (w *Warehouse) Init(ctx context.Context) error {
	gdb := w.conn.DB.WithContext(ctx)
	if !gdb.Migrator().HasTable(w.table) {
		w.logger.Info("Destination table does not exist, bootstrapping from schema.",
			zap.Int("columns", len(w.schema.Fields)))
		if err := gdb.Exec(w.buildCreateTable()).Error; err != nil {
			return fmt.Errorf("bootstrap table %s: %w", w.table, err)
		}
		w.existing = NewColumnSet()
		for _, f := range w.schema.Fields {
			w.existing.Add(f.Name)
		}
		return nil
	}

	colTypes, err := gdb.Migrator().ColumnTypes(w.table)
	if err != nil {
		return fmt.Errorf("probe columns of %s: %w", w.table, err)
	}
	w.existing = NewColumnSet()
	for _, ct := range colTypes {
		// Some drivers report probed column names quoted.
		w.existing.Add(utils.UnquoteIdentifier(ct.Name(), w.conn.Dialect))
	}
	w.logger.Debug("Loaded existing destination columns.", zap.Int("columns", w.existing.Len()))
	return nil
}

// Save buffers records last-write-wins and flushes whenever the buffer
// fills, plus once more at the end so a completed Save is fully persisted.
func (w *Warehouse) Save(ctx context.Context, records []*engine.Record) error {
	for _, rec := range records {
		full, err := w.buffer.Add(rec)
		if err != nil {
			// Half-keyed rows cannot be deduplicated; drop them rather
			// than poison the destination.
			w.logger.Warn("Skipping record without a complete unique key.", zap.Error(err))
			continue
		}
		if full {
			if err := w.flush(ctx); err != nil {
				return err
			}
		}
	}
	return w.flush(ctx)
}

func (w *Warehouse) Flush(ctx context.Context) error {
	return w.flush(ctx)
}

// Close is a no-op: the GORM connection is shared and owned by the caller.
func (w *Warehouse) Close(ctx context.Context) error { return nil }

func (w *Warehouse) flush(ctx context.Context) error {
	if w.buffer.Len() == 0 {
		return nil
	}
	records := w.buffer.Drain()
	if err := w.ensureColumns(ctx, records); err != nil {
		return err
	}

	start := time.Now()
	depth, err := w.upsertHalving(ctx, records, 0)
	w.metrics.HalvingDepth.WithLabelValues("statement").Observe(float64(depth))

	status := "success"
	if err != nil {
		status = "failure"
	} else if depth > 0 {
		status = "success_halved"
	}
	w.metrics.FlushDuration.WithLabelValues(w.table, status).Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	w.metrics.BatchesFlushedTotal.WithLabelValues(w.table, "warehouse").Inc()
	w.metrics.RowsUpsertedTotal.WithLabelValues(w.table).Add(float64(len(records)))
	w.logger.Debug("Flushed batch to warehouse.",
		zap.Int("rows", len(records)),
		zap.Int("halving_depth", depth))
	return nil
}

// ensureColumns adds any column appearing in the batch but missing from the
// live table. Evolution is additive only.
func (w *Warehouse) ensureColumns(ctx context.Context, records []*engine.Record) error {
	fields := NewColumnSet()
	for _, rec := range records {
		for _, name := range rec.FieldNames() {
			fields.Add(name)
		}
	}
	for _, name := range w.existing.Missing(fields.Names()) {
		colType := ColumnType(w.schema, name, w.conn.Dialect)
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
			utils.QuoteIdentifier(w.table, w.conn.Dialect),
			utils.QuoteIdentifier(name, w.conn.Dialect),
			colType)
		w.logger.Info("Adding new destination column.",
			zap.String("column", name),
			zap.String("type", colType))
		if err := w.conn.DB.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("add column %s to %s: %w", name, w.table, err)
		}
		w.existing.Add(name)
	}
	return nil
}

// upsertHalving executes one rendered upsert, splitting the record set in
// half whenever the statement text exceeds the byte ceiling. Returns the
// maximum halving depth reached.
func (w *Warehouse) upsertHalving(ctx context.Context, records []*engine.Record, depth int) (int, error) {
	stmt := w.buildUpsert(records)
	if len(stmt) > w.maxStatementBytes {
		if len(records) == 1 {
			return depth, &engine.FatalSizeError{Subject: "record", Bytes: len(stmt), Limit: w.maxStatementBytes}
		}
		mid := len(records) / 2
		w.logger.Warn("Upsert statement exceeds size ceiling, splitting batch.",
			zap.Int("statement_bytes", len(stmt)),
			zap.Int("records", len(records)),
			zap.Int("depth", depth+1))
		dl, err := w.upsertHalving(ctx, records[:mid], depth+1)
		if err != nil {
			return dl, err
		}
		dr, err := w.upsertHalving(ctx, records[mid:], depth+1)
		if dr > dl {
			dl = dr
		}
		return dl, err
	}
	if err := w.conn.DB.WithContext(ctx).Exec(stmt).Error; err != nil {
		return depth, fmt.Errorf("upsert into %s: %w", w.table, err)
	}
	return depth, nil
}

// buildUpsert renders one multi-row INSERT with the dialect's native
// conflict-update clause. Column order is key fields first, then remaining
// fields in first-seen order across the batch.
func (w *Warehouse) buildUpsert(records []*engine.Record) string {
	columns := NewColumnSet(w.key...)
	for _, rec := range records {
		for _, name := range rec.FieldNames() {
			columns.Add(name)
		}
	}
	names := columns.Names()

	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = utils.QuoteIdentifier(n, w.conn.Dialect)
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(utils.QuoteIdentifier(w.table, w.conn.Dialect))
	sb.WriteString(" (")
	sb.WriteString(strings.Join(quoted, ", "))
	sb.WriteString(") VALUES ")

	for i, rec := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j, name := range names {
			if j > 0 {
				sb.WriteString(", ")
			}
			v, _ := rec.Get(name)
			sb.WriteString(RenderValue(v))
		}
		sb.WriteString(")")
	}

	isKey := make(map[string]bool, len(w.key))
	for _, k := range w.key {
		isKey[k] = true
	}
	var updates []string
	if strings.EqualFold(w.conn.Dialect, "mysql") {
		for i, n := range names {
			if !isKey[n] {
				updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", quoted[i], quoted[i]))
			}
		}
		sb.WriteString(" ON DUPLICATE KEY UPDATE ")
		sb.WriteString(strings.Join(updates, ", "))
	} else {
		keyCols := make([]string, len(w.key))
		for i, k := range w.key {
			keyCols[i] = utils.QuoteIdentifier(k, w.conn.Dialect)
		}
		for i, n := range names {
			if !isKey[n] {
				updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", quoted[i], quoted[i]))
			}
		}
		sb.WriteString(" ON CONFLICT (")
		sb.WriteString(strings.Join(keyCols, ", "))
		sb.WriteString(") DO UPDATE SET ")
		sb.WriteString(strings.Join(updates, ", "))
	}
	return sb.String()
}

func (w *Warehouse) buildCreateTable() string {
	var cols []string
	for _, f := range w.schema.Fields {
		colType := ColumnType(w.schema, f.Name, w.conn.Dialect)
		notNull := ""
		if w.keyHas(f.Name) {
			colType = keyColumnType(w.schema, f.Name, w.conn.Dialect)
			notNull = " NOT NULL"
		}
		cols = append(cols, fmt.Sprintf("%s %s%s",
			utils.QuoteIdentifier(f.Name, w.conn.Dialect), colType, notNull))
	}
	keyCols := make([]string, len(w.key))
	for i, k := range w.key {
		keyCols[i] = utils.QuoteIdentifier(k, w.conn.Dialect)
	}
	cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(keyCols, ", ")))

	return fmt.Sprintf("CREATE TABLE %s (%s)",
		utils.QuoteIdentifier(w.table, w.conn.Dialect), strings.Join(cols, ", "))
}

func (w *Warehouse) keyHas(name string) bool {
	for _, k := range w.key {
		if k == name {
			return true
		}
	}
	return false
}
