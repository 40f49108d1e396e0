package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/arwahdevops/adsync/internal/config"
	"github.com/arwahdevops/adsync/internal/db"
	"github.com/arwahdevops/adsync/internal/engine"
	"github.com/arwahdevops/adsync/internal/metrics"
	"github.com/arwahdevops/adsync/internal/utils"
)

// s3API is the slice of the S3 client the lakehouse uses; narrowed for
// tests.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Lakehouse stages each flush as NDJSON on S3, exposes the staged objects
// to the lake SQL engine as a temporary external table, merges it into the
// target table and cleans both up. The target table lives in the same
// engine the warehouse uses, reached through the shared GORM connection.
type Lakehouse struct {
	warehouse *Warehouse // table bootstrap and column evolution are identical
	conn      *db.Connector
	s3c       s3API
	bucket    string
	prefix    string
	table     string
	key       engine.UniqueKey
	schema    engine.Schema
	buffer    *PendingBuffer
	metrics   *metrics.Store
	logger    *zap.Logger
	flushSeq  int
}

func NewLakehouse(ctx context.Context, conn *db.Connector, table string, key engine.UniqueKey, schema engine.Schema, cfg *config.Config, m *metrics.Store, logger *zap.Logger) (*Lakehouse, error) {
	wh, err := NewWarehouse(conn, table, key, schema, cfg, m, logger)
	if err != nil {
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.LakeS3Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &Lakehouse{
		warehouse: wh,
		conn:      conn,
		s3c:       s3.NewFromConfig(awsCfg),
		bucket:    cfg.LakeS3Bucket,
		prefix:    strings.TrimSuffix(cfg.LakeS3Prefix, "/"),
		table:     table,
		key:       key,
		schema:    schema,
		buffer:    NewPendingBuffer(key, cfg.MaxBufferedRecords),
		metrics:   m,
		logger:    logger.Named("lakehouse-storage").With(zap.String("table", table)),
	}, nil
}

var _ engine.UpsertStorage = (*Lakehouse)(nil)

func (l *Lakehouse) Init(ctx context.Context) error {
	return l.warehouse.Init(ctx)
}

func (l *Lakehouse) Save(ctx context.Context, records []*engine.Record) error {
	for _, rec := range records {
		full, err := l.buffer.Add(rec)
		if err != nil {
			l.logger.Warn("Skipping record without a complete unique key.", zap.Error(err))
			continue
		}
		if full {
			if err := l.flush(ctx); err != nil {
				return err
			}
		}
	}
	return l.flush(ctx)
}

func (l *Lakehouse) Flush(ctx context.Context) error {
	return l.flush(ctx)
}

func (l *Lakehouse) Close(ctx context.Context) error { return nil }

func (l *Lakehouse) flush(ctx context.Context) error {
	if l.buffer.Len() == 0 {
		return nil
	}
	records := l.buffer.Drain()
	if err := l.warehouse.ensureColumns(ctx, records); err != nil {
		return err
	}

	start := time.Now()
	err := l.stageAndMerge(ctx, records)
	status := "success"
	if err != nil {
		status = "failure"
	}
	l.metrics.FlushDuration.WithLabelValues(l.table, status).Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	l.metrics.BatchesFlushedTotal.WithLabelValues(l.table, "lakehouse").Inc()
	l.metrics.RowsUpsertedTotal.WithLabelValues(l.table).Add(float64(len(records)))
	return nil
}

func (l *Lakehouse) stageAndMerge(ctx context.Context, records []*engine.Record) error {
	l.flushSeq++
	objectKey := fmt.Sprintf("%s/%s/%s/part-%04d.ndjson",
		l.prefix, l.table, time.Now().UTC().Format("20060102T150405Z"), l.flushSeq)

	body, err := renderNDJSON(records)
	if err != nil {
		return err
	}
	_, err = l.s3c.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(l.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("stage batch to s3://%s/%s: %w", l.bucket, objectKey, err)
	}
	l.logger.Debug("Staged batch to S3.",
		zap.String("object", objectKey),
		zap.Int("rows", len(records)),
		zap.Int("bytes", len(body)))

	tempTable := fmt.Sprintf("%s_staging_%d", l.table, l.flushSeq)
	location := fmt.Sprintf("s3://%s/%s", l.bucket, objectKey[:strings.LastIndex(objectKey, "/")])
	columns := l.collectColumns(records)

	gdb := l.conn.DB.WithContext(ctx)
	if err := gdb.Exec(l.buildExternalTable(tempTable, columns, location)).Error; err != nil {
		return fmt.Errorf("create staging table %s: %w", tempTable, err)
	}
	// Staging table and object are removed even when the merge fails.
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		if dErr := l.conn.DB.WithContext(cleanupCtx).
			Exec("DROP TABLE IF EXISTS " + utils.QuoteIdentifier(tempTable, l.conn.Dialect)).Error; dErr != nil {
			l.logger.Warn("Failed to drop staging table.", zap.String("table", tempTable), zap.Error(dErr))
		}
		if _, dErr := l.s3c.DeleteObject(cleanupCtx, &s3.DeleteObjectInput{
			Bucket: aws.String(l.bucket),
			Key:    aws.String(objectKey),
		}); dErr != nil {
			l.logger.Warn("Failed to delete staged object.", zap.String("object", objectKey), zap.Error(dErr))
		}
	}()

	if err := gdb.Exec(l.buildMerge(tempTable, columns)).Error; err != nil {
		return fmt.Errorf("merge staging into %s: %w", l.table, err)
	}
	return nil
}

func (l *Lakehouse) collectColumns(records []*engine.Record) []string {
	columns := NewColumnSet(l.key...)
	for _, rec := range records {
		for _, name := range rec.FieldNames() {
			columns.Add(name)
		}
	}
	return columns.Names()
}

// buildExternalTable declares the staged NDJSON prefix as a readable table
// in the lake engine.
func (l *Lakehouse) buildExternalTable(tempTable string, columns []string, location string) string {
	cols := make([]string, len(columns))
	for i, name := range columns {
		cols[i] = fmt.Sprintf("%s %s",
			utils.QuoteIdentifier(name, l.conn.Dialect),
			ColumnType(l.schema, name, l.conn.Dialect))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s) WITH (format = 'JSON', external_location = %s)",
		utils.QuoteIdentifier(tempTable, l.conn.Dialect),
		strings.Join(cols, ", "),
		utils.QuoteStringLiteral(location))
}

func (l *Lakehouse) buildMerge(tempTable string, columns []string) string {
	quote := func(n string) string { return utils.QuoteIdentifier(n, l.conn.Dialect) }
	isKey := make(map[string]bool, len(l.key))
	var on []string
	for _, k := range l.key {
		isKey[k] = true
		on = append(on, fmt.Sprintf("t.%s = s.%s", quote(k), quote(k)))
	}

	var sets, insertCols, insertVals []string
	for _, name := range columns {
		insertCols = append(insertCols, quote(name))
		insertVals = append(insertVals, "s."+quote(name))
		if !isKey[name] {
			sets = append(sets, fmt.Sprintf("%s = s.%s", quote(name), quote(name)))
		}
	}

	return fmt.Sprintf(
		"MERGE INTO %s AS t USING %s AS s ON %s WHEN MATCHED THEN UPDATE SET %s WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)",
		quote(l.table), quote(tempTable),
		strings.Join(on, " AND "),
		strings.Join(sets, ", "),
		strings.Join(insertCols, ", "),
		strings.Join(insertVals, ", "))
}

// renderNDJSON renders one JSON object per line, the staging format the
// lake engine reads natively.
func renderNDJSON(records []*engine.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		obj := make(map[string]interface{}, rec.Len())
		for _, name := range rec.FieldNames() {
			v, _ := rec.Get(name)
			obj[name] = v
		}
		if err := enc.Encode(obj); err != nil {
			return nil, fmt.Errorf("encode staging row: %w", err)
		}
	}
	return buf.Bytes(), nil
}
