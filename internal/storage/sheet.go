package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/arwahdevops/adsync/internal/config"
	"github.com/arwahdevops/adsync/internal/engine"
	"github.com/arwahdevops/adsync/internal/metrics"
)

// Sheet converges a spreadsheet tab through its grid REST API. The first
// row is the header; data rows are matched on the unique key and updated
// cell by cell, writing only cells whose value actually changed. Numeric
// cells are compared as decimals so "12.50" and "12.5" do not churn.
type Sheet struct {
	client  *resty.Client
	docID   string
	tab     string
	table   string // metric label only, sheets have no table name
	key     engine.UniqueKey
	schema  engine.Schema
	buffer  *PendingBuffer
	metrics *metrics.Store
	logger  *zap.Logger

	header    []string
	headerIdx map[string]int
	grid      [][]string     // cached cell values, row 0 is the header
	rowByKey  map[string]int // 0-based index into grid
}

func NewSheet(cfg *config.Config, table string, key engine.UniqueKey, schema engine.Schema, m *metrics.Store, logger *zap.Logger) (*Sheet, error) {
	for _, kf := range key {
		if !schema.Has(kf) {
			return nil, &engine.SchemaError{Table: table, Field: kf, Msg: "unique key field not declared in schema"}
		}
	}
	client := resty.New().
		SetBaseURL(cfg.SheetBaseURL).
		SetTimeout(cfg.APITimeout).
		SetHeader("Accept", "application/json")
	if cfg.SheetAPIToken != "" {
		client.SetAuthToken(cfg.SheetAPIToken)
	}
	return &Sheet{
		client:  client,
		docID:   cfg.SheetDocID,
		tab:     cfg.SheetTabName,
		table:   table,
		key:     key,
		schema:  schema,
		buffer:  NewPendingBuffer(key, cfg.MaxBufferedRecords),
		metrics: m,
		logger:  logger.Named("sheet-storage").With(zap.String("tab", cfg.SheetTabName)),
	}, nil
}

var _ engine.UpsertStorage = (*Sheet)(nil)

type sheetValues struct {
	Values [][]string `json:"values"`
}

// Init loads the whole tab into the cache, writing the header row first
// when the tab is empty.
func (s *Sheet) Init(ctx context.Context) error {
	var body sheetValues
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&body).
		Get(fmt.Sprintf("/documents/%s/tabs/%s/values", s.docID, s.tab))
	if err != nil {
		return fmt.Errorf("read sheet tab: %w", err)
	}
	if !resp.IsSuccess() {
		return &engine.APIError{Platform: "sheet", StatusCode: resp.StatusCode(), Message: truncateBody(resp.Body())}
	}

	s.grid = body.Values
	if len(s.grid) == 0 {
		header := make([]string, 0, len(s.schema.Fields))
		for _, f := range s.schema.Fields {
			header = append(header, f.Name)
		}
		if err := s.writeRow(ctx, 0, header); err != nil {
			return fmt.Errorf("write header row: %w", err)
		}
		s.grid = [][]string{header}
	}
	s.header = s.grid[0]
	s.headerIdx = make(map[string]int, len(s.header))
	for i, name := range s.header {
		s.headerIdx[name] = i
	}

	s.rowByKey = make(map[string]int)
	for rowIdx := 1; rowIdx < len(s.grid); rowIdx++ {
		ks, ok := s.rowKey(s.grid[rowIdx])
		if !ok {
			continue // ignore rows without a full key, likely manual edits
		}
		s.rowByKey[ks] = rowIdx
	}
	s.logger.Info("Sheet tab loaded.",
		zap.Int("columns", len(s.header)),
		zap.Int("rows", len(s.grid)-1))
	return nil
}

func (s *Sheet) Save(ctx context.Context, records []*engine.Record) error {
	for _, rec := range records {
		full, err := s.buffer.Add(rec)
		if err != nil {
			s.logger.Warn("Skipping record without a complete unique key.", zap.Error(err))
			continue
		}
		if full {
			if err := s.flush(ctx); err != nil {
				return err
			}
		}
	}
	return s.flush(ctx)
}

func (s *Sheet) Flush(ctx context.Context) error { return s.flush(ctx) }

func (s *Sheet) Close(ctx context.Context) error { return nil }

func (s *Sheet) flush(ctx context.Context) error {
	if s.buffer.Len() == 0 {
		return nil
	}
	records := s.buffer.Drain()
	start := time.Now()
	changed, err := s.applyRecords(ctx, records)
	status := "success"
	if err != nil {
		status = "failure"
	}
	s.metrics.FlushDuration.WithLabelValues(s.table, status).Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	s.metrics.BatchesFlushedTotal.WithLabelValues(s.table, "sheet").Inc()
	s.metrics.RowsUpsertedTotal.WithLabelValues(s.table).Add(float64(len(records)))
	s.logger.Debug("Flushed batch to sheet.",
		zap.Int("rows", len(records)),
		zap.Int("cells_written", changed))
	return nil
}

func (s *Sheet) applyRecords(ctx context.Context, records []*engine.Record) (int, error) {
	if err := s.ensureColumns(ctx, records); err != nil {
		return 0, err
	}

	written := 0
	var updates []cellUpdate
	var appended [][]string

	for _, rec := range records {
		ks, err := s.key.KeyString(rec)
		if err != nil {
			continue // already screened by the buffer
		}
		if rowIdx, ok := s.rowByKey[ks]; ok {
			updates = append(updates, s.diffRow(rowIdx, rec)...)
			continue
		}
		row := s.renderRow(rec)
		appended = append(appended, row)
		s.grid = append(s.grid, row)
		s.rowByKey[ks] = len(s.grid) - 1
	}

	if len(updates) > 0 {
		if err := s.writeCells(ctx, updates); err != nil {
			return written, err
		}
		for _, u := range updates {
			// Cached rows can be shorter than the header: the API omits
			// trailing empty cells, and header evolution widens the grid.
			row := s.grid[u.row]
			for len(row) <= u.col {
				row = append(row, "")
			}
			row[u.col] = u.value
			s.grid[u.row] = row
		}
		written += len(updates)
	}
	if len(appended) > 0 {
		if err := s.appendRows(ctx, appended); err != nil {
			return written, err
		}
		written += len(appended) * len(s.header)
	}
	return written, nil
}

// ensureColumns extends the header for fields the sheet has not seen yet.
func (s *Sheet) ensureColumns(ctx context.Context, records []*engine.Record) error {
	var updates []cellUpdate
	for _, rec := range records {
		for _, name := range rec.FieldNames() {
			if _, ok := s.headerIdx[name]; ok {
				continue
			}
			idx := len(s.header)
			s.header = append(s.header, name)
			s.headerIdx[name] = idx
			s.grid[0] = s.header
			updates = append(updates, cellUpdate{row: 0, col: idx, value: name})
			s.logger.Info("Adding new sheet column.", zap.String("column", name))
		}
	}
	if len(updates) == 0 {
		return nil
	}
	return s.writeCells(ctx, updates)
}

type cellUpdate struct {
	row   int // 0-based
	col   int
	value string
}

// diffRow compares one record against its cached sheet row and returns
// only the cells that differ.
func (s *Sheet) diffRow(rowIdx int, rec *engine.Record) []cellUpdate {
	row := s.grid[rowIdx]
	var updates []cellUpdate
	for _, name := range rec.FieldNames() {
		col, ok := s.headerIdx[name]
		if !ok {
			continue
		}
		v, _ := rec.Get(name)
		want := renderCell(v)
		have := ""
		if col < len(row) {
			have = row[col]
		}
		if !cellEqual(have, want) {
			updates = append(updates, cellUpdate{row: rowIdx, col: col, value: want})
		}
	}
	return updates
}

func (s *Sheet) renderRow(rec *engine.Record) []string {
	row := make([]string, len(s.header))
	for _, name := range rec.FieldNames() {
		if col, ok := s.headerIdx[name]; ok {
			v, _ := rec.Get(name)
			row[col] = renderCell(v)
		}
	}
	return row
}

func (s *Sheet) writeRow(ctx context.Context, rowIdx int, values []string) error {
	updates := make([]cellUpdate, len(values))
	for i, v := range values {
		updates[i] = cellUpdate{row: rowIdx, col: i, value: v}
	}
	return s.writeCells(ctx, updates)
}

type sheetCellPayload struct {
	Range  string     `json:"range"`
	Values [][]string `json:"values"`
}

func (s *Sheet) writeCells(ctx context.Context, updates []cellUpdate) error {
	data := make([]sheetCellPayload, len(updates))
	for i, u := range updates {
		data[i] = sheetCellPayload{
			Range:  fmt.Sprintf("%s!%s%d", s.tab, columnLetter(u.col), u.row+1),
			Values: [][]string{{u.value}},
		}
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"data": data}).
		Post(fmt.Sprintf("/documents/%s/values:batchUpdate", s.docID))
	if err != nil {
		return fmt.Errorf("write %d sheet cells: %w", len(updates), err)
	}
	if !resp.IsSuccess() {
		return &engine.APIError{Platform: "sheet", StatusCode: resp.StatusCode(), Message: truncateBody(resp.Body())}
	}
	return nil
}

func (s *Sheet) appendRows(ctx context.Context, rows [][]string) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"range": s.tab, "values": rows}).
		Post(fmt.Sprintf("/documents/%s/values:append", s.docID))
	if err != nil {
		return fmt.Errorf("append %d sheet rows: %w", len(rows), err)
	}
	if !resp.IsSuccess() {
		return &engine.APIError{Platform: "sheet", StatusCode: resp.StatusCode(), Message: truncateBody(resp.Body())}
	}
	return nil
}

// rowKey recomputes the unique key of a cached sheet row.
func (s *Sheet) rowKey(row []string) (string, bool) {
	key := ""
	for i, name := range s.key {
		col, ok := s.headerIdx[name]
		if !ok || col >= len(row) || row[col] == "" {
			return "", false
		}
		if i > 0 {
			key += "|"
		}
		key += row[col]
	}
	return key, true
}

// cellEqual compares a cached cell against the value to write. When both
// sides parse as decimals they are compared numerically, so formatting
// differences do not count as changes.
func cellEqual(have, want string) bool {
	if have == want {
		return true
	}
	hd, _, errH := apd.NewFromString(have)
	wd, _, errW := apd.NewFromString(want)
	if errH != nil || errW != nil {
		return false
	}
	return hd.Cmp(wd) == 0
}

func renderCell(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case int64:
		return fmt.Sprintf("%d", val)
	case float64:
		return fmt.Sprintf("%g", val)
	default:
		return engine.FlattenValue(val)
	}
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "...(truncated)"
	}
	return string(body)
}

// columnLetter converts a 0-based column index to A1 notation.
func columnLetter(col int) string {
	letters := ""
	for col >= 0 {
		letters = string(rune('A'+col%26)) + letters
		col = col/26 - 1
	}
	return letters
}
