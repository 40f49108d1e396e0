package source

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/arwahdevops/adsync/internal/config"
	"github.com/arwahdevops/adsync/internal/engine"
	"github.com/arwahdevops/adsync/internal/metrics"
	"github.com/arwahdevops/adsync/internal/secrets"
)

// restAdapter carries what every platform adapter shares: the HTTP client,
// the entity catalog and the field-chunking fetch pipeline. Each platform
// embeds it and contributes its own paging and auth behavior.
type restAdapter struct {
	platform string
	client   *Client
	catalog  Catalog
	cfg      *config.Config
	logger   *zap.Logger
}

func (a *restAdapter) Platform() string { return a.platform }

func (a *restAdapter) UniqueKeyFor(entity string) (engine.UniqueKey, error) {
	spec, err := a.catalog.Get(entity)
	if err != nil {
		return nil, err
	}
	return spec.Key, nil
}

func (a *restAdapter) SchemaFor(entity string) (engine.Schema, error) {
	spec, err := a.catalog.Get(entity)
	if err != nil {
		return engine.Schema{}, err
	}
	return spec.Schema, nil
}

// chunkFetcher fetches all rows for one field chunk (paging internally).
type chunkFetcher func(ctx context.Context, spec engine.FetchSpec, es EntitySpec, fields []string) ([]map[string]interface{}, error)

// fetchChunked is the shared fetch pipeline: resolve the entity, validate
// key coverage, split the field list into platform-sized chunks, fetch each
// chunk and merge the chunk rows back into full records.
func (a *restAdapter) fetchChunked(ctx context.Context, spec engine.FetchSpec, fetchChunk chunkFetcher) ([]*engine.Record, error) {
	es, err := a.catalog.Get(spec.Entity)
	if err != nil {
		return nil, err
	}
	fields := es.FieldsOrDefault(spec.Fields)
	if err := checkKeyCoverage(es, fields); err != nil {
		return nil, err
	}
	if es.Dimensioned && spec.Window == nil {
		return nil, engine.NewConfigurationError("entity %q requires a date window", spec.Entity)
	}

	maxFields := es.MaxFields
	if a.cfg.MaxFieldsPerRequest > 0 {
		maxFields = a.cfg.MaxFieldsPerRequest
	}
	chunks := ChunkFields(fields, es.groupKey(), maxFields)
	if len(chunks) > 1 {
		a.logger.Debug("Field list exceeds per-request ceiling, fetching in chunks.",
			zap.String("entity", spec.Entity),
			zap.Int("fields", len(fields)),
			zap.Int("chunks", len(chunks)))
	}

	chunkRows := make([][]*engine.Record, 0, len(chunks))
	for _, chunkFields := range chunks {
		raws, err := fetchChunk(ctx, spec, es, chunkFields)
		if err != nil {
			return nil, fmt.Errorf("fetch %s fields %v: %w", spec.Entity, chunkFields, err)
		}
		recs := make([]*engine.Record, 0, len(raws))
		for _, raw := range raws {
			recs = append(recs, RecordFromMap(raw, chunkFields, es.Schema))
		}
		chunkRows = append(chunkRows, recs)
	}
	return MergeChunkRows(engine.UniqueKey(es.groupKey()), chunkRows)
}

// groupKey falls back to the unique key when no explicit grouping keys are
// declared.
func (s EntitySpec) groupKey() []string {
	if len(s.GroupingKeys) > 0 {
		return s.GroupingKeys
	}
	return []string(s.Key)
}

// NewAdapter builds the adapter for the configured platform.
func NewAdapter(cfg *config.Config, creds *secrets.APICredentials, m *metrics.Store, logger *zap.Logger) (engine.SourceAdapter, error) {
	switch cfg.Platform {
	case config.PlatformBing:
		return NewBing(cfg, creds, m, logger), nil
	case config.PlatformFacebook:
		return NewFacebook(cfg, creds, m, logger), nil
	case config.PlatformLinkedIn:
		return NewLinkedIn(cfg, creds, m, logger), nil
	case config.PlatformReddit:
		return NewReddit(cfg, creds, m, logger), nil
	case config.PlatformTikTok:
		return NewTikTok(cfg, creds, m, logger), nil
	case config.PlatformX:
		return NewXAds(cfg, creds, m, logger), nil
	default:
		return nil, fmt.Errorf("no adapter for platform %q", cfg.Platform)
	}
}
