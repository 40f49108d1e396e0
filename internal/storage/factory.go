package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/arwahdevops/adsync/internal/config"
	"github.com/arwahdevops/adsync/internal/db"
	"github.com/arwahdevops/adsync/internal/engine"
	"github.com/arwahdevops/adsync/internal/metrics"
)

// New builds the storage for the configured destination. destConn may be
// nil only for the sheet destination.
func New(ctx context.Context, cfg *config.Config, destConn *db.Connector, key engine.UniqueKey, schema engine.Schema, m *metrics.Store, logger *zap.Logger) (engine.UpsertStorage, error) {
	switch cfg.Destination {
	case config.DestinationWarehouse:
		if destConn == nil {
			return nil, fmt.Errorf("warehouse destination requires a destination DB connection")
		}
		return NewWarehouse(destConn, cfg.DestTable, key, schema, cfg, m, logger)
	case config.DestinationLakehouse:
		if destConn == nil {
			return nil, fmt.Errorf("lakehouse destination requires a destination DB connection")
		}
		return NewLakehouse(ctx, destConn, cfg.DestTable, key, schema, cfg, m, logger)
	case config.DestinationSheet:
		return NewSheet(cfg, cfg.DestTable, key, schema, m, logger)
	default:
		return nil, fmt.Errorf("no storage for destination %q", cfg.Destination)
	}
}
