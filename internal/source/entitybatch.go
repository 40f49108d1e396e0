package source

import (
	"context"

	"go.uber.org/zap"

	"github.com/arwahdevops/adsync/internal/engine"
	"github.com/arwahdevops/adsync/internal/metrics"
)

// BatchFetchFunc performs one bulk request for the given entity IDs.
type BatchFetchFunc func(ctx context.Context, ids []string) ([]*engine.Record, error)

// FetchInBatches walks ids in batches of batchSize, calling fetch for each.
// A size-limit rejection splits the offending batch in half and retries the
// halves recursively; any other error aborts the whole fetch. A batch of
// one that is still rejected surfaces a FatalSizeError from the fetch
// function unchanged.
func FetchInBatches(
	ctx context.Context,
	ids []string,
	batchSize int,
	fetch BatchFetchFunc,
	m *metrics.Store,
	subject string,
	logger *zap.Logger,
) ([]*engine.Record, error) {
	if batchSize < 1 {
		batchSize = 1
	}
	var out []*engine.Record
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		recs, depth, err := fetchHalving(ctx, ids[start:end], fetch, 0, logger)
		if m != nil {
			m.HalvingDepth.WithLabelValues(subject).Observe(float64(depth))
		}
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

// fetchHalving returns the records plus the maximum halving depth reached.
func fetchHalving(
	ctx context.Context,
	ids []string,
	fetch BatchFetchFunc,
	depth int,
	logger *zap.Logger,
) ([]*engine.Record, int, error) {
	recs, err := fetch(ctx, ids)
	if err == nil {
		return recs, depth, nil
	}
	if !engine.IsPayloadTooLarge(err) || len(ids) <= 1 {
		return nil, depth, err
	}

	mid := len(ids) / 2
	logger.Warn("Bulk request rejected for size, splitting batch in half.",
		zap.Int("batch_size", len(ids)),
		zap.Int("depth", depth+1),
		zap.Error(err))

	left, dl, err := fetchHalving(ctx, ids[:mid], fetch, depth+1, logger)
	if err != nil {
		return nil, dl, err
	}
	right, dr, err := fetchHalving(ctx, ids[mid:], fetch, depth+1, logger)
	if err != nil {
		return nil, dr, err
	}
	if dr > dl {
		dl = dr
	}
	return append(left, right...), dl, nil
}
