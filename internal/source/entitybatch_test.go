package source

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arwahdevops/adsync/internal/engine"
)

func idRecord(id string) *engine.Record {
	rec := engine.NewRecord()
	rec.Set("id", id)
	return rec
}

func makeIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%03d", i)
	}
	return ids
}

func TestFetchInBatchesWalksAllIDs(t *testing.T) {
	var calls [][]string
	fetch := func(ctx context.Context, ids []string) ([]*engine.Record, error) {
		calls = append(calls, ids)
		recs := make([]*engine.Record, len(ids))
		for i, id := range ids {
			recs[i] = idRecord(id)
		}
		return recs, nil
	}

	out, err := FetchInBatches(context.Background(), makeIDs(25), 10, fetch, nil, "test", zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, out, 25)
	require.Len(t, calls, 3)
	assert.Len(t, calls[0], 10)
	assert.Len(t, calls[2], 5)
}

func TestFetchInBatchesHalvesOnSizeRejection(t *testing.T) {
	// Reject any batch bigger than 3 ids; 10 ids at batchSize 10 must
	// recurse down to accepted sub-batches and still return every record.
	var maxAccepted int
	fetch := func(ctx context.Context, ids []string) ([]*engine.Record, error) {
		if len(ids) > 3 {
			return nil, &engine.PayloadTooLargeError{Platform: "test", Entities: len(ids)}
		}
		if len(ids) > maxAccepted {
			maxAccepted = len(ids)
		}
		recs := make([]*engine.Record, len(ids))
		for i, id := range ids {
			recs[i] = idRecord(id)
		}
		return recs, nil
	}

	ids := makeIDs(10)
	out, err := FetchInBatches(context.Background(), ids, 10, fetch, nil, "test", zap.NewNop())
	require.NoError(t, err)
	require.Len(t, out, 10)
	assert.LessOrEqual(t, maxAccepted, 3)

	// Order is preserved across the recursion.
	for i, rec := range out {
		v, _ := rec.Get("id")
		assert.Equal(t, ids[i], v)
	}
}

func TestFetchInBatchesSingleIDRejectionIsFatal(t *testing.T) {
	fetch := func(ctx context.Context, ids []string) ([]*engine.Record, error) {
		if len(ids) == 1 {
			return nil, &engine.FatalSizeError{Subject: "keyword"}
		}
		return nil, &engine.PayloadTooLargeError{Platform: "test", Entities: len(ids)}
	}

	_, err := FetchInBatches(context.Background(), makeIDs(4), 4, fetch, nil, "test", zap.NewNop())
	var fatal *engine.FatalSizeError
	require.ErrorAs(t, err, &fatal)
}

func TestFetchInBatchesOtherErrorsAbort(t *testing.T) {
	boom := errors.New("boom")
	var calls int
	fetch := func(ctx context.Context, ids []string) ([]*engine.Record, error) {
		calls++
		return nil, boom
	}

	_, err := FetchInBatches(context.Background(), makeIDs(20), 5, fetch, nil, "test", zap.NewNop())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls, "a non-size error must not be retried or halved")
}
