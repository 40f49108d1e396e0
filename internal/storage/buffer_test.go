package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arwahdevops/adsync/internal/engine"
)

func bufferRecord(id int64, date string, clicks int64) *engine.Record {
	rec := engine.NewRecord()
	rec.Set("campaign_id", id)
	rec.Set("date", date)
	rec.Set("clicks", clicks)
	return rec
}

func TestPendingBufferLastWriteWins(t *testing.T) {
	buf := NewPendingBuffer(engine.UniqueKey{"campaign_id", "date"}, 10)

	full, err := buf.Add(bufferRecord(1, "2024-03-01", 5))
	require.NoError(t, err)
	assert.False(t, full)
	_, err = buf.Add(bufferRecord(2, "2024-03-01", 9))
	require.NoError(t, err)
	_, err = buf.Add(bufferRecord(1, "2024-03-01", 7)) // same key, newer value
	require.NoError(t, err)

	assert.Equal(t, 2, buf.Len())
	records := buf.Drain()
	require.Len(t, records, 2)

	// Insertion order of first appearance, with the later value.
	id, _ := records[0].Get("campaign_id")
	clicks, _ := records[0].Get("clicks")
	assert.Equal(t, int64(1), id)
	assert.Equal(t, int64(7), clicks)

	assert.Equal(t, 0, buf.Len(), "drain must reset the buffer")
}

func TestPendingBufferFullThreshold(t *testing.T) {
	buf := NewPendingBuffer(engine.UniqueKey{"campaign_id", "date"}, 2)

	full, err := buf.Add(bufferRecord(1, "2024-03-01", 1))
	require.NoError(t, err)
	assert.False(t, full)

	// A duplicate key does not grow the buffer.
	full, err = buf.Add(bufferRecord(1, "2024-03-01", 2))
	require.NoError(t, err)
	assert.False(t, full)

	full, err = buf.Add(bufferRecord(2, "2024-03-01", 3))
	require.NoError(t, err)
	assert.True(t, full)
}

func TestPendingBufferRejectsIncompleteKeys(t *testing.T) {
	buf := NewPendingBuffer(engine.UniqueKey{"campaign_id", "date"}, 10)

	rec := engine.NewRecord()
	rec.Set("campaign_id", int64(1))
	_, err := buf.Add(rec)
	assert.Error(t, err)
	assert.Equal(t, 0, buf.Len())
}
