package storage

import (
	"github.com/arwahdevops/adsync/internal/engine"
)

// PendingBuffer accumulates records between flushes, deduplicating on the
// unique key with last-write-wins semantics while preserving the insertion
// order of first appearance.
type PendingBuffer struct {
	key   engine.UniqueKey
	max   int
	order []string
	byKey map[string]*engine.Record
}

func NewPendingBuffer(key engine.UniqueKey, max int) *PendingBuffer {
	return &PendingBuffer{
		key:   key,
		max:   max,
		byKey: make(map[string]*engine.Record),
	}
}

// Add buffers rec and reports whether the buffer has reached its flush
// threshold. Records whose unique key cannot be computed are rejected.
func (b *PendingBuffer) Add(rec *engine.Record) (full bool, err error) {
	ks, err := b.key.KeyString(rec)
	if err != nil {
		return false, err
	}
	if _, seen := b.byKey[ks]; !seen {
		b.order = append(b.order, ks)
	}
	b.byKey[ks] = rec
	return len(b.order) >= b.max, nil
}

func (b *PendingBuffer) Len() int { return len(b.order) }

// Drain returns the buffered records in insertion order and resets the
// buffer.
func (b *PendingBuffer) Drain() []*engine.Record {
	out := make([]*engine.Record, 0, len(b.order))
	for _, ks := range b.order {
		out = append(out, b.byKey[ks])
	}
	b.order = nil
	b.byKey = make(map[string]*engine.Record)
	return out
}
