package source

import (
	"fmt"

	"github.com/arwahdevops/adsync/internal/engine"
)

// ChunkFields splits a requested field list into chunks of at most
// maxPerRequest fields, prepending the grouping keys to every chunk so the
// rows of different chunks can be matched back together. maxPerRequest <= 0
// or a field list that already fits yields a single chunk.
func ChunkFields(fields, groupingKeys []string, maxPerRequest int) [][]string {
	isKey := make(map[string]bool, len(groupingKeys))
	for _, k := range groupingKeys {
		isKey[k] = true
	}
	rest := make([]string, 0, len(fields))
	for _, f := range fields {
		if !isKey[f] {
			rest = append(rest, f)
		}
	}

	if maxPerRequest <= 0 || len(groupingKeys)+len(rest) <= maxPerRequest {
		chunk := append(append([]string{}, groupingKeys...), rest...)
		return [][]string{chunk}
	}

	per := maxPerRequest - len(groupingKeys)
	if per < 1 {
		per = 1
	}

	var chunks [][]string
	for start := 0; start < len(rest); start += per {
		end := start + per
		if end > len(rest) {
			end = len(rest)
		}
		chunk := append(append([]string{}, groupingKeys...), rest[start:end]...)
		chunks = append(chunks, chunk)
	}
	return chunks
}

// MergeChunkRows reassembles the per-chunk row sets of one logical fetch
// into full rows, matched on the grouping key values. The first chunk
// establishes row identity and order; rows from later chunks merge into
// their match, and rows without a match are appended at the end.
func MergeChunkRows(groupingKeys engine.UniqueKey, chunks [][]*engine.Record) ([]*engine.Record, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	if len(chunks) == 1 {
		return chunks[0], nil
	}

	var merged []*engine.Record
	index := make(map[string]*engine.Record)

	for i, chunk := range chunks {
		for _, rec := range chunk {
			key, err := groupingKeys.KeyString(rec)
			if err != nil {
				return nil, fmt.Errorf("chunk %d row not matchable: %w", i, err)
			}
			if existing, ok := index[key]; ok {
				existing.Merge(rec)
				continue
			}
			index[key] = rec
			merged = append(merged, rec)
		}
	}
	return merged, nil
}
