package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/kperron/cardsync/internal/chunk"
)

// MigrationResult contains statistics about a legacy-layout migration.
type MigrationResult struct {
	// Migrated is false when there was nothing to migrate: no remote
	// metadata, or metadata already in the current layout.
	Migrated bool

	// Chunks is the number of chunks written under the current layout.
	Chunks int

	// PayloadBytes is the size of the reassembled payload.
	PayloadBytes int

	// LegacyKeysRemoved counts the legacy chunk keys deleted.
	LegacyKeysRemoved int
}

// MigrateLegacyLayout rewrites remote data stored under the legacy layout
// ({base}_meta with a cardsBatches field, chunks under {base}_cardsBatch{i})
// into the current layout at revision 1, then deletes the legacy chunk
// keys and records revision 1 as the server revision.
//
// Idempotent: metadata already carrying a revision field makes this a
// no-op, so running it twice on the same legacy data is the same as
// running it once.
//
// This is a foreground operation; unlike the background push, failures
// propagate to the caller.
func (e *Engine) MigrateLegacyLayout(ctx context.Context) (*MigrationResult, error) {
	raw, found, err := e.remote.Get(ctx, e.metaKey())
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	if !found {
		return &MigrationResult{}, nil
	}

	meta, err := decodeMetadata(raw)
	if err != nil {
		return nil, err
	}

	v0, isLegacy := meta.(metadataV0)
	if !isLegacy {
		// Already migrated.
		return &MigrationResult{}, nil
	}

	// Reassemble the payload from the legacy chunks. A missing chunk is a
	// hard failure here: migration must not silently drop data.
	legacyChunks := make([]chunk.Chunk, 0, v0.CardsBatches)
	for i := 0; i < v0.CardsBatches; i++ {
		content, found, err := e.remote.Get(ctx, e.legacyBatchKey(i))
		if err != nil {
			return nil, fmt.Errorf("failed to read legacy chunk %d: %w", i, err)
		}
		if !found {
			return nil, fmt.Errorf("legacy data corrupt: %w", &chunk.MissingChunkError{Index: i})
		}
		legacyChunks = append(legacyChunks, chunk.Chunk{Index: i, Content: content})
	}

	payload, err := chunk.Join(legacyChunks, v0.CardsBatches)
	if err != nil {
		return nil, fmt.Errorf("failed to reassemble legacy payload: %w", err)
	}

	// Rewrite under the current layout at revision 1, metadata first.
	chunks, err := chunk.Split(payload, e.chunkSize())
	if err != nil {
		return nil, err
	}

	metaJSON, err := encodeMetadata(metadataV1{Version: 1, Revision: 1, Batches: len(chunks)})
	if err != nil {
		return nil, err
	}
	if err := e.remote.Set(ctx, e.metaKey(), metaJSON); err != nil {
		return nil, fmt.Errorf("failed to write migrated metadata: %w", err)
	}

	for i, c := range chunks {
		if i > 0 && e.config.ChunkWriteDelay > 0 {
			select {
			case <-time.After(e.config.ChunkWriteDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if err := e.remote.Set(ctx, e.batchKey(i), c.Content); err != nil {
			return nil, fmt.Errorf("failed to write migrated chunk %d: %w", i, err)
		}
	}

	// Sweep the legacy chunk keys. Best-effort: the metadata record is
	// already in the current layout, so a leftover key is unreachable
	// garbage, not corruption.
	removed := 0
	for i := 0; i < v0.CardsBatches; i++ {
		if err := e.remote.Remove(ctx, e.legacyBatchKey(i)); err != nil {
			e.logger.Printf("Warning: failed to remove legacy chunk %d: %v", i, err)
			continue
		}
		removed++
	}

	if err := e.tracker.SetServerRevision(1); err != nil {
		return nil, err
	}

	e.logger.Printf("Migrated legacy layout: %d bytes, %d chunks, %d legacy keys removed",
		len(payload), len(chunks), removed)

	return &MigrationResult{
		Migrated:          true,
		Chunks:            len(chunks),
		PayloadBytes:      len(payload),
		LegacyKeysRemoved: removed,
	}, nil
}
