// Package chunk splits an opaque payload into size-bounded chunks and
// reassembles them.
//
// The remote backend enforces a per-value size limit, so the serialized
// deck is sliced into fixed-size chunks before any write. Chunks are
// addressed by index; the ordered concatenation of chunks 0..n-1
// reconstitutes the payload exactly.
//
// The codec is pure and performs no I/O.
package chunk

import (
	"fmt"
	"strings"
)

// Chunk is one size-bounded fragment of a payload.
type Chunk struct {
	// Index is the chunk's position within the payload, starting at 0.
	Index int

	// Content is the raw fragment. Its length never exceeds the
	// maxChunkSize passed to Split.
	Content string
}

// MissingChunkError indicates that a chunk referenced by a metadata record
// was not present when reassembling a payload. Callers treat this as
// transient corruption and fall back to local data.
type MissingChunkError struct {
	Index int
}

func (e *MissingChunkError) Error() string {
	return fmt.Sprintf("missing chunk %d", e.Index)
}

// Split slices payload into chunks of at most maxChunkSize bytes each.
//
// Slicing is deterministic: fixed-size fragments from offset 0, with only
// the final chunk allowed to be shorter. An empty payload yields zero
// chunks; callers represent it with a batches=0 metadata record rather
// than an empty chunk.
//
// Returns an error if maxChunkSize is less than 1.
func Split(payload string, maxChunkSize int) ([]Chunk, error) {
	if maxChunkSize < 1 {
		return nil, fmt.Errorf("invalid max chunk size %d", maxChunkSize)
	}

	if payload == "" {
		return nil, nil
	}

	chunks := make([]Chunk, 0, (len(payload)+maxChunkSize-1)/maxChunkSize)
	for offset := 0; offset < len(payload); offset += maxChunkSize {
		end := offset + maxChunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, Chunk{
			Index:   len(chunks),
			Content: payload[offset:end],
		})
	}

	return chunks, nil
}

// Join reassembles a payload from chunks.
//
// count is the expected number of chunks, taken from the metadata record.
// The input order does not matter; chunks are concatenated by index.
// Returns a *MissingChunkError if any index in [0, count) is absent.
func Join(chunks []Chunk, count int) (string, error) {
	if count < 0 {
		return "", fmt.Errorf("invalid chunk count %d", count)
	}
	if count == 0 {
		return "", nil
	}

	byIndex := make(map[int]string, len(chunks))
	for _, c := range chunks {
		byIndex[c.Index] = c.Content
	}

	var b strings.Builder
	for i := 0; i < count; i++ {
		content, ok := byIndex[i]
		if !ok {
			return "", &MissingChunkError{Index: i}
		}
		b.WriteString(content)
	}

	return b.String(), nil
}
