package engine

import (
	"encoding/json"
	"fmt"
)

// metadata is the tagged union of remote metadata layouts. The discriminant
// is the presence of the revision field: current records carry one, legacy
// records do not.
type metadata interface {
	isMetadata()
}

// metadataV1 is the current remote layout descriptor, stored as JSON under
// the {base}_meta key. Batches chunks live under {base}_batch_{i}.
type metadataV1 struct {
	Version  int    `json:"version"`
	Revision uint64 `json:"revision"`
	Batches  int    `json:"batches"`
}

// metadataV0 is the legacy layout descriptor, retained only for one-time
// migration. Chunks live under {base}_cardsBatch{i}.
type metadataV0 struct {
	CardsBatches int `json:"cardsBatches"`
}

func (metadataV1) isMetadata() {}
func (metadataV0) isMetadata() {}

// decodeMetadata parses a raw metadata record into the tagged union.
// Returns an error for records that match neither layout.
func decodeMetadata(raw string) (metadata, error) {
	var probe struct {
		Version      *int    `json:"version"`
		Revision     *uint64 `json:"revision"`
		Batches      *int    `json:"batches"`
		CardsBatches *int    `json:"cardsBatches"`
	}
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return nil, fmt.Errorf("unparsable metadata record: %w", err)
	}

	if probe.Revision != nil {
		m := metadataV1{Version: 1, Revision: *probe.Revision}
		if probe.Version != nil {
			m.Version = *probe.Version
		}
		if probe.Batches != nil {
			m.Batches = *probe.Batches
		}
		return m, nil
	}

	if probe.CardsBatches != nil {
		return metadataV0{CardsBatches: *probe.CardsBatches}, nil
	}

	return nil, fmt.Errorf("unrecognized metadata record")
}

// encodeMetadata serializes a current-layout descriptor.
func encodeMetadata(m metadataV1) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(data), nil
}
