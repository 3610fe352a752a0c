// Package remote adapts the asynchronous, size-limited key-value backend
// into synchronous, timeout-bounded operations for the sync core.
//
// The backend is callback-style: every operation reports completion through
// a callback that may fire on any goroutine, at any time, or never. Store
// wraps each call in a channel and races the completion against a deadline,
// so the rest of the core can use ordinary sequential code.
//
// If no backend is available at construction, Store transparently degrades
// to a local fallback. The selection is fixed for the lifetime of the
// Store; there is no mid-session failover.
package remote

import (
	"errors"
	"fmt"
)

// ErrTimeout indicates the backend did not invoke its completion callback
// within the configured deadline. The operation may still complete on the
// backend later; callers must treat the outcome as unknown and rely on the
// local cache until a later attempt fully succeeds.
var ErrTimeout = errors.New("remote operation timed out")

// BackendError wraps a failure reported by the backend itself.
type BackendError struct {
	Op  string
	Key string
	Err error
}

func (e *BackendError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("backend %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("backend %s %q failed: %v", e.Op, e.Key, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Backend is the asynchronous key-value service the deck is mirrored into.
//
// Implementations invoke the completion callback exactly once per call,
// possibly from another goroutine. A backend that never invokes the
// callback surfaces to callers as ErrTimeout via Store.
type Backend interface {
	// Available reports whether the backend can currently serve requests.
	// Store consults this once, at construction.
	Available() bool

	// MaxValueSize returns the backend's per-value size limit in bytes.
	// Values larger than this must be chunked before Set is called.
	MaxValueSize() int

	// Set stores value under key and invokes done with the outcome.
	Set(key, value string, done func(err error))

	// Get fetches the value under key. ok is false if the key is absent.
	Get(key string, done func(value string, ok bool, err error))

	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string, done func(err error))

	// Keys enumerates all stored keys.
	Keys(done func(keys []string, err error))
}
