package remote

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"
)

// Config holds Store configuration.
type Config struct {
	// Timeout bounds every backend operation. If the backend's callback
	// has not fired within this window, the operation fails with
	// ErrTimeout.
	Timeout time.Duration

	// Logger for store activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Timeout: 12 * time.Second,
		Logger:  log.New(os.Stderr, "[remote] ", log.LstdFlags),
	}
}

// Store is a timeout-wrapped adapter over a Backend.
//
// At construction, if the primary backend reports itself available it is
// used; otherwise the fallback is used. The selection is fixed for the
// lifetime of the Store.
type Store struct {
	backend  Backend
	fallback bool
	timeout  time.Duration
	logger   *log.Logger
}

// NewStore creates a Store over primary, degrading to fallback when primary
// is nil or reports itself unavailable.
//
// fallback must not be nil; it is typically a LocalBackend over the same
// durable store that holds the local cache.
func NewStore(primary, fallback Backend, config *Config) *Store {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	s := &Store{
		backend: primary,
		timeout: config.Timeout,
		logger:  config.Logger,
	}

	if primary == nil || !primary.Available() {
		s.backend = fallback
		s.fallback = true
		s.logger.Println("No remote backend available, using local fallback store")
	}

	return s
}

// UsingFallback reports whether the Store selected the local fallback at
// construction.
func (s *Store) UsingFallback() bool {
	return s.fallback
}

// MaxValueSize returns the selected backend's per-value size limit.
func (s *Store) MaxValueSize() int {
	return s.backend.MaxValueSize()
}

// Set stores value under key.
//
// Returns an error if value exceeds the backend's size limit; oversized
// payloads must be chunked before reaching the store.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if max := s.backend.MaxValueSize(); max > 0 && len(value) > max {
		return fmt.Errorf("value for key %q is %d bytes, exceeds backend limit %d", key, len(value), max)
	}

	done := make(chan error, 1)
	s.backend.Set(key, value, func(err error) {
		done <- err
	})

	if err := s.await(ctx, done); err != nil {
		if err == ErrTimeout || err == ctx.Err() {
			return err
		}
		return &BackendError{Op: "set", Key: key, Err: err}
	}
	return nil
}

// Get fetches the value under key. ok is false if the key is absent.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	type result struct {
		value string
		ok    bool
	}

	res := make(chan result, 1)
	done := make(chan error, 1)
	s.backend.Get(key, func(value string, ok bool, err error) {
		res <- result{value: value, ok: ok}
		done <- err
	})

	if err := s.await(ctx, done); err != nil {
		if err == ErrTimeout || err == ctx.Err() {
			return "", false, err
		}
		return "", false, &BackendError{Op: "get", Key: key, Err: err}
	}

	r := <-res
	return r.value, r.ok, nil
}

// Remove deletes key. Removing an absent key is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	done := make(chan error, 1)
	s.backend.Remove(key, func(err error) {
		done <- err
	})

	if err := s.await(ctx, done); err != nil {
		if err == ErrTimeout || err == ctx.Err() {
			return err
		}
		return &BackendError{Op: "remove", Key: key, Err: err}
	}
	return nil
}

// Keys enumerates all keys on the backend.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	res := make(chan []string, 1)
	done := make(chan error, 1)
	s.backend.Keys(func(keys []string, err error) {
		res <- keys
		done <- err
	})

	if err := s.await(ctx, done); err != nil {
		if err == ErrTimeout || err == ctx.Err() {
			return nil, err
		}
		return nil, &BackendError{Op: "keys", Err: err}
	}

	return <-res, nil
}

// Clear enumerates all keys and removes each. Best-effort: individual
// removal failures are logged and do not stop the sweep.
func (s *Store) Clear(ctx context.Context) error {
	keys, err := s.Keys(ctx)
	if err != nil {
		return fmt.Errorf("failed to enumerate keys for clear: %w", err)
	}

	failed := 0
	for _, key := range keys {
		if err := s.Remove(ctx, key); err != nil {
			s.logger.Printf("Warning: failed to remove key %q: %v", key, err)
			failed++
		}
	}

	if failed > 0 {
		s.logger.Printf("Clear finished with %d of %d removals failed", failed, len(keys))
	}
	return nil
}

// await races the backend's completion against the deadline and the caller's
// context. A late callback after expiry is discarded; the channels are
// buffered so the backend goroutine never blocks.
func (s *Store) await(ctx context.Context, done <-chan error) error {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
