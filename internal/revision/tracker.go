// Package revision tracks the local and server revision counters that
// drive sync decisions.
//
// The deck has unsaved changes exactly when the local revision is ahead of
// the last known server revision. The tracker owns this state, persists the
// counters through the local store, and publishes every change to
// subscribers so the UI layer can render sync status without polling.
package revision

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"
)

// State is a snapshot of the tracker's revision tuple.
type State struct {
	// LocalRevision counts local saves. Monotonically non-decreasing
	// except on Reset or when overwritten by a confirmed-newer server
	// value.
	LocalRevision uint64

	// ServerRevision is the last revision known to be durably stored on
	// the backend.
	ServerRevision uint64

	// HasUnsavedChanges is true exactly when LocalRevision > ServerRevision.
	HasUnsavedChanges bool

	// Syncing is true while a sync attempt is in flight. Advisory only.
	Syncing bool

	// LastSyncError holds the failure reason of the most recent attempt,
	// or "" after a successful sync.
	LastSyncError string

	// LastSyncAttempt is when the most recent sync attempt started.
	LastSyncAttempt time.Time

	// LastSaved is when the local revision last advanced.
	LastSaved time.Time
}

// Subscriber receives state snapshots: once immediately on subscription and
// again after every mutation. A panicking subscriber is isolated and does
// not block the others.
type Subscriber func(State)

// KV is the slice of the local store the tracker persists its counters
// through. Satisfied by *kvstore.Store.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// Tracker owns the revision state. It is the sole writer of the persisted
// counters.
type Tracker struct {
	kv      KV
	baseKey string
	logger  *log.Logger

	mu          sync.Mutex
	state       State
	subscribers map[int]Subscriber
	nextSubID   int
}

// NewTracker creates a Tracker, loading persisted counters from kv.
// Missing or unparsable persisted values are coerced to 0.
//
// If logger is nil, a default logger writing to stderr is used.
func NewTracker(kv KV, baseKey string, logger *log.Logger) (*Tracker, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[revision] ", log.LstdFlags)
	}

	t := &Tracker{
		kv:          kv,
		baseKey:     baseKey,
		logger:      logger,
		subscribers: make(map[int]Subscriber),
	}

	local, err := t.loadCounter(t.localKey())
	if err != nil {
		return nil, err
	}
	server, err := t.loadCounter(t.serverKey())
	if err != nil {
		return nil, err
	}

	t.state.LocalRevision = local
	t.state.ServerRevision = server
	t.state.HasUnsavedChanges = local > server

	return t, nil
}

func (t *Tracker) localKey() string  { return t.baseKey + "_revision" }
func (t *Tracker) serverKey() string { return t.baseKey + "_server_revision" }

// loadCounter reads a persisted counter, coercing absent or invalid values
// to 0.
func (t *Tracker) loadCounter(key string) (uint64, error) {
	raw, ok, err := t.kv.Get(key)
	if err != nil {
		return 0, fmt.Errorf("failed to load %s: %w", key, err)
	}
	if !ok {
		return 0, nil
	}

	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		t.logger.Printf("Warning: invalid persisted value for %s (%q), using 0", key, raw)
		return 0, nil
	}
	return n, nil
}

// State returns a snapshot of the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// NeedsCloudWrite reports whether local changes are waiting to be pushed.
func (t *Tracker) NeedsCloudWrite() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.LocalRevision > t.state.ServerRevision
}

// NeedsCloudRead reports whether the server may hold data at least as new
// as the local copy.
func (t *Tracker) NeedsCloudRead() bool {
	return !t.NeedsCloudWrite()
}

// SetLocalRevision persists n as the local revision and notifies
// subscribers.
func (t *Tracker) SetLocalRevision(n uint64) error {
	t.mu.Lock()
	if err := t.persistLocked(t.localKey(), n); err != nil {
		t.mu.Unlock()
		return err
	}
	t.state.LocalRevision = n
	t.state.HasUnsavedChanges = t.state.LocalRevision > t.state.ServerRevision
	t.notifyLocked()
	return nil
}

// SetServerRevision persists n as the server revision and notifies
// subscribers.
func (t *Tracker) SetServerRevision(n uint64) error {
	t.mu.Lock()
	if err := t.persistLocked(t.serverKey(), n); err != nil {
		t.mu.Unlock()
		return err
	}
	t.state.ServerRevision = n
	t.state.HasUnsavedChanges = t.state.LocalRevision > t.state.ServerRevision
	t.notifyLocked()
	return nil
}

// IncrementLocalRevision advances the local revision by one and stamps the
// save time.
func (t *Tracker) IncrementLocalRevision() error {
	t.mu.Lock()
	next := t.state.LocalRevision + 1
	if err := t.persistLocked(t.localKey(), next); err != nil {
		t.mu.Unlock()
		return err
	}
	t.state.LocalRevision = next
	t.state.LastSaved = time.Now()
	t.state.HasUnsavedChanges = t.state.LocalRevision > t.state.ServerRevision
	t.notifyLocked()
	return nil
}

// MarkSyncing records that a sync attempt has started.
func (t *Tracker) MarkSyncing() {
	t.mu.Lock()
	t.state.Syncing = true
	t.state.LastSyncAttempt = time.Now()
	t.notifyLocked()
}

// MarkSynced records a successful sync attempt. The server revision is
// updated to newServerRevision (the revision that is now durably stored).
func (t *Tracker) MarkSynced(newServerRevision uint64) error {
	t.mu.Lock()
	if err := t.persistLocked(t.serverKey(), newServerRevision); err != nil {
		// Subscribers still need to see the attempt end.
		t.state.Syncing = false
		t.state.LastSyncError = err.Error()
		t.notifyLocked()
		return err
	}
	t.state.ServerRevision = newServerRevision
	t.state.Syncing = false
	t.state.LastSyncError = ""
	t.state.HasUnsavedChanges = t.state.LocalRevision > t.state.ServerRevision
	t.notifyLocked()
	return nil
}

// MarkSyncFailed records a failed sync attempt. The revision counters are
// untouched, so HasUnsavedChanges survives the failure.
func (t *Tracker) MarkSyncFailed(reason string) {
	t.mu.Lock()
	t.state.Syncing = false
	t.state.LastSyncError = reason
	t.notifyLocked()
}

// MarkUpdatedFromServer records that local state was discarded in favor of
// the server's copy at serverRevision. Both counters are set to it, so
// HasUnsavedChanges becomes false.
func (t *Tracker) MarkUpdatedFromServer(serverRevision uint64) error {
	t.mu.Lock()
	if err := t.persistLocked(t.localKey(), serverRevision); err != nil {
		t.mu.Unlock()
		return err
	}
	if err := t.persistLocked(t.serverKey(), serverRevision); err != nil {
		t.mu.Unlock()
		return err
	}
	t.state.LocalRevision = serverRevision
	t.state.ServerRevision = serverRevision
	t.state.HasUnsavedChanges = false
	t.notifyLocked()
	return nil
}

// Reset zeroes both counters and clears their persisted copies.
func (t *Tracker) Reset() error {
	t.mu.Lock()
	if err := t.kv.Delete(t.localKey()); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("failed to clear local revision: %w", err)
	}
	if err := t.kv.Delete(t.serverKey()); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("failed to clear server revision: %w", err)
	}
	t.state = State{}
	t.notifyLocked()
	return nil
}

// Subscribe registers fn and invokes it immediately with the current state.
// The returned function removes the subscription.
func (t *Tracker) Subscribe(fn Subscriber) (unsubscribe func()) {
	t.mu.Lock()
	t.nextSubID++
	id := t.nextSubID
	t.subscribers[id] = fn
	snapshot := t.state
	t.mu.Unlock()

	t.invoke(fn, snapshot)

	return func() {
		t.mu.Lock()
		delete(t.subscribers, id)
		t.mu.Unlock()
	}
}

// persistLocked writes a counter to the store. Caller holds t.mu.
func (t *Tracker) persistLocked(key string, n uint64) error {
	if err := t.kv.Set(key, strconv.FormatUint(n, 10)); err != nil {
		return fmt.Errorf("failed to persist %s: %w", key, err)
	}
	return nil
}

// notifyLocked snapshots the state and subscriber list, releases the lock,
// and invokes each subscriber. Caller holds t.mu; the lock is released on
// return.
func (t *Tracker) notifyLocked() {
	snapshot := t.state
	subs := make([]Subscriber, 0, len(t.subscribers))
	for _, fn := range t.subscribers {
		subs = append(subs, fn)
	}
	t.mu.Unlock()

	for _, fn := range subs {
		t.invoke(fn, snapshot)
	}
}

// invoke calls a subscriber with panic isolation so one failing observer
// cannot block the others.
func (t *Tracker) invoke(fn Subscriber, s State) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Printf("Warning: subscriber panicked: %v", r)
		}
	}()
	fn(s)
}
