package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/kperron/cardsync/internal/chunk"
	"github.com/kperron/cardsync/internal/kvstore"
	"github.com/kperron/cardsync/internal/remote"
	"github.com/kperron/cardsync/internal/revision"
)

// Config holds engine configuration.
type Config struct {
	// BaseKey prefixes every local and remote key.
	BaseKey string

	// MaxChunkSize caps chunk content length. The effective size is the
	// smaller of this and the backend's own per-value limit.
	MaxChunkSize int

	// PushThrottle is the minimum interval between push attempts. A push
	// requested inside the window returns false without touching the
	// backend.
	PushThrottle time.Duration

	// SyncInterval is the period of the background sync loop.
	SyncInterval time.Duration

	// ChunkWriteDelay is the pause between consecutive chunk writes,
	// respecting the backend's rate limits.
	ChunkWriteDelay time.Duration

	// DefaultPayload seeds a brand-new deck when neither local nor remote
	// data exists.
	DefaultPayload string

	// Logger for engine activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseKey:         "cards",
		MaxChunkSize:    1500,
		PushThrottle:    5 * time.Second,
		SyncInterval:    10 * time.Second,
		ChunkWriteDelay: 100 * time.Millisecond,
		DefaultPayload:  `{"cards":[]}`,
		Logger:          log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// Engine coordinates local persistence, revision tracking, and background
// propagation to the remote store.
//
// Construct one Engine at startup and pass it to collaborators; there is
// no package-level instance. Call Close on shutdown.
type Engine struct {
	kv      *kvstore.Store
	remote  *remote.Store
	tracker *revision.Tracker
	config  *Config
	logger  *log.Logger

	pushMu          sync.Mutex
	pushing         bool
	lastPushAttempt time.Time

	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	running    bool
	wg         sync.WaitGroup
}

// New creates an Engine over the given stores and tracker.
//
// Example:
//
//	kv, err := kvstore.Open(".cardsync/local.db")
//	if err != nil {
//	    return err
//	}
//	tracker, err := revision.NewTracker(kv, "cards", nil)
//	if err != nil {
//	    return err
//	}
//	store := remote.NewStore(backend, remote.NewLocalBackend(kv, 1500), nil)
//	eng := engine.New(kv, store, tracker, nil)
//	defer eng.Close()
func New(kv *kvstore.Store, remoteStore *remote.Store, tracker *revision.Tracker, config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	} else {
		// Work on a copy so filled-in defaults never leak back into the
		// caller's struct.
		copied := *config
		config = &copied
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	if config.BaseKey == "" {
		config.BaseKey = "cards"
	}
	if config.MaxChunkSize <= 0 {
		config.MaxChunkSize = DefaultConfig().MaxChunkSize
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = DefaultConfig().SyncInterval
	}

	return &Engine{
		kv:      kv,
		remote:  remoteStore,
		tracker: tracker,
		config:  config,
		logger:  config.Logger,
	}
}

// Tracker returns the engine's revision tracker, for status subscriptions.
func (e *Engine) Tracker() *revision.Tracker {
	return e.tracker
}

// Close stops the background sync loop. It does not close the underlying
// stores; their lifecycles belong to the caller.
func (e *Engine) Close() error {
	e.StopPeriodicSync()
	return nil
}

func (e *Engine) dataKey() string    { return e.config.BaseKey + "_data" }
func (e *Engine) savedAtKey() string { return e.config.BaseKey + "_saved_at" }
func (e *Engine) metaKey() string    { return e.config.BaseKey + "_meta" }

func (e *Engine) batchKey(i int) string {
	return fmt.Sprintf("%s_batch_%d", e.config.BaseKey, i)
}

func (e *Engine) legacyBatchKey(i int) string {
	return fmt.Sprintf("%s_cardsBatch%d", e.config.BaseKey, i)
}

// chunkSize returns the effective chunk size: the configured cap bounded by
// the backend's per-value limit.
func (e *Engine) chunkSize() int {
	size := e.config.MaxChunkSize
	if max := e.remote.MaxValueSize(); max > 0 && max < size {
		size = max
	}
	return size
}

// LocalPayload returns the cached local payload, if any.
func (e *Engine) LocalPayload() (string, bool, error) {
	payload, ok, err := e.kv.Get(e.dataKey())
	if err != nil {
		return "", false, fmt.Errorf("failed to read local payload: %w", err)
	}
	return payload, ok, nil
}

// Initialize loads the deck at startup and returns the payload the caller
// should operate on.
//
// Decision policy, in order:
//  1. No local payload and no server data: seed the default payload.
//  2. No local payload, or the server is at least as new: attempt a remote
//     read; fall back to the local payload (or the default) on failure.
//  3. Local is strictly ahead: return the local payload unchanged.
//
// If the remote metadata is in the legacy layout, the one-time migration
// runs before the policy is applied. The periodic sync loop is started
// before returning, on every branch.
func (e *Engine) Initialize(ctx context.Context) (string, error) {
	defer e.StartPeriodicSync()

	localPayload, hasLocal, err := e.LocalPayload()
	if err != nil {
		return "", err
	}

	// Learn the server's revision, migrating the legacy layout if found.
	// Remote failures here are not fatal; the session continues on local
	// data.
	raw, found, err := e.remote.Get(ctx, e.metaKey())
	if err != nil {
		e.logger.Printf("Warning: failed to read remote metadata: %v", err)
		found = false
	}
	if found {
		meta, derr := decodeMetadata(raw)
		if derr != nil {
			e.logger.Printf("Warning: %v, ignoring remote data", derr)
		} else {
			switch m := meta.(type) {
			case metadataV0:
				e.logger.Printf("Legacy remote layout detected (%d batches), migrating", m.CardsBatches)
				if _, merr := e.MigrateLegacyLayout(ctx); merr != nil {
					e.logger.Printf("Warning: migration failed: %v", merr)
				}
			case metadataV1:
				if err := e.tracker.SetServerRevision(m.Revision); err != nil {
					return "", err
				}
			}
		}
	}

	st := e.tracker.State()
	switch {
	case !hasLocal && st.ServerRevision == 0:
		if err := e.SaveLocally(e.config.DefaultPayload, false); err != nil {
			return "", err
		}
		e.logger.Println("Seeded default deck")
		return e.config.DefaultPayload, nil

	case !hasLocal || st.LocalRevision <= st.ServerRevision:
		payload, ok, err := e.PullFromRemote(ctx)
		if err != nil {
			e.logger.Printf("Warning: remote read failed: %v", err)
		}
		if ok {
			return payload, nil
		}
		if hasLocal {
			return localPayload, nil
		}
		if err := e.SaveLocally(e.config.DefaultPayload, false); err != nil {
			return "", err
		}
		e.logger.Println("Seeded default deck after unusable remote data")
		return e.config.DefaultPayload, nil

	default:
		// Local is strictly ahead; the background push will catch the
		// server up.
		return localPayload, nil
	}
}

// SaveLocally persists payload to the durable local cache. If
// incrementRevision is true, the local revision advances by one.
//
// When the save leaves local ahead of the server, a background push is
// scheduled; its outcome is observable only through the tracker's status
// subscription, never through this call.
func (e *Engine) SaveLocally(payload string, incrementRevision bool) error {
	if err := e.kv.Set(e.dataKey(), payload); err != nil {
		return fmt.Errorf("failed to persist payload: %w", err)
	}
	if err := e.kv.Set(e.savedAtKey(), time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to persist save time: %w", err)
	}

	if incrementRevision {
		if err := e.tracker.IncrementLocalRevision(); err != nil {
			return err
		}
	}

	if e.tracker.NeedsCloudWrite() {
		go func() {
			if _, err := e.PushToRemote(context.Background()); err != nil {
				e.logger.Printf("Warning: background push failed: %v", err)
			}
		}()
	}

	return nil
}

// PullFromRemote reads the metadata record and the chunks it references,
// reassembles the payload, overwrites the local cache with it, and records
// that both revisions now match the server's.
//
// Returns ok=false without error when the remote holds no usable data:
// absent metadata, an undecodable record, the legacy layout, or a missing
// chunk. The local cache is left untouched in all of those cases; a
// mid-write reader that sees a metadata/chunk mismatch lands here.
func (e *Engine) PullFromRemote(ctx context.Context) (payload string, ok bool, err error) {
	raw, found, err := e.remote.Get(ctx, e.metaKey())
	if err != nil {
		return "", false, fmt.Errorf("failed to read metadata: %w", err)
	}
	if !found {
		return "", false, nil
	}

	meta, err := decodeMetadata(raw)
	if err != nil {
		e.logger.Printf("Warning: %v, treating remote data as unusable", err)
		return "", false, nil
	}

	v1, isCurrent := meta.(metadataV1)
	if !isCurrent {
		e.logger.Println("Warning: remote data uses the legacy layout, run migration first")
		return "", false, nil
	}

	chunks := make([]chunk.Chunk, 0, v1.Batches)
	for i := 0; i < v1.Batches; i++ {
		content, found, err := e.remote.Get(ctx, e.batchKey(i))
		if err != nil {
			return "", false, fmt.Errorf("failed to read chunk %d: %w", i, err)
		}
		if !found {
			e.logger.Printf("Warning: chunk %d of %d missing, treating remote data as unusable", i, v1.Batches)
			return "", false, nil
		}
		chunks = append(chunks, chunk.Chunk{Index: i, Content: content})
	}

	payload, err = chunk.Join(chunks, v1.Batches)
	if err != nil {
		e.logger.Printf("Warning: failed to reassemble payload: %v", err)
		return "", false, nil
	}

	if err := e.kv.Set(e.dataKey(), payload); err != nil {
		return "", false, fmt.Errorf("failed to cache remote payload: %w", err)
	}
	if err := e.tracker.MarkUpdatedFromServer(v1.Revision); err != nil {
		return "", false, err
	}

	e.logger.Printf("Pulled revision %d (%d chunks, %d bytes)", v1.Revision, v1.Batches, len(payload))
	return payload, true, nil
}

// PushToRemote propagates the local payload to the backend.
//
// Returns false without contacting the backend when a push is already in
// flight or the previous attempt was less than the throttle interval ago.
//
// When the server's revision turns out to be ahead of the local one, the
// push resolves the conflict by discarding local unsynced changes and
// pulling the server's payload (server wins). The returned bool then
// reports whether the pull succeeded.
//
// Failures mark the tracker's sync status and leave already-written chunks
// in place; the metadata record is always written before chunks, so a
// retry overwrites everything a partial pass left behind.
func (e *Engine) PushToRemote(ctx context.Context) (bool, error) {
	e.pushMu.Lock()
	if e.pushing {
		e.pushMu.Unlock()
		return false, nil
	}
	if e.config.PushThrottle > 0 && !e.lastPushAttempt.IsZero() &&
		time.Since(e.lastPushAttempt) < e.config.PushThrottle {
		e.pushMu.Unlock()
		return false, nil
	}
	e.pushing = true
	e.lastPushAttempt = time.Now()
	e.pushMu.Unlock()

	defer func() {
		e.pushMu.Lock()
		e.pushing = false
		e.pushMu.Unlock()
	}()

	e.tracker.MarkSyncing()

	if !e.tracker.NeedsCloudWrite() {
		if err := e.tracker.MarkSynced(e.tracker.State().ServerRevision); err != nil {
			return false, err
		}
		return true, nil
	}

	// Re-read the metadata record to learn the authoritative server
	// revision before deciding to write.
	prevBatches := 0
	raw, found, err := e.remote.Get(ctx, e.metaKey())
	if err != nil {
		e.tracker.MarkSyncFailed(err.Error())
		return false, fmt.Errorf("failed to read metadata: %w", err)
	}
	if found {
		meta, derr := decodeMetadata(raw)
		if derr != nil {
			e.logger.Printf("Warning: %v, overwriting remote data", derr)
		} else if v1, isCurrent := meta.(metadataV1); isCurrent {
			if err := e.tracker.SetServerRevision(v1.Revision); err != nil {
				e.tracker.MarkSyncFailed(err.Error())
				return false, err
			}
			prevBatches = v1.Batches
		} else {
			e.logger.Println("Warning: remote data uses the legacy layout, overwriting")
		}
	}

	st := e.tracker.State()
	if st.ServerRevision > st.LocalRevision {
		// Conflict: the server advanced past what this writer knows.
		// Server wins; local unsynced changes are discarded. The data
		// loss is surfaced through the status subscription.
		e.logger.Printf("Conflict: server at revision %d, local at %d; pulling server data",
			st.ServerRevision, st.LocalRevision)
		e.tracker.MarkSyncFailed("server has newer data")
		_, ok, err := e.PullFromRemote(ctx)
		return ok, err
	}

	payload, _, err := e.LocalPayload()
	if err != nil {
		e.tracker.MarkSyncFailed(err.Error())
		return false, err
	}

	chunks, err := chunk.Split(payload, e.chunkSize())
	if err != nil {
		e.tracker.MarkSyncFailed(err.Error())
		return false, err
	}

	// Metadata goes first so a retry after any partial failure overwrites
	// everything this pass wrote.
	metaJSON, err := encodeMetadata(metadataV1{
		Version:  1,
		Revision: st.LocalRevision,
		Batches:  len(chunks),
	})
	if err != nil {
		e.tracker.MarkSyncFailed(err.Error())
		return false, err
	}
	if err := e.remote.Set(ctx, e.metaKey(), metaJSON); err != nil {
		e.tracker.MarkSyncFailed(err.Error())
		return false, fmt.Errorf("failed to write metadata: %w", err)
	}

	for i, c := range chunks {
		if i > 0 && e.config.ChunkWriteDelay > 0 {
			select {
			case <-time.After(e.config.ChunkWriteDelay):
			case <-ctx.Done():
				e.tracker.MarkSyncFailed(ctx.Err().Error())
				return false, ctx.Err()
			}
		}
		if err := e.remote.Set(ctx, e.batchKey(i), c.Content); err != nil {
			e.tracker.MarkSyncFailed(err.Error())
			return false, fmt.Errorf("failed to write chunk %d: %w", i, err)
		}
	}

	// Drop trailing chunks left over from a previous, larger write.
	for i := len(chunks); i < prevBatches; i++ {
		if err := e.remote.Remove(ctx, e.batchKey(i)); err != nil {
			e.tracker.MarkSyncFailed(err.Error())
			return false, fmt.Errorf("failed to remove stale chunk %d: %w", i, err)
		}
	}

	if err := e.tracker.MarkSynced(st.LocalRevision); err != nil {
		return false, err
	}

	e.logger.Printf("Pushed revision %d (%d chunks, %d bytes)", st.LocalRevision, len(chunks), len(payload))
	return true, nil
}

// StartPeriodicSync starts the background loop that pushes pending changes
// every SyncInterval. Calling it while the loop is already running is a
// no-op.
func (e *Engine) StartPeriodicSync() {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()

	if e.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.loopCancel = cancel
	e.running = true

	e.wg.Add(1)
	go e.syncLoop(ctx)
}

// StopPeriodicSync stops the background loop and waits for it to exit.
// It only prevents new attempts from being scheduled; an attempt already
// in flight runs to its timeout.
func (e *Engine) StopPeriodicSync() {
	e.loopMu.Lock()
	if !e.running {
		e.loopMu.Unlock()
		return
	}
	cancel := e.loopCancel
	e.running = false
	e.loopCancel = nil
	e.loopMu.Unlock()

	cancel()
	e.wg.Wait()
}

// syncLoop pushes pending changes on a fixed interval.
func (e *Engine) syncLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if !e.tracker.NeedsCloudWrite() || e.tracker.State().Syncing {
				continue
			}
			if _, err := e.PushToRemote(ctx); err != nil {
				e.logger.Printf("Warning: periodic push failed: %v", err)
			}
		}
	}
}

// Reset zeroes the revision counters, clears their persisted copies, and
// drops the cached local payload.
func (e *Engine) Reset() error {
	if err := e.tracker.Reset(); err != nil {
		return err
	}
	if err := e.kv.Delete(e.dataKey()); err != nil {
		return fmt.Errorf("failed to clear local payload: %w", err)
	}
	if err := e.kv.Delete(e.savedAtKey()); err != nil {
		return fmt.Errorf("failed to clear save time: %w", err)
	}
	return nil
}
