package remote

import (
	"strings"

	"github.com/kperron/cardsync/internal/kvstore"
)

// keyPrefix namespaces fallback records inside the shared kv table. The
// same store also holds the local payload cache and the revision counters;
// without the prefix, Clear would sweep those too.
const keyPrefix = "fallback_"

// LocalBackend adapts the durable local key-value store to the Backend
// interface. It is the fallback used when no remote backend is configured
// or the configured one is unreachable at startup.
//
// Records live under their own key prefix so they never collide with the
// local cache or the revision counters held in the same store. Operations
// complete synchronously; callbacks are invoked inline.
type LocalBackend struct {
	kv      *kvstore.Store
	maxSize int
}

// NewLocalBackend creates a LocalBackend over kv. maxValueSize mirrors the
// real backend's per-value limit so chunking behaves identically whether or
// not the session is offline.
func NewLocalBackend(kv *kvstore.Store, maxValueSize int) *LocalBackend {
	return &LocalBackend{
		kv:      kv,
		maxSize: maxValueSize,
	}
}

// Available implements Backend. The local store is always available.
func (b *LocalBackend) Available() bool {
	return true
}

// MaxValueSize implements Backend.
func (b *LocalBackend) MaxValueSize() int {
	return b.maxSize
}

// Set implements Backend.
func (b *LocalBackend) Set(key, value string, done func(err error)) {
	done(b.kv.Set(keyPrefix+key, value))
}

// Get implements Backend.
func (b *LocalBackend) Get(key string, done func(value string, ok bool, err error)) {
	done(b.kv.Get(keyPrefix + key))
}

// Remove implements Backend.
func (b *LocalBackend) Remove(key string, done func(err error)) {
	done(b.kv.Delete(keyPrefix + key))
}

// Keys implements Backend. Only fallback records are enumerated; the rest
// of the shared store is invisible to callers.
func (b *LocalBackend) Keys(done func(keys []string, err error)) {
	all, err := b.kv.Keys()
	if err != nil {
		done(nil, err)
		return
	}

	keys := make([]string, 0, len(all))
	for _, k := range all {
		if strings.HasPrefix(k, keyPrefix) {
			keys = append(keys, strings.TrimPrefix(k, keyPrefix))
		}
	}
	done(keys, nil)
}
