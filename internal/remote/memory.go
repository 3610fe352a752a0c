package remote

import (
	"sync"
	"time"
)

// MemoryBackend is an in-process Backend backed by a map. It exists for
// tests and local experimentation: completion can be delayed or withheld to
// exercise the timeout path, and the stored data can be inspected directly.
type MemoryBackend struct {
	mu   sync.Mutex
	data map[string]string

	// MaxSize is the per-value size limit reported by MaxValueSize.
	MaxSize int

	// Latency delays every callback when non-zero.
	Latency time.Duration

	// Hang withholds callbacks entirely, simulating a backend that never
	// completes. Store surfaces this as ErrTimeout.
	Hang bool

	// Unavailable makes Available report false.
	Unavailable bool

	// Err, when non-nil, is reported by every operation.
	Err error

	sets    int
	gets    int
	removes int
}

// NewMemoryBackend creates an empty MemoryBackend with the given size limit.
func NewMemoryBackend(maxValueSize int) *MemoryBackend {
	return &MemoryBackend{
		data:    make(map[string]string),
		MaxSize: maxValueSize,
	}
}

// Available implements Backend.
func (b *MemoryBackend) Available() bool {
	return !b.Unavailable
}

// MaxValueSize implements Backend.
func (b *MemoryBackend) MaxValueSize() int {
	return b.MaxSize
}

// Set implements Backend.
func (b *MemoryBackend) Set(key, value string, done func(err error)) {
	if b.Hang {
		return
	}
	go func() {
		b.sleep()
		b.mu.Lock()
		b.sets++
		if b.Err == nil {
			b.data[key] = value
		}
		err := b.Err
		b.mu.Unlock()
		done(err)
	}()
}

// Get implements Backend.
func (b *MemoryBackend) Get(key string, done func(value string, ok bool, err error)) {
	if b.Hang {
		return
	}
	go func() {
		b.sleep()
		b.mu.Lock()
		b.gets++
		value, ok := b.data[key]
		err := b.Err
		b.mu.Unlock()
		if err != nil {
			done("", false, err)
			return
		}
		done(value, ok, nil)
	}()
}

// Remove implements Backend.
func (b *MemoryBackend) Remove(key string, done func(err error)) {
	if b.Hang {
		return
	}
	go func() {
		b.sleep()
		b.mu.Lock()
		b.removes++
		if b.Err == nil {
			delete(b.data, key)
		}
		err := b.Err
		b.mu.Unlock()
		done(err)
	}()
}

// Keys implements Backend.
func (b *MemoryBackend) Keys(done func(keys []string, err error)) {
	if b.Hang {
		return
	}
	go func() {
		b.sleep()
		b.mu.Lock()
		keys := make([]string, 0, len(b.data))
		for k := range b.data {
			keys = append(keys, k)
		}
		err := b.Err
		b.mu.Unlock()
		done(keys, err)
	}()
}

// Put stores a value directly, bypassing the asynchronous API. For test
// setup.
func (b *MemoryBackend) Put(key, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
}

// Value returns the stored value for key, bypassing the asynchronous API.
func (b *MemoryBackend) Value(key string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	value, ok := b.data[key]
	return value, ok
}

// Len returns the number of stored keys.
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// SetCount returns how many Set operations have completed.
func (b *MemoryBackend) SetCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sets
}

func (b *MemoryBackend) sleep() {
	if b.Latency > 0 {
		time.Sleep(b.Latency)
	}
}
