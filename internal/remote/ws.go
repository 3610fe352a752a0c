package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// wsRequest is one operation sent to the backend service.
type wsRequest struct {
	ID    int64  `json:"id"`
	Op    string `json:"op"` // set, get, remove, keys
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`
}

// wsResponse is the backend's reply to a wsRequest with the same ID.
type wsResponse struct {
	ID    int64    `json:"id"`
	OK    bool     `json:"ok"`
	Found bool     `json:"found,omitempty"`
	Value string   `json:"value,omitempty"`
	Keys  []string `json:"keys,omitempty"`
	Error string   `json:"error,omitempty"`
}

// WSConfig holds WebSocket backend configuration.
type WSConfig struct {
	// DialTimeout bounds the initial connection attempt.
	DialTimeout time.Duration

	// MaxValueSize is the per-value size limit the service enforces.
	MaxValueSize int

	// Logger for connection activity.
	Logger *log.Logger
}

// DefaultWSConfig returns sensible defaults.
func DefaultWSConfig() *WSConfig {
	return &WSConfig{
		DialTimeout:  10 * time.Second,
		MaxValueSize: 1500,
		Logger:       log.New(os.Stderr, "[remote-ws] ", log.LstdFlags),
	}
}

// WSBackend is a Backend speaking a small JSON request/response protocol
// over a WebSocket connection. Every request carries an ID; the read loop
// matches replies to pending callbacks by that ID.
//
// If the connection drops, all pending callbacks fail and the backend
// reports itself unavailable. There is no automatic reconnect; backend
// selection is fixed at construction.
type WSBackend struct {
	conn    *websocket.Conn
	maxSize int
	logger  *log.Logger

	writeMu sync.Mutex // coder/websocket permits one concurrent writer

	mu      sync.Mutex
	pending map[int64]func(wsResponse)
	nextID  int64
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DialBackend connects to the backend service at url (ws:// or wss://).
//
// Returns an error if the service cannot be reached within the dial
// timeout; callers typically pass a nil primary to NewStore in that case
// so the session degrades to the local fallback.
func DialBackend(ctx context.Context, url string, config *WSConfig) (*WSBackend, error) {
	if config == nil {
		config = DefaultWSConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[remote-ws] ", log.LstdFlags)
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultWSConfig().DialTimeout
	}
	if config.MaxValueSize <= 0 {
		config.MaxValueSize = DefaultWSConfig().MaxValueSize
	}

	dialCtx, cancel := context.WithTimeout(ctx, config.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial backend %s: %w", url, err)
	}

	runCtx, runCancel := context.WithCancel(context.Background())

	b := &WSBackend{
		conn:    conn,
		maxSize: config.MaxValueSize,
		logger:  config.Logger,
		pending: make(map[int64]func(wsResponse)),
		ctx:     runCtx,
		cancel:  runCancel,
	}

	b.wg.Add(1)
	go b.readLoop()

	b.logger.Printf("Connected to backend at %s", url)
	return b, nil
}

// Close tears down the connection. Pending operations fail with a
// connection-closed error.
func (b *WSBackend) Close() error {
	b.cancel()
	err := b.conn.Close(websocket.StatusNormalClosure, "")
	b.wg.Wait()
	b.failPending(fmt.Errorf("connection closed"))
	if err != nil {
		return fmt.Errorf("failed to close backend connection: %w", err)
	}
	return nil
}

// Available implements Backend.
func (b *WSBackend) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

// MaxValueSize implements Backend.
func (b *WSBackend) MaxValueSize() int {
	return b.maxSize
}

// Set implements Backend.
func (b *WSBackend) Set(key, value string, done func(err error)) {
	b.send(wsRequest{Op: "set", Key: key, Value: value}, func(resp wsResponse) {
		done(respError(resp))
	})
}

// Get implements Backend.
func (b *WSBackend) Get(key string, done func(value string, ok bool, err error)) {
	b.send(wsRequest{Op: "get", Key: key}, func(resp wsResponse) {
		if err := respError(resp); err != nil {
			done("", false, err)
			return
		}
		done(resp.Value, resp.Found, nil)
	})
}

// Remove implements Backend.
func (b *WSBackend) Remove(key string, done func(err error)) {
	b.send(wsRequest{Op: "remove", Key: key}, func(resp wsResponse) {
		done(respError(resp))
	})
}

// Keys implements Backend.
func (b *WSBackend) Keys(done func(keys []string, err error)) {
	b.send(wsRequest{Op: "keys"}, func(resp wsResponse) {
		if err := respError(resp); err != nil {
			done(nil, err)
			return
		}
		done(resp.Keys, nil)
	})
}

// send registers the callback under a fresh ID and writes the request.
// A write failure fails the callback immediately and marks the connection
// dead.
func (b *WSBackend) send(req wsRequest, callback func(wsResponse)) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		callback(wsResponse{Error: "connection closed"})
		return
	}
	b.nextID++
	req.ID = b.nextID
	b.pending[req.ID] = callback
	b.mu.Unlock()

	data, err := json.Marshal(req)
	if err != nil {
		b.takePending(req.ID)
		callback(wsResponse{Error: fmt.Sprintf("failed to marshal request: %v", err)})
		return
	}

	b.writeMu.Lock()
	writeErr := b.conn.Write(b.ctx, websocket.MessageText, data)
	b.writeMu.Unlock()

	if writeErr != nil {
		if cb := b.takePending(req.ID); cb != nil {
			cb(wsResponse{Error: fmt.Sprintf("write failed: %v", writeErr)})
		}
	}
}

// readLoop matches replies to pending callbacks until the connection drops.
func (b *WSBackend) readLoop() {
	defer b.wg.Done()

	for {
		_, data, err := b.conn.Read(b.ctx)
		if err != nil {
			b.failPending(fmt.Errorf("connection lost: %w", err))
			return
		}

		var resp wsResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			b.logger.Printf("Warning: failed to decode backend message: %v", err)
			continue
		}

		cb := b.takePending(resp.ID)
		if cb == nil {
			b.logger.Printf("Warning: reply for unknown request %d", resp.ID)
			continue
		}
		cb(resp)
	}
}

// takePending removes and returns the callback registered under id.
func (b *WSBackend) takePending(id int64) func(wsResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb := b.pending[id]
	delete(b.pending, id)
	return cb
}

// failPending marks the connection dead and fails every outstanding
// callback.
func (b *WSBackend) failPending(cause error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	callbacks := make([]func(wsResponse), 0, len(b.pending))
	for id, cb := range b.pending {
		callbacks = append(callbacks, cb)
		delete(b.pending, id)
	}
	b.mu.Unlock()

	for _, cb := range callbacks {
		cb(wsResponse{Error: cause.Error()})
	}
}

func respError(resp wsResponse) error {
	if resp.Error != "" {
		return fmt.Errorf("%s", resp.Error)
	}
	return nil
}
