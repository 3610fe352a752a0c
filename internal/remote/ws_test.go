package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// kvTestServer is a minimal in-test implementation of the backend's
// WebSocket protocol, backed by a map.
type kvTestServer struct {
	mu   sync.Mutex
	data map[string]string
}

func newKVTestServer() *kvTestServer {
	return &kvTestServer{data: make(map[string]string)}
}

func (s *kvTestServer) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}

		resp := s.handle(req)
		out, _ := json.Marshal(resp)
		if err := conn.Write(ctx, websocket.MessageText, out); err != nil {
			return
		}
	}
}

func (s *kvTestServer) handle(req wsRequest) wsResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := wsResponse{ID: req.ID, OK: true}
	switch req.Op {
	case "set":
		s.data[req.Key] = req.Value
	case "get":
		value, found := s.data[req.Key]
		resp.Value = value
		resp.Found = found
	case "remove":
		delete(s.data, req.Key)
	case "keys":
		keys := make([]string, 0, len(s.data))
		for k := range s.data {
			keys = append(keys, k)
		}
		resp.Keys = keys
	default:
		resp.OK = false
		resp.Error = "unknown op"
	}
	return resp
}

// dialTestBackend starts a protocol server and connects a WSBackend to it.
func dialTestBackend(t *testing.T) (*WSBackend, *kvTestServer) {
	t.Helper()

	server := newKVTestServer()
	httpServer := httptest.NewServer(http.HandlerFunc(server.handler))
	t.Cleanup(httpServer.Close)

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http")
	backend, err := DialBackend(context.Background(), wsURL, &WSConfig{
		DialTimeout:  5 * time.Second,
		MaxValueSize: 1500,
	})
	if err != nil {
		t.Fatalf("failed to dial test backend: %v", err)
	}
	t.Cleanup(func() { backend.Close() })

	return backend, server
}

func TestWSBackendThroughStore(t *testing.T) {
	backend, _ := dialTestBackend(t)
	store := NewStore(backend, nil, testConfig(5*time.Second))
	ctx := context.Background()

	if store.UsingFallback() {
		t.Fatal("expected the dialed backend to be selected")
	}

	if err := store.Set(ctx, "cards_meta", `{"version":1,"revision":2,"batches":1}`); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, "cards_batch_0", "payload"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, ok, err := store.Get(ctx, "cards_batch_0")
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if value != "payload" {
		t.Errorf("got %q", value)
	}

	_, ok, err = store.Get(ctx, "absent")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("expected absent key")
	}

	keys, err := store.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("expected 2 keys, got %d", len(keys))
	}

	if err := store.Remove(ctx, "cards_batch_0"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "cards_batch_0"); ok {
		t.Error("expected key removed")
	}
}

func TestWSBackendConcurrentRequests(t *testing.T) {
	backend, _ := dialTestBackend(t)
	store := NewStore(backend, nil, testConfig(5*time.Second))
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i))
			if err := store.Set(ctx, key, key); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent set failed: %v", err)
	}

	keys, err := store.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 10 {
		t.Errorf("expected 10 keys, got %d", len(keys))
	}
}

func TestWSBackendUnavailableAfterClose(t *testing.T) {
	backend, _ := dialTestBackend(t)

	if !backend.Available() {
		t.Fatal("expected backend available after dial")
	}
	if err := backend.Close(); err != nil {
		t.Logf("close returned: %v", err)
	}
	if backend.Available() {
		t.Error("expected backend unavailable after close")
	}
}

func TestDialBackendUnreachable(t *testing.T) {
	_, err := DialBackend(context.Background(), "ws://127.0.0.1:1/ws", &WSConfig{
		DialTimeout: 500 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected dial failure")
	}
}
