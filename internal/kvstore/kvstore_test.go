package kvstore

import (
	"path/filepath"
	"sort"
	"testing"
)

// openTestStore creates a temporary store for testing.
func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	return s, path
}

func TestSetGet(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()

	if err := s.Set("cards_data", `{"cards":[]}`); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, ok, err := s.Get("cards_data")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected key to be present")
	}
	if value != `{"cards":[]}` {
		t.Errorf("got %q", value)
	}
}

func TestGetAbsent(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()

	_, ok, err := s.Get("nope")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("expected absent key")
	}
}

func TestSetOverwrite(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()

	if err := s.Set("k", "v1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set("k", "v2"); err != nil {
		t.Fatalf("second Set failed: %v", err)
	}

	value, ok, err := s.Get("k")
	if err != nil || !ok {
		t.Fatalf("Get failed: %v (ok=%v)", err, ok)
	}
	if value != "v2" {
		t.Errorf("expected overwritten value, got %q", value)
	}
}

func TestDelete(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()

	if err := s.Set("k", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	_, ok, err := s.Get("k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("expected key to be gone")
	}

	// Deleting an absent key is not an error.
	if err := s.Delete("k"); err != nil {
		t.Errorf("Delete of absent key failed: %v", err)
	}
}

func TestKeys(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()

	for _, k := range []string{"cards_meta", "cards_batch_0", "cards_batch_1"} {
		if err := s.Set(k, "x"); err != nil {
			t.Fatalf("Set %s failed: %v", k, err)
		}
	}

	keys, err := s.Keys()
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	sort.Strings(keys)

	want := []string{"cards_batch_0", "cards_batch_1", "cards_meta"}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %d", len(want), len(keys))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("key %d: expected %q, got %q", i, want[i], keys[i])
		}
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	s, path := openTestStore(t)

	if err := s.Set("cards_revision", "42"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	value, ok, err := reopened.Get("cards_revision")
	if err != nil || !ok {
		t.Fatalf("Get after reopen failed: %v (ok=%v)", err, ok)
	}
	if value != "42" {
		t.Errorf("expected persisted value 42, got %q", value)
	}
}
