package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/kperron/cardsync/internal/remote"
)

// stageLegacyRemote writes a legacy-layout payload to the backend.
func stageLegacyRemote(t *testing.T, backend *remote.MemoryBackend, payload string, chunkSize int) int {
	t.Helper()

	batches := 0
	for offset := 0; offset < len(payload); offset += chunkSize {
		end := offset + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		backend.Put(fmt.Sprintf("cards_cardsBatch%d", batches), payload[offset:end])
		batches++
	}
	backend.Put("cards_meta", fmt.Sprintf(`{"cardsBatches":%d}`, batches))
	return batches
}

func TestMigrateLegacyLayout(t *testing.T) {
	backend := remote.NewMemoryBackend(1500)
	payload := strings.Repeat("legacy card data ", 200) // 3400 bytes
	legacyBatches := stageLegacyRemote(t, backend, payload, 1000)

	env := newTestEnv(t, backend)

	result, err := env.engine.MigrateLegacyLayout(context.Background())
	if err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	if !result.Migrated {
		t.Fatal("expected migration to run")
	}
	if result.PayloadBytes != len(payload) {
		t.Errorf("expected %d payload bytes, got %d", len(payload), result.PayloadBytes)
	}
	if result.LegacyKeysRemoved != legacyBatches {
		t.Errorf("expected %d legacy keys removed, got %d", legacyBatches, result.LegacyKeysRemoved)
	}

	// Metadata is now in the current layout at revision 1.
	raw, found := backend.Value("cards_meta")
	if !found {
		t.Fatal("expected metadata on backend")
	}
	if !strings.Contains(raw, `"revision":1`) {
		t.Errorf("expected revision 1 in metadata, got %s", raw)
	}

	// Legacy chunk keys are gone.
	for i := 0; i < legacyBatches; i++ {
		if _, found := backend.Value(fmt.Sprintf("cards_cardsBatch%d", i)); found {
			t.Errorf("legacy chunk %d still present", i)
		}
	}

	if env.tracker.State().ServerRevision != 1 {
		t.Errorf("expected server revision 1, got %d", env.tracker.State().ServerRevision)
	}

	// The migrated payload round-trips through the normal pull path.
	got, ok, err := env.engine.PullFromRemote(context.Background())
	if err != nil || !ok {
		t.Fatalf("pull after migration failed: ok=%v err=%v", ok, err)
	}
	if got != payload {
		t.Error("migrated payload does not match the legacy payload")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	backend := remote.NewMemoryBackend(1500)
	stageLegacyRemote(t, backend, "legacy deck", 1000)

	env := newTestEnv(t, backend)
	ctx := context.Background()

	first, err := env.engine.MigrateLegacyLayout(ctx)
	if err != nil {
		t.Fatalf("first migration failed: %v", err)
	}
	if !first.Migrated {
		t.Fatal("expected first run to migrate")
	}

	metaAfterFirst, _ := backend.Value("cards_meta")

	second, err := env.engine.MigrateLegacyLayout(ctx)
	if err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
	if second.Migrated {
		t.Error("expected second run to be a no-op")
	}

	metaAfterSecond, _ := backend.Value("cards_meta")
	if metaAfterFirst != metaAfterSecond {
		t.Error("second run changed the metadata record")
	}
}

func TestMigrateNoRemoteData(t *testing.T) {
	env := newTestEnv(t, remote.NewMemoryBackend(1500))

	result, err := env.engine.MigrateLegacyLayout(context.Background())
	if err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	if result.Migrated {
		t.Error("expected no-op for empty backend")
	}
}

func TestMigrateMissingLegacyChunkFails(t *testing.T) {
	backend := remote.NewMemoryBackend(1500)
	backend.Put("cards_meta", `{"cardsBatches":2}`)
	backend.Put("cards_cardsBatch0", "only half")
	// cardsBatch1 missing

	env := newTestEnv(t, backend)

	_, err := env.engine.MigrateLegacyLayout(context.Background())
	if err == nil {
		t.Fatal("expected migration to fail on missing legacy chunk")
	}
}

func TestInitializeMigratesLegacyLayout(t *testing.T) {
	backend := remote.NewMemoryBackend(1500)
	payload := strings.Repeat("old format ", 300) // 3300 bytes
	stageLegacyRemote(t, backend, payload, 900)

	env := newTestEnv(t, backend)

	got, err := env.engine.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if got != payload {
		t.Error("expected the migrated payload from Initialize")
	}

	s := env.tracker.State()
	if s.ServerRevision != 1 || s.LocalRevision != 1 {
		t.Errorf("expected both revisions at 1 after migration and pull, got %+v", s)
	}
}
