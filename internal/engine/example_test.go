package engine_test

import (
	"context"
	"fmt"
	"log"

	"github.com/kperron/cardsync/internal/engine"
	"github.com/kperron/cardsync/internal/kvstore"
	"github.com/kperron/cardsync/internal/remote"
	"github.com/kperron/cardsync/internal/revision"
)

// This example demonstrates wiring the engine at startup.
// Note: This is for documentation only and won't run as a test.
func ExampleNew() {
	// Open the durable local store
	kv, err := kvstore.Open(".cardsync/local.db")
	if err != nil {
		log.Fatal(err)
	}
	defer kv.Close()

	// Revision counters are persisted through the same store
	tracker, err := revision.NewTracker(kv, "cards", nil)
	if err != nil {
		log.Fatal(err)
	}

	// Connect to the backend; a nil primary degrades to the local fallback
	backend, err := remote.DialBackend(context.Background(), "wss://sync.example.com/kv", nil)
	if err != nil {
		backend = nil
	}
	store := remote.NewStore(backend, remote.NewLocalBackend(kv, 1500), nil)

	eng := engine.New(kv, store, tracker, nil)
	defer eng.Close()

	// Load the deck; this also starts the background sync loop
	payload, err := eng.Initialize(context.Background())
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Loaded %d bytes\n", len(payload))
}

// This example demonstrates the save path and status subscription.
func ExampleEngine_SaveLocally() {
	kv, err := kvstore.Open(".cardsync/local.db")
	if err != nil {
		log.Fatal(err)
	}
	defer kv.Close()

	tracker, err := revision.NewTracker(kv, "cards", nil)
	if err != nil {
		log.Fatal(err)
	}

	store := remote.NewStore(nil, remote.NewLocalBackend(kv, 1500), nil)
	eng := engine.New(kv, store, tracker, nil)
	defer eng.Close()

	// The UI layer renders sync status from the subscription
	unsubscribe := eng.Tracker().Subscribe(func(s revision.State) {
		fmt.Printf("unsaved=%v syncing=%v\n", s.HasUnsavedChanges, s.Syncing)
	})
	defer unsubscribe()

	// Saves return as soon as local persistence succeeds; the push to the
	// backend happens in the background
	if err := eng.SaveLocally(`{"cards":[{"front":"bonjour","back":"hello"}]}`, true); err != nil {
		log.Fatal(err)
	}
}
