package main

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/spf13/viper"

	"github.com/kperron/cardsync/internal/engine"
	"github.com/kperron/cardsync/internal/kvstore"
	"github.com/kperron/cardsync/internal/remote"
	"github.com/kperron/cardsync/internal/revision"
)

// app bundles the wired components behind a single close.
type app struct {
	kv      *kvstore.Store
	ws      *remote.WSBackend
	store   *remote.Store
	tracker *revision.Tracker
	engine  *engine.Engine
}

// openApp builds the engine stack from the resolved configuration. When a
// remote URL is configured but unreachable, the app degrades to the local
// fallback backend instead of failing.
func openApp(ctx context.Context, logWriter io.Writer) (*app, error) {
	logger := log.New(logWriter, "[cardsync] ", log.LstdFlags)

	baseKey := viper.GetString("base-key")
	maxChunk := viper.GetInt("max-chunk-size")

	kv, err := kvstore.Open(viper.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	tracker, err := revision.NewTracker(kv, baseKey, logger)
	if err != nil {
		kv.Close()
		return nil, fmt.Errorf("failed to load revision state: %w", err)
	}

	var primary remote.Backend
	var ws *remote.WSBackend
	if url := viper.GetString("remote-url"); url != "" {
		wsConfig := remote.DefaultWSConfig()
		wsConfig.MaxValueSize = maxChunk
		wsConfig.Logger = logger
		ws, err = remote.DialBackend(ctx, url, wsConfig)
		if err != nil {
			logger.Printf("Warning: remote backend unreachable, using local fallback: %v", err)
		} else {
			primary = ws
		}
	}

	storeConfig := remote.DefaultConfig()
	storeConfig.Logger = logger
	store := remote.NewStore(primary, remote.NewLocalBackend(kv, maxChunk), storeConfig)

	engineConfig := engine.DefaultConfig()
	engineConfig.BaseKey = baseKey
	engineConfig.MaxChunkSize = maxChunk
	engineConfig.Logger = logger
	eng := engine.New(kv, store, tracker, engineConfig)

	return &app{kv: kv, ws: ws, store: store, tracker: tracker, engine: eng}, nil
}

func (a *app) close() {
	a.engine.Close()
	if a.ws != nil {
		a.ws.Close()
	}
	a.kv.Close()
}
