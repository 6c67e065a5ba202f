// Package station resolves station identifiers into immutable station
// scripts: the role scripts, material definitions and checklist used for the
// rest of a session's lifetime.
package station

import (
	"context"
	"fmt"
	"log"
	"sync"

	"oscehub/pkg/interfaces"
	"oscehub/pkg/types"
)

// Loader is a cache-first descriptor loader over the station store.
// Scripts are immutable once loaded, so cache entries never expire; a
// re-registered script replaces the cache entry for future sessions only.
type Loader struct {
	store interfaces.StationStore
	cache map[string]*types.StationScript
	mu    sync.RWMutex
}

// NewLoader creates a loader over the given station store.
func NewLoader(store interfaces.StationStore) *Loader {
	return &Loader{
		store: store,
		cache: make(map[string]*types.StationScript),
	}
}

// Load resolves a station ID into its script, cache first.
func (l *Loader) Load(ctx context.Context, stationID string) (*types.StationScript, error) {
	l.mu.RLock()
	if script, exists := l.cache[stationID]; exists {
		l.mu.RUnlock()
		return script, nil
	}
	l.mu.RUnlock()

	script, err := l.store.GetStation(ctx, stationID)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache[stationID] = script
	l.mu.Unlock()

	return script, nil
}

// Register validates and persists a station script, replacing any cached
// copy. Sessions already holding the old script keep it until they end.
func (l *Loader) Register(ctx context.Context, script *types.StationScript) error {
	if err := script.Validate(); err != nil {
		return fmt.Errorf("invalid station script: %w", err)
	}

	if err := l.store.PutStation(ctx, script); err != nil {
		return fmt.Errorf("failed to persist station %s: %w", script.ID, err)
	}

	l.mu.Lock()
	l.cache[script.ID] = script
	l.mu.Unlock()

	log.Printf("Station registered: id=%s materials=%d checklist=%d",
		script.ID, len(script.Materials), len(script.Checklist))
	return nil
}

// CacheSize returns the number of cached scripts, for health reporting.
func (l *Loader) CacheSize() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.cache)
}
