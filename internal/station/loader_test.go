package station

import (
	"context"
	"errors"
	"sync"
	"testing"

	"oscehub/pkg/interfaces"
	"oscehub/pkg/types"
)

type mockStationStore struct {
	stations map[string]*types.StationScript
	mu       sync.Mutex

	getCalls      int
	shouldFailPut bool
}

func newMockStationStore() *mockStationStore {
	return &mockStationStore{stations: make(map[string]*types.StationScript)}
}

func (m *mockStationStore) PutStation(ctx context.Context, script *types.StationScript) error {
	if m.shouldFailPut {
		return errors.New("store write failed")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stations[script.ID] = script
	return nil
}

func (m *mockStationStore) GetStation(ctx context.Context, stationID string) (*types.StationScript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	script, exists := m.stations[stationID]
	if !exists {
		return nil, interfaces.ErrStationNotFound
	}
	return script, nil
}

func testScript(id string) *types.StationScript {
	return &types.StationScript{
		ID:    id,
		Title: "Test station",
		Checklist: []types.ChecklistItem{
			{ID: "item1", Description: "First item", AllowedScores: []float64{0, 1}},
		},
	}
}

func TestLoaderLoadCachesScript(t *testing.T) {
	store := newMockStationStore()
	store.stations["chest-pain"] = testScript("chest-pain")
	loader := NewLoader(store)

	ctx := context.Background()
	first, err := loader.Load(ctx, "chest-pain")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	second, err := loader.Load(ctx, "chest-pain")
	if err != nil {
		t.Fatalf("Second load failed: %v", err)
	}

	if first != second {
		t.Error("Cached load should return the same script instance")
	}
	if store.getCalls != 1 {
		t.Errorf("Expected one store read, got %d", store.getCalls)
	}
	if loader.CacheSize() != 1 {
		t.Errorf("Expected cache size 1, got %d", loader.CacheSize())
	}
}

func TestLoaderLoadUnknownStation(t *testing.T) {
	loader := NewLoader(newMockStationStore())

	_, err := loader.Load(context.Background(), "missing")
	if !errors.Is(err, interfaces.ErrStationNotFound) {
		t.Errorf("Expected ErrStationNotFound, got %v", err)
	}
}

func TestLoaderRegister(t *testing.T) {
	store := newMockStationStore()
	loader := NewLoader(store)

	ctx := context.Background()
	if err := loader.Register(ctx, testScript("abdominal-pain")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, exists := store.stations["abdominal-pain"]; !exists {
		t.Error("Register should persist the script")
	}

	// Loads after registration hit the cache, not the store.
	if _, err := loader.Load(ctx, "abdominal-pain"); err != nil {
		t.Fatalf("Load after register failed: %v", err)
	}
	if store.getCalls != 0 {
		t.Errorf("Expected no store reads after register, got %d", store.getCalls)
	}
}

func TestLoaderRegisterInvalidScript(t *testing.T) {
	loader := NewLoader(newMockStationStore())

	invalid := testScript("no-checklist")
	invalid.Checklist = nil
	err := loader.Register(context.Background(), invalid)
	if !errors.Is(err, types.ErrEmptyChecklist) {
		t.Errorf("Expected ErrEmptyChecklist, got %v", err)
	}
}

func TestLoaderRegisterStoreFailure(t *testing.T) {
	store := newMockStationStore()
	store.shouldFailPut = true
	loader := NewLoader(store)

	if err := loader.Register(context.Background(), testScript("s1")); err == nil {
		t.Error("Expected error when store write fails")
	}
	if loader.CacheSize() != 0 {
		t.Error("Failed registration must not populate the cache")
	}
}

func TestLoaderRegisterReplacesCache(t *testing.T) {
	store := newMockStationStore()
	loader := NewLoader(store)

	ctx := context.Background()
	original := testScript("s1")
	if err := loader.Register(ctx, original); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	updated := testScript("s1")
	updated.Title = "Updated station"
	if err := loader.Register(ctx, updated); err != nil {
		t.Fatalf("Re-register failed: %v", err)
	}

	loaded, err := loader.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Title != "Updated station" {
		t.Errorf("Expected replaced script, got title %q", loaded.Title)
	}
}
