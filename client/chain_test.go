package client

import (
	"errors"
	"path/filepath"
	"testing"

	bolt "go.etcd.io/bbolt"
)

// memChainStore is an in-memory ChainStore.
type memChainStore struct {
	state    *ChainState
	failSave bool
	failLoad bool
}

func (m *memChainStore) SaveChain(state *ChainState) error {
	if m.failSave {
		return errors.New("save failed")
	}
	copied := *state
	m.state = &copied
	return nil
}

func (m *memChainStore) LoadChain() (*ChainState, error) {
	if m.failLoad {
		return nil, errors.New("decode failed")
	}
	if m.state == nil {
		return nil, nil
	}
	copied := *m.state
	return &copied, nil
}

func (m *memChainStore) ClearChain() error {
	m.state = nil
	return nil
}

func TestNewChainPersistsInitialState(t *testing.T) {
	store := &memChainStore{}

	chain, err := NewChain(store, "shared-1", []string{"st1", "st2", "st3"})
	if err != nil {
		t.Fatalf("NewChain failed: %v", err)
	}

	if chain.CurrentStation() != "st1" {
		t.Errorf("Expected first station st1, got %q", chain.CurrentStation())
	}
	if chain.SessionID() != "shared-1" {
		t.Errorf("Expected shared session ID, got %q", chain.SessionID())
	}
	if store.state == nil || store.state.CurrentIndex != 0 {
		t.Error("Initial state must be persisted before NewChain returns")
	}
	if store.state.StartedAt.IsZero() {
		t.Error("StartedAt should be recorded")
	}
}

func TestNewChainRejectsEmptyRun(t *testing.T) {
	if _, err := NewChain(&memChainStore{}, "shared-1", nil); err == nil {
		t.Error("Expected error for a run without stations")
	}
}

func TestNewChainFailedPersistence(t *testing.T) {
	store := &memChainStore{failSave: true}
	if _, err := NewChain(store, "shared-1", []string{"st1"}); err == nil {
		t.Error("Expected error when initial persist fails")
	}
}

func TestChainAdvancePersistsBeforeReturning(t *testing.T) {
	store := &memChainStore{}
	chain, _ := NewChain(store, "shared-1", []string{"st1", "st2", "st3"})

	next, err := chain.Advance()
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if next != "st2" {
		t.Errorf("Expected st2, got %q", next)
	}
	if store.state.CurrentIndex != 1 {
		t.Errorf("Advance must persist the new index, got %d", store.state.CurrentIndex)
	}

	index, total := chain.Position()
	if index != 1 || total != 3 {
		t.Errorf("Expected position 1/3, got %d/%d", index, total)
	}
}

func TestChainAdvanceFailedPersistenceKeepsPosition(t *testing.T) {
	store := &memChainStore{}
	chain, _ := NewChain(store, "shared-1", []string{"st1", "st2"})

	store.failSave = true
	if _, err := chain.Advance(); err == nil {
		t.Error("Expected error when persist fails")
	}
	if chain.CurrentStation() != "st1" {
		t.Errorf("Failed advance must not move the position, got %q", chain.CurrentStation())
	}
}

func TestChainExhaustion(t *testing.T) {
	store := &memChainStore{}
	chain, _ := NewChain(store, "shared-1", []string{"st1", "st2"})

	if chain.IsLast() {
		t.Error("First of two stations is not the last")
	}
	if _, err := chain.Advance(); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if !chain.IsLast() {
		t.Error("Expected last station after advance")
	}

	_, err := chain.Advance()
	if !errors.Is(err, ErrChainExhausted) {
		t.Errorf("Expected ErrChainExhausted, got %v", err)
	}
	if store.state != nil {
		t.Error("Finished chain should be cleared from the store")
	}
}

func TestResumeFromStore(t *testing.T) {
	store := &memChainStore{}
	original, _ := NewChain(store, "shared-1", []string{"st1", "st2", "st3"})
	original.Advance()

	resumed, err := Resume(store, nil)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resumed.CurrentStation() != "st2" {
		t.Errorf("Expected to resume at st2, got %q", resumed.CurrentStation())
	}
	if resumed.SessionID() != "shared-1" {
		t.Errorf("Expected shared session ID, got %q", resumed.SessionID())
	}
}

func TestResumeFallback(t *testing.T) {
	store := &memChainStore{}

	fallback := &ChainState{
		SharedSessionID: "shared-1",
		Stations:        []string{"st1", "st2"},
		CurrentIndex:    1,
	}
	resumed, err := Resume(store, fallback)
	if err != nil {
		t.Fatalf("Resume with fallback failed: %v", err)
	}
	if resumed.CurrentStation() != "st2" {
		t.Errorf("Expected fallback position st2, got %q", resumed.CurrentStation())
	}
	// The fallback is re-persisted for the next recovery.
	if store.state == nil || store.state.CurrentIndex != 1 {
		t.Error("Fallback state should be persisted")
	}
}

func TestResumeStateLost(t *testing.T) {
	_, err := Resume(&memChainStore{}, nil)
	if !errors.Is(err, ErrChainStateLost) {
		t.Errorf("Expected ErrChainStateLost, got %v", err)
	}
}

func TestResumeRejectsInconsistentFallback(t *testing.T) {
	bad := []*ChainState{
		{SharedSessionID: "shared-1", Stations: []string{"st1", "st2"}, CurrentIndex: 5},
		{SharedSessionID: "shared-1", Stations: []string{"st1"}, CurrentIndex: -1},
		{Stations: []string{"st1"}},
		{SharedSessionID: "shared-1"},
	}
	for _, fallback := range bad {
		if _, err := Resume(&memChainStore{}, fallback); !errors.Is(err, ErrChainStateLost) {
			t.Errorf("Fallback %+v should be rejected, got %v", fallback, err)
		}
	}
}

func TestResumeDiscardsInconsistentStoredState(t *testing.T) {
	store := &memChainStore{state: &ChainState{
		SharedSessionID: "shared-1",
		Stations:        []string{"st1", "st2"},
		CurrentIndex:    9,
	}}

	fallback := &ChainState{
		SharedSessionID: "shared-1",
		Stations:        []string{"st1", "st2"},
		CurrentIndex:    1,
	}
	resumed, err := Resume(store, fallback)
	if err != nil {
		t.Fatalf("Resume should recover via the fallback, got %v", err)
	}
	if resumed.CurrentStation() != "st2" {
		t.Errorf("Expected fallback position st2, got %q", resumed.CurrentStation())
	}
	if store.state == nil || store.state.CurrentIndex != 1 {
		t.Error("Recovered fallback should replace the bad stored state")
	}
}

func TestResumeInconsistentStateWithoutFallback(t *testing.T) {
	store := &memChainStore{state: &ChainState{
		SharedSessionID: "shared-1",
		Stations:        []string{"st1"},
		CurrentIndex:    3,
	}}

	_, err := Resume(store, nil)
	if !errors.Is(err, ErrChainStateLost) {
		t.Errorf("Expected ErrChainStateLost, got %v", err)
	}
	if store.state != nil {
		t.Error("Bad stored state should be cleared")
	}
}

func TestResumeRecoversFromUnreadableStore(t *testing.T) {
	store := &memChainStore{failLoad: true}

	fallback := &ChainState{
		SharedSessionID: "shared-1",
		Stations:        []string{"st1", "st2"},
		CurrentIndex:    0,
	}
	resumed, err := Resume(store, fallback)
	if err != nil {
		t.Fatalf("Load failure should fall through to the fallback, got %v", err)
	}
	if resumed.CurrentStation() != "st1" {
		t.Errorf("Expected fallback position st1, got %q", resumed.CurrentStation())
	}

	if _, err := Resume(store, nil); !errors.Is(err, ErrChainStateLost) {
		t.Errorf("Expected ErrChainStateLost without a fallback, got %v", err)
	}
}

func TestChainStateCopy(t *testing.T) {
	chain, _ := NewChain(&memChainStore{}, "shared-1", []string{"st1", "st2"})

	state := chain.State()
	state.Stations[0] = "mutated"
	if chain.CurrentStation() != "st1" {
		t.Error("State must return an independent copy")
	}
}

func TestBoltChainStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.db")
	store, err := OpenBoltChainStore(path)
	if err != nil {
		t.Fatalf("OpenBoltChainStore failed: %v", err)
	}
	defer store.Close()

	if state, err := store.LoadChain(); err != nil || state != nil {
		t.Errorf("Fresh store should be empty, got state=%v err=%v", state, err)
	}

	chain, err := NewChain(store, "shared-1", []string{"st1", "st2"})
	if err != nil {
		t.Fatalf("NewChain over bolt failed: %v", err)
	}
	if _, err := chain.Advance(); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	loaded, err := store.LoadChain()
	if err != nil {
		t.Fatalf("LoadChain failed: %v", err)
	}
	if loaded == nil || loaded.CurrentIndex != 1 || loaded.SharedSessionID != "shared-1" {
		t.Errorf("Unexpected persisted state: %+v", loaded)
	}

	if err := store.ClearChain(); err != nil {
		t.Fatalf("ClearChain failed: %v", err)
	}
	if state, _ := store.LoadChain(); state != nil {
		t.Error("Cleared store should be empty")
	}
}

func TestBoltChainStoreCorruptEntryFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.db")
	store, err := OpenBoltChainStore(path)
	if err != nil {
		t.Fatalf("OpenBoltChainStore failed: %v", err)
	}
	defer store.Close()

	err = store.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(chainBucket).Put(chainKey, []byte("{not json"))
	})
	if err != nil {
		t.Fatalf("Failed to plant corrupt entry: %v", err)
	}

	fallback := &ChainState{
		SharedSessionID: "shared-1",
		Stations:        []string{"st1", "st2"},
		CurrentIndex:    1,
	}
	resumed, err := Resume(store, fallback)
	if err != nil {
		t.Fatalf("Corrupt entry should fall through to the fallback, got %v", err)
	}
	if resumed.CurrentStation() != "st2" {
		t.Errorf("Expected fallback position st2, got %q", resumed.CurrentStation())
	}

	// The corrupt blob is gone; the recovered state decodes cleanly.
	loaded, err := store.LoadChain()
	if err != nil {
		t.Fatalf("LoadChain after recovery failed: %v", err)
	}
	if loaded == nil || loaded.CurrentIndex != 1 {
		t.Errorf("Unexpected recovered state: %+v", loaded)
	}
}

func TestBoltChainStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.db")

	store, err := OpenBoltChainStore(path)
	if err != nil {
		t.Fatalf("OpenBoltChainStore failed: %v", err)
	}
	if _, err := NewChain(store, "shared-1", []string{"st1", "st2"}); err != nil {
		t.Fatalf("NewChain failed: %v", err)
	}
	store.Close()

	reopened, err := OpenBoltChainStore(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()

	resumed, err := Resume(reopened, nil)
	if err != nil {
		t.Fatalf("Resume after reopen failed: %v", err)
	}
	if resumed.CurrentStation() != "st1" {
		t.Errorf("Expected st1 after reopen, got %q", resumed.CurrentStation())
	}
}
