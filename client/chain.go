package client

import (
	"fmt"
	"log"
	"time"
)

// ChainState is the client-side record of a sequential station run: one
// shared session ID reused across an ordered list of stations, plus the
// position reached so far. It is persisted through a ChainStore so a page
// reload or crash can recover the run instead of restarting it.
type ChainState struct {
	SharedSessionID string    `json:"shared_session_id"`
	Stations        []string  `json:"stations"`
	CurrentIndex    int       `json:"current_index"`
	StartedAt       time.Time `json:"started_at"`
}

// valid reports whether the state describes a usable position. Persisted
// blobs and caller-supplied fallbacks both pass through here before use;
// neither is trusted, since either can be stale or tampered with.
func (s *ChainState) valid() bool {
	return s != nil &&
		s.SharedSessionID != "" &&
		len(s.Stations) > 0 &&
		s.CurrentIndex >= 0 &&
		s.CurrentIndex < len(s.Stations)
}

// ChainStore persists chain state across client restarts.
type ChainStore interface {
	SaveChain(state *ChainState) error
	LoadChain() (*ChainState, error)
	ClearChain() error
}

// Chain walks a sequential station run. Position only ever moves forward;
// completed stations cannot be revisited.
type Chain struct {
	state *ChainState
	store ChainStore
}

// NewChain starts a fresh sequential run and persists its initial state
// before returning, so recovery works even if the client dies immediately.
func NewChain(store ChainStore, sharedSessionID string, stations []string) (*Chain, error) {
	if len(stations) == 0 {
		return nil, fmt.Errorf("sequential run needs at least one station")
	}

	state := &ChainState{
		SharedSessionID: sharedSessionID,
		Stations:        stations,
		CurrentIndex:    0,
		StartedAt:       time.Now(),
	}
	if err := store.SaveChain(state); err != nil {
		return nil, fmt.Errorf("failed to persist chain state: %w", err)
	}

	return &Chain{state: state, store: store}, nil
}

// Resume recovers an in-progress run from the store. A stored blob that is
// unreadable or describes an impossible position is discarded and the
// fallback descriptor is tried instead; a fallback that fails the same
// checks is rejected too. With neither usable the run is unrecoverable.
func Resume(store ChainStore, fallback *ChainState) (*Chain, error) {
	state, err := store.LoadChain()
	if err != nil {
		log.Printf("Discarding unreadable chain state: %v", err)
		_ = store.ClearChain()
		state = nil
	}
	if state != nil && !state.valid() {
		log.Printf("Discarding inconsistent chain state: index=%d stations=%d",
			state.CurrentIndex, len(state.Stations))
		_ = store.ClearChain()
		state = nil
	}
	if state == nil {
		if !fallback.valid() {
			return nil, ErrChainStateLost
		}
		state = fallback
		if err := store.SaveChain(state); err != nil {
			return nil, fmt.Errorf("failed to persist recovered chain state: %w", err)
		}
	}

	return &Chain{state: state, store: store}, nil
}

// CurrentStation returns the station the run is positioned at.
func (c *Chain) CurrentStation() string {
	return c.state.Stations[c.state.CurrentIndex]
}

// SessionID returns the shared session identifier for the whole run.
func (c *Chain) SessionID() string {
	return c.state.SharedSessionID
}

// Position returns the zero-based index and total station count.
func (c *Chain) Position() (int, int) {
	return c.state.CurrentIndex, len(c.state.Stations)
}

// IsLast reports whether the run is at its final station.
func (c *Chain) IsLast() bool {
	return c.state.CurrentIndex == len(c.state.Stations)-1
}

// Advance moves to the next station, persisting the new position before
// reporting it. At the final station it returns ErrChainExhausted and the
// stored state is cleared.
func (c *Chain) Advance() (string, error) {
	if c.IsLast() {
		if err := c.store.ClearChain(); err != nil {
			return "", fmt.Errorf("failed to clear finished chain: %w", err)
		}
		return "", ErrChainExhausted
	}

	next := *c.state
	next.CurrentIndex++
	if err := c.store.SaveChain(&next); err != nil {
		return "", fmt.Errorf("failed to persist chain advance: %w", err)
	}
	c.state = &next
	return c.CurrentStation(), nil
}

// State returns a copy of the persisted state, for building fallback
// descriptors to pass between processes.
func (c *Chain) State() ChainState {
	state := *c.state
	state.Stations = append([]string(nil), c.state.Stations...)
	return state
}
