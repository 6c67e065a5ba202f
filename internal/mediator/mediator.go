// Package mediator houses the per-session synchronization core: presence,
// the readiness/start handshake, the timer authority, material release,
// score synchronization and the at-most-once submission. It is the one place
// with shared mutable state per session; all mutating operations on a
// session are serialized.
package mediator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"oscehub/pkg/interfaces"
	"oscehub/pkg/types"
)

// ScriptLoader resolves a station identifier into its immutable script.
type ScriptLoader interface {
	Load(ctx context.Context, stationID string) (*types.StationScript, error)
}

// Config tunes per-session behavior. Zero values fall back to defaults so
// tests can construct mediators tersely.
type Config struct {
	GraceWindow               time.Duration
	TickInterval              time.Duration
	DefaultDurationSeconds    int
	SubmissionRetryMaxElapsed time.Duration
	IdleSessionTTL            time.Duration
	SweepInterval             time.Duration
}

func (c Config) withDefaults() Config {
	if c.GraceWindow <= 0 {
		c.GraceWindow = 2 * time.Minute
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.DefaultDurationSeconds <= 0 {
		c.DefaultDurationSeconds = 600
	}
	if c.SubmissionRetryMaxElapsed <= 0 {
		c.SubmissionRetryMaxElapsed = 2 * time.Minute
	}
	if c.IdleSessionTTL <= 0 {
		c.IdleSessionTTL = 2 * time.Hour
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Minute
	}
	return c
}

// JoinRequest carries the handshake parameters of a connecting client.
type JoinRequest struct {
	SessionID   string
	UserID      string
	Role        string
	StationID   string
	DisplayName string
}

// Mediator owns the live session set. Sessions are created either explicitly
// through CreateSession (an inviter minting a shareable ID before any peer
// connects) or implicitly by the first join, and are garbage-collected once
// all participants are gone.
type Mediator struct {
	loader ScriptLoader
	store  interfaces.SubmissionStore
	config Config

	sessions map[string]*Session
	mu       sync.RWMutex

	running  bool
	shutdown chan struct{}
	runMu    sync.Mutex
}

// New creates a mediator over the given script loader and submission store.
func New(loader ScriptLoader, store interfaces.SubmissionStore, config Config) *Mediator {
	return &Mediator{
		loader:   loader,
		store:    store,
		config:   config.withDefaults(),
		sessions: make(map[string]*Session),
		shutdown: make(chan struct{}),
	}
}

// Start launches the idle-session janitor.
func (m *Mediator) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.running {
		return ErrMediatorAlreadyRunning
	}
	m.running = true

	go m.sweepLoop(ctx)
	log.Println("Session mediator started")
	return nil
}

// Stop shuts down the janitor and tears down remaining sessions.
func (m *Mediator) Stop() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if !m.running {
		return ErrMediatorNotRunning
	}
	m.running = false
	close(m.shutdown)

	m.mu.Lock()
	for id, session := range m.sessions {
		session.mu.Lock()
		session.teardownLocked()
		session.mu.Unlock()
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	log.Println("Session mediator stopped")
	return nil
}

// CreateSession mints a session bound to a station, so the ID can be shared
// in a join link before any transport channel exists.
func (m *Mediator) CreateSession(ctx context.Context, stationID string, durationSeconds int, requireEvaluator bool) (*types.Session, error) {
	if stationID == "" {
		return nil, ErrStationRequired
	}
	if durationSeconds == 0 {
		durationSeconds = m.config.DefaultDurationSeconds
	}
	if !types.IsAllowedDuration(durationSeconds) {
		return nil, types.ErrInvalidDuration
	}

	script, err := m.loader.Load(ctx, stationID)
	if err != nil {
		return nil, err
	}

	info := &types.Session{
		ID:               uuid.New().String(),
		StationID:        stationID,
		DurationSeconds:  durationSeconds,
		RequireEvaluator: requireEvaluator,
		CreatedAt:        time.Now(),
	}

	session := m.newSession(info, script)

	m.mu.Lock()
	m.sessions[info.ID] = session
	m.mu.Unlock()

	log.Printf("Session created: session=%s station=%s duration=%ds evaluator=%t",
		info.ID, stationID, durationSeconds, requireEvaluator)
	return info, nil
}

// Join attaches a client to its session, creating the session on first join
// when it was not pre-minted.
func (m *Mediator) Join(ctx context.Context, req JoinRequest, sender Sender) error {
	if !types.IsValidUserID(req.UserID) {
		return types.ErrInvalidUserID
	}
	if !types.IsValidRole(req.Role) {
		return types.ErrInvalidRole
	}

	m.mu.RLock()
	session, exists := m.sessions[req.SessionID]
	m.mu.RUnlock()

	if !exists {
		if req.StationID == "" {
			return ErrStationRequired
		}
		script, err := m.loader.Load(ctx, req.StationID)
		if err != nil {
			return err
		}

		info := &types.Session{
			ID:              req.SessionID,
			StationID:       req.StationID,
			DurationSeconds: m.config.DefaultDurationSeconds,
			CreatedAt:       time.Now(),
		}
		created := m.newSession(info, script)

		m.mu.Lock()
		if existing, raced := m.sessions[req.SessionID]; raced {
			session = existing
		} else {
			m.sessions[req.SessionID] = created
			session = created
			log.Printf("Session created on first join: session=%s station=%s",
				req.SessionID, req.StationID)
		}
		m.mu.Unlock()
	}

	return session.join(req.UserID, req.Role, req.DisplayName, sender)
}

func (m *Mediator) newSession(info *types.Session, script *types.StationScript) *Session {
	return &Session{
		info:         info,
		script:       script,
		participants: make(map[string]*participant),
		released:     make(map[string]bool),
		scores:       make(types.ScoreSet),
		tickInterval: m.config.TickInterval,
		graceWindow:  m.config.GraceWindow,
		retryWindow:  m.config.SubmissionRetryMaxElapsed,
		store:        m.store,
		onEmpty:      m.removeSession,
	}
}

func (m *Mediator) removeSession(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	log.Printf("Session removed: session=%s", sessionID)
}

func (m *Mediator) session(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// GetSession returns a session's descriptor and roster snapshot.
func (m *Mediator) GetSession(sessionID string) (*types.Session, []types.Participant, error) {
	session, err := m.session(sessionID)
	if err != nil {
		return nil, nil, err
	}
	return session.Info(), session.Roster(), nil
}

// ConnectionCount reports connected participants for a session; zero when
// the session is unknown.
func (m *Mediator) ConnectionCount(sessionID string) int {
	session, err := m.session(sessionID)
	if err != nil {
		return 0
	}
	return session.ConnectedCount()
}

// Protocol operations, delegated to the per-session state machine.

func (m *Mediator) SetReady(sessionID, userID string) error {
	session, err := m.session(sessionID)
	if err != nil {
		return err
	}
	return session.setReady(userID)
}

func (m *Mediator) ReleaseMaterial(sessionID, userID, itemID string) error {
	session, err := m.session(sessionID)
	if err != nil {
		return err
	}
	return session.releaseMaterial(userID, itemID)
}

func (m *Mediator) ReleaseChecklist(sessionID, userID string) error {
	session, err := m.session(sessionID)
	if err != nil {
		return err
	}
	return session.releaseChecklist(userID)
}

func (m *Mediator) UpdateScores(sessionID, userID string, scores types.ScoreSet) error {
	session, err := m.session(sessionID)
	if err != nil {
		return err
	}
	return session.updateScores(userID, scores)
}

func (m *Mediator) SubmitEvaluation(sessionID, userID string, scores types.ScoreSet) error {
	session, err := m.session(sessionID)
	if err != nil {
		return err
	}
	return session.submitEvaluation(userID, scores)
}

func (m *Mediator) StopTimer(sessionID, userID, reason string) error {
	session, err := m.session(sessionID)
	if err != nil {
		return err
	}
	return session.stopTimer(userID, reason)
}

func (m *Mediator) PauseTimer(sessionID, userID string) error {
	session, err := m.session(sessionID)
	if err != nil {
		return err
	}
	return session.pause(userID)
}

func (m *Mediator) ResumeTimer(sessionID, userID string) error {
	session, err := m.session(sessionID)
	if err != nil {
		return err
	}
	return session.resume(userID)
}

func (m *Mediator) Resync(sessionID, userID string) error {
	session, err := m.session(sessionID)
	if err != nil {
		return err
	}
	return session.resync(userID)
}

// Disconnect marks a participant temporarily gone; the grace window decides
// whether peers eventually see a terminal leave.
func (m *Mediator) Disconnect(sessionID, userID string, sender Sender) {
	session, err := m.session(sessionID)
	if err != nil {
		return
	}
	session.disconnect(userID, sender)
}

// Leave removes a participant immediately.
func (m *Mediator) Leave(sessionID, userID string) {
	session, err := m.session(sessionID)
	if err != nil {
		return
	}
	session.leave(userID)
}

// Stats reports mediator-level counters for health reporting.
func (m *Mediator) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	connections := 0
	for _, session := range m.sessions {
		connections += session.ConnectedCount()
	}
	return map[string]int{
		"active_sessions":   len(m.sessions),
		"total_connections": connections,
	}
}

// sweepLoop collects sessions that were pre-minted but never joined, or sat
// empty past their TTL.
func (m *Mediator) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweepIdleSessions()
		case <-m.shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Mediator) sweepIdleSessions() {
	m.mu.Lock()
	defer m.mu.Unlock()

	swept := 0
	for id, session := range m.sessions {
		session.mu.Lock()
		idle := len(session.participants) == 0 &&
			time.Since(session.info.CreatedAt) > m.config.IdleSessionTTL
		if idle {
			session.teardownLocked()
		}
		session.mu.Unlock()

		if idle {
			delete(m.sessions, id)
			swept++
		}
	}
	if swept > 0 {
		log.Printf("Idle sessions swept: count=%d", swept)
	}
}
