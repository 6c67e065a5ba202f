package mediator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"oscehub/pkg/interfaces"
	"oscehub/pkg/protocol"
	"oscehub/pkg/types"
)

// Sender is the write side of a participant's transport channel. The
// WebSocket connection wrapper implements it; tests use in-memory fakes.
type Sender interface {
	WriteJSON(v any) error
	Close() error
}

// participant is a roster entry plus its live transport attachment.
type participant struct {
	types.Participant
	sender         Sender
	disconnectedAt time.Time
}

// Session holds all mutable per-session state. Every mutating operation is
// serialized on s.mu, so interleavings cannot produce two start events or
// two accepted submissions. Sessions are independent and run in parallel.
type Session struct {
	mu     sync.Mutex
	info   *types.Session
	script *types.StationScript

	participants map[string]*participant

	started          bool
	timer            *timer
	released         map[string]bool
	releaseOrder     []string
	checklistVisible bool
	scores           types.ScoreSet
	submitted        bool
	submittedTotal   float64
	closed           bool

	tickInterval time.Duration
	graceWindow  time.Duration
	retryWindow  time.Duration
	store        interfaces.SubmissionStore
	onEmpty      func(sessionID string)
}

// Info returns the immutable session descriptor.
func (s *Session) Info() *types.Session {
	return s.info
}

// Roster returns a snapshot of the current participants.
func (s *Session) Roster() []types.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rosterLocked("")
}

// ConnectedCount returns the number of currently connected participants.
func (s *Session) ConnectedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, p := range s.participants {
		if p.Connected {
			count++
		}
	}
	return count
}

// join attaches a participant to the session. A reconnecting user resumes
// its roster entry; a new connection for an occupied role slot supersedes
// the previous holder (last-writer-wins). The joiner always receives the
// full roster and a resync snapshot so join order never hides a peer.
func (s *Session) join(userID, role, displayName string, sender Sender) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionNotFound
	}

	if existing, ok := s.participants[userID]; ok {
		reconnecting := !existing.Connected
		if existing.sender != nil && existing.sender != sender {
			closeAsync(existing.sender)
		}
		existing.sender = sender
		existing.Connected = true
		existing.disconnectedAt = time.Time{}
		existing.DisplayName = displayName

		if reconnecting {
			log.Printf("Participant reconnected: session=%s user=%s role=%s",
				s.info.ID, userID, existing.Role)
			s.broadcast(protocol.MustEncode(protocol.TypeParticipantReconnected,
				protocol.ParticipantReconnected{Participant: existing.Participant}), userID)
		}
		s.sendJoinState(existing)
		return nil
	}

	// Last-writer-wins on the role slot: a connected holder of the same
	// role is superseded by the new arrival.
	for id, p := range s.participants {
		if p.Role == role && id != userID {
			if p.sender != nil {
				closeAsync(p.sender)
			}
			delete(s.participants, id)
			s.broadcast(protocol.MustEncode(protocol.TypeLeft,
				protocol.Left{Participant: p.Participant}), userID)
			log.Printf("Role slot superseded: session=%s role=%s old=%s new=%s",
				s.info.ID, role, id, userID)
		}
	}

	joined := &participant{
		Participant: types.Participant{
			UserID:      userID,
			DisplayName: displayName,
			Role:        role,
			Connected:   true,
		},
		sender: sender,
	}
	s.participants[userID] = joined
	log.Printf("Participant joined: session=%s user=%s role=%s", s.info.ID, userID, role)

	s.broadcast(protocol.MustEncode(protocol.TypeJoined,
		protocol.Joined{Participant: joined.Participant}), userID)
	s.sendJoinState(joined)
	return nil
}

// sendJoinState delivers the roster and authoritative snapshot to a joiner.
// Caller must hold s.mu.
func (s *Session) sendJoinState(p *participant) {
	s.send(p, protocol.MustEncode(protocol.TypeExistingParticipants,
		protocol.ExistingParticipants{Participants: s.rosterLocked(p.UserID)}))
	s.send(p, protocol.MustEncode(protocol.TypeResyncState, s.resyncLocked()))
}

// setReady marks a participant ready. Once every required role is
// simultaneously connected and ready, the start transition fires exactly
// once: both_ready and simulation_start are broadcast atomically under the
// session lock and the timer authority is created. Re-toggling ready after
// the start has no effect.
func (s *Session) setReady(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[userID]
	if !ok || !p.Connected {
		return ErrUnknownParticipant
	}
	if s.started {
		return nil // terminal guard
	}
	if p.IsReady {
		return nil
	}
	p.IsReady = true
	s.broadcast(protocol.MustEncode(protocol.TypeReadyChanged,
		protocol.ReadyChanged{UserID: userID, IsReady: true}), userID)

	if !s.allRequiredReadyLocked() {
		return nil
	}

	s.started = true
	log.Printf("Simulation started: session=%s station=%s duration=%ds",
		s.info.ID, s.info.StationID, s.info.DurationSeconds)
	s.broadcast(protocol.MustEncode(protocol.TypeBothReady, protocol.BothReady{}), "")
	s.broadcast(protocol.MustEncode(protocol.TypeSimulationStart,
		protocol.SimulationStart{DurationSeconds: s.info.DurationSeconds}), "")
	return s.startTimer(s.info.DurationSeconds)
}

// allRequiredReadyLocked checks actor+candidate (and evaluator when the
// session requires one) for connected-and-ready.
func (s *Session) allRequiredReadyLocked() bool {
	required := []string{types.RoleActor, types.RoleCandidate}
	if s.info.RequireEvaluator {
		required = append(required, types.RoleEvaluator)
	}
	for _, role := range required {
		satisfied := false
		for _, p := range s.participants {
			if p.Role == role && p.Connected && p.IsReady {
				satisfied = true
				break
			}
		}
		if !satisfied {
			return false
		}
	}
	return true
}

// releaseMaterial discloses a material item to the candidate. Release is
// idempotent and monotonic: a replay from a reconnecting examiner neither
// errors nor produces a duplicate broadcast.
func (s *Session) releaseMaterial(userID, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireExaminerLocked(userID); err != nil {
		return err
	}
	item, ok := s.script.FindMaterial(itemID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMaterial, itemID)
	}
	if s.released[itemID] {
		return nil
	}
	s.released[itemID] = true
	s.releaseOrder = append(s.releaseOrder, itemID)

	// Delivered to the candidate only; the examining roles already hold
	// the station script.
	s.sendToRole(types.RoleCandidate, protocol.MustEncode(protocol.TypeMaterialReleased,
		protocol.MaterialReleased{ItemID: itemID, Item: *item}))
	log.Printf("Material released: session=%s item=%s by=%s", s.info.ID, itemID, userID)
	return nil
}

// releaseChecklist makes the checklist visible to the candidate. The gate is
// enforced here, not in the UI: before a terminal timer state the release is
// rejected. Idempotent once released.
func (s *Session) releaseChecklist(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireExaminerLocked(userID); err != nil {
		return err
	}
	if !s.timerTerminal() {
		return ErrChecklistNotReleasable
	}
	if s.checklistVisible {
		return nil
	}
	s.checklistVisible = true

	s.sendToRole(types.RoleCandidate, protocol.MustEncode(protocol.TypeChecklistVisible,
		protocol.ChecklistVisible{Visible: true, Checklist: s.script.Checklist}))
	// The candidate also gets the scores accumulated so far, so visibility
	// and the current score set arrive together.
	if len(s.scores) > 0 {
		s.sendToRole(types.RoleCandidate, protocol.MustEncode(protocol.TypeScoresUpdated,
			protocol.ScoresUpdated{Scores: s.scores.Clone(), Total: s.scores.Total()}))
	}
	log.Printf("Checklist released: session=%s by=%s", s.info.ID, userID)
	return nil
}

// updateScores replaces the authoritative score map with the examiner's
// latest set. The candidate sees updates only once the checklist is visible;
// the other examining role always does. Once the evaluation is submitted the
// map is frozen. This path never writes durable storage.
func (s *Session) updateScores(userID string, scores types.ScoreSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireExaminerLocked(userID); err != nil {
		return err
	}
	// The submitted record is final; later updates would make resync
	// snapshots disagree with what was persisted.
	if s.submitted {
		return ErrAlreadySubmitted
	}
	if err := s.script.ValidateScores(scores); err != nil {
		return err
	}

	s.scores = scores.Clone()
	total := s.scores.Total()

	env := protocol.MustEncode(protocol.TypeScoresUpdated,
		protocol.ScoresUpdated{Scores: s.scores.Clone(), Total: total})
	for _, p := range s.participants {
		if p.UserID == userID {
			continue
		}
		if p.Role == types.RoleCandidate && !s.checklistVisible {
			continue
		}
		s.send(p, env)
	}
	return nil
}

// submitEvaluation accepts the candidate's one and only submission. The
// evaluator's last stored score set wins when non-empty; the candidate's
// payload is the fallback. The total is recomputed server-side. Confirmation
// is broadcast immediately; the durable write runs in the background with
// its own retry policy, independent of the live transport.
func (s *Session) submitEvaluation(userID string, payload types.ScoreSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[userID]
	if !ok || !p.Connected {
		return ErrUnknownParticipant
	}
	if p.Role != types.RoleCandidate {
		return ErrUnauthorizedRole
	}
	if !s.timerTerminal() {
		return ErrSubmissionNotOpen
	}
	if s.submitted {
		return ErrAlreadySubmitted
	}

	final := s.scores.Clone()
	if len(final) == 0 {
		final = payload.Clone()
	}
	if len(final) == 0 {
		return ErrEmptySubmission
	}
	if err := s.script.ValidateScores(final); err != nil {
		return err
	}

	total := final.Total()
	record := &types.SubmissionRecord{
		ID:          uuid.New().String(),
		SessionID:   s.info.ID,
		CandidateID: userID,
		StationID:   s.info.StationID,
		Scores:      final,
		TotalScore:  total,
		SubmittedAt: time.Now(),
	}

	s.submitted = true
	s.submittedTotal = total
	// The live map mirrors the persisted record from here on, so resync
	// snapshots report exactly what was submitted.
	s.scores = final.Clone()
	log.Printf("Submission accepted: session=%s candidate=%s total=%.2f",
		s.info.ID, userID, total)

	// Two independent effects: broadcast confirmation now, persist with
	// retries in the background. Neither blocks the other.
	s.sendToExaminers(protocol.MustEncode(protocol.TypeCandidateSubmitted,
		protocol.CandidateSubmitted{Total: total}), "")
	s.send(p, protocol.MustEncode(protocol.TypeSubmissionConfirmed, protocol.SubmissionConfirmed{}))

	go s.persistSubmission(record)
	return nil
}

// persistSubmission writes the submission record with exponential backoff.
// If retries exhaust, the candidate is told the result may not be saved
// rather than being told nothing.
func (s *Session) persistSubmission(record *types.SubmissionRecord) {
	if s.store == nil {
		return
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = s.retryWindow

	err := backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := s.store.StoreSubmission(ctx, record)
		if errors.Is(err, interfaces.ErrDuplicateSubmission) {
			// Already durable from an earlier attempt.
			return backoff.Permanent(err)
		}
		return err
	}, policy)

	if err != nil && !errors.Is(err, interfaces.ErrDuplicateSubmission) {
		log.Printf("Submission write failed after retries: session=%s err=%v", s.info.ID, err)
		s.mu.Lock()
		if p, ok := s.participants[record.CandidateID]; ok {
			s.send(p, protocol.MustEncode(protocol.TypeServerError, protocol.ServerError{
				Code:    "submission_not_saved",
				Message: "Your result was recorded in the session but could not be saved durably.",
			}))
		}
		s.mu.Unlock()
		return
	}
	log.Printf("Submission persisted: session=%s candidate=%s", s.info.ID, record.CandidateID)
}

// stopTimer ends the countdown early on behalf of an examining role.
func (s *Session) stopTimer(userID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireExaminerLocked(userID); err != nil {
		return err
	}
	return s.stopTimerLocked(reason)
}

func (s *Session) pause(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireExaminerLocked(userID); err != nil {
		return err
	}
	return s.pauseTimerLocked("manual_pause")
}

func (s *Session) resume(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireExaminerLocked(userID); err != nil {
		return err
	}
	return s.resumeTimerLocked()
}

// disconnect marks a participant as temporarily gone. Peers see a transient
// participant_disconnected, never a false terminal state; only after the
// grace window expires without a reconnect does the roster entry leave. An
// examining role dropping mid-run pauses the timer automatically.
func (s *Session) disconnect(userID string, sender Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[userID]
	if !ok {
		return
	}
	if sender != nil && p.sender != sender {
		return // a newer connection superseded this one
	}

	p.Connected = false
	p.sender = nil
	p.disconnectedAt = time.Now()
	log.Printf("Participant disconnected: session=%s user=%s role=%s grace=%s",
		s.info.ID, userID, p.Role, s.graceWindow)

	s.broadcast(protocol.MustEncode(protocol.TypeParticipantDisconnected,
		protocol.ParticipantDisconnected{Participant: p.Participant}), userID)

	if types.IsExaminerRole(p.Role) && s.timer != nil && s.timer.state == TimerRunning {
		_ = s.pauseTimerLocked("examiner_disconnected")
	}

	grace := s.graceWindow
	time.AfterFunc(grace, func() {
		s.expireParticipant(userID)
	})
}

// expireParticipant removes a participant whose grace window lapsed without
// a reconnect, and tears the session down once the roster is empty.
func (s *Session) expireParticipant(userID string) {
	s.mu.Lock()

	p, ok := s.participants[userID]
	if !ok || p.Connected || p.disconnectedAt.IsZero() {
		s.mu.Unlock()
		return
	}
	if time.Since(p.disconnectedAt) < s.graceWindow {
		s.mu.Unlock()
		return
	}

	delete(s.participants, userID)
	log.Printf("Participant removed after grace window: session=%s user=%s", s.info.ID, userID)
	s.broadcast(protocol.MustEncode(protocol.TypeLeft,
		protocol.Left{Participant: p.Participant}), userID)

	empty := len(s.participants) == 0
	if empty {
		s.teardownLocked()
	}
	s.mu.Unlock()

	if empty && s.onEmpty != nil {
		s.onEmpty(s.info.ID)
	}
}

// leave removes a participant immediately (explicit exit, no grace window).
func (s *Session) leave(userID string) {
	s.mu.Lock()

	p, ok := s.participants[userID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if p.sender != nil {
		closeAsync(p.sender)
	}
	delete(s.participants, userID)
	p.Connected = false
	s.broadcast(protocol.MustEncode(protocol.TypeLeft,
		protocol.Left{Participant: p.Participant}), userID)
	log.Printf("Participant left: session=%s user=%s role=%s", s.info.ID, userID, p.Role)

	empty := len(s.participants) == 0
	if empty {
		s.teardownLocked()
	}
	s.mu.Unlock()

	if empty && s.onEmpty != nil {
		s.onEmpty(s.info.ID)
	}
}

// teardownLocked stops the timer goroutine and marks the session closed.
// Caller must hold s.mu.
func (s *Session) teardownLocked() {
	s.closed = true
	if s.timer != nil && !s.timer.terminal() {
		s.timer.state = TimerStopped
		s.timer.halt()
	}
	log.Printf("Session torn down: session=%s", s.info.ID)
}

// resync re-sends the authoritative snapshot to one participant.
func (s *Session) resync(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[userID]
	if !ok || !p.Connected {
		return ErrUnknownParticipant
	}
	s.send(p, protocol.MustEncode(protocol.TypeResyncState, s.resyncLocked()))
	return nil
}

// resyncLocked builds the authoritative state snapshot: roster, release set,
// checklist visibility, score set, timer and submission state. Recovery on
// reconnect is this one message, not replayed event history.
func (s *Session) resyncLocked() protocol.ResyncState {
	state, remaining := s.timerSnapshot()
	released := make([]string, len(s.releaseOrder))
	copy(released, s.releaseOrder)

	return protocol.ResyncState{
		Participants:     s.rosterLocked(""),
		ReleasedItems:    released,
		ChecklistVisible: s.checklistVisible,
		Scores:           s.scores.Clone(),
		Total:            s.scores.Total(),
		TimerState:       state,
		RemainingSeconds: remaining,
		Submitted:        s.submitted,
	}
}

func (s *Session) rosterLocked(exceptUserID string) []types.Participant {
	roster := make([]types.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		if p.UserID == exceptUserID {
			continue
		}
		roster = append(roster, p.Participant)
	}
	return roster
}

func (s *Session) requireExaminerLocked(userID string) error {
	p, ok := s.participants[userID]
	if !ok || !p.Connected {
		return ErrUnknownParticipant
	}
	if !types.IsExaminerRole(p.Role) {
		return ErrUnauthorizedRole
	}
	return nil
}

// Delivery helpers. All callers hold s.mu; writes queue onto each
// connection's buffered writer and never block the session lock for long.

func (s *Session) send(p *participant, env *protocol.Envelope) {
	if p.sender == nil {
		return
	}
	if err := p.sender.WriteJSON(env); err != nil {
		log.Printf("Failed to deliver %s to user=%s session=%s: %v",
			env.Type, p.UserID, s.info.ID, err)
	}
}

func (s *Session) broadcast(env *protocol.Envelope, exceptUserID string) {
	for _, p := range s.participants {
		if p.UserID == exceptUserID {
			continue
		}
		s.send(p, env)
	}
}

func (s *Session) sendToRole(role string, env *protocol.Envelope) {
	for _, p := range s.participants {
		if p.Role == role {
			s.send(p, env)
		}
	}
}

func (s *Session) sendToExaminers(env *protocol.Envelope, exceptUserID string) {
	for _, p := range s.participants {
		if p.UserID == exceptUserID || !types.IsExaminerRole(p.Role) {
			continue
		}
		s.send(p, env)
	}
}

// closeAsync closes a superseded sender off the lock path.
func closeAsync(sender Sender) {
	go func() {
		if err := sender.Close(); err != nil {
			log.Printf("Failed to close superseded connection: %v", err)
		}
	}()
}
