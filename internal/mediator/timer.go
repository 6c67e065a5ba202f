package mediator

import (
	"sync"
	"time"

	"oscehub/pkg/protocol"
)

// Timer authority states, reported verbatim in resync snapshots.
const (
	TimerIdle    = "idle"
	TimerRunning = "running"
	TimerPaused  = "paused"
	TimerEnded   = "ended"
	TimerStopped = "stopped"
)

// timer is the single source of timing truth for a session. Clients are
// read-only subscribers; the remaining value is only ever decremented here,
// under the session lock, and once a terminal state is reached no further
// updates are emitted.
type timer struct {
	remaining int
	state     string
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func newTimer(durationSeconds int) *timer {
	return &timer{
		remaining: durationSeconds,
		state:     TimerRunning,
		stopCh:    make(chan struct{}),
	}
}

func (t *timer) terminal() bool {
	return t.state == TimerEnded || t.state == TimerStopped
}

// halt stops the tick goroutine without emitting anything. Used for teardown
// and after a terminal transition has already been broadcast.
func (t *timer) halt() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
	})
}

// startTimer creates the session's timer authority and begins ticking.
// Duplicate authority creation for a session is rejected.
// Caller must hold s.mu.
func (s *Session) startTimer(durationSeconds int) error {
	if s.timer != nil {
		return ErrTimerExists
	}
	s.timer = newTimer(durationSeconds)
	go s.runTimer(s.timer)
	return nil
}

// runTimer ticks at the configured interval, broadcasting timer_update until
// expiry or a manual stop. The terminal transition happens exactly once.
func (s *Session) runTimer(t *timer) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			switch t.state {
			case TimerPaused:
				s.mu.Unlock()
				continue
			case TimerRunning:
				t.remaining--
				if t.remaining <= 0 {
					t.remaining = 0
					t.state = TimerEnded
					s.broadcast(protocol.MustEncode(protocol.TypeTimerEnd, protocol.TimerEnd{}), "")
					s.mu.Unlock()
					t.halt()
					return
				}
				s.broadcast(protocol.MustEncode(protocol.TypeTimerUpdate,
					protocol.TimerUpdate{RemainingSeconds: t.remaining}), "")
				s.mu.Unlock()
			default:
				// Terminal state reached elsewhere; stop ticking.
				s.mu.Unlock()
				return
			}
		case <-t.stopCh:
			return
		}
	}
}

// StopTimer ends the countdown early. This is a distinct terminal state from
// natural expiry; the reason is carried to every participant.
func (s *Session) stopTimerLocked(reason string) error {
	if s.timer == nil {
		return ErrTimerNotStarted
	}
	if s.timer.terminal() {
		return nil // already terminal, stop is idempotent
	}
	s.timer.state = TimerStopped
	if reason == "" {
		reason = "manual_end"
	}
	s.broadcast(protocol.MustEncode(protocol.TypeTimerStopped,
		protocol.TimerStopped{Reason: reason}), "")
	s.timer.halt()
	return nil
}

// pauseTimerLocked suspends ticking without touching the remaining value.
func (s *Session) pauseTimerLocked(reason string) error {
	if s.timer == nil {
		return ErrTimerNotStarted
	}
	if s.timer.terminal() {
		return nil
	}
	if s.timer.state != TimerRunning {
		return ErrTimerNotRunning
	}
	s.timer.state = TimerPaused
	s.broadcast(protocol.MustEncode(protocol.TypeSimulationPaused,
		protocol.SimulationPaused{Reason: reason}), "")
	return nil
}

// resumeTimerLocked restarts ticking from the preserved remaining value.
func (s *Session) resumeTimerLocked() error {
	if s.timer == nil {
		return ErrTimerNotStarted
	}
	if s.timer.terminal() {
		return nil
	}
	if s.timer.state != TimerPaused {
		return ErrTimerNotPaused
	}
	s.timer.state = TimerRunning
	s.broadcast(protocol.MustEncode(protocol.TypeSimulationResumed,
		protocol.SimulationResumed{RemainingSeconds: s.timer.remaining}), "")
	return nil
}

// timerTerminal reports whether the timer has reached a terminal state.
// Timer-terminal is the happens-before barrier for checklist release and
// submission. Caller must hold s.mu.
func (s *Session) timerTerminal() bool {
	return s.timer != nil && s.timer.terminal()
}

// timerSnapshot returns the state and remaining seconds for resync.
// Caller must hold s.mu.
func (s *Session) timerSnapshot() (string, int) {
	if s.timer == nil {
		return TimerIdle, s.info.DurationSeconds
	}
	return s.timer.state, s.timer.remaining
}
