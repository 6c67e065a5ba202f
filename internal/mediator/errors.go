package mediator

import "errors"

// Mediator lifecycle errors.
var (
	ErrMediatorAlreadyRunning = errors.New("mediator is already running")
	ErrMediatorNotRunning     = errors.New("mediator is not running")
)

// Session protocol errors. These surface to the offending client as typed
// server_error messages; they never unwind a peer's session.
var (
	ErrSessionNotFound        = errors.New("session not found")
	ErrStationRequired        = errors.New("station ID required to create session")
	ErrUnknownParticipant     = errors.New("participant not in session")
	ErrUnauthorizedRole       = errors.New("role not authorized for this operation")
	ErrTimerExists            = errors.New("timer authority already exists for session")
	ErrTimerNotStarted        = errors.New("timer has not been started")
	ErrTimerNotRunning        = errors.New("timer is not running")
	ErrTimerNotPaused         = errors.New("timer is not paused")
	ErrChecklistNotReleasable = errors.New("checklist cannot be released before the station time ends")
	ErrSubmissionNotOpen      = errors.New("evaluation cannot be submitted before the station time ends")
	ErrAlreadySubmitted       = errors.New("evaluation already submitted for this session")
	ErrUnknownMaterial        = errors.New("material item not defined by station script")
	ErrEmptySubmission        = errors.New("no scores available to submit")
)
