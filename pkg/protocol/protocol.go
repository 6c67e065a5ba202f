// Package protocol defines the closed set of typed messages carried over a
// session's duplex channel. Every message is an envelope with a type tag and
// a JSON payload; decoding an unknown type is an error, never a silent
// fall-through.
package protocol

import (
	"encoding/json"
	"fmt"

	"oscehub/pkg/types"
)

// Client-to-server message types.
const (
	TypeSetReady         = "set_ready"
	TypeReleaseMaterial  = "release_material"
	TypeReleaseChecklist = "release_checklist"
	TypeUpdateScores     = "update_scores"
	TypeSubmitEvaluation = "submit_evaluation"
	TypeStopTimer        = "stop_timer"
	TypePauseTimer       = "pause_timer"
	TypeResumeTimer      = "resume_timer"
	TypeResync           = "resync"
)

// Server-to-client message types.
const (
	TypeJoined                  = "joined"
	TypeLeft                    = "left"
	TypeParticipantDisconnected = "participant_disconnected"
	TypeParticipantReconnected  = "participant_reconnected"
	TypeExistingParticipants    = "existing_participants"
	TypeReadyChanged            = "ready_changed"
	TypeBothReady               = "both_ready"
	TypeSimulationStart         = "simulation_start"
	TypeTimerUpdate             = "timer_update"
	TypeTimerEnd                = "timer_end"
	TypeTimerStopped            = "timer_stopped"
	TypeSimulationPaused        = "simulation_paused"
	TypeSimulationResumed       = "simulation_resumed"
	TypeMaterialReleased        = "material_released"
	TypeChecklistVisible        = "checklist_visible"
	TypeScoresUpdated           = "scores_updated"
	TypeCandidateSubmitted      = "candidate_submitted"
	TypeSubmissionConfirmed     = "submission_confirmed"
	TypeResyncState             = "resync_state"
	TypeServerError             = "server_error"
)

// Envelope is the wire format for every message in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client-to-server payloads.

type SetReady struct{}

type ReleaseMaterial struct {
	ItemID string `json:"item_id"`
}

type ReleaseChecklist struct{}

type UpdateScores struct {
	Scores types.ScoreSet `json:"scores"`
}

type SubmitEvaluation struct {
	Scores types.ScoreSet `json:"scores"`
	Total  float64        `json:"total"`
}

type StopTimer struct {
	Reason string `json:"reason,omitempty"`
}

type PauseTimer struct{}

type ResumeTimer struct{}

type Resync struct{}

// Server-to-client payloads.

type Joined struct {
	Participant types.Participant `json:"participant"`
}

type Left struct {
	Participant types.Participant `json:"participant"`
}

type ParticipantDisconnected struct {
	Participant types.Participant `json:"participant"`
}

type ParticipantReconnected struct {
	Participant types.Participant `json:"participant"`
}

type ExistingParticipants struct {
	Participants []types.Participant `json:"participants"`
}

type ReadyChanged struct {
	UserID  string `json:"user_id"`
	IsReady bool   `json:"is_ready"`
}

type BothReady struct{}

type SimulationStart struct {
	DurationSeconds int `json:"duration_seconds"`
}

type TimerUpdate struct {
	RemainingSeconds int `json:"remaining_seconds"`
}

type TimerEnd struct{}

type TimerStopped struct {
	Reason string `json:"reason"`
}

type SimulationPaused struct {
	Reason string `json:"reason"`
}

type SimulationResumed struct {
	RemainingSeconds int `json:"remaining_seconds"`
}

type MaterialReleased struct {
	ItemID string             `json:"item_id"`
	Item   types.MaterialItem `json:"item"`
}

type ChecklistVisible struct {
	Visible   bool                  `json:"visible"`
	Checklist []types.ChecklistItem `json:"checklist,omitempty"`
}

type ScoresUpdated struct {
	Scores types.ScoreSet `json:"scores"`
	Total  float64        `json:"total"`
}

type CandidateSubmitted struct {
	Total float64 `json:"total"`
}

type SubmissionConfirmed struct{}

// ResyncState is the authoritative snapshot sent on every (re)join and on an
// explicit resync request: roster, release set, score set and timer in a
// single well-defined message instead of replayed event history.
type ResyncState struct {
	Participants     []types.Participant `json:"participants"`
	ReleasedItems    []string            `json:"released_items"`
	ChecklistVisible bool                `json:"checklist_visible"`
	Scores           types.ScoreSet      `json:"scores"`
	Total            float64             `json:"total"`
	TimerState       string              `json:"timer_state"`
	RemainingSeconds int                 `json:"remaining_seconds"`
	Submitted        bool                `json:"submitted"`
}

type ServerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Encode wraps a payload into an envelope ready for transport.
func Encode(msgType string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", msgType, err)
	}
	return &Envelope{Type: msgType, Payload: data}, nil
}

// MustEncode is Encode for payloads that cannot fail to marshal (all protocol
// payload structs). It panics on marshal failure.
func MustEncode(msgType string, payload any) *Envelope {
	env, err := Encode(msgType, payload)
	if err != nil {
		panic(err)
	}
	return env
}
