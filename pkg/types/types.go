package types

import (
	"encoding/json"
	"time"
)

// Participant roles. A session binds an actor and a candidate, plus an
// optional silent evaluator.
const (
	RoleActor     = "actor"
	RoleCandidate = "candidate"
	RoleEvaluator = "evaluator"
)

// Material kinds defined by a station script.
const (
	MaterialKindPrinted = "printed"
	MaterialKindVerbal  = "verbal"
)

// Session is the unit of synchronization. It is immutable after creation;
// all mutable per-session state lives in the mediator and is transport-scoped.
type Session struct {
	ID               string    `json:"id"`
	StationID        string    `json:"station_id"`
	DurationSeconds  int       `json:"duration_seconds"`
	RequireEvaluator bool      `json:"require_evaluator"`
	CreatedAt        time.Time `json:"created_at"`
}

// Participant is a role-bound client attachment to a session.
// At most one participant per (session, role) is connected at a time;
// a second connection for the same role supersedes the first.
type Participant struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	IsReady     bool   `json:"is_ready"`
	Connected   bool   `json:"connected"`
}

// MaterialItem is a unit of disclosable content (printed exhibit or verbal
// script fragment). Release is monotonic: once disclosed to the candidate it
// is never retracted for the life of the session.
type MaterialItem struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	Title   string          `json:"title"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ChecklistItem is one scoring rubric entry of a station's checklist.
type ChecklistItem struct {
	ID            string    `json:"id"`
	Description   string    `json:"description"`
	AllowedScores []float64 `json:"allowed_scores"`
}

// StationScript is the immutable station definition resolved once at session
// entry: role scripts, printable material definitions and the checklist.
type StationScript struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	ActorScript    string          `json:"actor_script"`
	CandidateBrief string          `json:"candidate_brief"`
	Materials      []MaterialItem  `json:"materials"`
	Checklist      []ChecklistItem `json:"checklist"`
}

// FindMaterial returns the material item with the given ID, if defined.
func (s *StationScript) FindMaterial(itemID string) (*MaterialItem, bool) {
	for i := range s.Materials {
		if s.Materials[i].ID == itemID {
			return &s.Materials[i], true
		}
	}
	return nil, false
}

// FindChecklistItem returns the checklist item with the given ID, if defined.
func (s *StationScript) FindChecklistItem(itemID string) (*ChecklistItem, bool) {
	for i := range s.Checklist {
		if s.Checklist[i].ID == itemID {
			return &s.Checklist[i], true
		}
	}
	return nil, false
}

// ScoreSet maps checklist item IDs to awarded scores. Partial sets are valid
// intermediate states; only the mediator's copy is authoritative.
type ScoreSet map[string]float64

// Total returns the sum of all per-item scores.
func (s ScoreSet) Total() float64 {
	var total float64
	for _, score := range s {
		total += score
	}
	return total
}

// Clone returns an independent copy so callers can hand the set to other
// goroutines without sharing the underlying map.
func (s ScoreSet) Clone() ScoreSet {
	if s == nil {
		return nil
	}
	clone := make(ScoreSet, len(s))
	for id, score := range s {
		clone[id] = score
	}
	return clone
}

// SubmissionRecord is the only artifact of a session that survives into
// durable storage. Exactly one record exists per session.
type SubmissionRecord struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	CandidateID string    `json:"candidate_id"`
	StationID   string    `json:"station_id"`
	Scores      ScoreSet  `json:"scores"`
	TotalScore  float64   `json:"total_score"`
	SubmittedAt time.Time `json:"submitted_at"`
}
