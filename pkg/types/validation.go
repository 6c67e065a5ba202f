package types

import (
	"errors"
	"regexp"
)

// Validation error types shared across components.
var (
	ErrInvalidUserID    = errors.New("user ID must be 1-50 characters of [a-zA-Z0-9_-]")
	ErrInvalidRole      = errors.New("invalid role: must be 'actor', 'candidate' or 'evaluator'")
	ErrInvalidStationID = errors.New("invalid station ID format")
	ErrInvalidDuration  = errors.New("duration is not one of the allowed station lengths")
	ErrEmptyChecklist   = errors.New("station script must define at least one checklist item")
	ErrInvalidScore     = errors.New("score is not in the item's allowed set")
)

// Compiled once at package initialization.
var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// AllowedDurations is the fixed set of station lengths in seconds.
var AllowedDurations = []int{300, 360, 420, 480, 540, 600, 660, 720}

// IsValidUserID checks if a user ID meets format requirements.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return idRegex.MatchString(userID)
}

// IsValidStationID checks if a station ID meets format requirements.
func IsValidStationID(stationID string) bool {
	if len(stationID) < 1 || len(stationID) > 100 {
		return false
	}
	return idRegex.MatchString(stationID)
}

// IsValidRole checks if the role is one of the three session roles.
func IsValidRole(role string) bool {
	switch role {
	case RoleActor, RoleCandidate, RoleEvaluator:
		return true
	default:
		return false
	}
}

// IsExaminerRole reports whether the role controls material release and
// checklist scoring.
func IsExaminerRole(role string) bool {
	return role == RoleActor || role == RoleEvaluator
}

// IsAllowedDuration checks the duration against the fixed station lengths.
func IsAllowedDuration(seconds int) bool {
	for _, allowed := range AllowedDurations {
		if seconds == allowed {
			return true
		}
	}
	return false
}

// Validate ensures the station script is usable as a session descriptor.
func (s *StationScript) Validate() error {
	if !IsValidStationID(s.ID) {
		return ErrInvalidStationID
	}
	if len(s.Checklist) == 0 {
		return ErrEmptyChecklist
	}
	for _, item := range s.Checklist {
		if !idRegex.MatchString(item.ID) {
			return ErrInvalidStationID
		}
	}
	for _, item := range s.Materials {
		if !idRegex.MatchString(item.ID) {
			return ErrInvalidStationID
		}
	}
	return nil
}

// ValidateScores checks every scored item against the script's checklist:
// the item must exist and the score must be in its allowed discrete set.
func (s *StationScript) ValidateScores(scores ScoreSet) error {
	for itemID, score := range scores {
		item, ok := s.FindChecklistItem(itemID)
		if !ok {
			return ErrInvalidScore
		}
		if len(item.AllowedScores) == 0 {
			continue
		}
		allowed := false
		for _, v := range item.AllowedScores {
			if v == score {
				allowed = true
				break
			}
		}
		if !allowed {
			return ErrInvalidScore
		}
	}
	return nil
}
