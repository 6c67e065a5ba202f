package types

import (
	"errors"
	"testing"
)

func TestIsValidUserID(t *testing.T) {
	valid := []string{"a", "user1", "dr-garcia", "candidate_42", "ABC-123_xyz"}
	for _, id := range valid {
		if !IsValidUserID(id) {
			t.Errorf("Expected %q to be valid", id)
		}
	}

	invalid := []string{"", "user with spaces", "user@host", "áccented", string(make([]byte, 51))}
	for _, id := range invalid {
		if IsValidUserID(id) {
			t.Errorf("Expected %q to be invalid", id)
		}
	}
}

func TestIsValidRole(t *testing.T) {
	for _, role := range []string{RoleActor, RoleCandidate, RoleEvaluator} {
		if !IsValidRole(role) {
			t.Errorf("Expected role %q to be valid", role)
		}
	}
	for _, role := range []string{"", "observer", "Actor", "ACTOR"} {
		if IsValidRole(role) {
			t.Errorf("Expected role %q to be invalid", role)
		}
	}
}

func TestIsExaminerRole(t *testing.T) {
	if !IsExaminerRole(RoleActor) || !IsExaminerRole(RoleEvaluator) {
		t.Error("Actor and evaluator should be examiner roles")
	}
	if IsExaminerRole(RoleCandidate) {
		t.Error("Candidate should not be an examiner role")
	}
}

func TestIsAllowedDuration(t *testing.T) {
	for _, seconds := range AllowedDurations {
		if !IsAllowedDuration(seconds) {
			t.Errorf("Expected %d to be an allowed duration", seconds)
		}
	}
	for _, seconds := range []int{0, 1, 299, 301, 721, -300} {
		if IsAllowedDuration(seconds) {
			t.Errorf("Expected %d to be rejected", seconds)
		}
	}
}

func TestScoreSetTotal(t *testing.T) {
	scores := ScoreSet{"item1": 1.0, "item2": 0.5, "item3": 2.0}
	if total := scores.Total(); total != 3.5 {
		t.Errorf("Expected total 3.5, got %v", total)
	}

	var empty ScoreSet
	if total := empty.Total(); total != 0 {
		t.Errorf("Expected zero total for nil set, got %v", total)
	}
}

func TestScoreSetClone(t *testing.T) {
	original := ScoreSet{"item1": 1.0}
	clone := original.Clone()
	clone["item1"] = 2.0
	clone["item2"] = 1.0

	if original["item1"] != 1.0 {
		t.Error("Clone should not share storage with the original")
	}
	if _, exists := original["item2"]; exists {
		t.Error("Clone should not share storage with the original")
	}

	var nilSet ScoreSet
	if nilSet.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func testScript() *StationScript {
	return &StationScript{
		ID:    "chest-pain",
		Title: "Acute chest pain",
		Materials: []MaterialItem{
			{ID: "ecg", Kind: MaterialKindPrinted, Title: "12-lead ECG"},
			{ID: "history", Kind: MaterialKindVerbal, Title: "Family history"},
		},
		Checklist: []ChecklistItem{
			{ID: "anamnesis", Description: "Takes focused history", AllowedScores: []float64{0, 0.5, 1}},
			{ID: "exam", Description: "Performs cardiac exam", AllowedScores: []float64{0, 1}},
		},
	}
}

func TestStationScriptValidate(t *testing.T) {
	if err := testScript().Validate(); err != nil {
		t.Errorf("Valid script should pass validation: %v", err)
	}

	noChecklist := testScript()
	noChecklist.Checklist = nil
	if err := noChecklist.Validate(); !errors.Is(err, ErrEmptyChecklist) {
		t.Errorf("Expected ErrEmptyChecklist, got %v", err)
	}

	badID := testScript()
	badID.ID = "has spaces"
	if err := badID.Validate(); !errors.Is(err, ErrInvalidStationID) {
		t.Errorf("Expected ErrInvalidStationID, got %v", err)
	}
}

func TestStationScriptFindMaterial(t *testing.T) {
	script := testScript()

	item, found := script.FindMaterial("ecg")
	if !found || item.Title != "12-lead ECG" {
		t.Errorf("Expected to find ecg material, got found=%v item=%+v", found, item)
	}
	if _, found := script.FindMaterial("missing"); found {
		t.Error("Expected missing material to not be found")
	}
}

func TestStationScriptValidateScores(t *testing.T) {
	script := testScript()

	if err := script.ValidateScores(ScoreSet{"anamnesis": 0.5, "exam": 1}); err != nil {
		t.Errorf("Scores within allowed sets should pass: %v", err)
	}
	if err := script.ValidateScores(ScoreSet{}); err != nil {
		t.Errorf("Empty score set should pass: %v", err)
	}
	if err := script.ValidateScores(ScoreSet{"anamnesis": 0.7}); !errors.Is(err, ErrInvalidScore) {
		t.Errorf("Expected ErrInvalidScore for off-scale value, got %v", err)
	}
	if err := script.ValidateScores(ScoreSet{"unknown": 1}); !errors.Is(err, ErrInvalidScore) {
		t.Errorf("Expected ErrInvalidScore for unknown item, got %v", err)
	}
}
