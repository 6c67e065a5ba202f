// Package interfaces defines the persistence contracts shared across
// components, so the mediator and loaders can be tested against mocks.
package interfaces

import (
	"context"
	"errors"

	"oscehub/pkg/types"
)

// Store error types.
var (
	ErrStationNotFound     = errors.New("station not found")
	ErrSubmissionNotFound  = errors.New("submission not found")
	ErrDuplicateSubmission = errors.New("submission already exists for session")
	ErrStoreClosed         = errors.New("store is closed")
)

// StationStore holds immutable station scripts keyed by station ID.
type StationStore interface {
	// PutStation creates or replaces a station script.
	PutStation(ctx context.Context, script *types.StationScript) error

	// GetStation retrieves a station script by ID.
	GetStation(ctx context.Context, stationID string) (*types.StationScript, error)
}

// SubmissionStore persists the single durable artifact of a session.
type SubmissionStore interface {
	// StoreSubmission writes the submission record. A second record for the
	// same session ID fails with ErrDuplicateSubmission.
	StoreSubmission(ctx context.Context, record *types.SubmissionRecord) error

	// GetSubmission retrieves the submission record for a session.
	GetSubmission(ctx context.Context, sessionID string) (*types.SubmissionRecord, error)
}

// Store is the full persistence surface backed by the database manager.
type Store interface {
	StationStore
	SubmissionStore

	// HealthCheck verifies connectivity and basic operations.
	HealthCheck(ctx context.Context) error

	// Close releases the underlying resources.
	Close() error
}
