package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"oscehub/pkg/interfaces"
	"oscehub/pkg/types"
)

// Config holds database manager settings.
type Config struct {
	Path            string
	MaxConnections  int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Manager implements the interfaces.Store contract over SQLite.
// All writes flow through a single goroutine; SQLite allows concurrent
// readers but serializes writers, and funneling writes avoids lock
// contention under bursts of concurrent submissions.
type Manager struct {
	db           *sql.DB
	config       *Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies the schema and starts the writer.
func NewManager(config *Config) (*Manager, error) {
	db, err := sql.Open("sqlite3", config.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := validateTablesExist(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- op.operation(m.db)
		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion.
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrStoreClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		select {
		case err := <-result:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return interfaces.ErrStoreClosed
	}
}

// PutStation creates or replaces a station script.
func (m *Manager) PutStation(ctx context.Context, script *types.StationScript) error {
	if err := script.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(script)
	if err != nil {
		return fmt.Errorf("failed to serialize station script: %w", err)
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.Exec(
			`INSERT INTO stations (id, script, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET script = excluded.script, updated_at = excluded.updated_at`,
			script.ID, string(data), time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to store station %s: %w", script.ID, err)
		}
		return nil
	})
}

// GetStation retrieves a station script by ID.
func (m *Manager) GetStation(ctx context.Context, stationID string) (*types.StationScript, error) {
	var data string
	err := m.db.QueryRowContext(ctx, "SELECT script FROM stations WHERE id = ?", stationID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrStationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query station %s: %w", stationID, err)
	}

	var script types.StationScript
	if err := json.Unmarshal([]byte(data), &script); err != nil {
		return nil, fmt.Errorf("failed to parse station script %s: %w", stationID, err)
	}
	return &script, nil
}

// StoreSubmission writes a submission record. The UNIQUE constraint on
// session_id makes a duplicate write fail with ErrDuplicateSubmission, which
// keeps the at-most-once terminal state durable.
func (m *Manager) StoreSubmission(ctx context.Context, record *types.SubmissionRecord) error {
	scores, err := json.Marshal(record.Scores)
	if err != nil {
		return fmt.Errorf("failed to serialize scores: %w", err)
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.Exec(
			`INSERT INTO submissions (id, session_id, candidate_id, station_id, scores, total_score, submitted_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			record.ID, record.SessionID, record.CandidateID, record.StationID,
			string(scores), record.TotalScore, record.SubmittedAt.UTC(),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return interfaces.ErrDuplicateSubmission
			}
			return fmt.Errorf("failed to store submission for session %s: %w", record.SessionID, err)
		}
		return nil
	})
}

// GetSubmission retrieves the submission record for a session.
func (m *Manager) GetSubmission(ctx context.Context, sessionID string) (*types.SubmissionRecord, error) {
	var record types.SubmissionRecord
	var scores string

	err := m.db.QueryRowContext(ctx,
		`SELECT id, session_id, candidate_id, station_id, scores, total_score, submitted_at
		 FROM submissions WHERE session_id = ?`, sessionID,
	).Scan(&record.ID, &record.SessionID, &record.CandidateID, &record.StationID,
		&scores, &record.TotalScore, &record.SubmittedAt)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrSubmissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query submission for session %s: %w", sessionID, err)
	}

	if err := json.Unmarshal([]byte(scores), &record.Scores); err != nil {
		return nil, fmt.Errorf("failed to parse submission scores: %w", err)
	}
	return &record, nil
}

// HealthCheck verifies database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrStoreClosed
	}
	m.mu.RUnlock()

	return m.db.PingContext(ctx)
}

// Close stops the writer and closes the database.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	return m.db.Close()
}

// isUniqueViolation matches the sqlite3 constraint error without depending on
// the driver's error types in the public surface.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
