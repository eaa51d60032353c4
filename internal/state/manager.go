package state

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/AndriyKy/spot-gazer/internal/logger"
)

// Manager persists lots, streams and occupancy. It is the scheduler's
// ConfigProvider and its primary occupancy sink.
type Manager struct {
	db     *Database
	logger *logger.Logger
	mu     sync.RWMutex
}

// NewManager opens (or creates) the database at dbPath
func NewManager(dbPath string, log *logger.Logger) (*Manager, error) {
	db, err := NewDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	return &Manager{
		db:     db,
		logger: log.Named("state"),
	}, nil
}

// Close closes the state manager and database
func (m *Manager) Close() error {
	return m.db.Close()
}

// GetDB returns the database connection
func (m *Manager) GetDB() *sql.DB {
	return m.db.GetDB()
}

// Ping verifies the database is reachable
func (m *Manager) Ping(ctx context.Context) error {
	return m.db.Ping(ctx)
}

// SaveSystemState saves a system state value
func (m *Manager) SaveSystemState(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `
		INSERT INTO system_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`

	_, err := m.db.GetDB().ExecContext(ctx, query, key, value, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save system state: %w", err)
	}

	return nil
}

// GetSystemState retrieves a system state value
func (m *Manager) GetSystemState(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var value string
	query := `SELECT value FROM system_state WHERE key = ?`
	err := m.db.GetDB().QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get system state: %w", err)
	}

	return value, nil
}

// RecoveredState summarizes what a restarted process finds in the database
type RecoveredState struct {
	Lots            []LotState
	ActiveStreams   int
	InactiveStreams int
	SystemState     map[string]string
}

// RecoverState loads the persisted lots and stream counts on startup
func (m *Manager) RecoverState(ctx context.Context) (*RecoveredState, error) {
	m.logger.Info("Recovering state")

	lots, err := m.ListLots(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover lots: %w", err)
	}

	recovered := &RecoveredState{Lots: lots}

	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `SELECT is_active, COUNT(*) FROM stream_sources GROUP BY is_active`
	rows, err := m.db.GetDB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count streams: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var active bool
		var count int
		if err := rows.Scan(&active, &count); err != nil {
			return nil, err
		}
		if active {
			recovered.ActiveStreams = count
		} else {
			recovered.InactiveStreams = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	systemState, err := m.recoverSystemState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover system state: %w", err)
	}
	recovered.SystemState = systemState

	m.logger.Info("State recovery complete",
		"lots", len(recovered.Lots),
		"active_streams", recovered.ActiveStreams,
		"inactive_streams", recovered.InactiveStreams,
	)

	return recovered, nil
}

// recoverSystemState recovers system state
func (m *Manager) recoverSystemState(ctx context.Context) (map[string]string, error) {
	query := `SELECT key, value FROM system_state`
	rows, err := m.db.GetDB().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	state := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		state[key] = value
	}

	return state, rows.Err()
}
