package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LotState represents a persisted parking lot
type LotState struct {
	ID         int       `json:"id"`
	Name       string    `json:"name"`
	TotalSpots int       `json:"total_spots"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SaveLot saves or updates a parking lot
func (m *Manager) SaveLot(ctx context.Context, lot LotState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lot.ID <= 0 {
		return fmt.Errorf("invalid lot id %d", lot.ID)
	}

	query := `
		INSERT INTO parking_lots (id, name, total_spots, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			total_spots = excluded.total_spots,
			updated_at = excluded.updated_at
	`

	_, err := m.db.GetDB().ExecContext(ctx, query, lot.ID, lot.Name, lot.TotalSpots, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save lot: %w", err)
	}

	return nil
}

// GetLot retrieves a parking lot by id. A missing lot returns nil.
func (m *Manager) GetLot(ctx context.Context, id int) (*LotState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `
		SELECT id, name, total_spots, created_at, updated_at
		FROM parking_lots
		WHERE id = ?
	`

	var lot LotState
	err := m.db.GetDB().QueryRowContext(ctx, query, id).Scan(
		&lot.ID, &lot.Name, &lot.TotalSpots, &lot.CreatedAt, &lot.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lot: %w", err)
	}

	return &lot, nil
}

// ListLots lists all parking lots ordered by id
func (m *Manager) ListLots(ctx context.Context) ([]LotState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `
		SELECT id, name, total_spots, created_at, updated_at
		FROM parking_lots
		ORDER BY id
	`

	rows, err := m.db.GetDB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list lots: %w", err)
	}
	defer rows.Close()

	var lots []LotState
	for rows.Next() {
		var lot LotState
		if err := rows.Scan(&lot.ID, &lot.Name, &lot.TotalSpots, &lot.CreatedAt, &lot.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		lots = append(lots, lot)
	}

	return lots, rows.Err()
}
