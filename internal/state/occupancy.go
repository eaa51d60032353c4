package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AndriyKy/spot-gazer/internal/occupancy"
)

// DefaultOccupancyLimit bounds ListOccupancy when no limit is given
const DefaultOccupancyLimit = 100

// OccupancyState represents a persisted occupancy record
type OccupancyState struct {
	ID            string    `json:"id"`
	LotID         int       `json:"lot_id"`
	OccupiedSpots int       `json:"occupied_spots"`
	Timestamp     time.Time `json:"timestamp"`
}

// LotSummary is the latest known occupancy of a lot
type LotSummary struct {
	LotState
	ActiveStreams int        `json:"active_streams"`
	OccupiedSpots *int       `json:"occupied_spots,omitempty"`
	FreeSpots     *int       `json:"free_spots,omitempty"`
	LastUpdated   *time.Time `json:"last_updated,omitempty"`
}

// CreateOccupancy stores the record of a closed cycle
func (m *Manager) CreateOccupancy(ctx context.Context, record occupancy.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `
		INSERT INTO occupancy (id, parking_lot_id, occupied_spots, timestamp)
		VALUES (?, ?, ?, ?)
	`

	_, err := m.db.GetDB().ExecContext(ctx, query,
		uuid.New().String(), record.LotID, record.OccupiedCount, record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create occupancy: %w", err)
	}

	return nil
}

// LatestOccupancy returns the newest record of a lot, or nil if it has none
func (m *Manager) LatestOccupancy(ctx context.Context, lotID int) (*OccupancyState, error) {
	records, err := m.ListOccupancy(ctx, lotID, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// ListOccupancy lists the newest records of a lot, newest first
func (m *Manager) ListOccupancy(ctx context.Context, lotID, limit int) ([]OccupancyState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = DefaultOccupancyLimit
	}

	query := `
		SELECT id, parking_lot_id, occupied_spots, timestamp
		FROM occupancy
		WHERE parking_lot_id = ?
		ORDER BY rowid DESC
		LIMIT ?
	`

	rows, err := m.db.GetDB().QueryContext(ctx, query, lotID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list occupancy: %w", err)
	}
	defer rows.Close()

	var records []OccupancyState
	for rows.Next() {
		var record OccupancyState
		if err := rows.Scan(&record.ID, &record.LotID, &record.OccupiedSpots, &record.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan occupancy: %w", err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// LotSummaries returns every lot with its active stream count and latest
// occupancy
func (m *Manager) LotSummaries(ctx context.Context) ([]LotSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `
		SELECT l.id, l.name, l.total_spots, l.created_at, l.updated_at,
			(SELECT COUNT(*) FROM stream_sources s WHERE s.parking_lot_id = l.id AND s.is_active = 1),
			o.occupied_spots, o.timestamp
		FROM parking_lots l
		LEFT JOIN occupancy o ON o.rowid = (
			SELECT MAX(rowid) FROM occupancy WHERE parking_lot_id = l.id
		)
		ORDER BY l.id
	`

	rows, err := m.db.GetDB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize lots: %w", err)
	}
	defer rows.Close()

	var summaries []LotSummary
	for rows.Next() {
		var summary LotSummary
		var occupied sql.NullInt64
		var updated sql.NullTime
		if err := rows.Scan(
			&summary.ID, &summary.Name, &summary.TotalSpots, &summary.CreatedAt, &summary.UpdatedAt,
			&summary.ActiveStreams, &occupied, &updated,
		); err != nil {
			return nil, fmt.Errorf("failed to scan lot summary: %w", err)
		}
		if occupied.Valid {
			n := int(occupied.Int64)
			summary.OccupiedSpots = &n
			if summary.TotalSpots > 0 {
				free := summary.TotalSpots - n
				if free < 0 {
					free = 0
				}
				summary.FreeSpots = &free
			}
		}
		if updated.Valid {
			summary.LastUpdated = &updated.Time
		}
		summaries = append(summaries, summary)
	}

	return summaries, rows.Err()
}

// PruneOccupancy deletes records taken before the cutoff. Timestamps are
// compared as instants, whatever zone they were written in.
func (m *Manager) PruneOccupancy(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `DELETE FROM occupancy WHERE julianday(timestamp) < julianday(?)`
	result, err := m.db.GetDB().ExecContext(ctx, query, before.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, fmt.Errorf("failed to prune occupancy: %w", err)
	}
	return result.RowsAffected()
}

// PruneOldestOccupancy deletes the n oldest records across all lots
func (m *Manager) PruneOldestOccupancy(ctx context.Context, n int) (int64, error) {
	if n <= 0 {
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	query := `
		DELETE FROM occupancy WHERE rowid IN (
			SELECT rowid FROM occupancy ORDER BY rowid LIMIT ?
		)
	`
	result, err := m.db.GetDB().ExecContext(ctx, query, n)
	if err != nil {
		return 0, fmt.Errorf("failed to prune oldest occupancy: %w", err)
	}
	return result.RowsAffected()
}
