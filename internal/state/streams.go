package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AndriyKy/spot-gazer/internal/masking"
	"github.com/AndriyKy/spot-gazer/internal/occupancy"
)

const systemKeyStreamsSynced = "streams_synced_at"

// StreamState represents a persisted camera stream of a lot
type StreamState struct {
	ID             string            `json:"id"`
	LotID          int               `json:"lot_id"`
	Source         string            `json:"stream_source"`
	ProcessingRate int               `json:"processing_rate"`
	Zone           []masking.Polygon `json:"parking_zone,omitempty"`
	Active         bool              `json:"is_active"`
	DeactivatedAt  *time.Time        `json:"deactivated_at,omitempty"`
}

// Interval returns the processing rate as a duration
func (s StreamState) Interval() time.Duration {
	return time.Duration(s.ProcessingRate) * time.Second
}

// SaveStream saves or updates a stream keyed by its source locator
func (m *Manager) SaveStream(ctx context.Context, stream StreamState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return saveStream(ctx, m.db.GetDB(), stream, true)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// saveStream upserts a stream. With overwriteActive unset an existing
// row keeps its is_active flag.
func saveStream(ctx context.Context, db execer, stream StreamState, overwriteActive bool) error {
	if stream.Source == "" {
		return fmt.Errorf("stream source is empty")
	}
	if stream.ID == "" {
		stream.ID = uuid.New().String()
	}

	zone, err := encodeZone(stream.Zone)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO stream_sources (id, parking_lot_id, stream_source, processing_rate, parking_zone, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(stream_source) DO UPDATE SET
			parking_lot_id = excluded.parking_lot_id,
			processing_rate = excluded.processing_rate,
			parking_zone = excluded.parking_zone,
			updated_at = excluded.updated_at
	`
	if overwriteActive {
		query += `, is_active = excluded.is_active`
	}

	_, err = db.ExecContext(ctx, query,
		stream.ID, stream.LotID, stream.Source, stream.ProcessingRate, zone, stream.Active, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save stream: %w", err)
	}

	return nil
}

// ListStreams lists the streams of a lot, or of every lot when lotID is 0
func (m *Manager) ListStreams(ctx context.Context, lotID int) ([]StreamState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `
		SELECT id, parking_lot_id, stream_source, processing_rate, parking_zone, is_active, deactivated_at
		FROM stream_sources
		WHERE ? = 0 OR parking_lot_id = ?
		ORDER BY parking_lot_id, rowid
	`

	return m.queryStreams(ctx, query, lotID, lotID)
}

func (m *Manager) queryStreams(ctx context.Context, query string, args ...interface{}) ([]StreamState, error) {
	rows, err := m.db.GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query streams: %w", err)
	}
	defer rows.Close()

	var streams []StreamState
	for rows.Next() {
		var stream StreamState
		var zone sql.NullString
		var deactivatedAt sql.NullTime
		if err := rows.Scan(
			&stream.ID, &stream.LotID, &stream.Source, &stream.ProcessingRate,
			&zone, &stream.Active, &deactivatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan stream: %w", err)
		}
		if zone.Valid && zone.String != "" {
			if err := json.Unmarshal([]byte(zone.String), &stream.Zone); err != nil {
				return nil, fmt.Errorf("stream %s: invalid parking zone: %w", stream.Source, err)
			}
		}
		if deactivatedAt.Valid {
			stream.DeactivatedAt = &deactivatedAt.Time
		}
		streams = append(streams, stream)
	}

	return streams, rows.Err()
}

// DeactivateStream marks a stream inactive so it is not loaded again
func (m *Manager) DeactivateStream(ctx context.Context, lotID int, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `
		UPDATE stream_sources
		SET is_active = 0, deactivated_at = ?, updated_at = ?
		WHERE parking_lot_id = ? AND stream_source = ?
	`

	now := time.Now()
	result, err := m.db.GetDB().ExecContext(ctx, query, now, now, lotID, source)
	if err != nil {
		return fmt.Errorf("failed to deactivate stream: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("stream %s of lot %d not found", source, lotID)
	}

	m.logger.Info("Stream deactivated", "lot_id", lotID, "source", source)
	return nil
}

// ActiveLotGroups returns the active streams grouped by lot, lots in id
// order and streams in insertion order
func (m *Manager) ActiveLotGroups(ctx context.Context) ([]occupancy.LotGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `
		SELECT id, parking_lot_id, stream_source, processing_rate, parking_zone, is_active, deactivated_at
		FROM stream_sources
		WHERE is_active = 1
		ORDER BY parking_lot_id, rowid
	`

	streams, err := m.queryStreams(ctx, query)
	if err != nil {
		return nil, err
	}

	configs := make([]occupancy.StreamConfig, 0, len(streams))
	for _, stream := range streams {
		configs = append(configs, occupancy.StreamConfig{
			LotID:    stream.LotID,
			Source:   stream.Source,
			Interval: stream.Interval(),
			Polygons: stream.Zone,
		})
	}

	return occupancy.GroupStreams(configs), nil
}

// SyncStreams makes the database match the configured lots and streams.
// Streams that are no longer configured are removed. Existing streams keep
// their is_active flag so a deactivated stream stays deactivated.
func (m *Manager) SyncStreams(ctx context.Context, lots []LotState, streams []StreamState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, err := m.db.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin sync: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	for _, lot := range lots {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO parking_lots (id, name, total_spots, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				total_spots = excluded.total_spots,
				updated_at = excluded.updated_at
		`, lot.ID, lot.Name, lot.TotalSpots, now)
		if err != nil {
			return fmt.Errorf("failed to sync lot %d: %w", lot.ID, err)
		}
	}

	keep := make([]interface{}, 0, len(streams))
	for _, stream := range streams {
		stream.Active = true
		if err := saveStream(ctx, tx, stream, false); err != nil {
			return fmt.Errorf("failed to sync stream %s: %w", stream.Source, err)
		}
		keep = append(keep, stream.Source)
	}

	deleteQuery := `DELETE FROM stream_sources`
	if len(keep) > 0 {
		deleteQuery += ` WHERE stream_source NOT IN (?` + strings.Repeat(",?", len(keep)-1) + `)`
	}
	if _, err := tx.ExecContext(ctx, deleteQuery, keep...); err != nil {
		return fmt.Errorf("failed to prune streams: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO system_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, systemKeyStreamsSynced, now.UTC().Format(time.RFC3339), now)
	if err != nil {
		return fmt.Errorf("failed to record sync: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sync: %w", err)
	}

	m.logger.Info("Streams synced", "lots", len(lots), "streams", len(streams))
	return nil
}

func encodeZone(zone []masking.Polygon) (interface{}, error) {
	if len(zone) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(zone)
	if err != nil {
		return nil, fmt.Errorf("failed to encode parking zone: %w", err)
	}
	return string(data), nil
}
