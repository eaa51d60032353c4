// Package sink delivers closed occupancy cycles and stream deactivations
// beyond the local database: NATS subjects, MQTT topics and a ClickHouse
// time series.
package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/AndriyKy/spot-gazer/internal/occupancy"
)

// Deactivation announces that a stream was removed from its lot
type Deactivation struct {
	LotID         int       `json:"lot_id"`
	Source        string    `json:"source"`
	DeactivatedAt time.Time `json:"deactivated_at"`
}

// Publisher is a best-effort destination for occupancy data
type Publisher interface {
	Name() string
	PublishOccupancy(ctx context.Context, record occupancy.Record) error
	PublishDeactivation(ctx context.Context, deactivation Deactivation) error
	Close() error
}

func encodeOccupancy(record occupancy.Record) ([]byte, error) {
	return json.Marshal(record)
}

func encodeDeactivation(deactivation Deactivation) ([]byte, error) {
	return json.Marshal(deactivation)
}
