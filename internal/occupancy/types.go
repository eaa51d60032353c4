// Package occupancy runs per-lot detection cycles over groups of camera
// streams and emits one occupancy record per closed cycle.
//
// Every lot is driven by an aggregator goroutine that owns the set of
// active streams and the partial sum of the open cycle. Each stream has its
// own worker goroutine that acquires a frame, masks it, counts vehicles and
// reports the count to the aggregator. A worker waits for its cycle to close
// before sleeping, so cycle k+1 never starts accumulating before cycle k has
// been emitted.
package occupancy

import (
	"context"
	"time"

	"github.com/AndriyKy/spot-gazer/internal/masking"
	"github.com/AndriyKy/spot-gazer/internal/video"
)

// StreamConfig describes one camera stream of a lot
type StreamConfig struct {
	LotID    int
	Source   string
	Interval time.Duration
	Polygons []masking.Polygon
}

// LotGroup is the ordered set of streams that share one lot id
type LotGroup struct {
	LotID   int
	Streams []StreamConfig
}

// SingleStream reports whether the lot is driven by one unmasked stream
func (g LotGroup) SingleStream() bool {
	return len(g.Streams) == 1 && len(g.Streams[0].Polygons) == 0
}

// Record is the occupancy of a lot at the close of one cycle
type Record struct {
	LotID         int       `json:"lot_id"`
	OccupiedCount int       `json:"occupied_spots"`
	Timestamp     time.Time `json:"timestamp"`
}

// Sink receives closed cycles and stream deactivations
type Sink interface {
	CreateOccupancy(ctx context.Context, record Record) error
	DeactivateStream(ctx context.Context, lotID int, source string) error
}

// ConfigProvider supplies the active streams grouped by lot
type ConfigProvider interface {
	ActiveLotGroups(ctx context.Context) ([]LotGroup, error)
}

// SourceOpener opens the frame source behind a stream locator
type SourceOpener interface {
	Open(ctx context.Context, source string) (video.Source, error)
}
