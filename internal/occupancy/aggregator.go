package occupancy

import (
	"context"
	"sync"
	"time"

	"github.com/AndriyKy/spot-gazer/internal/logger"
)

const deactivateTimeout = 10 * time.Second

// LotStatus is a point-in-time view of one lot
type LotStatus struct {
	LotID         int        `json:"lot_id"`
	Mode          string     `json:"mode"`
	Streams       int        `json:"streams"`
	ActiveStreams []string   `json:"active_streams"`
	Deactivated   []string   `json:"deactivated_streams,omitempty"`
	Cycles        uint64     `json:"cycles"`
	LastCount     int        `json:"last_count"`
	LastEmitted   *time.Time `json:"last_emitted,omitempty"`
	Running       bool       `json:"running"`
}

// aggregator owns the active workers of one lot and the open cycle. Only
// the run goroutine touches active and pending; status is shared with
// Handle.Lots under mu.
type aggregator struct {
	group  LotGroup
	sink   Sink
	now    func() time.Time
	logger *logger.Logger

	workers []*worker
	reports chan report
	active  map[int]*worker
	pending map[int]int

	mu     sync.RWMutex
	status LotStatus
}

func newAggregator(group LotGroup, s *Scheduler) *aggregator {
	mode := "multi-stream"
	if group.SingleStream() {
		mode = "single-stream"
	}
	log := s.logger.With("lot_id", group.LotID)

	a := &aggregator{
		group:   group,
		sink:    s.sink,
		now:     s.now,
		logger:  log,
		reports: make(chan report),
		active:  make(map[int]*worker, len(group.Streams)),
		pending: make(map[int]int, len(group.Streams)),
		status: LotStatus{
			LotID:   group.LotID,
			Mode:    mode,
			Streams: len(group.Streams),
			Running: true,
		},
	}
	for i, cfg := range group.Streams {
		w := newWorker(i, cfg, s, a.reports, log)
		a.workers = append(a.workers, w)
		a.active[i] = w
	}
	a.status.ActiveStreams = a.activeSources()
	return a
}

// run supervises the lot until every stream has failed or ctx is cancelled
func (a *aggregator) run(ctx context.Context) {
	a.logger.Info("Lot started",
		"mode", a.status.Mode,
		"streams", len(a.workers),
		"interval", a.group.Streams[0].Interval.String(),
	)

	workerCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, w := range a.workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			w.run(workerCtx)
		}(w)
	}

	defer func() {
		cancel()
		wg.Wait()
		a.mu.Lock()
		a.status.Running = false
		a.mu.Unlock()
	}()

	for len(a.active) > 0 {
		select {
		case r := <-a.reports:
			a.reconcile(ctx, r)
		case <-ctx.Done():
			a.logger.Info("Lot stopped", "open_reports", len(a.pending))
			return
		}
	}

	a.logger.Warn("Lot has no active streams left, terminating")
}

// reconcile applies one report and closes the cycle when every active
// worker has reported. Failures shrink the active set before the closing
// check so the sum and the required reporters change together.
func (a *aggregator) reconcile(ctx context.Context, r report) {
	if r.err != nil {
		w := a.active[r.worker]
		delete(a.active, r.worker)
		delete(a.pending, r.worker)
		a.deactivate(ctx, w, r.err)
	} else if _, ok := a.active[r.worker]; ok {
		a.pending[r.worker] = r.count
	}

	if len(a.active) == 0 || len(a.pending) < len(a.active) {
		return
	}
	a.closeCycle(ctx)
}

func (a *aggregator) closeCycle(ctx context.Context) {
	// a stopped lot never emits
	if ctx.Err() != nil {
		return
	}

	sum := 0
	for _, count := range a.pending {
		sum += count
	}
	record := Record{
		LotID:         a.group.LotID,
		OccupiedCount: sum,
		Timestamp:     a.now(),
	}

	if err := a.sink.CreateOccupancy(ctx, record); err != nil {
		a.logger.Error("Failed to store occupancy", "error", err, "occupied", sum)
	} else {
		a.logger.Debug("Occupancy recorded", "occupied", sum, "reporters", len(a.pending))
	}

	a.mu.Lock()
	a.status.Cycles++
	a.status.LastCount = sum
	emitted := record.Timestamp
	a.status.LastEmitted = &emitted
	a.mu.Unlock()

	for id := range a.pending {
		select {
		case a.active[id].release <- struct{}{}:
		default:
		}
		delete(a.pending, id)
	}
}

func (a *aggregator) deactivate(ctx context.Context, w *worker, serr *StreamError) {
	a.logger.Warn("Deactivating stream",
		"source", serr.Source,
		"kind", serr.Kind.String(),
		"error", serr.Err,
		"remaining", len(a.active),
	)

	// the deactivation must be recorded even if the lot is being stopped
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deactivateTimeout)
	defer cancel()
	if err := a.sink.DeactivateStream(dctx, serr.LotID, serr.Source); err != nil {
		a.logger.Error("Failed to deactivate stream", "source", serr.Source, "error", err)
	}

	a.mu.Lock()
	a.status.ActiveStreams = a.activeSources()
	if w != nil {
		a.status.Deactivated = append(a.status.Deactivated, w.cfg.Source)
	}
	a.mu.Unlock()
}

// activeSources lists active streams in configuration order
func (a *aggregator) activeSources() []string {
	sources := make([]string, 0, len(a.active))
	for i, w := range a.workers {
		if _, ok := a.active[i]; ok {
			sources = append(sources, w.cfg.Source)
		}
	}
	return sources
}

func (a *aggregator) snapshot() LotStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := a.status
	s.ActiveStreams = append([]string(nil), a.status.ActiveStreams...)
	s.Deactivated = append([]string(nil), a.status.Deactivated...)
	return s
}
