package occupancy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/AndriyKy/spot-gazer/internal/detector"
	"github.com/AndriyKy/spot-gazer/internal/logger"
)

// DefaultAcquireTimeout bounds every frame acquisition when none is configured
const DefaultAcquireTimeout = 30 * time.Second

// Config contains scheduler configuration
type Config struct {
	// AcquireTimeout bounds opening a source and every frame read from it
	AcquireTimeout time.Duration
	// Location is the time zone of record timestamps, UTC when nil
	Location *time.Location
}

// Scheduler launches one aggregator per lot
type Scheduler struct {
	opener   SourceOpener
	detector detector.Detector
	sink     Sink
	config   Config
	logger   *logger.Logger
	now      func() time.Time
}

// NewScheduler creates a new detection scheduler
func NewScheduler(opener SourceOpener, det detector.Detector, sink Sink, config Config, log *logger.Logger) *Scheduler {
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = DefaultAcquireTimeout
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	loc := config.Location

	return &Scheduler{
		opener:   opener,
		detector: det,
		sink:     sink,
		config:   config,
		logger:   log.Named("occupancy"),
		now:      func() time.Time { return time.Now().In(loc) },
	}
}

// Handle controls the lots launched by one Start call
type Handle struct {
	cancel context.CancelFunc
	lots   []*aggregator
	wg     sync.WaitGroup
	done   chan struct{}
}

// Start validates groups and launches every valid lot. Invalid groups are
// never launched; their *ConfigurationError values are combined into the
// returned error, and the handle still controls the lots that did start.
// Lots run until they lose every stream, ctx is cancelled, or Stop is called.
func (s *Scheduler) Start(ctx context.Context, groups []LotGroup) (*Handle, error) {
	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	var errs error
	seen := make(map[int]bool, len(groups))
	for _, group := range groups {
		err := validateGroup(group, seen)
		seen[group.LotID] = true
		if err != nil {
			s.logger.Error("Lot rejected", "lot_id", group.LotID, "error", err)
			errs = multierr.Append(errs, err)
			continue
		}
		h.lots = append(h.lots, newAggregator(group, s))
	}

	for _, agg := range h.lots {
		h.wg.Add(1)
		go func(agg *aggregator) {
			defer h.wg.Done()
			agg.run(runCtx)
		}(agg)
	}
	go func() {
		h.wg.Wait()
		close(h.done)
	}()

	s.logger.Info("Detection scheduler started", "lots", len(h.lots), "rejected", len(multierr.Errors(errs)))
	return h, errs
}

// Stop cancels every lot and waits until they exit or ctx expires. A lot
// in the middle of acquiring or detecting finishes that step and exits
// without emitting.
func (h *Handle) Stop(ctx context.Context) error {
	h.cancel()
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("lots still running: %w", ctx.Err())
	}
}

// Wait blocks until every lot has exited
func (h *Handle) Wait() {
	<-h.done
}

// Done is closed once every lot has exited
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Lots returns the status of every launched lot
func (h *Handle) Lots() []LotStatus {
	statuses := make([]LotStatus, 0, len(h.lots))
	for _, agg := range h.lots {
		statuses = append(statuses, agg.snapshot())
	}
	return statuses
}

func validateGroup(group LotGroup, seen map[int]bool) error {
	invalid := func(format string, args ...interface{}) error {
		return &ConfigurationError{LotID: group.LotID, Reason: fmt.Sprintf(format, args...)}
	}

	if len(group.Streams) == 0 {
		return invalid("no streams")
	}
	if seen[group.LotID] {
		return invalid("lot is configured more than once")
	}

	interval := group.Streams[0].Interval
	sources := make(map[string]bool, len(group.Streams))
	for _, stream := range group.Streams {
		switch {
		case stream.LotID != group.LotID:
			return invalid("stream %q belongs to lot %d", stream.Source, stream.LotID)
		case stream.Source == "":
			return invalid("stream has no source")
		case sources[stream.Source]:
			return invalid("stream %q is listed twice", stream.Source)
		case stream.Interval <= 0:
			return invalid("stream %q has non-positive processing interval %s", stream.Source, stream.Interval)
		case stream.Interval != interval:
			return invalid("streams do not share one processing interval (%s and %s)", interval, stream.Interval)
		}
		sources[stream.Source] = true
	}
	return nil
}

// GroupStreams groups streams by lot id, keeping lots in order of first
// appearance and streams in their given order
func GroupStreams(streams []StreamConfig) []LotGroup {
	var groups []LotGroup
	index := make(map[int]int)
	for _, stream := range streams {
		i, ok := index[stream.LotID]
		if !ok {
			i = len(groups)
			index[stream.LotID] = i
			groups = append(groups, LotGroup{LotID: stream.LotID})
		}
		groups[i].Streams = append(groups[i].Streams, stream)
	}
	return groups
}
