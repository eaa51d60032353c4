package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/AndriyKy/spot-gazer/internal/logger"
	"github.com/AndriyKy/spot-gazer/internal/occupancy"
)

const (
	DefaultPublishTimeout = 5 * time.Second
	DefaultQueueSize      = 256
)

// MultiConfig bounds the publisher fan-out
type MultiConfig struct {
	// PublishTimeout caps one publish call on one publisher
	PublishTimeout time.Duration
	// QueueSize is the number of pending publications kept while
	// publishers are slow; newer ones are dropped once it is full
	QueueSize int
}

type publication struct {
	kind    string
	lotID   int
	publish func(context.Context, Publisher) error
}

// Multi persists through a primary sink and then fans out to publishers.
// Only the primary's error is returned. Publishing happens on a background
// dispatcher so a slow publisher never holds up the caller; failures are
// logged.
type Multi struct {
	primary    occupancy.Sink
	publishers []Publisher
	config     MultiConfig
	logger     *logger.Logger
	now        func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan publication
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// NewMulti creates a fan-out sink
func NewMulti(primary occupancy.Sink, publishers []Publisher, config MultiConfig, log *logger.Logger) *Multi {
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = DefaultPublishTimeout
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Multi{
		primary:    primary,
		publishers: publishers,
		config:     config,
		logger:     log.Named("sink"),
		now:        time.Now,
		queue:      make(chan publication, config.QueueSize),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	go m.dispatch()
	return m
}

// Publishers returns the names of the configured publishers
func (m *Multi) Publishers() []string {
	names := make([]string, 0, len(m.publishers))
	for _, p := range m.publishers {
		names = append(names, p.Name())
	}
	return names
}

// CreateOccupancy stores the record and publishes it once stored
func (m *Multi) CreateOccupancy(ctx context.Context, record occupancy.Record) error {
	if err := m.primary.CreateOccupancy(ctx, record); err != nil {
		return err
	}

	m.enqueue(publication{kind: "occupancy", lotID: record.LotID, publish: func(ctx context.Context, p Publisher) error {
		return p.PublishOccupancy(ctx, record)
	}})
	return nil
}

// DeactivateStream marks the stream inactive and announces it. The
// announcement is sent even when the primary fails so consumers learn the
// stream is gone.
func (m *Multi) DeactivateStream(ctx context.Context, lotID int, source string) error {
	err := m.primary.DeactivateStream(ctx, lotID, source)

	deactivation := Deactivation{LotID: lotID, Source: source, DeactivatedAt: m.now()}
	m.enqueue(publication{kind: "deactivation", lotID: lotID, publish: func(ctx context.Context, p Publisher) error {
		return p.PublishDeactivation(ctx, deactivation)
	}})
	return err
}

func (m *Multi) enqueue(pub publication) {
	if len(m.publishers) == 0 {
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}

	select {
	case m.queue <- pub:
	default:
		m.logger.Warn("Publish queue full, dropping", "kind", pub.kind, "lot_id", pub.lotID)
	}
}

// dispatch publishes queued items in order until the queue is closed
func (m *Multi) dispatch() {
	defer close(m.done)
	for pub := range m.queue {
		m.fanOut(pub)
	}
}

func (m *Multi) fanOut(pub publication) {
	ctx, cancel := context.WithTimeout(m.ctx, m.config.PublishTimeout)
	defer cancel()

	errs := make([]error, len(m.publishers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range m.publishers {
		i, p := i, p
		g.Go(func() error {
			if err := pub.publish(gctx, p); err != nil {
				errs[i] = fmt.Errorf("%s: %w", p.Name(), err)
			}
			return nil
		})
	}
	g.Wait()

	if err := multierr.Combine(errs...); err != nil {
		m.logger.Warn("Publish failed", "kind", pub.kind, "lot_id", pub.lotID, "error", err)
	}
}

// Close drains pending publications for at most one publish timeout,
// abandons the rest and closes every publisher
func (m *Multi) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	select {
	case <-m.done:
	case <-time.After(m.config.PublishTimeout):
		m.cancel()
		<-m.done
	}
	m.cancel()

	var err error
	for _, p := range m.publishers {
		err = multierr.Append(err, p.Close())
	}
	return err
}
