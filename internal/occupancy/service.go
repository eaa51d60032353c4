package occupancy

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/AndriyKy/spot-gazer/internal/detector"
	"github.com/AndriyKy/spot-gazer/internal/logger"
	"github.com/AndriyKy/spot-gazer/internal/service"
)

// Service runs the detection scheduler under the service manager. Lots are
// loaded from the ConfigProvider on Start; closed cycles and deactivations
// are published on the event bus after the sink accepts them.
type Service struct {
	*service.ServiceBase

	provider  ConfigProvider
	scheduler *Scheduler

	mu       sync.RWMutex
	handle   *Handle
	rejected []error
}

// NewService creates the occupancy service
func NewService(provider ConfigProvider, opener SourceOpener, det detector.Detector, sink Sink, config Config, log *logger.Logger) *Service {
	s := &Service{
		ServiceBase: service.NewServiceBase("occupancy", log),
		provider:    provider,
	}
	s.scheduler = NewScheduler(opener, det, &eventSink{next: sink, base: s.ServiceBase}, config, log)
	return s
}

// Start loads the active lots and launches them. Rejected lots are logged
// and skipped; Start fails only when lots were configured and none of them
// could be launched.
func (s *Service) Start(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStarting)

	groups, err := s.provider.ActiveLotGroups(ctx)
	if err != nil {
		s.GetStatus().SetError(err)
		return fmt.Errorf("failed to load lots: %w", err)
	}
	if len(groups) == 0 {
		s.LogWarn("No active streams configured")
	}

	handle, err := s.scheduler.Start(context.WithoutCancel(ctx), groups)
	rejected := multierr.Errors(err)
	for _, e := range rejected {
		s.LogError("Lot not started", e)
	}
	if len(groups) > 0 && len(rejected) == len(groups) {
		handle.Stop(ctx)
		s.GetStatus().SetError(err)
		return fmt.Errorf("no lot could be started: %w", err)
	}

	s.mu.Lock()
	s.handle = handle
	s.rejected = rejected
	s.mu.Unlock()

	go func() {
		<-handle.Done()
		s.LogInfo("All lots have exited")
	}()

	s.GetStatus().SetStatus(service.StatusRunning)
	s.LogInfo("Occupancy service started", "lots", len(groups)-len(rejected))
	return nil
}

// Stop stops every lot
func (s *Service) Stop(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStopping)

	s.mu.RLock()
	handle := s.handle
	s.mu.RUnlock()

	if handle != nil {
		if err := handle.Stop(ctx); err != nil {
			s.GetStatus().SetError(err)
			return err
		}
	}

	s.GetStatus().SetStatus(service.StatusStopped)
	s.LogInfo("Occupancy service stopped")
	return nil
}

// Lots returns the status of every launched lot
func (s *Service) Lots() []LotStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.handle == nil {
		return nil
	}
	return s.handle.Lots()
}

// Rejected returns the configuration errors of lots that were not started
func (s *Service) Rejected() []error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]error(nil), s.rejected...)
}

// eventSink forwards to the real sink and announces what it accepted
type eventSink struct {
	next Sink
	base *service.ServiceBase
}

func (e *eventSink) CreateOccupancy(ctx context.Context, record Record) error {
	if err := e.next.CreateOccupancy(ctx, record); err != nil {
		return err
	}
	e.base.PublishEvent(service.EventTypeLotOccupancy, map[string]interface{}{
		"lot_id":         record.LotID,
		"occupied_spots": record.OccupiedCount,
		"timestamp":      record.Timestamp,
	})
	return nil
}

func (e *eventSink) DeactivateStream(ctx context.Context, lotID int, source string) error {
	err := e.next.DeactivateStream(ctx, lotID, source)
	e.base.PublishEvent(service.EventTypeStreamDeactivated, map[string]interface{}{
		"lot_id":    lotID,
		"source":    source,
		"persisted": err == nil,
	})
	return err
}
