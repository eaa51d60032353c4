// Package storage keeps the local occupancy history bounded: a periodic
// retention pass drops old records and reacts to a full data disk.
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/AndriyKy/spot-gazer/internal/logger"
	"github.com/AndriyKy/spot-gazer/internal/service"
)

// DefaultInterval is the time between retention passes
const DefaultInterval = time.Hour

// Config contains retention service configuration
type Config struct {
	DataDir             string
	RetentionDays       int
	MaxDiskUsagePercent float64
	Interval            time.Duration
}

// Service runs the retention policy periodically
type Service struct {
	*service.ServiceBase
	config    Config
	disk      *DiskMonitor
	retention *RetentionPolicy

	mu     sync.RWMutex
	cancel context.CancelFunc
	done   chan struct{}
	last   *EnforceResult
}

// NewService creates the retention service
func NewService(config Config, store OccupancyPruner, log *logger.Logger) *Service {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	log = log.Named("storage")

	disk := NewDiskMonitor(config.DataDir, config.MaxDiskUsagePercent, log)
	s := &Service{
		ServiceBase: service.NewServiceBase("storage", log),
		config:      config,
		disk:        disk,
		retention:   NewRetentionPolicy(config.RetentionDays, store, disk, log),
	}
	return s
}

// DiskMonitor returns the monitor of the data directory filesystem
func (s *Service) DiskMonitor() *DiskMonitor {
	return s.disk
}

// LastResult returns the outcome of the most recent pass, or nil
func (s *Service) LastResult() *EnforceResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Start runs one pass immediately and then one per interval
func (s *Service) Start(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStarting)

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.run(loopCtx, done)

	s.GetStatus().SetStatus(service.StatusRunning)
	s.LogInfo("Storage retention started",
		"data_dir", s.config.DataDir,
		"retention_days", s.retention.retentionDays,
		"max_disk_usage_percent", s.disk.MaxUsagePercent(),
		"interval", s.config.Interval,
	)
	return nil
}

// Stop stops the retention loop
func (s *Service) Stop(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStopping)

	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

func (s *Service) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		s.enforce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Service) enforce(ctx context.Context) {
	result, err := s.retention.Enforce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.LogError("Retention pass failed", err)
		}
		return
	}

	s.mu.Lock()
	s.last = result
	s.mu.Unlock()

	if result.DiskFull {
		s.PublishEvent(service.EventTypeDiskFull, map[string]interface{}{
			"data_dir": s.config.DataDir,
			"deleted":  result.ForDisk,
		})
	}
}
