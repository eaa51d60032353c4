package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AndriyKy/spot-gazer/internal/logger"
)

const (
	DefaultRetentionDays = 30
	DefaultMaxDiskUsage  = 90.0
	// rows dropped per pass while the disk is full
	DefaultPruneBatch = 1000
)

// OccupancyPruner deletes persisted occupancy history
type OccupancyPruner interface {
	PruneOccupancy(ctx context.Context, before time.Time) (int64, error)
	PruneOldestOccupancy(ctx context.Context, n int) (int64, error)
}

// DiskProbe reports whether the data filesystem is over its limit
type DiskProbe interface {
	IsDiskFull(ctx context.Context) (bool, error)
	Invalidate()
}

// RetentionPolicy bounds the occupancy history by age and by disk usage
type RetentionPolicy struct {
	retentionDays int
	pruneBatch    int
	store         OccupancyPruner
	disk          DiskProbe
	logger        *logger.Logger
	now           func() time.Time
	mu            sync.Mutex
	enforcing     bool
}

// EnforceResult counts what one enforcement pass removed
type EnforceResult struct {
	Expired   int64
	ForDisk   int64
	DiskFull  bool
	Completed time.Time
}

// NewRetentionPolicy creates a new retention policy. disk may be nil.
func NewRetentionPolicy(retentionDays int, store OccupancyPruner, disk DiskProbe, log *logger.Logger) *RetentionPolicy {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	return &RetentionPolicy{
		retentionDays: retentionDays,
		pruneBatch:    DefaultPruneBatch,
		store:         store,
		disk:          disk,
		logger:        log,
		now:           time.Now,
	}
}

// Enforce enforces the retention policy
func (r *RetentionPolicy) Enforce(ctx context.Context) (*EnforceResult, error) {
	r.mu.Lock()
	if r.enforcing {
		r.mu.Unlock()
		return nil, fmt.Errorf("retention policy is already being enforced")
	}
	r.enforcing = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.enforcing = false
		r.mu.Unlock()
	}()

	result := &EnforceResult{}

	// Step 1: drop records older than the retention period
	cutoff := r.now().Add(-time.Duration(r.retentionDays) * 24 * time.Hour)
	expired, err := r.store.PruneOccupancy(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to prune expired occupancy: %w", err)
	}
	result.Expired = expired
	if expired > 0 {
		r.logger.Info("Deleted expired occupancy records", "count", expired, "before", cutoff)
	}

	// Step 2: if the disk is still full, drop one batch of the oldest records
	if r.disk != nil {
		r.disk.Invalidate()
		full, err := r.disk.IsDiskFull(ctx)
		if err != nil {
			r.logger.Warn("Failed to check disk usage", "error", err)
		} else if full {
			result.DiskFull = true
			n, err := r.store.PruneOldestOccupancy(ctx, r.pruneBatch)
			if err != nil {
				return nil, fmt.Errorf("failed to free disk space: %w", err)
			}
			result.ForDisk = n
			r.logger.Warn("Disk full, deleted oldest occupancy records", "count", n)
		}
	}

	result.Completed = r.now()
	return result, nil
}
