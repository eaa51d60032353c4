package health

import (
	"context"
	"fmt"
	"time"

	"github.com/AndriyKy/spot-gazer/internal/occupancy"
	"github.com/AndriyKy/spot-gazer/internal/storage"
)

const checkTimeout = 3 * time.Second

// Pinger is anything with a context-aware connectivity probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker checks database connectivity
type DatabaseChecker struct {
	db   Pinger
	path string
}

func NewDatabaseChecker(db Pinger, path string) *DatabaseChecker {
	return &DatabaseChecker{db: db, path: path}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"path": c.path},
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := c.db.Ping(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Database ping failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Database connection OK"
	return check
}

// DetectorProbe reports whether the detection service is ready
type DetectorProbe interface {
	HealthCheck(ctx context.Context) error
}

// DetectorChecker checks detection service readiness. An unreachable
// detector degrades the process; streams fail and get deactivated, but the
// API stays useful.
type DetectorChecker struct {
	detector   DetectorProbe
	serviceURL string
}

func NewDetectorChecker(detector DetectorProbe, serviceURL string) *DetectorChecker {
	return &DetectorChecker{detector: detector, serviceURL: serviceURL}
}

func (c *DetectorChecker) Name() string {
	return "detector"
}

func (c *DetectorChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"url": c.serviceURL},
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := c.detector.HealthCheck(ctx); err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Detector unreachable: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Detector is ready"
	return check
}

// LotSource lists the lots the scheduler launched
type LotSource interface {
	Lots() []occupancy.LotStatus
}

// LotsChecker reports how many lots are still cycling. Deactivated streams
// degrade the report; a configured system with no running lot is unhealthy.
type LotsChecker struct {
	lots LotSource
}

func NewLotsChecker(lots LotSource) *LotsChecker {
	return &LotsChecker{lots: lots}
}

func (c *LotsChecker) Name() string {
	return "lots"
}

func (c *LotsChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}

	lots := c.lots.Lots()
	running, deactivated := 0, 0
	for _, lot := range lots {
		if lot.Running {
			running++
		}
		deactivated += len(lot.Deactivated)
	}
	check.Details["lots"] = len(lots)
	check.Details["running"] = running
	check.Details["deactivated_streams"] = deactivated

	switch {
	case len(lots) > 0 && running == 0:
		check.Status = StatusUnhealthy
		check.Message = "No lot is running"
	case deactivated > 0 || running < len(lots):
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("%d of %d lots running, %d streams deactivated", running, len(lots), deactivated)
	default:
		check.Status = StatusHealthy
		check.Message = fmt.Sprintf("%d lots running", running)
	}
	return check
}

// DiskUsageProbe measures the filesystem holding the data directory
type DiskUsageProbe interface {
	GetUsage(ctx context.Context) (*storage.DiskUsage, error)
	MaxUsagePercent() float64
	Path() string
}

// DiskChecker checks free space of the data directory. A full disk degrades
// the process; the retention service is already dropping history.
type DiskChecker struct {
	disk DiskUsageProbe
}

func NewDiskChecker(disk DiskUsageProbe) *DiskChecker {
	return &DiskChecker{disk: disk}
}

func (c *DiskChecker) Name() string {
	return "disk"
}

func (c *DiskChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"path": c.disk.Path()},
	}

	usage, err := c.disk.GetUsage(ctx)
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Disk usage unavailable: %v", err)
		return check
	}

	check.Details["usage_percent"] = usage.UsagePercent
	check.Details["available_bytes"] = usage.AvailableBytes

	if usage.UsagePercent >= c.disk.MaxUsagePercent() {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Disk usage %.1f%% exceeds %.1f%%", usage.UsagePercent, c.disk.MaxUsagePercent())
		return check
	}

	check.Status = StatusHealthy
	check.Message = fmt.Sprintf("Disk usage %.1f%%", usage.UsagePercent)
	return check
}
