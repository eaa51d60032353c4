package occupancy

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/AndriyKy/spot-gazer/internal/detector"
	"github.com/AndriyKy/spot-gazer/internal/logger"
	"github.com/AndriyKy/spot-gazer/internal/masking"
)

// report is what a worker sends to its aggregator: a count for the open
// cycle, or the failure that ends the worker. A worker sends at most one
// report with err set and nothing after it.
type report struct {
	worker int
	count  int
	err    *StreamError
}

// worker drives one stream through Acquire, Mask, Detect, Emit and Sleep
type worker struct {
	id             int
	cfg            StreamConfig
	opener         SourceOpener
	detector       detector.Detector
	region         *masking.Region
	acquireTimeout time.Duration
	logger         *logger.Logger

	reports chan<- report
	// release is signalled by the aggregator when the cycle this worker
	// contributed to has closed
	release chan struct{}
}

func newWorker(id int, cfg StreamConfig, s *Scheduler, reports chan<- report, log *logger.Logger) *worker {
	return &worker{
		id:             id,
		cfg:            cfg,
		opener:         s.opener,
		detector:       s.detector,
		region:         masking.NewRegion(cfg.Polygons),
		acquireTimeout: s.config.AcquireTimeout,
		logger:         log.With("source", cfg.Source),
		reports:        reports,
		release:        make(chan struct{}, 1),
	}
}

// run loops until the stream fails or ctx is cancelled. A cancelled worker
// never reports.
func (w *worker) run(ctx context.Context) {
	openCtx, cancel := context.WithTimeout(ctx, w.acquireTimeout)
	src, err := w.opener.Open(openCtx, w.cfg.Source)
	cancel()
	if ctx.Err() != nil {
		if src != nil {
			src.Close()
		}
		return
	}
	if err != nil {
		w.fail(ctx, acquireError(w.cfg, err))
		return
	}
	defer src.Close()

	w.logger.Debug("Stream worker started", "interval", w.cfg.Interval.String())

	for {
		// Acquire
		acquireCtx, cancel := context.WithTimeout(ctx, w.acquireTimeout)
		frame, err := src.Next(acquireCtx)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			w.fail(ctx, acquireError(w.cfg, err))
			return
		}

		// Mask and Detect
		count, err := w.detect(ctx, frame.Image)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			w.fail(ctx, detectionError(w.cfg, err))
			return
		}

		// Emit
		if !w.send(ctx, report{worker: w.id, count: count}) {
			return
		}
		w.logger.Debug("Count reported", "count", count, "seq", frame.Seq)

		// wait for the cycle to close
		select {
		case <-w.release:
		case <-ctx.Done():
			return
		}

		// Sleep
		timer := time.NewTimer(w.cfg.Interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// detect masks img and counts objects in it. A panic in either step is
// turned into an error so one bad frame cannot take the process down.
func (w *worker) detect(ctx context.Context, img image.Image) (count int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during detection: %v", r)
		}
	}()

	masked := w.region.Apply(img)
	count, err = w.detector.Count(ctx, masked)
	if err != nil {
		return 0, err
	}
	if count < 0 {
		return 0, fmt.Errorf("detector returned negative count %d", count)
	}
	return count, nil
}

func (w *worker) fail(ctx context.Context, serr *StreamError) {
	w.logger.Warn("Stream worker failed", "kind", serr.Kind.String(), "error", serr.Err)
	w.send(ctx, report{worker: w.id, err: serr})
}

func (w *worker) send(ctx context.Context, r report) bool {
	select {
	case w.reports <- r:
		return true
	case <-ctx.Done():
		return false
	}
}
