package occupancy

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/AndriyKy/spot-gazer/internal/detector"
	"github.com/AndriyKy/spot-gazer/internal/logger"
	"github.com/AndriyKy/spot-gazer/internal/video"
)

// countImage encodes a detector result in the red channel of one pixel
func countImage(n int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.SetRGBA(0, 0, color.RGBA{R: uint8(n), A: 0xff})
	return img
}

type fakeSource struct {
	count     int
	failAfter int // frames delivered before failing; 0 never fails
	failErr   error
	delay     time.Duration
	blockFrom int // calls from this one on wait for gate
	gate      chan struct{}
	entered   chan struct{}

	mu     sync.Mutex
	calls  int
	closed bool
}

func (f *fakeSource) Next(ctx context.Context) (*video.Frame, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()

	if f.blockFrom > 0 && n >= f.blockFrom {
		if f.entered != nil {
			f.entered <- struct{}{}
		}
		<-f.gate
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", video.ErrUnreachable, ctx.Err())
		}
	}
	if f.failAfter > 0 && n > f.failAfter {
		return nil, f.failErr
	}
	return &video.Frame{Image: countImage(f.count), Timestamp: time.Now(), Seq: uint64(n)}, nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSource) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeOpener struct {
	sources  map[string]*fakeSource
	openErrs map[string]error
}

func (o *fakeOpener) Open(ctx context.Context, source string) (video.Source, error) {
	if err, ok := o.openErrs[source]; ok {
		return nil, err
	}
	src, ok := o.sources[source]
	if !ok {
		return nil, fmt.Errorf("%w: unknown source %s", video.ErrUnreachable, source)
	}
	return src, nil
}

// countDetector returns the count encoded by countImage. Counts listed in
// failOn make it fail.
type countDetector struct {
	failOn map[int]error
}

func (d *countDetector) Count(ctx context.Context, img image.Image) (int, error) {
	b := img.Bounds()
	r, _, _, _ := img.At(b.Min.X, b.Min.Y).RGBA()
	n := int(r >> 8)
	if err, ok := d.failOn[n]; ok {
		return 0, err
	}
	return n, nil
}

// pixelDetector counts pixels with a non-zero red channel
type pixelDetector struct{}

func (pixelDetector) Count(ctx context.Context, img image.Image) (int, error) {
	b := img.Bounds()
	n := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if r, _, _, _ := img.At(x, y).RGBA(); r > 0 {
				n++
			}
		}
	}
	return n, nil
}

type deactivation struct {
	lotID  int
	source string
}

type recordingSink struct {
	mu            sync.Mutex
	records       []Record
	deactivations []deactivation
	failCreates   int
	attempts      int
}

func (s *recordingSink) CreateOccupancy(ctx context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.attempts <= s.failCreates {
		return errors.New("database is locked")
	}
	s.records = append(s.records, record)
	return nil
}

func (s *recordingSink) DeactivateStream(ctx context.Context, lotID int, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivations = append(s.deactivations, deactivation{lotID, source})
	return nil
}

func (s *recordingSink) Records(lotID int) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, r := range s.records {
		if r.LotID == lotID {
			out = append(out, r)
		}
	}
	return out
}

func (s *recordingSink) Deactivations() []deactivation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]deactivation(nil), s.deactivations...)
}

func (s *recordingSink) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func setupTestScheduler(opener *fakeOpener, det detector.Detector, sink Sink) *Scheduler {
	return NewScheduler(opener, det, sink, Config{AcquireTimeout: 2 * time.Second}, logger.NewNopLogger())
}

func stream(lotID int, source string, interval time.Duration) StreamConfig {
	return StreamConfig{LotID: lotID, Source: source, Interval: interval}
}

// waitRecords waits until lotID has at least n records
func waitRecords(t *testing.T, sink *recordingSink, lotID, n int) []Record {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if records := sink.Records(lotID); len(records) >= n {
			return records
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Lot %d: expected %d records, got %d", lotID, n, len(sink.Records(lotID)))
	return nil
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Lots did not exit")
	}
}

func stopHandle(t *testing.T, h *Handle) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}
