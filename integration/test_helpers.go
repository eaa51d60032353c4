package integration

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/AndriyKy/spot-gazer/internal/config"
	"github.com/AndriyKy/spot-gazer/internal/logger"
	"github.com/AndriyKy/spot-gazer/internal/occupancy"
	"github.com/AndriyKy/spot-gazer/internal/sink"
	"github.com/AndriyKy/spot-gazer/internal/state"
	"github.com/AndriyKy/spot-gazer/internal/video"
)

// TestEnvironment provides a config file, a state database and the
// occupancy pipeline between them
type TestEnvironment struct {
	TempDir    string
	ConfigPath string
	ConfigSvc  *config.Service
	StateMgr   *state.Manager
	Opener     *FrameOpener
	Publisher  *RecordingPublisher
	Sink       *sink.Multi
	Occupancy  *occupancy.Service
	Logger     *logger.Logger
}

// SetupTestEnvironment writes configYAML, loads it and syncs it into a
// fresh database
func SetupTestEnvironment(t *testing.T, configYAML string, opener *FrameOpener) *TestEnvironment {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	WriteConfig(t, configPath, fmt.Sprintf(configYAML, filepath.Join(tmpDir, "data")))

	log := logger.NewNopLogger()
	cfgSvc, err := config.NewService(configPath, log)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	env := &TestEnvironment{
		TempDir:    tmpDir,
		ConfigPath: configPath,
		ConfigSvc:  cfgSvc,
		Opener:     opener,
		Publisher:  &RecordingPublisher{},
		Logger:     log,
	}
	env.Open(t)
	return env
}

// Open (re)opens the database, syncs the current config and builds the
// occupancy service on top of it
func (e *TestEnvironment) Open(t *testing.T) {
	t.Helper()
	cfg := e.ConfigSvc.Get()

	stateMgr, err := state.NewManager(cfg.Database.Path, e.Logger)
	if err != nil {
		t.Fatalf("Failed to create state manager: %v", err)
	}
	lots, streams := state.FromConfig(cfg)
	if err := stateMgr.SyncStreams(context.Background(), lots, streams); err != nil {
		t.Fatalf("Failed to sync streams: %v", err)
	}

	e.StateMgr = stateMgr
	e.Sink = sink.NewMulti(stateMgr, []sink.Publisher{e.Publisher}, sink.MultiConfig{
		PublishTimeout: time.Second,
	}, e.Logger)
	e.Occupancy = occupancy.NewService(stateMgr, e.Opener, RedPixelDetector{}, e.Sink, occupancy.Config{
		AcquireTimeout: time.Second,
		Location:       time.UTC,
	}, e.Logger)
}

// Close stops the pipeline and closes the database
func (e *TestEnvironment) Close(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Occupancy.Stop(ctx); err != nil {
		t.Errorf("Failed to stop occupancy service: %v", err)
	}
	if err := e.Sink.Close(); err != nil {
		t.Errorf("Failed to close sink: %v", err)
	}
	if err := e.StateMgr.Close(); err != nil {
		t.Errorf("Failed to close state manager: %v", err)
	}
}

// WriteConfig writes a configuration file
func WriteConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
}

// CarsImage is an 8x8 frame with a red pixel at each x in row 1
func CarsImage(xs ...int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for _, x := range xs {
		img.SetRGBA(x, 1, color.RGBA{R: 0xff, A: 0xff})
	}
	return img
}

// RedPixelDetector counts pixels with a non-zero red channel
type RedPixelDetector struct{}

func (RedPixelDetector) Count(ctx context.Context, img image.Image) (int, error) {
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

// FrameSource repeats one frame, failing after Limit frames when Limit > 0
type FrameSource struct {
	Image image.Image
	Limit int

	mu    sync.Mutex
	calls int
}

func (s *FrameSource) Next(ctx context.Context) (*video.Frame, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()

	if s.Limit > 0 && n > s.Limit {
		return nil, fmt.Errorf("%w: after %d frames", video.ErrEndOfStream, s.Limit)
	}
	return &video.Frame{Image: s.Image, Timestamp: time.Now(), Seq: uint64(n)}, nil
}

func (s *FrameSource) Close() error { return nil }

// FrameOpener opens FrameSources by locator
type FrameOpener struct {
	Sources map[string]*FrameSource
}

func (o *FrameOpener) Open(ctx context.Context, source string) (video.Source, error) {
	src, ok := o.Sources[source]
	if !ok {
		return nil, fmt.Errorf("%w: %s", video.ErrUnreachable, source)
	}
	return src, nil
}

// RecordingPublisher keeps everything fanned out to it
type RecordingPublisher struct {
	mu            sync.Mutex
	records       []occupancy.Record
	deactivations []sink.Deactivation
}

func (p *RecordingPublisher) Name() string { return "recording" }

func (p *RecordingPublisher) PublishOccupancy(ctx context.Context, record occupancy.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, record)
	return nil
}

func (p *RecordingPublisher) PublishDeactivation(ctx context.Context, deactivation sink.Deactivation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deactivations = append(p.deactivations, deactivation)
	return nil
}

func (p *RecordingPublisher) Close() error { return nil }

func (p *RecordingPublisher) Records() []occupancy.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]occupancy.Record(nil), p.records...)
}

func (p *RecordingPublisher) Deactivations() []sink.Deactivation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sink.Deactivation(nil), p.deactivations...)
}

func sprintfDataDir(configYAML string, env *TestEnvironment) string {
	return fmt.Sprintf(configYAML, env.ConfigSvc.Get().DataDir)
}
