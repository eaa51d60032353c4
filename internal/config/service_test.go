package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/AndriyKy/spot-gazer/internal/logger"
)

func createTestConfig(t *testing.T, configPath string, cfg *Config) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("Failed to marshal config: %v", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
}

func testConfig(dataDir string) *Config {
	cfg := &Config{DataDir: dataDir}
	cfg.Lots = []LotConfig{{ID: 1, Name: "North", TotalSpots: 40}}
	cfg.Streams = []StreamConfig{
		{LotID: 1, Source: "rtsp://cam1", ProcessingRate: 30},
		{LotID: 1, Source: "rtsp://cam2", ProcessingRate: 30},
	}
	cfg.setDefaults()
	return cfg
}

func TestNewService(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	createTestConfig(t, configPath, testConfig(tmpDir))

	svc, err := NewService(configPath, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	if svc.Get() == nil {
		t.Fatal("Get() returned nil")
	}
	if svc.Get().DataDir != tmpDir {
		t.Errorf("Expected DataDir %s, got %s", tmpDir, svc.Get().DataDir)
	}
	if len(svc.Get().Streams) != 2 {
		t.Errorf("Expected 2 streams, got %d", len(svc.Get().Streams))
	}
}

func TestNewService_Invalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	cfg := testConfig(tmpDir)
	cfg.Streams[1].ProcessingRate = 60
	createTestConfig(t, configPath, cfg)

	if _, err := NewService(configPath, logger.NewNopLogger()); err == nil {
		t.Fatal("Expected mixed processing rates to be rejected")
	}
}

func TestService_Reload(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	cfg := testConfig(tmpDir)
	createTestConfig(t, configPath, cfg)

	svc, err := NewService(configPath, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	cfg.Log.Level = "debug"
	createTestConfig(t, configPath, cfg)

	if err := svc.Reload(context.Background()); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if svc.Get().Log.Level != "debug" {
		t.Errorf("Expected log level 'debug', got %s", svc.Get().Log.Level)
	}
}

func TestService_Reload_KeepsConfigOnError(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	cfg := testConfig(tmpDir)
	createTestConfig(t, configPath, cfg)

	svc, err := NewService(configPath, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	if err := os.WriteFile(configPath, []byte("lots: [\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	if err := svc.Reload(context.Background()); err == nil {
		t.Fatal("Expected reload error")
	}
	if len(svc.Get().Streams) != 2 {
		t.Error("Previous configuration should be kept")
	}
}

func TestService_Watch(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	cfg := testConfig(tmpDir)
	createTestConfig(t, configPath, cfg)

	svc, err := NewService(configPath, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	watcherCalled := false
	svc.Watch(func(ctx context.Context, oldConfig, newConfig *Config) error {
		watcherCalled = true
		if len(oldConfig.Streams) != 2 || len(newConfig.Streams) != 1 {
			t.Errorf("Unexpected watcher configs: %d -> %d streams", len(oldConfig.Streams), len(newConfig.Streams))
		}
		// Get must not block inside a watcher
		if svc.Get() != newConfig {
			t.Error("Watcher should observe the new configuration")
		}
		return nil
	})

	cfg.Streams = cfg.Streams[:1]
	createTestConfig(t, configPath, cfg)

	if err := svc.Reload(context.Background()); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if !watcherCalled {
		t.Error("Watcher should have been called")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SPOT_GAZER_DETECTOR_URL", "http://detector:9000")
	t.Setenv("SPOT_GAZER_DETECTOR_ENABLED_CLASSES", "car, truck")
	t.Setenv("SPOT_GAZER_NATS_URL", "nats://nats:4222")
	t.Setenv("SPOT_GAZER_FRAME_STRIDE", "5")
	t.Setenv("SPOT_GAZER_ACQUIRE_TIMEOUT", "15s")
	t.Setenv("SPOT_GAZER_WEB_PORT", "not-a-number")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := testConfig(t.TempDir())
	applyEnvOverrides(cfg)

	if cfg.Detector.ServiceURL != "http://detector:9000" {
		t.Errorf("Expected detector url override, got %s", cfg.Detector.ServiceURL)
	}
	if len(cfg.Detector.EnabledClasses) != 2 || cfg.Detector.EnabledClasses[1] != "truck" {
		t.Errorf("Expected [car truck], got %v", cfg.Detector.EnabledClasses)
	}
	if !cfg.Sinks.NATS.Enabled || cfg.Sinks.NATS.URL != "nats://nats:4222" {
		t.Errorf("Expected nats enabled, got %+v", cfg.Sinks.NATS)
	}
	if cfg.Scheduler.FrameStride != 5 {
		t.Errorf("Expected frame stride 5, got %d", cfg.Scheduler.FrameStride)
	}
	if cfg.Scheduler.AcquireTimeout.String() != "15s" {
		t.Errorf("Expected acquire timeout 15s, got %v", cfg.Scheduler.AcquireTimeout)
	}
	if cfg.Web.Port != 8088 {
		t.Errorf("Invalid port override should be ignored, got %d", cfg.Web.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Log.Level)
	}
}

func TestGetEnvWithDefault(t *testing.T) {
	t.Setenv("SPOT_GAZER_TEST_VAR", "set")

	if got := GetEnvWithDefault("SPOT_GAZER_TEST_VAR", "default"); got != "set" {
		t.Errorf("Expected 'set', got %s", got)
	}
	if got := GetEnvWithDefault("SPOT_GAZER_UNSET_VAR", "default"); got != "default" {
		t.Errorf("Expected 'default', got %s", got)
	}
}
