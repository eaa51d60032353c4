package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/AndriyKy/spot-gazer/internal/logger"
)

// Service provides configuration management with environment variable support
type Service struct {
	config     *Config
	configPath string
	logger     *logger.Logger
	mu         sync.RWMutex
	watchers   []ConfigWatcher
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(ctx context.Context, oldConfig, newConfig *Config) error

// NewService creates a new configuration service
func NewService(configPath string, log *logger.Logger) (*Service, error) {
	cfg, err := load(configPath)
	if err != nil {
		return nil, err
	}

	return &Service{
		config:     cfg,
		configPath: configPath,
		logger:     log,
		watchers:   make([]ConfigWatcher, 0),
	}, nil
}

// load reads the file, applies environment overrides, resolves zone files
// and validates the result
func load(configPath string) (*Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.ResolveZones(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Get returns the current configuration (thread-safe)
func (s *Service) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Reload reloads the configuration from file and notifies watchers. The
// current configuration is kept when the file is invalid.
func (s *Service) Reload(ctx context.Context) error {
	newConfig, err := load(s.configPath)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	s.mu.Lock()
	oldConfig := s.config
	s.config = newConfig
	watchers := append([]ConfigWatcher(nil), s.watchers...)
	s.mu.Unlock()

	for _, watcher := range watchers {
		if err := watcher(ctx, oldConfig, newConfig); err != nil {
			s.logger.Error("Config watcher error", "error", err)
		}
	}

	s.logger.Info("Configuration reloaded", "path", s.configPath)
	return nil
}

// Watch registers a configuration change watcher
func (s *Service) Watch(watcher ConfigWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, watcher)
}

// applyEnvOverrides applies environment variable overrides to configuration
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("SPOT_GAZER_DATA_DIR"); val != "" {
		cfg.DataDir = val
	}
	if val := os.Getenv("SPOT_GAZER_DATABASE_PATH"); val != "" {
		cfg.Database.Path = val
	}

	// Scheduler settings
	if val := os.Getenv("SPOT_GAZER_TIME_ZONE"); val != "" {
		cfg.Scheduler.TimeZone = val
	}
	if val := os.Getenv("SPOT_GAZER_FFMPEG_PATH"); val != "" {
		cfg.Scheduler.FFmpegPath = val
	}
	if val := os.Getenv("SPOT_GAZER_ACQUIRE_TIMEOUT"); val != "" {
		if timeout, err := time.ParseDuration(val); err == nil {
			cfg.Scheduler.AcquireTimeout = timeout
		}
	}
	if val := os.Getenv("SPOT_GAZER_FRAME_STRIDE"); val != "" {
		if stride, err := parseInt(val); err == nil {
			cfg.Scheduler.FrameStride = stride
		}
	}

	// Detector settings
	if val := os.Getenv("SPOT_GAZER_DETECTOR_URL"); val != "" {
		cfg.Detector.ServiceURL = val
	}
	if val := os.Getenv("SPOT_GAZER_DETECTOR_CONFIDENCE_THRESHOLD"); val != "" {
		if threshold, err := parseFloat64(val); err == nil {
			cfg.Detector.ConfidenceThreshold = threshold
		}
	}
	if val := os.Getenv("SPOT_GAZER_DETECTOR_ENABLED_CLASSES"); val != "" {
		// Parse comma-separated class names
		classes := strings.Split(val, ",")
		for i := range classes {
			classes[i] = strings.TrimSpace(classes[i])
		}
		cfg.Detector.EnabledClasses = classes
	}

	// Sink settings
	if val := os.Getenv("SPOT_GAZER_NATS_URL"); val != "" {
		cfg.Sinks.NATS.URL = val
		cfg.Sinks.NATS.Enabled = true
	}
	if val := os.Getenv("SPOT_GAZER_MQTT_BROKER"); val != "" {
		cfg.Sinks.MQTT.Broker = val
		cfg.Sinks.MQTT.Enabled = true
	}
	if val := os.Getenv("SPOT_GAZER_CLICKHOUSE_PASSWORD"); val != "" {
		cfg.Sinks.ClickHouse.Password = val
	}

	// Retention settings
	if val := os.Getenv("SPOT_GAZER_RETENTION_DAYS"); val != "" {
		if days, err := parseInt(val); err == nil {
			cfg.Retention.Days = days
		}
	}

	// Web settings
	if val := os.Getenv("SPOT_GAZER_WEB_PORT"); val != "" {
		if port, err := parseInt(val); err == nil {
			cfg.Web.Port = port
		}
	}

	// Log settings
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
	}
	if val := os.Getenv("LOG_OUTPUT"); val != "" {
		cfg.Log.Output = val
	}
}

// Helper functions for parsing environment variables
func parseInt(s string) (int, error) {
	var result int
	_, err := fmt.Sscanf(s, "%d", &result)
	return result, err
}

func parseFloat64(s string) (float64, error) {
	var result float64
	_, err := fmt.Sscanf(s, "%f", &result)
	return result, err
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}
