package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AndriyKy/spot-gazer/internal/masking"
)

// Config represents the application configuration
type Config struct {
	Log       LogConfig       `yaml:"log,omitempty"`
	DataDir   string          `yaml:"data_dir"`
	Database  DatabaseConfig  `yaml:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Detector  DetectorConfig  `yaml:"detector"`
	Sinks     SinksConfig     `yaml:"sinks"`
	Retention RetentionConfig `yaml:"retention"`
	Web       WebConfig       `yaml:"web"`
	Lots      []LotConfig     `yaml:"lots"`
	Streams   []StreamConfig  `yaml:"streams"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DatabaseConfig contains the sqlite database location
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SchedulerConfig contains detection scheduling configuration
type SchedulerConfig struct {
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	FrameStride    int           `yaml:"frame_stride"`
	TimeZone       string        `yaml:"time_zone"`
	FFmpegPath     string        `yaml:"ffmpeg_path"`
}

// DetectorConfig contains vehicle detection service configuration
type DetectorConfig struct {
	ServiceURL          string        `yaml:"service_url"`
	Timeout             time.Duration `yaml:"timeout"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	EnabledClasses      []string      `yaml:"enabled_classes"`
	JPEGQuality         int           `yaml:"jpeg_quality"`
}

// SinksConfig contains the optional occupancy publishers
type SinksConfig struct {
	PublishTimeout time.Duration    `yaml:"publish_timeout"`
	QueueSize      int              `yaml:"queue_size"`
	NATS           NATSConfig       `yaml:"nats"`
	MQTT           MQTTConfig       `yaml:"mqtt"`
	ClickHouse     ClickHouseConfig `yaml:"clickhouse"`
}

// NATSConfig contains NATS publisher configuration
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// MQTTConfig contains MQTT publisher configuration
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// ClickHouseConfig contains ClickHouse writer configuration
type ClickHouseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// RetentionConfig bounds the local occupancy history
type RetentionConfig struct {
	Days                int           `yaml:"days"`
	MaxDiskUsagePercent float64       `yaml:"max_disk_usage_percent"`
	Interval            time.Duration `yaml:"interval"`
}

// WebConfig contains web server configuration
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LotConfig describes a parking lot
type LotConfig struct {
	ID         int    `yaml:"id"`
	Name       string `yaml:"name"`
	TotalSpots int    `yaml:"total_spots"`
}

// StreamConfig describes one camera stream. The parking zone is either
// inline or read from a COCO export (zone_file) by image name (zone_image).
type StreamConfig struct {
	LotID          int               `yaml:"lot_id"`
	Source         string            `yaml:"source"`
	ProcessingRate int               `yaml:"processing_rate"` // seconds
	ParkingZone    []masking.Polygon `yaml:"parking_zone,omitempty"`
	ZoneFile       string            `yaml:"zone_file,omitempty"`
	ZoneImage      string            `yaml:"zone_image,omitempty"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	// Default config path if not provided
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.setDefaults()
	cfg.resolvePaths(filepath.Dir(configPath))

	return &cfg, nil
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	paths := []string{
		"./config/config.dev.yaml",
		"./config/config.yaml",
		"../config/config.dev.yaml",
		"../config/config.yaml",
		"/etc/spot-gazer/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	// Return the first default if none found (will error later)
	return paths[0]
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.DataDir, "db", "spot-gazer.db")
	}

	if c.Scheduler.AcquireTimeout == 0 {
		c.Scheduler.AcquireTimeout = 30 * time.Second
	}
	if c.Scheduler.ProbeTimeout == 0 {
		c.Scheduler.ProbeTimeout = 10 * time.Second
	}
	if c.Scheduler.FrameStride == 0 {
		c.Scheduler.FrameStride = 10
	}
	if c.Scheduler.TimeZone == "" {
		c.Scheduler.TimeZone = "UTC"
	}

	if c.Detector.ServiceURL == "" {
		c.Detector.ServiceURL = "http://localhost:8080"
	}
	if c.Detector.Timeout == 0 {
		c.Detector.Timeout = 30 * time.Second
	}
	if c.Detector.ConfidenceThreshold == 0 {
		c.Detector.ConfidenceThreshold = 0.5
	}
	if len(c.Detector.EnabledClasses) == 0 {
		c.Detector.EnabledClasses = []string{"car"}
	}
	if c.Detector.JPEGQuality == 0 {
		c.Detector.JPEGQuality = 90
	}

	if c.Sinks.PublishTimeout == 0 {
		c.Sinks.PublishTimeout = 5 * time.Second
	}
	if c.Sinks.QueueSize == 0 {
		c.Sinks.QueueSize = 256
	}
	if c.Sinks.NATS.Subject == "" {
		c.Sinks.NATS.Subject = "spotgazer.occupancy"
	}
	if c.Sinks.MQTT.Topic == "" {
		c.Sinks.MQTT.Topic = "spotgazer/occupancy"
	}
	if c.Sinks.MQTT.ClientID == "" {
		c.Sinks.MQTT.ClientID = "spot-gazer"
	}
	if c.Sinks.ClickHouse.Port == 0 {
		c.Sinks.ClickHouse.Port = 9000
	}
	if c.Sinks.ClickHouse.Database == "" {
		c.Sinks.ClickHouse.Database = "default"
	}

	if c.Retention.Days == 0 {
		c.Retention.Days = 30
	}
	if c.Retention.MaxDiskUsagePercent == 0 {
		c.Retention.MaxDiskUsagePercent = 90.0
	}
	if c.Retention.Interval == 0 {
		c.Retention.Interval = time.Hour
	}

	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8088
	}
}

// resolvePaths makes zone files relative to the configuration file
func (c *Config) resolvePaths(base string) {
	for i := range c.Streams {
		file := c.Streams[i].ZoneFile
		if file != "" && !filepath.IsAbs(file) {
			c.Streams[i].ZoneFile = filepath.Join(base, file)
		}
	}
}

// Location returns the time zone used for occupancy timestamps
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Scheduler.TimeZone)
}

// ResolveZones fills ParkingZone of every stream that references a COCO
// export. Each export is read once.
func (c *Config) ResolveZones() error {
	exports := make(map[string]map[string][]masking.Polygon)
	for i := range c.Streams {
		stream := &c.Streams[i]
		if stream.ZoneFile == "" {
			continue
		}

		zones, ok := exports[stream.ZoneFile]
		if !ok {
			var err error
			zones, err = masking.LoadCOCO(stream.ZoneFile)
			if err != nil {
				return fmt.Errorf("stream %s: %w", stream.Source, err)
			}
			exports[stream.ZoneFile] = zones
		}

		polygons, ok := zones[stream.ZoneImage]
		if !ok {
			return fmt.Errorf("stream %s: image %q not found in %s", stream.Source, stream.ZoneImage, stream.ZoneFile)
		}
		stream.ParkingZone = polygons
	}
	return nil
}
