package config

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Validate validates the configuration and reports every problem found
func (c *Config) Validate() error {
	var errs error
	add := func(format string, args ...interface{}) {
		errs = multierr.Append(errs, fmt.Errorf(format, args...))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		add("invalid log.level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		add("invalid log.format: %s (must be: text or json)", c.Log.Format)
	}

	if c.DataDir == "" {
		add("data_dir is required")
	}
	if c.Database.Path == "" {
		add("database.path is required")
	}

	// Scheduler
	if c.Scheduler.AcquireTimeout <= 0 {
		add("scheduler.acquire_timeout must be > 0, got: %v", c.Scheduler.AcquireTimeout)
	}
	if c.Scheduler.ProbeTimeout <= 0 {
		add("scheduler.probe_timeout must be > 0, got: %v", c.Scheduler.ProbeTimeout)
	}
	if c.Scheduler.FrameStride < 1 {
		add("scheduler.frame_stride must be >= 1, got: %d", c.Scheduler.FrameStride)
	}
	if _, err := c.Location(); err != nil {
		add("invalid scheduler.time_zone: %s", c.Scheduler.TimeZone)
	}

	// Detector
	if c.Detector.ServiceURL == "" {
		add("detector.service_url is required")
	}
	if c.Detector.Timeout <= 0 {
		add("detector.timeout must be > 0, got: %v", c.Detector.Timeout)
	}
	if c.Detector.ConfidenceThreshold < 0 || c.Detector.ConfidenceThreshold > 1 {
		add("detector.confidence_threshold must be between 0 and 1, got: %.2f", c.Detector.ConfidenceThreshold)
	}
	if c.Detector.JPEGQuality < 1 || c.Detector.JPEGQuality > 100 {
		add("detector.jpeg_quality must be between 1 and 100, got: %d", c.Detector.JPEGQuality)
	}

	// Sinks
	if c.Sinks.PublishTimeout <= 0 {
		add("sinks.publish_timeout must be > 0, got: %v", c.Sinks.PublishTimeout)
	}
	if c.Sinks.QueueSize < 1 {
		add("sinks.queue_size must be >= 1, got: %d", c.Sinks.QueueSize)
	}
	if c.Sinks.NATS.Enabled && c.Sinks.NATS.URL == "" {
		add("sinks.nats.url is required when nats is enabled")
	}
	if c.Sinks.MQTT.Enabled {
		if c.Sinks.MQTT.Broker == "" {
			add("sinks.mqtt.broker is required when mqtt is enabled")
		}
		if c.Sinks.MQTT.QoS > 2 {
			add("sinks.mqtt.qos must be 0, 1 or 2, got: %d", c.Sinks.MQTT.QoS)
		}
	}
	if c.Sinks.ClickHouse.Enabled && c.Sinks.ClickHouse.Host == "" {
		add("sinks.clickhouse.host is required when clickhouse is enabled")
	}

	if c.Retention.Days < 1 {
		add("retention.days must be >= 1, got: %d", c.Retention.Days)
	}
	if c.Retention.MaxDiskUsagePercent <= 0 || c.Retention.MaxDiskUsagePercent > 100 {
		add("retention.max_disk_usage_percent must be between 0 and 100, got: %.1f", c.Retention.MaxDiskUsagePercent)
	}
	if c.Retention.Interval <= 0 {
		add("retention.interval must be > 0, got: %v", c.Retention.Interval)
	}

	if c.Web.Enabled && (c.Web.Port < 1 || c.Web.Port > 65535) {
		add("web.port must be between 1 and 65535, got: %d", c.Web.Port)
	}

	errs = multierr.Append(errs, c.validateLots())

	if errs != nil {
		return fmt.Errorf("configuration validation failed: %w", errs)
	}
	return nil
}

// validateLots checks lots and streams. All streams of a lot must share one
// processing rate because the lot closes one cycle per interval.
func (c *Config) validateLots() error {
	var errs error
	add := func(format string, args ...interface{}) {
		errs = multierr.Append(errs, fmt.Errorf(format, args...))
	}

	lots := make(map[int]bool, len(c.Lots))
	for i, lot := range c.Lots {
		if lot.ID <= 0 {
			add("lots[%d].id must be > 0, got: %d", i, lot.ID)
			continue
		}
		if lots[lot.ID] {
			add("lots[%d]: duplicate lot id %d", i, lot.ID)
		}
		lots[lot.ID] = true
		if lot.TotalSpots < 0 {
			add("lots[%d].total_spots must be >= 0, got: %d", i, lot.TotalSpots)
		}
	}

	sources := make(map[string]bool, len(c.Streams))
	rates := make(map[int]int)
	for i, stream := range c.Streams {
		if stream.LotID <= 0 {
			add("streams[%d].lot_id must be > 0, got: %d", i, stream.LotID)
		}
		if stream.Source == "" {
			add("streams[%d].source is required", i)
		} else if sources[stream.Source] {
			add("streams[%d]: duplicate source %s", i, stream.Source)
		}
		sources[stream.Source] = true

		if stream.ProcessingRate <= 0 {
			add("streams[%d].processing_rate must be > 0, got: %d", i, stream.ProcessingRate)
		} else if rate, ok := rates[stream.LotID]; ok && rate != stream.ProcessingRate {
			add("streams[%d]: lot %d mixes processing rates %ds and %ds", i, stream.LotID, rate, stream.ProcessingRate)
		} else {
			rates[stream.LotID] = stream.ProcessingRate
		}

		if (stream.ZoneFile == "") != (stream.ZoneImage == "") {
			add("streams[%d]: zone_file and zone_image must be set together", i)
		}
		if stream.ZoneFile != "" && len(stream.ParkingZone) > 0 {
			add("streams[%d]: parking_zone and zone_file are mutually exclusive", i)
		}
		for j, polygon := range stream.ParkingZone {
			if len(polygon) < 3 {
				add("streams[%d].parking_zone[%d] needs at least 3 points, got: %d", i, j, len(polygon))
			}
		}
	}

	return errs
}

// Interval returns the processing rate as a duration
func (s StreamConfig) Interval() time.Duration {
	return time.Duration(s.ProcessingRate) * time.Second
}
