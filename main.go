package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AndriyKy/spot-gazer/internal/config"
	"github.com/AndriyKy/spot-gazer/internal/detector"
	"github.com/AndriyKy/spot-gazer/internal/health"
	"github.com/AndriyKy/spot-gazer/internal/logger"
	"github.com/AndriyKy/spot-gazer/internal/occupancy"
	"github.com/AndriyKy/spot-gazer/internal/service"
	"github.com/AndriyKy/spot-gazer/internal/sink"
	"github.com/AndriyKy/spot-gazer/internal/state"
	"github.com/AndriyKy/spot-gazer/internal/storage"
	"github.com/AndriyKy/spot-gazer/internal/video"
	"github.com/AndriyKy/spot-gazer/internal/web"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath string
	defaultPath := config.GetEnvWithDefault("SPOT_GAZER_CONFIG", "")
	flag.StringVar(&configPath, "config", defaultPath, "Path to configuration file")
	flag.StringVar(&configPath, "c", defaultPath, "Path to configuration file (short)")
	flag.Parse()

	// Bootstrap logger until the configured one exists
	bootLog, err := logger.New(logger.LogConfig{Level: "info", Format: "text", Output: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	// Load configuration
	cfgSvc, err := config.NewService(configPath, bootLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := cfgSvc.Get()

	// Initialize logger
	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting Spot Gazer",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
		"config", configPath,
	)

	if err := run(cfgSvc, log); err != nil {
		log.Error("Spot Gazer exited with error", "error", err)
		os.Exit(1)
	}

	log.Info("Shutdown complete")
}

func run(cfgSvc *config.Service, log *logger.Logger) error {
	cfg := cfgSvc.Get()

	// Create main context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	location, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("invalid time zone: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// Persistent state
	stateMgr, err := state.NewManager(cfg.Database.Path, log)
	if err != nil {
		return err
	}
	defer stateMgr.Close()

	if _, err := stateMgr.RecoverState(ctx); err != nil {
		return err
	}
	lots, streams := state.FromConfig(cfg)
	if err := stateMgr.SyncStreams(ctx, lots, streams); err != nil {
		return err
	}

	// Frame acquisition and detection
	ffmpeg, err := video.NewFFmpegWrapper(cfg.Scheduler.FFmpegPath, log)
	if err != nil {
		return err
	}
	opener := video.NewOpener(ffmpeg, video.OpenerConfig{
		FrameStride:  cfg.Scheduler.FrameStride,
		ProbeTimeout: cfg.Scheduler.ProbeTimeout,
	}, log)
	det := detector.NewHTTPDetector(detector.Config{
		ServiceURL:          cfg.Detector.ServiceURL,
		Timeout:             cfg.Detector.Timeout,
		ConfidenceThreshold: cfg.Detector.ConfidenceThreshold,
		EnabledClasses:      cfg.Detector.EnabledClasses,
		JPEGQuality:         cfg.Detector.JPEGQuality,
	}, log)

	// Occupancy sinks
	publishers, err := buildPublishers(ctx, cfg, log)
	if err != nil {
		return err
	}
	records := sink.NewMulti(stateMgr, publishers, sink.MultiConfig{
		PublishTimeout: cfg.Sinks.PublishTimeout,
		QueueSize:      cfg.Sinks.QueueSize,
	}, log)
	defer func() {
		if err := records.Close(); err != nil {
			log.Warn("Error closing publishers", "error", err)
		}
	}()

	occSvc := occupancy.NewService(stateMgr, opener, det, records, occupancy.Config{
		AcquireTimeout: cfg.Scheduler.AcquireTimeout,
		Location:       location,
	}, log)

	retention := storage.NewService(storage.Config{
		DataDir:             cfg.DataDir,
		RetentionDays:       cfg.Retention.Days,
		MaxDiskUsagePercent: cfg.Retention.MaxDiskUsagePercent,
		Interval:            cfg.Retention.Interval,
	}, stateMgr, log)

	// Create service manager
	svcMgr := service.NewManager(log)

	// Create health check manager
	healthMgr := health.NewManager(log, svcMgr)
	healthMgr.RegisterChecker(health.NewDatabaseChecker(stateMgr, cfg.Database.Path))
	healthMgr.RegisterChecker(health.NewDetectorChecker(det, cfg.Detector.ServiceURL))
	healthMgr.RegisterChecker(health.NewLotsChecker(occSvc))
	healthMgr.RegisterChecker(health.NewDiskChecker(retention.DiskMonitor()))

	webServer := web.NewServer(&cfg.Web, stateMgr, healthMgr, occSvc, log)
	webServer.SetVersion(version)

	svcMgr.Register(retention)
	svcMgr.Register(occSvc)
	svcMgr.Register(webServer)

	// Streams are re-synced and lots relaunched when the config changes
	cfgSvc.Watch(func(ctx context.Context, _, next *config.Config) error {
		lots, streams := state.FromConfig(next)
		if err := stateMgr.SyncStreams(ctx, lots, streams); err != nil {
			return fmt.Errorf("failed to sync streams: %w", err)
		}
		stopCtx, stopCancel := context.WithTimeout(ctx, 30*time.Second)
		defer stopCancel()
		if err := occSvc.Stop(stopCtx); err != nil {
			return fmt.Errorf("failed to stop lots: %w", err)
		}
		return occSvc.Start(ctx)
	})

	// Initialize and start services
	if err := svcMgr.Start(ctx); err != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		svcMgr.Shutdown(shutdownCtx)
		return fmt.Errorf("failed to start services: %w", err)
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	// Wait for shutdown signal
	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			log.Info("Reloading configuration")
			if err := cfgSvc.Reload(ctx); err != nil {
				log.Error("Configuration reload failed", "error", err)
			}
			continue
		}
		log.Info("Received shutdown signal", "signal", sig)
		break
	}

	// Start graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := svcMgr.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}
	return nil
}

// buildPublishers connects every enabled downstream publisher
func buildPublishers(ctx context.Context, cfg *config.Config, log *logger.Logger) ([]sink.Publisher, error) {
	var publishers []sink.Publisher
	closeAll := func() {
		for _, p := range publishers {
			p.Close()
		}
	}

	if cfg.Sinks.NATS.Enabled {
		p, err := sink.NewNATSPublisher(sink.NATSConfig{
			URL:     cfg.Sinks.NATS.URL,
			Subject: cfg.Sinks.NATS.Subject,
		}, log)
		if err != nil {
			return nil, err
		}
		publishers = append(publishers, p)
	}

	if cfg.Sinks.MQTT.Enabled {
		p, err := sink.NewMQTTPublisher(ctx, sink.MQTTConfig{
			Broker:   cfg.Sinks.MQTT.Broker,
			ClientID: cfg.Sinks.MQTT.ClientID,
			Topic:    cfg.Sinks.MQTT.Topic,
			QoS:      cfg.Sinks.MQTT.QoS,
		}, log)
		if err != nil {
			closeAll()
			return nil, err
		}
		publishers = append(publishers, p)
	}

	if cfg.Sinks.ClickHouse.Enabled {
		p, err := sink.NewClickHouseWriter(ctx, sink.ClickHouseConfig{
			Host:     cfg.Sinks.ClickHouse.Host,
			Port:     cfg.Sinks.ClickHouse.Port,
			Database: cfg.Sinks.ClickHouse.Database,
			Username: cfg.Sinks.ClickHouse.Username,
			Password: cfg.Sinks.ClickHouse.Password,
		}, log)
		if err != nil {
			closeAll()
			return nil, err
		}
		publishers = append(publishers, p)
	}

	return publishers, nil
}
