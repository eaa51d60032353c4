package sink

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/AndriyKy/spot-gazer/internal/logger"
	"github.com/AndriyKy/spot-gazer/internal/occupancy"
)

const createOccupancyTable = `
CREATE TABLE IF NOT EXISTS lot_occupancy (
    Timestamp     DateTime64(3),
    LotID         UInt32,
    OccupiedSpots UInt32
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (LotID, Timestamp);
`

const createDeactivationTable = `
CREATE TABLE IF NOT EXISTS stream_deactivations (
    Timestamp DateTime64(3),
    LotID     UInt32,
    Source    String
) ENGINE = MergeTree()
ORDER BY (LotID, Timestamp);
`

// ClickHouseConfig contains ClickHouse writer settings
type ClickHouseConfig struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

// ClickHouseWriter appends occupancy as a time series for analytics
type ClickHouseWriter struct {
	conn   driver.Conn
	logger *logger.Logger
}

// NewClickHouseWriter connects to ClickHouse and ensures the tables exist
func NewClickHouseWriter(ctx context.Context, config ClickHouseConfig, log *logger.Logger) (*ClickHouseWriter, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", config.Host, config.Port)},
		Auth: clickhouse.Auth{
			Database: config.Database,
			Username: config.Username,
			Password: config.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	for _, stmt := range []string{createOccupancyTable, createDeactivationTable} {
		if err := conn.Exec(ctx, stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create table: %w", err)
		}
	}

	log = log.Named("clickhouse")
	log.Info("Connected to ClickHouse", "host", config.Host, "database", config.Database)
	return &ClickHouseWriter{conn: conn, logger: log}, nil
}

// Name implements Publisher
func (w *ClickHouseWriter) Name() string {
	return "clickhouse"
}

// PublishOccupancy implements Publisher
func (w *ClickHouseWriter) PublishOccupancy(ctx context.Context, record occupancy.Record) error {
	return w.insert(ctx, "INSERT INTO lot_occupancy", record.Timestamp, uint32(record.LotID), uint32(record.OccupiedCount))
}

// PublishDeactivation implements Publisher
func (w *ClickHouseWriter) PublishDeactivation(ctx context.Context, deactivation Deactivation) error {
	return w.insert(ctx, "INSERT INTO stream_deactivations", deactivation.DeactivatedAt, uint32(deactivation.LotID), deactivation.Source)
}

func (w *ClickHouseWriter) insert(ctx context.Context, query string, row ...interface{}) error {
	batch, err := w.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	if err := batch.Append(row...); err != nil {
		batch.Abort()
		return fmt.Errorf("failed to append row: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// Ping checks the ClickHouse connection
func (w *ClickHouseWriter) Ping(ctx context.Context) error {
	return w.conn.Ping(ctx)
}

// Close closes the ClickHouse connection
func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}
