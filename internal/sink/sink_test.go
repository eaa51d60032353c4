package sink

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AndriyKy/spot-gazer/internal/logger"
	"github.com/AndriyKy/spot-gazer/internal/occupancy"
)

var testRecord = occupancy.Record{
	LotID:         3,
	OccupiedCount: 33,
	Timestamp:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
}

type message struct {
	subject string
	data    []byte
}

type fakeNATS struct {
	mu       sync.Mutex
	messages []message
	drained  bool
}

func (f *fakeNATS) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message{subject, data})
	return nil
}

func (f *fakeNATS) Drain() error {
	f.drained = true
	return nil
}

type fakeMQTT struct {
	published    []*paho.Publish
	disconnected bool
	err          error
}

func (f *fakeMQTT) Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.published = append(f.published, p)
	return &paho.PublishResponse{}, nil
}

func (f *fakeMQTT) Disconnect(d *paho.Disconnect) error {
	f.disconnected = true
	return nil
}

func TestNATSPublisher(t *testing.T) {
	conn := &fakeNATS{}
	p := newNATSPublisher(conn, "spotgazer.occupancy", logger.NewNopLogger())
	ctx := context.Background()

	require.NoError(t, p.PublishOccupancy(ctx, testRecord))
	require.NoError(t, p.PublishDeactivation(ctx, Deactivation{LotID: 3, Source: "rtsp://cam2", DeactivatedAt: testRecord.Timestamp}))
	require.NoError(t, p.Close())

	require.Len(t, conn.messages, 2)
	assert.Equal(t, "spotgazer.occupancy", conn.messages[0].subject)
	assert.JSONEq(t, `{"lot_id":3,"occupied_spots":33,"timestamp":"2024-05-01T12:00:00Z"}`, string(conn.messages[0].data))
	assert.Equal(t, "spotgazer.occupancy.deactivated", conn.messages[1].subject)
	assert.JSONEq(t, `{"lot_id":3,"source":"rtsp://cam2","deactivated_at":"2024-05-01T12:00:00Z"}`, string(conn.messages[1].data))
	assert.True(t, conn.drained)
}

func TestMQTTPublisher(t *testing.T) {
	client := &fakeMQTT{}
	p := newMQTTPublisher(client, "spotgazer/occupancy", 1, logger.NewNopLogger())
	ctx := context.Background()

	require.NoError(t, p.PublishOccupancy(ctx, testRecord))
	require.NoError(t, p.PublishDeactivation(ctx, Deactivation{LotID: 3, Source: "cam2"}))
	require.NoError(t, p.Close())

	require.Len(t, client.published, 2)
	assert.Equal(t, "spotgazer/occupancy", client.published[0].Topic)
	assert.Equal(t, byte(1), client.published[0].QoS)
	assert.Equal(t, "application/json", client.published[0].Properties.ContentType)
	assert.Equal(t, "spotgazer/occupancy/deactivated", client.published[1].Topic)

	var record occupancy.Record
	require.NoError(t, json.Unmarshal(client.published[0].Payload, &record))
	assert.Equal(t, 33, record.OccupiedCount)
	assert.True(t, client.disconnected)

	client.err = errors.New("connection lost")
	err := p.PublishOccupancy(ctx, testRecord)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spotgazer/occupancy")
}

func TestBrokerAddress(t *testing.T) {
	tests := []struct {
		broker  string
		want    string
		wantErr bool
	}{
		{"tcp://broker:1884", "broker:1884", false},
		{"mqtt://broker", "broker:1883", false},
		{"localhost:1883", "localhost:1883", false},
		{"broker", "broker:1883", false},
		{"ws://broker:80", "", true},
		{"tcp://:1883", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.broker, func(t *testing.T) {
			got, err := brokerAddress(tt.broker)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type fakePrimary struct {
	createErr     error
	deactivateErr error
	records       []occupancy.Record
}

func (f *fakePrimary) CreateOccupancy(ctx context.Context, record occupancy.Record) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.records = append(f.records, record)
	return nil
}

func (f *fakePrimary) DeactivateStream(ctx context.Context, lotID int, source string) error {
	return f.deactivateErr
}

type fakePublisher struct {
	name string
	err  error

	mu            sync.Mutex
	records       []occupancy.Record
	deactivations []Deactivation
	closed        bool
}

func (f *fakePublisher) Name() string { return f.name }

func (f *fakePublisher) PublishOccupancy(ctx context.Context, record occupancy.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return f.err
}

func (f *fakePublisher) PublishDeactivation(ctx context.Context, deactivation Deactivation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivations = append(f.deactivations, deactivation)
	return f.err
}

func (f *fakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.err
}

func (f *fakePublisher) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records), len(f.deactivations)
}

// hangingPublisher blocks every publish until its context ends
type hangingPublisher struct {
	mu        sync.Mutex
	cancelled int
}

func (h *hangingPublisher) Name() string { return "hanging" }

func (h *hangingPublisher) PublishOccupancy(ctx context.Context, record occupancy.Record) error {
	<-ctx.Done()
	h.mu.Lock()
	h.cancelled++
	h.mu.Unlock()
	return ctx.Err()
}

func (h *hangingPublisher) PublishDeactivation(ctx context.Context, deactivation Deactivation) error {
	<-ctx.Done()
	return ctx.Err()
}

func (h *hangingPublisher) Close() error { return nil }

func (h *hangingPublisher) timedOut() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

func TestMulti_CreateOccupancy(t *testing.T) {
	primary := &fakePrimary{}
	ok := &fakePublisher{name: "ok"}
	broken := &fakePublisher{name: "broken", err: errors.New("timeout")}
	m := NewMulti(primary, []Publisher{ok, broken}, MultiConfig{}, logger.NewNopLogger())

	// publisher failures do not surface
	require.NoError(t, m.CreateOccupancy(context.Background(), testRecord))
	assert.Len(t, primary.records, 1)
	assert.Equal(t, []string{"ok", "broken"}, m.Publishers())

	// Close flushes what is queued
	assert.Error(t, m.Close())
	assert.Len(t, ok.records, 1)
	assert.Len(t, broken.records, 1)
}

func TestMulti_PrimaryFailureSkipsPublish(t *testing.T) {
	primary := &fakePrimary{createErr: errors.New("database is locked")}
	pub := &fakePublisher{name: "nats"}
	m := NewMulti(primary, []Publisher{pub}, MultiConfig{}, logger.NewNopLogger())

	err := m.CreateOccupancy(context.Background(), testRecord)
	assert.EqualError(t, err, "database is locked")
	require.NoError(t, m.Close())
	assert.Empty(t, pub.records)
}

func TestMulti_DeactivateStream(t *testing.T) {
	primary := &fakePrimary{deactivateErr: errors.New("no such stream")}
	pub := &fakePublisher{name: "mqtt"}
	m := NewMulti(primary, []Publisher{pub}, MultiConfig{}, logger.NewNopLogger())
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	err := m.DeactivateStream(context.Background(), 3, "cam2")
	assert.Error(t, err)
	require.NoError(t, m.Close())
	require.Len(t, pub.deactivations, 1)
	assert.Equal(t, Deactivation{LotID: 3, Source: "cam2", DeactivatedAt: fixed}, pub.deactivations[0])
}

func TestMulti_HangingPublisherDoesNotBlockPersistence(t *testing.T) {
	primary := &fakePrimary{}
	hanging := &hangingPublisher{}
	ok := &fakePublisher{name: "ok"}
	m := NewMulti(primary, []Publisher{hanging, ok}, MultiConfig{PublishTimeout: 20 * time.Millisecond}, logger.NewNopLogger())

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 20; i++ {
		require.NoError(t, m.CreateOccupancy(ctx, testRecord))
	}
	assert.Less(t, time.Since(start), 200*time.Millisecond)
	assert.Len(t, primary.records, 20)

	// each publish is cut off by the timeout and the queue keeps moving
	require.Eventually(t, func() bool {
		records, _ := ok.counts()
		return records == 20
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 20, hanging.timedOut())
	require.NoError(t, m.Close())
}

func TestMulti_QueueFullDrops(t *testing.T) {
	primary := &fakePrimary{}
	hanging := &hangingPublisher{}
	m := NewMulti(primary, []Publisher{hanging}, MultiConfig{PublishTimeout: 100 * time.Millisecond, QueueSize: 2}, logger.NewNopLogger())

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, m.CreateOccupancy(ctx, testRecord))
	}
	assert.Len(t, primary.records, 10)

	// one publication in flight, two queued, the rest dropped
	done := make(chan struct{})
	go func() {
		m.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.LessOrEqual(t, hanging.timedOut(), 3)
}

func TestMulti_Close(t *testing.T) {
	a := &fakePublisher{name: "a", err: errors.New("a failed")}
	b := &fakePublisher{name: "b"}
	m := NewMulti(&fakePrimary{}, []Publisher{a, b}, MultiConfig{}, logger.NewNopLogger())

	assert.Error(t, m.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)

	// closing twice is a no-op and later records are not published
	assert.NoError(t, m.Close())
	require.NoError(t, m.CreateOccupancy(context.Background(), testRecord))
	records, _ := a.counts()
	assert.Zero(t, records)
}

func TestClickHouseWriter_Integration(t *testing.T) {
	host := os.Getenv("SPOT_GAZER_TEST_CLICKHOUSE_HOST")
	if host == "" {
		t.Skip("SPOT_GAZER_TEST_CLICKHOUSE_HOST not set")
	}
	port := 9000
	if v := os.Getenv("SPOT_GAZER_TEST_CLICKHOUSE_PORT"); v != "" {
		port, _ = strconv.Atoi(v)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	w, err := NewClickHouseWriter(ctx, ClickHouseConfig{Host: host, Port: port, Database: "default", Username: "default"}, logger.NewNopLogger())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Ping(ctx))
	require.NoError(t, w.PublishOccupancy(ctx, testRecord))
	require.NoError(t, w.PublishDeactivation(ctx, Deactivation{LotID: 3, Source: "cam2", DeactivatedAt: time.Now()}))
}
