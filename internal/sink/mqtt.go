package sink

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/eclipse/paho.golang/paho"

	"github.com/AndriyKy/spot-gazer/internal/logger"
	"github.com/AndriyKy/spot-gazer/internal/occupancy"
)

const mqttKeepAlive = 30

// MQTTConfig contains MQTT publisher settings
type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
}

type mqttClient interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
	Disconnect(d *paho.Disconnect) error
}

// MQTTPublisher publishes records as JSON on a topic and deactivations on
// <topic>/deactivated
type MQTTPublisher struct {
	client mqttClient
	topic  string
	qos    byte
	logger *logger.Logger
}

// NewMQTTPublisher dials the broker and performs the MQTT v5 handshake
func NewMQTTPublisher(ctx context.Context, config MQTTConfig, log *logger.Logger) (*MQTTPublisher, error) {
	log = log.Named("mqtt")

	addr, err := brokerAddress(config.Broker)
	if err != nil {
		return nil, err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial mqtt broker: %w", err)
	}

	client := paho.NewClient(paho.ClientConfig{
		Conn:     conn,
		ClientID: config.ClientID,
		OnClientError: func(err error) {
			log.Error("MQTT client error", "error", err)
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			log.Warn("MQTT server disconnected", "reason_code", d.ReasonCode)
		},
	})

	connack, err := client.Connect(ctx, &paho.Connect{
		ClientID:   config.ClientID,
		KeepAlive:  mqttKeepAlive,
		CleanStart: true,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}
	if connack.ReasonCode != 0 {
		conn.Close()
		return nil, fmt.Errorf("mqtt broker refused connection: reason code %d", connack.ReasonCode)
	}
	log.Info("Connected to MQTT broker", "broker", addr, "topic", config.Topic)

	return newMQTTPublisher(client, config.Topic, config.QoS, log), nil
}

func newMQTTPublisher(client mqttClient, topic string, qos byte, log *logger.Logger) *MQTTPublisher {
	return &MQTTPublisher{client: client, topic: topic, qos: qos, logger: log}
}

// brokerAddress turns tcp://host:port, mqtt://host or host:port into a dial address
func brokerAddress(broker string) (string, error) {
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	u, err := url.Parse(broker)
	if err != nil {
		return "", fmt.Errorf("invalid mqtt broker %q: %w", broker, err)
	}
	switch u.Scheme {
	case "tcp", "mqtt":
	default:
		return "", fmt.Errorf("unsupported mqtt scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("invalid mqtt broker %q: missing host", broker)
	}
	port := u.Port()
	if port == "" {
		port = "1883"
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// Name implements Publisher
func (p *MQTTPublisher) Name() string {
	return "mqtt"
}

// PublishOccupancy implements Publisher
func (p *MQTTPublisher) PublishOccupancy(ctx context.Context, record occupancy.Record) error {
	data, err := encodeOccupancy(record)
	if err != nil {
		return err
	}
	return p.publish(ctx, p.topic, data)
}

// PublishDeactivation implements Publisher
func (p *MQTTPublisher) PublishDeactivation(ctx context.Context, deactivation Deactivation) error {
	data, err := encodeDeactivation(deactivation)
	if err != nil {
		return err
	}
	return p.publish(ctx, p.topic+"/deactivated", data)
}

func (p *MQTTPublisher) publish(ctx context.Context, topic string, payload []byte) error {
	_, err := p.client.Publish(ctx, &paho.Publish{
		QoS:     p.qos,
		Topic:   topic,
		Payload: payload,
		Properties: &paho.PublishProperties{
			ContentType: "application/json",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Close sends DISCONNECT to the broker
func (p *MQTTPublisher) Close() error {
	return p.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
}
