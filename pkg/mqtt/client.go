// Package mqtt publishes per-cycle congestion telemetry to an MQTT broker
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/trafficwatch/trafficwatch/pkg/ci"
	"github.com/trafficwatch/trafficwatch/pkg/logx"
)

// Config holds MQTT publisher configuration
type Config struct {
	Broker      string `json:"broker"`
	Port        int    `json:"port"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         int    `json:"qos"`
	Retain      bool   `json:"retain"`
	Enabled     bool   `json:"enabled"`
}

// DefaultConfig returns the publisher defaults; publishing is off unless
// a broker is configured.
func DefaultConfig() Config {
	return Config{
		Broker:      "localhost",
		Port:        1883,
		ClientID:    "trafficwatchd",
		TopicPrefix: "trafficwatch",
		QoS:         1,
		Retain:      false,
		Enabled:     false,
	}
}

// Publisher pushes CI states and cycle summaries to MQTT. All publish
// methods are no-ops while disabled or disconnected, so the pipeline never
// blocks on the broker.
type Publisher struct {
	client    MQTT.Client
	logger    *logx.Logger
	config    Config
	connected bool
}

// NewPublisher creates an MQTT publisher
func NewPublisher(config Config, logger *logx.Logger) *Publisher {
	return &Publisher{
		config: config,
		logger: logger,
	}
}

// Connect establishes the broker connection
func (p *Publisher) Connect() error {
	if !p.config.Enabled {
		p.logger.Debug("mqtt publisher disabled")
		return nil
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", p.config.Broker, p.config.Port))
	opts.SetClientID(p.config.ClientID)

	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetOnConnectHandler(p.onConnect)
	opts.SetConnectionLostHandler(p.onConnectionLost)

	p.client = MQTT.NewClient(opts)

	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	p.logger.Info("mqtt publisher connected", "broker", p.config.Broker, "port", p.config.Port)
	return nil
}

// Disconnect closes the broker connection
func (p *Publisher) Disconnect() {
	if p.client != nil && p.connected {
		p.client.Disconnect(250)
		p.connected = false
		p.logger.Info("mqtt publisher disconnected")
	}
}

func (p *Publisher) onConnect(client MQTT.Client) {
	p.connected = true
	p.logger.Info("mqtt connection established")
}

func (p *Publisher) onConnectionLost(client MQTT.Client, err error) {
	p.connected = false
	p.logger.Error("mqtt connection lost", "error", err.Error())
}

// PublishState publishes one camera's current CI state
func (p *Publisher) PublishState(state ci.CIState) error {
	if !p.config.Enabled || !p.connected {
		return nil
	}

	topic := fmt.Sprintf("%s/cameras/%s/state", p.config.TopicPrefix, state.CameraID)
	return p.publishJSON(topic, state)
}

// PublishCycleSummary publishes an ingestion cycle summary
func (p *Publisher) PublishCycleSummary(cameras, failed int, duration time.Duration) error {
	if !p.config.Enabled || !p.connected {
		return nil
	}

	topic := fmt.Sprintf("%s/cycles", p.config.TopicPrefix)
	payload := map[string]interface{}{
		"timestamp":   time.Now().UTC(),
		"cameras":     cameras,
		"failed":      failed,
		"duration_ms": duration.Milliseconds(),
	}
	return p.publishJSON(topic, payload)
}

func (p *Publisher) publishJSON(topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	token := p.client.Publish(topic, byte(p.config.QoS), p.config.Retain, data)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, token.Error())
	}

	p.logger.Debug("mqtt message published", "topic", topic, "size", len(data))
	return nil
}

// IsConnected reports whether the publisher has a live broker connection
func (p *Publisher) IsConnected() bool {
	return p.connected && p.client != nil && p.client.IsConnected()
}
