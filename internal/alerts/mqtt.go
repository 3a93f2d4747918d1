package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTConfig represents the MQTT broker connection
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

const (
	mqttQoS             = 1
	mqttConnectTimeout  = 10 * time.Second
	mqttDisconnectQuiet = 250 // ms
)

// MQTTPublisher publishes alerts as JSON to <prefix>/<device>/<field>
type MQTTPublisher struct {
	logger *zap.Logger
	client mqtt.Client
	prefix string
}

// NewMQTTPublisher connects to the broker
func NewMQTTPublisher(logger *zap.Logger, cfg MQTTConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.String("broker", cfg.Broker), zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Broker, err)
	}

	logger.Info("Connected to MQTT broker", zap.String("broker", cfg.Broker), zap.String("topic_prefix", cfg.TopicPrefix))
	return &MQTTPublisher{logger: logger, client: client, prefix: cfg.TopicPrefix}, nil
}

// Publish sends the alert with QoS 1 and waits for the broker acknowledgement
func (p *MQTTPublisher) Publish(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	topic := Topic(p.prefix, alert.DeviceID, alert.Field)
	token := p.client.Publish(topic, mqttQoS, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	p.logger.Debug("Published alert", zap.String("topic", topic), zap.String("alert_id", alert.ID))
	return nil
}

func (p *MQTTPublisher) Name() string { return "mqtt" }

// Close disconnects from the broker
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(mqttDisconnectQuiet)
}

var topicReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_")

// Topic builds the alert topic; MQTT separators and wildcards in the device ID
// and field are replaced.
func Topic(prefix, deviceID, field string) string {
	parts := []string{topicReplacer.Replace(deviceID), topicReplacer.Replace(field)}
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return strings.Join(parts, "/")
}
