package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"camviewer/internal/config"
	"camviewer/internal/logger"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var ErrNotConnected = errors.New("mqtt not connected")

// MQTTEmitter publishes events to {topic}/{camera}/{type}.
type MQTTEmitter struct {
	broker   string
	clientID string
	topic    string
	logger   *logger.Logger

	Client mqtt.Client

	mu        sync.RWMutex
	published uint64
	errors    uint64
	connected bool
}

func NewMQTTEmitter(cfg *config.Config, logger *logger.Logger) *MQTTEmitter {
	return &MQTTEmitter{
		broker:   brokerURL(cfg.MQTTBroker),
		clientID: cfg.MQTTClientID,
		topic:    strings.TrimSuffix(cfg.MQTTTopic, "/"),
		logger:   logger,
	}
}

// brokerURL accepts "host:port" as well as a full URL.
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

func (e *MQTTEmitter) Topic(event Event) string {
	return fmt.Sprintf("%s/%s/%s", e.topic, event.Camera, event.Type)
}

// Connect establishes the broker connection. The client keeps reconnecting on its own afterwards.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(e.broker)
	opts.SetClientID(e.clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		e.logger.Info("MQTT connection established: %s", e.broker)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		e.logger.Warning("MQTT connection lost, reconnecting: %v", err)
	}

	e.Client = mqtt.NewClient(opts)
	e.logger.Info("Connecting to MQTT broker %s", e.broker)

	token := e.Client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

func (e *MQTTEmitter) Publish(event Event) error {
	if !e.isConnected() {
		e.countError()
		return ErrNotConnected
	}

	payload, err := event.ToJSON()
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	token := e.Client.Publish(e.Topic(event), 0, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()
	return nil
}

func (e *MQTTEmitter) Disconnect() error {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250)
		e.logger.Info("MQTT disconnected")
	}
	e.setConnected(false)
	return nil
}

// Stats returns how many events were published and how many failed.
func (e *MQTTEmitter) Stats() (published, failed uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.published, e.errors
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
