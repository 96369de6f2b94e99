package bus

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenWateringCore/internal/config"
	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// supervisor tick
	superviseInterval = time.Second

	qosAtLeastOnce byte = 1

	connectTimeout  = 10 * time.Second
	disconnectQuiet = 250
)

var ErrNotConnected = errors.New("mqtt client not connected")

// Delivery is one inbound message with its receipt metadata.
type Delivery struct {
	Topic      string
	Payload    []byte
	Retained   bool
	ReceivedAt time.Time
}

type HandlerFunc func(Delivery)

// ClientFactory builds the paho client. Tests replace it with a fake.
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

type route struct {
	topic   string
	handler HandlerFunc
}

// Manager owns the single broker connection. Run supervises it: connect
// when disconnected, subscribe once per connection, dispatch inbound
// messages by exact topic.
type Manager struct {
	cfg       config.MQTTConfig
	topics    Topics
	state     *ConnectionState
	logger    *zap.Logger
	newClient ClientFactory
	now       func() time.Time

	routesMu sync.RWMutex
	routes   []route

	mu          sync.Mutex
	client      mqtt.Client
	subscribed  bool
	nextAttempt time.Time
	backoff     backoff.BackOff
}

type Option func(*Manager)

func WithClientFactory(f ClientFactory) Option {
	return func(m *Manager) { m.newClient = f }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(cfg config.MQTTConfig, topics Topics, state *ConnectionState, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg,
		topics:    topics,
		state:     state,
		logger:    logger.Named("mqtt"),
		newClient: mqtt.NewClient,
		now:       time.Now,
		backoff:   backoff.NewConstantBackOff(cfg.ReconnectDelay()),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Topics() Topics {
	return m.topics
}

// Handle registers handler for an exact topic. The first registration for
// a topic wins; later ones are ignored.
func (m *Manager) Handle(topic string, handler HandlerFunc) {
	m.routesMu.Lock()
	defer m.routesMu.Unlock()

	for _, r := range m.routes {
		if r.topic == topic {
			m.logger.Warn("Handler already registered, ignoring", zap.String("topic", topic))
			return
		}
	}
	m.routes = append(m.routes, route{topic: topic, handler: handler})
}

// Run blocks until ctx is cancelled, then disconnects.
func (m *Manager) Run(ctx context.Context) {
	m.logger.Info("MQTT supervisor started",
		zap.String("broker", m.cfg.BrokerURL()),
		zap.String("base_topic", m.topics.Base))

	ticker := time.NewTicker(superviseInterval)
	defer ticker.Stop()

	m.step(ctx)
	for {
		select {
		case <-ctx.Done():
			m.disconnect()
			m.logger.Info("MQTT supervisor stopped")
			return
		case <-ticker.C:
			m.step(ctx)
		}
	}
}

func (m *Manager) step(ctx context.Context) {
	client := m.ensureClient()

	if !client.IsConnected() {
		now := m.now()

		m.mu.Lock()
		wait := now.Before(m.nextAttempt)
		m.mu.Unlock()
		if wait {
			return
		}

		if err := m.connect(ctx, client); err != nil {
			delay := m.backoff.NextBackOff()

			m.mu.Lock()
			m.nextAttempt = now.Add(delay)
			m.mu.Unlock()

			m.logger.Warn("MQTT connect failed",
				zap.String("broker", m.cfg.BrokerURL()),
				zap.Duration("retry_in", delay),
				zap.Error(err))
			return
		}
		m.backoff.Reset()

		// connect and onConnectionLost update the state under m.mu, so a
		// loss right after connect is never overwritten
		m.mu.Lock()
		m.subscribed = false
		live := client.IsConnected()
		if live {
			m.state.MarkConnected(m.now())
		}
		m.mu.Unlock()

		if !live {
			m.logger.Warn("MQTT connection lost right after connect", zap.String("broker", m.cfg.BrokerURL()))
			return
		}
		m.logger.Info("MQTT connected", zap.String("broker", m.cfg.BrokerURL()))
	}

	m.mu.Lock()
	subscribed := m.subscribed
	m.mu.Unlock()

	if !subscribed {
		if err := m.subscribe(ctx, client); err != nil {
			m.logger.Warn("MQTT subscribe failed", zap.Error(err))
		}
	}
}

func (m *Manager) ensureClient() mqtt.Client {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		m.client = m.newClient(m.clientOptions())
	}
	return m.client
}

func (m *Manager) clientOptions() *mqtt.ClientOptions {
	clientID := m.cfg.ClientID
	if clientID == "" {
		clientID = "watering-backend-" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(m.cfg.BrokerURL()).
		SetClientID(clientID).
		SetCleanSession(true).
		SetKeepAlive(m.cfg.KeepAlive()).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectionLostHandler(m.onConnectionLost)

	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password)
	}
	if m.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	return opts
}

func (m *Manager) connect(ctx context.Context, client mqtt.Client) error {
	m.logger.Debug("Connecting to MQTT broker", zap.String("broker", m.cfg.BrokerURL()))

	if err := waitToken(ctx, client.Connect()); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

func (m *Manager) subscribe(ctx context.Context, client mqtt.Client) error {
	filters := make(map[string]byte, 3)
	for _, topic := range m.topics.Inbound() {
		filters[topic] = qosAtLeastOnce
	}

	if err := waitToken(ctx, client.SubscribeMultiple(filters, m.onMessage)); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	m.mu.Lock()
	m.subscribed = true
	m.mu.Unlock()

	m.logger.Info("Subscribed to MQTT topics", zap.Strings("topics", m.topics.Inbound()))
	return nil
}

func (m *Manager) onConnectionLost(_ mqtt.Client, err error) {
	m.mu.Lock()
	m.subscribed = false
	m.state.MarkDisconnected(m.now())
	m.mu.Unlock()

	m.logger.Warn("MQTT connection lost", zap.Error(err))
}

func (m *Manager) onMessage(_ mqtt.Client, msg mqtt.Message) {
	m.Dispatch(Delivery{
		Topic:      msg.Topic(),
		Payload:    msg.Payload(),
		Retained:   msg.Retained(),
		ReceivedAt: m.now().UTC(),
	})
}

// Dispatch hands d to the handler registered for its exact topic. At most
// one handler runs per delivery.
func (m *Manager) Dispatch(d Delivery) bool {
	m.routesMu.RLock()
	var handler HandlerFunc
	for _, r := range m.routes {
		if r.topic == d.Topic {
			handler = r.handler
			break
		}
	}
	m.routesMu.RUnlock()

	if handler == nil {
		m.logger.Debug("No handler for topic", zap.String("topic", d.Topic))
		return false
	}

	handler(d)
	return true
}

// IsConnected reports the live transport state.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	return client != nil && client.IsConnected()
}

// Publish sends payload at QoS 1. Nothing is queued while disconnected: the
// message is logged and dropped and ErrNotConnected is returned.
func (m *Manager) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	if client == nil || !client.IsConnected() {
		m.logger.Warn("MQTT publish skipped: client not connected", zap.String("topic", topic))
		return ErrNotConnected
	}

	if err := waitToken(ctx, client.Publish(topic, qosAtLeastOnce, retain, payload)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (m *Manager) disconnect() {
	m.mu.Lock()
	client := m.client
	m.subscribed = false
	m.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return
	}

	client.Disconnect(disconnectQuiet)
	m.state.MarkDisconnected(m.now())
	m.logger.Info("MQTT disconnected")
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
