package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenWateringCore/internal/config"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, client *fakeClient) (*Manager, *ConnectionState, *manualClock) {
	t.Helper()

	cfg := config.MQTTConfig{
		Host:             "broker",
		Port:             1883,
		KeepAliveSeconds: 30,
		ReconnectSeconds: 5,
		TopicPrefix:      "home/veranda",
	}
	clock := &manualClock{now: time.Date(2026, 2, 2, 7, 0, 0, 0, time.UTC)}
	state := NewConnectionState()

	factory := func(opts *mqtt.ClientOptions) mqtt.Client {
		client.opts = opts
		return client
	}

	m := NewManager(cfg, NewTopics(cfg.TopicPrefix), state, zap.NewNop(),
		WithClientFactory(factory), WithClock(clock.Now))
	return m, state, clock
}

func TestStepConnectsAndSubscribesOnce(t *testing.T) {
	client := &fakeClient{}
	m, state, _ := newTestManager(t, client)
	ctx := context.Background()

	m.step(ctx)
	m.step(ctx)

	if client.connects != 1 {
		t.Fatalf("connects = %d, want 1", client.connects)
	}
	if len(client.subscribes) != 1 {
		t.Fatalf("subscribes = %d, want 1", len(client.subscribes))
	}

	filters := client.subscribes[0]
	for _, topic := range m.Topics().Inbound() {
		qos, ok := filters[topic]
		if !ok {
			t.Errorf("missing subscription for %s", topic)
		}
		if qos != 1 {
			t.Errorf("qos for %s = %d, want 1", topic, qos)
		}
	}

	if !state.Snapshot().IsConnected {
		t.Error("connection snapshot should report connected")
	}
	if client.opts.AutoReconnect {
		t.Error("paho auto reconnect must be disabled")
	}
}

func TestResubscribeAfterConnectionLost(t *testing.T) {
	client := &fakeClient{}
	m, state, _ := newTestManager(t, client)
	ctx := context.Background()

	m.step(ctx)
	client.drop()

	snap := state.Snapshot()
	if snap.IsConnected || snap.LastDisconnectedAt == nil {
		t.Fatalf("snapshot after drop = %+v", snap)
	}

	m.step(ctx)

	if client.connects != 2 {
		t.Errorf("connects = %d, want 2", client.connects)
	}
	if len(client.subscribes) != 2 {
		t.Errorf("subscribes = %d, want 2", len(client.subscribes))
	}
}

func TestConnectionLostDuringConnectStaysDisconnected(t *testing.T) {
	client := &fakeClient{dropOnConnect: true}
	m, state, _ := newTestManager(t, client)
	ctx := context.Background()

	m.step(ctx)

	snap := state.Snapshot()
	if snap.IsConnected || snap.LastConnectedAt != nil || snap.LastDisconnectedAt == nil {
		t.Fatalf("snapshot = %+v, want disconnected", snap)
	}
	if len(client.subscribes) != 0 {
		t.Errorf("subscribes = %d, want 0", len(client.subscribes))
	}

	client.mu.Lock()
	client.dropOnConnect = false
	client.mu.Unlock()
	m.step(ctx)

	if !state.Snapshot().IsConnected || len(client.subscribes) != 1 {
		t.Errorf("after reconnect: snapshot = %+v, subscribes = %d", state.Snapshot(), len(client.subscribes))
	}
}

func TestConnectFailureWaitsForReconnectDelay(t *testing.T) {
	client := &fakeClient{connectErr: errors.New("refused")}
	m, state, clock := newTestManager(t, client)
	ctx := context.Background()

	m.step(ctx)
	clock.Advance(4 * time.Second)
	m.step(ctx)

	if client.connects != 1 {
		t.Fatalf("connects = %d before delay elapsed, want 1", client.connects)
	}

	clock.Advance(time.Second)
	client.connectErr = nil
	m.step(ctx)

	if client.connects != 2 {
		t.Fatalf("connects = %d after delay, want 2", client.connects)
	}
	if !state.Snapshot().IsConnected {
		t.Error("expected connected after retry")
	}
}

func TestDispatchExactTopicFirstMatchWins(t *testing.T) {
	client := &fakeClient{}
	m, _, _ := newTestManager(t, client)
	topics := m.Topics()

	var first, second, pump int
	m.Handle(topics.WaterLevelState, func(Delivery) { first++ })
	m.Handle(topics.WaterLevelState, func(Delivery) { second++ })
	m.Handle(topics.PumpState, func(Delivery) { pump++ })

	m.step(context.Background())

	var got Delivery
	m.Handle(topics.SystemAlarm, func(d Delivery) { got = d })

	client.handler(client, fakeMessage{topic: topics.WaterLevelState, payload: []byte(`{}`)})
	client.handler(client, fakeMessage{topic: topics.SystemAlarm, payload: []byte(`{"a":1}`), retained: true})
	client.handler(client, fakeMessage{topic: topics.Base + "/unknown"})
	client.handler(client, fakeMessage{topic: topics.WaterLevelState + "/extra"})

	if first != 1 || second != 0 || pump != 0 {
		t.Errorf("handler calls first=%d second=%d pump=%d", first, second, pump)
	}
	if !got.Retained || string(got.Payload) != `{"a":1}` {
		t.Errorf("alarm delivery = %+v", got)
	}
	if got.ReceivedAt.IsZero() {
		t.Error("ReceivedAt not set")
	}
}

func TestPublishDropsWhenDisconnected(t *testing.T) {
	client := &fakeClient{}
	m, _, _ := newTestManager(t, client)
	ctx := context.Background()

	if err := m.Publish(ctx, "x", []byte("{}"), false); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Publish() before connect error = %v", err)
	}

	m.step(ctx)
	if err := m.Publish(ctx, m.Topics().PumpCommand, []byte(`{"action":"stop"}`), false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	client.drop()
	if err := m.Publish(ctx, m.Topics().PumpCommand, []byte(`{}`), false); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Publish() after drop error = %v", err)
	}

	if len(client.publishes) != 1 {
		t.Fatalf("publishes = %d, want 1", len(client.publishes))
	}
	p := client.publishes[0]
	if p.qos != 1 || p.retained {
		t.Errorf("publish qos=%d retained=%v", p.qos, p.retained)
	}
}

func TestRunDisconnectsOnCancel(t *testing.T) {
	client := &fakeClient{}
	m, state, _ := newTestManager(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !m.IsConnected() {
		if time.Now().After(deadline) {
			t.Fatal("manager never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if client.disconnect != 1 {
		t.Errorf("disconnect calls = %d, want 1", client.disconnect)
	}
	if state.Snapshot().IsConnected {
		t.Error("snapshot still connected after shutdown")
	}
}
