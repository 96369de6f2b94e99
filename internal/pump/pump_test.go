package pump

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenWateringCore/internal/bus"
	"github.com/KevinKickass/OpenWateringCore/internal/config"
	"github.com/KevinKickass/OpenWateringCore/internal/state"
	"github.com/KevinKickass/OpenWateringCore/internal/types"
	"go.uber.org/zap"
)

type published struct {
	topic   string
	payload []byte
	retain  bool
}

type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	err       error
	sent      []published
}

func (p *fakePublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload []byte, retain bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{topic: topic, payload: payload, retain: retain})
	return nil
}

var now = time.Date(2026, 2, 2, 7, 0, 30, 0, time.UTC)

func newTestService(pub *fakePublisher, levels *state.WaterLevelStore) *Service {
	return NewService(pub, bus.NewTopics("home/veranda"), levels, 10*time.Minute,
		zap.NewNop(), nil,
		WithClock(func() time.Time { return now }),
		WithIDGenerator(func() string { return "req-1" }))
}

func levelStore(percent int, receivedAt time.Time) *state.WaterLevelStore {
	s := state.NewWaterLevelStore()
	s.Update(types.WaterLevelPayload{LevelPercent: percent}, receivedAt)
	return s
}

func TestStartManualWithoutWaterLevel(t *testing.T) {
	pub := &fakePublisher{connected: true}
	svc := newTestService(pub, state.NewWaterLevelStore())

	res := svc.StartManual(context.Background(), 60)

	if res.Success || res.Reason != ReasonLevelUnknown {
		t.Fatalf("result = %+v, want blocked level_unknown", res)
	}
	if res.Error != "Water level is unknown." {
		t.Errorf("Error = %q", res.Error)
	}
	if res.RequestID != "" {
		t.Errorf("blocked result carries request id %q", res.RequestID)
	}
	if len(pub.sent) != 0 {
		t.Errorf("published %d messages, want 0", len(pub.sent))
	}
}

func TestStartManualPublishesOneCommand(t *testing.T) {
	pub := &fakePublisher{connected: true}
	svc := newTestService(pub, levelStore(50, now.Add(-time.Minute)))

	res := svc.StartManual(context.Background(), 120)

	if !res.Success || res.Reason != ReasonManual || res.RequestID != "req-1" {
		t.Fatalf("result = %+v", res)
	}
	if len(pub.sent) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.sent))
	}

	msg := pub.sent[0]
	if msg.topic != "home/veranda/WateringController/pump/cmd" || msg.retain {
		t.Errorf("published to %q retain=%v", msg.topic, msg.retain)
	}

	var cmd map[string]interface{}
	if err := json.Unmarshal(msg.payload, &cmd); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if cmd["action"] != "start" || cmd["runSeconds"] != float64(120) ||
		cmd["requestId"] != "req-1" || cmd["reason"] != "manual" {
		t.Errorf("command = %v", cmd)
	}
	if cmd["issuedAt"] != "2026-02-02T07:00:30Z" {
		t.Errorf("issuedAt = %v", cmd["issuedAt"])
	}
}

func TestStartGateOrder(t *testing.T) {
	tests := []struct {
		name       string
		connected  bool
		levels     *state.WaterLevelStore
		runSeconds int
		reason     string
		message    string
	}{
		{"zero duration wins over everything", false, state.NewWaterLevelStore(), 0, ReasonInvalidDuration, "Run duration must be greater than zero."},
		{"negative duration", true, levelStore(50, now), -5, ReasonInvalidDuration, "Run duration must be greater than zero."},
		{"disconnected before level", false, state.NewWaterLevelStore(), 30, ReasonMQTTDisconnected, "MQTT is disconnected."},
		{"stale", true, levelStore(50, now.Add(-11*time.Minute)), 30, ReasonLevelStale, "Water level data is stale."},
		{"stale beats empty", true, levelStore(0, now.Add(-11*time.Minute)), 30, ReasonLevelStale, "Water level data is stale."},
		{"empty", true, levelStore(0, now), 30, ReasonLevelEmpty, "Water level is empty."},
		{"exactly at threshold is fresh", true, levelStore(1, now.Add(-10*time.Minute)), 30, ReasonSchedule, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{connected: tt.connected}
			svc := newTestService(pub, tt.levels)

			res := svc.StartScheduled(context.Background(), tt.runSeconds)
			if res.Reason != tt.reason {
				t.Fatalf("Reason = %q, want %q", res.Reason, tt.reason)
			}
			if res.Error != tt.message {
				t.Errorf("Error = %q, want %q", res.Error, tt.message)
			}
			if res.Success != (tt.message == "") {
				t.Errorf("Success = %v", res.Success)
			}
		})
	}
}

func TestStopBypassesWaterLevel(t *testing.T) {
	pub := &fakePublisher{connected: true}
	svc := newTestService(pub, state.NewWaterLevelStore())

	res := svc.StopManual(context.Background())
	if !res.Success || res.Reason != ReasonManualStop {
		t.Fatalf("result = %+v", res)
	}

	var cmd map[string]interface{}
	if err := json.Unmarshal(pub.sent[0].payload, &cmd); err != nil {
		t.Fatal(err)
	}
	if _, ok := cmd["runSeconds"]; ok {
		t.Errorf("stop command carries runSeconds: %v", cmd)
	}
}

func TestStopRequiresConnection(t *testing.T) {
	svc := newTestService(&fakePublisher{}, levelStore(50, now))

	res := svc.StopForSafety(context.Background(), ReasonLevelEmpty)
	if res.Success || res.Reason != ReasonMQTTDisconnected {
		t.Fatalf("result = %+v", res)
	}
}

func TestStopForSafetyTagsReason(t *testing.T) {
	pub := &fakePublisher{connected: true}
	svc := newTestService(pub, levelStore(0, now))

	res := svc.StopForSafety(context.Background(), ReasonLevelEmpty)
	if !res.Success || res.Reason != "safety_stop:level_empty" {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(string(pub.sent[0].payload), `"reason":"safety_stop:level_empty"`) {
		t.Errorf("payload = %s", pub.sent[0].payload)
	}
}

func TestPublishFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason string
	}{
		{"dropped while disconnected", bus.ErrNotConnected, ReasonMQTTDisconnected},
		{"broker error", errors.New("timeout"), ReasonPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{connected: true, err: tt.err}
			svc := newTestService(pub, levelStore(50, now))

			res := svc.StartManual(context.Background(), 10)
			if res.Success || res.Reason != tt.reason {
				t.Errorf("result = %+v, want reason %q", res, tt.reason)
			}
		})
	}
}

type alarmRecorder struct {
	alarms []types.SystemAlarmUpdate
}

func (r *alarmRecorder) AlarmRaised(u types.SystemAlarmUpdate) {
	r.alarms = append(r.alarms, u)
}

func TestRaiseRecordsPublishesAndNotifies(t *testing.T) {
	pub := &fakePublisher{connected: true}
	store := state.NewAlarmStore(config.AlarmsConfig{Capacity: 5}, nil, zap.NewNop(), nil)
	rec := &alarmRecorder{}

	alarms := NewAlarmService(pub, bus.NewTopics("home/veranda"), store, rec, zap.NewNop())
	alarms.SetClock(func() time.Time { return now })

	if err := alarms.Raise(context.Background(), AlarmLowWater, SeverityWarning, "Pump auto-stopped due to low water level"); err != nil {
		t.Fatalf("Raise() error = %v", err)
	}

	if len(pub.sent) != 1 || pub.sent[0].topic != "home/veranda/WateringController/system/alarm" || !pub.sent[0].retain {
		t.Fatalf("published = %+v", pub.sent)
	}
	if got := store.GetRecent(0); len(got) != 1 || got[0].Type != AlarmLowWater {
		t.Errorf("store = %+v", got)
	}
	if len(rec.alarms) != 1 {
		t.Errorf("notified %d times, want 1", len(rec.alarms))
	}
}

func TestRaiseKeepsAlarmWhenPublishFails(t *testing.T) {
	pub := &fakePublisher{err: bus.ErrNotConnected}
	store := state.NewAlarmStore(config.AlarmsConfig{Capacity: 5}, nil, zap.NewNop(), nil)

	alarms := NewAlarmService(pub, bus.NewTopics("x"), store, nil, zap.NewNop())
	if err := alarms.Raise(context.Background(), AlarmMQTTDisconnected, SeverityWarning, "m"); err == nil {
		t.Fatal("expected publish error")
	}
	if len(store.GetRecent(0)) != 1 {
		t.Error("alarm lost from the store")
	}
}
