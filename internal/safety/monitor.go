package safety

import (
	"context"
	"sync"
	"time"

	"github.com/KevinKickass/OpenWateringCore/internal/metrics"
	"github.com/KevinKickass/OpenWateringCore/internal/pump"
	"github.com/KevinKickass/OpenWateringCore/internal/state"
	"github.com/KevinKickass/OpenWateringCore/internal/types"
	"go.uber.org/zap"
)

type Stopper interface {
	EvaluateWaterLevel(now time.Time) pump.SafetyDecision
	StopForSafety(ctx context.Context, cause string) types.CommandResult
}

type AlarmRaiser interface {
	Raise(ctx context.Context, alarmType, severity, message string) error
}

var stopAlarms = map[string]struct{ alarmType, message string }{
	pump.ReasonLevelEmpty:   {pump.AlarmLowWater, "Pump auto-stopped due to low water level"},
	pump.ReasonLevelStale:   {pump.AlarmLevelUnknown, "Pump auto-stopped due to stale water level data"},
	pump.ReasonLevelUnknown: {pump.AlarmLevelUnknown, "Pump auto-stopped due to unknown water level"},
}

// Monitor stops a running pump when the water level turns unsafe. One stop
// and one alarm are issued per contiguous unsafe episode; a failed stop is
// retried on the next tick.
type Monitor struct {
	pumpStates *state.PumpStateStore
	pump       Stopper
	alarms     AlarmRaiser
	interval   time.Duration
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	mu          sync.Mutex
	lastHandled string
}

func NewMonitor(pumpStates *state.PumpStateStore, stopper Stopper, alarms AlarmRaiser, interval time.Duration, logger *zap.Logger, m *metrics.Metrics) *Monitor {
	if interval < time.Second {
		interval = time.Second
	}
	return &Monitor{
		pumpStates: pumpStates,
		pump:       stopper,
		alarms:     alarms,
		interval:   interval,
		logger:     logger.Named("safety"),
		metrics:    m,
		now:        time.Now,
	}
}

func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("Safety monitor started", zap.Duration("interval", m.interval))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Safety monitor stopped")
			return
		case <-ticker.C:
			m.Evaluate(ctx, m.now())
		}
	}
}

// Evaluate runs one tick at now.
func (m *Monitor) Evaluate(ctx context.Context, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.pumpStates.GetLatest()
	if !ok || !snap.Payload.Running {
		m.lastHandled = ""
		return
	}

	decision := m.pump.EvaluateWaterLevel(now.UTC())
	if decision.Safe {
		m.lastHandled = ""
		return
	}

	if decision.Reason == m.lastHandled {
		return
	}

	result := m.pump.StopForSafety(ctx, decision.Reason)
	if !result.Success {
		m.logger.Warn("Automatic safety stop failed while pump running",
			zap.String("reason", decision.Reason),
			zap.String("error", result.Error))
		return
	}

	m.lastHandled = decision.Reason
	m.metrics.SafetyStop(decision.Reason)

	alarm := stopAlarms[decision.Reason]
	if err := m.alarms.Raise(ctx, alarm.alarmType, pump.SeverityWarning, alarm.message); err != nil {
		m.logger.Warn("Alarm not published", zap.String("type", alarm.alarmType), zap.Error(err))
	}

	m.logger.Warn("Automatic safety stop triggered",
		zap.String("reason", decision.Reason),
		zap.String("request_id", result.RequestID))
}

// LastHandled returns the unsafe reason of the current episode, or "" when
// the pump is idle or the level is safe.
func (m *Monitor) LastHandled() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHandled
}
