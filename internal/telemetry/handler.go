package telemetry

import (
	"errors"

	"github.com/KevinKickass/OpenWateringCore/internal/bus"
	"github.com/KevinKickass/OpenWateringCore/internal/metrics"
	"github.com/KevinKickass/OpenWateringCore/internal/state"
	"github.com/KevinKickass/OpenWateringCore/internal/types"
	"go.uber.org/zap"
)

// Notifier receives one event per accepted payload.
type Notifier interface {
	WaterLevelUpdated(update types.WaterLevelUpdate)
	PumpStateUpdated(update types.PumpStateUpdate)
	AlarmRaised(update types.SystemAlarmUpdate)
}

// Notifiers fans an event out to several notifiers in order.
type Notifiers []Notifier

func (n Notifiers) WaterLevelUpdated(u types.WaterLevelUpdate) {
	for _, x := range n {
		x.WaterLevelUpdated(u)
	}
}

func (n Notifiers) PumpStateUpdated(u types.PumpStateUpdate) {
	for _, x := range n {
		x.PumpStateUpdated(u)
	}
}

func (n Notifiers) AlarmRaised(u types.SystemAlarmUpdate) {
	for _, x := range n {
		x.AlarmRaised(u)
	}
}

// Handler validates inbound deliveries and applies them to the stores.
// A rejected payload mutates nothing and notifies nobody.
type Handler struct {
	validator   *Validator
	waterLevels *state.WaterLevelStore
	pumpStates  *state.PumpStateStore
	alarms      *state.AlarmStore
	notifier    Notifier
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

func NewHandler(
	validator *Validator,
	waterLevels *state.WaterLevelStore,
	pumpStates *state.PumpStateStore,
	alarms *state.AlarmStore,
	notifier Notifier,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Handler {
	if notifier == nil {
		notifier = Notifiers(nil)
	}
	return &Handler{
		validator:   validator,
		waterLevels: waterLevels,
		pumpStates:  pumpStates,
		alarms:      alarms,
		notifier:    notifier,
		metrics:     m,
		logger:      logger.Named("telemetry"),
	}
}

// Register routes the three inbound topics to this handler.
func (h *Handler) Register(m *bus.Manager) {
	topics := m.Topics()
	m.Handle(topics.WaterLevelState, h.HandleWaterLevel)
	m.Handle(topics.PumpState, h.HandlePumpState)
	m.Handle(topics.SystemAlarm, h.HandleAlarm)
}

func (h *Handler) HandleWaterLevel(d bus.Delivery) {
	payload, err := h.validator.ValidateWaterLevel(d.Payload)
	if err != nil {
		h.rejected(KindWaterLevel, d, err)
		return
	}
	h.logRetained(KindWaterLevel, d)

	snap := h.waterLevels.Update(payload, d.ReceivedAt)
	h.notifier.WaterLevelUpdated(snap.Update())
}

func (h *Handler) HandlePumpState(d bus.Delivery) {
	payload, err := h.validator.ValidatePumpState(d.Payload)
	if err != nil {
		h.rejected(KindPumpState, d, err)
		return
	}
	h.logRetained(KindPumpState, d)

	snap := h.pumpStates.Update(payload, d.ReceivedAt)
	h.notifier.PumpStateUpdated(snap.Update())
}

func (h *Handler) HandleAlarm(d bus.Delivery) {
	payload, err := h.validator.ValidateAlarm(d.Payload)
	if err != nil {
		h.rejected(KindSystemAlarm, d, err)
		return
	}
	h.logRetained(KindSystemAlarm, d)

	update := types.NewSystemAlarmUpdate(payload, d.ReceivedAt.UTC())
	if !h.alarms.Add(update) {
		h.logger.Debug("Duplicate alarm ignored",
			zap.String("type", update.Type),
			zap.Time("raised_at", update.RaisedAt))
		return
	}
	h.notifier.AlarmRaised(update)
}

func (h *Handler) rejected(kind Kind, d bus.Delivery, err error) {
	h.metrics.PayloadRejected(string(kind))

	reason := err.Error()
	var ve *ValidationError
	if errors.As(err, &ve) {
		reason = ve.Reason
	}

	h.logger.Warn("Rejected MQTT payload",
		zap.String("kind", string(kind)),
		zap.String("topic", d.Topic),
		zap.Bool("retained", d.Retained),
		zap.String("reason", reason))
}

func (h *Handler) logRetained(kind Kind, d bus.Delivery) {
	if d.Retained {
		h.logger.Info("Accepted retained MQTT payload",
			zap.String("kind", string(kind)),
			zap.String("topic", d.Topic),
			zap.Bool("retained", true))
	}
}
