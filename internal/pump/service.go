package pump

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/KevinKickass/OpenWateringCore/internal/bus"
	"github.com/KevinKickass/OpenWateringCore/internal/metrics"
	"github.com/KevinKickass/OpenWateringCore/internal/state"
	"github.com/KevinKickass/OpenWateringCore/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	msgInvalidDuration  = "Run duration must be greater than zero."
	msgMQTTDisconnected = "MQTT is disconnected."
	msgPublishFailed    = "Failed to publish pump command."
)

// Publisher is the part of the bus the pump layer needs.
type Publisher interface {
	IsConnected() bool
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error
}

// Service builds pump commands, gates starts on connectivity and water level,
// and publishes them non-retained on the command topic.
type Service struct {
	publisher   Publisher
	topics      bus.Topics
	waterLevels *state.WaterLevelStore
	staleAfter  time.Duration
	logger      *zap.Logger
	metrics     *metrics.Metrics

	now   func() time.Time
	newID func() string
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

func NewService(
	publisher Publisher,
	topics bus.Topics,
	waterLevels *state.WaterLevelStore,
	staleAfter time.Duration,
	logger *zap.Logger,
	m *metrics.Metrics,
	opts ...Option,
) *Service {
	s := &Service{
		publisher:   publisher,
		topics:      topics,
		waterLevels: waterLevels,
		staleAfter:  staleAfter,
		logger:      logger.Named("pump"),
		metrics:     m,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EvaluateWaterLevel reports whether a start would pass the water level gate
// at now.
func (s *Service) EvaluateWaterLevel(now time.Time) SafetyDecision {
	return EvaluateWaterLevel(s.waterLevels, now, s.staleAfter)
}

func (s *Service) StartManual(ctx context.Context, runSeconds int) types.CommandResult {
	return s.start(ctx, runSeconds, ReasonManual)
}

func (s *Service) StartScheduled(ctx context.Context, runSeconds int) types.CommandResult {
	return s.start(ctx, runSeconds, ReasonSchedule)
}

// StopManual never consults the water level.
func (s *Service) StopManual(ctx context.Context) types.CommandResult {
	return s.stop(ctx, ReasonManualStop)
}

// StopForSafety tags the stop with the unsafe cause, e.g.
// "safety_stop:level_empty".
func (s *Service) StopForSafety(ctx context.Context, cause string) types.CommandResult {
	return s.stop(ctx, SafetyStopReason(cause))
}

func (s *Service) start(ctx context.Context, runSeconds int, reason string) types.CommandResult {
	if runSeconds <= 0 {
		return s.blocked(types.PumpActionStart, ReasonInvalidDuration, msgInvalidDuration)
	}

	if !s.publisher.IsConnected() {
		return s.blocked(types.PumpActionStart, ReasonMQTTDisconnected, msgMQTTDisconnected)
	}

	now := s.now().UTC()
	if decision := s.EvaluateWaterLevel(now); !decision.Safe {
		return s.blocked(types.PumpActionStart, decision.Reason, decision.Message)
	}

	cmd := types.PumpCommand{
		Action:     types.PumpActionStart,
		RunSeconds: &runSeconds,
		RequestID:  s.newID(),
		Reason:     reason,
		IssuedAt:   now,
	}
	return s.send(ctx, cmd)
}

func (s *Service) stop(ctx context.Context, reason string) types.CommandResult {
	if !s.publisher.IsConnected() {
		return s.blocked(types.PumpActionStop, ReasonMQTTDisconnected, msgMQTTDisconnected)
	}

	cmd := types.PumpCommand{
		Action:    types.PumpActionStop,
		RequestID: s.newID(),
		Reason:    reason,
		IssuedAt:  s.now().UTC(),
	}
	return s.send(ctx, cmd)
}

func (s *Service) send(ctx context.Context, cmd types.PumpCommand) types.CommandResult {
	payload, err := json.Marshal(cmd)
	if err != nil {
		s.logger.Error("Failed to encode pump command", zap.Error(err))
		return s.blocked(cmd.Action, ReasonPublishFailed, msgPublishFailed)
	}

	if err := s.publisher.Publish(ctx, s.topics.PumpCommand, payload, false); err != nil {
		if errors.Is(err, bus.ErrNotConnected) {
			return s.blocked(cmd.Action, ReasonMQTTDisconnected, msgMQTTDisconnected)
		}
		s.logger.Error("Failed to publish pump command",
			zap.String("action", string(cmd.Action)),
			zap.String("request_id", cmd.RequestID),
			zap.Error(err))
		return s.blocked(cmd.Action, ReasonPublishFailed, msgPublishFailed)
	}

	s.metrics.PumpCommand(string(cmd.Action), cmd.Reason, true)
	s.logger.Info("Pump command published",
		zap.String("action", string(cmd.Action)),
		zap.String("reason", cmd.Reason),
		zap.String("request_id", cmd.RequestID))

	return types.CommandResult{
		Success:   true,
		RequestID: cmd.RequestID,
		Reason:    cmd.Reason,
	}
}

func (s *Service) blocked(action types.PumpAction, reason, message string) types.CommandResult {
	s.metrics.PumpCommand(string(action), reason, false)
	s.logger.Warn("Pump command blocked",
		zap.String("action", string(action)),
		zap.String("reason", reason))

	return types.CommandResult{Success: false, Error: message, Reason: reason}
}
