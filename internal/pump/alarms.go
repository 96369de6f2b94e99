package pump

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenWateringCore/internal/bus"
	"github.com/KevinKickass/OpenWateringCore/internal/state"
	"github.com/KevinKickass/OpenWateringCore/internal/types"
	"go.uber.org/zap"
)

// AlarmNotifier receives alarms the core raised itself.
type AlarmNotifier interface {
	AlarmRaised(update types.SystemAlarmUpdate)
}

// AlarmService raises alarms: a retained publish on system/alarm plus a
// local entry in the alarm store, so live views see it even while the
// broker is unreachable.
type AlarmService struct {
	publisher Publisher
	topics    bus.Topics
	store     *state.AlarmStore
	notifier  AlarmNotifier
	logger    *zap.Logger
	now       func() time.Time
}

func NewAlarmService(publisher Publisher, topics bus.Topics, store *state.AlarmStore, notifier AlarmNotifier, logger *zap.Logger) *AlarmService {
	return &AlarmService{
		publisher: publisher,
		topics:    topics,
		store:     store,
		notifier:  notifier,
		logger:    logger.Named("alarms"),
		now:       time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (a *AlarmService) SetClock(now func() time.Time) {
	a.now = now
}

// Raise records the alarm locally and publishes it. A publish failure is
// returned after the local record is made.
func (a *AlarmService) Raise(ctx context.Context, alarmType, severity, message string) error {
	now := a.now().UTC()
	payload := types.SystemAlarmPayload{
		Type:     alarmType,
		Severity: severity,
		Message:  message,
		RaisedAt: now,
	}

	update := types.NewSystemAlarmUpdate(payload, now)
	if a.store.Add(update) && a.notifier != nil {
		a.notifier.AlarmRaised(update)
	}

	a.logger.Warn("Alarm raised",
		zap.String("type", alarmType),
		zap.String("severity", severity),
		zap.String("message", message))

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode alarm: %w", err)
	}

	if err := a.publisher.Publish(ctx, a.topics.SystemAlarm, data, true); err != nil {
		a.logger.Warn("Failed to publish alarm", zap.String("type", alarmType), zap.Error(err))
		return fmt.Errorf("failed to publish alarm: %w", err)
	}
	return nil
}
