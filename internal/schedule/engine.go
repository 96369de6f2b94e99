package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenWateringCore/internal/metrics"
	"github.com/KevinKickass/OpenWateringCore/internal/pump"
	"github.com/KevinKickass/OpenWateringCore/internal/storage"
	"github.com/KevinKickass/OpenWateringCore/internal/types"
	"go.uber.org/zap"
)

type Repository interface {
	ListSchedules(ctx context.Context) ([]storage.Schedule, error)
	UpdateLastRunDate(ctx context.Context, id int64, date string) error
	AddRunHistory(ctx context.Context, e storage.RunHistoryEntry) (int64, error)
}

type Starter interface {
	StartScheduled(ctx context.Context, runSeconds int) types.CommandResult
}

type AlarmRaiser interface {
	Raise(ctx context.Context, alarmType, severity, message string) error
}

// blockedAlarms maps a blocked scheduled start to the alarm it raises.
var blockedAlarms = map[string]struct{ alarmType, message string }{
	pump.ReasonLevelEmpty:       {pump.AlarmLowWater, "Pump run blocked due to low water level"},
	pump.ReasonLevelStale:       {pump.AlarmLevelUnknown, "Pump run blocked due to stale water level data"},
	pump.ReasonLevelUnknown:     {pump.AlarmLevelUnknown, "Pump run blocked due to unknown water level"},
	pump.ReasonMQTTDisconnected: {pump.AlarmMQTTDisconnected, "Pump run blocked due to MQTT disconnect"},
}

// Engine fires due schedules. Each schedule gets at most one attempt per
// UTC calendar day whatever the outcome.
type Engine struct {
	repo     Repository
	starter  Starter
	alarms   AlarmRaiser
	interval time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewEngine(repo Repository, starter Starter, alarms AlarmRaiser, interval time.Duration, logger *zap.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		repo:     repo,
		starter:  starter,
		alarms:   alarms,
		interval: interval,
		logger:   logger.Named("schedule"),
		metrics:  m,
		now:      time.Now,
	}
}

// Run evaluates schedules every interval until ctx is cancelled. The first
// evaluation happens after one interval.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("Schedule engine started", zap.Duration("interval", e.interval))

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Schedule engine stopped")
			return
		case <-ticker.C:
			if err := e.Evaluate(ctx, e.now()); err != nil {
				e.logger.Error("Schedule evaluation failed", zap.Error(err))
			}
		}
	}
}

// Evaluate runs one tick at now.
func (e *Engine) Evaluate(ctx context.Context, now time.Time) error {
	now = now.UTC()

	schedules, err := e.repo.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}

	e.logger.Debug("Schedule tick", zap.Time("now", now), zap.Int("schedules", len(schedules)))

	for _, s := range schedules {
		if !s.Enabled {
			continue
		}

		due, err := IsDue(s, now, e.interval)
		if err != nil {
			e.logger.Warn("Invalid schedule time",
				zap.Int64("schedule_id", s.ID),
				zap.String("start_time_utc", s.StartTimeUTC))
			continue
		}
		if !due {
			continue
		}

		e.fire(ctx, s, now)
	}
	return nil
}

func (e *Engine) fire(ctx context.Context, s storage.Schedule, now time.Time) {
	e.logger.Info("Schedule due",
		zap.Int64("schedule_id", s.ID),
		zap.String("start_time_utc", s.StartTimeUTC),
		zap.Int("run_seconds", s.RunSeconds))

	result := e.starter.StartScheduled(ctx, s.RunSeconds)
	e.metrics.ScheduleRun(result.Success)

	reason := result.Reason
	if reason == "" {
		reason = pump.ReasonSchedule
	}

	e.logger.Info("Schedule result",
		zap.Int64("schedule_id", s.ID),
		zap.Bool("success", result.Success),
		zap.String("reason", reason),
		zap.String("request_id", result.RequestID))

	id := s.ID
	if _, err := e.repo.AddRunHistory(ctx, storage.RunHistoryEntry{
		ScheduleID:  &id,
		RequestedAt: now,
		RunSeconds:  s.RunSeconds,
		Allowed:     result.Success,
		Reason:      reason,
	}); err != nil {
		e.logger.Error("Failed to record run history", zap.Int64("schedule_id", s.ID), zap.Error(err))
	}

	if err := e.repo.UpdateLastRunDate(ctx, s.ID, now.Format(dateLayout)); err != nil {
		e.logger.Error("Failed to update last run date", zap.Int64("schedule_id", s.ID), zap.Error(err))
	}

	if result.Success {
		return
	}

	if alarm, ok := blockedAlarms[reason]; ok {
		if err := e.alarms.Raise(ctx, alarm.alarmType, pump.SeverityWarning, alarm.message); err != nil {
			e.logger.Warn("Alarm not published", zap.String("type", alarm.alarmType), zap.Error(err))
		}
	}
}
