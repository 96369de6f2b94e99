package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenWateringCore/internal/bus"
	"github.com/KevinKickass/OpenWateringCore/internal/pump"
	"github.com/KevinKickass/OpenWateringCore/internal/schedule"
	"github.com/KevinKickass/OpenWateringCore/internal/state"
	"github.com/KevinKickass/OpenWateringCore/internal/storage"
	"github.com/KevinKickass/OpenWateringCore/internal/types"
	"go.uber.org/zap"
)

// how far back to look for the last allowed run
const historyWindow = 20

type Repository interface {
	ListSchedules(ctx context.Context) ([]storage.Schedule, error)
	RecentRunHistory(ctx context.Context, limit int) ([]storage.RunHistoryEntry, error)
}

type LevelEvaluator interface {
	EvaluateWaterLevel(now time.Time) pump.SafetyDecision
}

type Broadcaster interface {
	SystemStateUpdated(s types.SystemStatePayload)
}

// Reporter publishes a retained summary of the controller on system/state.
type Reporter struct {
	publisher   pump.Publisher
	topics      bus.Topics
	pumpStates  *state.PumpStateStore
	waterLevels *state.WaterLevelStore
	evaluator   LevelEvaluator
	repo        Repository
	broadcaster Broadcaster
	interval    time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

func NewReporter(
	publisher pump.Publisher,
	topics bus.Topics,
	pumpStates *state.PumpStateStore,
	waterLevels *state.WaterLevelStore,
	evaluator LevelEvaluator,
	repo Repository,
	broadcaster Broadcaster,
	interval time.Duration,
	logger *zap.Logger,
) *Reporter {
	return &Reporter{
		publisher:   publisher,
		topics:      topics,
		pumpStates:  pumpStates,
		waterLevels: waterLevels,
		evaluator:   evaluator,
		repo:        repo,
		broadcaster: broadcaster,
		interval:    interval,
		logger:      logger.Named("status"),
		now:         time.Now,
	}
}

// Run publishes every interval until ctx is cancelled. A zero interval
// disables the reporter.
func (r *Reporter) Run(ctx context.Context) {
	if r.interval <= 0 {
		r.logger.Info("System state reporter disabled")
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Publish(ctx, r.now()); err != nil && !errors.Is(err, bus.ErrNotConnected) {
				r.logger.Warn("System state not published", zap.Error(err))
			}
		}
	}
}

// Snapshot evaluates the current system state at now.
func (r *Reporter) Snapshot(ctx context.Context, now time.Time) (types.SystemStatePayload, error) {
	now = now.UTC()
	s := types.SystemStatePayload{EvaluatedAt: now}

	if snap, ok := r.pumpStates.GetLatest(); ok {
		s.PumpRunning = snap.Payload.Running
	}
	if snap, ok := r.waterLevels.GetLatest(); ok {
		level := snap.Payload.LevelPercent
		s.WaterLevelPercent = &level
	}
	s.SafeToRun = r.evaluator.EvaluateWaterLevel(now).Safe

	schedules, err := r.repo.ListSchedules(ctx)
	if err != nil {
		return s, fmt.Errorf("failed to load schedules: %w", err)
	}
	if next, ok := schedule.NextRun(schedules, now); ok {
		s.NextScheduledRun = &next
	}

	history, err := r.repo.RecentRunHistory(ctx, historyWindow)
	if err != nil {
		return s, fmt.Errorf("failed to load run history: %w", err)
	}
	for _, h := range history {
		if h.Allowed {
			at := h.RequestedAt.UTC()
			s.LastRun = &at
			break
		}
	}

	return s, nil
}

// Publish evaluates the state, broadcasts it locally and publishes it
// retained. The broadcast happens even when the broker is unreachable.
func (r *Reporter) Publish(ctx context.Context, now time.Time) error {
	s, err := r.Snapshot(ctx, now)
	if err != nil {
		return err
	}

	if r.broadcaster != nil {
		r.broadcaster.SystemStateUpdated(s)
	}

	if !r.publisher.IsConnected() {
		return bus.ErrNotConnected
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode system state: %w", err)
	}
	return r.publisher.Publish(ctx, r.topics.SystemState, data, true)
}
