package state

import (
	"context"
	"sync"
	"time"

	"github.com/KevinKickass/OpenWateringCore/internal/config"
	"github.com/KevinKickass/OpenWateringCore/internal/metrics"
	"github.com/KevinKickass/OpenWateringCore/internal/storage"
	"github.com/KevinKickass/OpenWateringCore/internal/types"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	DefaultAlarmCapacity = 50

	persistTimeout = 5 * time.Second
	breakerName    = "alarm-persistence"
)

type AlarmRepository interface {
	AddAlarm(ctx context.Context, a storage.AlarmRecord) (int64, error)
}

// AlarmStore keeps the most recent alarms in memory, newest first, and
// writes each new alarm to the repository in the background. A failed write
// never touches the in-memory list.
type AlarmStore struct {
	mu       sync.RWMutex
	items    []types.SystemAlarmUpdate
	capacity int

	repo    AlarmRepository
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

// NewAlarmStore creates the store. repo may be nil to keep alarms in
// memory only.
func NewAlarmStore(cfg config.AlarmsConfig, repo AlarmRepository, logger *zap.Logger, m *metrics.Metrics) *AlarmStore {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultAlarmCapacity
	}

	failures := cfg.BreakerFailures
	if failures <= 0 {
		failures = 5
	}

	logger = logger.Named("alarms")

	s := &AlarmStore{
		items:    make([]types.SystemAlarmUpdate, 0, capacity),
		capacity: capacity,
		repo:     repo,
		logger:   logger,
		metrics:  m,
	}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    breakerName,
		Timeout: time.Duration(cfg.BreakerOpenSeconds) * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(failures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			m.SetBreakerState(name, int(to))
		},
	})

	return s
}

// Add inserts alarm at the front, evicting the oldest entry past capacity.
// An alarm already in the list with the same type, severity, message and
// raisedAt (our own retained publish coming back, or a retained redelivery
// after reconnect) is ignored and Add returns false.
func (s *AlarmStore) Add(alarm types.SystemAlarmUpdate) bool {
	s.mu.Lock()
	for _, existing := range s.items {
		if sameAlarm(existing, alarm) {
			s.mu.Unlock()
			return false
		}
	}
	s.items = append(s.items, types.SystemAlarmUpdate{})
	copy(s.items[1:], s.items)
	s.items[0] = alarm
	if len(s.items) > s.capacity {
		s.items = s.items[:s.capacity]
	}
	s.mu.Unlock()

	s.metrics.AlarmAdded(alarm.Type)

	if s.repo != nil {
		s.wg.Add(1)
		go s.persist(alarm)
	}
	return true
}

func sameAlarm(a, b types.SystemAlarmUpdate) bool {
	return a.Type == b.Type &&
		a.Severity == b.Severity &&
		a.Message == b.Message &&
		a.RaisedAt.Equal(b.RaisedAt)
}

func (s *AlarmStore) persist(alarm types.SystemAlarmUpdate) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	record := storage.AlarmRecord{
		Type:       alarm.Type,
		Severity:   alarm.Severity,
		Message:    alarm.Message,
		RaisedAt:   alarm.RaisedAt,
		ReceivedAt: alarm.ReceivedAt,
	}

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return s.repo.AddAlarm(ctx, record)
	})
	if err != nil {
		s.metrics.AlarmPersistFailed()
		s.logger.Error("Failed to persist alarm",
			zap.String("type", alarm.Type),
			zap.String("severity", alarm.Severity),
			zap.Time("raised_at", alarm.RaisedAt),
			zap.Error(err))
	}
}

// Seed replaces the in-memory list without persisting, used to restore
// alarms loaded from the database at startup. alarms must be newest first.
func (s *AlarmStore) Seed(alarms []types.SystemAlarmUpdate) {
	if len(alarms) > s.capacity {
		alarms = alarms[:s.capacity]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(make([]types.SystemAlarmUpdate, 0, s.capacity), alarms...)
}

// GetRecent returns up to limit alarms, newest first. limit <= 0 returns all.
func (s *AlarmStore) GetRecent(limit int) []types.SystemAlarmUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.items)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]types.SystemAlarmUpdate, n)
	copy(out, s.items[:n])
	return out
}

func (s *AlarmStore) Capacity() int {
	return s.capacity
}

// Wait blocks until background writes have finished.
func (s *AlarmStore) Wait() {
	s.wg.Wait()
}
