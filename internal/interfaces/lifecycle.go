package interfaces

import (
	"context"
	"time"

	"github.com/KevinKickass/OpenWateringCore/internal/bus"
	"github.com/KevinKickass/OpenWateringCore/internal/config"
	"github.com/KevinKickass/OpenWateringCore/internal/state"
	"github.com/KevinKickass/OpenWateringCore/internal/storage"
	"github.com/KevinKickass/OpenWateringCore/internal/types"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State            string                 `json:"state"`
	StartedAt        *time.Time             `json:"startedAt,omitempty"`
	MQTT             bus.ConnectionSnapshot `json:"mqtt"`
	WebSocketClients int                    `json:"websocketClients"`
}

type ScheduleStore interface {
	ListSchedules(ctx context.Context) ([]storage.Schedule, error)
	GetSchedule(ctx context.Context, id int64) (*storage.Schedule, error)
	AddSchedule(ctx context.Context, s storage.Schedule) (int64, error)
	UpdateSchedule(ctx context.Context, s storage.Schedule) (bool, error)
	ClearLastRunDate(ctx context.Context, id int64) error
	DeleteSchedule(ctx context.Context, id int64) (bool, error)
}

type HistoryStore interface {
	AddRunHistory(ctx context.Context, e storage.RunHistoryEntry) (int64, error)
	RecentRunHistory(ctx context.Context, limit int) ([]storage.RunHistoryEntry, error)
}

type PumpController interface {
	StartManual(ctx context.Context, runSeconds int) types.CommandResult
	StopManual(ctx context.Context) types.CommandResult
}

type LifecycleManager interface {
	Config() *config.Config
	Schedules() ScheduleStore
	History() HistoryStore
	Pump() PumpController
	WaterLevels() *state.WaterLevelStore
	PumpStates() *state.PumpStateStore
	Alarms() *state.AlarmStore
	Connection() *bus.ConnectionState
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
