package state

import (
	"sync"
	"time"

	"github.com/KevinKickass/OpenWateringCore/internal/types"
)

// slot holds at most one value and replaces it wholesale on every update.
type slot[T any] struct {
	mu    sync.RWMutex
	value T
	set   bool
}

func (s *slot[T]) store(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
	s.set = true
}

func (s *slot[T]) load() (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, s.set
}

type WaterLevelSnapshot struct {
	Payload    types.WaterLevelPayload
	ReceivedAt time.Time
}

// Update returns the snapshot in its wire shape.
func (s WaterLevelSnapshot) Update() types.WaterLevelUpdate {
	return types.NewWaterLevelUpdate(s.Payload, s.ReceivedAt)
}

// Age is measured from receipt, not from the producer's timestamps.
func (s WaterLevelSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.ReceivedAt)
}

type WaterLevelStore struct {
	latest slot[WaterLevelSnapshot]
}

func NewWaterLevelStore() *WaterLevelStore {
	return &WaterLevelStore{}
}

func (s *WaterLevelStore) Update(payload types.WaterLevelPayload, receivedAt time.Time) WaterLevelSnapshot {
	snap := WaterLevelSnapshot{Payload: payload, ReceivedAt: receivedAt.UTC()}
	s.latest.store(snap)
	return snap
}

func (s *WaterLevelStore) GetLatest() (WaterLevelSnapshot, bool) {
	return s.latest.load()
}

type PumpStateSnapshot struct {
	Payload    types.PumpStatePayload
	ReceivedAt time.Time
}

func (s PumpStateSnapshot) Update() types.PumpStateUpdate {
	return types.NewPumpStateUpdate(s.Payload, s.ReceivedAt)
}

type PumpStateStore struct {
	latest slot[PumpStateSnapshot]
}

func NewPumpStateStore() *PumpStateStore {
	return &PumpStateStore{}
}

func (s *PumpStateStore) Update(payload types.PumpStatePayload, receivedAt time.Time) PumpStateSnapshot {
	snap := PumpStateSnapshot{Payload: payload, ReceivedAt: receivedAt.UTC()}
	s.latest.store(snap)
	return snap
}

func (s *PumpStateStore) GetLatest() (PumpStateSnapshot, bool) {
	return s.latest.load()
}
