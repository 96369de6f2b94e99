package pump

import (
	"time"

	"github.com/KevinKickass/OpenWateringCore/internal/state"
)

// SafetyDecision is the outcome of the water level gate.
type SafetyDecision struct {
	Safe    bool
	Reason  string
	Message string
	Level   int
}

// EvaluateWaterLevel applies the gate shared by starts and the interlock:
// unknown, then stale, then empty, else safe.
func EvaluateWaterLevel(store *state.WaterLevelStore, now time.Time, staleAfter time.Duration) SafetyDecision {
	snap, ok := store.GetLatest()
	if !ok {
		return SafetyDecision{Reason: ReasonLevelUnknown, Message: "Water level is unknown."}
	}

	level := snap.Payload.LevelPercent

	if snap.Age(now) > staleAfter {
		return SafetyDecision{Reason: ReasonLevelStale, Message: "Water level data is stale.", Level: level}
	}

	if level <= 0 {
		return SafetyDecision{Reason: ReasonLevelEmpty, Message: "Water level is empty.", Level: level}
	}

	return SafetyDecision{Safe: true, Reason: ReasonLevelOK, Level: level}
}
