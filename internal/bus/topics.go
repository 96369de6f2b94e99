package bus

import "strings"

const baseSegment = "WateringController"

// Topics holds the fully qualified topic names for one site prefix.
type Topics struct {
	Base            string
	PumpCommand     string
	PumpState       string
	WaterLevelState string
	SystemAlarm     string
	SystemState     string
}

// NewTopics builds topic names below "{prefix}/WateringController". Leading
// and trailing slashes are ignored; an empty prefix yields the bare
// "WateringController" base.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")

	base := baseSegment
	if prefix != "" {
		base = prefix + "/" + baseSegment
	}

	return Topics{
		Base:            base,
		PumpCommand:     base + "/pump/cmd",
		PumpState:       base + "/pump/state",
		WaterLevelState: base + "/waterlevel/state",
		SystemAlarm:     base + "/system/alarm",
		SystemState:     base + "/system/state",
	}
}

// Inbound lists the subscribed topics.
func (t Topics) Inbound() []string {
	return []string{t.WaterLevelState, t.PumpState, t.SystemAlarm}
}
