package pump

// Reason codes carried in command results, run history and published
// commands.
const (
	ReasonManual           = "manual"
	ReasonManualStop       = "manual_stop"
	ReasonSchedule         = "schedule"
	ReasonInvalidDuration  = "invalid_duration"
	ReasonMQTTDisconnected = "mqtt_disconnected"
	ReasonPublishFailed    = "publish_failed"

	ReasonLevelOK      = "ok"
	ReasonLevelUnknown = "level_unknown"
	ReasonLevelStale   = "level_stale"
	ReasonLevelEmpty   = "level_empty"

	safetyStopPrefix = "safety_stop:"
)

// Alarm types and the severity the core raises them with.
const (
	AlarmLowWater         = "LOW_WATER"
	AlarmLevelUnknown     = "LEVEL_UNKNOWN"
	AlarmMQTTDisconnected = "MQTT_DISCONNECTED"

	SeverityWarning = "warning"
)

func SafetyStopReason(cause string) string {
	return safetyStopPrefix + cause
}
