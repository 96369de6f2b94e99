package websocket

import (
	"time"

	"github.com/KevinKickass/OpenWateringCore/internal/bus"
	"github.com/KevinKickass/OpenWateringCore/internal/types"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Telemetry
	MessageTypeWaterLevelUpdated MessageType = "water_level_updated"
	MessageTypePumpStateUpdated  MessageType = "pump_state_updated"
	MessageTypeAlarmRaised       MessageType = "alarm_raised"

	// Broker connection
	MessageTypeConnectionChanged MessageType = "connection_changed"

	MessageTypeSystemState MessageType = "system_state"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

func NewWaterLevelMessage(u types.WaterLevelUpdate) Message {
	return NewMessage(MessageTypeWaterLevelUpdated, u)
}

func NewPumpStateMessage(u types.PumpStateUpdate) Message {
	return NewMessage(MessageTypePumpStateUpdated, u)
}

func NewAlarmMessage(u types.SystemAlarmUpdate) Message {
	return NewMessage(MessageTypeAlarmRaised, u)
}

func NewConnectionMessage(s bus.ConnectionSnapshot) Message {
	return NewMessage(MessageTypeConnectionChanged, s)
}

func NewSystemStateMessage(s types.SystemStatePayload) Message {
	return NewMessage(MessageTypeSystemState, s)
}
