package types

import "time"

type PumpAction string

const (
	PumpActionStart PumpAction = "start"
	PumpActionStop  PumpAction = "stop"
)

// PumpCommand is published non-retained on pump/cmd.
type PumpCommand struct {
	Action     PumpAction `json:"action"`
	RunSeconds *int       `json:"runSeconds,omitempty"`
	RequestID  string     `json:"requestId"`
	Reason     string     `json:"reason"`
	IssuedAt   time.Time  `json:"issuedAt"`
}

// CommandResult is returned by every pump operation. Blocked operations are
// results with Success=false, never errors.
type CommandResult struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}
