package types

import "time"

// WaterLevelPayload is the validated body of the waterlevel/state topic.
type WaterLevelPayload struct {
	LevelPercent int       `json:"levelPercent"`
	Sensors      [4]bool   `json:"sensors"`
	MeasuredAt   time.Time `json:"measuredAt"`
	ReportedAt   time.Time `json:"reportedAt"`
}

// PumpStatePayload is the validated body of the pump/state topic.
type PumpStatePayload struct {
	Running        bool       `json:"running"`
	Since          *time.Time `json:"since"`
	LastRunSeconds int        `json:"lastRunSeconds"`
	LastRequestID  *string    `json:"lastRequestId"`
	ReportedAt     time.Time  `json:"reportedAt"`
}

// SystemAlarmPayload is both the inbound system/alarm body and the body of
// alarms this service raises itself.
type SystemAlarmPayload struct {
	Type     string    `json:"type"`
	Severity string    `json:"severity"`
	Message  string    `json:"message"`
	RaisedAt time.Time `json:"raisedAt"`
}

type WaterLevelUpdate struct {
	LevelPercent int       `json:"levelPercent"`
	Sensors      [4]bool   `json:"sensors"`
	MeasuredAt   time.Time `json:"measuredAt"`
	ReportedAt   time.Time `json:"reportedAt"`
	ReceivedAt   time.Time `json:"receivedAt"`
}

type PumpStateUpdate struct {
	Running        bool       `json:"running"`
	Since          *time.Time `json:"since"`
	LastRunSeconds int        `json:"lastRunSeconds"`
	LastRequestID  *string    `json:"lastRequestId"`
	ReportedAt     time.Time  `json:"reportedAt"`
	ReceivedAt     time.Time  `json:"receivedAt"`
}

type SystemAlarmUpdate struct {
	Type       string    `json:"type"`
	Severity   string    `json:"severity"`
	Message    string    `json:"message"`
	RaisedAt   time.Time `json:"raisedAt"`
	ReceivedAt time.Time `json:"receivedAt"`
}

func NewWaterLevelUpdate(p WaterLevelPayload, receivedAt time.Time) WaterLevelUpdate {
	return WaterLevelUpdate{
		LevelPercent: p.LevelPercent,
		Sensors:      p.Sensors,
		MeasuredAt:   p.MeasuredAt,
		ReportedAt:   p.ReportedAt,
		ReceivedAt:   receivedAt,
	}
}

func NewPumpStateUpdate(p PumpStatePayload, receivedAt time.Time) PumpStateUpdate {
	return PumpStateUpdate{
		Running:        p.Running,
		Since:          p.Since,
		LastRunSeconds: p.LastRunSeconds,
		LastRequestID:  p.LastRequestID,
		ReportedAt:     p.ReportedAt,
		ReceivedAt:     receivedAt,
	}
}

func NewSystemAlarmUpdate(p SystemAlarmPayload, receivedAt time.Time) SystemAlarmUpdate {
	return SystemAlarmUpdate{
		Type:       p.Type,
		Severity:   p.Severity,
		Message:    p.Message,
		RaisedAt:   p.RaisedAt,
		ReceivedAt: receivedAt,
	}
}

// SystemStatePayload is published retained on system/state.
type SystemStatePayload struct {
	PumpRunning       bool       `json:"pumpRunning"`
	WaterLevelPercent *int       `json:"waterLevelPercent"`
	SafeToRun         bool       `json:"safeToRun"`
	NextScheduledRun  *time.Time `json:"nextScheduledRun"`
	LastRun           *time.Time `json:"lastRun"`
	EvaluatedAt       time.Time  `json:"evaluatedAt"`
}
