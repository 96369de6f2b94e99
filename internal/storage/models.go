package storage

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type Schedule struct {
	ID             int64   `json:"id"`
	Enabled        bool    `json:"enabled"`
	StartTimeUTC   string  `json:"startTimeUtc"`
	RunSeconds     int     `json:"runSeconds"`
	DaysOfWeek     *string `json:"daysOfWeek"`
	LastRunDateUTC *string `json:"lastRunDateUtc"`
}

// RunHistoryEntry records one scheduled or manual start attempt.
// ScheduleID is nil for manual requests.
type RunHistoryEntry struct {
	ID          int64     `json:"id"`
	ScheduleID  *int64    `json:"scheduleId"`
	RequestedAt time.Time `json:"requestedAtUtc"`
	RunSeconds  int       `json:"runSeconds"`
	Allowed     bool      `json:"allowed"`
	Reason      string    `json:"reason"`
}

type AlarmRecord struct {
	ID         int64     `json:"id"`
	Type       string    `json:"type"`
	Severity   string    `json:"severity"`
	Message    string    `json:"message"`
	RaisedAt   time.Time `json:"raisedAtUtc"`
	ReceivedAt time.Time `json:"receivedAtUtc"`
}
