//go:build integration

package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/KevinKickass/OpenWateringCore/internal/config"
)

// Run with a scratch database:
//
//	OWC_DATABASE_HOST=localhost OWC_DATABASE_PASSWORD=... go test -tags integration ./internal/storage
//
// The tables are truncated before each test.
func newTestClient(t *testing.T) *PostgresClient {
	t.Helper()

	if os.Getenv("OWC_DATABASE_HOST") == "" {
		t.Skip("OWC_DATABASE_HOST not set")
	}

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}

	p, err := NewPostgresClient(cfg.Database)
	if err != nil {
		t.Fatalf("NewPostgresClient: %v", err)
	}
	t.Cleanup(p.Close)

	ctx := context.Background()
	if err := p.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	// twice: the schema bootstrap runs on every start
	if err := p.EnsureSchema(ctx); err != nil {
		t.Fatalf("second EnsureSchema: %v", err)
	}

	if _, err := p.pool.Exec(ctx, `TRUNCATE schedules, run_history, alarms RESTART IDENTITY`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return p
}

func strPtr(s string) *string { return &s }

func TestScheduleRoundTrip(t *testing.T) {
	p := newTestClient(t)
	ctx := context.Background()

	id, err := p.AddSchedule(ctx, Schedule{Enabled: true, StartTimeUTC: "07:00", RunSeconds: 30, DaysOfWeek: strPtr("Mon,Wed")})
	if err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}

	if err := p.UpdateLastRunDate(ctx, id, "2026-02-02"); err != nil {
		t.Fatalf("UpdateLastRunDate: %v", err)
	}

	got, err := p.GetSchedule(ctx, id)
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if got.StartTimeUTC != "07:00" || got.RunSeconds != 30 || got.DaysOfWeek == nil || *got.DaysOfWeek != "Mon,Wed" {
		t.Errorf("schedule = %+v", got)
	}
	if got.LastRunDateUTC == nil || *got.LastRunDateUTC != "2026-02-02" {
		t.Errorf("last run date = %v", got.LastRunDateUTC)
	}

	got.StartTimeUTC = "08:30"
	got.DaysOfWeek = nil
	ok, err := p.UpdateSchedule(ctx, *got)
	if err != nil || !ok {
		t.Fatalf("UpdateSchedule = %v, %v", ok, err)
	}

	got, _ = p.GetSchedule(ctx, id)
	if got.StartTimeUTC != "08:30" || got.DaysOfWeek != nil {
		t.Errorf("updated schedule = %+v", got)
	}
	if got.LastRunDateUTC == nil {
		t.Error("UpdateSchedule must leave the last run date alone")
	}

	if err := p.ClearLastRunDate(ctx, id); err != nil {
		t.Fatalf("ClearLastRunDate: %v", err)
	}
	got, _ = p.GetSchedule(ctx, id)
	if got.LastRunDateUTC != nil {
		t.Errorf("last run date after clear = %q", *got.LastRunDateUTC)
	}

	list, err := p.ListSchedules(ctx)
	if err != nil || len(list) != 1 || list[0].ID != id {
		t.Fatalf("ListSchedules = %+v, %v", list, err)
	}

	ok, err = p.DeleteSchedule(ctx, id)
	if err != nil || !ok {
		t.Fatalf("DeleteSchedule = %v, %v", ok, err)
	}
}

func TestScheduleNotFound(t *testing.T) {
	p := newTestClient(t)
	ctx := context.Background()

	if _, err := p.GetSchedule(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSchedule error = %v, want ErrNotFound", err)
	}
	if ok, err := p.UpdateSchedule(ctx, Schedule{ID: 999, StartTimeUTC: "07:00", RunSeconds: 10}); err != nil || ok {
		t.Errorf("UpdateSchedule = %v, %v", ok, err)
	}
	if ok, err := p.DeleteSchedule(ctx, 999); err != nil || ok {
		t.Errorf("DeleteSchedule = %v, %v", ok, err)
	}
}

func TestScheduleRejectsNonPositiveRunSeconds(t *testing.T) {
	p := newTestClient(t)

	if _, err := p.AddSchedule(context.Background(), Schedule{StartTimeUTC: "07:00", RunSeconds: 0}); err == nil {
		t.Error("AddSchedule with run_seconds 0 should fail")
	}
}

func TestRecentRunHistoryNewestFirst(t *testing.T) {
	p := newTestClient(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 2, 7, 0, 0, 0, time.UTC)
	scheduleID := int64(3)
	for i := 0; i < 3; i++ {
		e := RunHistoryEntry{RequestedAt: base.Add(time.Duration(i) * time.Minute), RunSeconds: 30, Allowed: i != 1, Reason: "manual"}
		if i == 2 {
			e.ScheduleID = &scheduleID
			e.Reason = "schedule"
		}
		if _, err := p.AddRunHistory(ctx, e); err != nil {
			t.Fatalf("AddRunHistory: %v", err)
		}
	}

	got, err := p.RecentRunHistory(ctx, 2)
	if err != nil {
		t.Fatalf("RecentRunHistory: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("entries = %d, want 2", len(got))
	}
	if got[0].ScheduleID == nil || *got[0].ScheduleID != 3 || got[1].ScheduleID != nil || got[1].Allowed {
		t.Errorf("entries = %+v", got)
	}
	if !got[0].RequestedAt.Equal(base.Add(2*time.Minute)) || got[0].RequestedAt.Location() != time.UTC {
		t.Errorf("requested at = %v", got[0].RequestedAt)
	}
}

func TestRecentAlarmsNewestFirst(t *testing.T) {
	p := newTestClient(t)
	ctx := context.Background()

	raised := time.Date(2026, 2, 2, 7, 0, 0, 0, time.UTC)
	for _, typ := range []string{"LOW_WATER", "LEVEL_UNKNOWN"} {
		if _, err := p.AddAlarm(ctx, AlarmRecord{Type: typ, Severity: "warning", Message: "m", RaisedAt: raised, ReceivedAt: raised.Add(time.Second)}); err != nil {
			t.Fatalf("AddAlarm: %v", err)
		}
	}

	got, err := p.RecentAlarms(ctx, 10)
	if err != nil {
		t.Fatalf("RecentAlarms: %v", err)
	}
	if len(got) != 2 || got[0].Type != "LEVEL_UNKNOWN" || got[1].Type != "LOW_WATER" {
		t.Fatalf("alarms = %+v", got)
	}
	if !got[0].ReceivedAt.Equal(raised.Add(time.Second)) || got[0].RaisedAt.Location() != time.UTC {
		t.Errorf("alarm times = %+v", got[0])
	}
}
