package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const scheduleColumns = `id, enabled, start_time_utc, run_seconds, days_of_week, last_run_date_utc`

func scanSchedule(row pgx.Row) (Schedule, error) {
	var s Schedule
	err := row.Scan(&s.ID, &s.Enabled, &s.StartTimeUTC, &s.RunSeconds, &s.DaysOfWeek, &s.LastRunDateUTC)
	return s, err
}

// ListSchedules returns all schedules ordered by id
func (p *PostgresClient) ListSchedules(ctx context.Context) ([]Schedule, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	schedules := make([]Schedule, 0)
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate schedules: %w", err)
	}

	return schedules, nil
}

func (p *PostgresClient) GetSchedule(ctx context.Context, id int64) (*Schedule, error) {
	s, err := scanSchedule(p.pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return &s, nil
}

func (p *PostgresClient) AddSchedule(ctx context.Context, s Schedule) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO schedules (enabled, start_time_utc, run_seconds, days_of_week, last_run_date_utc)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, s.Enabled, s.StartTimeUTC, s.RunSeconds, s.DaysOfWeek, s.LastRunDateUTC).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert schedule: %w", err)
	}
	return id, nil
}

// UpdateSchedule overwrites the editable fields. last_run_date_utc is left
// alone; callers clear it with ClearLastRunDate when the start time moves.
func (p *PostgresClient) UpdateSchedule(ctx context.Context, s Schedule) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE schedules
		SET enabled = $2, start_time_utc = $3, run_seconds = $4, days_of_week = $5
		WHERE id = $1
	`, s.ID, s.Enabled, s.StartTimeUTC, s.RunSeconds, s.DaysOfWeek)
	if err != nil {
		return false, fmt.Errorf("failed to update schedule: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *PostgresClient) UpdateLastRunDate(ctx context.Context, id int64, date string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE schedules SET last_run_date_utc = $2 WHERE id = $1`, id, date)
	if err != nil {
		return fmt.Errorf("failed to update last run date: %w", err)
	}
	return nil
}

func (p *PostgresClient) ClearLastRunDate(ctx context.Context, id int64) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE schedules SET last_run_date_utc = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to clear last run date: %w", err)
	}
	return nil
}

func (p *PostgresClient) DeleteSchedule(ctx context.Context, id int64) (bool, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete schedule: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
