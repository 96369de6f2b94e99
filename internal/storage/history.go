package storage

import (
	"context"
	"fmt"
)

func (p *PostgresClient) AddRunHistory(ctx context.Context, e RunHistoryEntry) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO run_history (schedule_id, requested_at_utc, run_seconds, allowed, reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, e.ScheduleID, e.RequestedAt.UTC(), e.RunSeconds, e.Allowed, e.Reason).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert run history: %w", err)
	}
	return id, nil
}

// RecentRunHistory returns up to limit entries, newest first
func (p *PostgresClient) RecentRunHistory(ctx context.Context, limit int) ([]RunHistoryEntry, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, schedule_id, requested_at_utc, run_seconds, allowed, reason
		FROM run_history
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query run history: %w", err)
	}
	defer rows.Close()

	entries := make([]RunHistoryEntry, 0, limit)
	for rows.Next() {
		var e RunHistoryEntry
		if err := rows.Scan(&e.ID, &e.ScheduleID, &e.RequestedAt, &e.RunSeconds, &e.Allowed, &e.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan run history: %w", err)
		}
		e.RequestedAt = e.RequestedAt.UTC()
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate run history: %w", err)
	}

	return entries, nil
}
