package storage

import (
	"context"
	"fmt"
)

func (p *PostgresClient) AddAlarm(ctx context.Context, a AlarmRecord) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO alarms (type, severity, message, raised_at_utc, received_at_utc)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, a.Type, a.Severity, a.Message, a.RaisedAt.UTC(), a.ReceivedAt.UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert alarm: %w", err)
	}
	return id, nil
}

func (p *PostgresClient) RecentAlarms(ctx context.Context, limit int) ([]AlarmRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, type, severity, message, raised_at_utc, received_at_utc
		FROM alarms
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alarms: %w", err)
	}
	defer rows.Close()

	alarms := make([]AlarmRecord, 0, limit)
	for rows.Next() {
		var a AlarmRecord
		if err := rows.Scan(&a.ID, &a.Type, &a.Severity, &a.Message, &a.RaisedAt, &a.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alarm: %w", err)
		}
		a.RaisedAt = a.RaisedAt.UTC()
		a.ReceivedAt = a.ReceivedAt.UTC()
		alarms = append(alarms, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alarms: %w", err)
	}

	return alarms, nil
}
