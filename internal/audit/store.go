package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
)

// PostgresStore persists audit records in the interview_events and
// cheaters tables created by the database migrations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) LogEvent(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev.EventData)
	if err != nil {
		return fmt.Errorf("encode event data: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		"INSERT INTO interview_events (user_id, event_type, event_data, created_at) VALUES ($1, $2, $3, $4)",
		ev.UserID, string(ev.EventType), data, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert interview event: %w", err)
	}
	return nil
}

func (s *PostgresStore) LogViolation(ctx context.Context, userID int, reason string) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO cheaters (user_id, reason) VALUES ($1, $2)",
		userID, reason,
	)
	if err != nil {
		return fmt.Errorf("insert cheater record: %w", err)
	}
	return nil
}

// EventsForUser returns a user's events, newest first.
func (s *PostgresStore) EventsForUser(ctx context.Context, userID int) ([]Event, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT user_id, event_type, event_data, created_at FROM interview_events WHERE user_id = $1 ORDER BY created_at DESC",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query interview events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var eventType string
		var data []byte
		if err := rows.Scan(&ev.UserID, &eventType, &data, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan interview event: %w", err)
		}
		ev.EventType = EventType(eventType)
		if len(data) > 0 {
			if err := json.Unmarshal(data, &ev.EventData); err != nil {
				return nil, fmt.Errorf("decode event data: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
