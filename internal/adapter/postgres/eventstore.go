package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/ReviewForge/internal/domain/event"
)

// EventStore implements eventstore.Store using PostgreSQL (append-only).
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts a new event into the task_events table.
func (s *EventStore) Append(ctx context.Context, ev *event.Event) error {
	payload := ev.Payload
	if len(payload) == 0 {
		payload = []byte("null")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO task_events (id, task_id, actor_id, event_type, payload, request_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.TaskID, ev.ActorID, string(ev.Type), []byte(payload), ev.RequestID, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// eventColumns is the SELECT column list for task_events queries.
const eventColumns = `id, task_id, actor_id, event_type, payload, request_id, created_at`

func scanEvent(scanner scannable, ev *event.Event) error {
	var (
		typ     string
		payload []byte
	)
	if err := scanner.Scan(&ev.ID, &ev.TaskID, &ev.ActorID, &typ, &payload, &ev.RequestID, &ev.CreatedAt); err != nil {
		return err
	}
	ev.Type = event.Type(typ)
	ev.Payload = payload
	return nil
}

// LoadByTask returns the events of a task in append order, narrowed by filter.
func (s *EventStore) LoadByTask(ctx context.Context, taskID string, filter event.Filter) ([]event.Event, error) {
	args := []any{taskID}
	conditions := []string{"task_id = $1"}
	argIdx := 2

	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		conditions = append(conditions, fmt.Sprintf("event_type = ANY($%d)", argIdx))
		args = append(args, types)
		argIdx++
	}
	if filter.After != nil {
		conditions = append(conditions, fmt.Sprintf("created_at > $%d", argIdx))
		args = append(args, *filter.After)
		argIdx++
	}
	if filter.Before != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argIdx))
		args = append(args, *filter.Before)
		argIdx++
	}

	q := fmt.Sprintf(`SELECT %s FROM task_events WHERE %s ORDER BY seq ASC`, eventColumns, strings.Join(conditions, " AND "))
	if filter.Limit > 0 {
		q += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("load events by task %s: %w", taskID, err)
	}
	defer rows.Close()

	events := make([]event.Event, 0)
	for rows.Next() {
		var ev event.Event
		if err := scanEvent(rows, &ev); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
