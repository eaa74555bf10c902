package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/slotline/bookings-agent/internal/schedule"
	"github.com/slotline/bookings-agent/services/calendar/internal/domain"
)

type EventRepository interface {
	Create(ctx context.Context, req *domain.CreateEventRequest, start, end time.Time) (*domain.Event, error)
	Delete(ctx context.Context, id string) (bool, error)
	ListRange(ctx context.Context, from, to time.Time, limit int) ([]domain.Event, error)
	BusyRange(ctx context.Context, from, to time.Time) ([]schedule.Interval, error)
}

type eventRepository struct {
	pool *pgxpool.Pool
}

func NewEventRepository(pool *pgxpool.Pool) EventRepository {
	return &eventRepository{pool: pool}
}

// EnsureSchema creates the events table on startup when it is missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const q = `CREATE TABLE IF NOT EXISTS calendar_events (
		id          TEXT PRIMARY KEY,
		summary     TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		location    TEXT NOT NULL DEFAULT '',
		attendees   TEXT[] NOT NULL DEFAULT '{}',
		start_time  TIMESTAMPTZ NOT NULL,
		end_time    TIMESTAMPTZ NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS calendar_events_start_idx ON calendar_events (start_time);`

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := pool.Exec(ctx, q)
	return err
}

const eventCols = `id, summary, description, location, attendees, start_time, end_time, created_at`

func (r *eventRepository) Create(ctx context.Context, req *domain.CreateEventRequest, start, end time.Time) (*domain.Event, error) {
	const q = `INSERT INTO calendar_events (
		id, summary, description, location, attendees, start_time, end_time
	) VALUES ($1,$2,$3,$4,$5,$6,$7)
	RETURNING ` + eventCols

	id := uuid.NewString()
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var e domain.Event
	err := r.pool.QueryRow(ctx, q, id,
		req.Summary, req.Description, req.Location, req.Attendees,
		start, end,
	).Scan(
		&e.ID, &e.Summary, &e.Description, &e.Location, &e.Attendees,
		&e.StartTime, &e.EndTime, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *eventRepository) Delete(ctx context.Context, id string) (bool, error) {
	const q = `DELETE FROM calendar_events WHERE id = $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *eventRepository) ListRange(ctx context.Context, from, to time.Time, limit int) ([]domain.Event, error) {
	const q = `SELECT ` + eventCols + `
		FROM calendar_events
		WHERE start_time < $2 AND end_time > $1
		ORDER BY start_time
		LIMIT $3`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(
			&e.ID, &e.Summary, &e.Description, &e.Location, &e.Attendees,
			&e.StartTime, &e.EndTime, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// BusyRange returns the busy intervals overlapping the window, in
// chronological order, for the free-slot search.
func (r *eventRepository) BusyRange(ctx context.Context, from, to time.Time) ([]schedule.Interval, error) {
	const q = `SELECT start_time, end_time
		FROM calendar_events
		WHERE start_time < $2 AND end_time > $1
		ORDER BY start_time`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var busy []schedule.Interval
	for rows.Next() {
		var iv schedule.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		busy = append(busy, iv)
	}
	return busy, rows.Err()
}
