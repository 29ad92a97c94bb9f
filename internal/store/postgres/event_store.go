package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/stakepool/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. The events table
// is append-only; rows leave it only through DeleteBefore after archival.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventSelectCols = `id, type, account, asset, amount::text,
	principal_after::text, old_rate::text, new_rate::text, created_at`

func scanEventRows(rows pgx.Rows) ([]domain.Event, error) {
	var events []domain.Event
	for rows.Next() {
		var (
			ev               domain.Event
			evType, asset    string
			amount           string
			principalAfter   *string
			oldRate, newRate *string
		)
		if err := rows.Scan(
			&ev.ID, &evType, &ev.Account, &asset, &amount,
			&principalAfter, &oldRate, &newRate, &ev.CreatedAt,
		); err != nil {
			return nil, err
		}
		ev.Type = domain.EventType(evType)
		ev.Asset = domain.Asset(asset)

		var err error
		if ev.Amount, err = parseNumeric(amount); err != nil {
			return nil, err
		}
		if ev.PrincipalAfter, err = parseNullableNumeric(principalAfter); err != nil {
			return nil, err
		}
		if ev.OldRate, err = parseNullableNumeric(oldRate); err != nil {
			return nil, err
		}
		if ev.NewRate, err = parseNullableNumeric(newRate); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Insert appends a new event row.
func (s *EventStore) Insert(ctx context.Context, ev domain.Event) error {
	const query = `
		INSERT INTO events (
			id, type, account, asset, amount,
			principal_after, old_rate, new_rate, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9
		)`

	_, err := s.pool.Exec(ctx, query,
		ev.ID, string(ev.Type), ev.Account, string(ev.Asset), numericArg(ev.Amount),
		numericArg(ev.PrincipalAfter), numericArg(ev.OldRate), numericArg(ev.NewRate),
		ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert event %s: %w", ev.ID, err)
	}
	return nil
}

// List returns events newest first with pagination and optional time filtering.
func (s *EventStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	query, args := appendListOpts(
		`SELECT `+eventSelectCols+` FROM events WHERE 1=1`,
		nil, opts,
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events: %w", err)
	}
	return events, nil
}

// ListByAccount returns one account's events newest first with pagination and
// optional time filtering.
func (s *EventStore) ListByAccount(ctx context.Context, account string, opts domain.ListOpts) ([]domain.Event, error) {
	query, args := appendListOpts(
		`SELECT `+eventSelectCols+` FROM events WHERE account = $1`,
		[]any{account}, opts,
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events for %s: %w", account, err)
	}
	defer rows.Close()

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events for %s: %w", account, err)
	}
	return events, nil
}

// ListBefore returns events created strictly before the cutoff, oldest first,
// capped at limit when limit > 0.
func (s *EventStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Event, error) {
	query := `SELECT ` + eventSelectCols + ` FROM events
		WHERE created_at < $1 ORDER BY created_at ASC`
	args := []any{cutoff}

	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	defer rows.Close()

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events before cutoff: %w", err)
	}
	return events, nil
}

// DeleteBefore removes events created strictly before the cutoff and returns
// the number of rows deleted.
func (s *EventStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete events before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// Count returns the number of event rows.
func (s *EventStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count events: %w", err)
	}
	return n, nil
}
