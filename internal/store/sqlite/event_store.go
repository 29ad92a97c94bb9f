package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alanyoungcy/stakepool/internal/domain"
)

// EventStore implements domain.EventStore on SQLite.
type EventStore struct {
	c *Client
}

// NewEventStore creates a new EventStore backed by the given client.
func NewEventStore(c *Client) *EventStore {
	return &EventStore{c: c}
}

const eventSelectCols = `id, type, account, asset, amount,
	principal_after, old_rate, new_rate, created_at`

func scanEventRows(rows *sql.Rows) ([]domain.Event, error) {
	var events []domain.Event
	for rows.Next() {
		var (
			ev               domain.Event
			evType, asset    string
			amount           string
			principalAfter   sql.NullString
			oldRate, newRate sql.NullString
			createdAt        int64
		)
		if err := rows.Scan(
			&ev.ID, &evType, &ev.Account, &asset, &amount,
			&principalAfter, &oldRate, &newRate, &createdAt,
		); err != nil {
			return nil, err
		}
		ev.Type = domain.EventType(evType)
		ev.Asset = domain.Asset(asset)
		ev.CreatedAt = time.Unix(createdAt, 0).UTC()

		var err error
		if ev.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		if ev.PrincipalAfter, err = parseNullableAmount(principalAfter); err != nil {
			return nil, err
		}
		if ev.OldRate, err = parseNullableAmount(oldRate); err != nil {
			return nil, err
		}
		if ev.NewRate, err = parseNullableAmount(newRate); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Insert appends a new event row.
func (s *EventStore) Insert(ctx context.Context, ev domain.Event) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	const query = `
		INSERT INTO events (
			id, type, account, asset, amount,
			principal_after, old_rate, new_rate, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.c.db.ExecContext(ctx, query,
		ev.ID, string(ev.Type), ev.Account, string(ev.Asset), amountArg(ev.Amount),
		amountArg(ev.PrincipalAfter), amountArg(ev.OldRate), amountArg(ev.NewRate),
		ev.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert event %s: %w", ev.ID, err)
	}
	return nil
}

// List returns events newest first with pagination and optional time filtering.
func (s *EventStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	query := `SELECT ` + eventSelectCols + ` FROM events WHERE 1=1`
	args := []any{}

	if opts.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, opts.Since.Unix())
	}
	if opts.Until != nil {
		query += " AND created_at <= ?"
		args = append(args, opts.Until.Unix())
	}

	query += " ORDER BY created_at DESC, rowid DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list events: %w", err)
	}
	defer rows.Close()

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan events: %w", err)
	}
	return events, nil
}

// ListByAccount returns one account's events newest first with pagination and
// optional time filtering.
func (s *EventStore) ListByAccount(ctx context.Context, account string, opts domain.ListOpts) ([]domain.Event, error) {
	query := `SELECT ` + eventSelectCols + ` FROM events WHERE account = ?`
	args := []any{account}

	if opts.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, opts.Since.Unix())
	}
	if opts.Until != nil {
		query += " AND created_at <= ?"
		args = append(args, opts.Until.Unix())
	}

	query += " ORDER BY created_at DESC, rowid DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list events for %s: %w", account, err)
	}
	defer rows.Close()

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan events for %s: %w", account, err)
	}
	return events, nil
}

// ListBefore returns events created strictly before the cutoff, oldest first,
// capped at limit when limit > 0.
func (s *EventStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Event, error) {
	query := `SELECT ` + eventSelectCols + ` FROM events
		WHERE created_at < ? ORDER BY created_at ASC, rowid ASC`
	args := []any{cutoff.Unix()}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list events before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	defer rows.Close()

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan events before cutoff: %w", err)
	}
	return events, nil
}

// DeleteBefore removes events created strictly before the cutoff and returns
// the number of rows deleted.
func (s *EventStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	res, err := s.c.db.ExecContext(ctx,
		`DELETE FROM events WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete events before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete events rows affected: %w", err)
	}
	return n, nil
}

// Count returns the number of event rows.
func (s *EventStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count events: %w", err)
	}
	return n, nil
}
