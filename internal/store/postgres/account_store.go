package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/stakepool/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore backed by the given connection pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

const accountSelectCols = `address, principal::text, unclaimed_reward::text,
	last_settled_at, updated_at`

func scanAccountRow(row pgx.Row) (domain.Account, error) {
	var a domain.Account
	var principal, unclaimed string

	if err := row.Scan(
		&a.Address, &principal, &unclaimed,
		&a.LastSettledAt, &a.UpdatedAt,
	); err != nil {
		return domain.Account{}, err
	}

	var err error
	if a.Principal, err = parseNumeric(principal); err != nil {
		return domain.Account{}, err
	}
	if a.UnclaimedReward, err = parseNumeric(unclaimed); err != nil {
		return domain.Account{}, err
	}
	return a, nil
}

// Upsert writes the full account row, inserting it on first contact.
func (s *AccountStore) Upsert(ctx context.Context, acct domain.Account) error {
	const query = `
		INSERT INTO accounts (
			address, principal, unclaimed_reward, last_settled_at, updated_at
		) VALUES (
			$1, $2, $3, $4, NOW()
		)
		ON CONFLICT (address) DO UPDATE SET
			principal        = EXCLUDED.principal,
			unclaimed_reward = EXCLUDED.unclaimed_reward,
			last_settled_at  = EXCLUDED.last_settled_at,
			updated_at       = NOW()`

	_, err := s.pool.Exec(ctx, query,
		acct.Address,
		numericArg(acct.Principal), numericArg(acct.UnclaimedReward),
		acct.LastSettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert account %s: %w", acct.Address, err)
	}
	return nil
}

// GetByAddress retrieves a single account row.
func (s *AccountStore) GetByAddress(ctx context.Context, addr string) (domain.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountSelectCols+` FROM accounts WHERE address = $1`, addr)

	a, err := scanAccountRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("postgres: get account %s: %w", addr, err)
	}
	return a, nil
}

// ListAll returns every account row, ordered by address.
func (s *AccountStore) ListAll(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountSelectCols+` FROM accounts ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var a domain.Account
		var principal, unclaimed string

		if err := rows.Scan(
			&a.Address, &principal, &unclaimed,
			&a.LastSettledAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan account: %w", err)
		}
		if a.Principal, err = parseNumeric(principal); err != nil {
			return nil, fmt.Errorf("postgres: scan account %s: %w", a.Address, err)
		}
		if a.UnclaimedReward, err = parseNumeric(unclaimed); err != nil {
			return nil, fmt.Errorf("postgres: scan account %s: %w", a.Address, err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list accounts rows: %w", err)
	}
	return accounts, nil
}

// Count returns the number of account rows.
func (s *AccountStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count accounts: %w", err)
	}
	return n, nil
}
