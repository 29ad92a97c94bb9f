package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/stakepool/internal/domain"
)

// AccountStore implements domain.AccountStore on SQLite.
type AccountStore struct {
	c *Client
}

// NewAccountStore creates a new AccountStore backed by the given client.
func NewAccountStore(c *Client) *AccountStore {
	return &AccountStore{c: c}
}

const accountSelectCols = `address, principal, unclaimed_reward, last_settled_at, updated_at`

func scanAccount(scan func(dest ...any) error) (domain.Account, error) {
	var a domain.Account
	var principal, unclaimed string
	var lastSettled, updated int64

	if err := scan(&a.Address, &principal, &unclaimed, &lastSettled, &updated); err != nil {
		return domain.Account{}, err
	}

	var err error
	if a.Principal, err = parseAmount(principal); err != nil {
		return domain.Account{}, err
	}
	if a.UnclaimedReward, err = parseAmount(unclaimed); err != nil {
		return domain.Account{}, err
	}
	a.LastSettledAt = time.Unix(lastSettled, 0).UTC()
	a.UpdatedAt = time.Unix(updated, 0).UTC()
	return a, nil
}

// Upsert writes the full account row, inserting it on first contact.
func (s *AccountStore) Upsert(ctx context.Context, acct domain.Account) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	const query = `
		INSERT INTO accounts (
			address, principal, unclaimed_reward, last_settled_at, updated_at
		) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			principal        = excluded.principal,
			unclaimed_reward = excluded.unclaimed_reward,
			last_settled_at  = excluded.last_settled_at,
			updated_at       = excluded.updated_at`

	_, err := s.c.db.ExecContext(ctx, query,
		acct.Address,
		amountArg(acct.Principal), amountArg(acct.UnclaimedReward),
		acct.LastSettledAt.Unix(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert account %s: %w", acct.Address, err)
	}
	return nil
}

// GetByAddress retrieves a single account row.
func (s *AccountStore) GetByAddress(ctx context.Context, addr string) (domain.Account, error) {
	row := s.c.db.QueryRowContext(ctx,
		`SELECT `+accountSelectCols+` FROM accounts WHERE address = ?`, addr)

	a, err := scanAccount(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("sqlite: get account %s: %w", addr, err)
	}
	return a, nil
}

// ListAll returns every account row, ordered by address.
func (s *AccountStore) ListAll(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.c.db.QueryContext(ctx,
		`SELECT `+accountSelectCols+` FROM accounts ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list accounts rows: %w", err)
	}
	return accounts, nil
}

// Count returns the number of account rows.
func (s *AccountStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count accounts: %w", err)
	}
	return n, nil
}
