package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/stakepool/internal/domain"
)

// PoolStore implements domain.PoolStore on SQLite. The pool state is a single
// row with a fixed id; Get returns domain.ErrNotFound until the first Save.
type PoolStore struct {
	c *Client
}

// NewPoolStore creates a new PoolStore backed by the given client.
func NewPoolStore(c *Client) *PoolStore {
	return &PoolStore{c: c}
}

// Save upserts the singleton pool row.
func (s *PoolStore) Save(ctx context.Context, state domain.PoolState) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	const query = `
		INSERT INTO pool_state (
			id, principal_asset, reward_asset,
			annual_rate, total_principal, reward_reserve, updated_at
		) VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			principal_asset = excluded.principal_asset,
			reward_asset    = excluded.reward_asset,
			annual_rate     = excluded.annual_rate,
			total_principal = excluded.total_principal,
			reward_reserve  = excluded.reward_reserve,
			updated_at      = excluded.updated_at`

	_, err := s.c.db.ExecContext(ctx, query,
		string(state.PrincipalAsset), string(state.RewardAsset),
		amountArg(state.AnnualRate), amountArg(state.TotalPrincipal), amountArg(state.RewardReserve),
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save pool state: %w", err)
	}
	return nil
}

// Get loads the singleton pool row.
func (s *PoolStore) Get(ctx context.Context) (domain.PoolState, error) {
	const query = `
		SELECT principal_asset, reward_asset,
		       annual_rate, total_principal, reward_reserve, updated_at
		FROM pool_state WHERE id = 1`

	var (
		st                   domain.PoolState
		principal, reward    string
		rate, total, reserve string
		updatedAt            int64
	)
	err := s.c.db.QueryRowContext(ctx, query).Scan(
		&principal, &reward, &rate, &total, &reserve, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PoolState{}, domain.ErrNotFound
		}
		return domain.PoolState{}, fmt.Errorf("sqlite: get pool state: %w", err)
	}

	st.PrincipalAsset = domain.Asset(principal)
	st.RewardAsset = domain.Asset(reward)
	st.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if st.AnnualRate, err = parseAmount(rate); err != nil {
		return domain.PoolState{}, fmt.Errorf("sqlite: pool annual_rate: %w", err)
	}
	if st.TotalPrincipal, err = parseAmount(total); err != nil {
		return domain.PoolState{}, fmt.Errorf("sqlite: pool total_principal: %w", err)
	}
	if st.RewardReserve, err = parseAmount(reserve); err != nil {
		return domain.PoolState{}, fmt.Errorf("sqlite: pool reward_reserve: %w", err)
	}
	return st, nil
}
