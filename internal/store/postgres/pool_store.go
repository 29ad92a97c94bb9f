package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/stakepool/internal/domain"
)

// PoolStore implements domain.PoolStore using PostgreSQL. The pool state is
// a single row with a fixed id; Save upserts it and Get returns
// domain.ErrNotFound until the first Save.
type PoolStore struct {
	pool *pgxpool.Pool
}

// NewPoolStore creates a new PoolStore backed by the given connection pool.
func NewPoolStore(pool *pgxpool.Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

// Save upserts the singleton pool row.
func (s *PoolStore) Save(ctx context.Context, state domain.PoolState) error {
	const query = `
		INSERT INTO pool_state (
			id, principal_asset, reward_asset,
			annual_rate, total_principal, reward_reserve, updated_at
		) VALUES (
			1, $1, $2,
			$3, $4, $5, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			principal_asset = EXCLUDED.principal_asset,
			reward_asset    = EXCLUDED.reward_asset,
			annual_rate     = EXCLUDED.annual_rate,
			total_principal = EXCLUDED.total_principal,
			reward_reserve  = EXCLUDED.reward_reserve,
			updated_at      = NOW()`

	_, err := s.pool.Exec(ctx, query,
		string(state.PrincipalAsset), string(state.RewardAsset),
		numericArg(state.AnnualRate), numericArg(state.TotalPrincipal), numericArg(state.RewardReserve),
	)
	if err != nil {
		return fmt.Errorf("postgres: save pool state: %w", err)
	}
	return nil
}

// Get loads the singleton pool row.
func (s *PoolStore) Get(ctx context.Context) (domain.PoolState, error) {
	const query = `
		SELECT principal_asset, reward_asset,
		       annual_rate::text, total_principal::text, reward_reserve::text,
		       updated_at
		FROM pool_state WHERE id = 1`

	var (
		st                   domain.PoolState
		principal, reward    string
		rate, total, reserve string
	)
	err := s.pool.QueryRow(ctx, query).Scan(
		&principal, &reward, &rate, &total, &reserve, &st.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.PoolState{}, domain.ErrNotFound
		}
		return domain.PoolState{}, fmt.Errorf("postgres: get pool state: %w", err)
	}

	st.PrincipalAsset = domain.Asset(principal)
	st.RewardAsset = domain.Asset(reward)
	if st.AnnualRate, err = parseNumeric(rate); err != nil {
		return domain.PoolState{}, fmt.Errorf("postgres: pool annual_rate: %w", err)
	}
	if st.TotalPrincipal, err = parseNumeric(total); err != nil {
		return domain.PoolState{}, fmt.Errorf("postgres: pool total_principal: %w", err)
	}
	if st.RewardReserve, err = parseNumeric(reserve); err != nil {
		return domain.PoolState{}, fmt.Errorf("postgres: pool reward_reserve: %w", err)
	}
	return st, nil
}
