package domain

import (
	"math/big"
	"time"
)

const (
	// RatePrecision is the fixed-point scale for annual rates: an annual
	// rate of RatePrecision pays one reward unit per principal unit per
	// year (100%). A rate of RatePrecision/10 is 10%.
	RatePrecision int64 = 1_000_000_000_000_000_000

	// SecondsPerYear is the accrual year (365 days).
	SecondsPerYear int64 = 31_536_000
)

// PoolState is the pool-wide side of the ledger: which two assets it deals
// in, the current annual rate, the sum of all principals, and the reward
// reserve backing claims.
type PoolState struct {
	PrincipalAsset Asset
	RewardAsset    Asset
	AnnualRate     *big.Int
	TotalPrincipal *big.Int
	RewardReserve  *big.Int
	UpdatedAt      time.Time
}

// NewPoolState returns a fresh pool over the given assets at the given rate.
func NewPoolState(principal, reward Asset, rate *big.Int) PoolState {
	return PoolState{
		PrincipalAsset: principal,
		RewardAsset:    reward,
		AnnualRate:     new(big.Int).Set(rate),
		TotalPrincipal: new(big.Int),
		RewardReserve:  new(big.Int),
	}
}

// Clone returns a deep copy; the big.Int fields do not alias the receiver's.
func (p PoolState) Clone() PoolState {
	c := p
	c.AnnualRate = new(big.Int).Set(p.AnnualRate)
	c.TotalPrincipal = new(big.Int).Set(p.TotalPrincipal)
	c.RewardReserve = new(big.Int).Set(p.RewardReserve)
	return c
}
