package domain

import (
	"math/big"
	"time"
)

// Account is one staker's slice of the pool. Accounts are created lazily on
// first use; a fully withdrawn, fully claimed account is indistinguishable
// from one that never existed.
type Account struct {
	Address         string
	Principal       *big.Int
	UnclaimedReward *big.Int
	LastSettledAt   time.Time
	UpdatedAt       time.Time
}

// NewAccount returns a zero-valued account for addr.
func NewAccount(addr string) Account {
	return Account{
		Address:         addr,
		Principal:       new(big.Int),
		UnclaimedReward: new(big.Int),
	}
}

// Clone returns a deep copy; the big.Int fields do not alias the receiver's.
func (a Account) Clone() Account {
	c := a
	c.Principal = new(big.Int).Set(a.Principal)
	c.UnclaimedReward = new(big.Int).Set(a.UnclaimedReward)
	return c
}

// IsZero reports whether the account holds no principal and no reward.
func (a Account) IsZero() bool {
	return a.Principal.Sign() == 0 && a.UnclaimedReward.Sign() == 0
}
