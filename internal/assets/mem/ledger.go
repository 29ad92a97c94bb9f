// Package mem provides an in-process asset ledger for paper mode and tests.
// Balances exist only for the lifetime of the process; supply is created
// with Mint.
package mem

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/alanyoungcy/stakepool/internal/domain"
)

// poolAccount is the internal identifier of the pool's own holding.
const poolAccount = "__pool__"

// Ledger is a strict in-memory asset ledger: transfers fail when the source
// balance is short, exactly like an external ledger would.
type Ledger struct {
	mu       sync.Mutex
	balances map[domain.Asset]map[string]*big.Int
	failWith error
	lenient  bool
}

func New() *Ledger {
	return &Ledger{balances: make(map[domain.Asset]map[string]*big.Int)}
}

// NewLenient returns a Ledger that assumes external wallets are funded: a
// debit that would come up short mints the shortfall first. The pool's own
// holding stays strict so payout shortfalls still surface. Paper mode uses
// this so any caller can deposit without a faucet step.
func NewLenient() *Ledger {
	l := New()
	l.lenient = true
	return l
}

// Mint creates amount of asset out of thin air and credits it to account.
func (l *Ledger) Mint(account string, asset domain.Asset, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(account, asset, amount)
}

// MintPool credits the pool's holding directly, like tokens sent straight to
// the pool address without going through a deposit.
func (l *Ledger) MintPool(asset domain.Asset, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(poolAccount, asset, amount)
}

// FailTransfers makes every subsequent transfer fail with err until called
// again with nil.
func (l *Ledger) FailTransfers(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failWith = err
}

// TransferIn moves amount of asset from account into the pool's holding.
func (l *Ledger) TransferIn(_ context.Context, account string, asset domain.Asset, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failWith != nil {
		return l.failWith
	}
	if err := l.debit(account, asset, amount); err != nil {
		return err
	}
	l.credit(poolAccount, asset, amount)
	return nil
}

// TransferOut moves amount of asset from the pool's holding to account.
func (l *Ledger) TransferOut(_ context.Context, account string, asset domain.Asset, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failWith != nil {
		return l.failWith
	}
	if err := l.debit(poolAccount, asset, amount); err != nil {
		return err
	}
	l.credit(account, asset, amount)
	return nil
}

// BalanceOf reports the pool's own holding of asset.
func (l *Ledger) BalanceOf(_ context.Context, asset domain.Asset) (*big.Int, error) {
	return l.AccountBalance(poolAccount, asset), nil
}

// AccountBalance reports any account's holding of asset.
func (l *Ledger) AccountBalance(account string, asset domain.Asset) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[asset][account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// credit and debit assume l.mu is held.

func (l *Ledger) credit(account string, asset domain.Asset, amount *big.Int) {
	byAccount, ok := l.balances[asset]
	if !ok {
		byAccount = make(map[string]*big.Int)
		l.balances[asset] = byAccount
	}
	b, ok := byAccount[account]
	if !ok {
		b = new(big.Int)
		byAccount[account] = b
	}
	b.Add(b, amount)
}

func (l *Ledger) debit(account string, asset domain.Asset, amount *big.Int) error {
	b, ok := l.balances[asset][account]
	if !ok || b.Cmp(amount) < 0 {
		if !l.lenient || account == poolAccount {
			return fmt.Errorf("mem: insufficient %s balance for %s", asset, account)
		}
		l.credit(account, asset, amount)
		b = l.balances[asset][account]
	}
	b.Sub(b, amount)
	return nil
}
