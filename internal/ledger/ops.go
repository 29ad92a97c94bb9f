package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/google/uuid"

	"github.com/alanyoungcy/stakepool/internal/domain"
)

// Deposit pulls amount of the principal asset from account into the pool and
// credits it as principal. The account is settled first so the new principal
// accrues only from now on.
func (l *Ledger) Deposit(ctx context.Context, account string, amount *big.Int) error {
	if account == "" || amount == nil || amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	e := l.entryFor(account)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := l.now()
	prev := e.acct.Clone()
	l.settle(e, now)
	e.acct.Principal.Add(e.acct.Principal, amount)
	e.acct.UpdatedAt = now

	l.mu.Lock()
	l.pool.TotalPrincipal.Add(l.pool.TotalPrincipal, amount)
	l.pool.UpdatedAt = now
	asset := l.pool.PrincipalAsset
	l.mu.Unlock()

	if err := l.assets.TransferIn(ctx, account, asset, amount); err != nil {
		e.acct = prev
		l.mu.Lock()
		l.pool.TotalPrincipal.Sub(l.pool.TotalPrincipal, amount)
		l.mu.Unlock()
		return fmt.Errorf("ledger: deposit for %s: %w: %w", account, domain.ErrTransferFailed, err)
	}

	l.logger.InfoContext(ctx, "deposit",
		slog.String("account", account),
		slog.String("amount", amount.String()),
		slog.String("principal", e.acct.Principal.String()))
	l.commit(ctx, e, domain.Event{
		ID:             uuid.NewString(),
		Type:           domain.EventDeposit,
		Account:        account,
		Asset:          asset,
		Amount:         new(big.Int).Set(amount),
		PrincipalAfter: new(big.Int).Set(e.acct.Principal),
		CreatedAt:      now,
	})
	return nil
}

// Withdraw pushes amount of the principal asset back to account. Unclaimed
// reward is untouched; withdrawing everything leaves it claimable.
func (l *Ledger) Withdraw(ctx context.Context, account string, amount *big.Int) error {
	if account == "" || amount == nil || amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	e := l.entryFor(account)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.acct.Principal.Cmp(amount) < 0 {
		return domain.ErrInsufficientBalance
	}
	now := l.now()
	prev := e.acct.Clone()
	l.settle(e, now)
	e.acct.Principal.Sub(e.acct.Principal, amount)
	e.acct.UpdatedAt = now

	l.mu.Lock()
	l.pool.TotalPrincipal.Sub(l.pool.TotalPrincipal, amount)
	l.pool.UpdatedAt = now
	asset := l.pool.PrincipalAsset
	l.mu.Unlock()

	if err := l.assets.TransferOut(ctx, account, asset, amount); err != nil {
		e.acct = prev
		l.mu.Lock()
		l.pool.TotalPrincipal.Add(l.pool.TotalPrincipal, amount)
		l.mu.Unlock()
		return fmt.Errorf("ledger: withdraw for %s: %w: %w", account, domain.ErrTransferFailed, err)
	}

	l.logger.InfoContext(ctx, "withdraw",
		slog.String("account", account),
		slog.String("amount", amount.String()),
		slog.String("principal", e.acct.Principal.String()))
	l.commit(ctx, e, domain.Event{
		ID:             uuid.NewString(),
		Type:           domain.EventWithdraw,
		Account:        account,
		Asset:          asset,
		Amount:         new(big.Int).Set(amount),
		PrincipalAfter: new(big.Int).Set(e.acct.Principal),
		CreatedAt:      now,
	})
	return nil
}

// Claim settles the account and pays out its entire unclaimed reward from
// the reward reserve. It returns the amount paid. A failure at any point,
// reserve shortfall included, leaves the account exactly as it was.
func (l *Ledger) Claim(ctx context.Context, account string) (*big.Int, error) {
	if account == "" {
		return nil, domain.ErrInvalidAmount
	}
	e := l.entryFor(account)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := l.now()
	prev := e.acct.Clone()
	l.settle(e, now)
	if e.acct.UnclaimedReward.Sign() == 0 {
		e.acct = prev
		return nil, domain.ErrNothingToClaim
	}
	amount := new(big.Int).Set(e.acct.UnclaimedReward)

	l.mu.Lock()
	if l.pool.RewardReserve.Cmp(amount) < 0 {
		l.mu.Unlock()
		e.acct = prev
		return nil, domain.ErrInsufficientRewardReserve
	}
	l.pool.RewardReserve.Sub(l.pool.RewardReserve, amount)
	l.pool.UpdatedAt = now
	asset := l.pool.RewardAsset
	l.mu.Unlock()

	e.acct.UnclaimedReward.SetInt64(0)
	e.acct.UpdatedAt = now

	if err := l.assets.TransferOut(ctx, account, asset, amount); err != nil {
		e.acct = prev
		l.mu.Lock()
		l.pool.RewardReserve.Add(l.pool.RewardReserve, amount)
		l.mu.Unlock()
		return nil, fmt.Errorf("ledger: claim for %s: %w: %w", account, domain.ErrTransferFailed, err)
	}

	l.logger.InfoContext(ctx, "claim",
		slog.String("account", account),
		slog.String("amount", amount.String()))
	l.commit(ctx, e, domain.Event{
		ID:        uuid.NewString(),
		Type:      domain.EventClaim,
		Account:   account,
		Asset:     asset,
		Amount:    amount,
		CreatedAt: now,
	})
	return amount, nil
}

// SetRate replaces the annual rate. Nothing is recomputed retroactively:
// each account's next settlement applies whatever rate is current at that
// moment to its entire unsettled interval.
func (l *Ledger) SetRate(ctx context.Context, caller string, newRate *big.Int) error {
	if !l.auth.IsAdmin(ctx, caller) {
		return domain.ErrUnauthorized
	}
	if newRate == nil || newRate.Sign() < 0 {
		return domain.ErrInvalidAmount
	}
	now := l.now()
	l.mu.Lock()
	old := l.pool.AnnualRate
	l.pool.AnnualRate = new(big.Int).Set(newRate)
	l.pool.UpdatedAt = now
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "annual rate changed",
		slog.String("caller", caller),
		slog.String("old_rate", old.String()),
		slog.String("new_rate", newRate.String()))
	l.commit(ctx, nil, domain.Event{
		ID:        uuid.NewString(),
		Type:      domain.EventRateChange,
		Account:   caller,
		OldRate:   old,
		NewRate:   new(big.Int).Set(newRate),
		CreatedAt: now,
	})
	return nil
}

// DepositRewardReserve pulls amount of the reward asset from the caller into
// the reserve that backs claims. The reserve is credited only after the
// transfer confirms, so a concurrent claim can never spend funds that were
// never received.
func (l *Ledger) DepositRewardReserve(ctx context.Context, caller string, amount *big.Int) error {
	if !l.auth.IsAdmin(ctx, caller) {
		return domain.ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	l.mu.RLock()
	asset := l.pool.RewardAsset
	l.mu.RUnlock()

	if err := l.assets.TransferIn(ctx, caller, asset, amount); err != nil {
		return fmt.Errorf("ledger: reserve deposit: %w: %w", domain.ErrTransferFailed, err)
	}

	now := l.now()
	l.mu.Lock()
	l.pool.RewardReserve.Add(l.pool.RewardReserve, amount)
	l.pool.UpdatedAt = now
	reserve := l.pool.RewardReserve.String()
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "reward reserve deposit",
		slog.String("caller", caller),
		slog.String("amount", amount.String()),
		slog.String("reserve", reserve))
	l.commit(ctx, nil, domain.Event{
		ID:        uuid.NewString(),
		Type:      domain.EventReserveDeposit,
		Account:   caller,
		Asset:     asset,
		Amount:    new(big.Int).Set(amount),
		CreatedAt: now,
	})
	return nil
}

// SweepForeignAsset transfers out an asset that was mistakenly sent to the
// pool's holding. The principal and reward assets are refused; ledger state
// is never touched.
func (l *Ledger) SweepForeignAsset(ctx context.Context, caller string, asset domain.Asset, amount *big.Int) error {
	if !l.auth.IsAdmin(ctx, caller) {
		return domain.ErrUnauthorized
	}
	if asset == "" || amount == nil || amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	l.mu.RLock()
	forbidden := asset == l.pool.PrincipalAsset || asset == l.pool.RewardAsset
	l.mu.RUnlock()
	if forbidden {
		return domain.ErrForbiddenAsset
	}

	if err := l.assets.TransferOut(ctx, caller, asset, amount); err != nil {
		return fmt.Errorf("ledger: sweep %s: %w: %w", asset, domain.ErrTransferFailed, err)
	}

	now := l.now()
	l.logger.InfoContext(ctx, "foreign asset swept",
		slog.String("caller", caller),
		slog.String("asset", string(asset)),
		slog.String("amount", amount.String()))
	l.commit(ctx, nil, domain.Event{
		ID:        uuid.NewString(),
		Type:      domain.EventSweep,
		Account:   caller,
		Asset:     asset,
		Amount:    new(big.Int).Set(amount),
		CreatedAt: now,
	})
	return nil
}
