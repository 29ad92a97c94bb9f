package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stakepool/internal/assets/mem"
	"github.com/alanyoungcy/stakepool/internal/domain"
)

const (
	stakeAsset  = domain.Asset("STK")
	rewardAsset = domain.Asset("RWD")
	otherAsset  = domain.Asset("AIR")

	admin = "0xadmin"
	alice = "0xa11ce"
	bob   = "0xb0b"
)

var t0 = time.Unix(1_700_000_000, 0).UTC()

const halfYear = time.Duration(domain.SecondsPerYear/2) * time.Second

type fixture struct {
	ledger *Ledger
	assets *mem.Ledger
	clock  *testClock
	events *captureSink
}

func newFixture(t *testing.T, rate *big.Int) *fixture {
	t.Helper()
	clock := newTestClock()
	assets := mem.New()
	sink := &captureSink{}
	led, err := New(Config{
		PrincipalAsset: stakeAsset,
		RewardAsset:    rewardAsset,
		InitialRate:    rate,
		Assets:         assets,
		Auth: domain.AuthorizerFunc(func(_ context.Context, caller string) bool {
			return caller == admin
		}),
		Events: sink,
		Now:    clock.Now,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	assets.Mint(alice, stakeAsset, units(1_000_000))
	assets.Mint(bob, stakeAsset, units(1_000_000))
	assets.Mint(admin, rewardAsset, units(1_000_000))
	return &fixture{ledger: led, assets: assets, clock: clock, events: sink}
}

func TestNewValidation(t *testing.T) {
	auth := domain.AuthorizerFunc(func(context.Context, string) bool { return true })
	_, err := New(Config{RewardAsset: rewardAsset, PrincipalAsset: stakeAsset, Auth: auth})
	assert.Error(t, err, "missing asset ledger")
	_, err = New(Config{PrincipalAsset: stakeAsset, RewardAsset: rewardAsset, Assets: mem.New()})
	assert.Error(t, err, "missing authorizer")
	_, err = New(Config{PrincipalAsset: "", RewardAsset: rewardAsset, Assets: mem.New(), Auth: auth})
	assert.Error(t, err, "missing principal asset")
	_, err = New(Config{
		PrincipalAsset: stakeAsset, RewardAsset: rewardAsset,
		Assets: mem.New(), Auth: auth,
		InitialRate: big.NewInt(-1),
	})
	assert.Error(t, err, "negative rate")
}

func TestDeposit(t *testing.T) {
	ctx := context.Background()

	t.Run("credits principal and moves the asset", func(t *testing.T) {
		f := newFixture(t, ratePct(10))
		require.NoError(t, f.ledger.Deposit(ctx, alice, units(100)))

		info := f.ledger.StakeInfo(alice)
		assert.Equal(t, units(100).String(), info.Principal.String())
		assert.Equal(t, "0", info.UnclaimedReward.String())
		assert.True(t, info.LastSettledAt.Equal(t0))
		assert.Equal(t, units(100).String(), f.ledger.TotalPrincipal().String())

		poolBal, err := f.assets.BalanceOf(ctx, stakeAsset)
		require.NoError(t, err)
		assert.Equal(t, units(100).String(), poolBal.String())
		assert.Equal(t, units(999_900).String(), f.assets.AccountBalance(alice, stakeAsset).String())
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		f := newFixture(t, ratePct(10))
		assert.ErrorIs(t, f.ledger.Deposit(ctx, alice, new(big.Int)), domain.ErrInvalidAmount)
		assert.ErrorIs(t, f.ledger.Deposit(ctx, alice, big.NewInt(-5)), domain.ErrInvalidAmount)
		assert.ErrorIs(t, f.ledger.Deposit(ctx, alice, nil), domain.ErrInvalidAmount)
		assert.ErrorIs(t, f.ledger.Deposit(ctx, "", units(1)), domain.ErrInvalidAmount)
	})

	t.Run("rolls back when the transfer fails", func(t *testing.T) {
		f := newFixture(t, ratePct(10))
		require.NoError(t, f.ledger.Deposit(ctx, alice, units(100)))
		f.clock.Advance(time.Hour)

		boom := errors.New("ledger unreachable")
		f.assets.FailTransfers(boom)
		err := f.ledger.Deposit(ctx, alice, units(50))
		assert.ErrorIs(t, err, domain.ErrTransferFailed)
		assert.ErrorIs(t, err, boom)

		info := f.ledger.StakeInfo(alice)
		assert.Equal(t, units(100).String(), info.Principal.String())
		assert.Equal(t, "0", info.UnclaimedReward.String(), "settlement must not stick")
		assert.True(t, info.LastSettledAt.Equal(t0), "settlement time must not stick")
		assert.Equal(t, units(100).String(), f.ledger.TotalPrincipal().String())
	})
}

func TestWithdraw(t *testing.T) {
	ctx := context.Background()

	t.Run("returns principal to the account", func(t *testing.T) {
		f := newFixture(t, ratePct(10))
		require.NoError(t, f.ledger.Deposit(ctx, alice, units(100)))
		require.NoError(t, f.ledger.Withdraw(ctx, alice, units(40)))

		info := f.ledger.StakeInfo(alice)
		assert.Equal(t, units(60).String(), info.Principal.String())
		assert.Equal(t, units(60).String(), f.ledger.TotalPrincipal().String())
		assert.Equal(t, units(999_940).String(), f.assets.AccountBalance(alice, stakeAsset).String())
	})

	t.Run("fails when amount exceeds principal", func(t *testing.T) {
		f := newFixture(t, ratePct(10))
		require.NoError(t, f.ledger.Deposit(ctx, alice, units(100)))
		assert.ErrorIs(t, f.ledger.Withdraw(ctx, alice, units(101)), domain.ErrInsufficientBalance)
		assert.ErrorIs(t, f.ledger.Withdraw(ctx, bob, units(1)), domain.ErrInsufficientBalance)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		f := newFixture(t, ratePct(10))
		assert.ErrorIs(t, f.ledger.Withdraw(ctx, alice, new(big.Int)), domain.ErrInvalidAmount)
		assert.ErrorIs(t, f.ledger.Withdraw(ctx, alice, nil), domain.ErrInvalidAmount)
	})

	t.Run("full withdrawal preserves the accrued reward", func(t *testing.T) {
		f := newFixture(t, ratePct(10))
		require.NoError(t, f.ledger.Deposit(ctx, alice, units(100)))
		f.clock.Advance(halfYear)
		require.NoError(t, f.ledger.Withdraw(ctx, alice, units(100)))

		info := f.ledger.StakeInfo(alice)
		assert.Equal(t, "0", info.Principal.String())
		assert.Equal(t, units(5).String(), info.UnclaimedReward.String())

		// no principal, no further accrual
		f.clock.Advance(halfYear)
		assert.Equal(t, units(5).String(), f.ledger.PendingReward(alice).String())

		f.assets.Mint(admin, rewardAsset, units(10))
		require.NoError(t, f.ledger.DepositRewardReserve(ctx, admin, units(10)))
		paid, err := f.ledger.Claim(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, units(5).String(), paid.String())
	})

	t.Run("rolls back when the transfer fails", func(t *testing.T) {
		f := newFixture(t, ratePct(10))
		require.NoError(t, f.ledger.Deposit(ctx, alice, units(100)))
		f.clock.Advance(time.Hour)

		f.assets.FailTransfers(errors.New("ledger unreachable"))
		err := f.ledger.Withdraw(ctx, alice, units(40))
		assert.ErrorIs(t, err, domain.ErrTransferFailed)

		info := f.ledger.StakeInfo(alice)
		assert.Equal(t, units(100).String(), info.Principal.String())
		assert.True(t, info.LastSettledAt.Equal(t0))
		assert.Equal(t, units(100).String(), f.ledger.TotalPrincipal().String())
	})
}

func TestClaim(t *testing.T) {
	ctx := context.Background()

	t.Run("pays the settled reward from the reserve", func(t *testing.T) {
		f := newFixture(t, ratePct(10))
		require.NoError(t, f.ledger.Deposit(ctx, alice, units(100)))
		require.NoError(t, f.ledger.DepositRewardReserve(ctx, admin, units(50)))
		f.clock.Advance(time.Duration(domain.SecondsPerYear) * time.Second)

		paid, err := f.ledger.Claim(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, units(10).String(), paid.String())
		assert.Equal(t, units(10).String(), f.assets.AccountBalance(alice, rewardAsset).String())
		assert.Equal(t, units(40).String(), f.ledger.RewardReserve().String())
		assert.Equal(t, "0", f.ledger.StakeInfo(alice).UnclaimedReward.String())

		_, err = f.ledger.Claim(ctx, alice)
		assert.ErrorIs(t, err, domain.ErrNothingToClaim)
	})

	t.Run("fails with nothing to claim for an idle account", func(t *testing.T) {
		f := newFixture(t, ratePct(10))
		_, err := f.ledger.Claim(ctx, bob)
		assert.ErrorIs(t, err, domain.ErrNothingToClaim)
	})

	t.Run("insufficient reserve leaves the reward claimable", func(t *testing.T) {
		f := newFixture(t, ratePct(10))
		require.NoError(t, f.ledger.Deposit(ctx, alice, units(100)))
		require.NoError(t, f.ledger.DepositRewardReserve(ctx, admin, units(3)))
		f.clock.Advance(time.Duration(domain.SecondsPerYear) * time.Second)

		_, err := f.ledger.Claim(ctx, alice)
		assert.ErrorIs(t, err, domain.ErrInsufficientRewardReserve)
		assert.Equal(t, units(10).String(), f.ledger.PendingReward(alice).String(), "reward still pending")
		assert.Equal(t, units(3).String(), f.ledger.RewardReserve().String(), "reserve untouched")

		require.NoError(t, f.ledger.DepositRewardReserve(ctx, admin, units(7)))
		paid, err := f.ledger.Claim(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, units(10).String(), paid.String())
	})

	t.Run("allows a claim equal to the whole reserve", func(t *testing.T) {
		f := newFixture(t, ratePct(10))
		require.NoError(t, f.ledger.Deposit(ctx, alice, units(100)))
		require.NoError(t, f.ledger.DepositRewardReserve(ctx, admin, units(10)))
		f.clock.Advance(time.Duration(domain.SecondsPerYear) * time.Second)

		paid, err := f.ledger.Claim(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, units(10).String(), paid.String())
		assert.Equal(t, "0", f.ledger.RewardReserve().String())
	})

	t.Run("rolls back when the transfer fails", func(t *testing.T) {
		f := newFixture(t, ratePct(10))
		require.NoError(t, f.ledger.Deposit(ctx, alice, units(100)))
		require.NoError(t, f.ledger.DepositRewardReserve(ctx, admin, units(50)))
		f.clock.Advance(time.Duration(domain.SecondsPerYear) * time.Second)

		f.assets.FailTransfers(errors.New("ledger unreachable"))
		_, err := f.ledger.Claim(ctx, alice)
		assert.ErrorIs(t, err, domain.ErrTransferFailed)
		assert.Equal(t, units(10).String(), f.ledger.PendingReward(alice).String())
		assert.Equal(t, units(50).String(), f.ledger.RewardReserve().String())

		f.assets.FailTransfers(nil)
		paid, err := f.ledger.Claim(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, units(10).String(), paid.String())
	})
}

func TestPendingReward(t *testing.T) {
	ctx := context.Background()

	t.Run("zero for an unknown account", func(t *testing.T) {
		f := newFixture(t, ratePct(10))
		assert.Equal(t, "0", f.ledger.PendingReward("0xnobody").String())
	})

	t.Run("accrues linearly", func(t *testing.T) {
		f := newFixture(t, ratePct(10))
		require.NoError(t, f.ledger.Deposit(ctx, alice, units(100_000)))
		f.clock.Advance(time.Duration(domain.SecondsPerYear) * time.Second)
		assert.Equal(t, units(10_000).String(), f.ledger.PendingReward(alice).String())
	})

	t.Run("includes frozen and unsettled parts", func(t *testing.T) {
		f := newFixture(t, ratePct(10))
		require.NoError(t, f.ledger.Deposit(ctx, alice, units(100)))
		f.clock.Advance(halfYear)
		// settles: freezes 5 units, then accrues on 150 for the second half
		require.NoError(t, f.ledger.Deposit(ctx, alice, units(50)))
		f.clock.Advance(halfYear)
		want := new(big.Int).Add(units(5), new(big.Int).Quo(units(15), big.NewInt(2)))
		assert.Equal(t, want.String(), f.ledger.PendingReward(alice).String())
	})

	t.Run("query does not mutate state", func(t *testing.T) {
		f := newFixture(t, ratePct(10))
		require.NoError(t, f.ledger.Deposit(ctx, alice, units(100)))
		f.clock.Advance(halfYear)
		first := f.ledger.PendingReward(alice)
		second := f.ledger.PendingReward(alice)
		assert.Equal(t, first.String(), second.String())
		info := f.ledger.StakeInfo(alice)
		assert.True(t, info.LastSettledAt.Equal(t0), "pending query must not settle")
		assert.Equal(t, "0", info.UnclaimedReward.String())
	})
}

func TestSettlementIdempotence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ratePct(10))
	require.NoError(t, f.ledger.Deposit(ctx, alice, units(100)))
	f.clock.Advance(1000 * time.Second)

	e := f.ledger.entryFor(alice)
	now := f.clock.Now()
	e.mu.Lock()
	f.ledger.settle(e, now)
	afterFirst := e.acct.Clone()
	f.ledger.settle(e, now)
	afterSecond := e.acct.Clone()
	e.mu.Unlock()

	assert.Equal(t, afterFirst.UnclaimedReward.String(), afterSecond.UnclaimedReward.String())
	assert.True(t, afterFirst.LastSettledAt.Equal(afterSecond.LastSettledAt))
}

func TestSettlementClockNeverRewinds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ratePct(10))
	require.NoError(t, f.ledger.Deposit(ctx, alice, units(100)))
	f.clock.Advance(time.Hour)
	require.NoError(t, f.ledger.Deposit(ctx, alice, units(1)))
	settled := f.ledger.StakeInfo(alice).LastSettledAt

	// a clock step backwards must not move the settlement time back
	f.clock.Advance(-30 * time.Minute)
	require.NoError(t, f.ledger.Deposit(ctx, alice, units(1)))
	info := f.ledger.StakeInfo(alice)
	assert.True(t, info.LastSettledAt.Equal(settled))
}

func TestAccountIndependence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ratePct(10))
	require.NoError(t, f.ledger.Deposit(ctx, alice, units(100)))
	require.NoError(t, f.ledger.Deposit(ctx, bob, units(200)))
	require.NoError(t, f.ledger.DepositRewardReserve(ctx, admin, units(100)))
	f.clock.Advance(halfYear)

	before := f.ledger.PendingReward(bob)

	require.NoError(t, f.ledger.Deposit(ctx, alice, units(300)))
	require.NoError(t, f.ledger.Withdraw(ctx, alice, units(150)))
	_, err := f.ledger.Claim(ctx, alice)
	require.NoError(t, err)

	assert.Equal(t, before.String(), f.ledger.PendingReward(bob).String(),
		"alice's operations must not touch bob's accrual")
}

func TestZeroRate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, new(big.Int))
	require.NoError(t, f.ledger.Deposit(ctx, alice, units(100)))
	f.clock.Advance(10 * time.Duration(domain.SecondsPerYear) * time.Second)

	assert.Equal(t, "0", f.ledger.PendingReward(alice).String())
	_, err := f.ledger.Claim(ctx, alice)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
}

func TestTwoSegmentScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ratePct(10))
	require.NoError(t, f.ledger.Deposit(ctx, alice, units(100)))
	f.clock.Advance(halfYear)
	require.NoError(t, f.ledger.Deposit(ctx, alice, units(50)))
	f.clock.Advance(halfYear)

	// 100 at 10% for half a year, then 150 at 10% for half a year
	want := new(big.Int).Add(units(5), new(big.Int).Quo(units(15), big.NewInt(2)))
	assert.Equal(t, want.String(), f.ledger.PendingReward(alice).String())

	info := f.ledger.StakeInfo(alice)
	assert.True(t, info.LastSettledAt.Equal(t0.Add(halfYear)), "second deposit settled the account")
	assert.Equal(t, units(5).String(), info.UnclaimedReward.String())
}

func TestSetRate(t *testing.T) {
	ctx := context.Background()

	t.Run("requires an administrator", func(t *testing.T) {
		f := newFixture(t, ratePct(10))
		assert.ErrorIs(t, f.ledger.SetRate(ctx, alice, ratePct(20)), domain.ErrUnauthorized)
		assert.Equal(t, ratePct(10).String(), f.ledger.Rate().String())
	})

	t.Run("rejects a negative rate", func(t *testing.T) {
		f := newFixture(t, ratePct(10))
		assert.ErrorIs(t, f.ledger.SetRate(ctx, admin, big.NewInt(-1)), domain.ErrInvalidAmount)
		assert.ErrorIs(t, f.ledger.SetRate(ctx, admin, nil), domain.ErrInvalidAmount)
	})

	t.Run("allows dropping the rate to zero", func(t *testing.T) {
		f := newFixture(t, ratePct(10))
		require.NoError(t, f.ledger.SetRate(ctx, admin, new(big.Int)))
		assert.Equal(t, "0", f.ledger.Rate().String())
	})

	t.Run("rate current at settlement covers the whole unsettled interval", func(t *testing.T) {
		f := newFixture(t, ratePct(10))
		require.NoError(t, f.ledger.Deposit(ctx, alice, units(100)))
		f.clock.Advance(halfYear)
		require.NoError(t, f.ledger.SetRate(ctx, admin, ratePct(20)))
		f.clock.Advance(halfYear)

		// alice never settled mid-interval: the whole year accrues at 20%
		assert.Equal(t, units(20).String(), f.ledger.PendingReward(alice).String())
	})

	t.Run("an account settled at the boundary splits the interval", func(t *testing.T) {
		f := newFixture(t, ratePct(10))
		require.NoError(t, f.ledger.Deposit(ctx, bob, units(100)))
		f.clock.Advance(halfYear)
		// settles bob at 10% before the rate moves
		require.NoError(t, f.ledger.Deposit(ctx, bob, units(1)))
		require.NoError(t, f.ledger.SetRate(ctx, admin, ratePct(20)))
		f.clock.Advance(halfYear)

		// 5 frozen at 10%, then 101 at 20% for half a year
		want := new(big.Int).Add(units(5), new(big.Int).Quo(new(big.Int).Mul(units(101), big.NewInt(2)), big.NewInt(20)))
		assert.Equal(t, want.String(), f.ledger.PendingReward(bob).String())
	})
}

func TestRewardReserve(t *testing.T) {
	ctx := context.Background()

	t.Run("requires an administrator", func(t *testing.T) {
		f := newFixture(t, ratePct(10))
		assert.ErrorIs(t, f.ledger.DepositRewardReserve(ctx, alice, units(1)), domain.ErrUnauthorized)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		f := newFixture(t, ratePct(10))
		assert.ErrorIs(t, f.ledger.DepositRewardReserve(ctx, admin, new(big.Int)), domain.ErrInvalidAmount)
		assert.ErrorIs(t, f.ledger.DepositRewardReserve(ctx, admin, nil), domain.ErrInvalidAmount)
	})

	t.Run("funding moves the reward asset into the pool", func(t *testing.T) {
		f := newFixture(t, ratePct(10))
		require.NoError(t, f.ledger.DepositRewardReserve(ctx, admin, units(25)))
		assert.Equal(t, units(25).String(), f.ledger.RewardReserve().String())
		poolBal, err := f.assets.BalanceOf(ctx, rewardAsset)
		require.NoError(t, err)
		assert.Equal(t, units(25).String(), poolBal.String())
		assert.Equal(t, units(999_975).String(), f.assets.AccountBalance(admin, rewardAsset).String())
	})

	t.Run("a failed funding transfer leaves the reserve untouched", func(t *testing.T) {
		f := newFixture(t, ratePct(10))
		f.assets.FailTransfers(errors.New("ledger unreachable"))
		err := f.ledger.DepositRewardReserve(ctx, admin, units(25))
		assert.ErrorIs(t, err, domain.ErrTransferFailed)
		assert.Equal(t, "0", f.ledger.RewardReserve().String())
	})
}

func TestSweepForeignAsset(t *testing.T) {
	ctx := context.Background()

	t.Run("refuses the pool's own assets", func(t *testing.T) {
		f := newFixture(t, ratePct(10))
		assert.ErrorIs(t, f.ledger.SweepForeignAsset(ctx, admin, stakeAsset, units(1)), domain.ErrForbiddenAsset)
		assert.ErrorIs(t, f.ledger.SweepForeignAsset(ctx, admin, rewardAsset, units(1)), domain.ErrForbiddenAsset)
	})

	t.Run("requires an administrator", func(t *testing.T) {
		f := newFixture(t, ratePct(10))
		assert.ErrorIs(t, f.ledger.SweepForeignAsset(ctx, alice, otherAsset, units(1)), domain.ErrUnauthorized)
	})

	t.Run("moves a stray asset out of the pool", func(t *testing.T) {
		f := newFixture(t, ratePct(10))
		f.assets.MintPool(otherAsset, units(7))
		require.NoError(t, f.ledger.SweepForeignAsset(ctx, admin, otherAsset, units(7)))
		assert.Equal(t, units(7).String(), f.assets.AccountBalance(admin, otherAsset).String())

		// ledger state untouched
		assert.Equal(t, "0", f.ledger.TotalPrincipal().String())
		assert.Equal(t, "0", f.ledger.RewardReserve().String())
	})

	t.Run("propagates a failed transfer", func(t *testing.T) {
		f := newFixture(t, ratePct(10))
		err := f.ledger.SweepForeignAsset(ctx, admin, otherAsset, units(1))
		assert.ErrorIs(t, err, domain.ErrTransferFailed)
	})
}

func TestConservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ratePct(10))

	require.NoError(t, f.ledger.Deposit(ctx, alice, units(100)))
	require.NoError(t, f.ledger.Deposit(ctx, bob, units(50)))
	require.NoError(t, f.ledger.Withdraw(ctx, alice, units(30)))
	require.NoError(t, f.ledger.Deposit(ctx, alice, units(10)))
	require.NoError(t, f.ledger.Withdraw(ctx, bob, units(50)))

	assert.Equal(t, units(80).String(), f.ledger.StakeInfo(alice).Principal.String())
	assert.Equal(t, "0", f.ledger.StakeInfo(bob).Principal.String())

	sum := new(big.Int)
	for _, acct := range f.ledger.AccountsSnapshot() {
		sum.Add(sum, acct.Principal)
	}
	assert.Equal(t, sum.String(), f.ledger.TotalPrincipal().String())
}

func TestConcurrentConservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ratePct(10))
	accounts := []string{alice, bob, "0xcaro1", "0xdave"}
	for _, a := range accounts {
		f.assets.Mint(a, stakeAsset, units(1_000))
	}

	const perAccount = 25
	var wg sync.WaitGroup
	for _, a := range accounts {
		for g := 0; g < 2; g++ {
			wg.Add(1)
			go func(acct string) {
				defer wg.Done()
				for i := 0; i < perAccount; i++ {
					if err := f.ledger.Deposit(ctx, acct, units(1)); err != nil {
						t.Error(err)
						return
					}
				}
			}(a)
		}
	}
	wg.Wait()

	for _, a := range accounts {
		assert.Equal(t, units(2*perAccount).String(), f.ledger.StakeInfo(a).Principal.String())
	}
	assert.Equal(t, units(int64(len(accounts)*2*perAccount)).String(), f.ledger.TotalPrincipal().String())
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ratePct(10))

	require.NoError(t, f.ledger.Deposit(ctx, alice, units(100)))
	require.NoError(t, f.ledger.DepositRewardReserve(ctx, admin, units(50)))
	f.clock.Advance(time.Duration(domain.SecondsPerYear) * time.Second)
	require.NoError(t, f.ledger.Withdraw(ctx, alice, units(40)))
	_, err := f.ledger.Claim(ctx, alice)
	require.NoError(t, err)
	require.NoError(t, f.ledger.SetRate(ctx, admin, ratePct(20)))
	f.assets.MintPool(otherAsset, units(1))
	require.NoError(t, f.ledger.SweepForeignAsset(ctx, admin, otherAsset, units(1)))

	// a failed op must not emit
	_, err = f.ledger.Claim(ctx, alice)
	require.ErrorIs(t, err, domain.ErrNothingToClaim)

	evs := f.events.all()
	require.Len(t, evs, 6)

	deposit := f.events.byType(domain.EventDeposit)
	require.Len(t, deposit, 1)
	assert.Equal(t, alice, deposit[0].Account)
	assert.Equal(t, units(100).String(), deposit[0].Amount.String())
	assert.Equal(t, units(100).String(), deposit[0].PrincipalAfter.String())
	assert.NotEmpty(t, deposit[0].ID)

	withdraw := f.events.byType(domain.EventWithdraw)
	require.Len(t, withdraw, 1)
	assert.Equal(t, units(60).String(), withdraw[0].PrincipalAfter.String())

	claim := f.events.byType(domain.EventClaim)
	require.Len(t, claim, 1)
	assert.Equal(t, units(10).String(), claim[0].Amount.String())
	assert.Equal(t, rewardAsset, claim[0].Asset)

	rate := f.events.byType(domain.EventRateChange)
	require.Len(t, rate, 1)
	assert.Equal(t, ratePct(10).String(), rate[0].OldRate.String())
	assert.Equal(t, ratePct(20).String(), rate[0].NewRate.String())

	require.Len(t, f.events.byType(domain.EventReserveDeposit), 1)
	require.Len(t, f.events.byType(domain.EventSweep), 1)
}

func TestHydrate(t *testing.T) {
	ctx := context.Background()

	newPersistedFixture := func(t *testing.T, pools *memPoolStore, accounts *memAccountStore) *fixture {
		t.Helper()
		clock := newTestClock()
		assets := mem.New()
		led, err := New(Config{
			PrincipalAsset: stakeAsset,
			RewardAsset:    rewardAsset,
			InitialRate:    ratePct(10),
			Assets:         assets,
			Auth: domain.AuthorizerFunc(func(_ context.Context, caller string) bool {
				return caller == admin
			}),
			Pools:    pools,
			Accounts: accounts,
			Now:      clock.Now,
			Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		})
		require.NoError(t, err)
		assets.Mint(alice, stakeAsset, units(1_000_000))
		assets.Mint(admin, rewardAsset, units(1_000_000))
		return &fixture{ledger: led, assets: assets, clock: clock}
	}

	t.Run("seeds a fresh store and reloads state", func(t *testing.T) {
		pools := newMemPoolStore()
		accounts := newMemAccountStore()

		f := newPersistedFixture(t, pools, accounts)
		require.NoError(t, f.ledger.Hydrate(ctx))
		require.NoError(t, f.ledger.Deposit(ctx, alice, units(100)))
		require.NoError(t, f.ledger.DepositRewardReserve(ctx, admin, units(50)))
		f.clock.Advance(halfYear)
		require.NoError(t, f.ledger.Deposit(ctx, alice, units(1)))

		reloaded := newPersistedFixture(t, pools, accounts)
		require.NoError(t, reloaded.ledger.Hydrate(ctx))

		info := reloaded.ledger.StakeInfo(alice)
		assert.Equal(t, units(101).String(), info.Principal.String())
		assert.Equal(t, units(5).String(), info.UnclaimedReward.String())
		assert.Equal(t, units(101).String(), reloaded.ledger.TotalPrincipal().String())
		assert.Equal(t, units(50).String(), reloaded.ledger.RewardReserve().String())
	})

	t.Run("rejects a store for a different asset pair", func(t *testing.T) {
		pools := newMemPoolStore()
		require.NoError(t, pools.Save(ctx, domain.NewPoolState("OTHER", rewardAsset, ratePct(10))))
		f := newPersistedFixture(t, pools, newMemAccountStore())
		assert.Error(t, f.ledger.Hydrate(ctx))
	})

	t.Run("a failed snapshot is retried by the flush loop", func(t *testing.T) {
		pools := newMemPoolStore()
		accounts := newMemAccountStore()
		f := newPersistedFixture(t, pools, accounts)
		require.NoError(t, f.ledger.Hydrate(ctx))

		accounts.setFailing(true)
		require.NoError(t, f.ledger.Deposit(ctx, alice, units(100)))
		_, err := accounts.GetByAddress(ctx, alice)
		assert.ErrorIs(t, err, domain.ErrNotFound, "write-through failed as arranged")

		accounts.setFailing(false)
		f.ledger.flushDirty(ctx)
		stored, err := accounts.GetByAddress(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, units(100).String(), stored.Principal.String())
	})

	t.Run("flushDirty reports records still failing", func(t *testing.T) {
		pools := newMemPoolStore()
		accounts := newMemAccountStore()
		f := newPersistedFixture(t, pools, accounts)
		require.NoError(t, f.ledger.Hydrate(ctx))

		accounts.setFailing(true)
		require.NoError(t, f.ledger.Deposit(ctx, alice, units(100)))
		assert.Equal(t, 1, f.ledger.flushDirty(ctx), "account row cannot be written yet")

		accounts.setFailing(false)
		assert.Equal(t, 0, f.ledger.flushDirty(ctx))
	})
}

// helpers

type testClock struct {
	mu sync.Mutex
	at time.Time
}

func newTestClock() *testClock { return &testClock{at: t0} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
}

type captureSink struct {
	mu  sync.Mutex
	evs []domain.Event
}

func (s *captureSink) Emit(_ context.Context, ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evs = append(s.evs, ev)
	return nil
}

func (s *captureSink) all() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Event, len(s.evs))
	copy(out, s.evs)
	return out
}

func (s *captureSink) byType(t domain.EventType) []domain.Event {
	var out []domain.Event
	for _, ev := range s.all() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type memPoolStore struct {
	mu    sync.Mutex
	state *domain.PoolState
}

func newMemPoolStore() *memPoolStore { return &memPoolStore{} }

func (s *memPoolStore) Save(_ context.Context, state domain.PoolState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := state.Clone()
	s.state = &c
	return nil
}

func (s *memPoolStore) Get(_ context.Context) (domain.PoolState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return domain.PoolState{}, domain.ErrNotFound
	}
	return s.state.Clone(), nil
}

type memAccountStore struct {
	mu      sync.Mutex
	rows    map[string]domain.Account
	failing bool
}

func newMemAccountStore() *memAccountStore {
	return &memAccountStore{rows: make(map[string]domain.Account)}
}

func (s *memAccountStore) setFailing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = v
}

func (s *memAccountStore) Upsert(_ context.Context, acct domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return fmt.Errorf("store down")
	}
	s.rows[acct.Address] = acct.Clone()
	return nil
}

func (s *memAccountStore) GetByAddress(_ context.Context, addr string) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[addr]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return a.Clone(), nil
}

func (s *memAccountStore) ListAll(_ context.Context) ([]domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Account, 0, len(s.rows))
	for _, a := range s.rows {
		out = append(out, a.Clone())
	}
	return out, nil
}

func (s *memAccountStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}
