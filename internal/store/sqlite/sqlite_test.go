package sqlite

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stakepool/internal/domain"
)

func openTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPoolStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewPoolStore(openTestClient(t))

	_, err := store.Get(ctx)
	require.ErrorIs(t, err, domain.ErrNotFound)

	state := domain.NewPoolState("STK", "RWD", big.NewInt(12345))
	state.TotalPrincipal.SetInt64(777)
	state.RewardReserve.SetString("123456789012345678901234567890", 10)
	require.NoError(t, store.Save(ctx, state))

	got, err := store.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.Asset("STK"), got.PrincipalAsset)
	require.Equal(t, domain.Asset("RWD"), got.RewardAsset)
	require.Equal(t, "12345", got.AnnualRate.String())
	require.Equal(t, "777", got.TotalPrincipal.String())
	require.Equal(t, "123456789012345678901234567890", got.RewardReserve.String())

	// A second save replaces the single row rather than adding one.
	state.AnnualRate.SetInt64(999)
	require.NoError(t, store.Save(ctx, state))

	got, err = store.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "999", got.AnnualRate.String())
}

func TestAccountStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore(openTestClient(t))

	_, err := store.GetByAddress(ctx, "0xmissing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	settled := time.Unix(1_700_000_000, 0).UTC()
	acct := domain.Account{
		Address:         "0xa11ce",
		Principal:       big.NewInt(1000),
		UnclaimedReward: big.NewInt(5),
		LastSettledAt:   settled,
	}
	require.NoError(t, store.Upsert(ctx, acct))

	got, err := store.GetByAddress(ctx, "0xa11ce")
	require.NoError(t, err)
	require.Equal(t, "1000", got.Principal.String())
	require.Equal(t, "5", got.UnclaimedReward.String())
	require.True(t, got.LastSettledAt.Equal(settled))

	// Upsert overwrites the existing row.
	acct.Principal = big.NewInt(2500)
	acct.UnclaimedReward = new(big.Int)
	require.NoError(t, store.Upsert(ctx, acct))

	got, err = store.GetByAddress(ctx, "0xa11ce")
	require.NoError(t, err)
	require.Equal(t, "2500", got.Principal.String())
	require.Equal(t, "0", got.UnclaimedReward.String())

	require.NoError(t, store.Upsert(ctx, domain.Account{
		Address:         "0xb0b",
		Principal:       big.NewInt(1),
		UnclaimedReward: new(big.Int),
		LastSettledAt:   settled,
	}))

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "0xa11ce", all[0].Address)
	require.Equal(t, "0xb0b", all[1].Address)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func TestEventStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore(openTestClient(t))

	base := time.Unix(1_700_000_000, 0).UTC()
	ids := []string{"ev-1", "ev-2", "ev-3", "ev-4"}
	accounts := []string{"0xa11ce", "0xb0b", "0xa11ce", "0xa11ce"}
	for i, id := range ids {
		require.NoError(t, store.Insert(ctx, domain.Event{
			ID:             id,
			Type:           domain.EventDeposit,
			Account:        accounts[i],
			Asset:          "STK",
			Amount:         big.NewInt(int64(100 * (i + 1))),
			PrincipalAfter: big.NewInt(int64(100 * (i + 1))),
			CreatedAt:      base.Add(time.Duration(i) * time.Hour),
		}))
	}

	// Newest first.
	all, err := store.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, "ev-4", all[0].ID)
	require.Equal(t, "ev-1", all[3].ID)
	require.Equal(t, "400", all[0].Amount.String())
	require.Equal(t, "400", all[0].PrincipalAfter.String())
	require.Nil(t, all[0].OldRate)

	// Pagination.
	page, err := store.List(ctx, domain.ListOpts{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "ev-3", page[0].ID)
	require.Equal(t, "ev-2", page[1].ID)

	// Time window.
	since := base.Add(90 * time.Minute)
	windowed, err := store.List(ctx, domain.ListOpts{Since: &since})
	require.NoError(t, err)
	require.Len(t, windowed, 2)

	byAcct, err := store.ListByAccount(ctx, "0xa11ce", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, byAcct, 3)
	require.Equal(t, "ev-4", byAcct[0].ID)

	// Oldest first for the archive batch.
	old, err := store.ListBefore(ctx, base.Add(2*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, old, 2)
	require.Equal(t, "ev-1", old[0].ID)
	require.Equal(t, "ev-2", old[1].ID)

	limited, err := store.ListBefore(ctx, base.Add(2*time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	deleted, err := store.DeleteBefore(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 2, deleted)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func TestEventStoreRateChangeFields(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore(openTestClient(t))

	require.NoError(t, store.Insert(ctx, domain.Event{
		ID:        "ev-rate",
		Type:      domain.EventRateChange,
		Account:   "0xadmin",
		Asset:     "RWD",
		Amount:    new(big.Int),
		OldRate:   big.NewInt(100),
		NewRate:   big.NewInt(200),
		CreatedAt: time.Unix(1_700_000_000, 0).UTC(),
	}))

	all, err := store.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, domain.EventRateChange, all[0].Type)
	require.Equal(t, "100", all[0].OldRate.String())
	require.Equal(t, "200", all[0].NewRate.String())
	require.Nil(t, all[0].PrincipalAfter)
}

func TestAuditStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewAuditStore(openTestClient(t))

	require.NoError(t, store.Log(ctx, "rate.change", map[string]any{
		"caller": "0xadmin",
		"rate":   "200000000000000000",
	}))
	require.NoError(t, store.Log(ctx, "archive.events", nil))

	entries, err := store.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "archive.events", entries[0].Event)
	require.Equal(t, "rate.change", entries[1].Event)
	require.Equal(t, "0xadmin", entries[1].Detail["caller"])
}
