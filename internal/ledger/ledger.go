package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/alanyoungcy/stakepool/internal/domain"
)

const defaultFlushInterval = 30 * time.Second

// EventSink receives events for committed operations. Sink failures are
// logged and never surfaced to the operation's caller.
type EventSink interface {
	Emit(ctx context.Context, ev domain.Event) error
}

// Alerter receives operational alerts when snapshots keep failing.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config wires a Ledger's collaborators. Assets and Auth are required; the
// stores, sink and alerter are optional (a nil store disables write-through
// for that record type, a nil sink disables events).
type Config struct {
	PrincipalAsset domain.Asset
	RewardAsset    domain.Asset
	InitialRate    *big.Int

	Assets   domain.AssetLedger
	Auth     domain.Authorizer
	Pools    domain.PoolStore
	Accounts domain.AccountStore
	Events   EventSink
	Alerts   Alerter

	FlushInterval time.Duration
	Now           func() time.Time
	Logger        *slog.Logger
}

// entry pairs one account's state with the mutex that serializes every
// operation touching it, external transfer included.
type entry struct {
	mu    sync.Mutex
	acct  domain.Account
	dirty bool
}

// Ledger is the accrual and settlement engine. In-memory state is
// authoritative; the stores receive write-through snapshots after each
// committed operation and are replayed at boot via Hydrate.
type Ledger struct {
	assets domain.AssetLedger
	auth   domain.Authorizer

	pools    domain.PoolStore
	accounts domain.AccountStore
	sink     EventSink
	alerts   Alerter

	flushInterval time.Duration
	now           func() time.Time
	logger        *slog.Logger

	// mu guards pool and the entries map. Lock order: entry.mu before mu;
	// mu is never held while acquiring an entry lock.
	mu        sync.RWMutex
	pool      domain.PoolState
	entries   map[string]*entry
	poolDirty bool

	// persistMu serializes pool snapshots so a slow save cannot overwrite
	// a newer one.
	persistMu sync.Mutex
}

// New builds a Ledger over the two configured assets.
func New(cfg Config) (*Ledger, error) {
	if cfg.Assets == nil {
		return nil, errors.New("ledger: asset ledger is required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("ledger: authorizer is required")
	}
	if cfg.PrincipalAsset == "" || cfg.RewardAsset == "" {
		return nil, errors.New("ledger: principal and reward assets must be set")
	}
	rate := new(big.Int)
	if cfg.InitialRate != nil {
		if cfg.InitialRate.Sign() < 0 {
			return nil, errors.New("ledger: initial rate must be non-negative")
		}
		rate.Set(cfg.InitialRate)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = defaultFlushInterval
	}
	return &Ledger{
		assets:        cfg.Assets,
		auth:          cfg.Auth,
		pools:         cfg.Pools,
		accounts:      cfg.Accounts,
		sink:          cfg.Events,
		alerts:        cfg.Alerts,
		flushInterval: flush,
		now:           now,
		logger:        logger.With(slog.String("component", "ledger")),
		pool:          domain.NewPoolState(cfg.PrincipalAsset, cfg.RewardAsset, rate),
		entries:       make(map[string]*entry),
	}, nil
}

// Hydrate loads persisted pool and account state. A missing pool record
// means a fresh deployment and seeds the store from the configuration; a
// pool record whose assets disagree with the configuration fails the boot.
func (l *Ledger) Hydrate(ctx context.Context) error {
	if l.pools != nil {
		stored, err := l.pools.Get(ctx)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			l.mu.RLock()
			snap := l.pool.Clone()
			l.mu.RUnlock()
			if err := l.pools.Save(ctx, snap); err != nil {
				return fmt.Errorf("ledger: seed pool record: %w", err)
			}
		case err != nil:
			return fmt.Errorf("ledger: load pool record: %w", err)
		default:
			if stored.PrincipalAsset != l.pool.PrincipalAsset || stored.RewardAsset != l.pool.RewardAsset {
				return fmt.Errorf("ledger: stored pool assets (%s, %s) do not match configuration (%s, %s)",
					stored.PrincipalAsset, stored.RewardAsset, l.pool.PrincipalAsset, l.pool.RewardAsset)
			}
			l.mu.Lock()
			l.pool = stored.Clone()
			l.mu.Unlock()
		}
	}
	if l.accounts != nil {
		accts, err := l.accounts.ListAll(ctx)
		if err != nil {
			return fmt.Errorf("ledger: load accounts: %w", err)
		}
		l.mu.Lock()
		for _, a := range accts {
			l.entries[a.Address] = &entry{acct: a.Clone()}
		}
		n := len(l.entries)
		l.mu.Unlock()
		l.logger.InfoContext(ctx, "ledger hydrated",
			slog.Int("accounts", n),
			slog.String("total_principal", l.TotalPrincipal().String()))
	}
	return nil
}

// Run retries dirty snapshots until ctx is cancelled, then performs a final
// flush so a clean shutdown leaves the stores current.
func (l *Ledger) Run(ctx context.Context) error {
	if l.pools == nil && l.accounts == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()
	l.logger.InfoContext(ctx, "snapshot flush loop started",
		slog.Duration("interval", l.flushInterval))
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			l.flushDirty(flushCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			if failed := l.flushDirty(ctx); failed > 0 {
				l.alert(ctx, fmt.Sprintf("%d snapshot(s) could not be written and will be retried", failed))
			}
		}
	}
}

// alert notifies the operator about snapshots that keep failing. The
// notifier's own cooldown keeps a long outage from producing a message per
// flush tick.
func (l *Ledger) alert(ctx context.Context, message string) {
	if l.alerts == nil {
		return
	}
	if err := l.alerts.Notify(ctx, "persist_failure", "Ledger snapshots failing", message); err != nil {
		l.logger.WarnContext(ctx, "alert delivery failed",
			slog.String("error", err.Error()))
	}
}

// entryFor returns the entry for account, creating a zero-valued one if
// absent. Absent and zero-valued accounts are indistinguishable.
func (l *Ledger) entryFor(account string) *entry {
	l.mu.RLock()
	e := l.entries[account]
	l.mu.RUnlock()
	if e != nil {
		return e
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if e := l.entries[account]; e != nil {
		return e
	}
	e = &entry{acct: domain.NewAccount(account)}
	l.entries[account] = e
	return e
}

// lookup returns the entry for account without materializing one.
func (l *Ledger) lookup(account string) *entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries[account]
}

// settle folds the accrual since the account's last settlement into its
// unclaimed reward and advances the settlement time. Caller holds e.mu.
// Settlement works at whole-second granularity and never moves the
// settlement time backwards. Calling twice at the same instant is a no-op
// the second time.
func (l *Ledger) settle(e *entry, now time.Time) {
	nowUnix := now.Unix()
	lastUnix := e.acct.LastSettledAt.Unix()
	if nowUnix <= lastUnix {
		return
	}
	if e.acct.Principal.Sign() > 0 {
		accrued := Accrue(e.acct.Principal, l.currentRate(), nowUnix-lastUnix)
		if accrued.Sign() > 0 {
			e.acct.UnclaimedReward.Add(e.acct.UnclaimedReward, accrued)
		}
	}
	e.acct.LastSettledAt = time.Unix(nowUnix, 0).UTC()
}

func (l *Ledger) currentRate() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.pool.AnnualRate)
}

// PendingReward returns the amount a claim would pay right now: the frozen
// unclaimed reward plus the unsettled accrual. Nothing is written back. An
// account with zero principal accrues nothing regardless of elapsed time.
func (l *Ledger) PendingReward(account string) *big.Int {
	e := l.lookup(account)
	if e == nil {
		return new(big.Int)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	pending := new(big.Int).Set(e.acct.UnclaimedReward)
	if e.acct.Principal.Sign() > 0 {
		elapsed := l.now().Unix() - e.acct.LastSettledAt.Unix()
		pending.Add(pending, Accrue(e.acct.Principal, l.currentRate(), elapsed))
	}
	return pending
}

// StakeInfo returns a copy of the account's current state. Unknown accounts
// report zero values.
func (l *Ledger) StakeInfo(account string) domain.Account {
	e := l.lookup(account)
	if e == nil {
		return domain.NewAccount(account)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acct.Clone()
}

// PoolInfo returns a copy of the pool-wide state.
func (l *Ledger) PoolInfo() domain.PoolState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pool.Clone()
}

// TotalPrincipal returns the sum of all accounts' principal.
func (l *Ledger) TotalPrincipal() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.pool.TotalPrincipal)
}

// Rate returns the current annual rate (RatePrecision scale).
func (l *Ledger) Rate() *big.Int {
	return l.currentRate()
}

// RewardReserve returns the tracked reward reserve.
func (l *Ledger) RewardReserve() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.pool.RewardReserve)
}

// AccountsSnapshot returns a copy of every account currently tracked.
func (l *Ledger) AccountsSnapshot() []domain.Account {
	l.mu.RLock()
	entries := make([]*entry, 0, len(l.entries))
	for _, e := range l.entries {
		entries = append(entries, e)
	}
	l.mu.RUnlock()
	out := make([]domain.Account, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.acct.Clone())
		e.mu.Unlock()
	}
	return out
}

// commit runs the post-transfer bookkeeping for a successful operation:
// write-through snapshots and event emission. Failures here do not fail the
// operation; the assets already moved.
func (l *Ledger) commit(ctx context.Context, e *entry, ev domain.Event) {
	if e != nil {
		l.persistAccount(ctx, e)
	}
	l.persistPool(ctx)
	l.emit(ctx, ev)
}

func (l *Ledger) persistAccount(ctx context.Context, e *entry) {
	if l.accounts == nil {
		return
	}
	if err := l.accounts.Upsert(ctx, e.acct.Clone()); err != nil {
		e.dirty = true
		l.logger.WarnContext(ctx, "account snapshot failed, queued for retry",
			slog.String("account", e.acct.Address),
			slog.String("error", err.Error()))
		return
	}
	e.dirty = false
}

func (l *Ledger) persistPool(ctx context.Context) {
	if l.pools == nil {
		return
	}
	l.persistMu.Lock()
	defer l.persistMu.Unlock()
	l.mu.RLock()
	snap := l.pool.Clone()
	l.mu.RUnlock()
	if err := l.pools.Save(ctx, snap); err != nil {
		l.mu.Lock()
		l.poolDirty = true
		l.mu.Unlock()
		l.logger.WarnContext(ctx, "pool snapshot failed, queued for retry",
			slog.String("error", err.Error()))
		return
	}
	l.mu.Lock()
	l.poolDirty = false
	l.mu.Unlock()
}

func (l *Ledger) emit(ctx context.Context, ev domain.Event) {
	if l.sink == nil {
		return
	}
	if err := l.sink.Emit(ctx, ev); err != nil {
		l.logger.WarnContext(ctx, "event emit failed",
			slog.String("event", string(ev.Type)),
			slog.String("error", err.Error()))
	}
}

// flushDirty retries every record whose last snapshot failed and returns how
// many are still dirty afterwards.
func (l *Ledger) flushDirty(ctx context.Context) int {
	l.mu.RLock()
	poolDirty := l.poolDirty
	dirty := make([]*entry, 0)
	for _, e := range l.entries {
		dirty = append(dirty, e)
	}
	l.mu.RUnlock()

	failed := 0
	if poolDirty {
		l.persistPool(ctx)
		l.mu.RLock()
		if l.poolDirty {
			failed++
		}
		l.mu.RUnlock()
	}
	for _, e := range dirty {
		e.mu.Lock()
		if e.dirty {
			l.persistAccount(ctx, e)
			if e.dirty {
				failed++
			}
		}
		e.mu.Unlock()
	}
	return failed
}
