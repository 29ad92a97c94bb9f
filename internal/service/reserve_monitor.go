package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/stakepool/internal/domain"
	"github.com/alanyoungcy/stakepool/internal/ledger"
	"github.com/alanyoungcy/stakepool/internal/notify"
)

// LedgerView is the read surface the monitor inspects each tick.
type LedgerView interface {
	AccountsSnapshot() []domain.Account
	Rate() *big.Int
	RewardReserve() *big.Int
}

// Alerter delivers operator alerts. *notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// ReserveMonitor projects the pool's reward liability over a horizon and
// raises an alert when the reserve falls below the required coverage. One
// alert per excursion: it re-arms only after coverage recovers.
type ReserveMonitor struct {
	view     LedgerView
	alerts   Alerter
	bus      domain.SignalBus
	interval time.Duration
	horizon  time.Duration
	minPct   int64
	now      func() time.Time
	logger   *slog.Logger

	alerted bool
}

// NewReserveMonitor creates a ReserveMonitor. minCoveragePct is the required
// reserve-to-liability ratio in percent (120 means the reserve must hold at
// least 1.2x the projected liability). alerts and bus may be nil.
func NewReserveMonitor(
	view LedgerView,
	alerts Alerter,
	bus domain.SignalBus,
	interval time.Duration,
	horizon time.Duration,
	minCoveragePct int64,
	logger *slog.Logger,
) *ReserveMonitor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if horizon <= 0 {
		horizon = 30 * 24 * time.Hour
	}
	if minCoveragePct <= 0 {
		minCoveragePct = 100
	}
	return &ReserveMonitor{
		view:     view,
		alerts:   alerts,
		bus:      bus,
		interval: interval,
		horizon:  horizon,
		minPct:   minCoveragePct,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "reserve_monitor")),
	}
}

// Run evaluates coverage on a fixed interval. Call in a goroutine.
func (m *ReserveMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check performs one coverage evaluation.
func (m *ReserveMonitor) Check(ctx context.Context) {
	reserve := m.view.RewardReserve()
	liability := m.projectedLiability()

	if liability.Sign() == 0 {
		m.recover(ctx, reserve, liability)
		return
	}

	// coverage% = reserve * 100 / liability, floored.
	coverage := new(big.Int).Mul(reserve, big.NewInt(100))
	coverage.Quo(coverage, liability)

	if coverage.Cmp(big.NewInt(m.minPct)) >= 0 {
		m.recover(ctx, reserve, liability)
		return
	}

	m.logger.WarnContext(ctx, "reward reserve below required coverage",
		slog.String("reserve", reserve.String()),
		slog.String("projected_liability", liability.String()),
		slog.String("coverage_pct", coverage.String()),
		slog.Int64("required_pct", m.minPct),
	)

	if m.bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"event":               "reserve_low",
			"reserve":             reserve.String(),
			"projected_liability": liability.String(),
			"coverage_pct":        coverage.String(),
			"required_pct":        m.minPct,
		})
		_ = m.bus.Publish(ctx, "alerts", payload)
	}

	if m.alerted || m.alerts == nil {
		return
	}
	m.alerted = true

	msg := "reserve " + reserve.String() +
		", projected liability " + liability.String() +
		" over " + m.horizon.String() +
		" at rate " + notify.FormatRatePercent(m.view.Rate().String()) +
		" (coverage " + coverage.String() + "%, required " +
		big.NewInt(m.minPct).String() + "%)"
	if err := m.alerts.Notify(ctx, "reserve_low", "Reward reserve low", msg); err != nil {
		m.logger.WarnContext(ctx, "reserve alert failed", slog.String("error", err.Error()))
	}
}

// recover clears the alert latch once coverage is healthy again.
func (m *ReserveMonitor) recover(ctx context.Context, reserve, liability *big.Int) {
	if !m.alerted {
		return
	}
	m.alerted = false
	m.logger.InfoContext(ctx, "reward reserve coverage recovered",
		slog.String("reserve", reserve.String()),
		slog.String("projected_liability", liability.String()),
	)
}

// projectedLiability sums, per account, the reward already owed plus what
// would accrue over the horizon at the current rate.
func (m *ReserveMonitor) projectedLiability() *big.Int {
	rate := m.view.Rate()
	now := m.now().UTC()
	horizonSecs := int64(m.horizon / time.Second)

	total := new(big.Int)
	for _, acct := range m.view.AccountsSnapshot() {
		total.Add(total, acct.UnclaimedReward)

		elapsed := now.Unix() - acct.LastSettledAt.Unix()
		total.Add(total, ledger.Accrue(acct.Principal, rate, elapsed))
		total.Add(total, ledger.Accrue(acct.Principal, rate, horizonSecs))
	}
	return total
}
