package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/alanyoungcy/stakepool/internal/domain"
	"github.com/alanyoungcy/stakepool/internal/events"
)

// Listener bridges ledger events from the signal bus to the notifier so
// operators hear about rate changes and treasury movements as they commit.
// Which event types actually reach a sender is decided by the notifier's
// allowed-events filter.
type Listener struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewListener creates a Listener over the given bus and notifier.
func NewListener(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Listener {
	return &Listener{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_listener")),
	}
}

// Run consumes the firehose channel until the context is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	ch, err := l.bus.Subscribe(ctx, events.ChannelAll)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", events.ChannelAll, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-ch:
			if !ok {
				return nil
			}
			var p events.Payload
			if err := json.Unmarshal(raw, &p); err != nil {
				l.logger.WarnContext(ctx, "bad event payload",
					slog.String("error", err.Error()),
				)
				continue
			}
			event, title, message := formatEvent(p)
			if err := l.notifier.Notify(ctx, event, title, message); err != nil {
				l.logger.WarnContext(ctx, "notify failed",
					slog.String("event", event),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// formatEvent renders one ledger event as an operator notification.
func formatEvent(p events.Payload) (event, title, message string) {
	switch domain.EventType(p.Type) {
	case domain.EventDeposit:
		return "deposit", "Stake deposited",
			fmt.Sprintf("%s staked %s %s (principal now %s)", p.Account, p.Amount, p.Asset, p.PrincipalAfter)
	case domain.EventWithdraw:
		return "withdraw", "Stake withdrawn",
			fmt.Sprintf("%s withdrew %s %s (principal now %s)", p.Account, p.Amount, p.Asset, p.PrincipalAfter)
	case domain.EventClaim:
		return "claim", "Reward claimed",
			fmt.Sprintf("%s claimed %s %s", p.Account, p.Amount, p.Asset)
	case domain.EventRateChange:
		return "rate_change", "Annual rate changed",
			fmt.Sprintf("%s to %s by %s", FormatRatePercent(p.OldRate), FormatRatePercent(p.NewRate), p.Account)
	case domain.EventReserveDeposit:
		return "reserve_deposit", "Reward reserve funded",
			fmt.Sprintf("%s added %s %s to the reserve", p.Account, p.Amount, p.Asset)
	case domain.EventSweep:
		return "sweep", "Foreign asset swept",
			fmt.Sprintf("%s swept %s %s", p.Account, p.Amount, p.Asset)
	default:
		return string(p.Type), "Ledger event",
			fmt.Sprintf("%s: %s %s", p.Account, p.Amount, p.Asset)
	}
}

// FormatRatePercent renders a 1e18-scaled annual rate as a percentage with
// two decimals.
func FormatRatePercent(rate string) string {
	r, ok := new(big.Int).SetString(rate, 10)
	if !ok {
		return rate
	}
	pct := new(big.Rat).SetFrac(
		new(big.Int).Mul(r, big.NewInt(100)),
		big.NewInt(domain.RatePrecision),
	)
	return pct.FloatString(2) + "%"
}
