// Package notify delivers operator notifications for ledger activity and
// operational alerts. Messages fan out to every configured sender (Telegram,
// Discord) and are filtered by event type, so an operator can subscribe to
// rate changes and reserve alerts without hearing about every deposit.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel ("telegram", "discord").
	Name() string
}

// Notifier dispatches notifications to its senders. Notify drops events
// outside the allowed set and throttles repeats of the same event type
// within the cooldown window; NotifyAll bypasses both.
type Notifier struct {
	senders  []Sender
	events   map[string]struct{}
	cooldown time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time

	now    func() time.Time
	logger *slog.Logger
}

// NewNotifier creates a Notifier over the given senders. Only event types in
// events pass the filter; an empty list allows everything. Throttling is off
// until SetCooldown is called.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]struct{}, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = struct{}{}
	}
	return &Notifier{
		senders:  senders,
		events:   allowed,
		lastSent: make(map[string]time.Time),
		now:      time.Now,
		logger:   logger.With(slog.String("component", "notifier")),
	}
}

// SetCooldown sets the minimum interval between two notifications of the
// same event type. Zero or negative disables throttling. A burst of
// persist_failure events during a database outage becomes one message per
// window instead of one per commit.
func (n *Notifier) SetCooldown(d time.Duration) {
	n.cooldown = d
}

// Notify delivers to all senders if the event type passes the filter and is
// not inside its cooldown window.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 {
		if _, ok := n.events[event]; !ok {
			n.logger.DebugContext(ctx, "event filtered out",
				slog.String("event", event),
			)
			return nil
		}
	}
	if !n.takeSlot(event) {
		n.logger.DebugContext(ctx, "notification throttled",
			slog.String("event", event),
			slog.Duration("cooldown", n.cooldown),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll delivers to all senders regardless of event type or cooldown.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// takeSlot records a send for the event type and reports whether it is
// allowed to go out now.
func (n *Notifier) takeSlot(event string) bool {
	if n.cooldown <= 0 {
		return true
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	if last, ok := n.lastSent[event]; ok && now.Sub(last) < n.cooldown {
		return false
	}
	n.lastSent[event] = now
	return true
}

// dispatch sends to every sender in turn. One sender failing does not stop
// delivery to the rest; the failures come back joined.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	return errors.Join(errs...)
}
