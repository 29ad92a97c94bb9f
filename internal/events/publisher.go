package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/stakepool/internal/domain"
)

// Publisher fans committed ledger operations out to the event store and the
// signal bus. It is the ledger's event sink.
//
// The store insert is the part that matters: its failure is returned to the
// caller. Bus publishes are best effort; a flaky Redis must not make the
// ledger believe a committed operation failed.
type Publisher struct {
	store  domain.EventStore
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewPublisher creates a Publisher. The bus may be nil, in which case events
// are only persisted.
func NewPublisher(store domain.EventStore, bus domain.SignalBus, logger *slog.Logger) *Publisher {
	return &Publisher{
		store:  store,
		bus:    bus,
		logger: logger.With(slog.String("component", "events")),
	}
}

// Emit persists the event and publishes it to the bus.
func (p *Publisher) Emit(ctx context.Context, ev domain.Event) error {
	if err := p.store.Insert(ctx, ev); err != nil {
		return fmt.Errorf("events: insert %s: %w", ev.ID, err)
	}

	if p.bus == nil {
		return nil
	}

	raw, err := json.Marshal(NewPayload(ev))
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", ev.ID, err)
	}

	if err := p.bus.Publish(ctx, ChannelAll, raw); err != nil {
		p.logger.WarnContext(ctx, "publish failed",
			slog.String("channel", ChannelAll),
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()),
		)
	}
	if ch := ChannelFor(ev.Type); ch != ChannelAll {
		if err := p.bus.Publish(ctx, ch, raw); err != nil {
			p.logger.WarnContext(ctx, "publish failed",
				slog.String("channel", ch),
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	bin, err := EncodeStream(ev)
	if err != nil {
		p.logger.WarnContext(ctx, "stream encode failed",
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if err := p.bus.StreamAppend(ctx, StreamEvents, bin); err != nil {
		p.logger.WarnContext(ctx, "stream append failed",
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
