package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/stakepool/internal/domain"
	"github.com/alanyoungcy/stakepool/internal/events"
)

// EventLister defines the event history queries the handler requires.
type EventLister interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error)
	ListByAccount(ctx context.Context, account string, opts domain.ListOpts) ([]domain.Event, error)
}

// EventHandler serves the ledger event history endpoint.
type EventHandler struct {
	store  EventLister
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler backed by the given store.
func NewEventHandler(store EventLister, logger *slog.Logger) *EventHandler {
	return &EventHandler{store: store, logger: logger}
}

// listEventsResponse wraps the event list response.
type listEventsResponse struct {
	Events []events.Payload `json:"events"`
}

// ListEvents returns ledger events, newest first, optionally filtered to one
// account and a time window.
// GET /api/events?account=0x...&limit=50&offset=0&since=...&until=...
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	account := r.URL.Query().Get("account")

	var (
		evs []domain.Event
		err error
	)
	if account != "" {
		evs, err = h.store.ListByAccount(r.Context(), account, opts)
	} else {
		evs, err = h.store.List(r.Context(), opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list events failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	out := make([]events.Payload, 0, len(evs))
	for _, ev := range evs {
		out = append(out, events.NewPayload(ev))
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Events: out})
}
