// Package events defines the wire form of ledger events and the publisher
// that fans committed operations out to the event store and the signal bus.
//
// Pub/sub channels carry JSON payloads. The durable stream carries binary
// protobuf Struct envelopes so external consumers can replay history without
// caring about JSON number precision.
package events

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/stakepool/internal/domain"
)

// Bus channel and stream names. ChannelAll carries every event; the typed
// channels carry only their own kind.
const (
	ChannelAll         = "events"
	ChannelDeposits    = "deposits"
	ChannelWithdrawals = "withdrawals"
	ChannelClaims      = "claims"
	ChannelRates       = "rate_changes"
	ChannelTreasury    = "treasury"

	StreamEvents = "stream:events"
)

// ChannelFor maps an event type to its dedicated bus channel.
func ChannelFor(t domain.EventType) string {
	switch t {
	case domain.EventDeposit:
		return ChannelDeposits
	case domain.EventWithdraw:
		return ChannelWithdrawals
	case domain.EventClaim:
		return ChannelClaims
	case domain.EventRateChange:
		return ChannelRates
	case domain.EventReserveDeposit, domain.EventSweep:
		return ChannelTreasury
	default:
		return ChannelAll
	}
}

// Payload is the JSON wire form of a ledger event. Amounts travel as base-10
// strings; JSON numbers cannot hold 1e18-scale integers.
type Payload struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Account        string    `json:"account"`
	Asset          string    `json:"asset"`
	Amount         string    `json:"amount"`
	PrincipalAfter string    `json:"principal_after,omitempty"`
	OldRate        string    `json:"old_rate,omitempty"`
	NewRate        string    `json:"new_rate,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewPayload converts a domain event to its wire form.
func NewPayload(ev domain.Event) Payload {
	p := Payload{
		ID:        ev.ID,
		Type:      string(ev.Type),
		Account:   ev.Account,
		Asset:     string(ev.Asset),
		Amount:    "0",
		CreatedAt: ev.CreatedAt,
	}
	if ev.Amount != nil {
		p.Amount = ev.Amount.String()
	}
	if ev.PrincipalAfter != nil {
		p.PrincipalAfter = ev.PrincipalAfter.String()
	}
	if ev.OldRate != nil {
		p.OldRate = ev.OldRate.String()
	}
	if ev.NewRate != nil {
		p.NewRate = ev.NewRate.String()
	}
	return p
}

// EncodeStream renders the payload as a binary protobuf Struct envelope for
// the durable stream.
func EncodeStream(ev domain.Event) ([]byte, error) {
	p := NewPayload(ev)

	fields := map[string]any{
		"id":         p.ID,
		"type":       p.Type,
		"account":    p.Account,
		"asset":      p.Asset,
		"amount":     p.Amount,
		"created_at": p.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if p.PrincipalAfter != "" {
		fields["principal_after"] = p.PrincipalAfter
	}
	if p.OldRate != "" {
		fields["old_rate"] = p.OldRate
	}
	if p.NewRate != "" {
		fields["new_rate"] = p.NewRate
	}

	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("events: build struct for %s: %w", p.ID, err)
	}
	raw, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("events: marshal struct for %s: %w", p.ID, err)
	}
	return raw, nil
}

// DecodeStream parses a binary stream envelope back into a payload.
func DecodeStream(raw []byte) (Payload, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(raw, &st); err != nil {
		return Payload{}, fmt.Errorf("events: unmarshal stream envelope: %w", err)
	}

	m := st.AsMap()
	p := Payload{
		ID:             asString(m["id"]),
		Type:           asString(m["type"]),
		Account:        asString(m["account"]),
		Asset:          asString(m["asset"]),
		Amount:         asString(m["amount"]),
		PrincipalAfter: asString(m["principal_after"]),
		OldRate:        asString(m["old_rate"]),
		NewRate:        asString(m["new_rate"]),
	}
	if ts := asString(m["created_at"]); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return Payload{}, fmt.Errorf("events: stream envelope created_at %q: %w", ts, err)
		}
		p.CreatedAt = t
	}
	if p.ID == "" || p.Type == "" {
		return Payload{}, fmt.Errorf("events: stream envelope missing id or type")
	}
	return p, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
