package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PoolStore persists the single pool-wide record.
type PoolStore interface {
	Save(ctx context.Context, state PoolState) error
	Get(ctx context.Context) (PoolState, error)
}

// AccountStore persists per-account ledger state.
type AccountStore interface {
	Upsert(ctx context.Context, acct Account) error
	GetByAddress(ctx context.Context, addr string) (Account, error)
	ListAll(ctx context.Context) ([]Account, error)
	Count(ctx context.Context) (int64, error)
}

// EventStore persists the append-only ledger event history. ListBefore and
// DeleteBefore exist for the retention job: archive first, prune after the
// upload is confirmed.
type EventStore interface {
	Insert(ctx context.Context, ev Event) error
	List(ctx context.Context, opts ListOpts) ([]Event, error)
	ListByAccount(ctx context.Context, account string, opts ListOpts) ([]Event, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]Event, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only operational audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
