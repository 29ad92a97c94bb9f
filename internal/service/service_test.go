package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stakepool/internal/domain"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ── fakes ──

type fakeView struct {
	accounts []domain.Account
	rate     *big.Int
	reserve  *big.Int
}

func (v *fakeView) AccountsSnapshot() []domain.Account { return v.accounts }
func (v *fakeView) Rate() *big.Int                     { return new(big.Int).Set(v.rate) }
func (v *fakeView) RewardReserve() *big.Int            { return new(big.Int).Set(v.reserve) }

type capturedAlert struct {
	event, title, message string
}

type captureAlerter struct {
	mu     sync.Mutex
	alerts []capturedAlert
}

func (a *captureAlerter) Notify(_ context.Context, event, title, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, capturedAlert{event, title, message})
	return nil
}

type captureBus struct {
	published map[string][][]byte
}

func newCaptureBus() *captureBus {
	return &captureBus{published: make(map[string][][]byte)}
}

func (b *captureBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *captureBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (b *captureBus) StreamAppend(context.Context, string, []byte) error       { return nil }
func (b *captureBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeArchiver struct {
	count     int64
	err       error
	calls     int
	gotBefore time.Time
}

func (a *fakeArchiver) ArchiveEvents(_ context.Context, before time.Time) (int64, error) {
	a.calls++
	a.gotBefore = before
	return a.count, a.err
}

type fakeEventStore struct {
	pruned    int64
	pruneErr  error
	gotBefore time.Time
	calls     int
}

func (s *fakeEventStore) Insert(context.Context, domain.Event) error { return nil }
func (s *fakeEventStore) List(context.Context, domain.ListOpts) ([]domain.Event, error) {
	return nil, nil
}
func (s *fakeEventStore) ListByAccount(context.Context, string, domain.ListOpts) ([]domain.Event, error) {
	return nil, nil
}
func (s *fakeEventStore) ListBefore(context.Context, time.Time, int) ([]domain.Event, error) {
	return nil, nil
}
func (s *fakeEventStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.calls++
	s.gotBefore = cutoff
	return s.pruned, s.pruneErr
}
func (s *fakeEventStore) Count(context.Context) (int64, error) { return 0, nil }

type fakeLocks struct {
	held     bool
	err      error
	keys     []string
	released int
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.keys = append(l.keys, key)
	return func() { l.released++ }, nil
}

// ── reserve monitor ──

// A principal of 31_536_000_000 at a 10% annual rate accrues exactly 1000
// units per second times the rate fraction, keeping expectations round.
func monitorFixture(reserve int64) (*fakeView, time.Time) {
	now := time.Unix(1_700_000_000, 0).UTC()
	acct := domain.Account{
		Address:         "0xa11ce",
		Principal:       big.NewInt(31_536_000_000),
		UnclaimedReward: big.NewInt(500),
		LastSettledAt:   now.Add(-1 * time.Hour),
	}
	view := &fakeView{
		accounts: []domain.Account{acct},
		rate:     big.NewInt(100_000_000_000_000_000), // 10%
		reserve:  big.NewInt(reserve),
	}
	return view, now
}

func TestReserveMonitorProjectedLiability(t *testing.T) {
	view, now := monitorFixture(0)
	m := NewReserveMonitor(view, nil, nil, time.Minute, 30*24*time.Hour, 120, discard())
	m.now = func() time.Time { return now }

	// pending: 500 unclaimed + 360_000 accrued over the hour since settlement.
	// horizon: 259_200_000 over 30 days.
	got := m.projectedLiability()
	require.Equal(t, "259560500", got.String())
}

func TestReserveMonitorAlertsOnceUntilRecovery(t *testing.T) {
	view, now := monitorFixture(100_000_000)
	alerts := &captureAlerter{}
	bus := newCaptureBus()
	m := NewReserveMonitor(view, alerts, bus, time.Minute, 30*24*time.Hour, 120, discard())
	m.now = func() time.Time { return now }

	ctx := context.Background()
	m.Check(ctx)
	m.Check(ctx)

	require.Len(t, alerts.alerts, 1, "alert should latch after the first low reading")
	require.Equal(t, "reserve_low", alerts.alerts[0].event)
	require.Contains(t, alerts.alerts[0].message, "10.00%")
	require.Contains(t, alerts.alerts[0].message, "100000000")
	require.Len(t, bus.published["alerts"], 2, "every low tick publishes to the bus")

	// Coverage back above 120% re-arms the alert.
	view.reserve = big.NewInt(400_000_000)
	m.Check(ctx)
	require.Len(t, alerts.alerts, 1)

	view.reserve = big.NewInt(100_000_000)
	m.Check(ctx)
	require.Len(t, alerts.alerts, 2)
}

func TestReserveMonitorHealthyCoverage(t *testing.T) {
	view, now := monitorFixture(400_000_000)
	alerts := &captureAlerter{}
	bus := newCaptureBus()
	m := NewReserveMonitor(view, alerts, bus, time.Minute, 30*24*time.Hour, 120, discard())
	m.now = func() time.Time { return now }

	m.Check(context.Background())

	require.Empty(t, alerts.alerts)
	require.Empty(t, bus.published)
}

func TestReserveMonitorZeroLiability(t *testing.T) {
	view := &fakeView{
		rate:    big.NewInt(100_000_000_000_000_000),
		reserve: new(big.Int),
	}
	alerts := &captureAlerter{}
	m := NewReserveMonitor(view, alerts, nil, time.Minute, 30*24*time.Hour, 120, discard())

	m.Check(context.Background())

	require.Empty(t, alerts.alerts, "an empty pool owes nothing")
}

// ── archive job ──

func TestArchiveJobRunNow(t *testing.T) {
	archiver := &fakeArchiver{count: 3}
	events := &fakeEventStore{pruned: 3}
	locks := &fakeLocks{}
	now := time.Unix(1_700_000_000, 0).UTC()

	j := NewArchiveJob(archiver, events, locks, nil, "0 0 3 1 * *", 90*24*time.Hour, 5000, discard())
	j.now = func() time.Time { return now }

	require.NoError(t, j.RunNow(context.Background()))

	wantCutoff := now.Add(-90 * 24 * time.Hour)
	require.Equal(t, wantCutoff, archiver.gotBefore)
	require.Equal(t, wantCutoff, events.gotBefore)
	require.Equal(t, 1, events.calls)
	require.Equal(t, []string{"archive:events"}, locks.keys)
	require.Equal(t, 1, locks.released)
}

func TestArchiveJobSkipsWhenLockHeld(t *testing.T) {
	archiver := &fakeArchiver{count: 3}
	events := &fakeEventStore{}
	locks := &fakeLocks{held: true}

	j := NewArchiveJob(archiver, events, locks, nil, "0 0 3 1 * *", time.Hour, 5000, discard())

	require.NoError(t, j.RunNow(context.Background()))
	require.Zero(t, archiver.calls)
	require.Zero(t, events.calls)
}

func TestArchiveJobWithoutLockManager(t *testing.T) {
	archiver := &fakeArchiver{count: 1}
	events := &fakeEventStore{pruned: 1}

	j := NewArchiveJob(archiver, events, nil, nil, "0 0 3 1 * *", time.Hour, 5000, discard())

	require.NoError(t, j.RunNow(context.Background()))
	require.Equal(t, 1, events.calls)
}

func TestArchiveJobNothingToArchive(t *testing.T) {
	archiver := &fakeArchiver{count: 0}
	events := &fakeEventStore{}

	j := NewArchiveJob(archiver, events, nil, nil, "0 0 3 1 * *", time.Hour, 5000, discard())

	require.NoError(t, j.RunNow(context.Background()))
	require.Zero(t, events.calls, "nothing archived, nothing pruned")
}

func TestArchiveJobDefersPruneOnFullBatch(t *testing.T) {
	archiver := &fakeArchiver{count: 3}
	events := &fakeEventStore{}

	j := NewArchiveJob(archiver, events, nil, nil, "0 0 3 1 * *", time.Hour, 3, discard())

	require.NoError(t, j.RunNow(context.Background()))
	require.Zero(t, events.calls, "a capped batch may leave rows un-uploaded")
}

func TestArchiveJobUploadFailure(t *testing.T) {
	archiver := &fakeArchiver{err: errors.New("bucket gone")}
	events := &fakeEventStore{}
	alerts := &captureAlerter{}

	j := NewArchiveJob(archiver, events, nil, alerts, "0 0 3 1 * *", time.Hour, 5000, discard())

	err := j.RunNow(context.Background())
	require.ErrorContains(t, err, "bucket gone")
	require.Zero(t, events.calls)
	require.Len(t, alerts.alerts, 1)
	require.Equal(t, "error", alerts.alerts[0].event)
}

func TestArchiveJobPruneFailure(t *testing.T) {
	archiver := &fakeArchiver{count: 2}
	events := &fakeEventStore{pruneErr: errors.New("db locked")}
	alerts := &captureAlerter{}

	j := NewArchiveJob(archiver, events, nil, alerts, "0 0 3 1 * *", time.Hour, 5000, discard())

	err := j.RunNow(context.Background())
	require.ErrorContains(t, err, "db locked")
	require.Len(t, alerts.alerts, 1)
}

func TestArchiveJobStartRejectsBadSpec(t *testing.T) {
	j := NewArchiveJob(&fakeArchiver{}, &fakeEventStore{}, nil, nil, "not a cron spec", time.Hour, 5000, discard())
	require.Error(t, j.Start())
}
