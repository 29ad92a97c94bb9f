package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stakepool/internal/domain"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ── fakes ──

type fakeStakeService struct {
	depositErr  error
	withdrawErr error
	claimErr    error
	claimPaid   *big.Int
	gotAccount  string
	gotAmount   *big.Int
}

func (f *fakeStakeService) Deposit(_ context.Context, account string, amount *big.Int) error {
	f.gotAccount, f.gotAmount = account, amount
	return f.depositErr
}

func (f *fakeStakeService) Withdraw(_ context.Context, account string, amount *big.Int) error {
	f.gotAccount, f.gotAmount = account, amount
	return f.withdrawErr
}

func (f *fakeStakeService) Claim(_ context.Context, account string) (*big.Int, error) {
	f.gotAccount = account
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	return f.claimPaid, nil
}

type fakeStakeReader struct {
	account domain.Account
	pending *big.Int
}

func (f *fakeStakeReader) StakeInfo(account string) domain.Account {
	if f.account.Address == account {
		return f.account
	}
	return domain.NewAccount(account)
}

func (f *fakeStakeReader) PendingReward(string) *big.Int {
	return new(big.Int).Set(f.pending)
}

type fakePoolReader struct {
	pool     domain.PoolState
	accounts []domain.Account
}

func (f *fakePoolReader) PoolInfo() domain.PoolState         { return f.pool }
func (f *fakePoolReader) AccountsSnapshot() []domain.Account { return f.accounts }

type fakeAdminService struct {
	err       error
	gotCaller string
	gotRate   *big.Int
	gotAmount *big.Int
	gotAsset  domain.Asset
}

func (f *fakeAdminService) SetRate(_ context.Context, caller string, newRate *big.Int) error {
	f.gotCaller, f.gotRate = caller, newRate
	return f.err
}

func (f *fakeAdminService) DepositRewardReserve(_ context.Context, caller string, amount *big.Int) error {
	f.gotCaller, f.gotAmount = caller, amount
	return f.err
}

func (f *fakeAdminService) SweepForeignAsset(_ context.Context, caller string, asset domain.Asset, amount *big.Int) error {
	f.gotCaller, f.gotAsset, f.gotAmount = caller, asset, amount
	return f.err
}

type fakeAudit struct {
	events  []string
	details []map[string]any
}

func (f *fakeAudit) Log(_ context.Context, event string, detail map[string]any) error {
	f.events = append(f.events, event)
	f.details = append(f.details, detail)
	return nil
}

func (f *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type fakeEventLister struct {
	events     []domain.Event
	gotAccount string
	gotOpts    domain.ListOpts
	byAccount  bool
}

func (f *fakeEventLister) List(_ context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	f.gotOpts = opts
	return f.events, nil
}

func (f *fakeEventLister) ListByAccount(_ context.Context, account string, opts domain.ListOpts) ([]domain.Event, error) {
	f.byAccount = true
	f.gotAccount = account
	f.gotOpts = opts
	return f.events, nil
}

type fakeBlobStore struct {
	infos   []domain.BlobInfo
	deleted []string
}

func (f *fakeBlobStore) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeBlobStore) List(context.Context, string) ([]domain.BlobInfo, error) {
	return f.infos, nil
}

func (f *fakeBlobStore) Exists(context.Context, string) (bool, error) { return true, nil }

func (f *fakeBlobStore) Delete(_ context.Context, path string) error {
	f.deleted = append(f.deleted, path)
	return nil
}

func postJSON(t *testing.T, h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// ── stake handler ──

func TestStakeHandlerDeposit(t *testing.T) {
	svc := &fakeStakeService{}
	h := NewStakeHandler(svc, discard())

	rec := postJSON(t, h.Deposit, `{"account":"0xa11ce","amount":"1000"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "0xa11ce", svc.gotAccount)
	require.Equal(t, "1000", svc.gotAmount.String())
	body := decodeBody(t, rec)
	require.Equal(t, "deposited", body["status"])
	require.Equal(t, "1000", body["amount"])
}

func TestStakeHandlerRejectsBadBodies(t *testing.T) {
	h := NewStakeHandler(&fakeStakeService{}, discard())

	require.Equal(t, http.StatusBadRequest, postJSON(t, h.Deposit, `not json`).Code)
	require.Equal(t, http.StatusBadRequest, postJSON(t, h.Deposit, `{"amount":"10"}`).Code)
	require.Equal(t, http.StatusBadRequest, postJSON(t, h.Deposit, `{"account":"0xa","amount":"ten"}`).Code)
	require.Equal(t, http.StatusBadRequest, postJSON(t, h.Deposit, `{"account":"0xa","amount":"1.5"}`).Code)
}

func TestStakeHandlerErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidAmount, http.StatusBadRequest},
		{domain.ErrInsufficientBalance, http.StatusBadRequest},
		{domain.ErrTransferFailed, http.StatusBadGateway},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := NewStakeHandler(&fakeStakeService{withdrawErr: tc.err}, discard())
		rec := postJSON(t, h.Withdraw, `{"account":"0xa11ce","amount":"5"}`)
		require.Equal(t, tc.want, rec.Code, "error %v", tc.err)
	}
}

func TestStakeHandlerClaim(t *testing.T) {
	svc := &fakeStakeService{claimPaid: big.NewInt(777)}
	h := NewStakeHandler(svc, discard())

	rec := postJSON(t, h.Claim, `{"account":"0xb0b"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "claimed", body["status"])
	require.Equal(t, "777", body["amount"])

	h = NewStakeHandler(&fakeStakeService{claimErr: domain.ErrNothingToClaim}, discard())
	require.Equal(t, http.StatusBadRequest, postJSON(t, h.Claim, `{"account":"0xb0b"}`).Code)
}

// ── account handler ──

func TestAccountHandlerGetAccount(t *testing.T) {
	reader := &fakeStakeReader{
		account: domain.Account{
			Address:         "0xa11ce",
			Principal:       big.NewInt(500),
			UnclaimedReward: big.NewInt(20),
			LastSettledAt:   time.Unix(1_700_000_000, 0).UTC(),
		},
		pending: big.NewInt(25),
	}
	h := NewAccountHandler(reader, discard())

	req := httptest.NewRequest(http.MethodGet, "/api/accounts/0xa11ce", nil)
	req.SetPathValue("address", "0xa11ce")
	rec := httptest.NewRecorder()
	h.GetAccount(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out accountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "500", out.Principal)
	require.Equal(t, "20", out.UnclaimedReward)
	require.Equal(t, "25", out.PendingReward)
}

func TestAccountHandlerUnknownAddressReadsZero(t *testing.T) {
	h := NewAccountHandler(&fakeStakeReader{pending: new(big.Int)}, discard())

	req := httptest.NewRequest(http.MethodGet, "/api/accounts/0xnobody", nil)
	req.SetPathValue("address", "0xnobody")
	rec := httptest.NewRecorder()
	h.GetAccount(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out accountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "0xnobody", out.Address)
	require.Equal(t, "0", out.Principal)
	require.Equal(t, "0", out.PendingReward)
}

func TestAccountHandlerGetPending(t *testing.T) {
	h := NewAccountHandler(&fakeStakeReader{pending: big.NewInt(42)}, discard())

	req := httptest.NewRequest(http.MethodGet, "/api/accounts/0xa11ce/pending", nil)
	req.SetPathValue("address", "0xa11ce")
	rec := httptest.NewRecorder()
	h.GetPending(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "42", body["pending_reward"])
}

// ── pool handler ──

func TestPoolHandlerGetPool(t *testing.T) {
	reader := &fakePoolReader{
		pool: domain.PoolState{
			PrincipalAsset: "STK",
			RewardAsset:    "RWD",
			AnnualRate:     big.NewInt(100_000_000_000_000_000),
			TotalPrincipal: big.NewInt(12345),
			RewardReserve:  big.NewInt(999),
		},
		accounts: []domain.Account{domain.NewAccount("0xa"), domain.NewAccount("0xb")},
	}
	h := NewPoolHandler(reader, discard())

	req := httptest.NewRequest(http.MethodGet, "/api/pool", nil)
	rec := httptest.NewRecorder()
	h.GetPool(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out poolResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "STK", out.PrincipalAsset)
	require.Equal(t, "100000000000000000", out.AnnualRate)
	require.Equal(t, "10.00%", out.AnnualRatePercent)
	require.Equal(t, "12345", out.TotalPrincipal)
	require.Equal(t, 2, out.Accounts)
}

// ── admin handler ──

func TestAdminHandlerSetRate(t *testing.T) {
	svc := &fakeAdminService{}
	audit := &fakeAudit{}
	h := NewAdminHandler(svc, audit, nil, nil, discard())

	rec := postJSON(t, h.SetRate, `{"caller":"0xadmin","rate":"200000000000000000"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "0xadmin", svc.gotCaller)
	require.Equal(t, "200000000000000000", svc.gotRate.String())
	require.Equal(t, []string{"admin.rate_change"}, audit.events)
	require.Equal(t, "0xadmin", audit.details[0]["caller"])
}

func TestAdminHandlerNoAuditOnFailure(t *testing.T) {
	audit := &fakeAudit{}
	h := NewAdminHandler(&fakeAdminService{err: domain.ErrUnauthorized}, audit, nil, nil, discard())

	rec := postJSON(t, h.SetRate, `{"caller":"0xmallory","rate":"1"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Empty(t, audit.events)
}

func TestAdminHandlerUnauthorized(t *testing.T) {
	h := NewAdminHandler(&fakeAdminService{err: domain.ErrUnauthorized}, nil, nil, nil, discard())

	rec := postJSON(t, h.SetRate, `{"caller":"0xmallory","rate":"1"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminHandlerSweep(t *testing.T) {
	svc := &fakeAdminService{}
	h := NewAdminHandler(svc, nil, nil, nil, discard())

	rec := postJSON(t, h.Sweep, `{"caller":"0xadmin","asset":"FOO","amount":"10"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, domain.Asset("FOO"), svc.gotAsset)
	require.Equal(t, "10", svc.gotAmount.String())

	rec = postJSON(t, h.Sweep, `{"caller":"0xadmin","amount":"10"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code, "asset is required")

	h = NewAdminHandler(&fakeAdminService{err: domain.ErrForbiddenAsset}, nil, nil, nil, discard())
	rec = postJSON(t, h.Sweep, `{"caller":"0xadmin","asset":"STK","amount":"10"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminHandlerDepositReserve(t *testing.T) {
	svc := &fakeAdminService{}
	h := NewAdminHandler(svc, nil, nil, nil, discard())

	rec := postJSON(t, h.DepositReserve, `{"caller":"0xadmin","amount":"5000"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "5000", svc.gotAmount.String())
}

func TestAdminHandlerAuditUnavailable(t *testing.T) {
	h := NewAdminHandler(&fakeAdminService{}, nil, nil, nil, discard())

	req := httptest.NewRequest(http.MethodGet, "/api/admin/audit", nil)
	rec := httptest.NewRecorder()
	h.ListAudit(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdminHandlerArchives(t *testing.T) {
	blobs := &fakeBlobStore{infos: []domain.BlobInfo{{
		Path: "archive/events/2024-01.jsonl",
		Size: 2048,
	}}}
	audit := &fakeAudit{}
	h := NewAdminHandler(&fakeAdminService{}, audit, blobs, blobs, discard())

	req := httptest.NewRequest(http.MethodGet, "/api/admin/archives", nil)
	rec := httptest.NewRecorder()
	h.ListArchives(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "archive/events/2024-01.jsonl")

	req = httptest.NewRequest(http.MethodDelete, "/api/admin/archives/archive/events/2024-01.jsonl", nil)
	req.SetPathValue("path", "archive/events/2024-01.jsonl")
	rec = httptest.NewRecorder()
	h.DeleteArchive(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"archive/events/2024-01.jsonl"}, blobs.deleted)
	require.Equal(t, []string{"admin.archive_delete"}, audit.events)

	// Keys outside the archive prefix are refused.
	req = httptest.NewRequest(http.MethodDelete, "/api/admin/archives/secrets.txt", nil)
	req.SetPathValue("path", "secrets.txt")
	rec = httptest.NewRecorder()
	h.DeleteArchive(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Len(t, blobs.deleted, 1)
}

func TestAdminHandlerArchivesUnavailable(t *testing.T) {
	h := NewAdminHandler(&fakeAdminService{}, nil, nil, nil, discard())

	rec := httptest.NewRecorder()
	h.ListArchives(rec, httptest.NewRequest(http.MethodGet, "/api/admin/archives", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.DeleteArchive(rec, httptest.NewRequest(http.MethodDelete, "/api/admin/archives/archive/x", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// ── event handler ──

func TestEventHandlerListEvents(t *testing.T) {
	lister := &fakeEventLister{
		events: []domain.Event{{
			ID:        "ev-1",
			Type:      domain.EventDeposit,
			Account:   "0xa11ce",
			Asset:     "STK",
			Amount:    big.NewInt(100),
			CreatedAt: time.Unix(1_700_000_000, 0).UTC(),
		}},
	}
	h := NewEventHandler(lister, discard())

	req := httptest.NewRequest(http.MethodGet, "/api/events?limit=10&offset=5", nil)
	rec := httptest.NewRecorder()
	h.ListEvents(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, lister.byAccount)
	require.Equal(t, 10, lister.gotOpts.Limit)
	require.Equal(t, 5, lister.gotOpts.Offset)

	var out listEventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Events, 1)
	require.Equal(t, "100", out.Events[0].Amount)
}

func TestEventHandlerAccountFilter(t *testing.T) {
	lister := &fakeEventLister{}
	h := NewEventHandler(lister, discard())

	req := httptest.NewRequest(http.MethodGet, "/api/events?account=0xb0b&since=1700000000", nil)
	rec := httptest.NewRecorder()
	h.ListEvents(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, lister.byAccount)
	require.Equal(t, "0xb0b", lister.gotAccount)
	require.NotNil(t, lister.gotOpts.Since)
	require.Equal(t, int64(1_700_000_000), lister.gotOpts.Since.Unix())
}

// ── helpers ──

func TestParseTimeParam(t *testing.T) {
	require.Nil(t, parseTimeParam(""))
	require.Nil(t, parseTimeParam("yesterday"))

	got := parseTimeParam("2024-01-02T03:04:05Z")
	require.NotNil(t, got)
	require.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), *got)

	got = parseTimeParam("1700000000")
	require.NotNil(t, got)
	require.Equal(t, int64(1_700_000_000), got.Unix())
}

func TestParseListOptsClampsLimit(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/events?limit=9999", nil)
	opts := parseListOpts(req)
	require.Equal(t, 500, opts.Limit)

	req = httptest.NewRequest(http.MethodGet, "/api/events", nil)
	opts = parseListOpts(req)
	require.Equal(t, 50, opts.Limit)
	require.Zero(t, opts.Offset)
}
