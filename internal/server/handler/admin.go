package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/stakepool/internal/domain"
)

// AdminService defines the operator mutations the admin handler requires.
type AdminService interface {
	SetRate(ctx context.Context, caller string, newRate *big.Int) error
	DepositRewardReserve(ctx context.Context, caller string, amount *big.Int) error
	SweepForeignAsset(ctx context.Context, caller string, asset domain.Asset, amount *big.Int) error
}

// AdminHandler serves operator endpoints. Every request body carries the
// caller identity; the ledger's authorizer decides whether it may act.
type AdminHandler struct {
	ledger  AdminService
	audit   domain.AuditStore
	blobs   domain.BlobReader
	blobDel domain.BlobDeleter
	logger  *slog.Logger
}

// NewAdminHandler creates an AdminHandler. audit, blobs and blobDel may be
// nil; the corresponding endpoints then report themselves unavailable.
func NewAdminHandler(ledger AdminService, audit domain.AuditStore, blobs domain.BlobReader, blobDel domain.BlobDeleter, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{ledger: ledger, audit: audit, blobs: blobs, blobDel: blobDel, logger: logger}
}

// rateRequest is the JSON body for a rate change. Rate is the new annual
// rate in 1e18 fixed point, as a base-10 string.
type rateRequest struct {
	Caller string `json:"caller"`
	Rate   string `json:"rate"`
}

// SetRate changes the pool's annual reward rate.
// POST /api/admin/rate
func (h *AdminHandler) SetRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Caller == "" {
		writeError(w, http.StatusBadRequest, "caller is required")
		return
	}
	rate, ok := new(big.Int).SetString(req.Rate, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "rate must be a base-10 integer")
		return
	}

	if err := h.ledger.SetRate(r.Context(), req.Caller, rate); err != nil {
		writeLedgerError(w, r, h.logger, "set rate", err)
		return
	}
	h.logAudit(r.Context(), "admin.rate_change", map[string]any{
		"caller": req.Caller,
		"rate":   rate.String(),
	})

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "rate_updated",
		"rate":   rate.String(),
	})
}

// reserveRequest is the JSON body for a reward reserve top-up.
type reserveRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

// DepositReserve tops up the pool's reward reserve from the caller.
// POST /api/admin/reserve
func (h *AdminHandler) DepositReserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Caller == "" {
		writeError(w, http.StatusBadRequest, "caller is required")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount must be a base-10 integer")
		return
	}

	if err := h.ledger.DepositRewardReserve(r.Context(), req.Caller, amount); err != nil {
		writeLedgerError(w, r, h.logger, "deposit reserve", err)
		return
	}
	h.logAudit(r.Context(), "admin.reserve_deposit", map[string]any{
		"caller": req.Caller,
		"amount": amount.String(),
	})

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "reserve_deposited",
		"amount": amount.String(),
	})
}

// sweepRequest is the JSON body for recovering a stray asset.
type sweepRequest struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// Sweep sends an asset that is neither principal nor reward out of the pool.
// POST /api/admin/sweep
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Caller == "" || req.Asset == "" {
		writeError(w, http.StatusBadRequest, "caller and asset are required")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount must be a base-10 integer")
		return
	}

	if err := h.ledger.SweepForeignAsset(r.Context(), req.Caller, domain.Asset(req.Asset), amount); err != nil {
		writeLedgerError(w, r, h.logger, "sweep", err)
		return
	}
	h.logAudit(r.Context(), "admin.sweep", map[string]any{
		"caller": req.Caller,
		"asset":  req.Asset,
		"amount": amount.String(),
	})

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "swept",
		"asset":  req.Asset,
		"amount": amount.String(),
	})
}

// logAudit records an operator action. Audit failures never fail the
// request that already committed.
func (h *AdminHandler) logAudit(ctx context.Context, event string, detail map[string]any) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Log(ctx, event, detail); err != nil {
		h.logger.WarnContext(ctx, "handler: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// auditEntryResponse is the JSON shape of one audit log row.
type auditEntryResponse struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ListAudit returns recent audit log entries, newest first.
// GET /api/admin/audit
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit log not configured")
		return
	}

	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}

	out := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntryResponse{
			ID:        e.ID,
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

// archivePrefix is the only key space the archive endpoints may touch.
const archivePrefix = "archive/"

// archiveResponse is the JSON shape of one cold-storage object.
type archiveResponse struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ListArchives returns the cold-storage archive objects.
// GET /api/admin/archives
func (h *AdminHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage not configured")
		return
	}

	infos, err := h.blobs.List(r.Context(), archivePrefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}

	out := make([]archiveResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, archiveResponse{
			Path:         info.Path,
			Size:         info.Size,
			LastModified: info.LastModified,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": out})
}

// DeleteArchive removes one cold-storage object. Only paths under the
// archive prefix are deletable through the API.
// DELETE /api/admin/archives/{path...}
func (h *AdminHandler) DeleteArchive(w http.ResponseWriter, r *http.Request) {
	if h.blobDel == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage not configured")
		return
	}

	path := r.PathValue("path")
	if !strings.HasPrefix(path, archivePrefix) {
		writeError(w, http.StatusBadRequest, "path must be under "+archivePrefix)
		return
	}

	if err := h.blobDel.Delete(r.Context(), path); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: delete archive failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to delete archive")
		return
	}
	h.logAudit(r.Context(), "admin.archive_delete", map[string]any{
		"path": path,
	})

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "deleted",
		"path":   path,
	})
}
