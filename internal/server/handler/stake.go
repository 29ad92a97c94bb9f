package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
)

// StakeService defines the ledger mutations the stake handler requires.
type StakeService interface {
	Deposit(ctx context.Context, account string, amount *big.Int) error
	Withdraw(ctx context.Context, account string, amount *big.Int) error
	Claim(ctx context.Context, account string) (*big.Int, error)
}

// StakeHandler serves the deposit, withdraw, and claim endpoints.
type StakeHandler struct {
	ledger StakeService
	logger *slog.Logger
}

// NewStakeHandler creates a StakeHandler backed by the given ledger.
func NewStakeHandler(ledger StakeService, logger *slog.Logger) *StakeHandler {
	return &StakeHandler{ledger: ledger, logger: logger}
}

// stakeRequest is the JSON body for deposit and withdraw. Amount is a
// positive base-10 integer string.
type stakeRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// Deposit moves principal from the account into the pool.
// POST /api/deposit
func (h *StakeHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	req, amount, ok := h.decodeStake(w, r)
	if !ok {
		return
	}

	if err := h.ledger.Deposit(r.Context(), req.Account, amount); err != nil {
		writeLedgerError(w, r, h.logger, "deposit", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "deposited",
		"account": req.Account,
		"amount":  amount.String(),
	})
}

// Withdraw returns principal from the pool to the account.
// POST /api/withdraw
func (h *StakeHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	req, amount, ok := h.decodeStake(w, r)
	if !ok {
		return
	}

	if err := h.ledger.Withdraw(r.Context(), req.Account, amount); err != nil {
		writeLedgerError(w, r, h.logger, "withdraw", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "withdrawn",
		"account": req.Account,
		"amount":  amount.String(),
	})
}

// claimRequest is the JSON body for claim. The amount is implicit: a claim
// always pays out the full pending reward.
type claimRequest struct {
	Account string `json:"account"`
}

// Claim pays out the account's entire pending reward.
// POST /api/claim
func (h *StakeHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Account == "" {
		writeError(w, http.StatusBadRequest, "account is required")
		return
	}

	paid, err := h.ledger.Claim(r.Context(), req.Account)
	if err != nil {
		writeLedgerError(w, r, h.logger, "claim", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "claimed",
		"account": req.Account,
		"amount":  paid.String(),
	})
}

// decodeStake reads and validates the shared deposit/withdraw body.
func (h *StakeHandler) decodeStake(w http.ResponseWriter, r *http.Request) (stakeRequest, *big.Int, bool) {
	var req stakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return req, nil, false
	}
	if req.Account == "" {
		writeError(w, http.StatusBadRequest, "account is required")
		return req, nil, false
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount must be a base-10 integer")
		return req, nil, false
	}
	return req, amount, true
}
