package handler

import (
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/alanyoungcy/stakepool/internal/domain"
)

// StakeReader defines the ledger read methods the account handler requires.
// An address that never staked reads as an account with zero balances.
type StakeReader interface {
	StakeInfo(account string) domain.Account
	PendingReward(account string) *big.Int
}

// AccountHandler serves per-account read endpoints.
type AccountHandler struct {
	ledger StakeReader
	logger *slog.Logger
}

// NewAccountHandler creates an AccountHandler backed by the given ledger.
func NewAccountHandler(ledger StakeReader, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{ledger: ledger, logger: logger}
}

// accountResponse is the JSON shape of an account. UnclaimedReward is the
// settled balance; PendingReward additionally counts interest accrued since
// the last settlement.
type accountResponse struct {
	Address         string    `json:"address"`
	Principal       string    `json:"principal"`
	UnclaimedReward string    `json:"unclaimed_reward"`
	PendingReward   string    `json:"pending_reward"`
	LastSettledAt   time.Time `json:"last_settled_at"`
}

// GetAccount returns the staking position for one address.
// GET /api/accounts/{address}
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "missing account address")
		return
	}

	acct := h.ledger.StakeInfo(address)
	writeJSON(w, http.StatusOK, accountResponse{
		Address:         acct.Address,
		Principal:       acct.Principal.String(),
		UnclaimedReward: acct.UnclaimedReward.String(),
		PendingReward:   h.ledger.PendingReward(address).String(),
		LastSettledAt:   acct.LastSettledAt,
	})
}

// GetPending returns only the live claimable reward for one address.
// GET /api/accounts/{address}/pending
func (h *AccountHandler) GetPending(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "missing account address")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"address":        address,
		"pending_reward": h.ledger.PendingReward(address).String(),
	})
}
