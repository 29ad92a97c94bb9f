package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/stakepool/internal/domain"
	"github.com/alanyoungcy/stakepool/internal/notify"
)

// PoolReader defines the ledger read methods the pool handler requires.
type PoolReader interface {
	PoolInfo() domain.PoolState
	AccountsSnapshot() []domain.Account
}

// PoolHandler serves the pool-wide state endpoint.
type PoolHandler struct {
	ledger PoolReader
	logger *slog.Logger
}

// NewPoolHandler creates a PoolHandler backed by the given ledger.
func NewPoolHandler(ledger PoolReader, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{ledger: ledger, logger: logger}
}

// poolResponse is the JSON shape of the pool state. Balances and the rate are
// base-10 strings since they exceed what JSON numbers can carry.
type poolResponse struct {
	PrincipalAsset    string    `json:"principal_asset"`
	RewardAsset       string    `json:"reward_asset"`
	AnnualRate        string    `json:"annual_rate"`
	AnnualRatePercent string    `json:"annual_rate_percent"`
	TotalPrincipal    string    `json:"total_principal"`
	RewardReserve     string    `json:"reward_reserve"`
	Accounts          int       `json:"accounts"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// GetPool returns the current pool state.
// GET /api/pool
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	pool := h.ledger.PoolInfo()

	writeJSON(w, http.StatusOK, poolResponse{
		PrincipalAsset:    string(pool.PrincipalAsset),
		RewardAsset:       string(pool.RewardAsset),
		AnnualRate:        pool.AnnualRate.String(),
		AnnualRatePercent: notify.FormatRatePercent(pool.AnnualRate.String()),
		TotalPrincipal:    pool.TotalPrincipal.String(),
		RewardReserve:     pool.RewardReserve.String(),
		Accounts:          len(h.ledger.AccountsSnapshot()),
		UpdatedAt:         pool.UpdatedAt,
	})
}
