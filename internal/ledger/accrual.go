package ledger

import (
	"math/big"

	"github.com/alanyoungcy/stakepool/internal/domain"
)

// accrualDenominator = SecondsPerYear * RatePrecision.
var accrualDenominator = new(big.Int).Mul(
	big.NewInt(domain.SecondsPerYear),
	big.NewInt(domain.RatePrecision),
)

// Accrue returns the reward earned by principal at the given annual rate over
// elapsedSeconds:
//
//	floor(principal * rate * elapsedSeconds / (SecondsPerYear * RatePrecision))
//
// All numerators are multiplied before the single truncating division, so the
// only rounding loss is the final floor. Non-positive inputs accrue nothing.
func Accrue(principal, rate *big.Int, elapsedSeconds int64) *big.Int {
	if principal == nil || rate == nil {
		return new(big.Int)
	}
	if principal.Sign() <= 0 || rate.Sign() <= 0 || elapsedSeconds <= 0 {
		return new(big.Int)
	}
	n := new(big.Int).Mul(principal, rate)
	n.Mul(n, big.NewInt(elapsedSeconds))
	return n.Quo(n, accrualDenominator)
}
