package postgres

import (
	"fmt"
	"math/big"
)

// Balance columns are NUMERIC(78,0), wide enough for any uint256 amount.
// Values cross the wire as base-10 text: numericArg renders a parameter and
// the SELECT lists cast the column with ::text so the scan side sees a plain
// string.

// numericArg renders v for a NUMERIC parameter. Nil maps to SQL NULL.
func numericArg(v *big.Int) any {
	if v == nil {
		return nil
	}
	return v.String()
}

// parseNumeric converts a NUMERIC column read back as text into a big.Int.
func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: malformed numeric %q", s)
	}
	return v, nil
}

// parseNullableNumeric converts an optional NUMERIC column; NULL stays nil.
func parseNullableNumeric(s *string) (*big.Int, error) {
	if s == nil {
		return nil, nil
	}
	return parseNumeric(*s)
}
