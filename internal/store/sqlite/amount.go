package sqlite

import (
	"database/sql"
	"fmt"
	"math/big"
)

// amountArg renders v for a TEXT amount column. Nil maps to SQL NULL.
func amountArg(v *big.Int) any {
	if v == nil {
		return nil
	}
	return v.String()
}

// parseAmount converts a TEXT amount column back into a big.Int.
func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("sqlite: malformed amount %q", s)
	}
	return v, nil
}

// parseNullableAmount converts an optional TEXT amount column; NULL stays nil.
func parseNullableAmount(s sql.NullString) (*big.Int, error) {
	if !s.Valid {
		return nil, nil
	}
	return parseAmount(s.String)
}
