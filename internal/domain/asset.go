package domain

import (
	"context"
	"math/big"
)

// Asset identifies an external fungible-asset ledger (an ERC-20 contract
// address on chain, a free-form symbol in paper mode).
type Asset string

// AssetLedger moves asset units between an external account and the pool's
// own holding. Transfer bookkeeping, allowances, and failure causes belong
// to the external ledger, not to this system.
type AssetLedger interface {
	// TransferIn pulls amount of asset from account into the pool.
	TransferIn(ctx context.Context, account string, asset Asset, amount *big.Int) error
	// TransferOut pushes amount of asset from the pool to account.
	TransferOut(ctx context.Context, account string, asset Asset, amount *big.Int) error
	// BalanceOf reports the pool's own holding of asset.
	BalanceOf(ctx context.Context, asset Asset) (*big.Int, error)
}

// Authorizer answers whether a caller may perform administrator operations.
type Authorizer interface {
	IsAdmin(ctx context.Context, caller string) bool
}

// AuthorizerFunc adapts a plain function to Authorizer.
type AuthorizerFunc func(ctx context.Context, caller string) bool

func (f AuthorizerFunc) IsAdmin(ctx context.Context, caller string) bool {
	return f(ctx, caller)
}
