// Package token resolves which token-handling variant governs an
// asset, guarantees per-owner holding accounts exist, and fetches
// asset metadata.
package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/mkarrer/swapdesk/internal/pubkey"
	"github.com/mkarrer/swapdesk/internal/rpcclient"
)

var (
	ErrAssetNotFound = errors.New("token: asset record not found on ledger")

	// ErrIncompatibleVariants: the ledger program accepts a single token
	// program per transaction, so a legacy-vs-extended mix must fail
	// before any transaction is built.
	ErrIncompatibleVariants = errors.New("token: assets resolve to incompatible variants")

	ErrUnknownOwner = errors.New("token: asset record owned by unknown program")
)

// Variant identifies one of the two mutually incompatible
// token-handling schemes.
type Variant int

const (
	VariantLegacy Variant = iota
	VariantExtended
)

func (v Variant) String() string {
	switch v {
	case VariantLegacy:
		return "legacy"
	case VariantExtended:
		return "extended"
	default:
		return "unknown"
	}
}

// Program returns the token program key that implements the variant.
func (v Variant) Program() pubkey.PublicKey {
	if v == VariantExtended {
		return pubkey.TokenExtended
	}
	return pubkey.TokenLegacy
}

// Resolver inspects asset records to determine their governing variant.
type Resolver struct {
	client rpcclient.Client
}

// NewResolver creates a variant resolver.
func NewResolver(client rpcclient.Client) *Resolver {
	return &Resolver{client: client}
}

// Resolve reads the asset record's owning-program field. Fails with
// ErrAssetNotFound when the record does not exist.
func (r *Resolver) Resolve(ctx context.Context, asset pubkey.PublicKey) (Variant, error) {
	info, err := r.client.GetAccountInfo(ctx, asset)
	if err != nil {
		return 0, fmt.Errorf("token: asset lookup: %w", err)
	}
	if info == nil {
		return 0, fmt.Errorf("%w: %s", ErrAssetNotFound, asset)
	}
	switch info.Owner {
	case pubkey.TokenLegacy:
		return VariantLegacy, nil
	case pubkey.TokenExtended:
		return VariantExtended, nil
	default:
		return 0, fmt.Errorf("%w: %s owned by %s", ErrUnknownOwner, asset, info.Owner)
	}
}

// ResolveMatched resolves both assets and requires them to share a
// variant, failing fast with ErrIncompatibleVariants otherwise. Used by
// create, which references both assets in one transaction.
func (r *Resolver) ResolveMatched(ctx context.Context, deposited, expected pubkey.PublicKey) (Variant, error) {
	dv, err := r.Resolve(ctx, deposited)
	if err != nil {
		return 0, err
	}
	ev, err := r.Resolve(ctx, expected)
	if err != nil {
		return 0, err
	}
	if dv != ev {
		return 0, fmt.Errorf("%w: deposited %s is %s, expected %s is %s",
			ErrIncompatibleVariants, deposited, dv, expected, ev)
	}
	return dv, nil
}
