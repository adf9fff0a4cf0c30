package token

import (
	"context"
	"errors"
	"testing"

	"github.com/mkarrer/swapdesk/internal/pubkey"
	"github.com/mkarrer/swapdesk/internal/testutil"
	"github.com/mkarrer/swapdesk/internal/wallet"
)

func newAsset(t *testing.T) pubkey.PublicKey {
	t.Helper()
	w, err := wallet.Generate()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return w.Address()
}

func TestResolveLegacy(t *testing.T) {
	stub := testutil.NewLedgerStub()
	asset := newAsset(t)
	stub.SetAccount(asset, pubkey.TokenLegacy, make([]byte, 82))

	v, err := NewResolver(stub).Resolve(context.Background(), asset)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if v != VariantLegacy {
		t.Errorf("variant = %s, want legacy", v)
	}
	if v.Program() != pubkey.TokenLegacy {
		t.Errorf("program = %s", v.Program())
	}
}

func TestResolveExtended(t *testing.T) {
	stub := testutil.NewLedgerStub()
	asset := newAsset(t)
	stub.SetAccount(asset, pubkey.TokenExtended, make([]byte, 82))

	v, err := NewResolver(stub).Resolve(context.Background(), asset)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if v != VariantExtended {
		t.Errorf("variant = %s, want extended", v)
	}
}

func TestResolveNotFound(t *testing.T) {
	stub := testutil.NewLedgerStub()
	_, err := NewResolver(stub).Resolve(context.Background(), newAsset(t))
	if !errors.Is(err, ErrAssetNotFound) {
		t.Errorf("expected ErrAssetNotFound, got %v", err)
	}
}

func TestResolveUnknownOwner(t *testing.T) {
	stub := testutil.NewLedgerStub()
	asset := newAsset(t)
	stub.SetAccount(asset, pubkey.SystemProgram, nil)

	_, err := NewResolver(stub).Resolve(context.Background(), asset)
	if !errors.Is(err, ErrUnknownOwner) {
		t.Errorf("expected ErrUnknownOwner, got %v", err)
	}
}

func TestResolveMatchedMismatch(t *testing.T) {
	stub := testutil.NewLedgerStub()
	deposited := newAsset(t)
	expected := newAsset(t)
	stub.SetAccount(deposited, pubkey.TokenLegacy, make([]byte, 82))
	stub.SetAccount(expected, pubkey.TokenExtended, make([]byte, 82))

	_, err := NewResolver(stub).ResolveMatched(context.Background(), deposited, expected)
	if !errors.Is(err, ErrIncompatibleVariants) {
		t.Errorf("expected ErrIncompatibleVariants, got %v", err)
	}
}

func TestResolveMatchedSame(t *testing.T) {
	stub := testutil.NewLedgerStub()
	deposited := newAsset(t)
	expected := newAsset(t)
	stub.SetAccount(deposited, pubkey.TokenExtended, make([]byte, 82))
	stub.SetAccount(expected, pubkey.TokenExtended, make([]byte, 82))

	v, err := NewResolver(stub).ResolveMatched(context.Background(), deposited, expected)
	if err != nil {
		t.Fatalf("ResolveMatched failed: %v", err)
	}
	if v != VariantExtended {
		t.Errorf("variant = %s, want extended", v)
	}
}
