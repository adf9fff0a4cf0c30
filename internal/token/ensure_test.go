package token

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/mkarrer/swapdesk/internal/pubkey"
	"github.com/mkarrer/swapdesk/internal/testutil"
	"github.com/mkarrer/swapdesk/internal/txn"
	"github.com/mkarrer/swapdesk/internal/wallet"
)

// mockSubmitter records submissions and applies a ledger side effect,
// standing in for the real submit-and-confirm cycle.
type mockSubmitter struct {
	submissions int
	err         error
	onSubmit    func(instructions []txn.Instruction)
}

func (m *mockSubmitter) Submit(_ context.Context, _ string, instructions []txn.Instruction, _ []wallet.Signer) (string, error) {
	m.submissions++
	if m.err != nil {
		return "", m.err
	}
	if m.onSubmit != nil {
		m.onSubmit(instructions)
	}
	return "MockSignature1111111111111111111111111111111", nil
}

func setupEnsurer(t *testing.T) (*Ensurer, *testutil.LedgerStub, *mockSubmitter, *wallet.Wallet, pubkey.PublicKey) {
	t.Helper()
	stub := testutil.NewLedgerStub()
	sub := &mockSubmitter{}
	payer, err := wallet.Generate()
	if err != nil {
		t.Fatalf("generate wallet: %v", err)
	}
	asset := newAsset(t)
	stub.SetAccount(asset, pubkey.TokenLegacy, make([]byte, 82))
	stub.Balances[payer.Address()] = 1_000_000_000

	e := NewEnsurer(stub, NewResolver(stub), sub, slog.New(slog.DiscardHandler))
	return e, stub, sub, payer, asset
}

func TestEnsureCreatesWhenAbsent(t *testing.T) {
	e, stub, sub, payer, asset := setupEnsurer(t)

	// Mirror the ledger: creation makes the holding account exist.
	sub.onSubmit = func(instructions []txn.Instruction) {
		if len(instructions) != 1 {
			t.Fatalf("got %d instructions, want 1", len(instructions))
		}
		holding := instructions[0].Accounts[1].Key
		stub.SetAccount(holding, pubkey.TokenLegacy, make([]byte, 165))
	}

	addr, err := e.EnsureHoldingAccount(context.Background(), asset, payer.Address(), payer)
	if err != nil {
		t.Fatalf("EnsureHoldingAccount failed: %v", err)
	}
	if addr.IsZero() {
		t.Fatal("zero holding account address")
	}
	if sub.submissions != 1 {
		t.Errorf("submissions = %d, want 1", sub.submissions)
	}

	// Second call observes the account and submits nothing.
	addr2, err := e.EnsureHoldingAccount(context.Background(), asset, payer.Address(), payer)
	if err != nil {
		t.Fatalf("second EnsureHoldingAccount failed: %v", err)
	}
	if addr2 != addr {
		t.Errorf("address changed between calls: %s != %s", addr2, addr)
	}
	if sub.submissions != 1 {
		t.Errorf("submissions = %d after second call, want 1", sub.submissions)
	}
}

func TestEnsureDeterministicAddress(t *testing.T) {
	e, stub, _, payer, asset := setupEnsurer(t)

	expected, _, err := pubkey.AssociatedTokenAddress(payer.Address(), pubkey.TokenLegacy, asset)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	stub.SetAccount(expected, pubkey.TokenLegacy, make([]byte, 165))

	addr, err := e.EnsureHoldingAccount(context.Background(), asset, payer.Address(), payer)
	if err != nil {
		t.Fatalf("EnsureHoldingAccount failed: %v", err)
	}
	if addr != expected {
		t.Errorf("address = %s, want %s", addr, expected)
	}
}

func TestEnsureInsufficientFunds(t *testing.T) {
	e, stub, sub, payer, asset := setupEnsurer(t)
	stub.Balances[payer.Address()] = 100 // far below rent + floor

	_, err := e.EnsureHoldingAccount(context.Background(), asset, payer.Address(), payer)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if sub.submissions != 0 {
		t.Errorf("submissions = %d, want 0", sub.submissions)
	}
}

func TestEnsurePropagatesSubmitError(t *testing.T) {
	e, _, sub, payer, asset := setupEnsurer(t)
	sub.err = errors.New("broadcast failed")

	_, err := e.EnsureHoldingAccount(context.Background(), asset, payer.Address(), payer)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestEnsureUnknownAsset(t *testing.T) {
	e, _, _, payer, _ := setupEnsurer(t)

	_, err := e.EnsureHoldingAccount(context.Background(), newAsset(t), payer.Address(), payer)
	if !errors.Is(err, ErrAssetNotFound) {
		t.Errorf("expected ErrAssetNotFound, got %v", err)
	}
}
