package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/mkarrer/swapdesk/internal/escrow"
	"github.com/mkarrer/swapdesk/internal/index"
	"github.com/mkarrer/swapdesk/internal/pubkey"
	"github.com/mkarrer/swapdesk/internal/rpcclient"
	"github.com/mkarrer/swapdesk/internal/testutil"
	"github.com/mkarrer/swapdesk/internal/wallet"
)

type memIndex struct {
	entries   map[pubkey.PublicKey][]index.Entry
	createErr error
	creates   int
}

func newMemIndex() *memIndex {
	return &memIndex{entries: make(map[pubkey.PublicKey][]index.Entry)}
}

func (m *memIndex) List(_ context.Context, owner pubkey.PublicKey) ([]index.Entry, error) {
	return m.entries[owner], nil
}

func (m *memIndex) RecordCreate(_ context.Context, entry index.Entry) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.creates++
	m.entries[entry.Owner] = append(m.entries[entry.Owner], entry)
	return nil
}

func (m *memIndex) RecordTransition(_ context.Context, owner, escrowAddress pubkey.PublicKey, status index.Status) error {
	for i, e := range m.entries[owner] {
		if e.EscrowAddress == escrowAddress {
			m.entries[owner][i].Status = status
		}
	}
	return nil
}

func newKey(t *testing.T) pubkey.PublicKey {
	t.Helper()
	w, err := wallet.Generate()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return w.Address()
}

func ledgerRecord(t *testing.T, owner pubkey.PublicKey) (pubkey.PublicKey, *escrow.Record) {
	t.Helper()
	rec := &escrow.Record{
		Owner:          owner,
		Seed:           escrow.Seed{1, 2, 3, 4, 5, 6, 7, 8},
		DepositedAsset: newKey(t),
		DepositAmount:  10_000,
		ExpectedAsset:  newKey(t),
		ExpectedAmount: 10,
		OwnerHolding:   newKey(t),
		OwnerReceiving: newKey(t),
		Bump:           255,
	}
	return newKey(t), rec
}

func setup(t *testing.T) (*Sweeper, *testutil.LedgerStub, *memIndex) {
	t.Helper()
	stub := testutil.NewLedgerStub()
	w, err := wallet.Generate()
	if err != nil {
		t.Fatalf("generate program id: %v", err)
	}
	idx := newMemIndex()
	s := NewSweeper(stub, escrow.NewProgram(w.Address()), idx, index.NewCache(), slog.New(slog.DiscardHandler))
	return s, stub, idx
}

func TestSweepRepairsMissingEntry(t *testing.T) {
	s, stub, idx := setup(t)
	owner := newKey(t)
	addr, rec := ledgerRecord(t, owner)
	stub.ProgramAccounts = []rpcclient.ProgramAccount{
		{Address: addr, Account: rpcclient.AccountInfo{Data: rec.Encode()}},
	}

	n, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce failed: %v", err)
	}
	if n != 1 {
		t.Errorf("divergences = %d, want 1", n)
	}
	entries := idx.entries[owner]
	if len(entries) != 1 {
		t.Fatalf("entry not repaired: %+v", entries)
	}
	if entries[0].EscrowAddress != addr || entries[0].Status != index.StatusPending {
		t.Errorf("repaired entry mismatch: %+v", entries[0])
	}
	if entries[0].DepositAmount != 10_000 {
		t.Errorf("amount = %d", entries[0].DepositAmount)
	}
}

func TestSweepCleanWhenConsistent(t *testing.T) {
	s, stub, idx := setup(t)
	owner := newKey(t)
	addr, rec := ledgerRecord(t, owner)
	stub.ProgramAccounts = []rpcclient.ProgramAccount{
		{Address: addr, Account: rpcclient.AccountInfo{Data: rec.Encode()}},
	}
	idx.entries[owner] = []index.Entry{{EscrowAddress: addr, Owner: owner, Status: index.StatusPending}}

	n, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce failed: %v", err)
	}
	if n != 0 || idx.creates != 0 {
		t.Errorf("divergences = %d, creates = %d", n, idx.creates)
	}
}

func TestSweepCountsStalePending(t *testing.T) {
	s, _, idx := setup(t)
	owner := newKey(t)
	s.Track(owner)
	idx.entries[owner] = []index.Entry{
		{EscrowAddress: newKey(t), Owner: owner, Status: index.StatusPending},
		{EscrowAddress: newKey(t), Owner: owner, Status: index.StatusCancelled},
	}

	n, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce failed: %v", err)
	}
	// Only the pending entry with no ledger record diverges; terminal
	// entries with no record are the normal settled case.
	if n != 1 {
		t.Errorf("divergences = %d, want 1", n)
	}
	if idx.creates != 0 {
		t.Error("stale pending must not be repaired by guessing")
	}
}

func TestSweepContinuesPastRepairFailure(t *testing.T) {
	s, stub, idx := setup(t)
	idx.createErr = errors.New("index down")
	owner := newKey(t)
	addr, rec := ledgerRecord(t, owner)
	stub.ProgramAccounts = []rpcclient.ProgramAccount{
		{Address: addr, Account: rpcclient.AccountInfo{Data: rec.Encode()}},
	}

	n, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("repair failure must not abort the sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("divergences = %d, want 1", n)
	}
}
