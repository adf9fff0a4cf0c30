// Package testutil provides shared fakes for package tests.
package testutil

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/mkarrer/swapdesk/internal/pubkey"
	"github.com/mkarrer/swapdesk/internal/rpcclient"
)

// LedgerStub is an in-memory rpcclient.Client. Tests preload accounts
// and tune submission behaviour; the stub records what was sent.
type LedgerStub struct {
	mu sync.Mutex

	Accounts map[pubkey.PublicKey]*rpcclient.AccountInfo
	Balances map[pubkey.PublicKey]uint64

	// Submission knobs
	SimulateErr   string // non-empty -> simulation reports this error
	SendErr       error  // non-nil -> SendTransaction fails
	NextSignature string
	// ConfirmAfter is how many status polls return "unknown" before the
	// transaction reports confirmed. Negative means never confirm.
	ConfirmAfter int
	ExecErr      string // non-empty -> ledger records the tx as failed

	// Transaction log output by signature, for event extraction.
	Logs map[string][]string

	// Program account listings for reconciliation tests.
	ProgramAccounts []rpcclient.ProgramAccount

	// Recorded calls
	Sent        []string // base64 payloads passed to SendTransaction
	Simulated   int
	StatusPolls int
}

var _ rpcclient.Client = (*LedgerStub)(nil)

// NewLedgerStub returns an empty stub that confirms immediately.
func NewLedgerStub() *LedgerStub {
	return &LedgerStub{
		Accounts:      make(map[pubkey.PublicKey]*rpcclient.AccountInfo),
		Balances:      make(map[pubkey.PublicKey]uint64),
		Logs:          make(map[string][]string),
		NextSignature: "StubSignature11111111111111111111111111111111",
	}
}

func (s *LedgerStub) GetAccountInfo(_ context.Context, addr pubkey.PublicKey) (*rpcclient.AccountInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Accounts[addr], nil
}

func (s *LedgerStub) GetBalance(_ context.Context, addr pubkey.PublicKey) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Balances[addr], nil
}

func (s *LedgerStub) GetLatestBlockhash(context.Context) (rpcclient.Blockhash, error) {
	return rpcclient.Blockhash{
		Hash:                 "GfVcyD4kkTrj4bKc7WA9sZCin9JDbdT4Zkd3EittNR1W",
		LastValidBlockHeight: 1000,
	}, nil
}

func (s *LedgerStub) GetMinimumBalanceForRentExemption(_ context.Context, _ int) (uint64, error) {
	return 2_039_280, nil
}

func (s *LedgerStub) SimulateTransaction(_ context.Context, _ string) (*rpcclient.SimulateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Simulated++
	if s.SimulateErr != "" {
		return &rpcclient.SimulateResult{
			Err:  json.RawMessage(`"` + s.SimulateErr + `"`),
			Logs: []string{"Program log: " + s.SimulateErr},
		}, nil
	}
	return &rpcclient.SimulateResult{}, nil
}

func (s *LedgerStub) SendTransaction(_ context.Context, txBase64 string, _ rpcclient.SendOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return "", s.SendErr
	}
	s.Sent = append(s.Sent, txBase64)
	return s.NextSignature, nil
}

func (s *LedgerStub) GetSignatureStatuses(_ context.Context, signatures []string) ([]*rpcclient.SignatureStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StatusPolls++
	out := make([]*rpcclient.SignatureStatus, len(signatures))
	if s.ConfirmAfter < 0 || s.StatusPolls <= s.ConfirmAfter {
		return out, nil // unknown yet
	}
	for i := range signatures {
		st := &rpcclient.SignatureStatus{
			Slot:               42,
			ConfirmationStatus: rpcclient.CommitmentConfirmed,
		}
		if s.ExecErr != "" {
			st.Err = json.RawMessage(`"` + s.ExecErr + `"`)
		}
		out[i] = st
	}
	return out, nil
}

func (s *LedgerStub) GetTransaction(_ context.Context, signature string) (*rpcclient.TransactionDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	logs, ok := s.Logs[signature]
	if !ok {
		return nil, nil
	}
	return &rpcclient.TransactionDetail{Slot: 42, Logs: logs}, nil
}

func (s *LedgerStub) GetProgramAccounts(_ context.Context, _ pubkey.PublicKey, _ []rpcclient.MemcmpFilter) ([]rpcclient.ProgramAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ProgramAccounts, nil
}

func (s *LedgerStub) Close() {}

// SetAccount installs an account owned by the given program.
func (s *LedgerStub) SetAccount(addr, owner pubkey.PublicKey, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Accounts[addr] = &rpcclient.AccountInfo{
		Lamports: 2_039_280,
		Owner:    owner,
		Data:     data,
	}
}

// DeleteAccount removes an account, as a closed escrow would.
func (s *LedgerStub) DeleteAccount(addr pubkey.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Accounts, addr)
}

// SentCount returns how many transactions were broadcast.
func (s *LedgerStub) SentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Sent)
}
