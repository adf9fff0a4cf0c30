package txn

import (
	"strconv"

	"github.com/mkarrer/swapdesk/internal/pubkey"
)

// AccountMeta names one account slot of an instruction. Order matters:
// the slot order is part of the program's external contract, and a
// mismatch is rejected by the ledger with a structural error.
type AccountMeta struct {
	Key      pubkey.PublicKey
	Signer   bool
	Writable bool
}

// Instruction is the structured spec the builder compiles: target
// program, ordered account list, and opaque little-endian argument data.
// Business-rule validation (positive amounts, ranges) is the caller's
// job; the builder checks structure only.
type Instruction struct {
	Program  pubkey.PublicKey
	Accounts []AccountMeta
	Data     []byte
}

// validate checks the structural rules the ledger would reject anyway.
func (in *Instruction) validate() error {
	if in.Program.IsZero() {
		return &ValidationError{Field: "program", Reason: "zero program key"}
	}
	for i, acc := range in.Accounts {
		if acc.Key.IsZero() {
			return &ValidationError{Field: "accounts", Reason: "zero key at slot " + strconv.Itoa(i)}
		}
	}
	return nil
}
