// Package escrow composes the orchestration layer for two-party token
// swaps: address derivation, account preparation, transaction
// submission, event extraction, and index synchronization.
//
// The ledger program is the authority. This package never caches a
// Pending status strongly enough to skip a ledger call; a second
// cancel or accept against a closed escrow fails with the ledger's own
// not-found condition.
package escrow

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/mkarrer/swapdesk/internal/pubkey"
	"github.com/mkarrer/swapdesk/internal/token"
	"github.com/mkarrer/swapdesk/internal/txn"
)

// Seed prefixes fixed by the ledger program. A mismatch derives an
// address the program rejects at submission time.
var (
	escrowSeedPrefix      = []byte("escrow")
	vaultSeedPrefix       = []byte("vault")
	globalStatsSeedPrefix = []byte("global-stats")
)

// Seed is the caller-chosen per-escrow discriminating value. The
// (owner, seed) pair is globally unique across live escrows.
type Seed [8]byte

// SeedFromUint64 encodes v little-endian, matching the derivation input.
func SeedFromUint64(v uint64) Seed {
	var s Seed
	binary.LittleEndian.PutUint64(s[:], v)
	return s
}

// Uint64 returns the seed's little-endian value.
func (s Seed) Uint64() uint64 { return binary.LittleEndian.Uint64(s[:]) }

// Program wraps the deployed escrow program's identity and its
// derivation and instruction contracts.
type Program struct {
	ID pubkey.PublicKey
}

// NewProgram creates a handle for a deployed escrow program.
func NewProgram(id pubkey.PublicKey) *Program {
	return &Program{ID: id}
}

// EscrowAddress derives the deterministic record address for an
// (owner, seed) pair. Pure; identical inputs always agree.
func (p *Program) EscrowAddress(owner pubkey.PublicKey, seed Seed) (pubkey.PublicKey, uint8, error) {
	return pubkey.FindAddress([][]byte{escrowSeedPrefix, owner.Bytes(), seed[:]}, p.ID)
}

// VaultAddress derives the vault for an escrow record. The record
// address is the sole variable input.
func (p *Program) VaultAddress(escrowAddress pubkey.PublicKey) (pubkey.PublicKey, uint8, error) {
	return pubkey.FindAddress([][]byte{vaultSeedPrefix, escrowAddress.Bytes()}, p.ID)
}

// GlobalStatsAddress derives the program's aggregate counters account.
func (p *Program) GlobalStatsAddress() (pubkey.PublicKey, uint8, error) {
	return pubkey.FindAddress([][]byte{globalStatsSeedPrefix}, p.ID)
}

// instructionTag returns the 8-byte discriminator opening the named
// instruction's data.
func instructionTag(name string) []byte {
	sum := sha256.Sum256([]byte("global:" + name))
	return sum[:8]
}

// createAccounts names the slots of the create instruction in contract
// order.
type createAccounts struct {
	Owner          pubkey.PublicKey
	Escrow         pubkey.PublicKey
	Vault          pubkey.PublicKey
	DepositedAsset pubkey.PublicKey
	ExpectedAsset  pubkey.PublicKey
	OwnerHolding   pubkey.PublicKey
	OwnerReceiving pubkey.PublicKey
	GlobalStats    pubkey.PublicKey
}

// CreateInstruction builds the create call. Amounts and duration travel
// as little-endian u64; business validation happens before this point.
func (p *Program) CreateInstruction(acc createAccounts, variant token.Variant, seed Seed, depositAmount, expectedAmount, durationSeconds uint64) txn.Instruction {
	data := instructionTag("create")
	data = append(data, seed[:]...)
	data = appendU64(data, depositAmount)
	data = appendU64(data, expectedAmount)
	data = appendU64(data, durationSeconds)

	return txn.Instruction{
		Program: p.ID,
		Accounts: []txn.AccountMeta{
			{Key: acc.Owner, Signer: true, Writable: true},
			{Key: acc.Escrow, Writable: true},
			{Key: acc.Vault, Writable: true},
			{Key: acc.DepositedAsset},
			{Key: acc.ExpectedAsset},
			{Key: acc.OwnerHolding, Writable: true},
			{Key: acc.OwnerReceiving},
			{Key: acc.GlobalStats, Writable: true},
			{Key: variant.Program()},
			{Key: pubkey.AssociatedTokenProgram},
			{Key: pubkey.SystemProgram},
			{Key: pubkey.SysvarRent},
		},
		Data: data,
	}
}

// CancelInstruction builds the owner's withdrawal. The vault drains
// back into the owner's holding account and both escrow accounts close.
func (p *Program) CancelInstruction(owner, escrowAddress, vault, depositedAsset, ownerHolding pubkey.PublicKey, variant token.Variant) txn.Instruction {
	return txn.Instruction{
		Program: p.ID,
		Accounts: []txn.AccountMeta{
			{Key: owner, Signer: true, Writable: true},
			{Key: escrowAddress, Writable: true},
			{Key: vault, Writable: true},
			{Key: depositedAsset},
			{Key: ownerHolding, Writable: true},
			{Key: variant.Program()},
			{Key: pubkey.SystemProgram},
		},
		Data: instructionTag("cancel"),
	}
}

// acceptAccounts names the slots of the accept instruction in contract
// order.
type acceptAccounts struct {
	Counterparty          pubkey.PublicKey
	Owner                 pubkey.PublicKey
	Escrow                pubkey.PublicKey
	Vault                 pubkey.PublicKey
	DepositedAsset        pubkey.PublicKey
	ExpectedAsset         pubkey.PublicKey
	CounterpartyHolding   pubkey.PublicKey // expected asset, debited
	CounterpartyReceiving pubkey.PublicKey // deposited asset, credited
	OwnerReceiving        pubkey.PublicKey // expected asset, credited
	GlobalStats           pubkey.PublicKey
}

// AcceptInstruction builds the counterparty's fulfillment call.
func (p *Program) AcceptInstruction(acc acceptAccounts, variant token.Variant) txn.Instruction {
	return txn.Instruction{
		Program: p.ID,
		Accounts: []txn.AccountMeta{
			{Key: acc.Counterparty, Signer: true, Writable: true},
			{Key: acc.Owner, Writable: true},
			{Key: acc.Escrow, Writable: true},
			{Key: acc.Vault, Writable: true},
			{Key: acc.DepositedAsset},
			{Key: acc.ExpectedAsset},
			{Key: acc.CounterpartyHolding, Writable: true},
			{Key: acc.CounterpartyReceiving, Writable: true},
			{Key: acc.OwnerReceiving, Writable: true},
			{Key: acc.GlobalStats, Writable: true},
			{Key: variant.Program()},
			{Key: pubkey.SystemProgram},
		},
		Data: instructionTag("accept"),
	}
}

func appendU64(b []byte, v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append(b, buf[:]...)
}
