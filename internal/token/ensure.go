package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mkarrer/swapdesk/internal/pubkey"
	"github.com/mkarrer/swapdesk/internal/rpcclient"
	"github.com/mkarrer/swapdesk/internal/txn"
	"github.com/mkarrer/swapdesk/internal/wallet"
)

// ErrInsufficientFunds: the payer cannot cover rent and fees for a new
// holding account. Checked before building anything.
var ErrInsufficientFunds = errors.New("token: payer balance below minimum for account creation")

// DefaultMinPayerBalance is the lamport floor required of the payer
// before a holding-account creation is attempted.
const DefaultMinPayerBalance = 10_000_000

// holdingAccountSize is the serialized size of a token holding account.
const holdingAccountSize = 165

// Submitter is the slice of the transaction layer the ensurer needs.
type Submitter interface {
	Submit(ctx context.Context, operation string, instructions []txn.Instruction, signers []wallet.Signer) (string, error)
}

// Ensurer idempotently guarantees per-owner-per-asset holding accounts
// exist, creating them with a single-instruction transaction when absent.
type Ensurer struct {
	client    rpcclient.Client
	resolver  *Resolver
	submitter Submitter
	logger    *slog.Logger

	MinPayerBalance uint64
}

// NewEnsurer creates a holding-account ensurer.
func NewEnsurer(client rpcclient.Client, resolver *Resolver, submitter Submitter, logger *slog.Logger) *Ensurer {
	return &Ensurer{
		client:          client,
		resolver:        resolver,
		submitter:       submitter,
		logger:          logger,
		MinPayerBalance: DefaultMinPayerBalance,
	}
}

// EnsureHoldingAccount returns the deterministic holding-account
// address for (asset, owner), creating the account on the ledger if it
// does not exist yet. Idempotent: if the account already exists nothing
// is submitted. At most one transaction is submitted per call.
func (e *Ensurer) EnsureHoldingAccount(ctx context.Context, asset, owner pubkey.PublicKey, payer wallet.Signer) (pubkey.PublicKey, error) {
	variant, err := e.resolver.Resolve(ctx, asset)
	if err != nil {
		return pubkey.Zero, err
	}
	return e.ensureForVariant(ctx, asset, owner, variant, payer)
}

// EnsureForVariant is EnsureHoldingAccount with the variant already
// resolved, so create's matched-variant check is not repeated per account.
func (e *Ensurer) EnsureForVariant(ctx context.Context, asset, owner pubkey.PublicKey, variant Variant, payer wallet.Signer) (pubkey.PublicKey, error) {
	return e.ensureForVariant(ctx, asset, owner, variant, payer)
}

func (e *Ensurer) ensureForVariant(ctx context.Context, asset, owner pubkey.PublicKey, variant Variant, payer wallet.Signer) (pubkey.PublicKey, error) {
	addr, _, err := pubkey.AssociatedTokenAddress(owner, variant.Program(), asset)
	if err != nil {
		return pubkey.Zero, fmt.Errorf("token: derive holding account: %w", err)
	}

	info, err := e.client.GetAccountInfo(ctx, addr)
	if err != nil {
		return pubkey.Zero, fmt.Errorf("token: holding account lookup: %w", err)
	}
	if info != nil {
		return addr, nil // already exists, nothing to submit
	}

	balance, err := e.client.GetBalance(ctx, payer.Address())
	if err != nil {
		return pubkey.Zero, fmt.Errorf("token: payer balance lookup: %w", err)
	}
	rent, err := e.client.GetMinimumBalanceForRentExemption(ctx, holdingAccountSize)
	if err != nil {
		return pubkey.Zero, fmt.Errorf("token: rent lookup: %w", err)
	}
	need := rent + e.MinPayerBalance
	if balance < need {
		return pubkey.Zero, fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, balance, need)
	}

	ix := createHoldingAccountInstruction(payer.Address(), addr, owner, asset, variant)
	sig, err := e.submitter.Submit(ctx, "ensure_holding_account", []txn.Instruction{ix}, []wallet.Signer{payer})
	if err != nil {
		return pubkey.Zero, err
	}

	e.logger.Info("holding account created",
		"account", addr,
		"owner", owner,
		"asset", asset,
		"variant", variant.String(),
		"signature", sig,
	)
	return addr, nil
}

// createHoldingAccountInstruction builds the associated-account
// program's create instruction. The slot order is the program's fixed
// contract.
func createHoldingAccountInstruction(payer, account, owner, asset pubkey.PublicKey, variant Variant) txn.Instruction {
	return txn.Instruction{
		Program: pubkey.AssociatedTokenProgram,
		Accounts: []txn.AccountMeta{
			{Key: payer, Signer: true, Writable: true},
			{Key: account, Writable: true},
			{Key: owner},
			{Key: asset},
			{Key: pubkey.SystemProgram},
			{Key: variant.Program()},
		},
		Data: []byte{0}, // 0 = create
	}
}
