package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mkarrer/swapdesk/internal/events"
	"github.com/mkarrer/swapdesk/internal/index"
	"github.com/mkarrer/swapdesk/internal/metrics"
	"github.com/mkarrer/swapdesk/internal/pubkey"
	"github.com/mkarrer/swapdesk/internal/rpcclient"
	"github.com/mkarrer/swapdesk/internal/token"
	"github.com/mkarrer/swapdesk/internal/traces"
	"github.com/mkarrer/swapdesk/internal/txn"
	"github.com/mkarrer/swapdesk/internal/wallet"
)

var (
	// ErrEscrowNotFound: the record is not on the ledger. A second
	// cancel or accept against a closed escrow lands here.
	ErrEscrowNotFound = errors.New("escrow: record not found on ledger")

	// ErrSeedInUse: the (owner, seed) pair already derives a live record.
	ErrSeedInUse = errors.New("escrow: seed already in use for this owner")
)

// Submitter is the slice of the transaction layer the facade needs.
type Submitter interface {
	Submit(ctx context.Context, operation string, instructions []txn.Instruction, signers []wallet.Signer) (string, error)
}

// AccountEnsurer prepares holding accounts ahead of an instruction that
// references them.
type AccountEnsurer interface {
	EnsureForVariant(ctx context.Context, asset, owner pubkey.PublicKey, variant token.Variant, payer wallet.Signer) (pubkey.PublicKey, error)
}

// Indexer is the off-chain index surface the facade writes to.
type Indexer interface {
	List(ctx context.Context, owner pubkey.PublicKey) ([]index.Entry, error)
	RecordCreate(ctx context.Context, entry index.Entry) error
	RecordTransition(ctx context.Context, owner, escrowAddress pubkey.PublicKey, status index.Status) error
}

// Notifier receives status transitions for the realtime feed. May be nil.
type Notifier interface {
	EscrowStatusChanged(owner, escrowAddress pubkey.PublicKey, status index.Status)
}

// Deps wires the facade's collaborators.
type Deps struct {
	Client    rpcclient.Client
	Program   *Program
	Resolver  *token.Resolver
	Ensurer   AccountEnsurer
	Submitter Submitter
	Extractor *events.Extractor
	Indexer   Indexer
	Cache     *index.Cache
	Notifier  Notifier
	Logger    *slog.Logger
}

// Service drives an escrow through NonExistent, Pending, and one of
// the terminal states. Index writes run strictly after confirmation;
// a confirmation timeout writes nothing and the caller must re-query
// the ledger before retrying with the same seed.
type Service struct {
	client    rpcclient.Client
	program   *Program
	resolver  *token.Resolver
	ensurer   AccountEnsurer
	submitter Submitter
	extractor *events.Extractor
	indexer   Indexer
	cache     *index.Cache
	notifier  Notifier
	logger    *slog.Logger
}

// NewService creates the lifecycle facade.
func NewService(d Deps) *Service {
	return &Service{
		client:    d.Client,
		program:   d.Program,
		resolver:  d.Resolver,
		ensurer:   d.Ensurer,
		submitter: d.Submitter,
		extractor: d.Extractor,
		indexer:   d.Indexer,
		cache:     d.Cache,
		notifier:  d.Notifier,
		logger:    d.Logger,
	}
}

// CreateParams describes a new swap proposal.
type CreateParams struct {
	DepositedAsset  pubkey.PublicKey
	DepositAmount   uint64
	ExpectedAsset   pubkey.PublicKey
	ExpectedAmount  uint64
	DurationSeconds uint64 // 0 means no expiry
	Seed            Seed
}

func (p CreateParams) validate() error {
	switch {
	case p.DepositedAsset.IsZero():
		return &txn.ValidationError{Field: "deposited_asset", Reason: "required"}
	case p.ExpectedAsset.IsZero():
		return &txn.ValidationError{Field: "expected_asset", Reason: "required"}
	case p.DepositedAsset == p.ExpectedAsset:
		return &txn.ValidationError{Field: "expected_asset", Reason: "must differ from deposited asset"}
	case p.DepositAmount == 0:
		return &txn.ValidationError{Field: "deposit_amount", Reason: "must be positive"}
	case p.ExpectedAmount == 0:
		return &txn.ValidationError{Field: "expected_amount", Reason: "must be positive"}
	}
	return nil
}

// CreateResult reports a confirmed create.
type CreateResult struct {
	EscrowAddress pubkey.PublicKey
	Vault         pubkey.PublicKey
	Signature     string
	Expiry        int64
}

// Create proposes a swap: NonExistent to Pending.
//
// Pre-submission failures leave no trace anywhere. A confirmation
// timeout is returned verbatim with no index write. After a confirmed
// ledger mutation, an index failure comes back as an *index.WriteError
// alongside a non-nil result: the swap exists, the listing is stale.
func (s *Service) Create(ctx context.Context, owner wallet.Signer, params CreateParams) (*CreateResult, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.create",
		traces.Owner(owner.Address().String()),
		traces.Amount(params.DepositAmount),
	)
	defer span.End()

	if err := params.validate(); err != nil {
		return nil, err
	}

	escrowAddr, _, err := s.program.EscrowAddress(owner.Address(), params.Seed)
	if err != nil {
		return nil, fmt.Errorf("escrow: derive record address: %w", err)
	}

	// The (owner, seed) pair must be unique across live records. After
	// a previous ConfirmationTimeout the record may exist even though
	// the caller never saw a result.
	existing, err := s.client.GetAccountInfo(ctx, escrowAddr)
	if err != nil {
		return nil, fmt.Errorf("escrow: seed re-check: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrSeedInUse, escrowAddr)
	}

	variant, err := s.resolver.ResolveMatched(ctx, params.DepositedAsset, params.ExpectedAsset)
	if err != nil {
		return nil, err
	}

	holding, err := s.ensurer.EnsureForVariant(ctx, params.DepositedAsset, owner.Address(), variant, owner)
	if err != nil {
		return nil, fmt.Errorf("escrow: prepare deposit holding account: %w", err)
	}
	receiving, err := s.ensurer.EnsureForVariant(ctx, params.ExpectedAsset, owner.Address(), variant, owner)
	if err != nil {
		return nil, fmt.Errorf("escrow: prepare receiving account: %w", err)
	}

	vault, _, err := s.program.VaultAddress(escrowAddr)
	if err != nil {
		return nil, fmt.Errorf("escrow: derive vault: %w", err)
	}
	stats, _, err := s.program.GlobalStatsAddress()
	if err != nil {
		return nil, fmt.Errorf("escrow: derive global stats: %w", err)
	}

	ix := s.program.CreateInstruction(createAccounts{
		Owner:          owner.Address(),
		Escrow:         escrowAddr,
		Vault:          vault,
		DepositedAsset: params.DepositedAsset,
		ExpectedAsset:  params.ExpectedAsset,
		OwnerHolding:   holding,
		OwnerReceiving: receiving,
		GlobalStats:    stats,
	}, variant, params.Seed, params.DepositAmount, params.ExpectedAmount, params.DurationSeconds)

	sig, err := s.submitter.Submit(ctx, "create_escrow", []txn.Instruction{ix}, []wallet.Signer{owner})
	if err != nil {
		return nil, err
	}

	result := &CreateResult{EscrowAddress: escrowAddr, Vault: vault, Signature: sig}
	entry := index.Entry{
		EscrowAddress:  escrowAddr,
		Owner:          owner.Address(),
		DepositedAsset: params.DepositedAsset,
		DepositAmount:  params.DepositAmount,
		ExpectedAsset:  params.ExpectedAsset,
		ExpectedAmount: params.ExpectedAmount,
		Status:         index.StatusPending,
	}

	// The event carries ledger-assigned values, the expiry above all.
	// A confirmed transaction without it is a program anomaly; fall
	// back to derived values so ledger and index stay aligned.
	ev, evErr := s.extractor.ExtractEscrowCreated(ctx, sig)
	switch {
	case evErr != nil:
		s.logger.Warn("creation event extraction failed", "signature", sig, "error", evErr)
	case ev == nil:
		// Already logged by the extractor.
	default:
		result.Expiry = ev.Expiry
		entry.Expiry = ev.Expiry
		if ev.Escrow != escrowAddr {
			s.logger.Warn("ledger-assigned escrow address differs from derivation",
				"derived", escrowAddr, "assigned", ev.Escrow)
			result.EscrowAddress = ev.Escrow
			entry.EscrowAddress = ev.Escrow
		}
	}

	metrics.EscrowsTotal.WithLabelValues(string(index.StatusPending)).Inc()
	s.notify(owner.Address(), result.EscrowAddress, index.StatusPending)

	if err := s.indexer.RecordCreate(ctx, entry); err != nil {
		s.logger.Warn("escrow created but index write failed",
			"escrow", result.EscrowAddress, "signature", sig, "error", err)
		return result, err
	}
	s.cache.Invalidate(index.ListKey(owner.Address()))

	s.logger.Info("escrow created",
		"escrow", result.EscrowAddress,
		"owner", owner.Address(),
		"deposit_amount", params.DepositAmount,
		"expected_amount", params.ExpectedAmount,
		"signature", sig,
	)
	return result, nil
}

// TransitionResult reports a confirmed cancel or accept.
type TransitionResult struct {
	EscrowAddress pubkey.PublicKey
	Owner         pubkey.PublicKey
	Status        index.Status
	Signature     string
}

// Cancel withdraws a pending swap: Pending to Cancelled. Only the
// owner's signature satisfies the ledger; that check is not repeated
// client-side.
func (s *Service) Cancel(ctx context.Context, owner wallet.Signer, escrowAddress pubkey.PublicKey) (*TransitionResult, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.cancel", traces.EscrowAddress(escrowAddress.String()))
	defer span.End()

	rec, err := s.fetchRecord(ctx, escrowAddress)
	if err != nil {
		return nil, err
	}

	variant, err := s.resolver.Resolve(ctx, rec.DepositedAsset)
	if err != nil {
		return nil, err
	}
	vault, _, err := s.program.VaultAddress(escrowAddress)
	if err != nil {
		return nil, fmt.Errorf("escrow: derive vault: %w", err)
	}

	ix := s.program.CancelInstruction(owner.Address(), escrowAddress, vault, rec.DepositedAsset, rec.OwnerHolding, variant)
	sig, err := s.submitter.Submit(ctx, "cancel_escrow", []txn.Instruction{ix}, []wallet.Signer{owner})
	if err != nil {
		return nil, err
	}

	return s.settle(ctx, rec.Owner, escrowAddress, index.StatusCancelled, sig)
}

// Accept fulfills a pending swap as the counterparty: Pending to
// Completed. The counterparty pays the expected asset and receives the
// deposit; the owner's receiving account is prepared on their behalf.
func (s *Service) Accept(ctx context.Context, counterparty wallet.Signer, escrowAddress pubkey.PublicKey) (*TransitionResult, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.accept", traces.EscrowAddress(escrowAddress.String()))
	defer span.End()

	rec, err := s.fetchRecord(ctx, escrowAddress)
	if err != nil {
		return nil, err
	}

	variant, err := s.resolver.ResolveMatched(ctx, rec.DepositedAsset, rec.ExpectedAsset)
	if err != nil {
		return nil, err
	}

	cpHolding, err := s.ensurer.EnsureForVariant(ctx, rec.ExpectedAsset, counterparty.Address(), variant, counterparty)
	if err != nil {
		return nil, fmt.Errorf("escrow: prepare counterparty holding account: %w", err)
	}
	cpReceiving, err := s.ensurer.EnsureForVariant(ctx, rec.DepositedAsset, counterparty.Address(), variant, counterparty)
	if err != nil {
		return nil, fmt.Errorf("escrow: prepare counterparty receiving account: %w", err)
	}
	ownerReceiving, err := s.ensurer.EnsureForVariant(ctx, rec.ExpectedAsset, rec.Owner, variant, counterparty)
	if err != nil {
		return nil, fmt.Errorf("escrow: prepare owner receiving account: %w", err)
	}

	vault, _, err := s.program.VaultAddress(escrowAddress)
	if err != nil {
		return nil, fmt.Errorf("escrow: derive vault: %w", err)
	}
	stats, _, err := s.program.GlobalStatsAddress()
	if err != nil {
		return nil, fmt.Errorf("escrow: derive global stats: %w", err)
	}

	ix := s.program.AcceptInstruction(acceptAccounts{
		Counterparty:          counterparty.Address(),
		Owner:                 rec.Owner,
		Escrow:                escrowAddress,
		Vault:                 vault,
		DepositedAsset:        rec.DepositedAsset,
		ExpectedAsset:         rec.ExpectedAsset,
		CounterpartyHolding:   cpHolding,
		CounterpartyReceiving: cpReceiving,
		OwnerReceiving:        ownerReceiving,
		GlobalStats:           stats,
	}, variant)

	sig, err := s.submitter.Submit(ctx, "accept_escrow", []txn.Instruction{ix}, []wallet.Signer{counterparty})
	if err != nil {
		return nil, err
	}

	return s.settle(ctx, rec.Owner, escrowAddress, index.StatusCompleted, sig)
}

// List returns a participant's escrows, from cache when a snapshot is
// present.
func (s *Service) List(ctx context.Context, owner pubkey.PublicKey) ([]index.Entry, error) {
	key := index.ListKey(owner)
	if state, ok := s.cache.Get(key); ok {
		return state.Entries, nil
	}
	entries, err := s.indexer.List(ctx, owner)
	if err != nil {
		return nil, err
	}
	s.cache.Put(key, entries)
	return entries, nil
}

// Fetch reads an escrow record straight from the ledger.
func (s *Service) Fetch(ctx context.Context, escrowAddress pubkey.PublicKey) (*Record, error) {
	return s.fetchRecord(ctx, escrowAddress)
}

func (s *Service) fetchRecord(ctx context.Context, escrowAddress pubkey.PublicKey) (*Record, error) {
	info, err := s.client.GetAccountInfo(ctx, escrowAddress)
	if err != nil {
		return nil, fmt.Errorf("escrow: record lookup: %w", err)
	}
	if info == nil {
		return nil, fmt.Errorf("%w: %s", ErrEscrowNotFound, escrowAddress)
	}
	rec, err := DecodeRecord(info.Data)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// settle performs the post-confirmation index transition and cache
// maintenance shared by cancel and accept.
func (s *Service) settle(ctx context.Context, owner, escrowAddress pubkey.PublicKey, status index.Status, sig string) (*TransitionResult, error) {
	result := &TransitionResult{
		EscrowAddress: escrowAddress,
		Owner:         owner,
		Status:        status,
		Signature:     sig,
	}

	metrics.EscrowsTotal.WithLabelValues(string(status)).Inc()
	s.notify(owner, escrowAddress, status)

	key := index.ListKey(owner)
	s.cache.OptimisticRemove(key, escrowAddress, sig)
	if err := s.indexer.RecordTransition(ctx, owner, escrowAddress, status); err != nil {
		s.logger.Warn("escrow settled but index write failed",
			"escrow", escrowAddress, "status", status, "signature", sig, "error", err)
		return result, err
	}
	s.cache.Settle(key, sig)

	s.logger.Info("escrow settled",
		"escrow", escrowAddress,
		"owner", owner,
		"status", status,
		"signature", sig,
	)
	return result, nil
}

func (s *Service) notify(owner, escrowAddress pubkey.PublicKey, status index.Status) {
	if s.notifier != nil {
		s.notifier.EscrowStatusChanged(owner, escrowAddress, status)
	}
}
