// Package reconcile periodically diffs ledger truth against the
// off-chain index and repairs what it can.
//
// The index is written only after a ledger transaction confirms, so a
// crashed process or failed write leaves the ledger ahead. The sweep
// lists ledger-resident escrow records, compares them with the index,
// and writes forward the entries the index is missing. Stale pending
// entries whose records are gone cannot be repaired here: the terminal
// outcome is not recoverable from account state alone, so they are
// counted and logged for operators.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mkarrer/swapdesk/internal/escrow"
	"github.com/mkarrer/swapdesk/internal/index"
	"github.com/mkarrer/swapdesk/internal/metrics"
	"github.com/mkarrer/swapdesk/internal/pubkey"
	"github.com/mkarrer/swapdesk/internal/rpcclient"
)

// DefaultInterval between sweeps.
const DefaultInterval = 5 * time.Minute

// Sweeper runs the periodic ledger-vs-index diff.
type Sweeper struct {
	client  rpcclient.Client
	program *escrow.Program
	indexer escrow.Indexer
	cache   *index.Cache
	logger  *slog.Logger

	Interval time.Duration

	mu      sync.Mutex
	tracked map[pubkey.PublicKey]struct{}
}

// NewSweeper creates a reconciliation sweeper.
func NewSweeper(client rpcclient.Client, program *escrow.Program, indexer escrow.Indexer, cache *index.Cache, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		client:   client,
		program:  program,
		indexer:  indexer,
		cache:    cache,
		logger:   logger,
		Interval: DefaultInterval,
		tracked:  make(map[pubkey.PublicKey]struct{}),
	}
}

// Track registers a participant whose index list should be checked for
// stale pending entries even when they hold no ledger records.
func (s *Sweeper) Track(owner pubkey.PublicKey) {
	s.mu.Lock()
	s.tracked[owner] = struct{}{}
	s.mu.Unlock()
}

// Run sweeps on a fixed interval until the context ends.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("reconciliation sweep started", "interval", s.Interval)
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reconciliation sweep stopped")
			return
		case <-ticker.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("reconciliation sweep failed", "error", err)
			} else if n > 0 {
				s.logger.Warn("reconciliation sweep found divergences", "count", n)
			}
		}
	}
}

// SweepOnce performs one full diff and returns how many divergences it
// found, repaired or not.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	accounts, err := s.client.GetProgramAccounts(ctx, s.program.ID, []rpcclient.MemcmpFilter{escrow.RecordFilter()})
	if err != nil {
		return 0, fmt.Errorf("reconcile: list program accounts: %w", err)
	}

	// Group ledger records by owner.
	records := make(map[pubkey.PublicKey]map[pubkey.PublicKey]*escrow.Record)
	for _, acc := range accounts {
		rec, err := escrow.DecodeRecord(acc.Account.Data)
		if err != nil {
			s.logger.Warn("skipping undecodable program account", "account", acc.Address, "error", err)
			continue
		}
		byOwner := records[rec.Owner]
		if byOwner == nil {
			byOwner = make(map[pubkey.PublicKey]*escrow.Record)
			records[rec.Owner] = byOwner
		}
		byOwner[acc.Address] = rec
	}

	owners := make(map[pubkey.PublicKey]struct{}, len(records))
	for owner := range records {
		owners[owner] = struct{}{}
	}
	s.mu.Lock()
	for owner := range s.tracked {
		owners[owner] = struct{}{}
	}
	s.mu.Unlock()

	divergences := 0
	for owner := range owners {
		n, err := s.sweepOwner(ctx, owner, records[owner])
		if err != nil {
			return divergences, err
		}
		divergences += n
	}
	return divergences, nil
}

func (s *Sweeper) sweepOwner(ctx context.Context, owner pubkey.PublicKey, ledger map[pubkey.PublicKey]*escrow.Record) (int, error) {
	entries, err := s.indexer.List(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("reconcile: list index for %s: %w", owner, err)
	}
	indexed := make(map[pubkey.PublicKey]index.Entry, len(entries))
	for _, e := range entries {
		indexed[e.EscrowAddress] = e
	}

	divergences := 0

	// Ledger record with no index entry: the create's index write was
	// lost. Write it forward.
	for addr, rec := range ledger {
		if _, ok := indexed[addr]; ok {
			continue
		}
		divergences++
		metrics.ReconcileDivergences.WithLabelValues("missing_entry").Inc()
		entry := index.Entry{
			EscrowAddress:  addr,
			Owner:          rec.Owner,
			DepositedAsset: rec.DepositedAsset,
			DepositAmount:  rec.DepositAmount,
			ExpectedAsset:  rec.ExpectedAsset,
			ExpectedAmount: rec.ExpectedAmount,
			Expiry:         rec.Expiry,
			Status:         index.StatusPending,
		}
		if err := s.indexer.RecordCreate(ctx, entry); err != nil {
			s.logger.Error("failed to repair missing index entry", "escrow", addr, "error", err)
			continue
		}
		s.cache.Invalidate(index.ListKey(owner))
		s.logger.Info("repaired missing index entry", "escrow", addr, "owner", owner)
	}

	// Pending index entry with no ledger record: the escrow settled but
	// the transition write was lost. The terminal status is unknowable
	// from here; surface it without guessing.
	for addr, e := range indexed {
		if e.Status != index.StatusPending {
			continue
		}
		if _, ok := ledger[addr]; ok {
			continue
		}
		divergences++
		metrics.ReconcileDivergences.WithLabelValues("stale_pending").Inc()
		s.logger.Warn("index entry pending but record gone from ledger",
			"escrow", addr, "owner", owner)
	}

	return divergences, nil
}
