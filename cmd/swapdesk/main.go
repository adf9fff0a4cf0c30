// Swapdesk - escrow orchestration for two-party token swaps
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mkarrer/swapdesk/internal/config"
	"github.com/mkarrer/swapdesk/internal/escrow"
	"github.com/mkarrer/swapdesk/internal/events"
	"github.com/mkarrer/swapdesk/internal/health"
	"github.com/mkarrer/swapdesk/internal/index"
	"github.com/mkarrer/swapdesk/internal/logging"
	"github.com/mkarrer/swapdesk/internal/pubkey"
	"github.com/mkarrer/swapdesk/internal/realtime"
	"github.com/mkarrer/swapdesk/internal/reconcile"
	"github.com/mkarrer/swapdesk/internal/rpcclient"
	"github.com/mkarrer/swapdesk/internal/server"
	"github.com/mkarrer/swapdesk/internal/token"
	"github.com/mkarrer/swapdesk/internal/traces"
	"github.com/mkarrer/swapdesk/internal/txn"
	"github.com/mkarrer/swapdesk/internal/wallet"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting swapdesk",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = logging.New(cfg.LogLevel, cfg.LogFmt)

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"rpc_url", cfg.RPCURL,
		"escrow_program", cfg.EscrowProgram,
		"commitment", cfg.Commitment,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}

	programID, err := pubkey.Parse(cfg.EscrowProgram)
	if err != nil {
		logger.Error("invalid ESCROW_PROGRAM", "error", err)
		os.Exit(1)
	}
	signer, err := wallet.FromBase58(cfg.PrivateKey)
	if err != nil {
		logger.Error("invalid PRIVATE_KEY", "error", err)
		os.Exit(1)
	}

	client, err := rpcclient.Dial(ctx, cfg.RPCURL)
	if err != nil {
		logger.Error("failed to connect to ledger node", "error", err)
		os.Exit(1)
	}
	defer client.Close()
	client.SetCommitment(rpcclient.Commitment(cfg.Commitment))

	submitter := txn.NewSubmitter(client, logger)
	submitter.ConfirmTimeout = cfg.ConfirmTimeout
	submitter.SendMaxRetries = cfg.SendMaxRetries

	resolver := token.NewResolver(client)
	ensurer := token.NewEnsurer(client, resolver, submitter, logger)
	ensurer.MinPayerBalance = cfg.MinPayerBalance

	program := escrow.NewProgram(programID)
	indexClient := index.NewClient(cfg.IndexURL, logger)
	cache := index.NewCache()
	hub := realtime.NewHub(logger)
	go hub.Run(ctx)

	svc := escrow.NewService(escrow.Deps{
		Client:    client,
		Program:   program,
		Resolver:  resolver,
		Ensurer:   ensurer,
		Submitter: submitter,
		Extractor: events.NewExtractor(client, logger),
		Indexer:   indexClient,
		Cache:     cache,
		Notifier:  hub,
		Logger:    logger,
	})

	sweeper := reconcile.NewSweeper(client, program, indexClient, cache, logger)
	sweeper.Interval = cfg.ReconcileInterval
	go sweeper.Run(ctx)

	checks := health.NewRegistry()
	checks.Register("ledger_node", health.NodeChecker(client))
	checks.Register("index", health.IndexChecker(cfg.IndexURL))

	srv := server.New(server.Deps{
		Facade:   svc,
		Metadata: token.NewMetadataService(client, logger),
		Signer:   signer,
		Hub:      hub,
		Tracker:  sweeper,
		Checks:   checks,
		Logger:   logger,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(":" + cfg.Port)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
	if err := shutdownTraces(shutdownCtx); err != nil {
		logger.Error("trace shutdown failed", "error", err)
	}
	logger.Info("swapdesk stopped")
}
