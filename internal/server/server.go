// Package server exposes the swapdesk HTTP API.
//
// Routes:
//   - POST /v1/escrows                      propose a swap
//   - POST /v1/escrows/:address/cancel      withdraw a pending swap
//   - POST /v1/escrows/:address/accept      fulfill a pending swap
//   - GET  /v1/escrows/:address             read ledger record
//   - GET  /v1/agents/:owner/escrows        list indexed escrows
//   - GET  /v1/assets/:asset/metadata       asset display metadata
//   - GET  /ws                              realtime status feed
//   - GET  /healthz, /readyz, /metrics      operational endpoints
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mkarrer/swapdesk/internal/escrow"
	"github.com/mkarrer/swapdesk/internal/health"
	"github.com/mkarrer/swapdesk/internal/index"
	"github.com/mkarrer/swapdesk/internal/metrics"
	"github.com/mkarrer/swapdesk/internal/pubkey"
	"github.com/mkarrer/swapdesk/internal/token"
	"github.com/mkarrer/swapdesk/internal/txn"
	"github.com/mkarrer/swapdesk/internal/validation"
	"github.com/mkarrer/swapdesk/internal/wallet"
)

// Facade is the lifecycle surface the handlers call.
type Facade interface {
	Create(ctx context.Context, owner wallet.Signer, params escrow.CreateParams) (*escrow.CreateResult, error)
	Cancel(ctx context.Context, owner wallet.Signer, escrowAddress pubkey.PublicKey) (*escrow.TransitionResult, error)
	Accept(ctx context.Context, counterparty wallet.Signer, escrowAddress pubkey.PublicKey) (*escrow.TransitionResult, error)
	List(ctx context.Context, owner pubkey.PublicKey) ([]index.Entry, error)
	Fetch(ctx context.Context, escrowAddress pubkey.PublicKey) (*escrow.Record, error)
}

// MetadataFetcher resolves asset display metadata.
type MetadataFetcher interface {
	Fetch(ctx context.Context, asset pubkey.PublicKey) (*token.Metadata, error)
}

// Tracker registers participants with the reconciliation sweep. May be nil.
type Tracker interface {
	Track(owner pubkey.PublicKey)
}

// WebSocketHandler upgrades the realtime feed. May be nil.
type WebSocketHandler interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
}

// Server wires handlers, middleware, and the HTTP listener.
type Server struct {
	engine   *gin.Engine
	facade   Facade
	metadata MetadataFetcher
	signer   wallet.Signer
	hub      WebSocketHandler
	tracker  Tracker
	checks   *health.Registry
	logger   *slog.Logger
	httpSrv  *http.Server
}

// Deps wires the server's collaborators.
type Deps struct {
	Facade   Facade
	Metadata MetadataFetcher
	Signer   wallet.Signer
	Hub      WebSocketHandler
	Tracker  Tracker
	Checks   *health.Registry
	Logger   *slog.Logger
}

// New builds the router.
func New(d Deps) *Server {
	s := &Server{
		facade:   d.Facade,
		metadata: d.Metadata,
		signer:   d.Signer,
		hub:      d.Hub,
		tracker:  d.Tracker,
		checks:   d.Checks,
		logger:   d.Logger,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(metrics.Middleware())
	engine.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/readyz", s.handleReadyz)
	engine.GET("/metrics", metrics.Handler())
	if s.hub != nil {
		engine.GET("/ws", func(c *gin.Context) {
			s.hub.HandleWebSocket(c.Writer, c.Request)
		})
	}

	v1 := engine.Group("/v1")
	{
		v1.POST("/escrows", s.handleCreate)

		byAddress := v1.Group("/escrows/:address")
		byAddress.Use(validation.AddressParamMiddleware("address"))
		byAddress.GET("", s.handleFetch)
		byAddress.POST("/cancel", s.handleCancel)
		byAddress.POST("/accept", s.handleAccept)

		agents := v1.Group("/agents/:owner")
		agents.Use(validation.AddressParamMiddleware("owner"))
		agents.GET("/escrows", s.handleList)

		assets := v1.Group("/assets/:asset")
		assets.Use(validation.AddressParamMiddleware("asset"))
		assets.GET("/metadata", s.handleMetadata)
	}

	s.engine = engine
	return s
}

// Handler returns the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http server listening", "addr", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

type createRequest struct {
	DepositedAsset  string `json:"deposited_asset"`
	DepositAmount   string `json:"deposit_amount"`
	ExpectedAsset   string `json:"expected_asset"`
	ExpectedAmount  string `json:"expected_amount"`
	DurationSeconds uint64 `json:"duration_seconds"`
	Seed            string `json:"seed"`
}

func (s *Server) handleCreate(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body", "message": err.Error()})
		return
	}

	if errs := validation.Validate(
		validation.Required("deposited_asset", req.DepositedAsset),
		validation.ValidAddress("deposited_asset", req.DepositedAsset),
		validation.Required("expected_asset", req.ExpectedAsset),
		validation.ValidAddress("expected_asset", req.ExpectedAsset),
		validation.Required("deposit_amount", req.DepositAmount),
		validation.ValidAmount("deposit_amount", req.DepositAmount),
		validation.Required("expected_amount", req.ExpectedAmount),
		validation.ValidAmount("expected_amount", req.ExpectedAmount),
		validation.Required("seed", req.Seed),
		validation.ValidSeed("seed", req.Seed),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": errs})
		return
	}

	params, ok := s.createParams(req)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body"})
		return
	}

	result, err := s.facade.Create(c.Request.Context(), s.signer, params)
	if err != nil && result == nil {
		s.writeError(c, err)
		return
	}

	resp := gin.H{
		"escrow_address": result.EscrowAddress,
		"vault":          result.Vault,
		"signature":      result.Signature,
		"expiry":         result.Expiry,
		"status":         index.StatusPending,
	}
	// Ledger success with a failed index write is still success.
	if err != nil {
		resp["warning"] = "escrow created, listing may be stale"
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) createParams(req createRequest) (escrow.CreateParams, bool) {
	deposited, err := pubkey.Parse(req.DepositedAsset)
	if err != nil {
		return escrow.CreateParams{}, false
	}
	expected, err := pubkey.Parse(req.ExpectedAsset)
	if err != nil {
		return escrow.CreateParams{}, false
	}
	seedBytes, ok := validation.ParseSeed(req.Seed)
	if !ok {
		return escrow.CreateParams{}, false
	}
	depositAmount, ok := parseAmount(req.DepositAmount)
	if !ok {
		return escrow.CreateParams{}, false
	}
	expectedAmount, ok := parseAmount(req.ExpectedAmount)
	if !ok {
		return escrow.CreateParams{}, false
	}
	return escrow.CreateParams{
		DepositedAsset:  deposited,
		DepositAmount:   depositAmount,
		ExpectedAsset:   expected,
		ExpectedAmount:  expectedAmount,
		DurationSeconds: req.DurationSeconds,
		Seed:            escrow.Seed(seedBytes),
	}, true
}

func (s *Server) handleCancel(c *gin.Context) {
	addr := pubkey.MustParse(c.Param("address"))
	result, err := s.facade.Cancel(c.Request.Context(), s.signer, addr)
	s.writeTransition(c, result, err)
}

func (s *Server) handleAccept(c *gin.Context) {
	addr := pubkey.MustParse(c.Param("address"))
	result, err := s.facade.Accept(c.Request.Context(), s.signer, addr)
	s.writeTransition(c, result, err)
}

func (s *Server) writeTransition(c *gin.Context, result *escrow.TransitionResult, err error) {
	if err != nil && result == nil {
		s.writeError(c, err)
		return
	}
	resp := gin.H{
		"escrow_address": result.EscrowAddress,
		"owner":          result.Owner,
		"status":         result.Status,
		"signature":      result.Signature,
	}
	if err != nil {
		resp["warning"] = "transaction confirmed, listing may be stale"
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleFetch(c *gin.Context) {
	addr := pubkey.MustParse(c.Param("address"))
	rec, err := s.facade.Fetch(c.Request.Context(), addr)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"escrow_address":  addr,
		"owner":           rec.Owner,
		"deposited_asset": rec.DepositedAsset,
		"deposit_amount":  rec.DepositAmount,
		"expected_asset":  rec.ExpectedAsset,
		"expected_amount": rec.ExpectedAmount,
		"expiry":          rec.Expiry,
	})
}

func (s *Server) handleList(c *gin.Context) {
	owner := pubkey.MustParse(c.Param("owner"))
	if s.tracker != nil {
		s.tracker.Track(owner)
	}
	entries, err := s.facade.List(c.Request.Context(), owner)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if entries == nil {
		entries = []index.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"escrows": entries})
}

func (s *Server) handleMetadata(c *gin.Context) {
	asset := pubkey.MustParse(c.Param("asset"))
	meta, err := s.metadata.Fetch(c.Request.Context(), asset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleReadyz(c *gin.Context) {
	healthy, statuses := s.checks.CheckAll(c.Request.Context())
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"healthy": healthy, "checks": statuses})
}

// writeError maps the error taxonomy onto HTTP statuses. A
// confirmation timeout is ambiguous and must read that way.
func (s *Server) writeError(c *gin.Context, err error) {
	var vErrs validation.ValidationErrors
	switch {
	case errors.As(err, &vErrs):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": vErrs})
	case errors.Is(err, txn.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": err.Error()})
	case errors.Is(err, escrow.ErrSeedInUse):
		c.JSON(http.StatusConflict, gin.H{"error": "seed_in_use", "message": err.Error()})
	case errors.Is(err, escrow.ErrEscrowNotFound), errors.Is(err, token.ErrAssetNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, token.ErrIncompatibleVariants):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "incompatible_asset_variants", "message": err.Error()})
	case errors.Is(err, token.ErrInsufficientFunds):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient_funds", "message": err.Error()})
	case errors.Is(err, txn.ErrSimulation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "simulation_failed", "message": err.Error()})
	case errors.Is(err, txn.ErrConfirmationTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"error":   "confirmation_timeout",
			"message": "broadcast succeeded but confirmation was not observed; re-query ledger state before retrying",
		})
	case errors.Is(err, txn.ErrSubmission):
		c.JSON(http.StatusBadGateway, gin.H{"error": "submission_failed", "message": err.Error()})
	default:
		s.logger.Error("request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
	}
}

func parseAmount(v string) (uint64, bool) {
	n, err := strconv.ParseUint(v, 10, 64)
	return n, err == nil
}
