package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mkarrer/swapdesk/internal/escrow"
	"github.com/mkarrer/swapdesk/internal/health"
	"github.com/mkarrer/swapdesk/internal/index"
	"github.com/mkarrer/swapdesk/internal/pubkey"
	"github.com/mkarrer/swapdesk/internal/token"
	"github.com/mkarrer/swapdesk/internal/txn"
	"github.com/mkarrer/swapdesk/internal/wallet"
)

type mockFacade struct {
	createResult  *escrow.CreateResult
	createErr     error
	transition    *escrow.TransitionResult
	transitionErr error
	entries       []index.Entry
	record        *escrow.Record
	fetchErr      error

	lastParams escrow.CreateParams
}

func (m *mockFacade) Create(_ context.Context, _ wallet.Signer, params escrow.CreateParams) (*escrow.CreateResult, error) {
	m.lastParams = params
	return m.createResult, m.createErr
}

func (m *mockFacade) Cancel(context.Context, wallet.Signer, pubkey.PublicKey) (*escrow.TransitionResult, error) {
	return m.transition, m.transitionErr
}

func (m *mockFacade) Accept(context.Context, wallet.Signer, pubkey.PublicKey) (*escrow.TransitionResult, error) {
	return m.transition, m.transitionErr
}

func (m *mockFacade) List(context.Context, pubkey.PublicKey) ([]index.Entry, error) {
	return m.entries, nil
}

func (m *mockFacade) Fetch(context.Context, pubkey.PublicKey) (*escrow.Record, error) {
	return m.record, m.fetchErr
}

type mockMetadata struct {
	meta *token.Metadata
	err  error
}

func (m *mockMetadata) Fetch(context.Context, pubkey.PublicKey) (*token.Metadata, error) {
	return m.meta, m.err
}

type mockTracker struct{ tracked []pubkey.PublicKey }

func (m *mockTracker) Track(owner pubkey.PublicKey) { m.tracked = append(m.tracked, owner) }

func newTestServer(t *testing.T, facade *mockFacade) (*Server, *mockTracker) {
	t.Helper()
	signer, err := wallet.Generate()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	tracker := &mockTracker{}
	s := New(Deps{
		Facade:   facade,
		Metadata: &mockMetadata{meta: &token.Metadata{Name: "Foo", Symbol: "FOO", Decimals: 6}},
		Signer:   signer,
		Tracker:  tracker,
		Checks:   health.NewRegistry(),
		Logger:   slog.New(slog.DiscardHandler),
	})
	return s, tracker
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func validCreateBody() map[string]any {
	return map[string]any{
		"deposited_asset":  pubkey.TokenLegacy.String(),
		"deposit_amount":   "10000",
		"expected_asset":   pubkey.TokenExtended.String(),
		"expected_amount":  "10",
		"duration_seconds": 3600,
		"seed":             "0102030405060708",
	}
}

func TestCreateEndpoint(t *testing.T) {
	facade := &mockFacade{
		createResult: &escrow.CreateResult{
			EscrowAddress: pubkey.SystemProgram,
			Signature:     "Sig1",
			Expiry:        1_700_003_600,
		},
	}
	s, _ := newTestServer(t, facade)

	w := doJSON(t, s, http.MethodPost, "/v1/escrows", validCreateBody())
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if facade.lastParams.DepositAmount != 10_000 || facade.lastParams.ExpectedAmount != 10 {
		t.Errorf("params mismatch: %+v", facade.lastParams)
	}
	if facade.lastParams.Seed != (escrow.Seed{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Errorf("seed mismatch: %v", facade.lastParams.Seed)
	}
}

func TestCreateValidationRejected(t *testing.T) {
	s, _ := newTestServer(t, &mockFacade{})

	body := validCreateBody()
	body["deposit_amount"] = "0"
	if w := doJSON(t, s, http.MethodPost, "/v1/escrows", body); w.Code != http.StatusBadRequest {
		t.Errorf("zero amount: status = %d", w.Code)
	}

	body = validCreateBody()
	body["seed"] = "xyz"
	if w := doJSON(t, s, http.MethodPost, "/v1/escrows", body); w.Code != http.StatusBadRequest {
		t.Errorf("bad seed: status = %d", w.Code)
	}
}

func TestCreateIndexWarningStillCreated(t *testing.T) {
	facade := &mockFacade{
		createResult: &escrow.CreateResult{EscrowAddress: pubkey.SystemProgram, Signature: "Sig1"},
		createErr:    &index.WriteError{Op: "record create", Err: context.DeadlineExceeded},
	}
	s, _ := newTestServer(t, facade)

	w := doJSON(t, s, http.MethodPost, "/v1/escrows", validCreateBody())
	if w.Code != http.StatusCreated {
		t.Fatalf("ledger success must not fail the request: %d %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["warning"] == nil {
		t.Error("stale-listing warning missing")
	}
}

func TestCreateErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{escrow.ErrSeedInUse, http.StatusConflict},
		{token.ErrIncompatibleVariants, http.StatusUnprocessableEntity},
		{token.ErrAssetNotFound, http.StatusNotFound},
		{token.ErrInsufficientFunds, http.StatusPaymentRequired},
		{&txn.ConfirmationTimeoutError{Signature: "Sig"}, http.StatusGatewayTimeout},
		{&txn.SubmissionError{Attempts: 5, Err: context.DeadlineExceeded}, http.StatusBadGateway},
		{&txn.ValidationError{Field: "deposit_amount", Reason: "must be positive"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		s, _ := newTestServer(t, &mockFacade{createErr: tc.err})
		w := doJSON(t, s, http.MethodPost, "/v1/escrows", validCreateBody())
		if w.Code != tc.code {
			t.Errorf("%v: status = %d, want %d", tc.err, w.Code, tc.code)
		}
	}
}

func TestCancelEndpoint(t *testing.T) {
	facade := &mockFacade{
		transition: &escrow.TransitionResult{
			EscrowAddress: pubkey.SystemProgram,
			Status:        index.StatusCancelled,
			Signature:     "Sig2",
		},
	}
	s, _ := newTestServer(t, facade)

	w := doJSON(t, s, http.MethodPost, "/v1/escrows/"+pubkey.SystemProgram.String()+"/cancel", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestCancelNotFound(t *testing.T) {
	s, _ := newTestServer(t, &mockFacade{transitionErr: escrow.ErrEscrowNotFound})
	w := doJSON(t, s, http.MethodPost, "/v1/escrows/"+pubkey.SystemProgram.String()+"/cancel", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestAddressParamRejected(t *testing.T) {
	s, _ := newTestServer(t, &mockFacade{})
	w := doJSON(t, s, http.MethodPost, "/v1/escrows/not-an-address/cancel", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestListEndpointTracksOwner(t *testing.T) {
	owner := pubkey.TokenLegacy
	facade := &mockFacade{entries: []index.Entry{{Owner: owner, Status: index.StatusPending}}}
	s, tracker := newTestServer(t, facade)

	w := doJSON(t, s, http.MethodGet, "/v1/agents/"+owner.String()+"/escrows", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(tracker.tracked) != 1 || tracker.tracked[0] != owner {
		t.Errorf("tracker not called: %v", tracker.tracked)
	}
}

func TestMetadataEndpoint(t *testing.T) {
	s, _ := newTestServer(t, &mockFacade{})
	w := doJSON(t, s, http.MethodGet, "/v1/assets/"+pubkey.TokenLegacy.String()+"/metadata", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var meta token.Metadata
	if err := json.Unmarshal(w.Body.Bytes(), &meta); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if meta.Symbol != "FOO" {
		t.Errorf("symbol = %q", meta.Symbol)
	}
}

func TestReadyzUnhealthy(t *testing.T) {
	s, _ := newTestServer(t, &mockFacade{})
	s.checks.Register("down", func(context.Context) health.Status {
		return health.Status{Name: "down"}
	})
	w := doJSON(t, s, http.MethodGet, "/readyz", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, &mockFacade{})
	if w := doJSON(t, s, http.MethodGet, "/healthz", nil); w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}
