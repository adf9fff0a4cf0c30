// Package index talks to the off-chain escrow index.
//
// The index is a read-optimized projection of ledger truth, keyed by
// participant address. It is written only after the corresponding
// ledger transaction is confirmed, so the ledger is always at or
// ahead of the index. A failed index write leaves the projection
// stale, which the reconciliation sweep detects and repairs.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mkarrer/swapdesk/internal/metrics"
	"github.com/mkarrer/swapdesk/internal/pubkey"
	"github.com/mkarrer/swapdesk/internal/retry"
)

// Status is the index-side view of an escrow's lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition may follow.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Entry is one indexed escrow. Entries are never deleted; terminal
// statuses retain history.
type Entry struct {
	EscrowAddress  pubkey.PublicKey `json:"escrow_address"`
	Owner          pubkey.PublicKey `json:"owner"`
	DepositedAsset pubkey.PublicKey `json:"deposited_asset"`
	DepositAmount  uint64           `json:"deposit_amount"`
	ExpectedAsset  pubkey.PublicKey `json:"expected_asset"`
	ExpectedAmount uint64           `json:"expected_amount"`
	Expiry         int64            `json:"expiry"`
	Status         Status           `json:"status"`
}

var (
	// ErrWrite marks index write failures. Callers that see it after a
	// confirmed ledger mutation must report "succeeded, list may be
	// stale", never a generic failure.
	ErrWrite = errors.New("index: write failed")

	// ErrStatusRegression guards the one-directional status invariant.
	ErrStatusRegression = errors.New("index: status may not return to pending")
)

// WriteError carries which write failed. The ledger mutation it
// followed has already succeeded and cannot be rolled back.
type WriteError struct {
	Op    string
	Owner pubkey.PublicKey
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("index: %s for %s: %v", e.Op, e.Owner, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func (e *WriteError) Is(target error) bool { return target == ErrWrite }

const defaultWriteAttempts = 3

// Client is the HTTP client for the index service.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger

	// WriteAttempts bounds retries per write. Reads are not retried;
	// a stale list is tolerable, a lost write is not.
	WriteAttempts int
}

// NewClient creates an index client for the given base URL.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		http:          &http.Client{Timeout: 15 * time.Second},
		logger:        logger,
		WriteAttempts: defaultWriteAttempts,
	}
}

// List fetches all index entries for a participant.
func (c *Client) List(ctx context.Context, owner pubkey.PublicKey) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.escrowsURL(owner), nil)
	if err != nil {
		return nil, fmt.Errorf("index: build list request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("index: list %s: %w", owner, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("index: list %s: unexpected status %d", owner, resp.StatusCode)
	}

	var entries []Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("index: decode list for %s: %w", owner, err)
	}
	return entries, nil
}

// RecordCreate writes a fresh entry after a confirmed create. The
// entry's status must be pending.
func (c *Client) RecordCreate(ctx context.Context, entry Entry) error {
	if entry.Status == "" {
		entry.Status = StatusPending
	}
	if entry.Status != StatusPending {
		return fmt.Errorf("index: new entry must be pending, got %q", entry.Status)
	}

	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("index: encode entry: %w", err)
	}
	if err := c.write(ctx, http.MethodPost, c.escrowsURL(entry.Owner), body); err != nil {
		metrics.IndexWritesTotal.WithLabelValues("create", "error").Inc()
		return &WriteError{Op: "record create", Owner: entry.Owner, Err: err}
	}
	metrics.IndexWritesTotal.WithLabelValues("create", "ok").Inc()
	return nil
}

// transitionBody is the PUT payload updating one entry's status.
type transitionBody struct {
	EscrowAddress pubkey.PublicKey `json:"escrow_address"`
	Status        Status           `json:"status"`
}

// RecordTransition moves an entry to a terminal status after the
// corresponding ledger transaction is confirmed. Re-sending the same
// terminal status is an application-level no-op on the index side.
func (c *Client) RecordTransition(ctx context.Context, owner, escrowAddress pubkey.PublicKey, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("index: unknown status %q", status)
	}
	if !status.Terminal() {
		return ErrStatusRegression
	}

	body, err := json.Marshal(transitionBody{EscrowAddress: escrowAddress, Status: status})
	if err != nil {
		return fmt.Errorf("index: encode transition: %w", err)
	}
	if err := c.write(ctx, http.MethodPut, c.escrowsURL(owner), body); err != nil {
		metrics.IndexWritesTotal.WithLabelValues("transition", "error").Inc()
		return &WriteError{Op: "record transition", Owner: owner, Err: err}
	}
	metrics.IndexWritesTotal.WithLabelValues("transition", "ok").Inc()
	return nil
}

// write issues one mutating request with bounded retries. 4xx responses
// are permanent; 5xx and transport errors retry.
func (c *Client) write(ctx context.Context, method, url string, body []byte) error {
	return retry.Do(ctx, c.WriteAttempts, 200*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		err = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return retry.Permanent(err)
		}
		return err
	})
}

func (c *Client) escrowsURL(owner pubkey.PublicKey) string {
	return c.baseURL + "/escrows/" + owner.String()
}
