// Package events decodes the structured event log of confirmed
// transactions.
//
// The ledger program appends events to the transaction log as
// "Program data: <base64>" lines. Each payload starts with an 8-byte
// discriminator derived from the event name, followed by the event's
// little-endian fixed-width fields.
package events

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mkarrer/swapdesk/internal/pubkey"
	"github.com/mkarrer/swapdesk/internal/rpcclient"
)

const programDataPrefix = "Program data: "

var (
	ErrTransactionNotFound = errors.New("events: transaction not found")
	ErrMalformedEvent      = errors.New("events: malformed event payload")
)

// Discriminator returns the 8-byte tag that opens every payload of the
// named event.
func Discriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("event:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// Extractor re-fetches confirmed transactions and pulls named events
// out of their logs.
type Extractor struct {
	client rpcclient.Client
	logger *slog.Logger
}

// NewExtractor creates an event extractor.
func NewExtractor(client rpcclient.Client, logger *slog.Logger) *Extractor {
	return &Extractor{client: client, logger: logger}
}

// Extract returns the first matching named event's payload (without the
// discriminator). A confirmed transaction with no matching event
// returns (nil, nil): that is a program-level anomaly for the caller to
// log, not a client-side failure.
func (e *Extractor) Extract(ctx context.Context, signature, name string) ([]byte, error) {
	detail, err := e.client.GetTransaction(ctx, signature)
	if err != nil {
		return nil, fmt.Errorf("events: refetch %s: %w", signature, err)
	}
	if detail == nil {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, signature)
	}

	want := Discriminator(name)
	for _, line := range detail.Logs {
		if !strings.HasPrefix(line, programDataPrefix) {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(line, programDataPrefix))
		if err != nil {
			// Not every program-data line belongs to our program.
			continue
		}
		if len(raw) < 8 {
			continue
		}
		var got [8]byte
		copy(got[:], raw[:8])
		if got == want {
			return raw[8:], nil
		}
	}

	e.logger.Warn("confirmed transaction missing expected event",
		"signature", signature,
		"event", name,
	)
	return nil, nil
}

// Event names emitted by the escrow program.
const (
	NameEscrowCreated   = "EscrowCreated"
	NameEscrowCancelled = "EscrowCancelled"
	NameEscrowAccepted  = "EscrowAccepted"
)

// EscrowCreated reports the ledger-assigned values of a new escrow.
type EscrowCreated struct {
	Escrow         pubkey.PublicKey
	Owner          pubkey.PublicKey
	Seed           uint64
	DepositAmount  uint64
	ExpectedAmount uint64
	Expiry         int64 // unix seconds; 0 means no expiry
}

// EscrowCancelled reports a cancelled escrow.
type EscrowCancelled struct {
	Escrow pubkey.PublicKey
	Owner  pubkey.PublicKey
}

// EscrowAccepted reports a fulfilled swap.
type EscrowAccepted struct {
	Escrow       pubkey.PublicKey
	Owner        pubkey.PublicKey
	Counterparty pubkey.PublicKey
}

// ExtractEscrowCreated decodes the creation event of a confirmed
// transaction. (nil, nil) means the event was absent.
func (e *Extractor) ExtractEscrowCreated(ctx context.Context, signature string) (*EscrowCreated, error) {
	payload, err := e.Extract(ctx, signature, NameEscrowCreated)
	if err != nil || payload == nil {
		return nil, err
	}
	r := reader{data: payload}
	ev := &EscrowCreated{
		Escrow:         r.pubkey(),
		Owner:          r.pubkey(),
		Seed:           r.uint64(),
		DepositAmount:  r.uint64(),
		ExpectedAmount: r.uint64(),
		Expiry:         int64(r.uint64()),
	}
	if r.failed {
		return nil, fmt.Errorf("%w: %s", ErrMalformedEvent, NameEscrowCreated)
	}
	return ev, nil
}

// ExtractEscrowCancelled decodes the cancellation event.
func (e *Extractor) ExtractEscrowCancelled(ctx context.Context, signature string) (*EscrowCancelled, error) {
	payload, err := e.Extract(ctx, signature, NameEscrowCancelled)
	if err != nil || payload == nil {
		return nil, err
	}
	r := reader{data: payload}
	ev := &EscrowCancelled{Escrow: r.pubkey(), Owner: r.pubkey()}
	if r.failed {
		return nil, fmt.Errorf("%w: %s", ErrMalformedEvent, NameEscrowCancelled)
	}
	return ev, nil
}

// ExtractEscrowAccepted decodes the acceptance event.
func (e *Extractor) ExtractEscrowAccepted(ctx context.Context, signature string) (*EscrowAccepted, error) {
	payload, err := e.Extract(ctx, signature, NameEscrowAccepted)
	if err != nil || payload == nil {
		return nil, err
	}
	r := reader{data: payload}
	ev := &EscrowAccepted{Escrow: r.pubkey(), Owner: r.pubkey(), Counterparty: r.pubkey()}
	if r.failed {
		return nil, fmt.Errorf("%w: %s", ErrMalformedEvent, NameEscrowAccepted)
	}
	return ev, nil
}

// reader walks a fixed-width little-endian payload, latching failure.
type reader struct {
	data   []byte
	pos    int
	failed bool
}

func (r *reader) pubkey() pubkey.PublicKey {
	if r.failed || r.pos+pubkey.Size > len(r.data) {
		r.failed = true
		return pubkey.Zero
	}
	pk, err := pubkey.FromBytes(r.data[r.pos : r.pos+pubkey.Size])
	if err != nil {
		r.failed = true
		return pubkey.Zero
	}
	r.pos += pubkey.Size
	return pk
}

func (r *reader) uint64() uint64 {
	if r.failed || r.pos+8 > len(r.data) {
		r.failed = true
		return 0
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v
}
