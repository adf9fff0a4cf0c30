package events

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"log/slog"
	"testing"

	"github.com/mkarrer/swapdesk/internal/pubkey"
	"github.com/mkarrer/swapdesk/internal/testutil"
)

const testSig = "EventSig111111111111111111111111111111111111"

func newKey(t *testing.T) pubkey.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pk, err := pubkey.FromBytes(pub)
	if err != nil {
		t.Fatalf("from bytes: %v", err)
	}
	return pk
}

func eventLine(name string, fields ...[]byte) string {
	d := Discriminator(name)
	payload := append([]byte{}, d[:]...)
	for _, f := range fields {
		payload = append(payload, f...)
	}
	return programDataPrefix + base64.StdEncoding.EncodeToString(payload)
}

func u64le(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

func TestExtractEscrowCreated(t *testing.T) {
	escrow := newKey(t)
	owner := newKey(t)

	stub := testutil.NewLedgerStub()
	stub.Logs[testSig] = []string{
		"Program 11111111111111111111111111111111 invoke [1]",
		eventLine(NameEscrowCreated,
			escrow.Bytes(), owner.Bytes(),
			u64le(0x0807060504030201), u64le(10_000), u64le(10), u64le(1_700_003_600)),
		"Program 11111111111111111111111111111111 success",
	}

	ex := NewExtractor(stub, slog.New(slog.DiscardHandler))
	ev, err := ex.ExtractEscrowCreated(context.Background(), testSig)
	if err != nil {
		t.Fatalf("ExtractEscrowCreated failed: %v", err)
	}
	if ev == nil {
		t.Fatal("event missing")
	}
	if ev.Escrow != escrow || ev.Owner != owner {
		t.Error("address fields mismatch")
	}
	if ev.Seed != 0x0807060504030201 {
		t.Errorf("seed = %#x", ev.Seed)
	}
	if ev.DepositAmount != 10_000 || ev.ExpectedAmount != 10 {
		t.Errorf("amounts = %d / %d", ev.DepositAmount, ev.ExpectedAmount)
	}
	if ev.Expiry != 1_700_003_600 {
		t.Errorf("expiry = %d", ev.Expiry)
	}
}

func TestExtractAbsentEventIsNil(t *testing.T) {
	stub := testutil.NewLedgerStub()
	stub.Logs[testSig] = []string{
		"Program log: Instruction: Cancel",
		eventLine(NameEscrowCancelled, newKey(t).Bytes(), newKey(t).Bytes()),
	}

	ex := NewExtractor(stub, slog.New(slog.DiscardHandler))
	ev, err := ex.ExtractEscrowCreated(context.Background(), testSig)
	if err != nil {
		t.Fatalf("absent event must not be an error: %v", err)
	}
	if ev != nil {
		t.Fatalf("expected nil event, got %+v", ev)
	}
}

func TestExtractUnknownTransaction(t *testing.T) {
	ex := NewExtractor(testutil.NewLedgerStub(), slog.New(slog.DiscardHandler))
	_, err := ex.ExtractEscrowCreated(context.Background(), testSig)
	if !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestExtractTruncatedPayload(t *testing.T) {
	stub := testutil.NewLedgerStub()
	stub.Logs[testSig] = []string{
		eventLine(NameEscrowCreated, newKey(t).Bytes()), // missing the rest
	}

	ex := NewExtractor(stub, slog.New(slog.DiscardHandler))
	_, err := ex.ExtractEscrowCreated(context.Background(), testSig)
	if !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("expected ErrMalformedEvent, got %v", err)
	}
}

func TestExtractSkipsForeignDataLines(t *testing.T) {
	escrow := newKey(t)
	owner := newKey(t)
	counterparty := newKey(t)

	stub := testutil.NewLedgerStub()
	stub.Logs[testSig] = []string{
		programDataPrefix + "!!!not-base64!!!",
		programDataPrefix + base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), // too short
		eventLine("SomeOtherEvent", u64le(7)),
		eventLine(NameEscrowAccepted, escrow.Bytes(), owner.Bytes(), counterparty.Bytes()),
	}

	ex := NewExtractor(stub, slog.New(slog.DiscardHandler))
	ev, err := ex.ExtractEscrowAccepted(context.Background(), testSig)
	if err != nil {
		t.Fatalf("ExtractEscrowAccepted failed: %v", err)
	}
	if ev == nil || ev.Counterparty != counterparty {
		t.Fatalf("event not found past foreign lines: %+v", ev)
	}
}

func TestDiscriminatorStable(t *testing.T) {
	a := Discriminator(NameEscrowCreated)
	b := Discriminator(NameEscrowCreated)
	if a != b {
		t.Fatal("discriminator not deterministic")
	}
	if a == Discriminator(NameEscrowCancelled) {
		t.Fatal("distinct events share a discriminator")
	}
}
