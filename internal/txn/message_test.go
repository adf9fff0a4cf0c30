package txn

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/mkarrer/swapdesk/internal/pubkey"
	"github.com/mkarrer/swapdesk/internal/wallet"
)

var testBlockhash = base58.Encode(bytes.Repeat([]byte{7}, 32))

func testKey(t *testing.T) pubkey.PublicKey {
	t.Helper()
	w, err := wallet.Generate()
	if err != nil {
		t.Fatalf("generate wallet: %v", err)
	}
	return w.Address()
}

func TestCompileOrdersAccounts(t *testing.T) {
	payer := testKey(t)
	writable := testKey(t)
	readonly := testKey(t)
	program := pubkey.SystemProgram

	msg, err := Compile(payer, testBlockhash, []Instruction{{
		Program: program,
		Accounts: []AccountMeta{
			{Key: readonly},
			{Key: writable, Writable: true},
			{Key: payer, Signer: true, Writable: true},
		},
		Data: []byte{1, 2, 3},
	}})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	if msg.AccountKeys[0] != payer {
		t.Error("fee payer must occupy slot 0")
	}
	if msg.NumRequiredSignatures != 1 {
		t.Errorf("NumRequiredSignatures = %d, want 1", msg.NumRequiredSignatures)
	}
	// program + readonly account are the read-only unsigned tail
	if msg.NumReadonlyUnsignedAccounts != 2 {
		t.Errorf("NumReadonlyUnsignedAccounts = %d, want 2", msg.NumReadonlyUnsignedAccounts)
	}
	if len(msg.AccountKeys) != 4 {
		t.Errorf("account table size = %d, want 4", len(msg.AccountKeys))
	}
	// writable non-signers come before read-only ones
	if msg.AccountKeys[1] != writable {
		t.Errorf("slot 1 = %s, want writable account", msg.AccountKeys[1])
	}
}

func TestCompileDeduplicatesAndUpgrades(t *testing.T) {
	payer := testKey(t)
	shared := testKey(t)

	msg, err := Compile(payer, testBlockhash, []Instruction{
		{Program: pubkey.SystemProgram, Accounts: []AccountMeta{{Key: shared}}},
		{Program: pubkey.TokenLegacy, Accounts: []AccountMeta{{Key: shared, Writable: true}}},
	})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	count := 0
	for _, k := range msg.AccountKeys {
		if k == shared {
			count++
		}
	}
	if count != 1 {
		t.Errorf("shared account appears %d times, want 1", count)
	}
	// Upgraded to writable: must sit before the read-only tail.
	if msg.AccountKeys[1] != shared {
		t.Errorf("slot 1 = %s, want upgraded shared account", msg.AccountKeys[1])
	}
}

func TestCompileRejectsBadInput(t *testing.T) {
	payer := testKey(t)

	if _, err := Compile(pubkey.Zero, testBlockhash, []Instruction{{Program: pubkey.SystemProgram}}); !errors.Is(err, ErrValidation) {
		t.Errorf("zero payer: got %v", err)
	}
	if _, err := Compile(payer, testBlockhash, nil); !errors.Is(err, ErrValidation) {
		t.Errorf("empty instructions: got %v", err)
	}
	if _, err := Compile(payer, "zzz", []Instruction{{Program: pubkey.SystemProgram}}); !errors.Is(err, ErrValidation) {
		t.Errorf("bad blockhash: got %v", err)
	}
	if _, err := Compile(payer, testBlockhash, []Instruction{{Program: pubkey.Zero}}); !errors.Is(err, ErrValidation) {
		t.Errorf("zero program: got %v", err)
	}
}

func TestSerializeRoundsStable(t *testing.T) {
	payer := testKey(t)
	msg, err := Compile(payer, testBlockhash, []Instruction{{
		Program: pubkey.SystemProgram,
		Data:    []byte{9, 9},
	}})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	a := msg.Serialize()
	b := msg.Serialize()
	if !bytes.Equal(a, b) {
		t.Error("Serialize is not deterministic")
	}

	// header(3) + len(1) + 2 keys(64) + blockhash(32) + ixs len(1) +
	// program idx(1) + accounts len(1) + data len(1) + data(2)
	want := 3 + 1 + 64 + 32 + 1 + 1 + 1 + 1 + 2
	if len(a) != want {
		t.Errorf("serialized length = %d, want %d", len(a), want)
	}
}

func TestCompactLenEncoding(t *testing.T) {
	cases := []struct {
		n    int
		want []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{300, []byte{0xac, 0x02}},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		writeCompactLen(&buf, tc.n)
		if !bytes.Equal(buf.Bytes(), tc.want) {
			t.Errorf("compact(%d) = %v, want %v", tc.n, buf.Bytes(), tc.want)
		}
	}
}

func TestSignVerifies(t *testing.T) {
	w, err := wallet.Generate()
	if err != nil {
		t.Fatalf("generate wallet: %v", err)
	}

	msg, err := Compile(w.Address(), testBlockhash, []Instruction{{
		Program: pubkey.SystemProgram,
	}})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	tx, err := Sign(msg, []wallet.Signer{w})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if len(tx.Signatures) != 1 {
		t.Fatalf("got %d signatures, want 1", len(tx.Signatures))
	}
	if !ed25519.Verify(ed25519.PublicKey(w.Address().Bytes()), msg.Serialize(), tx.Signatures[0]) {
		t.Error("signature does not verify")
	}
	if tx.Signature() == "" {
		t.Error("empty identifying signature")
	}
	if tx.EncodeBase64() == "" {
		t.Error("empty encoding")
	}
}

func TestSignMissingSigner(t *testing.T) {
	payer := testKey(t)
	msg, err := Compile(payer, testBlockhash, []Instruction{{
		Program: pubkey.SystemProgram,
	}})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if _, err := Sign(msg, nil); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}
