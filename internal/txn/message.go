package txn

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/mkarrer/swapdesk/internal/pubkey"
	"github.com/mkarrer/swapdesk/internal/wallet"
)

// Message is a compiled transaction message: deduplicated account
// table, recent blockhash, and instructions rewritten as indexes into
// the table. Account ordering is fixed by the wire format: writable
// signers, read-only signers, writable non-signers, read-only
// non-signers, with the fee payer always at slot 0.
type Message struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
	AccountKeys                 []pubkey.PublicKey
	RecentBlockhash             [32]byte
	Instructions                []compiledInstruction
}

type compiledInstruction struct {
	ProgramIndex uint8
	AccountIdx   []uint8
	Data         []byte
}

type accountEntry struct {
	key      pubkey.PublicKey
	signer   bool
	writable bool
}

// Compile merges the instructions' account metas into a message.
// The fee payer is forced to be the first writable signer.
func Compile(payer pubkey.PublicKey, recentBlockhash string, instructions []Instruction) (*Message, error) {
	if payer.IsZero() {
		return nil, &ValidationError{Field: "payer", Reason: "zero fee payer"}
	}
	if len(instructions) == 0 {
		return nil, &ValidationError{Field: "instructions", Reason: "empty instruction list"}
	}
	for i := range instructions {
		if err := instructions[i].validate(); err != nil {
			return nil, err
		}
	}

	blockhash := base58.Decode(recentBlockhash)
	if len(blockhash) != 32 {
		return nil, &ValidationError{Field: "blockhash", Reason: "not a 32-byte base58 hash"}
	}

	// Merge account metas, upgrading privileges when the same key
	// appears in multiple roles.
	entries := []accountEntry{{key: payer, signer: true, writable: true}}
	lookup := map[pubkey.PublicKey]int{payer: 0}

	merge := func(key pubkey.PublicKey, signer, writable bool) {
		if idx, ok := lookup[key]; ok {
			entries[idx].signer = entries[idx].signer || signer
			entries[idx].writable = entries[idx].writable || writable
			return
		}
		lookup[key] = len(entries)
		entries = append(entries, accountEntry{key: key, signer: signer, writable: writable})
	}

	for _, in := range instructions {
		for _, acc := range in.Accounts {
			merge(acc.Key, acc.Signer, acc.Writable)
		}
		merge(in.Program, false, false)
	}

	// Stable partition into the four privilege classes; payer stays first.
	var ordered []accountEntry
	classes := []func(accountEntry) bool{
		func(e accountEntry) bool { return e.signer && e.writable },
		func(e accountEntry) bool { return e.signer && !e.writable },
		func(e accountEntry) bool { return !e.signer && e.writable },
		func(e accountEntry) bool { return !e.signer && !e.writable },
	}
	for _, match := range classes {
		for _, e := range entries {
			if match(e) {
				ordered = append(ordered, e)
			}
		}
	}

	msg := &Message{AccountKeys: make([]pubkey.PublicKey, len(ordered))}
	index := make(map[pubkey.PublicKey]uint8, len(ordered))
	for i, e := range ordered {
		if i > 255 {
			return nil, &ValidationError{Field: "accounts", Reason: "more than 256 distinct accounts"}
		}
		msg.AccountKeys[i] = e.key
		index[e.key] = uint8(i)
		if e.signer {
			msg.NumRequiredSignatures++
			if !e.writable {
				msg.NumReadonlySignedAccounts++
			}
		} else if !e.writable {
			msg.NumReadonlyUnsignedAccounts++
		}
	}
	copy(msg.RecentBlockhash[:], blockhash)

	for _, in := range instructions {
		ci := compiledInstruction{
			ProgramIndex: index[in.Program],
			Data:         in.Data,
		}
		for _, acc := range in.Accounts {
			ci.AccountIdx = append(ci.AccountIdx, index[acc.Key])
		}
		msg.Instructions = append(msg.Instructions, ci)
	}
	return msg, nil
}

// Serialize renders the message in the ledger wire format. This is the
// exact byte string signers sign.
func (m *Message) Serialize() []byte {
	var buf bytes.Buffer
	buf.WriteByte(m.NumRequiredSignatures)
	buf.WriteByte(m.NumReadonlySignedAccounts)
	buf.WriteByte(m.NumReadonlyUnsignedAccounts)
	writeCompactLen(&buf, len(m.AccountKeys))
	for _, key := range m.AccountKeys {
		buf.Write(key[:])
	}
	buf.Write(m.RecentBlockhash[:])
	writeCompactLen(&buf, len(m.Instructions))
	for _, in := range m.Instructions {
		buf.WriteByte(in.ProgramIndex)
		writeCompactLen(&buf, len(in.AccountIdx))
		buf.Write(in.AccountIdx)
		writeCompactLen(&buf, len(in.Data))
		buf.Write(in.Data)
	}
	return buf.Bytes()
}

// writeCompactLen emits the wire format's compact-u16 length prefix.
func writeCompactLen(buf *bytes.Buffer, n int) {
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}

// Transaction pairs a compiled message with its signatures.
type Transaction struct {
	Signatures [][]byte
	Message    *Message
}

// Sign produces signatures for every required signer, in account-table
// order. Missing signers fail; extra signers are ignored.
func Sign(msg *Message, signers []wallet.Signer) (*Transaction, error) {
	byAddr := make(map[pubkey.PublicKey]wallet.Signer, len(signers))
	for _, s := range signers {
		byAddr[s.Address()] = s
	}

	serialized := msg.Serialize()
	sigs := make([][]byte, 0, msg.NumRequiredSignatures)
	for i := 0; i < int(msg.NumRequiredSignatures); i++ {
		signer, ok := byAddr[msg.AccountKeys[i]]
		if !ok {
			return nil, &ValidationError{Field: "signers", Reason: "no signer for required account " + msg.AccountKeys[i].String()}
		}
		sig, err := signer.SignMessage(serialized)
		if err != nil {
			return nil, fmt.Errorf("txn: signing failed for %s: %w", msg.AccountKeys[i], err)
		}
		sigs = append(sigs, sig)
	}
	return &Transaction{Signatures: sigs, Message: msg}, nil
}

// EncodeBase64 renders the signed transaction for RPC submission.
func (tx *Transaction) EncodeBase64() string {
	var buf bytes.Buffer
	writeCompactLen(&buf, len(tx.Signatures))
	for _, sig := range tx.Signatures {
		buf.Write(sig)
	}
	buf.Write(tx.Message.Serialize())
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// Signature returns the transaction's identifying signature (the fee
// payer's), base58-encoded.
func (tx *Transaction) Signature() string {
	if len(tx.Signatures) == 0 {
		return ""
	}
	return base58.Encode(tx.Signatures[0])
}
