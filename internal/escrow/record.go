package escrow

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mkarrer/swapdesk/internal/pubkey"
	"github.com/mkarrer/swapdesk/internal/rpcclient"
)

// ErrMalformedRecord marks account data that does not decode as an
// escrow record.
var ErrMalformedRecord = errors.New("escrow: malformed record data")

// recordSize is the serialized escrow account:
// 8 discriminator + 32 owner + 8 seed + 32 deposited asset + 8 amount +
// 32 expected asset + 8 amount + 32 holding + 32 receiving +
// 8 expiry + 1 bump.
const recordSize = 201

// recordTag returns the 8-byte discriminator of escrow record accounts.
func recordTag() [8]byte {
	sum := sha256.Sum256([]byte("account:Escrow"))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// RecordFilter matches program accounts that carry the escrow record
// discriminator, for getProgramAccounts listings.
func RecordFilter() rpcclient.MemcmpFilter {
	tag := recordTag()
	return rpcclient.MemcmpFilter{Offset: 0, Bytes: tag[:]}
}

// Record is the ledger-resident escrow state. It exists only between a
// confirmed create and a confirmed cancel or accept.
type Record struct {
	Owner          pubkey.PublicKey
	Seed           Seed
	DepositedAsset pubkey.PublicKey
	DepositAmount  uint64
	ExpectedAsset  pubkey.PublicKey
	ExpectedAmount uint64
	OwnerHolding   pubkey.PublicKey
	OwnerReceiving pubkey.PublicKey
	Expiry         int64 // unix seconds; 0 means no expiry
	Bump           uint8
}

// DecodeRecord parses an escrow account's raw data.
func DecodeRecord(data []byte) (*Record, error) {
	if len(data) < recordSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedRecord, len(data))
	}
	want := recordTag()
	var got [8]byte
	copy(got[:], data[:8])
	if got != want {
		return nil, fmt.Errorf("%w: wrong discriminator", ErrMalformedRecord)
	}

	r := &Record{}
	pos := 8
	pos = readKey(data, pos, &r.Owner)
	copy(r.Seed[:], data[pos:pos+8])
	pos += 8
	pos = readKey(data, pos, &r.DepositedAsset)
	r.DepositAmount = binary.LittleEndian.Uint64(data[pos:])
	pos += 8
	pos = readKey(data, pos, &r.ExpectedAsset)
	r.ExpectedAmount = binary.LittleEndian.Uint64(data[pos:])
	pos += 8
	pos = readKey(data, pos, &r.OwnerHolding)
	pos = readKey(data, pos, &r.OwnerReceiving)
	r.Expiry = int64(binary.LittleEndian.Uint64(data[pos:]))
	pos += 8
	r.Bump = data[pos]
	return r, nil
}

// Encode serializes the record in account layout. The inverse of
// DecodeRecord; used by tests and the reconciliation fixtures.
func (r *Record) Encode() []byte {
	data := make([]byte, 0, recordSize)
	tag := recordTag()
	data = append(data, tag[:]...)
	data = append(data, r.Owner.Bytes()...)
	data = append(data, r.Seed[:]...)
	data = append(data, r.DepositedAsset.Bytes()...)
	data = appendU64(data, r.DepositAmount)
	data = append(data, r.ExpectedAsset.Bytes()...)
	data = appendU64(data, r.ExpectedAmount)
	data = append(data, r.OwnerHolding.Bytes()...)
	data = append(data, r.OwnerReceiving.Bytes()...)
	data = appendU64(data, uint64(r.Expiry))
	data = append(data, r.Bump)
	return data
}

func readKey(data []byte, pos int, out *pubkey.PublicKey) int {
	copy(out[:], data[pos:pos+pubkey.Size])
	return pos + pubkey.Size
}
