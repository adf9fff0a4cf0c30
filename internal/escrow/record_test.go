package escrow

import (
	"errors"
	"testing"
)

func TestRecordRoundTrip(t *testing.T) {
	rec := &Record{
		Owner:          newKey(t),
		Seed:           Seed{1, 2, 3, 4, 5, 6, 7, 8},
		DepositedAsset: newKey(t),
		DepositAmount:  10_000,
		ExpectedAsset:  newKey(t),
		ExpectedAmount: 10,
		OwnerHolding:   newKey(t),
		OwnerReceiving: newKey(t),
		Expiry:         1_700_003_600,
		Bump:           254,
	}

	got, err := DecodeRecord(rec.Encode())
	if err != nil {
		t.Fatalf("DecodeRecord failed: %v", err)
	}
	if *got != *rec {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, rec)
	}
}

func TestDecodeRecordTruncated(t *testing.T) {
	_, err := DecodeRecord(make([]byte, 50))
	if !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord, got %v", err)
	}
}

func TestDecodeRecordWrongDiscriminator(t *testing.T) {
	data := (&Record{Owner: newKey(t)}).Encode()
	data[0] ^= 0xff
	_, err := DecodeRecord(data)
	if !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord, got %v", err)
	}
}
