// Package pubkey provides ledger public keys and program-derived
// address computation.
//
// Keys are 32-byte ed25519 points encoded as base58. Program-derived
// addresses are sha256 digests of caller-chosen seeds plus the owning
// program's key; a valid derived address must not lie on the ed25519
// curve, so derivation searches bump bytes from 255 downward until the
// digest falls off-curve.
package pubkey

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/btcsuite/btcd/btcutil/base58"
)

// Size is the byte length of a public key.
const Size = 32

// pdaDomainTag closes the derivation hash. It must match the ledger
// program's own derivation byte-for-byte or every derived address is
// rejected at submission time.
const pdaDomainTag = "ProgramDerivedAddress"

// MaxSeeds is the largest seed count the ledger accepts per derivation.
const MaxSeeds = 16

// MaxSeedLen is the largest single seed the ledger accepts.
const MaxSeedLen = 32

var (
	ErrInvalidKey      = errors.New("pubkey: invalid public key")
	ErrSeedTooLong     = errors.New("pubkey: seed exceeds 32 bytes")
	ErrTooManySeeds    = errors.New("pubkey: too many seeds")
	ErrNoValidBump     = errors.New("pubkey: no off-curve address found for seeds")
	ErrOnCurve         = errors.New("pubkey: derived address lies on the curve")
)

// PublicKey is a 32-byte ledger account address.
type PublicKey [Size]byte

// Zero is the all-zero key, used as an absent-value sentinel.
var Zero PublicKey

// Parse decodes a base58 string into a PublicKey.
func Parse(s string) (PublicKey, error) {
	var pk PublicKey
	raw := base58.Decode(s)
	if len(raw) != Size {
		return pk, fmt.Errorf("%w: %q decodes to %d bytes", ErrInvalidKey, s, len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

// MustParse is Parse for well-known constants; it panics on bad input.
func MustParse(s string) PublicKey {
	pk, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// FromBytes copies a 32-byte slice into a PublicKey.
func FromBytes(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != Size {
		return pk, fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// String returns the base58 encoding.
func (p PublicKey) String() string {
	return base58.Encode(p[:])
}

// Bytes returns a copy of the raw key bytes.
func (p PublicKey) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, p[:])
	return out
}

// IsZero reports whether the key is the absent-value sentinel.
func (p PublicKey) IsZero() bool {
	return p == Zero
}

// MarshalJSON encodes the key as its base58 string.
func (p PublicKey) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// UnmarshalJSON decodes a base58 JSON string.
func (p *PublicKey) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("%w: not a JSON string", ErrInvalidKey)
	}
	pk, err := Parse(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*p = pk
	return nil
}

// IsOnCurve reports whether the key bytes decode to a valid ed25519
// point. Program-derived addresses must not.
func (p PublicKey) IsOnCurve() bool {
	_, err := new(edwards25519.Point).SetBytes(p[:])
	return err == nil
}

// CreateAddress derives the program address for an exact seed list,
// bump included. It fails with ErrOnCurve if the digest is a valid
// curve point.
func CreateAddress(seeds [][]byte, program PublicKey) (PublicKey, error) {
	if len(seeds) > MaxSeeds {
		return Zero, ErrTooManySeeds
	}
	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return Zero, ErrSeedTooLong
		}
		h.Write(seed)
	}
	h.Write(program[:])
	h.Write([]byte(pdaDomainTag))

	pk, err := FromBytes(h.Sum(nil))
	if err != nil {
		return Zero, err
	}
	if pk.IsOnCurve() {
		return Zero, ErrOnCurve
	}
	return pk, nil
}

// FindAddress searches bump bytes from 255 downward and returns the
// first off-curve derived address together with the bump that produced
// it. Deterministic: identical inputs always yield identical output.
func FindAddress(seeds [][]byte, program PublicKey) (PublicKey, uint8, error) {
	if len(seeds)+1 > MaxSeeds {
		return Zero, 0, ErrTooManySeeds
	}
	for bump := 255; bump >= 0; bump-- {
		full := make([][]byte, 0, len(seeds)+1)
		full = append(full, seeds...)
		full = append(full, []byte{uint8(bump)})

		pk, err := CreateAddress(full, program)
		if err == nil {
			return pk, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return Zero, 0, err
		}
	}
	return Zero, 0, ErrNoValidBump
}
