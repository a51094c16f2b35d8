package proofs

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// DigestLength is the byte width of every digest published by the protocol.
const DigestLength = sha256.Size

// Digest is a SHA-256 output. Comparisons are bit-exact.
type Digest [DigestLength]byte

// ErrInvalidDigest is returned when a textual digest cannot be decoded.
var ErrInvalidDigest = errors.New("invalid digest")

// Hash is the single hash function H shared by the evidence and analysis
// stages. Both stages must hash raw bytes with no prefix so the linking
// invariant holds.
func Hash(data []byte) Digest {
	return sha256.Sum256(data)
}

// hashConcat computes H(a ‖ b) without allocating the joined buffer.
func hashConcat(a, b []byte) Digest {
	h := sha256.New()
	h.Write(a)
	h.Write(b)
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

// Bytes returns a copy of the digest as a slice.
func (d Digest) Bytes() []byte {
	out := make([]byte, DigestLength)
	copy(out, d[:])
	return out
}

// Hex renders the digest as 0x-prefixed lowercase hex.
func (d Digest) Hex() string {
	return hexutil.Encode(d[:])
}

// String implements fmt.Stringer.
func (d Digest) String() string {
	return d.Hex()
}

// IsZero reports whether the digest is all zero bytes.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// MarshalText encodes the digest as 0x-prefixed hex.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.Hex()), nil
}

// UnmarshalText decodes a hex digest with or without the 0x prefix.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDigest decodes a 32-byte hex digest. The 0x prefix is optional.
func ParseDigest(s string) (Digest, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	if len(raw) != DigestLength {
		return Digest{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidDigest, DigestLength, len(raw))
	}
	var d Digest
	copy(d[:], raw)
	return d, nil
}

// DigestFromBytes copies a 32-byte slice into a Digest.
func DigestFromBytes(raw []byte) (Digest, error) {
	if len(raw) != DigestLength {
		return Digest{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidDigest, DigestLength, len(raw))
	}
	var d Digest
	copy(d[:], raw)
	return d, nil
}
