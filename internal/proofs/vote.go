package proofs

import (
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/crypto"
)

// VoteValue is the on-chain encoding of an outcome in judge votes. Zero is
// reserved for "not voted".
func VoteValue(o Outcome) uint8 {
	if o == OutcomeYes {
		return 1
	}
	return 2
}

// VoteCommitHash computes keccak256(abi.encodePacked(uint8 vote, bytes32 salt)),
// the value a judge submits before revealing its vote.
func VoteCommitHash(o Outcome, salt [32]byte) Digest {
	return Digest(crypto.Keccak256Hash([]byte{VoteValue(o)}, salt[:]))
}

// NewSalt reads a 32-byte salt from r, normally crypto/rand.Reader.
func NewSalt(r io.Reader) ([32]byte, error) {
	var salt [32]byte
	if _, err := io.ReadFull(r, salt[:]); err != nil {
		return salt, fmt.Errorf("read salt: %w", err)
	}
	return salt, nil
}
