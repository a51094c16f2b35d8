package proofs

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// CommitmentValuesLength is evidence_hash(32) ‖ commitment(32) ‖ valid_length(1).
	CommitmentValuesLength = DigestLength*2 + 1
	// AttestationValuesLength is outcome(1) ‖ confidence(2) ‖ evidence_hash(32) ‖ reasoning_hash(32).
	AttestationValuesLength = 1 + 2 + DigestLength*2
)

// ErrMalformedPublicValues is returned when a public-values blob does not
// match the published layout.
var ErrMalformedPublicValues = errors.New("malformed public values")

// PublicValues encodes the commitment in its fixed output order.
func (c Commitment) PublicValues() []byte {
	out := make([]byte, 0, CommitmentValuesLength)
	out = append(out, c.EvidenceHash[:]...)
	out = append(out, c.Commitment[:]...)
	return append(out, boolByte(c.ValidLength))
}

// DecodeCommitment parses the evidence-stage public values.
func DecodeCommitment(raw []byte) (Commitment, error) {
	if len(raw) != CommitmentValuesLength {
		return Commitment{}, fmt.Errorf("%w: commitment expects %d bytes, got %d", ErrMalformedPublicValues, CommitmentValuesLength, len(raw))
	}
	var c Commitment
	copy(c.EvidenceHash[:], raw[:DigestLength])
	copy(c.Commitment[:], raw[DigestLength:2*DigestLength])
	switch raw[2*DigestLength] {
	case 0:
	case 1:
		c.ValidLength = true
	default:
		return Commitment{}, fmt.Errorf("%w: valid_length byte %d", ErrMalformedPublicValues, raw[2*DigestLength])
	}
	return c, nil
}

// PublicValues encodes the attestation in its fixed output order. The
// confidence is a big-endian uint16.
func (a Attestation) PublicValues() []byte {
	out := make([]byte, 0, AttestationValuesLength)
	out = append(out, byte(a.Outcome))
	out = binary.BigEndian.AppendUint16(out, a.Confidence)
	out = append(out, a.EvidenceHash[:]...)
	return append(out, a.ReasoningHash[:]...)
}

// DecodeAttestation parses the analysis-stage public values.
func DecodeAttestation(raw []byte) (Attestation, error) {
	if len(raw) != AttestationValuesLength {
		return Attestation{}, fmt.Errorf("%w: attestation expects %d bytes, got %d", ErrMalformedPublicValues, AttestationValuesLength, len(raw))
	}
	a := Attestation{
		Outcome:    Outcome(raw[0]),
		Confidence: binary.BigEndian.Uint16(raw[1:3]),
	}
	if !a.Outcome.Valid() {
		return Attestation{}, fmt.Errorf("%w: outcome byte %d", ErrMalformedPublicValues, raw[0])
	}
	if a.Confidence > MaxConfidence {
		return Attestation{}, fmt.Errorf("%w: confidence %d exceeds %d", ErrMalformedPublicValues, a.Confidence, MaxConfidence)
	}
	copy(a.EvidenceHash[:], raw[3:3+DigestLength])
	copy(a.ReasoningHash[:], raw[3+DigestLength:])
	return a, nil
}

// PublicValuesDigest hashes a public-values blob and clears the top three bits
// so the result fits in the BN254 scalar field used by on-chain verifiers.
func PublicValuesDigest(values []byte) Digest {
	d := Digest(sha256.Sum256(values))
	d[0] &= 0x1f
	return d
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
