package proofs

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

var (
	commitmentArgs  abi.Arguments
	attestationArgs abi.Arguments
)

func init() {
	bytes32 := mustType("bytes32")
	commitmentArgs = abi.Arguments{
		{Name: "evidenceHash", Type: bytes32},
		{Name: "commitment", Type: bytes32},
		{Name: "validLength", Type: mustType("bool")},
	}
	attestationArgs = abi.Arguments{
		{Name: "outcome", Type: mustType("uint8")},
		{Name: "confidence", Type: mustType("uint16")},
		{Name: "evidenceHash", Type: bytes32},
		{Name: "reasoningHash", Type: bytes32},
	}
}

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(fmt.Sprintf("abi type %s: %v", name, err))
	}
	return t
}

// ABIEncode packs the commitment as (bytes32,bytes32,bool) for EVM verifiers.
func (c Commitment) ABIEncode() ([]byte, error) {
	return commitmentArgs.Pack([32]byte(c.EvidenceHash), [32]byte(c.Commitment), c.ValidLength)
}

// ABIEncode packs the attestation as (uint8,uint16,bytes32,bytes32).
func (a Attestation) ABIEncode() ([]byte, error) {
	return attestationArgs.Pack(uint8(a.Outcome), a.Confidence, [32]byte(a.EvidenceHash), [32]byte(a.ReasoningHash))
}

// ABIDecodeCommitment reverses Commitment.ABIEncode.
func ABIDecodeCommitment(data []byte) (Commitment, error) {
	values, err := commitmentArgs.Unpack(data)
	if err != nil {
		return Commitment{}, fmt.Errorf("%w: %v", ErrMalformedPublicValues, err)
	}
	evidenceHash, ok1 := values[0].([32]byte)
	commitment, ok2 := values[1].([32]byte)
	validLength, ok3 := values[2].(bool)
	if !ok1 || !ok2 || !ok3 {
		return Commitment{}, fmt.Errorf("%w: unexpected abi value types", ErrMalformedPublicValues)
	}
	return Commitment{
		EvidenceHash: Digest(evidenceHash),
		Commitment:   Digest(commitment),
		ValidLength:  validLength,
	}, nil
}

// ABIDecodeAttestation reverses Attestation.ABIEncode.
func ABIDecodeAttestation(data []byte) (Attestation, error) {
	values, err := attestationArgs.Unpack(data)
	if err != nil {
		return Attestation{}, fmt.Errorf("%w: %v", ErrMalformedPublicValues, err)
	}
	outcome, ok1 := values[0].(uint8)
	confidence, ok2 := values[1].(uint16)
	evidenceHash, ok3 := values[2].([32]byte)
	reasoningHash, ok4 := values[3].([32]byte)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return Attestation{}, fmt.Errorf("%w: unexpected abi value types", ErrMalformedPublicValues)
	}
	a := Attestation{
		Outcome:       Outcome(outcome),
		Confidence:    confidence,
		EvidenceHash:  Digest(evidenceHash),
		ReasoningHash: Digest(reasoningHash),
	}
	if !a.Outcome.Valid() || a.Confidence > MaxConfidence {
		return Attestation{}, fmt.Errorf("%w: outcome %d confidence %d", ErrMalformedPublicValues, outcome, confidence)
	}
	return a, nil
}
