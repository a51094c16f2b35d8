package proofs

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

func TestCommitmentPublicValuesLayout(t *testing.T) {
	c := Commit([]byte("evidence"), []byte("salt"))
	raw := c.PublicValues()
	if len(raw) != CommitmentValuesLength {
		t.Fatalf("unexpected length %d", len(raw))
	}
	if !bytes.Equal(raw[:32], c.EvidenceHash[:]) || !bytes.Equal(raw[32:64], c.Commitment[:]) {
		t.Fatalf("hash fields out of order")
	}
	if raw[64] != 1 {
		t.Fatalf("valid_length byte: got %d", raw[64])
	}

	decoded, err := DecodeCommitment(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != c {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestAttestationPublicValuesLayout(t *testing.T) {
	a := Attest([]byte("evidence"), []byte("YES confidence: 85%"))
	raw := a.PublicValues()
	if len(raw) != AttestationValuesLength {
		t.Fatalf("unexpected length %d", len(raw))
	}
	if raw[0] != 1 {
		t.Fatalf("outcome byte: got %d", raw[0])
	}
	// 8500 = 0x2134, big-endian.
	if hex.EncodeToString(raw[1:3]) != "2134" {
		t.Fatalf("confidence bytes: got %x", raw[1:3])
	}
	if !bytes.Equal(raw[3:35], a.EvidenceHash[:]) || !bytes.Equal(raw[35:], a.ReasoningHash[:]) {
		t.Fatalf("hash fields out of order")
	}
}

func TestDecodeRejectsMalformedValues(t *testing.T) {
	good := Attest([]byte("e"), []byte("a")).PublicValues()

	badOutcome := append([]byte(nil), good...)
	badOutcome[0] = 2
	badConfidence := append([]byte(nil), good...)
	badConfidence[1], badConfidence[2] = 0x27, 0x11 // 10001

	cases := map[string]func() error{
		"attestation short": func() error { _, err := DecodeAttestation(good[:10]); return err },
		"attestation outcome": func() error { _, err := DecodeAttestation(badOutcome); return err },
		"attestation confidence": func() error { _, err := DecodeAttestation(badConfidence); return err },
		"commitment long": func() error {
			_, err := DecodeCommitment(append(Commit(nil, nil).PublicValues(), 0))
			return err
		},
		"commitment bool": func() error {
			raw := Commit(nil, nil).PublicValues()
			raw[64] = 7
			_, err := DecodeCommitment(raw)
			return err
		},
	}
	for name, fn := range cases {
		if err := fn(); !errors.Is(err, ErrMalformedPublicValues) {
			t.Fatalf("%s: expected ErrMalformedPublicValues, got %v", name, err)
		}
	}
}

func TestPublicValuesDigestFitsField(t *testing.T) {
	values := Commit([]byte("evidence"), []byte("salt")).PublicValues()
	d := PublicValuesDigest(values)
	if d[0]&0xe0 != 0 {
		t.Fatalf("top three bits must be cleared: %x", d[0])
	}
	full := Hash(values)
	if !bytes.Equal(d[1:], full[1:]) || d[0] != full[0]&0x1f {
		t.Fatalf("digest must equal masked sha256")
	}
}

func TestABIRoundTrip(t *testing.T) {
	c := Commit([]byte("evidence"), []byte("salt"))
	encoded, err := c.ABIEncode()
	if err != nil {
		t.Fatalf("encode commitment: %v", err)
	}
	if len(encoded) != 3*32 {
		t.Fatalf("commitment abi length: %d", len(encoded))
	}
	decodedC, err := ABIDecodeCommitment(encoded)
	if err != nil || decodedC != c {
		t.Fatalf("commitment round trip: %+v %v", decodedC, err)
	}

	a := Attest([]byte("evidence"), []byte("NO confidence: 70%"))
	encoded, err = a.ABIEncode()
	if err != nil {
		t.Fatalf("encode attestation: %v", err)
	}
	if len(encoded) != 4*32 {
		t.Fatalf("attestation abi length: %d", len(encoded))
	}
	// uint16 confidence occupies the low bytes of the second word.
	if encoded[62] != 0x1b || encoded[63] != 0x58 {
		t.Fatalf("confidence word: %x", encoded[32:64])
	}
	decodedA, err := ABIDecodeAttestation(encoded)
	if err != nil || decodedA != a {
		t.Fatalf("attestation round trip: %+v %v", decodedA, err)
	}
}

func TestVoteCommitHash(t *testing.T) {
	var salt [32]byte
	for i := range salt {
		salt[i] = byte(i)
	}
	yes := VoteCommitHash(OutcomeYes, salt)
	no := VoteCommitHash(OutcomeNo, salt)
	if yes == no {
		t.Fatalf("vote commitments must differ by outcome")
	}
	if yes != VoteCommitHash(OutcomeYes, salt) {
		t.Fatalf("vote commitment must be deterministic")
	}
	if VoteValue(OutcomeYes) != 1 || VoteValue(OutcomeNo) != 2 {
		t.Fatalf("unexpected vote encoding")
	}

	got, err := NewSalt(bytes.NewReader(salt[:]))
	if err != nil || got != salt {
		t.Fatalf("NewSalt: %x %v", got, err)
	}
	if _, err := NewSalt(bytes.NewReader([]byte{1, 2})); err == nil {
		t.Fatalf("short reader must fail")
	}
}
