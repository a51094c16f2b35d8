package proofs

// MaxEvidenceLength is the largest evidence payload, in bytes, that is still
// flagged as valid. Larger payloads are committed to anyway.
const MaxEvidenceLength = 10000

// Commitment is the public output of the evidence stage.
type Commitment struct {
	EvidenceHash Digest `json:"evidence_hash"`
	Commitment   Digest `json:"commitment"`
	ValidLength  bool   `json:"valid_length"`
}

// Commit hashes the evidence content and derives a salted commitment over the
// evidence hash. Empty content and empty salt are valid inputs.
//
// Distinct salts over the same evidence give distinct commitments with
// overwhelming probability; this is a property of SHA-256, not a guarantee
// enforced here. Salt entropy is the caller's responsibility.
func Commit(content, salt []byte) Commitment {
	evidenceHash := Hash(content)
	return Commitment{
		EvidenceHash: evidenceHash,
		Commitment:   CommitmentOf(evidenceHash, salt),
		ValidLength:  len(content) <= MaxEvidenceLength,
	}
}

// CommitmentOf computes H(evidenceHash ‖ salt).
func CommitmentOf(evidenceHash Digest, salt []byte) Digest {
	return hashConcat(evidenceHash[:], salt)
}

// VerifyOpening checks a reveal where only the evidence hash and the salt are
// disclosed.
func VerifyOpening(evidenceHash, commitment Digest, salt []byte) bool {
	return CommitmentOf(evidenceHash, salt) == commitment
}

// OpenCommitment checks a full reveal of the evidence content and salt against
// every published field of c.
func OpenCommitment(c Commitment, content, salt []byte) bool {
	return Commit(content, salt) == c
}
