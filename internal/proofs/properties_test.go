package proofs

import (
	"bytes"
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func newProperties(minSuccessful int) *gopter.Properties {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = minSuccessful
	return gopter.NewProperties(parameters)
}

// Salt uniqueness is probabilistic: it holds unless SHA-256 collides.
func TestCommitmentProperties(t *testing.T) {
	properties := newProperties(200)

	properties.Property("evidence hash is deterministic", prop.ForAll(
		func(content []byte) bool {
			return Hash(content) == Hash(append([]byte(nil), content...))
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("commitment is reproducible", prop.ForAll(
		func(content, salt []byte) bool {
			c := Commit(content, salt)
			return CommitmentOf(c.EvidenceHash, salt) == c.Commitment && OpenCommitment(c, content, salt)
		},
		gen.SliceOf(gen.UInt8()),
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("distinct salts give distinct commitments", prop.ForAll(
		func(content, salt1, salt2 []byte) bool {
			if bytes.Equal(salt1, salt2) {
				return true
			}
			h := Hash(content)
			return CommitmentOf(h, salt1) != CommitmentOf(h, salt2)
		},
		gen.SliceOf(gen.UInt8()),
		gen.SliceOf(gen.UInt8()),
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("length flag matches the bound", prop.ForAll(
		func(size int) bool {
			c := Commit(make([]byte, size), nil)
			return c.ValidLength == (size <= MaxEvidenceLength)
		},
		gen.IntRange(MaxEvidenceLength-64, MaxEvidenceLength+64),
	))

	properties.TestingRun(t)
}

func TestAttestationProperties(t *testing.T) {
	properties := newProperties(200)

	properties.Property("confidence always in range", prop.ForAll(
		func(text string) bool {
			a := Attest(nil, []byte(text))
			return a.Confidence <= MaxConfidence && a.Outcome.Valid()
		},
		gen.AnyString(),
	))

	properties.Property("annotated percentages convert to basis points", prop.ForAll(
		func(pct int, yes bool) bool {
			word := "NO"
			want := OutcomeNo
			if yes {
				word, want = "YES", OutcomeYes
			}
			text := []byte("verdict " + word + ". Confidence: " + strconv.Itoa(pct) + "%")
			a := Attest(nil, text)
			return a.Outcome == want && int(a.Confidence) == pct*100
		},
		gen.IntRange(0, 100),
		gen.Bool(),
	))

	properties.Property("linking invariant", prop.ForAll(
		func(evidence, salt []byte, analysis string) bool {
			return Linked(Commit(evidence, salt), Attest(evidence, []byte(analysis)))
		},
		gen.SliceOf(gen.UInt8()),
		gen.SliceOf(gen.UInt8()),
		gen.AlphaString(),
	))

	properties.Property("reasoning hash changes on any bit flip", prop.ForAll(
		func(analysis []byte, index int, bit uint) bool {
			if len(analysis) == 0 {
				return true
			}
			flipped := append([]byte(nil), analysis...)
			i := index % len(flipped)
			flipped[i] ^= 1 << (bit % 8)
			return Attest(nil, analysis).ReasoningHash != Attest(nil, flipped).ReasoningHash
		},
		gen.SliceOfN(64, gen.UInt8()),
		gen.IntRange(0, 1<<16),
		gen.UIntRange(0, 7),
	))

	properties.Property("public values round-trip", prop.ForAll(
		func(evidence, analysis []byte) bool {
			a := Attest(evidence, analysis)
			decoded, err := DecodeAttestation(a.PublicValues())
			return err == nil && decoded == a
		},
		gen.SliceOf(gen.UInt8()),
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
