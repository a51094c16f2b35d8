package proofs

import (
	"testing"
)

func TestTokenAnalyzerExamples(t *testing.T) {
	cases := []struct {
		name       string
		text       string
		outcome    Outcome
		confidence uint16
	}{
		{name: "yes", text: "Analysis: The evidence strongly suggests YES. Confidence: 85%", outcome: OutcomeYes, confidence: 8500},
		{name: "no", text: "Analysis: The evidence suggests NO. Confidence: 70%", outcome: OutcomeNo, confidence: 7000},
		{name: "lowercase marker", text: "yes, confidence: 12%", outcome: OutcomeYes, confidence: 1200},
		{name: "padded", text: "YES confidence:    99  %", outcome: OutcomeYes, confidence: 9900},
		{name: "zero", text: "NO confidence:0%", outcome: OutcomeNo, confidence: 0},
		{name: "hundred", text: "YES confidence: 100%", outcome: OutcomeYes, confidence: 10000},
		{name: "missing marker", text: "The answer is yes.", outcome: OutcomeYes, confidence: DefaultConfidence},
		{name: "missing percent", text: "NO confidence: 80", outcome: OutcomeNo, confidence: DefaultConfidence},
		{name: "not a number", text: "NO confidence: high%", outcome: OutcomeNo, confidence: DefaultConfidence},
		{name: "decimal", text: "NO confidence: 85.5%", outcome: OutcomeNo, confidence: DefaultConfidence},
		{name: "negative", text: "NO confidence: -5%", outcome: OutcomeNo, confidence: DefaultConfidence},
		{name: "over hundred", text: "NO confidence: 101%", outcome: OutcomeNo, confidence: DefaultConfidence},
		{name: "overflow", text: "NO confidence: 70000%", outcome: OutcomeNo, confidence: DefaultConfidence},
		{name: "percent before marker", text: "50% NO confidence: none", outcome: OutcomeNo, confidence: DefaultConfidence},
		{name: "substring false positive", text: "YESTERDAY the market closed. NO.", outcome: OutcomeYes, confidence: DefaultConfidence},
		{name: "empty", text: "", outcome: OutcomeNo, confidence: DefaultConfidence},
	}
	analyzer := TokenAnalyzer{Policy: DefaultTokenPolicy}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := analyzer.Analyze([]byte(tc.text))
			if got.Outcome != tc.outcome {
				t.Fatalf("outcome: got %v want %v", got.Outcome, tc.outcome)
			}
			if got.Confidence != tc.confidence {
				t.Fatalf("confidence: got %d want %d", got.Confidence, tc.confidence)
			}
			if got.ReasoningHash != Hash([]byte(tc.text)) {
				t.Fatalf("reasoning hash must cover the raw text")
			}
		})
	}
}

func TestStrictPolicyIgnoresCapitalisedMarker(t *testing.T) {
	analyzer := TokenAnalyzer{Policy: StrictTokenPolicy}

	got := analyzer.Analyze([]byte("suggests YES. Confidence: 85%"))
	if got.Confidence != DefaultConfidence {
		t.Fatalf("strict policy must not match 'Confidence:', got %d", got.Confidence)
	}
	got = analyzer.Analyze([]byte("suggests YES. confidence: 85%"))
	if got.Confidence != 8500 {
		t.Fatalf("strict policy must match 'confidence:', got %d", got.Confidence)
	}
}

func TestCaseSensitiveOutcomeMarker(t *testing.T) {
	analyzer := TokenAnalyzer{Policy: TokenPolicy{
		Outcome:    Marker{Token: "YES", CaseSensitive: true},
		Confidence: Marker{Token: "confidence:"},
	}}
	if got := analyzer.Analyze([]byte("yes")); got.Outcome != OutcomeNo {
		t.Fatalf("case-sensitive outcome marker matched lowercase text")
	}
	if got := analyzer.Analyze([]byte("YES")); got.Outcome != OutcomeYes {
		t.Fatalf("case-sensitive outcome marker missed exact text")
	}
}

func TestFindMarkerUnicodeFolding(t *testing.T) {
	// U+017F LATIN SMALL LETTER LONG S folds to 's'.
	start, end, ok := findMarker("é yeſ", Marker{Token: "YES"})
	if !ok {
		t.Fatalf("expected folded match")
	}
	if start != 3 || end != 7 {
		t.Fatalf("unexpected range [%d,%d)", start, end)
	}

	// U+00DF has no single-rune fold to "s"; full expansion to "SS" is not applied.
	if _, _, ok := findMarker("yeß", Marker{Token: "YES"}); ok {
		t.Fatalf("sharp s must not fold to s")
	}
	if got := (TokenAnalyzer{Policy: DefaultTokenPolicy}).Analyze([]byte("yeß")); got.Outcome != OutcomeNo {
		t.Fatalf("expected NO for sharp s, got %+v", got)
	}
}

func TestStructuredAnalyzer(t *testing.T) {
	analyzer := StructuredAnalyzer{}

	cases := []struct {
		name       string
		text       string
		outcome    Outcome
		confidence uint16
	}{
		{name: "yes", text: `{"outcome":"yes","confidence":85,"rationale":"price crossed"}`, outcome: OutcomeYes, confidence: 8500},
		{name: "no upper", text: ` {"outcome":"NO","confidence":70.25} `, outcome: OutcomeNo, confidence: 7025},
		{name: "no confidence", text: `{"outcome":"no"}`, outcome: OutcomeNo, confidence: DefaultConfidence},
		{name: "out of range confidence", text: `{"outcome":"yes","confidence":140}`, outcome: OutcomeYes, confidence: DefaultConfidence},
		{name: "rationale mentioning yes", text: `{"outcome":"no","confidence":60,"rationale":"not yesterday"}`, outcome: OutcomeNo, confidence: 6000},
		{name: "unknown outcome falls back", text: `{"outcome":"maybe","rationale":"YES confidence: 40%"}`, outcome: OutcomeYes, confidence: 4000},
		{name: "free text falls back", text: "Analysis suggests YES. Confidence: 85%", outcome: OutcomeYes, confidence: 8500},
		{name: "broken json falls back", text: `{"outcome":"no",`, outcome: OutcomeNo, confidence: DefaultConfidence},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := analyzer.Analyze([]byte(tc.text))
			if got.Outcome != tc.outcome || got.Confidence != tc.confidence {
				t.Fatalf("got (%v,%d) want (%v,%d)", got.Outcome, got.Confidence, tc.outcome, tc.confidence)
			}
			if got.ReasoningHash != Hash([]byte(tc.text)) {
				t.Fatalf("reasoning hash must cover the raw text")
			}
		})
	}
}

func TestAttestLinksEvidence(t *testing.T) {
	evidence := []byte("Evidence: ETH price was $3500 at 12:00 UTC")
	analysis := []byte("Analysis: The evidence strongly suggests YES. Confidence: 85%")

	c := Commit(evidence, []byte("0123456789abcdef"))
	a := Attest(evidence, analysis)

	if a.Outcome != OutcomeYes || a.Confidence != 8500 {
		t.Fatalf("unexpected attestation: %+v", a)
	}
	if a.ReasoningHash != Hash(analysis) {
		t.Fatalf("reasoning hash mismatch")
	}
	if !Linked(c, a) {
		t.Fatalf("attestation over the same evidence must link")
	}
	if Linked(c, Attest([]byte("other evidence"), analysis)) {
		t.Fatalf("attestation over different evidence must not link")
	}
}

type fixedAnalyzer struct{ result AnalysisResult }

func (f fixedAnalyzer) Analyze([]byte) AnalysisResult { return f.result }

func TestAttestorClampsAnalyzerConfidence(t *testing.T) {
	attestor := NewAttestor(fixedAnalyzer{result: AnalysisResult{Outcome: OutcomeYes, Confidence: 12000}})
	got := attestor.Attest([]byte("e"), []byte("a"))
	if got.Confidence != DefaultConfidence {
		t.Fatalf("out-of-range confidence must fall back, got %d", got.Confidence)
	}
	if got.ReasoningHash != Hash([]byte("a")) || got.EvidenceHash != Hash([]byte("e")) {
		t.Fatalf("attestor must hash its own inputs")
	}
}

func TestAttestorNormalisesUnknownOutcome(t *testing.T) {
	attestor := NewAttestor(fixedAnalyzer{result: AnalysisResult{Outcome: Outcome(2), Confidence: 7000}})
	got := attestor.Attest([]byte("e"), []byte("a"))
	if got.Outcome != OutcomeNo || got.Confidence != 7000 {
		t.Fatalf("unknown outcome must fall back to NO, got %+v", got)
	}
	decoded, err := DecodeAttestation(got.PublicValues())
	if err != nil {
		t.Fatalf("public values of a normalised attestation must decode: %v", err)
	}
	if decoded != got {
		t.Fatalf("decoded %+v, want %+v", decoded, got)
	}
}
