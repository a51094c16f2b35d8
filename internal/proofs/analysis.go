package proofs

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Outcome is the binary decision of an attestation.
type Outcome uint8

const (
	OutcomeNo  Outcome = 0
	OutcomeYes Outcome = 1
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	if o == OutcomeYes {
		return "YES"
	}
	return "NO"
}

// Valid reports whether o is one of the two defined outcomes.
func (o Outcome) Valid() bool {
	return o == OutcomeNo || o == OutcomeYes
}

const (
	// MaxConfidence is 100% in basis points.
	MaxConfidence uint16 = 10000
	// DefaultConfidence is reported whenever no confidence can be extracted.
	DefaultConfidence uint16 = 5000
)

// AnalysisResult is the structured view of an analysis transcript.
type AnalysisResult struct {
	Outcome       Outcome `json:"outcome"`
	Confidence    uint16  `json:"confidence"`
	ReasoningHash Digest  `json:"reasoning_hash"`
}

// Analyzer turns a raw analysis transcript into a structured result. It is
// the only seam between whatever produced the text and the attestation logic.
// Implementations must be total and deterministic.
type Analyzer interface {
	Analyze(analysis []byte) AnalysisResult
}

// Marker is a literal token searched for in an analysis transcript together
// with its case-sensitivity policy.
type Marker struct {
	Token         string
	CaseSensitive bool
}

// TokenPolicy names the markers used by TokenAnalyzer.
type TokenPolicy struct {
	// Outcome marks a Yes decision when present anywhere in the text.
	Outcome Marker
	// Confidence precedes a percentage terminated by '%'.
	Confidence Marker
}

var (
	// DefaultTokenPolicy matches both markers case-insensitively, so
	// "Confidence: 85%" and "confidence: 85%" read the same.
	DefaultTokenPolicy = TokenPolicy{
		Outcome:    Marker{Token: "YES", CaseSensitive: false},
		Confidence: Marker{Token: "confidence:", CaseSensitive: false},
	}
	// StrictTokenPolicy only accepts the lowercase confidence marker.
	StrictTokenPolicy = TokenPolicy{
		Outcome:    Marker{Token: "YES", CaseSensitive: false},
		Confidence: Marker{Token: "confidence:", CaseSensitive: true},
	}
)

// TokenAnalyzer derives the outcome from the presence of a single marker and
// the confidence from a "<marker> NN%" annotation.
//
// Substring matching also fires inside unrelated words ("YESTERDAY"). Producers
// that can emit the structured format should be read with StructuredAnalyzer.
type TokenAnalyzer struct {
	Policy TokenPolicy
}

// Analyze implements Analyzer.
func (a TokenAnalyzer) Analyze(analysis []byte) AnalysisResult {
	policy := a.Policy
	if policy.Outcome.Token == "" && policy.Confidence.Token == "" {
		policy = DefaultTokenPolicy
	}
	text := string(analysis)

	outcome := OutcomeNo
	if policy.Outcome.Token != "" {
		if _, _, ok := findMarker(text, policy.Outcome); ok {
			outcome = OutcomeYes
		}
	}

	return AnalysisResult{
		Outcome:       outcome,
		Confidence:    extractConfidence(text, policy.Confidence),
		ReasoningHash: Hash(analysis),
	}
}

// extractConfidence parses the integer between the marker and the next '%'.
func extractConfidence(text string, marker Marker) uint16 {
	if marker.Token == "" {
		return DefaultConfidence
	}
	_, end, ok := findMarker(text, marker)
	if !ok {
		return DefaultConfidence
	}
	rest := text[end:]
	pct := strings.IndexByte(rest, '%')
	if pct < 0 {
		return DefaultConfidence
	}
	value, ok := parsePercent(strings.TrimSpace(rest[:pct]))
	if !ok {
		return DefaultConfidence
	}
	return value * 100
}

func parsePercent(s string) (uint16, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil || n > 100 {
		return 0, false
	}
	return uint16(n), true
}

// findMarker returns the byte range of the first occurrence of marker in text.
func findMarker(text string, marker Marker) (int, int, bool) {
	if marker.Token == "" {
		return 0, 0, false
	}
	if marker.CaseSensitive {
		idx := strings.Index(text, marker.Token)
		if idx < 0 {
			return 0, 0, false
		}
		return idx, idx + len(marker.Token), true
	}
	for start := 0; start < len(text); {
		if end, ok := matchFold(text[start:], marker.Token); ok {
			return start, start + end, true
		}
		_, width := utf8.DecodeRuneInString(text[start:])
		start += width
	}
	return 0, 0, false
}

// matchFold reports whether s starts with token under Unicode simple case
// folding and returns the number of bytes of s consumed. Folding is one rune
// to one rune, so full-case expansions do not apply: "yeß" does not contain
// "YES" here even though strings.ToUpper("yeß") is "YESS".
func matchFold(s, token string) (int, bool) {
	consumed := 0
	for _, want := range token {
		if consumed >= len(s) {
			return 0, false
		}
		got, width := utf8.DecodeRuneInString(s[consumed:])
		if !equalFoldRune(got, want) {
			return 0, false
		}
		consumed += width
	}
	return consumed, true
}

func equalFoldRune(a, b rune) bool {
	if a == b {
		return true
	}
	for f := unicode.SimpleFold(a); f != a; f = unicode.SimpleFold(f) {
		if f == b {
			return true
		}
	}
	return false
}

// StructuredAnalyzer reads the delimited result format
// {"outcome":"yes"|"no","confidence":0-100,"rationale":"..."}. Transcripts that
// do not parse fall back to Fallback, so the analyzer stays total.
type StructuredAnalyzer struct {
	Fallback Analyzer
}

type structuredResult struct {
	Outcome    string   `json:"outcome"`
	Confidence *float64 `json:"confidence"`
	Rationale  string   `json:"rationale"`
}

// Analyze implements Analyzer.
func (a StructuredAnalyzer) Analyze(analysis []byte) AnalysisResult {
	if result, ok := parseStructured(analysis); ok {
		return result
	}
	fallback := a.Fallback
	if fallback == nil {
		fallback = TokenAnalyzer{Policy: DefaultTokenPolicy}
	}
	return fallback.Analyze(analysis)
}

func parseStructured(analysis []byte) (AnalysisResult, bool) {
	trimmed := bytes.TrimSpace(analysis)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return AnalysisResult{}, false
	}
	var parsed structuredResult
	if err := json.Unmarshal(trimmed, &parsed); err != nil {
		return AnalysisResult{}, false
	}

	var outcome Outcome
	switch strings.ToLower(strings.TrimSpace(parsed.Outcome)) {
	case "yes":
		outcome = OutcomeYes
	case "no":
		outcome = OutcomeNo
	default:
		return AnalysisResult{}, false
	}

	confidence := DefaultConfidence
	if parsed.Confidence != nil {
		pct := *parsed.Confidence
		if !math.IsNaN(pct) && pct >= 0 && pct <= 100 {
			confidence = uint16(math.Round(pct * 100))
		}
	}

	return AnalysisResult{
		Outcome:       outcome,
		Confidence:    confidence,
		ReasoningHash: Hash(analysis),
	}, true
}
