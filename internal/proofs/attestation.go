package proofs

// Attestation is the public output of the analysis stage.
type Attestation struct {
	Outcome       Outcome `json:"outcome"`
	Confidence    uint16  `json:"confidence"`
	EvidenceHash  Digest  `json:"evidence_hash"`
	ReasoningHash Digest  `json:"reasoning_hash"`
}

// Attestor binds the result of an Analyzer to the evidence it was run over.
type Attestor struct {
	analyzer Analyzer
}

// NewAttestor returns an Attestor using analyzer. A nil analyzer selects the
// token analyzer with DefaultTokenPolicy.
func NewAttestor(analyzer Analyzer) *Attestor {
	if analyzer == nil {
		analyzer = TokenAnalyzer{Policy: DefaultTokenPolicy}
	}
	return &Attestor{analyzer: analyzer}
}

// Attest derives the outcome and confidence from analysis and hashes both
// inputs. It never fails: an unknown outcome from the analyzer is reported
// as OutcomeNo and an out-of-range confidence as DefaultConfidence.
func (a *Attestor) Attest(evidence, analysis []byte) Attestation {
	analyzer := Analyzer(TokenAnalyzer{Policy: DefaultTokenPolicy})
	if a != nil && a.analyzer != nil {
		analyzer = a.analyzer
	}
	result := analyzer.Analyze(analysis)
	outcome := result.Outcome
	if !outcome.Valid() {
		outcome = OutcomeNo
	}
	confidence := result.Confidence
	if confidence > MaxConfidence {
		confidence = DefaultConfidence
	}
	return Attestation{
		Outcome:       outcome,
		Confidence:    confidence,
		EvidenceHash:  Hash(evidence),
		ReasoningHash: Hash(analysis),
	}
}

// Attest runs the default attestor.
func Attest(evidence, analysis []byte) Attestation {
	return NewAttestor(nil).Attest(evidence, analysis)
}

// Linked reports whether the attestation is about the committed evidence.
func Linked(c Commitment, a Attestation) bool {
	return c.EvidenceHash == a.EvidenceHash
}
