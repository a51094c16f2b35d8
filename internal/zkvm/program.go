package zkvm

import (
	"AIJudge-Chain/internal/proofs"
)

const (
	// EvidenceProgramName 是证据承诺程序的注册名。
	EvidenceProgramName = "sp1-evidence"
	// AnalysisProgramName 是结果证明程序的注册名。
	AnalysisProgramName = "sp1-ai-analysis"
)

// Program 是在执行环境中运行的确定性程序。
type Program interface {
	Name() string
	Run(in *Inputs, out *Outputs) error
}

// EvidenceProgram 读取 (content, salt)，提交 evidence_hash ‖ commitment ‖ valid_length。
type EvidenceProgram struct{}

// Name 实现 Program。
func (EvidenceProgram) Name() string { return EvidenceProgramName }

// Run 实现 Program。
func (EvidenceProgram) Run(in *Inputs, out *Outputs) error {
	content, err := in.Read()
	if err != nil {
		return err
	}
	salt, err := in.Read()
	if err != nil {
		return err
	}
	out.Commit(proofs.Commit(content, salt).PublicValues())
	return nil
}

// AnalysisProgram 读取 (evidence, analysis_output)，提交
// outcome ‖ confidence ‖ evidence_hash ‖ reasoning_hash。
type AnalysisProgram struct {
	Attestor *proofs.Attestor
}

// Name 实现 Program。
func (AnalysisProgram) Name() string { return AnalysisProgramName }

// Run 实现 Program。
func (p AnalysisProgram) Run(in *Inputs, out *Outputs) error {
	evidence, err := in.Read()
	if err != nil {
		return err
	}
	analysis, err := in.Read()
	if err != nil {
		return err
	}
	out.Commit(p.Attestor.Attest(evidence, analysis).PublicValues())
	return nil
}
