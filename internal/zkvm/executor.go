package zkvm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	xerrors "AIJudge-Chain/internal/errors"
	"AIJudge-Chain/internal/proofs"
	"AIJudge-Chain/pkg/logger"
)

// CodeUnknownProgram 表示请求执行的程序未注册。
const CodeUnknownProgram xerrors.Code = "ZKVM_UNKNOWN_PROGRAM"

func init() {
	xerrors.Register(CodeUnknownProgram, xerrors.Attributes{
		Message:   "unknown zkvm program",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
	})
}

// Receipt 记录一次执行的公开结果。
type Receipt struct {
	Program      string        `json:"program"`
	PublicValues []byte        `json:"public_values"`
	Digest       proofs.Digest `json:"digest"`
	ExecutedAt   int64         `json:"executed_at"`
}

// Executor 按名称执行已注册的程序。程序表只在 NewExecutor 中写入，之后只读，可并发使用。
type Executor struct {
	programs map[string]Program
	now      func() time.Time
}

// ExecutorOption 定义可选配置。
type ExecutorOption func(*Executor)

// WithProgram 注册额外的程序，同名程序会被覆盖。
func WithProgram(p Program) ExecutorOption {
	return func(e *Executor) {
		if p != nil {
			e.programs[p.Name()] = p
		}
	}
}

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// NewExecutor 创建注册了证据与分析程序的执行器。
func NewExecutor(attestor *proofs.Attestor, opts ...ExecutorOption) *Executor {
	e := &Executor{
		programs: map[string]Program{
			EvidenceProgramName: EvidenceProgram{},
			AnalysisProgramName: AnalysisProgram{Attestor: attestor},
		},
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Programs 返回已注册的程序名称。
func (e *Executor) Programs() []string {
	names := make([]string, 0, len(e.programs))
	for name := range e.programs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute 运行指定程序直至结束。执行开始后不响应取消，ctx 只在开始前检查。
func (e *Executor) Execute(ctx context.Context, name string, in *Inputs) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	program, ok := e.programs[name]
	if !ok {
		return Receipt{}, xerrors.New(CodeUnknownProgram, fmt.Sprintf("未注册的程序: %s", name))
	}

	var out Outputs
	if err := program.Run(in, &out); err != nil {
		return Receipt{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("程序 %s 读取输入失败", name))
	}
	values := out.Bytes()
	receipt := Receipt{
		Program:      name,
		PublicValues: values,
		Digest:       proofs.PublicValuesDigest(values),
		ExecutedAt:   e.now().Unix(),
	}
	logger.Named("zkvm").Debug("程序执行完成",
		slog.String("program", name),
		slog.Int("public_values", len(values)),
		slog.String("digest", receipt.Digest.Hex()),
	)
	return receipt, nil
}

// ProveEvidence 执行证据承诺程序。
func (e *Executor) ProveEvidence(ctx context.Context, content, salt []byte) (Receipt, proofs.Commitment, error) {
	receipt, err := e.Execute(ctx, EvidenceProgramName, NewInputs(content, salt))
	if err != nil {
		return Receipt{}, proofs.Commitment{}, err
	}
	c, err := proofs.DecodeCommitment(receipt.PublicValues)
	if err != nil {
		return Receipt{}, proofs.Commitment{}, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "解析证据公开输出失败")
	}
	return receipt, c, nil
}

// ProveAnalysis 执行结果证明程序。
func (e *Executor) ProveAnalysis(ctx context.Context, evidence, analysis []byte) (Receipt, proofs.Attestation, error) {
	receipt, err := e.Execute(ctx, AnalysisProgramName, NewInputs(evidence, analysis))
	if err != nil {
		return Receipt{}, proofs.Attestation{}, err
	}
	a, err := proofs.DecodeAttestation(receipt.PublicValues)
	if err != nil {
		return Receipt{}, proofs.Attestation{}, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "解析分析公开输出失败")
	}
	return receipt, a, nil
}
