package judge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	stdErrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"AIJudge-Chain/internal/analysis"
	xerrors "AIJudge-Chain/internal/errors"
	"AIJudge-Chain/internal/observability/tracing"
	"AIJudge-Chain/internal/proofs"
	"AIJudge-Chain/internal/storage/mysql"
	"AIJudge-Chain/internal/zkvm"
	"AIJudge-Chain/pkg/logger"
)

const (
	// CodeWeakSalt 表示调用方提供的盐过短。
	CodeWeakSalt xerrors.Code = "JUDGE_WEAK_SALT"
	// CodeUnlinked 表示两个阶段的证据哈希不一致。
	CodeUnlinked xerrors.Code = "JUDGE_UNLINKED"
)

// DefaultMinSaltLength 是未显式放宽时要求的最短盐长度（字节）。
const DefaultMinSaltLength = 16

func init() {
	xerrors.Register(CodeWeakSalt, xerrors.Attributes{
		Message:  "salt too short",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeUnlinked, xerrors.Attributes{
		Message:  "attestation does not reference committed evidence",
		Severity: xerrors.SeverityCritical,
	})
}

// Request 描述一次待裁决的争议。
type Request struct {
	ID       string `json:"id,omitempty"`
	MarketID string `json:"market_id,omitempty"`
	Question string `json:"question,omitempty"`
	Evidence string `json:"evidence"`
	Salt     string `json:"salt,omitempty"`
	Analysis string `json:"analysis,omitempty"`
}

// Resolution 汇总两个阶段的公开结果。
type Resolution struct {
	ID              string             `json:"id"`
	MarketID        string             `json:"market_id,omitempty"`
	Salt            string             `json:"salt"`
	Commitment      proofs.Commitment  `json:"commitment"`
	Attestation     proofs.Attestation `json:"attestation"`
	Linked          bool               `json:"linked"`
	VoteSalt        proofs.Digest      `json:"vote_salt"`
	VoteCommit      proofs.Digest      `json:"vote_commit"`
	EvidenceReceipt zkvm.Receipt       `json:"evidence_receipt"`
	AnalysisReceipt zkvm.Receipt       `json:"analysis_receipt"`
	CreatedAt       int64              `json:"created_at"`
}

// Record 转换为持久化结构。
func (r *Resolution) Record(taskID string) mysql.AttestationRecord {
	return mysql.AttestationRecord{
		ID:             r.ID,
		TaskID:         taskID,
		MarketID:       r.MarketID,
		EvidenceHash:   r.Commitment.EvidenceHash.Hex(),
		Commitment:     r.Commitment.Commitment.Hex(),
		ValidLength:    r.Commitment.ValidLength,
		Outcome:        uint8(r.Attestation.Outcome),
		Confidence:     r.Attestation.Confidence,
		ReasoningHash:  r.Attestation.ReasoningHash.Hex(),
		Linked:         r.Linked,
		VoteCommit:     r.VoteCommit.Hex(),
		EvidenceDigest: r.EvidenceReceipt.Digest.Hex(),
		AnalysisDigest: r.AnalysisReceipt.Digest.Hex(),
		CreatedAt:      r.CreatedAt,
	}
}

// Judge 协调执行器、分析来源与仓库。
type Judge struct {
	executor      *zkvm.Executor
	repo          mysql.AttestationRepository
	source        analysis.Source
	sourceTimeout time.Duration
	random        io.Reader
	minSalt       int
	allowWeakSalt bool
	now           func() time.Time
}

// Option 定义可选的 Judge 配置。
type Option func(*Judge)

// WithSource 配置在请求未携带分析文本时使用的分析来源。
func WithSource(source analysis.Source) Option {
	return func(j *Judge) {
		j.source = source
	}
}

// WithSourceTimeout 设置调用分析来源的超时时间。
func WithSourceTimeout(timeout time.Duration) Option {
	return func(j *Judge) {
		if timeout < 0 {
			timeout = 0
		}
		j.sourceTimeout = timeout
	}
}

// WithRandom 替换随机源，用于生成盐。
func WithRandom(r io.Reader) Option {
	return func(j *Judge) {
		if r != nil {
			j.random = r
		}
	}
}

// WithAllowWeakSalt 允许短于最小长度的盐。
func WithAllowWeakSalt(allow bool) Option {
	return func(j *Judge) {
		j.allowWeakSalt = allow
	}
}

// WithMinSaltLength 设置盐的最小长度。
func WithMinSaltLength(n int) Option {
	return func(j *Judge) {
		if n > 0 {
			j.minSalt = n
		}
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(j *Judge) {
		if now != nil {
			j.now = now
		}
	}
}

// New 创建一个 Judge。repo 可以为 nil，此时结果不落库。
func New(executor *zkvm.Executor, repo mysql.AttestationRepository, opts ...Option) *Judge {
	j := &Judge{
		executor: executor,
		repo:     repo,
		random:   rand.Reader,
		minSalt:  DefaultMinSaltLength,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(j)
		}
	}
	return j
}

// Resolve 依次执行证据承诺与结果证明程序，并生成投票承诺。
func (j *Judge) Resolve(ctx context.Context, req Request) (res *Resolution, err error) {
	ctx, span := tracing.Start(ctx, "judge.resolve",
		attribute.String("market_id", req.MarketID),
		attribute.Int("evidence_bytes", len(req.Evidence)),
	)
	defer func() {
		if res != nil {
			span.SetAttributes(
				attribute.String("outcome", res.Attestation.Outcome.String()),
				attribute.Int("confidence", int(res.Attestation.Confidence)),
			)
		}
		tracing.End(span, err)
	}()
	return j.resolve(ctx, req)
}

func (j *Judge) resolve(ctx context.Context, req Request) (*Resolution, error) {
	if j.executor == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置执行器")
	}
	if req.Evidence == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "证据内容不能为空")
	}

	salt, err := j.resolveSalt(req.Salt)
	if err != nil {
		return nil, err
	}

	text, err := j.resolveAnalysis(ctx, req)
	if err != nil {
		return nil, err
	}

	evidenceReceipt, commitment, err := j.executor.ProveEvidence(ctx, []byte(req.Evidence), []byte(salt))
	if err != nil {
		return nil, wrapExecution(err, "证据承诺执行失败")
	}
	analysisReceipt, attestation, err := j.executor.ProveAnalysis(ctx, []byte(req.Evidence), []byte(text))
	if err != nil {
		return nil, wrapExecution(err, "结果证明执行失败")
	}

	linked := proofs.Linked(commitment, attestation)
	if !linked {
		return nil, xerrors.New(CodeUnlinked, "证据哈希不一致",
			xerrors.WithMetadata("commitment_evidence", commitment.EvidenceHash.Hex()),
			xerrors.WithMetadata("attestation_evidence", attestation.EvidenceHash.Hex()),
		)
	}

	voteSalt, err := proofs.NewSalt(j.random)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "生成投票盐失败")
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	res := &Resolution{
		ID:              id,
		MarketID:        req.MarketID,
		Salt:            salt,
		Commitment:      commitment,
		Attestation:     attestation,
		Linked:          linked,
		VoteSalt:        proofs.Digest(voteSalt),
		VoteCommit:      proofs.VoteCommitHash(attestation.Outcome, voteSalt),
		EvidenceReceipt: evidenceReceipt,
		AnalysisReceipt: analysisReceipt,
		CreatedAt:       j.now().Unix(),
	}

	if j.repo != nil {
		if err := j.repo.Save(ctx, res.Record(req.ID)); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存裁决记录失败")
		}
	}

	logger.Audit().Info("attestation recorded",
		slog.String("id", res.ID),
		slog.String("market_id", res.MarketID),
		slog.String("evidence_hash", commitment.EvidenceHash.Hex()),
		slog.String("commitment", commitment.Commitment.Hex()),
		slog.Bool("valid_length", commitment.ValidLength),
		slog.String("outcome", attestation.Outcome.String()),
		slog.Int("confidence", int(attestation.Confidence)),
		slog.String("vote_commit", res.VoteCommit.Hex()),
	)
	return res, nil
}

// History 获取最近的裁决记录。
func (j *Judge) History(ctx context.Context, limit int) ([]mysql.AttestationRecord, error) {
	if j.repo == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置裁决仓库")
	}
	records, err := j.repo.ListLatest(ctx, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询裁决记录失败")
	}
	return records, nil
}

// ByEvidence 查询引用同一证据哈希的裁决记录。
func (j *Judge) ByEvidence(ctx context.Context, evidenceHash proofs.Digest) ([]mysql.AttestationRecord, error) {
	if j.repo == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置裁决仓库")
	}
	records, err := j.repo.FindByEvidenceHash(ctx, evidenceHash.Hex())
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询裁决记录失败")
	}
	return records, nil
}

func (j *Judge) resolveSalt(salt string) (string, error) {
	if salt == "" {
		raw, err := proofs.NewSalt(j.random)
		if err != nil {
			return "", xerrors.Wrap(xerrors.CodeInitializationFailure, err, "生成证据盐失败")
		}
		return hex.EncodeToString(raw[:]), nil
	}
	if len(salt) < j.minSalt && !j.allowWeakSalt {
		return "", xerrors.New(CodeWeakSalt, fmt.Sprintf("盐长度至少为 %d 字节", j.minSalt),
			xerrors.WithMetadata("length", fmt.Sprint(len(salt))),
		)
	}
	return salt, nil
}

func (j *Judge) resolveAnalysis(ctx context.Context, req Request) (string, error) {
	if req.Analysis != "" {
		return req.Analysis, nil
	}
	if j.source == nil {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "缺少分析文本且未配置分析来源")
	}

	sourceCtx := ctx
	if j.sourceTimeout > 0 {
		var cancel context.CancelFunc
		sourceCtx, cancel = context.WithTimeout(ctx, j.sourceTimeout)
		defer cancel()
	}

	text, err := j.source.Analyze(sourceCtx, analysis.Request{
		MarketID: req.MarketID,
		Question: req.Question,
		Evidence: []byte(req.Evidence),
	})
	switch {
	case err == nil:
		return text, nil
	case stdErrors.Is(err, context.DeadlineExceeded):
		return "", xerrors.Wrap(xerrors.CodeTimeout, err, "获取分析结果超时")
	case stdErrors.Is(err, analysis.ErrNoAnalysis):
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "没有可用的分析结果")
	default:
		return "", xerrors.Wrap(xerrors.CodeExecutorFailure, err, "获取分析结果失败")
	}
}

func wrapExecution(err error, message string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, message)
	}
	return xerrors.Wrap(xerrors.CodeExecutorFailure, err, message)
}
