package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	xerrors "AIJudge-Chain/internal/errors"
	"AIJudge-Chain/internal/judge"
	"AIJudge-Chain/internal/observability/alerting"
	"AIJudge-Chain/internal/observability/metrics"
	"AIJudge-Chain/internal/observability/tracing"
	"AIJudge-Chain/pkg/logger"
)

// Executor 定义了处理器所需的裁决能力。
type Executor interface {
	Resolve(ctx context.Context, req judge.Request) (*judge.Resolution, error)
}

// Processor 负责从队列消费任务并交给 Judge 执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
	now         func() time.Time
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定调试日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动任务处理循环，阻塞直到 ctx 结束或消费者出错。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, taskID string) (err error) {
	ctx, span := tracing.Start(ctx, "task.process", attribute.String("task_id", taskID))
	defer func() { tracing.End(span, err) }()
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, taskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrTaskCompleted) ||
			stdErrors.Is(err, ErrTaskExhausted) || stdErrors.Is(err, ErrTaskConflict) {
			p.logDebug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		p.emitAlert(ctx, &Task{ID: taskID}, CodeTaskProcessing, err, "claim")
		return err
	}

	started := p.now()
	res, execErr := p.executor.Resolve(ctx, judge.Request{
		ID:       task.ID,
		MarketID: task.MarketID,
		Question: task.Question,
		Evidence: task.Evidence,
		Salt:     task.Salt,
		Analysis: task.Analysis,
	})
	if execErr != nil {
		return p.handleExecutionFailure(ctx, task, execErr)
	}

	result := resultFromResolution(res)
	metrics.ObserveAttestation(result.Outcome, result.ValidLength, result.Confidence, p.now().Sub(started))

	if err := p.store.MarkSucceeded(ctx, task.ID, result); err != nil {
		logger.L().Error("标记任务成功状态失败", slog.Any("error", err), slog.String("task_id", task.ID))
		if storeErr := p.store.MarkFailed(ctx, task.ID, CodeTaskProcessing, err.Error(), false); storeErr != nil {
			logger.L().Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("task_id", task.ID))
			return storeErr
		}
		if pubErr := p.producer.Publish(ctx, task.ID); pubErr != nil {
			return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 在标记成功失败后重投失败", task.ID))
		}
		return nil
	}
	logger.Audit().Info("任务执行成功",
		slog.String("task_id", task.ID),
		slog.String("market_id", task.MarketID),
		slog.String("outcome", result.Outcome),
		slog.Int("confidence", int(result.Confidence)),
		slog.String("evidence_hash", result.EvidenceHash),
	)
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, task *Task, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := task.Attempts >= task.MaxRetries || !retryable

	if storeErr := p.store.MarkFailed(ctx, task.ID, code, execErr.Error(), terminal); storeErr != nil {
		logger.L().Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("task_id", task.ID))
		return storeErr
	}
	metrics.ObserveTaskFailure(string(code), terminal)
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", task.ID),
		slog.Bool("terminal", terminal),
		slog.Any("error", execErr),
		slog.String("error_code", string(code)),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_retries", task.MaxRetries),
	)

	switch {
	case terminal && retryable:
		p.emitAlert(ctx, task, CodeTaskExhausted, execErr, "exhausted")
	case terminal:
		p.emitAlert(ctx, task, code, execErr, "non_retryable")
	default:
		if pubErr := p.producer.Publish(ctx, task.ID); pubErr != nil {
			return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 重投失败", task.ID))
		}
		p.logDebug("任务已重新排队", slog.String("task_id", task.ID), slog.Int("attempts", task.Attempts))
	}
	return nil
}

func resultFromResolution(res *judge.Resolution) ExecutionResult {
	if res == nil {
		return ExecutionResult{}
	}
	return ExecutionResult{
		AttestationID:     res.ID,
		Salt:              res.Salt,
		EvidenceHash:      res.Commitment.EvidenceHash.Hex(),
		Commitment:        res.Commitment.Commitment.Hex(),
		ValidLength:       res.Commitment.ValidLength,
		Outcome:           res.Attestation.Outcome.String(),
		Confidence:        res.Attestation.Confidence,
		ReasoningHash:     res.Attestation.ReasoningHash.Hex(),
		Linked:            res.Linked,
		VoteSalt:          res.VoteSalt.Hex(),
		VoteCommit:        res.VoteCommit.Hex(),
		CommitmentValues:  fmt.Sprintf("0x%x", res.EvidenceReceipt.PublicValues),
		AttestationValues: fmt.Sprintf("0x%x", res.AnalysisReceipt.PublicValues),
		EvidenceDigest:    res.EvidenceReceipt.Digest.Hex(),
		AnalysisDigest:    res.AnalysisReceipt.Digest.Hex(),
	}
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger == nil {
		return
	}
	p.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
}

func (p *Processor) emitAlert(ctx context.Context, task *Task, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || task == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	metadata := map[string]string{"stage": stage}
	if cause != nil {
		message = cause.Error()
		metadata["cause_code"] = string(xerrors.CodeOf(cause))
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		TaskID:     task.ID,
		MarketID:   task.MarketID,
		Attempts:   task.Attempts,
		MaxRetries: task.MaxRetries,
		Metadata:   metadata,
		OccurredAt: p.now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("task_id", task.ID),
			slog.String("stage", stage),
		)
	}
}
