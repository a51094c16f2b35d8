package task

import (
	stdErrors "errors"

	xerrors "AIJudge-Chain/internal/errors"
)

// Status 表示任务在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ExecutionResult 保存一次裁决的公开字段，哈希均为 0x 前缀十六进制。
type ExecutionResult struct {
	AttestationID     string `json:"attestation_id"`
	Salt              string `json:"salt"`
	EvidenceHash      string `json:"evidence_hash"`
	Commitment        string `json:"commitment"`
	ValidLength       bool   `json:"valid_length"`
	Outcome           string `json:"outcome"`
	Confidence        uint16 `json:"confidence"`
	ReasoningHash     string `json:"reasoning_hash"`
	Linked            bool   `json:"linked"`
	VoteSalt          string `json:"vote_salt"`
	VoteCommit        string `json:"vote_commit"`
	CommitmentValues  string `json:"commitment_values"`
	AttestationValues string `json:"attestation_values"`
	EvidenceDigest    string `json:"evidence_digest"`
	AnalysisDigest    string `json:"analysis_digest"`
}

// Task 描述排队等待裁决的争议。
type Task struct {
	ID         string           `json:"id"`
	MarketID   string           `json:"market_id,omitempty"`
	Question   string           `json:"question,omitempty"`
	Evidence   string           `json:"evidence"`
	Salt       string           `json:"salt,omitempty"`
	Analysis   string           `json:"analysis,omitempty"`
	Status     Status           `json:"status"`
	Attempts   int              `json:"attempts"`
	MaxRetries int              `json:"max_retries"`
	LastError  string           `json:"last_error,omitempty"`
	ErrorCode  string           `json:"error_code,omitempty"`
	Result     *ExecutionResult `json:"result,omitempty"`
	CreatedAt  int64            `json:"created_at"`
	UpdatedAt  int64            `json:"updated_at"`
}

var (
	// ErrTaskNotFound 表示指定的任务不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "task not found")
	// ErrTaskConflict 表示任务在当前状态下无法进行所请求的操作。
	ErrTaskConflict = xerrors.New(CodeTaskConflict, "task conflict")
	// ErrTaskCompleted 表示任务已经成功完成。
	ErrTaskCompleted = xerrors.New(CodeTaskCompleted, "task already completed")
	// ErrTaskExhausted 表示任务的重试次数已经耗尽。
	ErrTaskExhausted = xerrors.New(CodeTaskExhausted, "task retries exhausted")
)

const (
	CodeTaskNotFound   xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskConflict   xerrors.Code = "TASK_CONFLICT"
	CodeTaskCompleted  xerrors.Code = "TASK_COMPLETED"
	CodeTaskExhausted  xerrors.Code = "TASK_RETRIES_EXHAUSTED"
	CodeTaskValidation xerrors.Code = "TASK_VALIDATION_FAILED"
	CodeTaskPublish    xerrors.Code = "TASK_PUBLISH_FAILED"
	CodeTaskProcessing xerrors.Code = "TASK_PROCESSING_FAILED"
)

func init() {
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:  "task not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskConflict, xerrors.Attributes{
		Message:  "task conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeTaskCompleted, xerrors.Attributes{
		Message:  "task already completed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskExhausted, xerrors.Attributes{
		Message:  "task retries exhausted",
		Severity: xerrors.SeverityCritical,
	})
	xerrors.Register(CodeTaskValidation, xerrors.Attributes{
		Message:  "task validation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskPublish, xerrors.Attributes{
		Message:   "failed to publish task",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
	})
	xerrors.Register(CodeTaskProcessing, xerrors.Attributes{
		Message:   "task execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
}

// IsTaskError 判断错误是否为指定的任务错误。
func IsTaskError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	switch target {
	case CodeTaskNotFound:
		return stdErrors.Is(err, ErrTaskNotFound)
	case CodeTaskConflict:
		return stdErrors.Is(err, ErrTaskConflict)
	case CodeTaskCompleted:
		return stdErrors.Is(err, ErrTaskCompleted)
	case CodeTaskExhausted:
		return stdErrors.Is(err, ErrTaskExhausted)
	}
	return xerrors.CodeOf(err) == target
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

func cloneTask(task *Task) *Task {
	clone := *task
	if task.Result != nil {
		resultCopy := *task.Result
		clone.Result = &resultCopy
	}
	return &clone
}
