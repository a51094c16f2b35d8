// Package analysis defines where analysis transcripts come from. The
// attestation logic only ever sees the raw text a Source returns.
package analysis

import (
	"context"
	"errors"
)

// ErrNoAnalysis 表示没有可用的分析结果。
var ErrNoAnalysis = errors.New("analysis: no transcript available")

// Request 描述一次待分析的争议。
type Request struct {
	MarketID string
	Question string
	Evidence []byte
}

// Source 产生分析文本。文本被视为可信输入，由证明程序解析。
type Source interface {
	Analyze(ctx context.Context, req Request) (string, error)
}

// SourceFunc 允许使用普通函数实现 Source。
type SourceFunc func(ctx context.Context, req Request) (string, error)

// Analyze 实现 Source。
func (f SourceFunc) Analyze(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// StaticSource 对所有请求返回同一段分析文本。
type StaticSource struct {
	Text string
}

// Analyze 实现 Source。
func (s StaticSource) Analyze(ctx context.Context, _ Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.Text == "" {
		return "", ErrNoAnalysis
	}
	return s.Text, nil
}
