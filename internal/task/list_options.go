package task

import (
	"slices"
	"strings"
	"time"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// SortOrder 控制列表按更新时间排列的方向。
type SortOrder int

const (
	// SortByUpdatedDesc 最近更新的争议在前。
	SortByUpdatedDesc SortOrder = iota
	// SortByUpdatedAsc 最早更新的争议在前。
	SortByUpdatedAsc
)

// ListOptions 描述争议任务的筛选条件，零值表示不过滤。
type ListOptions struct {
	Limit    int
	Offset   int
	Statuses []Status
	// MarketID 精确匹配市场标识。
	MarketID string
	// Outcome 只保留已产出该裁决结果（YES/NO）的任务。
	Outcome string
	// UpdatedGTE/UpdatedLTE 为 Unix 秒，闭区间。
	UpdatedGTE int64
	UpdatedLTE int64
	HasResult  *bool
	Order      SortOrder
	Query      string
}

func (opts *ListOptions) applyDefaults() {
	switch {
	case opts.Limit <= 0:
		opts.Limit = defaultListLimit
	case opts.Limit > maxListLimit:
		opts.Limit = maxListLimit
	}
	opts.Offset = max(opts.Offset, 0)
	opts.Statuses = uniqueStatuses(opts.Statuses)
	if opts.Order != SortByUpdatedAsc {
		opts.Order = SortByUpdatedDesc
	}
	opts.MarketID = strings.TrimSpace(opts.MarketID)
	opts.Outcome = strings.ToUpper(strings.TrimSpace(opts.Outcome))
	opts.Query = strings.TrimSpace(opts.Query)
}

// ListOption 修改筛选条件。
type ListOption func(*ListOptions)

func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) { opts.Limit = limit }
}

func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) { opts.Offset = offset }
}

// WithStatuses 按状态过滤，未知状态会被忽略。
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) { opts.Statuses = slices.Clone(statuses) }
}

// WithMarket 只返回指定市场的争议。
func WithMarket(marketID string) ListOption {
	return func(opts *ListOptions) { opts.MarketID = marketID }
}

// WithOutcome 只返回裁决结果为 outcome 的争议，隐含已有结果。
func WithOutcome(outcome string) ListOption {
	return func(opts *ListOptions) { opts.Outcome = outcome }
}

// WithUpdatedSince 与 WithUpdatedUntil 限定更新时间窗口，零值清除该端点。
func WithUpdatedSince(ts time.Time) ListOption {
	return func(opts *ListOptions) { opts.UpdatedGTE = unixOrZero(ts) }
}

func WithUpdatedUntil(ts time.Time) ListOption {
	return func(opts *ListOptions) { opts.UpdatedLTE = unixOrZero(ts) }
}

// WithResultPresence 按是否已有证明结果过滤。
func WithResultPresence(hasResult bool) ListOption {
	return func(opts *ListOptions) { opts.HasResult = &hasResult }
}

func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) { opts.Order = order }
}

// WithQuery 在 id、市场、问题、错误信息以及证据哈希与承诺中做子串匹配。
func WithQuery(query string) ListOption {
	return func(opts *ListOptions) { opts.Query = query }
}

func buildListOptions(opts []ListOption) ListOptions {
	var options ListOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func unixOrZero(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.Unix()
}

func uniqueStatuses(input []Status) []Status {
	var result []Status
	for _, status := range input {
		if IsValidStatus(status) && !slices.Contains(result, status) {
			result = append(result, status)
		}
	}
	return result
}
