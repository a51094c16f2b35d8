package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// 默认耗时分桶（秒），覆盖从缓存命中到一次完整裁决的范围。
var durationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// 置信度分桶，单位为基点。
var confidenceBuckets = []float64{1000, 2500, 5000, 7500, 9000, 10000}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// observe 累加到第一个不小于 value 的桶及其后所有桶，超出上界的值只计入 +Inf。
func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
}

type requestKey struct {
	route  RouteClass
	result string
}

type attestationKey struct {
	outcome     string
	validLength bool
}

type failureKey struct {
	code     string
	terminal bool
}

// registry 汇总 API 请求与裁决流水线的全部指标，一次加锁输出完整快照。
type registry struct {
	mu           sync.Mutex
	requests     map[requestKey]uint64
	latency      map[RouteClass]*histogram
	attestations map[attestationKey]uint64
	failures     map[failureKey]uint64
	confidence   *histogram
	resolution   *histogram
}

var defaultRegistry = newRegistry()

func newRegistry() *registry {
	return &registry{
		requests:     make(map[requestKey]uint64),
		latency:      make(map[RouteClass]*histogram),
		attestations: make(map[attestationKey]uint64),
		failures:     make(map[failureKey]uint64),
		confidence:   newHistogram(confidenceBuckets),
		resolution:   newHistogram(durationBuckets),
	}
}

type label struct{ name, value string }

type counterSample struct {
	labels []label
	value  uint64
}

func (r *registry) render() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	b.Grow(2048)

	requests := make([]counterSample, 0, len(r.requests))
	for key, value := range r.requests {
		requests = append(requests, counterSample{
			labels: []label{{"route", string(key.route)}, {"result", key.result}},
			value:  value,
		})
	}
	writeCounter(&b, "aijudge_api_requests_total", "API requests by route class and result.", requests)

	routes := make([]RouteClass, 0, len(r.latency))
	for route := range r.latency {
		routes = append(routes, route)
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i] < routes[j] })
	writeHelp(&b, "aijudge_api_request_duration_seconds", "API request duration by route class.", "histogram")
	for _, route := range routes {
		writeHistogramSeries(&b, "aijudge_api_request_duration_seconds", []label{{"route", string(route)}}, r.latency[route])
	}

	attestations := make([]counterSample, 0, len(r.attestations))
	for key, value := range r.attestations {
		attestations = append(attestations, counterSample{
			labels: []label{{"outcome", key.outcome}, {"valid_length", strconv.FormatBool(key.validLength)}},
			value:  value,
		})
	}
	writeCounter(&b, "aijudge_attestations_total", "Resolutions whose commitment and attestation were recorded.", attestations)

	failures := make([]counterSample, 0, len(r.failures))
	for key, value := range r.failures {
		failures = append(failures, counterSample{
			labels: []label{{"code", key.code}, {"terminal", strconv.FormatBool(key.terminal)}},
			value:  value,
		})
	}
	writeCounter(&b, "aijudge_task_failures_total", "Failed resolution attempts by error code.", failures)

	writeHelp(&b, "aijudge_attestation_confidence_bps", "Attested confidence in basis points.", "histogram")
	writeHistogramSeries(&b, "aijudge_attestation_confidence_bps", nil, r.confidence)
	writeHelp(&b, "aijudge_resolution_duration_seconds", "Time spent resolving one dispute.", "histogram")
	writeHistogramSeries(&b, "aijudge_resolution_duration_seconds", nil, r.resolution)
	return b.String()
}

func writeHelp(b *strings.Builder, name, help, kind string) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

// writeCounter 按标签字典序输出，保证相同状态得到相同文本。
func writeCounter(b *strings.Builder, name, help string, samples []counterSample) {
	writeHelp(b, name, help, "counter")
	rendered := make([]string, len(samples))
	for i, s := range samples {
		rendered[i] = fmt.Sprintf("%s%s %d\n", name, formatLabels(s.labels), s.value)
	}
	sort.Strings(rendered)
	for _, line := range rendered {
		b.WriteString(line)
	}
}

func writeHistogramSeries(b *strings.Builder, name string, labels []label, h *histogram) {
	withLE := func(le string) string {
		return formatLabels(append(append([]label(nil), labels...), label{"le", le}))
	}
	for idx, bound := range h.buckets {
		fmt.Fprintf(b, "%s_bucket%s %d\n", name, withLE(formatFloat(bound)), h.counts[idx])
	}
	fmt.Fprintf(b, "%s_bucket%s %d\n", name, withLE("+Inf"), h.count)
	fmt.Fprintf(b, "%s_sum%s %s\n", name, formatLabels(labels), formatFloat(h.sum))
	fmt.Fprintf(b, "%s_count%s %d\n", name, formatLabels(labels), h.count)
}

func formatLabels(labels []label) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = fmt.Sprintf("%s=\"%s\"", l.name, escape(l.value))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
