package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// RouteClass 是 API 请求在裁决流程中所处的阶段，作为请求指标的标签。
type RouteClass string

const (
	// RouteSubmit 提交争议证据与分析。
	RouteSubmit RouteClass = "submit"
	// RouteQuery 查询任务、任务列表与裁决记录。
	RouteQuery RouteClass = "query"
	// RouteVerify 离线校验承诺与关联关系。
	RouteVerify RouteClass = "verify"
)

// RequestResult 把状态码折叠为有限的结果类别。鉴权与限流拒绝单独计数，便于区分滥用与故障。
func RequestResult(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "throttled"
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "denied"
	case status >= 500:
		return "error"
	case status >= 400:
		return "rejected"
	default:
		return "ok"
	}
}

// ObserveRequest 记录一次 API 请求的结果与耗时。
func ObserveRequest(route RouteClass, status int, duration time.Duration) {
	defaultRegistry.observeRequest(route, status, duration)
}

func (r *registry) observeRequest(route RouteClass, status int, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requests[requestKey{route: route, result: RequestResult(status)}]++
	hist := r.latency[route]
	if hist == nil {
		hist = newHistogram(durationBuckets)
		r.latency[route] = hist
	}
	hist.observe(duration.Seconds())
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, defaultRegistry.render())
	})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
