package api

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "AIJudge-Chain/internal/errors"
	"AIJudge-Chain/internal/judge"
	"AIJudge-Chain/internal/observability/metrics"
	"AIJudge-Chain/internal/task"
)

// maxBodyBytes 限制单个请求体大小。
const maxBodyBytes = 1 << 20

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	body := errorBody{Code: string(code), Message: err.Error()}
	if e, ok := xerrors.From(err); ok {
		body.Details = e.Metadata()
	}
	writeJSON(w, statusFor(code), map[string]errorBody{"error": body})
}

func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, task.CodeTaskValidation, judge.CodeWeakSalt:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, task.CodeTaskNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, task.CodeTaskConflict:
		return http.StatusConflict
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

func decodeHex(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(strings.TrimPrefix(value, "0x"), "0X")
	return hex.DecodeString(value)
}

func parseListOptions(r *http.Request) ([]task.ListOption, error) {
	query := r.URL.Query()
	var opts []task.ListOption

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "limit 必须为整数")
		}
		opts = append(opts, task.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "offset 必须为整数")
		}
		opts = append(opts, task.WithOffset(offset))
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.TrimSpace(part))
			if !task.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的任务状态: "+string(status))
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if raw := strings.TrimSpace(query.Get("market")); raw != "" {
		opts = append(opts, task.WithMarket(raw))
	}
	if raw := query.Get("outcome"); raw != "" {
		outcome := strings.ToUpper(strings.TrimSpace(raw))
		if outcome != "YES" && outcome != "NO" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "outcome 仅支持 YES 或 NO")
		}
		opts = append(opts, task.WithOutcome(outcome))
	}
	if raw := query.Get("since"); raw != "" {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "since 必须为 Unix 秒")
		}
		opts = append(opts, task.WithUpdatedSince(time.Unix(ts, 0)))
	}
	if raw := query.Get("has_result"); raw != "" {
		has, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "has_result 必须为布尔值")
		}
		opts = append(opts, task.WithResultPresence(has))
	}
	if query.Get("order") == "asc" {
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	}
	if raw := query.Get("q"); raw != "" {
		opts = append(opts, task.WithQuery(raw))
	}
	return opts, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// routeClass 按裁决流程阶段归类请求，避免以路径或任务 ID 作为标签。
func routeClass(r *http.Request) metrics.RouteClass {
	switch {
	case strings.HasSuffix(r.URL.Path, "/verify"):
		return metrics.RouteVerify
	case r.Method == http.MethodPost:
		return metrics.RouteSubmit
	default:
		return metrics.RouteQuery
	}
}

// instrument 包在鉴权与限流之外，被拒绝的请求同样计入。
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.ObserveRequest(routeClass(r), rec.status, time.Since(started))
	})
}
