package auth

import (
	"errors"
	"net/http"
	"time"
)

// MiddlewareConfig 配置认证中间件的行为。
type MiddlewareConfig struct {
	// RequiredPermissions 定义每个 HTTP 方法所需的权限，"*" 作为兜底。
	RequiredPermissions map[string][]string
	// AuditEvent 指定审计日志的事件名称。
	AuditEvent string
}

// Middleware 返回处理认证与授权的 HTTP 中间件。
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s == nil || s.mode == ModeDisabled {
				next.ServeHTTP(w, r)
				return
			}
			subject, err := s.AuthenticateRequest(r.Header.Get("Authorization"))
			if err != nil {
				s.deny(w, r, http.StatusUnauthorized, err, "")
				return
			}
			perms := cfg.RequiredPermissions[r.Method]
			if len(perms) == 0 {
				perms = cfg.RequiredPermissions["*"]
			}
			if err := subject.Authorize(perms...); err != nil {
				s.deny(w, r, http.StatusForbidden, err, subject.Name)
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithSubject(r.Context(), subject)))
			event := cfg.AuditEvent
			if event == "" {
				event = r.URL.Path
			}
			s.auditLogger().Info("api_request",
				"event", event,
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"subject", subject.Name,
			)
		})
	}
}

func (s *Service) deny(w http.ResponseWriter, r *http.Request, status int, err error, subject string) {
	if status == http.StatusUnauthorized && errors.Is(err, ErrMissingToken) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="aijudge"`)
	}
	http.Error(w, http.StatusText(status), status)
	s.auditLogger().Warn("access_denied",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"subject", subject,
	)
}

// auditWriter 捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 记录状态码后写出。
func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
