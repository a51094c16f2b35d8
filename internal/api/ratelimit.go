package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"AIJudge-Chain/internal/auth"
	xerrors "AIJudge-Chain/internal/errors"
)

// CodeRateLimited 表示调用方提交过于频繁。
const CodeRateLimited xerrors.Code = "API_RATE_LIMITED"

func init() {
	xerrors.Register(CodeRateLimited, xerrors.Attributes{
		Message:   "too many submissions",
		Severity:  xerrors.SeverityInfo,
		Retryable: true,
	})
}

const visitorIdle = 3 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// submitLimiter 按调用方限制提交速率，已认证请求按主体名计，否则按来源 IP。
type submitLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	visitors  map[string]*visitor
	lastSweep time.Time
	now       func() time.Time
}

func newSubmitLimiter(rps float64, burst int) *submitLimiter {
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(rps)))
	}
	return &submitLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

func (l *submitLimiter) reserve(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > time.Minute {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > visitorIdle {
				delete(l.visitors, k)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	if v.limiter.AllowN(now, 1) {
		return true, 0
	}
	wait := time.Duration(float64(time.Second) / float64(l.limit))
	return false, wait
}

// middleware 只限制 POST 请求，查询接口不受影响。
func (l *submitLimiter) middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		allowed, wait := l.reserve(callerKey(r))
		if !allowed {
			seconds := int(math.Ceil(wait.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			writeError(w, xerrors.New(CodeRateLimited, "提交过于频繁，请稍后重试"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerKey(r *http.Request) string {
	if subject := auth.SubjectFromContext(r.Context()); subject != nil {
		return "subject:" + subject.Name
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
