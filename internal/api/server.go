package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"AIJudge-Chain/internal/auth"
	xerrors "AIJudge-Chain/internal/errors"
	"AIJudge-Chain/internal/judge"
	"AIJudge-Chain/internal/observability/metrics"
	"AIJudge-Chain/internal/proofs"
	"AIJudge-Chain/internal/storage/mysql"
	"AIJudge-Chain/internal/task"
	"AIJudge-Chain/pkg/logger"
)

const attestationsPath = "/api/v1/attestations"

// TaskService 是 API 依赖的任务能力。
type TaskService interface {
	Submit(ctx context.Context, req judge.Request) (*task.Task, error)
	Get(ctx context.Context, id string) (*task.Task, error)
	List(ctx context.Context, opts ...task.ListOption) ([]*task.Task, error)
	Stats(ctx context.Context, opts ...task.ListOption) (task.TaskStats, error)
}

// RecordReader 提供已落库裁决记录的查询。
type RecordReader interface {
	History(ctx context.Context, limit int) ([]mysql.AttestationRecord, error)
	ByEvidence(ctx context.Context, evidenceHash proofs.Digest) ([]mysql.AttestationRecord, error)
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr    string
	tasks   TaskService
	records RecordReader
	auth    *auth.Service
	limiter *submitLimiter
}

// ServerOption 定义可选配置。
type ServerOption func(*Server)

// WithAuth 为任务与记录接口启用令牌认证，校验接口保持公开。
func WithAuth(svc *auth.Service) ServerOption {
	return func(s *Server) {
		s.auth = svc
	}
}

// WithSubmitRateLimit 限制每个调用方的提交速率，rps 不大于 0 时不限制。
func WithSubmitRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 {
			s.limiter = newSubmitLimiter(rps, burst)
		}
	}
}

// NewServer 构造 API 服务实例。records 可以为 nil。
func NewServer(addr string, tasks TaskService, records RecordReader, opts ...ServerOption) *Server {
	s := &Server{addr: addr, tasks: tasks, records: records}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回注册了全部路由的 http.Handler。
func (s *Server) Handler() http.Handler {
	guard := s.auth.Middleware(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			http.MethodPost: {auth.PermissionSubmit},
			"*":             {auth.PermissionRead},
		},
	})
	mux := http.NewServeMux()
	mux.Handle(attestationsPath, instrument(guard(s.limiter.middleware(http.HandlerFunc(s.handleAttestations)))))
	mux.Handle(attestationsPath+"/", instrument(guard(http.HandlerFunc(s.handleAttestationDetail))))
	mux.Handle("/api/v1/records", instrument(guard(http.HandlerFunc(s.handleRecords))))
	mux.Handle("/api/v1/commitments/verify", instrument(http.HandlerFunc(s.handleVerifyCommitment)))
	mux.Handle("/api/v1/links/verify", instrument(http.HandlerFunc(s.handleVerifyLink)))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Named("api").Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleAttestations(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	switch r.Method {
	case http.MethodPost:
		s.handleSubmit(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req judge.Request
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.tasks.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tasks, err := s.tasks.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleAttestationDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, attestationsPath+"/"), "/")
	if id == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "缺少任务 ID"))
		return
	}
	if id == "stats" {
		s.handleStats(w, r)
		return
	}
	found, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.tasks.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.records == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "裁决仓库未初始化"))
		return
	}
	query := r.URL.Query()
	var (
		records []mysql.AttestationRecord
		err     error
	)
	if raw := query.Get("evidence_hash"); raw != "" {
		digest, parseErr := proofs.ParseDigest(raw)
		if parseErr != nil {
			writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, parseErr, "evidence_hash 格式错误"))
			return
		}
		records, err = s.records.ByEvidence(r.Context(), digest)
	} else {
		limit, _ := strconv.Atoi(query.Get("limit"))
		records, err = s.records.History(r.Context(), limit)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []mysql.AttestationRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

type verifyCommitmentRequest struct {
	EvidenceHash string  `json:"evidence_hash"`
	Commitment   string  `json:"commitment"`
	Salt         string  `json:"salt"`
	Evidence     *string `json:"evidence,omitempty"`
}

func (s *Server) handleVerifyCommitment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req verifyCommitmentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	evidenceHash, err := proofs.ParseDigest(req.EvidenceHash)
	if err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "evidence_hash 格式错误"))
		return
	}
	commitment, err := proofs.ParseDigest(req.Commitment)
	if err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "commitment 格式错误"))
		return
	}

	valid := proofs.VerifyOpening(evidenceHash, commitment, []byte(req.Salt))
	if req.Evidence != nil {
		valid = valid && proofs.Hash([]byte(*req.Evidence)) == evidenceHash
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

type verifyLinkRequest struct {
	CommitmentValues  string `json:"commitment_values"`
	AttestationValues string `json:"attestation_values"`
}

type verifyLinkResponse struct {
	Linked      bool               `json:"linked"`
	Commitment  proofs.Commitment  `json:"commitment"`
	Attestation proofs.Attestation `json:"attestation"`
}

func (s *Server) handleVerifyLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req verifyLinkRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rawCommitment, err := decodeHex(req.CommitmentValues)
	if err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "commitment_values 格式错误"))
		return
	}
	rawAttestation, err := decodeHex(req.AttestationValues)
	if err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "attestation_values 格式错误"))
		return
	}
	c, err := proofs.DecodeCommitment(rawCommitment)
	if err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "无法解析证据公开输出"))
		return
	}
	a, err := proofs.DecodeAttestation(rawAttestation)
	if err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "无法解析分析公开输出"))
		return
	}
	writeJSON(w, http.StatusOK, verifyLinkResponse{Linked: proofs.Linked(c, a), Commitment: c, Attestation: a})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
