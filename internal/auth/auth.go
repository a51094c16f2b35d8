package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"AIJudge-Chain/pkg/logger"
)

// 常见的认证错误。
var (
	ErrMissingToken     = errors.New("missing bearer token")
	ErrInvalidToken     = errors.New("invalid token")
	ErrPermissionDenied = errors.New("permission denied")
)

// Mode 表示认证模式。
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeToken    Mode = "token"
	ModeJWT      Mode = "jwt"
)

// 接口权限。
const (
	PermissionSubmit = "attestations:submit"
	PermissionRead   = "attestations:read"
)

// TokenConfig 描述一个静态访问令牌。
type TokenConfig struct {
	Name        string   `json:"name" yaml:"name"`
	Token       string   `json:"token" yaml:"token"`
	Permissions []string `json:"permissions" yaml:"permissions"`
}

// Config 控制 API 认证。
type Config struct {
	Mode   Mode          `json:"mode" yaml:"mode"`
	Tokens []TokenConfig `json:"tokens" yaml:"tokens"`
	JWT    JWTConfig     `json:"jwt" yaml:"jwt"`
}

// Subject 是通过认证的调用方。
type Subject struct {
	Name        string
	Permissions []string

	permissionsSet map[string]struct{}
}

func (s *Subject) normalise() {
	if s == nil || s.permissionsSet != nil {
		return
	}
	s.permissionsSet = make(map[string]struct{}, len(s.Permissions))
	for _, perm := range s.Permissions {
		s.permissionsSet[strings.TrimSpace(perm)] = struct{}{}
	}
}

// Authorize 检查调用方是否拥有全部权限，"*" 表示全部权限。
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return ErrPermissionDenied
	}
	s.normalise()
	if _, ok := s.permissionsSet["*"]; ok {
		return nil
	}
	for _, perm := range perms {
		if _, ok := s.permissionsSet[perm]; !ok {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, perm)
		}
	}
	return nil
}

type tokenEntry struct {
	digest  [sha256.Size]byte
	subject Subject
}

// Service 校验请求携带的访问令牌。
type Service struct {
	mode   Mode
	tokens []tokenEntry
	jwt    *jwtManager
	audit  *slog.Logger
}

// NewService 根据配置构造认证服务。
func NewService(cfg Config) (*Service, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeDisabled
	}
	switch mode {
	case ModeDisabled:
		return &Service{mode: mode}, nil
	case ModeJWT:
		manager, err := newJWTManager(cfg.JWT)
		if err != nil {
			return nil, err
		}
		return &Service{mode: mode, jwt: manager}, nil
	case ModeToken:
	default:
		return nil, fmt.Errorf("未知的认证模式: %s", mode)
	}
	if len(cfg.Tokens) == 0 {
		return nil, errors.New("token 模式至少需要配置一个令牌")
	}

	svc := &Service{mode: mode}
	seen := make(map[string]struct{}, len(cfg.Tokens))
	for _, tc := range cfg.Tokens {
		token := strings.TrimSpace(tc.Token)
		if token == "" {
			return nil, fmt.Errorf("令牌 %q 为空", tc.Name)
		}
		if _, dup := seen[token]; dup {
			return nil, fmt.Errorf("令牌 %q 重复", tc.Name)
		}
		seen[token] = struct{}{}
		perms := append([]string(nil), tc.Permissions...)
		sort.Strings(perms)
		svc.tokens = append(svc.tokens, tokenEntry{
			digest:  sha256.Sum256([]byte(token)),
			subject: Subject{Name: tc.Name, Permissions: perms},
		})
	}
	return svc, nil
}

// Mode 返回当前认证模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest 解析 Authorization 头并返回对应的调用方。
func (s *Service) AuthenticateRequest(authorization string) (*Subject, error) {
	const prefix = "bearer "
	if len(authorization) < len(prefix) || !strings.EqualFold(authorization[:len(prefix)], prefix) {
		return nil, ErrMissingToken
	}
	token := strings.TrimSpace(authorization[len(prefix):])
	if token == "" {
		return nil, ErrMissingToken
	}
	if s.mode == ModeJWT {
		return s.jwt.verify(token)
	}
	digest := sha256.Sum256([]byte(token))
	for _, entry := range s.tokens {
		if subtle.ConstantTimeCompare(digest[:], entry.digest[:]) == 1 {
			subject := entry.subject
			subject.permissionsSet = nil
			return &subject, nil
		}
	}
	return nil, ErrInvalidToken
}

// Issue 签发 JWT 访问令牌，ttl 为 0 时使用配置的默认有效期。仅 jwt 模式可用。
func (s *Service) Issue(subject string, perms []string, ttl time.Duration) (string, error) {
	if s == nil || s.jwt == nil {
		return "", fmt.Errorf("当前认证模式不支持签发令牌: %s", s.Mode())
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject 不能为空")
	}
	return s.jwt.issue(subject, perms, ttl)
}

func (s *Service) auditLogger() *slog.Logger {
	if s.audit != nil {
		return s.audit
	}
	return logger.Audit()
}
