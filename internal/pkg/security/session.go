package security

import (
	"errors"
	"sync"
)

var ErrUnauthenticated = errors.New("未登录")

// AuthContext 当前登录用户
type AuthContext interface {
	CurrentUserID() (string, bool)
}

// Session 本地会话，保存当前 Token 与解析出的用户
type Session struct {
	issuer *TokenIssuer

	mu     sync.RWMutex
	token  string
	claims *UserClaims
}

func NewSession(issuer *TokenIssuer) *Session {
	return &Session{issuer: issuer}
}

// SignIn 校验 Token 后切换当前用户
func (s *Session) SignIn(token string) (*UserClaims, error) {
	claims, err := s.issuer.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.token, s.claims = token, claims
	s.mu.Unlock()
	return claims, nil
}

func (s *Session) SignOut() {
	s.mu.Lock()
	s.token, s.claims = "", nil
	s.mu.Unlock()
}

// CurrentUserID Token 过期后视为未登录
func (s *Session) CurrentUserID() (string, bool) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token == "" {
		return "", false
	}
	claims, err := s.issuer.ValidateToken(token)
	if err != nil {
		return "", false
	}
	return claims.UserID, true
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// StaticAuth 固定用户，用于测试与单机调试
type StaticAuth string

func (a StaticAuth) CurrentUserID() (string, bool) {
	return string(a), a != ""
}
