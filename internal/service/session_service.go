package service

import (
	"Parley/internal/cache"
	"Parley/internal/pkg/security"
	"Parley/internal/realtime"
	"context"
	"fmt"
	log "log/slog"
)

// SessionService 登录与退出，负责切换用户时的订阅与缓存生命周期
type SessionService interface {
	SignIn(ctx context.Context, token string) (*security.UserClaims, error)
	// DevSignIn 仅用于内存后端，直接为指定用户签发 Token
	DevSignIn(ctx context.Context, userID string) (string, error)
	SignOut(ctx context.Context)
	CurrentUserID() (string, bool)
	Token() string
}

type sessionServiceImpl struct {
	session  *security.Session
	issuer   *security.TokenIssuer
	cache    *cache.QueryCache
	convs    *cache.Conversations
	realtime *realtime.Manager
	receipts *ReceiptBatcher
	allowDev bool
}

func NewSessionService(
	session *security.Session,
	issuer *security.TokenIssuer,
	qc *cache.QueryCache,
	convs *cache.Conversations,
	rt *realtime.Manager,
	receipts *ReceiptBatcher,
	allowDev bool,
) SessionService {
	return &sessionServiceImpl{
		session:  session,
		issuer:   issuer,
		cache:    qc,
		convs:    convs,
		realtime: rt,
		receipts: receipts,
		allowDev: allowDev,
	}
}

func (s *sessionServiceImpl) SignIn(ctx context.Context, token string) (*security.UserClaims, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	prev, signedIn := s.session.CurrentUserID()

	claims, err := s.session.SignIn(token)
	if err != nil {
		log.WarnContext(ctx, "sign in rejected", "err", err)
		return nil, fmt.Errorf("%w: %s", ErrUnauthenticated, err.Error())
	}
	if signedIn && prev != claims.UserID {
		s.clear()
	}

	if err := s.realtime.WatchConversations(ctx, claims.UserID); err != nil {
		return nil, err
	}
	// 首次列表失败不影响登录，列表接口会重试
	if _, err := s.convs.List(ctx); err != nil {
		log.WarnContext(ctx, "initial conversation list failed", "user_id", claims.UserID, "err", err)
	}
	log.InfoContext(ctx, "signed in", "user_id", claims.UserID)
	return claims, nil
}

func (s *sessionServiceImpl) DevSignIn(ctx context.Context, userID string) (string, error) {
	if !s.allowDev {
		return "", ErrUnauthenticated
	}
	if userID == "" {
		return "", ErrParamInvalid
	}
	token, err := s.issuer.GenerateToken(userID)
	if err != nil {
		return "", err
	}
	if _, err := s.SignIn(ctx, token); err != nil {
		return "", err
	}
	return token, nil
}

// SignOut 先上报剩余已读回执，再释放订阅并清空缓存
func (s *sessionServiceImpl) SignOut(ctx context.Context) {
	uid, ok := s.session.CurrentUserID()
	if !ok {
		return
	}
	s.receipts.Flush(ctx)
	s.clear()
	s.session.SignOut()
	log.InfoContext(ctx, "signed out", "user_id", uid)
}

func (s *sessionServiceImpl) clear() {
	s.realtime.Reset()
	s.cache.Reset()
	s.convs.Reset()
}

func (s *sessionServiceImpl) CurrentUserID() (string, bool) {
	return s.session.CurrentUserID()
}

func (s *sessionServiceImpl) Token() string {
	return s.session.Token()
}
