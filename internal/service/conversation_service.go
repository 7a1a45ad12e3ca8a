package service

import (
	"Parley/internal/cache"
	"Parley/internal/model"
	"Parley/internal/pkg/security"
	"Parley/internal/realtime"
	"Parley/internal/repository"
	"context"
	"errors"
	log "log/slog"
)

// ConversationService 会话的打开、列表与成员设置
type ConversationService interface {
	List(ctx context.Context) ([]*model.Conversation, error)
	Get(ctx context.Context, conversationID string) (*model.Conversation, error)
	// OpenDirect 与对方的单聊，已存在则直接返回
	OpenDirect(ctx context.Context, otherUserID string) (*model.Conversation, error)
	// Enter 打开会话视图：订阅推送并返回当前消息
	Enter(ctx context.Context, conversationID string) ([]*model.Message, error)
	Leave(conversationID string)
	Messages(ctx context.Context, conversationID string) ([]*model.Message, error)
	LoadOlder(ctx context.Context, conversationID string) (int, error)
	// PageState 分页与加载状态
	PageState(conversationID string) cache.PageState
	UpdateMembership(ctx context.Context, conversationID string, patch model.MembershipPatch) error
	ToggleReaction(ctx context.Context, conversationID, messageKey, emoji string) error
	SetTyping(ctx context.Context, conversationID string, isTyping bool) error
}

type conversationServiceImpl struct {
	auth     security.AuthContext
	remote   repository.RemoteRepo
	cache    *cache.QueryCache
	convs    *cache.Conversations
	realtime *realtime.Manager
}

func NewConversationService(auth security.AuthContext, remote repository.RemoteRepo, qc *cache.QueryCache, convs *cache.Conversations, rt *realtime.Manager) ConversationService {
	return &conversationServiceImpl{auth: auth, remote: remote, cache: qc, convs: convs, realtime: rt}
}

func (s *conversationServiceImpl) self() (string, error) {
	uid, ok := s.auth.CurrentUserID()
	if !ok {
		return "", ErrUnauthenticated
	}
	return uid, nil
}

func (s *conversationServiceImpl) List(ctx context.Context) ([]*model.Conversation, error) {
	if _, err := s.self(); err != nil {
		return nil, err
	}
	return s.convs.List(ctx)
}

func (s *conversationServiceImpl) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	if _, err := s.self(); err != nil {
		return nil, err
	}
	conv, err := s.convs.Get(ctx, conversationID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	return conv, err
}

func (s *conversationServiceImpl) OpenDirect(ctx context.Context, otherUserID string) (*model.Conversation, error) {
	self, err := s.self()
	if err != nil {
		return nil, err
	}
	if otherUserID == "" || otherUserID == self {
		return nil, ErrTargetUserInvalid
	}
	conv, err := s.remote.CreateOrGetConversation(ctx, self, otherUserID)
	if err != nil {
		return nil, err
	}
	s.convs.Upsert(conv)
	return conv, nil
}

func (s *conversationServiceImpl) Enter(ctx context.Context, conversationID string) ([]*model.Message, error) {
	if _, err := s.Get(ctx, conversationID); err != nil {
		return nil, err
	}
	if err := s.realtime.Open(ctx, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.cache.Messages(ctx, conversationID)
	if err != nil {
		// 订阅保留，视图可以带着错误状态重试
		log.WarnContext(ctx, "load messages failed", "conversation_id", conversationID, "err", err)
	}
	return msgs, err
}

func (s *conversationServiceImpl) Leave(conversationID string) {
	s.realtime.Close(conversationID)
}

func (s *conversationServiceImpl) Messages(ctx context.Context, conversationID string) ([]*model.Message, error) {
	if _, err := s.self(); err != nil {
		return nil, err
	}
	return s.cache.Messages(ctx, conversationID)
}

func (s *conversationServiceImpl) LoadOlder(ctx context.Context, conversationID string) (int, error) {
	if _, err := s.self(); err != nil {
		return 0, err
	}
	return s.cache.LoadOlder(ctx, conversationID)
}

func (s *conversationServiceImpl) PageState(conversationID string) cache.PageState {
	return s.cache.State(conversationID)
}

func (s *conversationServiceImpl) UpdateMembership(ctx context.Context, conversationID string, patch model.MembershipPatch) error {
	self, err := s.self()
	if err != nil {
		return err
	}
	if patch.IsMuted == nil && patch.IsPinned == nil && patch.IsArchived == nil {
		return ErrParamInvalid
	}
	if err := s.remote.UpdateMembership(ctx, self, conversationID, patch); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrConversationNotFound
		}
		return err
	}
	s.convs.ApplyMembership(conversationID, patch)
	return nil
}

func (s *conversationServiceImpl) ToggleReaction(_ context.Context, conversationID, messageKey, emoji string) error {
	self, err := s.self()
	if err != nil {
		return err
	}
	if emoji == "" {
		return ErrParamInvalid
	}
	if !s.cache.Store().ToggleReaction(conversationID, messageKey, self, emoji) {
		return ErrMessageNotFound
	}
	return nil
}

func (s *conversationServiceImpl) SetTyping(ctx context.Context, conversationID string, isTyping bool) error {
	return s.realtime.SetTyping(ctx, conversationID, isTyping)
}
