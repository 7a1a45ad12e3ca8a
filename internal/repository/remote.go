package repository

import (
	"Parley/internal/model"
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("记录不存在")
	ErrCursorNotFound = errors.New("分页游标不存在")
	ErrNotMember      = errors.New("不是会话成员")
)

// MessageQuery 拉取一页历史消息
// BeforeID 与 Before 都为空时拉取最新一页；BeforeID 找不到时退回到 Before
type MessageQuery struct {
	ConversationID string
	PageSize       int
	BeforeID       string
	Before         time.Time
}

// MessagePage 一页消息，按 (createdAt, id) 升序
type MessagePage struct {
	Messages []*model.Message
	HasMore  bool
}

// RemoteRepo 远端数据源，行级权限由远端保证
type RemoteRepo interface {
	FetchMessages(ctx context.Context, q MessageQuery) (*MessagePage, error)
	// InsertMessage 插入消息并返回服务端确认后的记录，TempID 相同的重复插入返回同一条记录
	InsertMessage(ctx context.Context, msg *model.Message) (*model.Message, error)
	MarkMessagesRead(ctx context.Context, userID, conversationID string, messageIDs []string) error

	FetchConversations(ctx context.Context, userID string) ([]*model.Conversation, error)
	FetchConversation(ctx context.Context, userID, conversationID string) (*model.Conversation, error)
	CreateOrGetConversation(ctx context.Context, userID, otherUserID string) (*model.Conversation, error)
	UpdateMembership(ctx context.Context, userID, conversationID string, patch model.MembershipPatch) error
}

// PeerKey 单聊会话的唯一标识 min_max
func PeerKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "_" + b
}
