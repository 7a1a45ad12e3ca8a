package repository

import (
	"Parley/internal/model"
	"context"
	"time"

	"gorm.io/gorm"
)

type ConversationRepo interface {
	CreateConversation(ctx context.Context, conv *model.ConversationRecord, members []*model.ConversationMember) error
	GetConversationByPeerKey(ctx context.Context, peerKey string) (*model.ConversationRecord, error)
	IsMember(ctx context.Context, convID, userID string) (bool, error)
	ListMemberIDs(ctx context.Context, convIDs []string) (map[string][]string, error)

	UpdateReadSeq(ctx context.Context, convID, userID string, seq uint64) error
	IncrMaxSeq(ctx context.Context, convID string, last *model.Message) (uint64, error)
	UpdateMembership(ctx context.Context, convID, userID string, patch model.MembershipPatch) error

	GetUserConversationMemList(ctx context.Context, userID string) ([]*model.ConversationMember, error)
	GetUserConversationMem(ctx context.Context, userID, convID string) (*model.ConversationMember, error)
}

type conversationRepoImpl struct {
	db *gorm.DB
}

func NewConversationRepo(db *gorm.DB) ConversationRepo {
	return &conversationRepoImpl{db: db}
}

// CreateConversation 开启事务创建会话及初始成员
func (s *conversationRepoImpl) CreateConversation(ctx context.Context, conv *model.ConversationRecord, members []*model.ConversationMember) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		for _, m := range members {
			m.ConversationID = conv.ID
			m.JoinedAt = time.Now()
			if err := tx.Create(m).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetConversationByPeerKey 根据会话标识获取会话
func (s *conversationRepoImpl) GetConversationByPeerKey(ctx context.Context, peerKey string) (*model.ConversationRecord, error) {
	var conv model.ConversationRecord
	err := s.db.WithContext(ctx).Where("peer_key = ?", peerKey).First(&conv).Error
	return &conv, err
}

// IsMember 检查用户是否是会话成员
func (s *conversationRepoImpl) IsMember(ctx context.Context, convID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Count(&count).Error
	return count > 0, err
}

// ListMemberIDs 批量获取会话成员
func (s *conversationRepoImpl) ListMemberIDs(ctx context.Context, convIDs []string) (map[string][]string, error) {
	type row struct {
		ConversationID string
		UserID         string
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&model.ConversationMember{}).
		Select("conversation_id, user_id").
		Where("conversation_id IN ?", convIDs).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(convIDs))
	for _, r := range rows {
		out[r.ConversationID] = append(out[r.ConversationID], r.UserID)
	}
	return out, nil
}

// UpdateReadSeq 已读进度只前进
func (s *conversationRepoImpl) UpdateReadSeq(ctx context.Context, convID, userID string, seq uint64) error {
	return s.db.WithContext(ctx).Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ? AND read_msg_seq < ?", convID, userID, seq).
		Update("read_msg_seq", seq).Error
}

// IncrMaxSeq 利用 MySQL 行锁确保 Seq 绝对递增，同时刷新会话预览
func (s *conversationRepoImpl) IncrMaxSeq(ctx context.Context, convID string, last *model.Message) (uint64, error) {
	var maxSeq uint64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.ConversationRecord{}).Where("id = ?", convID).
			Updates(map[string]interface{}{
				"max_msg_seq":      gorm.Expr("max_msg_seq + 1"),
				"last_msg_id":      last.ID,
				"last_msg_content": truncate(last.Content, 255),
				"last_msg_type":    string(last.Type),
				"last_sender_id":   last.SenderID,
				"last_message_at":  last.CreatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		// 新消息让归档的会话重新出现
		if err := tx.Model(&model.ConversationMember{}).
			Where("conversation_id = ?", convID).
			Update("is_archived", 0).Error; err != nil {
			return err
		}
		return tx.Model(&model.ConversationRecord{}).Select("max_msg_seq").Where("id = ?", convID).Scan(&maxSeq).Error
	})
	if err != nil {
		return 0, err
	}
	// 发送者自己的已读进度跟随
	return maxSeq, s.UpdateReadSeq(ctx, convID, last.SenderID, maxSeq)
}

// UpdateMembership 局部更新成员设置
func (s *conversationRepoImpl) UpdateMembership(ctx context.Context, convID, userID string, patch model.MembershipPatch) error {
	updates := make(map[string]interface{}, 3)
	if patch.IsMuted != nil {
		updates["is_muted"] = boolToInt8(*patch.IsMuted)
	}
	if patch.IsPinned != nil {
		updates["is_pinned"] = boolToInt8(*patch.IsPinned)
	}
	if patch.IsArchived != nil {
		updates["is_archived"] = boolToInt8(*patch.IsArchived)
	}
	if len(updates) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		ok, err := s.IsMember(ctx, convID, userID)
		if err != nil {
			return err
		}
		if !ok {
			return gorm.ErrRecordNotFound
		}
	}
	return nil
}

func (s *conversationRepoImpl) memberQuery(ctx context.Context) *gorm.DB {
	// 使用 Conversation__ 别名配合 GORM 的嵌套填充特性
	return s.db.WithContext(ctx).Table("conversation_members m").
		Select("m.*, " +
			"c.id AS `Conversation__id`, c.type AS `Conversation__type`, " +
			"c.peer_key AS `Conversation__peer_key`, " +
			"c.max_msg_seq AS `Conversation__max_msg_seq`, " +
			"c.last_msg_id AS `Conversation__last_msg_id`, " +
			"c.last_msg_content AS `Conversation__last_msg_content`, " +
			"c.last_msg_type AS `Conversation__last_msg_type`, " +
			"c.last_sender_id AS `Conversation__last_sender_id`, " +
			"c.last_message_at AS `Conversation__last_message_at`, " +
			"c.updated_at AS `Conversation__updated_at`, " +
			"(CASE WHEN c.max_msg_seq > m.read_msg_seq THEN c.max_msg_seq - m.read_msg_seq ELSE 0 END) AS unread_count").
		Joins("JOIN conversations c ON m.conversation_id = c.id")
}

// GetUserConversationMemList 联表查询，置顶优先，其次按最后消息时间
func (s *conversationRepoImpl) GetUserConversationMemList(ctx context.Context, userID string) ([]*model.ConversationMember, error) {
	var members []*model.ConversationMember
	err := s.memberQuery(ctx).
		Where("m.user_id = ?", userID).
		Order("m.is_pinned DESC, c.last_message_at DESC").
		Find(&members).Error
	return members, err
}

func (s *conversationRepoImpl) GetUserConversationMem(ctx context.Context, userID, convID string) (*model.ConversationMember, error) {
	var member model.ConversationMember
	err := s.memberQuery(ctx).
		Where("m.user_id = ? AND m.conversation_id = ?", userID, convID).
		Take(&member).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func boolToInt8(b bool) int8 {
	if b {
		return 1
	}
	return 0
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
