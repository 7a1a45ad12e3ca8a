package model

import (
	"slices"
	"time"
)

type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

// MessageSnapshot 会话列表中的最后一条消息
type MessageSnapshot struct {
	ID        string      `json:"id"`
	SenderID  string      `json:"senderId"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	CreatedAt time.Time   `json:"createdAt"`
	IsDeleted bool        `json:"isDeleted,omitempty"`
}

// Conversation 客户端视角的会话，由 cache 层持有
// 客户端从不硬删除，服务端 DELETE 事件只会归档
type Conversation struct {
	ID             string           `json:"id"`
	Type           ConversationType `json:"type"`
	ParticipantIDs []string         `json:"participantIds"`
	LastMessage    *MessageSnapshot `json:"lastMessage,omitempty"`
	UnreadCount    int              `json:"unreadCount"`
	IsMuted        bool             `json:"isMuted"`
	IsPinned       bool             `json:"isPinned"`
	IsArchived     bool             `json:"isArchived"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

func (c *Conversation) HasParticipant(userID string) bool {
	return slices.Contains(c.ParticipantIDs, userID)
}

// Peer 单聊对方
func (c *Conversation) Peer(self string) string {
	for _, id := range c.ParticipantIDs {
		if id != self {
			return id
		}
	}
	return ""
}

func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.ParticipantIDs = slices.Clone(c.ParticipantIDs)
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return &out
}

// MembershipPatch 会话成员设置的局部更新，nil 表示不修改
type MembershipPatch struct {
	IsMuted    *bool `json:"isMuted,omitempty"`
	IsPinned   *bool `json:"isPinned,omitempty"`
	IsArchived *bool `json:"isArchived,omitempty"`
}

func (p MembershipPatch) Apply(c *Conversation) {
	if p.IsMuted != nil {
		c.IsMuted = *p.IsMuted
	}
	if p.IsPinned != nil {
		c.IsPinned = *p.IsPinned
	}
	if p.IsArchived != nil {
		c.IsArchived = *p.IsArchived
	}
}

// ConversationRecord 会话主表
type ConversationRecord struct {
	ID             string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Type           string     `gorm:"type:varchar(16);not null;default:'direct'" json:"type"`
	PeerKey        *string    `gorm:"uniqueIndex;type:varchar(80)" json:"peerKey"` // 单聊 uid1_uid2，群聊为空
	MaxMsgSeq      uint64     `gorm:"not null;default:0" json:"maxMsgSeq"`
	LastMsgID      string     `gorm:"type:varchar(36)" json:"lastMsgId"`
	LastMsgContent string     `gorm:"type:varchar(255)" json:"lastMsgContent"`
	LastMsgType    string     `gorm:"type:varchar(16)" json:"lastMsgType"`
	LastSenderID   string     `gorm:"type:varchar(36)" json:"lastSenderId"`
	LastMessageAt  *time.Time `gorm:"index" json:"lastMessageAt"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func (ConversationRecord) TableName() string { return "conversations" }

// ConversationMember 会话成员表
type ConversationMember struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID string    `gorm:"type:varchar(36);uniqueIndex:idx_conv_user" json:"conversationId"`
	UserID         string    `gorm:"type:varchar(36);uniqueIndex:idx_conv_user;index" json:"userId"`
	ReadMsgSeq     uint64    `gorm:"not null;default:0" json:"readMsgSeq"` // 已读进度
	IsMuted        int8      `gorm:"not null;default:0" json:"isMuted"`
	IsPinned       int8      `gorm:"not null;default:0" json:"isPinned"`
	IsArchived     int8      `gorm:"not null;default:0;index" json:"isArchived"`
	JoinedAt       time.Time `json:"joinedAt"`

	Conversation ConversationRecord `gorm:"foreignKey:ConversationID;references:ID" json:"conversation"`

	// 虚拟字段：仅读不写
	UnreadCount uint64 `gorm:"->" json:"unreadCount"`
}

func (ConversationMember) TableName() string { return "conversation_members" }
