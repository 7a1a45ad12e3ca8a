package model

import (
	"slices"
	"time"
)

// MessageType 消息类型
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageVideo  MessageType = "video"
	MessageAudio  MessageType = "audio"
	MessageFile   MessageType = "file"
	MessageLink   MessageType = "link"
	MessageCoupon MessageType = "coupon"
	MessageDeal   MessageType = "deal"
)

// IsMedia 需要走上传流程的类型
func (t MessageType) IsMedia() bool {
	switch t {
	case MessageImage, MessageVideo, MessageAudio, MessageFile:
		return true
	}
	return false
}

// DeliveryStatus 投递状态，只能前进
type DeliveryStatus string

const (
	StatusNone      DeliveryStatus = ""
	StatusSending   DeliveryStatus = "sending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

func (s DeliveryStatus) Rank() int {
	switch s {
	case StatusSending:
		return 1
	case StatusSent:
		return 2
	case StatusDelivered:
		return 3
	case StatusRead:
		return 4
	}
	return 0
}

// SendState 本地发送状态机
// Sending -> Confirmed, Sending -> Failed, Failed -> Sending (重试)
type SendState int8

const (
	StateConfirmed SendState = iota
	StateSending
	StateFailed
)

func (s SendState) String() string {
	switch s {
	case StateSending:
		return "sending"
	case StateFailed:
		return "failed"
	}
	return "confirmed"
}

// LinkPreview 链接预览
type LinkPreview struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
	SiteName    string `json:"siteName,omitempty"`
}

// Message 客户端视角的消息
// 未确认前以 TempID 为主键，确认后以 ID 为主键，切换只发生一次
type Message struct {
	ID             string         `json:"id,omitempty"`
	TempID         string         `json:"tempId,omitempty"`
	ConversationID string         `json:"conversationId"`
	SenderID       string         `json:"senderId"`
	Content        string         `json:"content"`
	Type           MessageType    `json:"type"`
	MediaURLs      []string       `json:"mediaUrls,omitempty"`
	ThumbnailURL   string         `json:"thumbnailUrl,omitempty"`
	LinkPreviews   []LinkPreview  `json:"linkPreviews,omitempty"`
	ReplyToID      string         `json:"replyToId,omitempty"`
	Reactions      ReactionSet    `json:"reactions,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	IsEdited       bool           `json:"isEdited"`
	IsDeleted      bool           `json:"isDeleted"`
	DeliveryStatus DeliveryStatus `json:"deliveryStatus,omitempty"`

	// 仅客户端
	State          SendState `json:"-"`
	UploadProgress *int      `json:"uploadProgress,omitempty"`
}

// Key 当前主键
func (m *Message) Key() string {
	if m.State == StateConfirmed && m.ID != "" {
		return m.ID
	}
	if m.TempID != "" {
		return m.TempID
	}
	return m.ID
}

func (m *Message) Optimistic() bool { return m.State != StateConfirmed }

func (m *Message) Failed() bool { return m.State == StateFailed }

func (m *Message) Progress() (int, bool) {
	if m.UploadProgress == nil {
		return 0, false
	}
	return *m.UploadProgress, true
}

func (m *Message) SetProgress(p int) {
	p = max(0, min(100, p))
	m.UploadProgress = &p
}

// Clone 深拷贝，store 对外只暴露副本
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.MediaURLs = slices.Clone(m.MediaURLs)
	c.LinkPreviews = slices.Clone(m.LinkPreviews)
	c.Reactions = m.Reactions.Clone()
	if m.UploadProgress != nil {
		p := *m.UploadProgress
		c.UploadProgress = &p
	}
	return &c
}

// Snapshot 会话列表中展示的最后一条消息，已删除的消息不保留内容
func (m *Message) Snapshot() *MessageSnapshot {
	s := &MessageSnapshot{
		ID:        m.ID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Type:      m.Type,
		CreatedAt: m.CreatedAt,
	}
	if m.IsDeleted {
		s.Content = ""
		s.IsDeleted = true
	}
	return s
}

// Before 按 (createdAt, id) 排序
func (m *Message) Before(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}
