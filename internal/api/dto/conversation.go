package dto

import "time"

type OpenDirectReq struct {
	UserID string `json:"userId" validate:"required,max=64"`
}

type MembershipReq struct {
	IsMuted    *bool `json:"isMuted"`
	IsPinned   *bool `json:"isPinned"`
	IsArchived *bool `json:"isArchived"`
}

type TypingReq struct {
	IsTyping bool `json:"isTyping"`
}

type MessageSnapshotDTO struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
	IsDeleted bool      `json:"isDeleted,omitempty"`
}

// ConversationDTO 会话列表项
type ConversationDTO struct {
	ID             string              `json:"id"`
	Type           string              `json:"type"`
	ParticipantIDs []string            `json:"participantIds"`
	PeerID         string              `json:"peerId,omitempty"`
	LastMessage    *MessageSnapshotDTO `json:"lastMessage,omitempty"`
	UnreadCount    int                 `json:"unreadCount"`
	IsMuted        bool                `json:"isMuted"`
	IsPinned       bool                `json:"isPinned"`
	IsArchived     bool                `json:"isArchived"`
	UpdatedAt      time.Time           `json:"updatedAt"`
	Typing         []string            `json:"typing,omitempty"`
}
