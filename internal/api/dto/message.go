package dto

import "time"

// SendMessageReq JSON 发送；附件走 multipart，字段同名
type SendMessageReq struct {
	Content   string `json:"content" form:"content" validate:"max=4000"`
	Type      string `json:"type" form:"type" validate:"omitempty,msgtype"`
	ReplyToID string `json:"replyToId" form:"replyToId"`
	// Async 为 true 时立即返回乐观消息
	Async bool `json:"async" form:"async"`
}

type MarkReadReq struct {
	MessageIDs []string `json:"messageIds" validate:"required,min=1,max=200,dive,required"`
}

type ReactionReq struct {
	Emoji string `json:"emoji" validate:"required,reaction"`
}

type LinkPreviewDTO struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
	SiteName    string `json:"siteName,omitempty"`
}

// MessageDTO 消息视图，key 为当前主键
type MessageDTO struct {
	Key            string              `json:"key"`
	ID             string              `json:"id,omitempty"`
	TempID         string              `json:"tempId,omitempty"`
	ConversationID string              `json:"conversationId"`
	SenderID       string              `json:"senderId"`
	Content        string              `json:"content"`
	Type           string              `json:"type"`
	MediaURLs      []string            `json:"mediaUrls,omitempty"`
	ThumbnailURL   string              `json:"thumbnailUrl,omitempty"`
	LinkPreviews   []LinkPreviewDTO    `json:"linkPreviews,omitempty"`
	ReplyToID      string              `json:"replyToId,omitempty"`
	Reactions      map[string][]string `json:"reactions,omitempty"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
	IsEdited       bool                `json:"isEdited"`
	IsDeleted      bool                `json:"isDeleted"`
	DeliveryStatus string              `json:"deliveryStatus,omitempty"`
	State          string              `json:"state"`
	UploadProgress *int                `json:"uploadProgress,omitempty"`
}

type MessagePageDTO struct {
	Messages []*MessageDTO `json:"messages"`
	HasMore  bool          `json:"hasMore"`
	Loaded   int           `json:"loaded,omitempty"`
}
