package mongo

import (
	"time"
)

// Message MongoDB 消息明细模型
type Message struct {
	ID             string        `bson:"_id" json:"id"`
	ConversationID string        `bson:"conversation_id" json:"conversationId"` // 关联 MySQL 的会话 ID
	SenderID       string        `bson:"sender_id" json:"senderId"`
	ClientID       string        `bson:"client_id,omitempty" json:"clientId"` // 客户端 tempId，用于重试去重
	MsgType        string        `bson:"msg_type" json:"msgType"`
	Content        string        `bson:"content" json:"content"`
	Payload        []Payload     `bson:"payload,omitempty" json:"payload"`
	ThumbnailURL   string        `bson:"thumbnail_url,omitempty" json:"thumbnailUrl"`
	LinkPreviews   []LinkPreview `bson:"link_previews,omitempty" json:"linkPreviews"`
	Seq            uint64        `bson:"seq" json:"seq"` // 会话内绝对序号 (来自 MySQL)
	ReplyTo        string        `bson:"reply_to,omitempty" json:"replyTo"`
	IsEdited       bool          `bson:"is_edited" json:"isEdited"`
	IsDeleted      bool          `bson:"is_deleted" json:"isDeleted"`
	CreatedAt      time.Time     `bson:"created_at" json:"createdAt"`
	UpdatedAt      time.Time     `bson:"updated_at" json:"updatedAt"`
}

// Payload 附件
type Payload struct {
	MediaURL string `bson:"url" json:"url"`
}

type LinkPreview struct {
	URL         string `bson:"url" json:"url"`
	Title       string `bson:"title" json:"title"`
	Description string `bson:"description,omitempty" json:"description"`
	ImageURL    string `bson:"image_url,omitempty" json:"imageUrl"`
	SiteName    string `bson:"site_name,omitempty" json:"siteName"`
}
