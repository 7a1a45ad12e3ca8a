package model

import "time"

// OrphanUpload 上传取消后删除失败的对象，由定时任务补偿清理
type OrphanUpload struct {
	Path           string    `json:"path"`
	ConversationID string    `json:"conversationId"`
	RecordedAt     time.Time `json:"recordedAt"`
}
