package dto

// Event 推送给 UI 的变更帧
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

const (
	EventMessage      = "message"
	EventMessageState = "message_state"
	EventReset        = "reset"
	EventConversation = "conversation"
	EventTyping       = "typing"
)

// MessageEventDTO tempId 用于 UI 把乐观消息映射到确认后的主键
type MessageEventDTO struct {
	Kind    string      `json:"kind"`
	TempID  string      `json:"tempId,omitempty"`
	Message *MessageDTO `json:"message,omitempty"`
}

type TypingEventDTO struct {
	ConversationID string   `json:"conversationId"`
	UserIDs        []string `json:"userIds"`
}
