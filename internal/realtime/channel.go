package realtime

import (
	"Parley/internal/cache"
	"Parley/internal/model"
	"Parley/internal/pkg/consts"
	"context"
	"fmt"
	log "log/slog"
	"time"

	"github.com/goccy/go-json"
)

type Unsubscribe func()

// ReadReceipt 某个用户读到了哪些消息
type ReadReceipt struct {
	ConversationID string    `json:"conversationId"`
	ReaderID       string    `json:"readerId"`
	MessageIDs     []string  `json:"messageIds"`
	ReadAt         time.Time `json:"readAt"`
}

type Typing struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// ConversationChange 会话列表推送
type ConversationChange struct {
	Op           cache.ListOp        `json:"op"`
	Conversation *model.Conversation `json:"conversation"`
}

// Channel 推送通道，投递语义为至少一次
type Channel interface {
	SubscribeToMessages(ctx context.Context, conversationID string, fn func(*model.Message)) (Unsubscribe, error)
	SubscribeToMessageUpdates(ctx context.Context, conversationID string, fn func(*model.Message)) (Unsubscribe, error)
	SubscribeToReadReceipts(ctx context.Context, conversationID string, fn func(ReadReceipt)) (Unsubscribe, error)
	SubscribeToTyping(ctx context.Context, conversationID string, fn func(Typing)) (Unsubscribe, error)
	BroadcastTyping(ctx context.Context, t Typing) error
	SubscribeToConversationList(ctx context.Context, userID string, fn func(ConversationChange)) (Unsubscribe, error)
}

// Publisher 推送的生产端，自建后端与内存后端使用
type Publisher interface {
	PublishMessage(ctx context.Context, msg *model.Message) error
	PublishMessageUpdate(ctx context.Context, msg *model.Message) error
	PublishReadReceipt(ctx context.Context, r ReadReceipt) error
	PublishConversation(ctx context.Context, userID string, change ConversationChange) error
}

// envelope 通道上的统一格式
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// transport 按 topic 收发原始字节
type transport interface {
	subscribe(ctx context.Context, topic string, fn func([]byte)) (Unsubscribe, error)
	publish(ctx context.Context, topic string, data []byte) error
}

func conversationTopic(id string) string { return consts.ConversationChannelKey + id }

func userTopic(id string) string { return consts.UserChannelKey + id }

// channel 在 transport 之上实现事件编解码
type channel struct {
	t transport
}

func subscribeEvent[T any](ctx context.Context, t transport, topic, event string, fn func(T)) (Unsubscribe, error) {
	return t.subscribe(ctx, topic, func(raw []byte) {
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Warn("drop malformed realtime frame", "topic", topic, "err", err)
			return
		}
		if env.Event != event {
			return
		}
		var v T
		if err := json.Unmarshal(env.Data, &v); err != nil {
			log.Warn("drop malformed realtime payload", "topic", topic, "event", event, "err", err)
			return
		}
		fn(v)
	})
}

func (c *channel) send(ctx context.Context, topic, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	raw, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return c.t.publish(ctx, topic, raw)
}

func (c *channel) SubscribeToMessages(ctx context.Context, conversationID string, fn func(*model.Message)) (Unsubscribe, error) {
	return subscribeEvent(ctx, c.t, conversationTopic(conversationID), consts.EventMessageInsert, func(m *model.Message) {
		if m != nil {
			fn(m)
		}
	})
}

func (c *channel) SubscribeToMessageUpdates(ctx context.Context, conversationID string, fn func(*model.Message)) (Unsubscribe, error) {
	return subscribeEvent(ctx, c.t, conversationTopic(conversationID), consts.EventMessageUpdate, func(m *model.Message) {
		if m != nil {
			fn(m)
		}
	})
}

func (c *channel) SubscribeToReadReceipts(ctx context.Context, conversationID string, fn func(ReadReceipt)) (Unsubscribe, error) {
	return subscribeEvent(ctx, c.t, conversationTopic(conversationID), consts.EventReadReceipt, fn)
}

func (c *channel) SubscribeToTyping(ctx context.Context, conversationID string, fn func(Typing)) (Unsubscribe, error) {
	return subscribeEvent(ctx, c.t, conversationTopic(conversationID), consts.EventTyping, fn)
}

func (c *channel) BroadcastTyping(ctx context.Context, t Typing) error {
	return c.send(ctx, conversationTopic(t.ConversationID), consts.EventTyping, t)
}

func (c *channel) SubscribeToConversationList(ctx context.Context, userID string, fn func(ConversationChange)) (Unsubscribe, error) {
	return subscribeEvent(ctx, c.t, userTopic(userID), consts.EventConversationList, func(ch ConversationChange) {
		if ch.Conversation != nil {
			fn(ch)
		}
	})
}

func (c *channel) PublishMessage(ctx context.Context, msg *model.Message) error {
	return c.send(ctx, conversationTopic(msg.ConversationID), consts.EventMessageInsert, msg)
}

func (c *channel) PublishMessageUpdate(ctx context.Context, msg *model.Message) error {
	return c.send(ctx, conversationTopic(msg.ConversationID), consts.EventMessageUpdate, msg)
}

func (c *channel) PublishReadReceipt(ctx context.Context, r ReadReceipt) error {
	return c.send(ctx, conversationTopic(r.ConversationID), consts.EventReadReceipt, r)
}

func (c *channel) PublishConversation(ctx context.Context, userID string, change ConversationChange) error {
	return c.send(ctx, userTopic(userID), consts.EventConversationList, change)
}
