package realtime

import (
	"context"
	"slices"
	"sync"
)

// 只保留最近的发布记录
const publishedLimit = 128

// MemoryChannel 进程内推送通道，发布同步投递
type MemoryChannel struct {
	*channel
	hub *hub

	mu   sync.Mutex
	sent []string
}

type memTransport struct {
	c *MemoryChannel
}

func NewMemoryChannel() *MemoryChannel {
	c := &MemoryChannel{hub: newHub()}
	c.channel = &channel{t: &memTransport{c: c}}
	return c
}

func (t *memTransport) subscribe(_ context.Context, topic string, fn func([]byte)) (Unsubscribe, error) {
	id, _ := t.c.hub.add(topic, fn)
	var once sync.Once
	return func() {
		once.Do(func() { t.c.hub.remove(topic, id) })
	}, nil
}

func (t *memTransport) publish(ctx context.Context, topic string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.c.record(topic)
	t.c.hub.dispatch(topic, data)
	return nil
}

func (c *MemoryChannel) record(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == publishedLimit {
		copy(c.sent, c.sent[1:])
		c.sent[len(c.sent)-1] = topic
		return
	}
	c.sent = append(c.sent, topic)
}

// Subscribers 某个会话 topic 上的订阅数
func (c *MemoryChannel) Subscribers(conversationID string) int {
	return c.hub.count(conversationTopic(conversationID))
}

func (c *MemoryChannel) UserSubscribers(userID string) int {
	return c.hub.count(userTopic(userID))
}

// Published 最近发布的 topic，最多 publishedLimit 条
func (c *MemoryChannel) Published() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.sent)
}
