package realtime

import (
	"context"
	"fmt"
	log "log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisChannel 基于 Redis Pub/Sub 的推送通道。
// 进程内共享一个 PubSub 连接，topic 的第一个订阅者到来时 SUBSCRIBE，最后一个离开时 UNSUBSCRIBE。
type RedisChannel struct {
	*channel
	rdb *redis.Client
	ps  *redis.PubSub
	hub *hub

	mu   sync.Mutex
	done chan struct{}
	once sync.Once
}

type redisTransport struct {
	c *RedisChannel
}

func NewRedisChannel(ctx context.Context, rdb *redis.Client) *RedisChannel {
	c := &RedisChannel{
		rdb:  rdb,
		ps:   rdb.Subscribe(ctx),
		hub:  newHub(),
		done: make(chan struct{}),
	}
	c.channel = &channel{t: &redisTransport{c: c}}
	go c.receive()
	return c
}

func (c *RedisChannel) receive() {
	defer close(c.done)
	for msg := range c.ps.Channel() {
		c.hub.dispatch(msg.Channel, []byte(msg.Payload))
	}
	log.Info("redis realtime receiver stopped")
}

func (t *redisTransport) subscribe(ctx context.Context, topic string, fn func([]byte)) (Unsubscribe, error) {
	c := t.c
	c.mu.Lock()
	defer c.mu.Unlock()
	id, first := c.hub.add(topic, fn)
	if first {
		if err := c.ps.Subscribe(ctx, topic); err != nil {
			c.hub.remove(topic, id)
			return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.hub.remove(topic, id) {
				if err := c.ps.Unsubscribe(context.Background(), topic); err != nil {
					log.Warn("redis unsubscribe failed", "topic", topic, "err", err)
				}
			}
		})
	}, nil
}

func (t *redisTransport) publish(ctx context.Context, topic string, data []byte) error {
	if err := t.c.rdb.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

// Close 关闭 PubSub 连接并等待接收协程退出
func (c *RedisChannel) Close() error {
	var err error
	c.once.Do(func() {
		err = c.ps.Close()
		<-c.done
	})
	return err
}
