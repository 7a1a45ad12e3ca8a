package realtime

import (
	"context"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

// KafkaOptions 推送走单个 topic，逻辑 topic 放在消息 key 里
type KafkaOptions struct {
	Brokers  []string
	Topic    string
	GroupID  string
	Username string
	Password string
	// 会话与心跳，单位秒，0 使用 sarama 默认值
	SessionTimeout    int
	HeartbeatInterval int
}

// KafkaChannel 基于 Kafka 的推送通道。
// 每个进程使用独立的消费组从最新位点读取全部事件，再按 key 在本地分发。
type KafkaChannel struct {
	*channel
	producer sarama.SyncProducer
	group    sarama.ConsumerGroup
	topic    string
	hub      *hub

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

type kafkaTransport struct {
	c *KafkaChannel
}

// newSaramaConfig 统一初始化生产者与消费组配置
func newSaramaConfig(opts KafkaOptions) *sarama.Config {
	c := sarama.NewConfig()
	if opts.Username != "" {
		c.Net.SASL.Enable = true
		c.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		c.Net.SASL.User = opts.Username
		c.Net.SASL.Password = opts.Password
	}

	c.Producer.Return.Successes = true
	c.Producer.RequiredAcks = sarama.WaitForLocal

	c.Consumer.Return.Errors = true
	c.Consumer.Offsets.Initial = sarama.OffsetNewest
	if opts.SessionTimeout > 0 {
		c.Consumer.Group.Session.Timeout = time.Duration(opts.SessionTimeout) * time.Second
	}
	if opts.HeartbeatInterval > 0 {
		c.Consumer.Group.Heartbeat.Interval = time.Duration(opts.HeartbeatInterval) * time.Second
	}
	return c
}

func NewKafkaChannel(opts KafkaOptions) (*KafkaChannel, error) {
	cfg := newSaramaConfig(opts)
	producer, err := sarama.NewSyncProducer(opts.Brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	group, err := sarama.NewConsumerGroup(opts.Brokers, opts.GroupID, cfg)
	if err != nil {
		_ = producer.Close()
		return nil, fmt.Errorf("kafka consumer group: %w", err)
	}
	c := newKafkaChannel(producer, group, opts.Topic)
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.consume(ctx)
	return c, nil
}

func newKafkaChannel(producer sarama.SyncProducer, group sarama.ConsumerGroup, topic string) *KafkaChannel {
	c := &KafkaChannel{
		producer: producer,
		group:    group,
		topic:    topic,
		hub:      newHub(),
		done:     make(chan struct{}),
	}
	c.channel = &channel{t: &kafkaTransport{c: c}}
	return c
}

func (c *KafkaChannel) consume(ctx context.Context) {
	defer close(c.done)
	go func() {
		for err := range c.group.Errors() {
			log.Warn("kafka consumer error", "err", err)
		}
	}()
	log.Info("kafka realtime consumer started", "topic", c.topic)
	for {
		if err := c.group.Consume(ctx, []string{c.topic}, c); err != nil {
			log.Error("Error from consumer", "err", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (c *KafkaChannel) Setup(sarama.ConsumerGroupSession) error {
	log.Info("kafka realtime consumer setup")
	return nil
}

func (c *KafkaChannel) Cleanup(sarama.ConsumerGroupSession) error {
	log.Info("kafka realtime consumer cleanup")
	return nil
}

func (c *KafkaChannel) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			c.deliver(msg)
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (c *KafkaChannel) deliver(msg *sarama.ConsumerMessage) {
	if len(msg.Key) == 0 {
		log.Warn("kafka realtime message without key", "partition", msg.Partition, "offset", msg.Offset)
		return
	}
	c.hub.dispatch(string(msg.Key), msg.Value)
}

func (t *kafkaTransport) subscribe(_ context.Context, topic string, fn func([]byte)) (Unsubscribe, error) {
	id, _ := t.c.hub.add(topic, fn)
	var once sync.Once
	return func() {
		once.Do(func() { t.c.hub.remove(topic, id) })
	}, nil
}

func (t *kafkaTransport) publish(ctx context.Context, topic string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := t.c.producer.SendMessage(&sarama.ProducerMessage{
		Topic: t.c.topic,
		Key:   sarama.StringEncoder(topic),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("kafka publish %s: %w", topic, err)
	}
	return nil
}

// Close 停止消费并关闭生产者
func (c *KafkaChannel) Close() error {
	var err error
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		if c.group != nil {
			err = c.group.Close()
		}
		if c.cancel != nil {
			<-c.done
		}
		if perr := c.producer.Close(); perr != nil && err == nil {
			err = perr
		}
	})
	return err
}
