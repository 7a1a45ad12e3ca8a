package realtime

import (
	"Parley/internal/cache"
	"Parley/internal/model"
	"Parley/internal/pkg/metrics"
	"Parley/internal/pkg/security"
	"context"
	"errors"
	log "log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultTypingTTL      = 5 * time.Second
	DefaultTypingInterval = 2 * time.Second
	eventQueueSize        = 256
)

var ErrDisposed = errors.New("推送管理器已关闭")

type eventKind string

const (
	eventInsert  eventKind = "insert"
	eventUpdate  eventKind = "update"
	eventReceipt eventKind = "receipt"
	eventTyping  eventKind = "typing"
	eventList    eventKind = "conversation"
)

// event 归一化后的推送事件，由单个协程按到达顺序应用
type event struct {
	kind           eventKind
	conversationID string
	message        *model.Message
	receipt        ReadReceipt
	typing         Typing
	change         ConversationChange
}

type conversationSub struct {
	refs   int
	unsubs []Unsubscribe
}

type Options struct {
	TypingTTL      time.Duration
	TypingInterval time.Duration
}

// Manager 维护会话与会话列表的订阅，把推送事件写入 cache 与 store
type Manager struct {
	channel  Channel
	messages *cache.QueryCache
	convs    *cache.Conversations
	auth     security.AuthContext
	typing   *typingTracker

	typingInterval time.Duration

	mu       sync.Mutex
	subs     map[string]*conversationSub
	listUser string
	listSub  Unsubscribe
	limiters map[string]*rate.Limiter
	disposed bool

	events chan event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func NewManager(ch Channel, messages *cache.QueryCache, convs *cache.Conversations, auth security.AuthContext, opts Options) *Manager {
	if opts.TypingTTL <= 0 {
		opts.TypingTTL = DefaultTypingTTL
	}
	if opts.TypingInterval <= 0 {
		opts.TypingInterval = DefaultTypingInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		channel:        ch,
		messages:       messages,
		convs:          convs,
		auth:           auth,
		typing:         newTypingTracker(opts.TypingTTL),
		typingInterval: opts.TypingInterval,
		subs:           make(map[string]*conversationSub),
		limiters:       make(map[string]*rate.Limiter),
		events:         make(chan event, eventQueueSize),
		ctx:            ctx,
		cancel:         cancel,
	}
	m.wg.Add(1)
	go m.loop()
	return m
}

// Open 打开会话时订阅，同一会话重复打开只增加引用计数
func (m *Manager) Open(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return ErrDisposed
	}
	if sub, ok := m.subs[conversationID]; ok {
		sub.refs++
		return nil
	}

	sub := &conversationSub{refs: 1}
	steps := []func() (Unsubscribe, error){
		func() (Unsubscribe, error) {
			return m.channel.SubscribeToMessages(ctx, conversationID, func(msg *model.Message) {
				m.enqueue(event{kind: eventInsert, conversationID: conversationID, message: msg})
			})
		},
		func() (Unsubscribe, error) {
			return m.channel.SubscribeToMessageUpdates(ctx, conversationID, func(msg *model.Message) {
				m.enqueue(event{kind: eventUpdate, conversationID: conversationID, message: msg})
			})
		},
		func() (Unsubscribe, error) {
			return m.channel.SubscribeToReadReceipts(ctx, conversationID, func(r ReadReceipt) {
				m.enqueue(event{kind: eventReceipt, conversationID: conversationID, receipt: r})
			})
		},
		func() (Unsubscribe, error) {
			return m.channel.SubscribeToTyping(ctx, conversationID, func(t Typing) {
				m.enqueue(event{kind: eventTyping, conversationID: conversationID, typing: t})
			})
		},
	}
	for _, step := range steps {
		unsub, err := step()
		if err != nil {
			for _, u := range sub.unsubs {
				u()
			}
			return err
		}
		sub.unsubs = append(sub.unsubs, unsub)
	}
	m.subs[conversationID] = sub
	metrics.ActiveSubscriptions.Inc()
	log.Debug("conversation subscribed", "conversation_id", conversationID)
	return nil
}

// Close 引用计数归零时退订并清理输入状态
func (m *Manager) Close(conversationID string) {
	m.mu.Lock()
	sub, ok := m.subs[conversationID]
	if !ok {
		m.mu.Unlock()
		return
	}
	sub.refs--
	if sub.refs > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.subs, conversationID)
	delete(m.limiters, conversationID)
	m.mu.Unlock()

	for _, u := range sub.unsubs {
		u()
	}
	m.typing.clear(conversationID)
	metrics.ActiveSubscriptions.Dec()
	log.Debug("conversation unsubscribed", "conversation_id", conversationID)
}

// Refs 会话当前的引用计数
func (m *Manager) Refs(conversationID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subs[conversationID]; ok {
		return sub.refs
	}
	return 0
}

// WatchConversations 订阅某个用户的会话列表，切换用户时替换旧订阅
func (m *Manager) WatchConversations(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return ErrDisposed
	}
	if m.listSub != nil && m.listUser == userID {
		return nil
	}
	unsub, err := m.channel.SubscribeToConversationList(ctx, userID, func(ch ConversationChange) {
		m.enqueue(event{kind: eventList, change: ch})
	})
	if err != nil {
		return err
	}
	if m.listSub != nil {
		m.listSub()
	}
	m.listSub, m.listUser = unsub, userID
	return nil
}

func (m *Manager) enqueue(ev event) {
	select {
	case m.events <- ev:
	case <-m.ctx.Done():
	}
}

func (m *Manager) loop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case ev := <-m.events:
			m.apply(ev)
		}
	}
}

func (m *Manager) apply(ev event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("apply realtime event panic", "kind", ev.kind, "recover", r)
		}
	}()
	metrics.RealtimeEvents.WithLabelValues(string(ev.kind)).Inc()

	switch ev.kind {
	case eventInsert:
		m.applyInsert(ev.conversationID, ev.message)
	case eventUpdate:
		m.messages.ApplyInbound(ev.conversationID, ev.message)
		if cur, ok := m.messages.Store().Get(ev.conversationID, ev.message.Key()); ok {
			m.convs.OnMessage(cur, false)
		}
	case eventReceipt:
		m.applyReceipt(ev.receipt)
	case eventTyping:
		m.applyTyping(ev.conversationID, ev.typing)
	case eventList:
		if err := m.convs.ApplyChange(m.ctx, ev.change.Op, ev.change.Conversation); err != nil {
			log.Warn("apply conversation change failed", "op", ev.change.Op, "conversation_id", ev.change.Conversation.ID, "err", err)
		}
	}
}

func (m *Manager) applyInsert(conversationID string, msg *model.Message) {
	msg.State = model.StateConfirmed
	msg.UploadProgress = nil
	// 自己发送的消息经推送回显时没有投递状态，直接视为已送达
	if self, ok := m.auth.CurrentUserID(); ok && msg.SenderID == self && msg.DeliveryStatus == model.StatusNone {
		msg.DeliveryStatus = model.StatusDelivered
	}
	if msg.ReplyToID != "" {
		if _, ok := m.messages.Store().Get(conversationID, msg.ReplyToID); !ok {
			log.Debug("reply target not cached", "conversation_id", conversationID, "message_id", msg.ID, "reply_to", msg.ReplyToID)
		}
	}
	isNew := m.messages.ApplyInbound(conversationID, msg)
	if cur, ok := m.messages.Store().Get(conversationID, msg.ID); ok {
		m.convs.OnMessage(cur, isNew)
	}
}

// applyReceipt 只把自己发出、被他人读过的消息标记为已读。
// 他人消息上的已读状态表示本人已读，由 ReceiptBatcher 维护，群聊里第三方的回执不能改动它。
func (m *Manager) applyReceipt(r ReadReceipt) {
	self, ok := m.auth.CurrentUserID()
	if !ok || r.ReaderID == self {
		return
	}
	st := m.messages.Store()
	for _, id := range r.MessageIDs {
		msg, ok := st.Get(r.ConversationID, id)
		if !ok || msg.SenderID != self {
			continue
		}
		st.SetDeliveryStatus(r.ConversationID, id, model.StatusRead)
	}
}

func (m *Manager) applyTyping(conversationID string, t Typing) {
	if self, ok := m.auth.CurrentUserID(); ok && t.UserID == self {
		return
	}
	if t.ConversationID == "" {
		t.ConversationID = conversationID
	}
	if t.IsTyping {
		m.typing.start(t.ConversationID, t.UserID)
	} else {
		m.typing.stop(t.ConversationID, t.UserID)
	}
}

// Typing 会话中正在输入的用户
func (m *Manager) Typing(conversationID string) []string {
	return m.typing.users(conversationID)
}

// OnTyping 输入状态变化回调
func (m *Manager) OnTyping(fn func(conversationID string, userIDs []string)) func() {
	return m.typing.subscribe(fn)
}

// SetTyping 广播自己的输入状态，开始输入按会话限流，停止输入总是发送
func (m *Manager) SetTyping(ctx context.Context, conversationID string, isTyping bool) error {
	self, ok := m.auth.CurrentUserID()
	if !ok {
		return security.ErrUnauthenticated
	}
	if isTyping {
		m.mu.Lock()
		lim, ok := m.limiters[conversationID]
		if !ok {
			lim = rate.NewLimiter(rate.Every(m.typingInterval), 1)
			m.limiters[conversationID] = lim
		}
		allowed := lim.Allow()
		m.mu.Unlock()
		if !allowed {
			return nil
		}
	}
	return m.channel.BroadcastTyping(ctx, Typing{ConversationID: conversationID, UserID: self, IsTyping: isTyping})
}

// Reset 退出登录时释放全部订阅，管理器之后仍可使用
func (m *Manager) Reset() {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[string]*conversationSub)
	m.limiters = make(map[string]*rate.Limiter)
	listSub := m.listSub
	m.listSub, m.listUser = nil, ""
	m.mu.Unlock()

	for id, sub := range subs {
		for _, u := range sub.unsubs {
			u()
		}
		m.typing.clear(id)
		metrics.ActiveSubscriptions.Dec()
	}
	if listSub != nil {
		listSub()
	}
}

// Dispose 退订全部通道并停止计时器，可重复调用
func (m *Manager) Dispose() {
	m.once.Do(func() {
		m.mu.Lock()
		m.disposed = true
		subs := m.subs
		m.subs = make(map[string]*conversationSub)
		listSub := m.listSub
		m.listSub, m.listUser = nil, ""
		m.mu.Unlock()

		for _, sub := range subs {
			for _, u := range sub.unsubs {
				u()
			}
			metrics.ActiveSubscriptions.Dec()
		}
		if listSub != nil {
			listSub()
		}
		m.typing.close()
		m.cancel()
		m.wg.Wait()
		log.Info("realtime manager disposed", "conversations", len(subs))
	})
}
