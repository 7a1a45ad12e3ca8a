package cache

import (
	"Parley/internal/model"
	"Parley/internal/pkg/security"
	"Parley/internal/repository"
	"context"
	log "log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ListOp 会话列表推送的操作类型
type ListOp string

const (
	ListInsert ListOp = "INSERT"
	ListUpdate ListOp = "UPDATE"
	ListDelete ListOp = "DELETE"
)

type ConversationListener func(*model.Conversation)

// Conversations 当前用户的会话列表，未读数只由本地已读批次与服务端对账修改
type Conversations struct {
	remote      repository.RemoteRepo
	auth        security.AuthContext
	freshWindow time.Duration
	now         func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	items     map[string]*model.Conversation
	loaded    bool
	fetchedAt time.Time
	err       error

	subMu   sync.RWMutex
	subs    map[int]ConversationListener
	nextSub int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewConversations(remote repository.RemoteRepo, auth security.AuthContext, opts ...Option) *Conversations {
	cfg := newSettings(opts)
	ctx, cancel := context.WithCancel(context.Background())
	return &Conversations{
		remote:      remote,
		auth:        auth,
		freshWindow: cfg.freshWindow,
		now:         cfg.now,
		items:       make(map[string]*model.Conversation),
		subs:        make(map[int]ConversationListener),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (c *Conversations) Subscribe(fn ConversationListener) func() {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
		})
	}
}

func (c *Conversations) emit(convs ...*model.Conversation) {
	if len(convs) == 0 {
		return
	}
	c.subMu.RLock()
	listeners := make([]ConversationListener, 0, len(c.subs))
	for _, fn := range c.subs {
		listeners = append(listeners, fn)
	}
	c.subMu.RUnlock()

	for _, conv := range convs {
		for _, fn := range listeners {
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error("conversation listener panic", "conversation_id", conv.ID, "recover", r)
					}
				}()
				fn(conv.Clone())
			}()
		}
	}
}

func (c *Conversations) userID() (string, error) {
	uid, ok := c.auth.CurrentUserID()
	if !ok {
		return "", security.ErrUnauthenticated
	}
	return uid, nil
}

// List stale-while-revalidate 读取会话列表，置顶优先，其次按最近更新时间倒序
func (c *Conversations) List(ctx context.Context) ([]*model.Conversation, error) {
	c.mu.RLock()
	loaded, fetchedAt := c.loaded, c.fetchedAt
	c.mu.RUnlock()

	switch {
	case !loaded:
		if err := c.Reconcile(ctx); err != nil {
			return c.snapshot(), err
		}
	case c.now().Sub(fetchedAt) >= c.freshWindow:
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.Reconcile(c.ctx); err != nil {
				log.Warn("background conversation refresh failed", "err", err)
			}
		}()
	}
	return c.snapshot(), nil
}

func (c *Conversations) snapshot() []*model.Conversation {
	c.mu.RLock()
	out := make([]*model.Conversation, 0, len(c.items))
	for _, conv := range c.items {
		out = append(out, conv.Clone())
	}
	c.mu.RUnlock()

	slices.SortFunc(out, func(a, b *model.Conversation) int {
		if a.IsPinned != b.IsPinned {
			if a.IsPinned {
				return -1
			}
			return 1
		}
		if n := b.UpdatedAt.Compare(a.UpdatedAt); n != 0 {
			return n
		}
		if a.ID < b.ID {
			return -1
		}
		return 1
	})
	return out
}

// Reconcile 以服务端列表为准整体替换，修正本地未读数的漂移
func (c *Conversations) Reconcile(ctx context.Context) error {
	uid, err := c.userID()
	if err != nil {
		return err
	}
	// 合并的请求不随某一个调用方取消
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan("list:"+uid, func() (any, error) {
		convs, err := c.remote.FetchConversations(shared, uid)

		c.mu.Lock()
		if err != nil {
			c.err = err
			c.mu.Unlock()
			return nil, err
		}
		var changed []*model.Conversation
		items := make(map[string]*model.Conversation, len(convs))
		for _, conv := range convs {
			prev, ok := c.items[conv.ID]
			if !ok || !equalSummary(prev, conv) {
				changed = append(changed, conv)
			}
			items[conv.ID] = conv.Clone()
		}
		c.items = items
		c.loaded = true
		c.fetchedAt = c.now()
		c.err = nil
		c.mu.Unlock()

		c.emit(changed...)
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func equalSummary(a, b *model.Conversation) bool {
	if a.UnreadCount != b.UnreadCount || a.IsMuted != b.IsMuted || a.IsPinned != b.IsPinned ||
		a.IsArchived != b.IsArchived || !a.UpdatedAt.Equal(b.UpdatedAt) {
		return false
	}
	if (a.LastMessage == nil) != (b.LastMessage == nil) {
		return false
	}
	return a.LastMessage == nil || (a.LastMessage.ID == b.LastMessage.ID && a.LastMessage.IsDeleted == b.LastMessage.IsDeleted)
}

func (c *Conversations) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Get 优先返回缓存，缺失时定向拉取
func (c *Conversations) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	if conv, ok := c.Peek(conversationID); ok {
		return conv, nil
	}
	return c.fetch(ctx, conversationID)
}

func (c *Conversations) Peek(conversationID string) (*model.Conversation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conv, ok := c.items[conversationID]
	if !ok {
		return nil, false
	}
	return conv.Clone(), true
}

func (c *Conversations) fetch(ctx context.Context, conversationID string) (*model.Conversation, error) {
	uid, err := c.userID()
	if err != nil {
		return nil, err
	}
	v, err, _ := c.group.Do("conv:"+conversationID, func() (any, error) {
		return c.remote.FetchConversation(ctx, uid, conversationID)
	})
	if err != nil {
		return nil, err
	}
	conv := v.(*model.Conversation)
	c.Upsert(conv)
	return conv.Clone(), nil
}

func (c *Conversations) Upsert(conv *model.Conversation) {
	if conv == nil || conv.ID == "" {
		return
	}
	in := conv.Clone()
	c.mu.Lock()
	c.items[in.ID] = in
	c.mu.Unlock()
	c.emit(in)
}

// ApplyChange 处理会话列表推送。
// 未知会话的 INSERT 先定向拉取摘要再插入，DELETE 只归档不删除。
func (c *Conversations) ApplyChange(ctx context.Context, op ListOp, conv *model.Conversation) error {
	if conv == nil || conv.ID == "" {
		return nil
	}
	switch op {
	case ListDelete:
		c.update(conv.ID, func(cur *model.Conversation) bool {
			if cur.IsArchived {
				return false
			}
			cur.IsArchived = true
			return true
		})
		return nil
	case ListInsert, ListUpdate:
		if _, ok := c.Peek(conv.ID); !ok {
			_, err := c.fetch(ctx, conv.ID)
			return err
		}
		// 重复的 INSERT 只带 id，不能覆盖已有摘要
		if op == ListInsert {
			return nil
		}
		c.update(conv.ID, func(cur *model.Conversation) bool {
			mergeSummary(cur, conv)
			return true
		})
	}
	return nil
}

func mergeSummary(cur, in *model.Conversation) {
	if in.Type != "" {
		cur.Type = in.Type
	}
	if len(in.ParticipantIDs) > 0 {
		cur.ParticipantIDs = slices.Clone(in.ParticipantIDs)
	}
	if in.LastMessage != nil && (cur.LastMessage == nil || !in.LastMessage.CreatedAt.Before(cur.LastMessage.CreatedAt)) {
		lm := *in.LastMessage
		cur.LastMessage = &lm
	}
	cur.UnreadCount = max(0, in.UnreadCount)
	cur.IsMuted = in.IsMuted
	cur.IsPinned = in.IsPinned
	cur.IsArchived = in.IsArchived
	if in.UpdatedAt.After(cur.UpdatedAt) {
		cur.UpdatedAt = in.UpdatedAt
	}
}

func (c *Conversations) update(conversationID string, fn func(*model.Conversation) bool) bool {
	c.mu.Lock()
	cur, ok := c.items[conversationID]
	if !ok || !fn(cur) {
		c.mu.Unlock()
		return false
	}
	out := cur.Clone()
	c.mu.Unlock()

	c.emit(out)
	return true
}

// OnMessage 新消息到达后更新最后一条消息，他人发送的新消息增加未读并取消归档。
// 已删除的消息只在它是当前最后一条时更新预览。
func (c *Conversations) OnMessage(msg *model.Message, isNew bool) {
	if msg == nil || msg.Optimistic() {
		return
	}
	if msg.IsDeleted {
		c.update(msg.ConversationID, func(cur *model.Conversation) bool {
			if cur.LastMessage == nil || cur.LastMessage.ID != msg.ID || cur.LastMessage.IsDeleted {
				return false
			}
			cur.LastMessage = msg.Snapshot()
			return true
		})
		return
	}
	self, _ := c.auth.CurrentUserID()
	c.update(msg.ConversationID, func(cur *model.Conversation) bool {
		changed := false
		if cur.LastMessage == nil || !msg.CreatedAt.Before(cur.LastMessage.CreatedAt) {
			cur.LastMessage = msg.Snapshot()
			if msg.CreatedAt.After(cur.UpdatedAt) {
				cur.UpdatedAt = msg.CreatedAt
			}
			changed = true
		}
		if isNew {
			if msg.SenderID != self {
				cur.UnreadCount++
			}
			if cur.IsArchived {
				cur.IsArchived = false
			}
			changed = true
		}
		return changed
	})
}

func (c *Conversations) IncrementUnread(conversationID string, n int) {
	if n <= 0 {
		return
	}
	c.update(conversationID, func(cur *model.Conversation) bool {
		cur.UnreadCount += n
		return true
	})
}

// DecrementUnread 未读数最小为 0
func (c *Conversations) DecrementUnread(conversationID string, n int) {
	if n <= 0 {
		return
	}
	c.update(conversationID, func(cur *model.Conversation) bool {
		next := max(0, cur.UnreadCount-n)
		if next == cur.UnreadCount {
			return false
		}
		cur.UnreadCount = next
		return true
	})
}

func (c *Conversations) ApplyMembership(conversationID string, patch model.MembershipPatch) {
	c.update(conversationID, func(cur *model.Conversation) bool {
		patch.Apply(cur)
		return true
	})
}

func (c *Conversations) SetMuted(conversationID string, muted bool) {
	c.ApplyMembership(conversationID, model.MembershipPatch{IsMuted: &muted})
}

// IsMuted 静音会话不发本地通知
func (c *Conversations) IsMuted(conversationID string) bool {
	conv, ok := c.Peek(conversationID)
	return ok && conv.IsMuted
}

func (c *Conversations) Reset() {
	c.mu.Lock()
	c.items = make(map[string]*model.Conversation)
	c.loaded = false
	c.fetchedAt = time.Time{}
	c.err = nil
	c.mu.Unlock()
}

func (c *Conversations) Close() {
	c.cancel()
	c.wg.Wait()
}
