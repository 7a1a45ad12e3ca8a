package cache

import (
	"Parley/internal/model"
	"Parley/internal/pkg/metrics"
	"Parley/internal/repository"
	"Parley/internal/store"
	"context"
	"errors"
	log "log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultPageSize    = 25
	DefaultFreshWindow = 15 * time.Minute

	// 刷新时最多向前补拉的页数，超过后丢弃断档之前的旧缓存
	maxGapPages = 4
)

// PageState 某个会话的缓存元信息
type PageState struct {
	Loaded    bool
	HasMore   bool
	FetchedAt time.Time
	Err       error
}

type entry struct {
	loaded    bool
	hasMore   bool
	fetchedAt time.Time
	err       error
	// 上次从远端拉到的最新一条，之前的部分与远端连续
	anchor *model.Message
}

// QueryCache 会话消息的 stale-while-revalidate 缓存。
// 已确认的消息写入 store，自身只记录分页与新鲜度。
type QueryCache struct {
	remote      repository.RemoteRepo
	store       *store.Store
	pageSize    int
	freshWindow time.Duration
	now         func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type settings struct {
	pageSize    int
	freshWindow time.Duration
	now         func() time.Time
}

type Option func(*settings)

func newSettings(opts []Option) settings {
	s := settings{pageSize: DefaultPageSize, freshWindow: DefaultFreshWindow, now: time.Now}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func WithPageSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

func WithFreshWindow(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.freshWindow = d
		}
	}
}

// WithClock 测试中替换时钟
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

func NewQueryCache(remote repository.RemoteRepo, st *store.Store, opts ...Option) *QueryCache {
	cfg := newSettings(opts)
	ctx, cancel := context.WithCancel(context.Background())
	return &QueryCache{
		remote:      remote,
		store:       st,
		pageSize:    cfg.pageSize,
		freshWindow: cfg.freshWindow,
		now:         cfg.now,
		entries:     make(map[string]*entry),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (c *QueryCache) Store() *store.Store { return c.store }

func (c *QueryCache) PageSize() int { return c.pageSize }

func (c *QueryCache) entry(conversationID string) *entry {
	e, ok := c.entries[conversationID]
	if !ok {
		e = &entry{}
		c.entries[conversationID] = e
	}
	return e
}

// Messages 读取会话当前可见的消息
//   - 从未加载：阻塞拉取最新一页
//   - 新鲜：直接返回
//   - 过期：立即返回旧数据，后台刷新
//
// 拉取失败时返回已有数据以及错误，已有数据不会被清空
func (c *QueryCache) Messages(ctx context.Context, conversationID string) ([]*model.Message, error) {
	c.mu.Lock()
	e := c.entry(conversationID)
	loaded, fetchedAt := e.loaded, e.fetchedAt
	c.mu.Unlock()

	switch {
	case !loaded:
		metrics.CacheReads.WithLabelValues("miss").Inc()
		if err := c.Refresh(ctx, conversationID); err != nil {
			return c.store.Messages(conversationID), err
		}
	case c.now().Sub(fetchedAt) >= c.freshWindow:
		metrics.CacheReads.WithLabelValues("stale").Inc()
		c.revalidate(conversationID)
	default:
		metrics.CacheReads.WithLabelValues("hit").Inc()
	}
	return c.store.Messages(conversationID), nil
}

func (c *QueryCache) revalidate(conversationID string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.Refresh(c.ctx, conversationID); err != nil {
			log.Warn("background revalidate failed", "conversation_id", conversationID, "err", err)
		}
	}()
}

// Refresh 拉取最新一页，同一会话的并发刷新合并为一次请求。
// 共享的请求不受单个调用方取消的影响，调用方只等待自己的 ctx。
func (c *QueryCache) Refresh(ctx context.Context, conversationID string) error {
	ch := c.group.DoChan(conversationID, func() (any, error) {
		return nil, c.refresh(context.WithoutCancel(ctx), conversationID)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *QueryCache) refresh(ctx context.Context, conversationID string) error {
	page, err := c.remote.FetchMessages(ctx, repository.MessageQuery{
		ConversationID: conversationID,
		PageSize:       c.pageSize,
	})
	if err != nil {
		c.mu.Lock()
		c.entry(conversationID).err = err
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	e := c.entry(conversationID)
	loaded, anchor := e.loaded, e.anchor
	c.mu.Unlock()

	msgs, hasMore, gap := page.Messages, page.HasMore, false
	if loaded && anchor != nil {
		msgs, hasMore, gap = c.fillGap(ctx, conversationID, page, anchor)
	}

	c.mu.Lock()
	e = c.entry(conversationID)
	// 已经向前翻过页时，最新一页的 hasMore 不能覆盖更早的分页状态
	if !e.loaded || gap {
		e.hasMore = hasMore
	}
	if newest := newestOf(msgs); newest != nil {
		e.anchor = newest
	}
	e.loaded = true
	e.fetchedAt = c.now()
	e.err = nil
	c.mu.Unlock()

	c.store.UpsertMany(conversationID, msgs)
	if gap {
		n := c.store.TrimOlder(conversationID, oldestOf(msgs))
		log.Info("refresh left a gap, dropped older cache", "conversation_id", conversationID, "dropped", n)
	}
	return nil
}

// fillGap 最新一页与上次拉取的范围不重叠时向前补拉，直到接上 anchor。
// 补拉失败或超过页数上限时返回 gap=true，调用方丢弃断档之前的缓存。
func (c *QueryCache) fillGap(ctx context.Context, conversationID string, page *repository.MessagePage, anchor *model.Message) ([]*model.Message, bool, bool) {
	msgs, hasMore := page.Messages, page.HasMore
	for pages := 0; hasMore && !reaches(msgs, anchor); pages++ {
		if pages == maxGapPages {
			return msgs, true, true
		}
		older, err := c.remote.FetchMessages(ctx, repository.MessageQuery{
			ConversationID: conversationID,
			PageSize:       c.pageSize,
			BeforeID:       oldestOf(msgs).ID,
		})
		if err != nil {
			log.Warn("fill refresh gap failed", "conversation_id", conversationID, "err", err)
			return msgs, true, true
		}
		msgs = append(older.Messages, msgs...)
		hasMore = older.HasMore
		if len(older.Messages) == 0 {
			break
		}
	}
	return msgs, hasMore, false
}

// reaches msgs 覆盖到 anchor 或更早
func reaches(msgs []*model.Message, anchor *model.Message) bool {
	oldest := oldestOf(msgs)
	return oldest == nil || !anchor.Before(oldest)
}

func oldestOf(msgs []*model.Message) *model.Message {
	var out *model.Message
	for _, m := range msgs {
		if out == nil || m.Before(out) {
			out = m
		}
	}
	return out
}

func newestOf(msgs []*model.Message) *model.Message {
	var out *model.Message
	for _, m := range msgs {
		if out == nil || out.Before(m) {
			out = m
		}
	}
	if out != nil {
		out = out.Clone()
	}
	return out
}

// FetchPage 拉取 beforeMessageID 之前的一页，beforeMessageID 为空时拉取最新一页。
// 游标消息已不存在时退回到按时间戳翻页。
func (c *QueryCache) FetchPage(ctx context.Context, conversationID string, pageSize int, beforeMessageID string) (*repository.MessagePage, error) {
	if pageSize <= 0 {
		pageSize = c.pageSize
	}
	q := repository.MessageQuery{
		ConversationID: conversationID,
		PageSize:       pageSize,
		BeforeID:       beforeMessageID,
	}
	page, err := c.remote.FetchMessages(ctx, q)
	if !errors.Is(err, repository.ErrCursorNotFound) {
		return page, err
	}

	before, ok := c.cursorTime(conversationID, beforeMessageID)
	if !ok {
		return nil, err
	}
	log.Info("page cursor missing, falling back to timestamp",
		"conversation_id", conversationID, "before_id", beforeMessageID, "before", before)
	q.Before = before
	return c.remote.FetchMessages(ctx, q)
}

func (c *QueryCache) cursorTime(conversationID, beforeMessageID string) (time.Time, bool) {
	if m, ok := c.store.Get(conversationID, beforeMessageID); ok && !m.CreatedAt.IsZero() {
		return m.CreatedAt, true
	}
	if m, ok := c.store.Oldest(conversationID); ok && !m.CreatedAt.IsZero() {
		return m.CreatedAt, true
	}
	return time.Time{}, false
}

// PrependOlderPage 合并向前翻页的结果，返回新增条数
func (c *QueryCache) PrependOlderPage(conversationID string, page *repository.MessagePage) int {
	if page == nil {
		return 0
	}
	c.mu.Lock()
	e := c.entry(conversationID)
	e.hasMore = page.HasMore
	if !e.loaded {
		e.loaded = true
		e.fetchedAt = c.now()
		e.anchor = newestOf(page.Messages)
	}
	c.mu.Unlock()

	return c.store.UpsertMany(conversationID, page.Messages)
}

// LoadOlder 以最早一条已确认消息为游标加载更早的一页
func (c *QueryCache) LoadOlder(ctx context.Context, conversationID string) (int, error) {
	state := c.State(conversationID)
	if !state.Loaded {
		_, err := c.Messages(ctx, conversationID)
		return 0, err
	}
	if !state.HasMore {
		return 0, nil
	}
	oldest, ok := c.store.Oldest(conversationID)
	if !ok {
		return 0, nil
	}
	page, err := c.FetchPage(ctx, conversationID, c.pageSize, oldest.ID)
	if err != nil {
		c.mu.Lock()
		c.entry(conversationID).err = err
		c.mu.Unlock()
		return 0, err
	}
	return c.PrependOlderPage(conversationID, page), nil
}

// ApplyInbound 推送到达的单条消息，不发起网络请求
func (c *QueryCache) ApplyInbound(conversationID string, msg *model.Message) bool {
	return c.store.Upsert(conversationID, msg)
}

func (c *QueryCache) State(conversationID string) PageState {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[conversationID]
	if !ok {
		return PageState{}
	}
	return PageState{
		Loaded:    e.loaded,
		HasMore:   e.hasMore,
		FetchedAt: e.fetchedAt,
		Err:       e.err,
	}
}

// Invalidate 标记为过期，下次读取时后台刷新
func (c *QueryCache) Invalidate(conversationID string) {
	c.mu.Lock()
	if e, ok := c.entries[conversationID]; ok {
		e.fetchedAt = time.Time{}
	}
	c.mu.Unlock()
}

// Reset 退出登录时清空
func (c *QueryCache) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
	c.store.Reset()
}

// Close 停止后台刷新并等待退出
func (c *QueryCache) Close() {
	c.cancel()
	c.wg.Wait()
}
