package service

import (
	"Parley/internal/cache"
	"Parley/internal/model"
	"Parley/internal/pkg/metrics"
	"Parley/internal/pkg/security"
	"Parley/internal/repository"
	"context"
	log "log/slog"
	"slices"
	"sync"
	"time"
)

const DefaultReceiptDebounce = 300 * time.Millisecond

// ReceiptBatcher 把可见消息合并成批量已读上报。
// 每次新增都会重置防抖计时，计时结束时一次性上报并清空；本地未读数与已读状态立即更新，上报失败不回滚。
type ReceiptBatcher struct {
	remote   repository.RemoteRepo
	cache    *cache.QueryCache
	convs    *cache.Conversations
	auth     security.AuthContext
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]map[string]struct{}
	timer   *time.Timer
	closed  bool
	wg      sync.WaitGroup
}

func NewReceiptBatcher(remote repository.RemoteRepo, qc *cache.QueryCache, convs *cache.Conversations, auth security.AuthContext, debounce time.Duration) *ReceiptBatcher {
	if debounce <= 0 {
		debounce = DefaultReceiptDebounce
	}
	return &ReceiptBatcher{
		remote:   remote,
		cache:    qc,
		convs:    convs,
		auth:     auth,
		debounce: debounce,
		pending:  make(map[string]map[string]struct{}),
	}
}

// MarkVisible 消息进入可视区域，返回本次新加入批次的数量。
// 只处理他人发送、已确认、尚未已读的消息。
func (b *ReceiptBatcher) MarkVisible(conversationID string, messageIDs ...string) int {
	self, ok := b.auth.CurrentUserID()
	if !ok {
		return 0
	}
	st := b.cache.Store()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0
	}
	set, ok := b.pending[conversationID]
	if !ok {
		set = make(map[string]struct{})
		b.pending[conversationID] = set
	}
	var added []string
	for _, id := range messageIDs {
		if _, queued := set[id]; queued {
			continue
		}
		msg, ok := st.Get(conversationID, id)
		if !ok || msg.Optimistic() || msg.SenderID == self || msg.IsDeleted || msg.DeliveryStatus == model.StatusRead {
			continue
		}
		set[msg.ID] = struct{}{}
		added = append(added, msg.ID)
	}
	if len(set) == 0 {
		delete(b.pending, conversationID)
	}
	if len(added) > 0 {
		if b.timer == nil {
			b.timer = time.AfterFunc(b.debounce, b.onTimer)
		} else {
			b.timer.Reset(b.debounce)
		}
	}
	b.mu.Unlock()

	if len(added) == 0 {
		return 0
	}
	for _, id := range added {
		st.SetDeliveryStatus(conversationID, id, model.StatusRead)
	}
	b.convs.DecrementUnread(conversationID, len(added))
	return len(added)
}

func (b *ReceiptBatcher) onTimer() {
	b.flush(context.Background(), false)
}

// Flush 立即上报当前批次
func (b *ReceiptBatcher) Flush(ctx context.Context) {
	b.flush(ctx, true)
}

func (b *ReceiptBatcher) flush(ctx context.Context, force bool) {
	b.mu.Lock()
	if b.closed && !force {
		b.mu.Unlock()
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	batch := b.pending
	b.pending = make(map[string]map[string]struct{})
	if len(batch) == 0 {
		b.mu.Unlock()
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()
	defer b.wg.Done()

	self, ok := b.auth.CurrentUserID()
	if !ok {
		log.Warn("drop read receipts without session", "conversations", len(batch))
		return
	}
	for conversationID, set := range batch {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		err := b.remote.MarkMessagesRead(ctx, self, conversationID, ids)
		metrics.ReceiptFlushes.WithLabelValues(metrics.Result(err)).Inc()
		if err != nil {
			log.WarnContext(ctx, "flush read receipts failed", "conversation_id", conversationID, "count", len(ids), "err", err)
			continue
		}
		log.DebugContext(ctx, "read receipts flushed", "conversation_id", conversationID, "count", len(ids))
	}
}

// Pending 尚未上报的数量
func (b *ReceiptBatcher) Pending(conversationID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending[conversationID])
}

// Close 上报剩余批次后停止
func (b *ReceiptBatcher) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.Flush(context.Background())
	b.wg.Wait()
}
