package store

import (
	"Parley/internal/model"
	log "log/slog"
	"sync"
)

// ChangeKind 变更类型
type ChangeKind string

const (
	ChangeUpsert   ChangeKind = "upsert"
	ChangeConfirm  ChangeKind = "confirm"
	ChangeState    ChangeKind = "state"
	ChangeProgress ChangeKind = "progress"
	ChangeRemove   ChangeKind = "remove"
	ChangeReset    ChangeKind = "reset"
)

// Change 广播给订阅者的变更
type Change struct {
	Kind           ChangeKind
	ConversationID string
	Key            string
	TempID         string
	Message        *model.Message
}

type Listener func(Change)

type timeline struct {
	entries map[string]*Entry // 主键 -> 记录
	temps   map[string]string // tempId -> 当前主键
}

func newTimeline() *timeline {
	return &timeline{
		entries: make(map[string]*Entry),
		temps:   make(map[string]string),
	}
}

func (t *timeline) lookup(key string) *Entry {
	if e, ok := t.entries[key]; ok {
		return e
	}
	if k, ok := t.temps[key]; ok {
		return t.entries[k]
	}
	return nil
}

func (t *timeline) put(e *Entry) {
	t.entries[e.Message.Key()] = e
	if e.Message.TempID != "" {
		t.temps[e.Message.TempID] = e.Message.Key()
	}
}

// optimisticTwin tempId 仍指向另一条乐观记录时返回它
func (t *timeline) optimisticTwin(tempID string, confirmed *Entry) *Entry {
	if tempID == "" {
		return nil
	}
	e := t.lookup(tempID)
	if e == nil || e == confirmed || !e.Message.Optimistic() {
		return nil
	}
	return e
}

func (t *timeline) drop(e *Entry) {
	delete(t.entries, e.Message.Key())
	if e.Message.TempID != "" {
		delete(t.temps, e.Message.TempID)
	}
}

// Store 每个会话一条有序时间线，包含已确认、发送中、失败的消息。
// 所有变更都不会返回错误，非法的状态迁移直接忽略。
type Store struct {
	mu    sync.RWMutex
	convs map[string]*timeline
	seq   uint64

	subMu   sync.RWMutex
	subs    map[int]Listener
	nextSub int
}

func New() *Store {
	return &Store{
		convs: make(map[string]*timeline),
		subs:  make(map[int]Listener),
	}
}

// Subscribe 注册变更监听，返回取消函数
// 回调在变更提交后同步执行，不持有 store 的锁
func (s *Store) Subscribe(fn Listener) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) emit(changes ...Change) {
	if len(changes) == 0 {
		return
	}
	s.subMu.RLock()
	listeners := make([]Listener, 0, len(s.subs))
	for _, fn := range s.subs {
		listeners = append(listeners, fn)
	}
	s.subMu.RUnlock()

	for _, c := range changes {
		for _, fn := range listeners {
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error("store listener panic", "conversation_id", c.ConversationID, "recover", r)
					}
				}()
				fn(c)
			}()
		}
	}
}

func (s *Store) timeline(conversationID string) *timeline {
	t, ok := s.convs[conversationID]
	if !ok {
		t = newTimeline()
		s.convs[conversationID] = t
	}
	return t
}

// Upsert 幂等写入，返回是否新增了一条记录
//   - 已确认消息按 id 匹配，其次按 tempId 匹配本地乐观消息（推送先于响应到达）
//   - 乐观消息按 tempId 匹配
//   - 同一条已确认消息按 updatedAt 后写者胜，过期数据不覆盖，也不会让已删除的消息复活
func (s *Store) Upsert(conversationID string, msg *model.Message) bool {
	if conversationID == "" || msg == nil || msg.Key() == "" {
		return false
	}
	in := msg.Clone()
	in.ConversationID = conversationID

	s.mu.Lock()
	t := s.timeline(conversationID)
	change, created := s.upsertLocked(t, in)
	s.mu.Unlock()

	if change != nil {
		s.emit(*change)
	}
	return created
}

// UpsertMany 批量写入，返回新增数量
func (s *Store) UpsertMany(conversationID string, msgs []*model.Message) int {
	if conversationID == "" {
		return 0
	}
	changes := make([]Change, 0, len(msgs))
	created := 0

	s.mu.Lock()
	t := s.timeline(conversationID)
	for _, m := range msgs {
		if m == nil || m.Key() == "" {
			continue
		}
		in := m.Clone()
		in.ConversationID = conversationID
		c, ok := s.upsertLocked(t, in)
		if c != nil {
			changes = append(changes, *c)
		}
		if ok {
			created++
		}
	}
	s.mu.Unlock()

	s.emit(changes...)
	return created
}

func (s *Store) upsertLocked(t *timeline, in *model.Message) (*Change, bool) {
	if in.Optimistic() {
		return s.upsertOptimisticLocked(t, in)
	}
	in.UploadProgress = nil

	if in.ID != "" {
		if cur, ok := t.entries[in.ID]; ok && !cur.Message.Optimistic() {
			changed := mergeConfirmed(cur.Message, in)
			// 推送先到但没带 tempId 时，同一条消息的乐观记录还留在时间线上
			if twin := t.optimisticTwin(in.TempID, cur); twin != nil {
				t.drop(twin)
				cur.Message.TempID = in.TempID
				cur.Seq = twin.Seq
				t.put(cur)
				return &Change{Kind: ChangeConfirm, ConversationID: in.ConversationID, Key: in.ID, TempID: in.TempID, Message: cur.Message.Clone()}, false
			}
			if !changed {
				return nil, false
			}
			return &Change{Kind: ChangeUpsert, ConversationID: in.ConversationID, Key: in.ID, Message: cur.Message.Clone()}, false
		}
	}

	if in.TempID != "" {
		if cur := t.lookup(in.TempID); cur != nil {
			if cur.Message.Optimistic() {
				t.drop(cur)
				in.DeliveryStatus = maxStatus(in.DeliveryStatus, model.StatusSent)
				if in.Reactions == nil {
					in.Reactions = cur.Message.Reactions
				}
				cur.Message = in
				t.put(cur)
				return &Change{Kind: ChangeConfirm, ConversationID: in.ConversationID, Key: in.ID, TempID: in.TempID, Message: in.Clone()}, false
			}
			if !mergeConfirmed(cur.Message, in) {
				return nil, false
			}
			return &Change{Kind: ChangeUpsert, ConversationID: in.ConversationID, Key: cur.Message.Key(), Message: cur.Message.Clone()}, false
		}
	}

	e := &Entry{Message: in}
	t.put(e)
	return &Change{Kind: ChangeUpsert, ConversationID: in.ConversationID, Key: in.Key(), Message: in.Clone()}, true
}

func (s *Store) upsertOptimisticLocked(t *timeline, in *model.Message) (*Change, bool) {
	if in.TempID == "" {
		return nil, false
	}
	if in.DeliveryStatus == model.StatusNone {
		in.DeliveryStatus = model.StatusSending
	}
	if in.State == model.StateFailed {
		in.UploadProgress = nil
	}
	if cur := t.lookup(in.TempID); cur != nil {
		// 已确认的消息不能被降级回乐观状态
		if !cur.Message.Optimistic() {
			return nil, false
		}
		cur.Message = in
		return &Change{Kind: ChangeUpsert, ConversationID: in.ConversationID, Key: in.TempID, TempID: in.TempID, Message: in.Clone()}, false
	}
	s.seq++
	e := &Entry{Message: in, Seq: s.seq}
	t.put(e)
	return &Change{Kind: ChangeUpsert, ConversationID: in.ConversationID, Key: in.TempID, TempID: in.TempID, Message: in.Clone()}, true
}

// mergeConfirmed 后写者胜，返回是否有变化
func mergeConfirmed(cur, in *model.Message) bool {
	status := maxStatus(cur.DeliveryStatus, in.DeliveryStatus)
	if in.UpdatedAt.Before(cur.UpdatedAt) || (cur.IsDeleted && !in.IsDeleted) {
		if status == cur.DeliveryStatus {
			return false
		}
		cur.DeliveryStatus = status
		return true
	}
	tempID := cur.TempID
	reactions := cur.Reactions
	*cur = *in
	cur.DeliveryStatus = status
	if cur.TempID == "" {
		cur.TempID = tempID
	}
	if cur.Reactions == nil {
		cur.Reactions = reactions
	}
	return true
}

func maxStatus(a, b model.DeliveryStatus) model.DeliveryStatus {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// MarkFailed Sending -> Failed，同时清除上传进度
func (s *Store) MarkFailed(conversationID, tempID string) bool {
	return s.transition(conversationID, tempID, model.StateSending, func(m *model.Message) {
		m.State = model.StateFailed
		m.UploadProgress = nil
	})
}

// MarkSending Failed -> Sending，用于重试
func (s *Store) MarkSending(conversationID, tempID string) bool {
	return s.transition(conversationID, tempID, model.StateFailed, func(m *model.Message) {
		m.State = model.StateSending
		m.DeliveryStatus = model.StatusSending
	})
}

func (s *Store) transition(conversationID, tempID string, from model.SendState, apply func(*model.Message)) bool {
	s.mu.Lock()
	t, ok := s.convs[conversationID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	e := t.lookup(tempID)
	if e == nil || e.Message.State != from {
		s.mu.Unlock()
		return false
	}
	apply(e.Message)
	c := Change{Kind: ChangeState, ConversationID: conversationID, Key: e.Message.Key(), TempID: tempID, Message: e.Message.Clone()}
	s.mu.Unlock()

	s.emit(c)
	return true
}

// SetUploadProgress 只对发送中的消息生效，取消或失败后到达的进度被丢弃
func (s *Store) SetUploadProgress(conversationID, tempID string, progress int) bool {
	s.mu.Lock()
	t, ok := s.convs[conversationID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	e := t.lookup(tempID)
	if e == nil || e.Message.State != model.StateSending {
		s.mu.Unlock()
		return false
	}
	if p, ok := e.Message.Progress(); ok && p == progress {
		s.mu.Unlock()
		return false
	}
	e.Message.SetProgress(progress)
	c := Change{Kind: ChangeProgress, ConversationID: conversationID, Key: tempID, TempID: tempID, Message: e.Message.Clone()}
	s.mu.Unlock()

	s.emit(c)
	return true
}

// ReplaceOptimistic 用服务端确认的消息原位替换乐观消息。
// 如果推送已经先插入了同 id 的消息，则合并进该记录并移除乐观消息，保持可见位置不变。
func (s *Store) ReplaceOptimistic(conversationID, tempID string, confirmed *model.Message) {
	if conversationID == "" || confirmed == nil || confirmed.ID == "" {
		return
	}
	in := confirmed.Clone()
	in.ConversationID = conversationID
	in.TempID = tempID
	in.State = model.StateConfirmed
	in.UploadProgress = nil
	in.DeliveryStatus = maxStatus(in.DeliveryStatus, model.StatusSent)

	s.mu.Lock()
	t := s.timeline(conversationID)
	cur := t.lookup(tempID)

	var c *Change
	switch {
	case cur == nil:
		c, _ = s.upsertLocked(t, in)
	case !cur.Message.Optimistic():
		if mergeConfirmed(cur.Message, in) {
			c = &Change{Kind: ChangeUpsert, ConversationID: conversationID, Key: cur.Message.Key(), Message: cur.Message.Clone()}
		}
	default:
		if in.Reactions == nil {
			in.Reactions = cur.Message.Reactions
		}
		t.drop(cur)
		if twin, ok := t.entries[in.ID]; ok {
			mergeConfirmed(twin.Message, in)
			twin.Message.TempID = tempID
			twin.Seq = cur.Seq
			t.put(twin)
			in = twin.Message
		} else {
			cur.Message = in
			t.put(cur)
		}
		c = &Change{Kind: ChangeConfirm, ConversationID: conversationID, Key: in.ID, TempID: tempID, Message: in.Clone()}
	}
	s.mu.Unlock()

	if c != nil {
		s.emit(*c)
	}
}

// Remove 仅用于放弃上传的消息
func (s *Store) Remove(conversationID, key string) bool {
	s.mu.Lock()
	t, ok := s.convs[conversationID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	e := t.lookup(key)
	if e == nil {
		s.mu.Unlock()
		return false
	}
	t.drop(e)
	c := Change{Kind: ChangeRemove, ConversationID: conversationID, Key: e.Message.Key(), TempID: e.Message.TempID}
	s.mu.Unlock()

	s.emit(c)
	return true
}

// SetDeliveryStatus 状态只前进不后退
func (s *Store) SetDeliveryStatus(conversationID, key string, status model.DeliveryStatus) bool {
	s.mu.Lock()
	t, ok := s.convs[conversationID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	e := t.lookup(key)
	if e == nil || e.Message.Optimistic() || status.Rank() <= e.Message.DeliveryStatus.Rank() {
		s.mu.Unlock()
		return false
	}
	e.Message.DeliveryStatus = status
	c := Change{Kind: ChangeUpsert, ConversationID: conversationID, Key: e.Message.Key(), Message: e.Message.Clone()}
	s.mu.Unlock()

	s.emit(c)
	return true
}

// ToggleReaction 切换用户在某条消息上的表情
func (s *Store) ToggleReaction(conversationID, key, userID, emoji string) bool {
	if userID == "" || emoji == "" {
		return false
	}
	s.mu.Lock()
	t, ok := s.convs[conversationID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	e := t.lookup(key)
	if e == nil || e.Message.IsDeleted {
		s.mu.Unlock()
		return false
	}
	e.Message.Reactions = e.Message.Reactions.Toggle(userID, emoji)
	c := Change{Kind: ChangeUpsert, ConversationID: conversationID, Key: e.Message.Key(), Message: e.Message.Clone()}
	s.mu.Unlock()

	s.emit(c)
	return true
}

// Get 按 id 或 tempId 查找，返回副本
func (s *Store) Get(conversationID, key string) (*model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.convs[conversationID]
	if !ok {
		return nil, false
	}
	e := t.lookup(key)
	if e == nil {
		return nil, false
	}
	return e.Message.Clone(), true
}

// Messages 当前可见顺序的副本
func (s *Store) Messages(conversationID string) []*model.Message {
	s.mu.RLock()
	t, ok := s.convs[conversationID]
	if !ok {
		s.mu.RUnlock()
		return nil
	}
	entries := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, Entry{Message: e.Message.Clone(), Seq: e.Seq})
	}
	s.mu.RUnlock()

	return Merge(entries)
}

// Oldest 最早的一条已确认消息，用作翻页游标
func (s *Store) Oldest(conversationID string) (*model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.convs[conversationID]
	if !ok {
		return nil, false
	}
	var oldest *model.Message
	for _, e := range t.entries {
		if e.Message.Optimistic() || e.Message.ID == "" {
			continue
		}
		if oldest == nil || e.Message.Before(oldest) {
			oldest = e.Message
		}
	}
	if oldest == nil {
		return nil, false
	}
	return oldest.Clone(), true
}

// TrimOlder 移除早于 pivot 的已确认消息，返回移除数量。
// 刷新结果与旧缓存之间出现断档时用来丢弃断档之前的部分。
func (s *Store) TrimOlder(conversationID string, pivot *model.Message) int {
	if pivot == nil {
		return 0
	}
	s.mu.Lock()
	t, ok := s.convs[conversationID]
	if !ok {
		s.mu.Unlock()
		return 0
	}
	var changes []Change
	for _, e := range t.entries {
		if e.Message.Optimistic() || !e.Message.Before(pivot) {
			continue
		}
		t.drop(e)
		changes = append(changes, Change{Kind: ChangeRemove, ConversationID: conversationID, Key: e.Message.Key(), TempID: e.Message.TempID})
	}
	s.mu.Unlock()

	s.emit(changes...)
	return len(changes)
}

// Pending 仍处于乐观状态的消息
func (s *Store) Pending(conversationID string) []*model.Message {
	all := s.Messages(conversationID)
	out := make([]*model.Message, 0)
	for _, m := range all {
		if m.Optimistic() {
			out = append(out, m)
		}
	}
	return out
}

// Reset 清空所有会话，例如退出登录
func (s *Store) Reset() {
	s.mu.Lock()
	s.convs = make(map[string]*timeline)
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeReset})
}
