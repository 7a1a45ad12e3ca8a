package repository

import (
	"Parley/internal/model"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ReadCall 一次已读上报
type ReadCall struct {
	UserID         string
	ConversationID string
	MessageIDs     []string
}

type memMember struct {
	read     map[string]struct{}
	muted    bool
	pinned   bool
	archived bool
}

type memConversation struct {
	conv    model.Conversation
	members map[string]*memMember
}

// MemoryRepo 进程内的远端实现，用于离线开发与测试
type MemoryRepo struct {
	mu       sync.Mutex
	messages map[string][]*model.Message
	byID     map[string]*model.Message
	byClient map[string]*model.Message
	convs    map[string]*memConversation
	peers    map[string]string
	last     time.Time

	insertHook func(ctx context.Context, msg *model.Message) error
	fetchErr   error
	fetchCalls int
	reads      []ReadCall

	onInsert func(*model.Message)
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		messages: make(map[string][]*model.Message),
		byID:     make(map[string]*model.Message),
		byClient: make(map[string]*model.Message),
		convs:    make(map[string]*memConversation),
		peers:    make(map[string]string),
	}
}

// now 单调递增的服务端时间
func (r *MemoryRepo) now() time.Time {
	t := time.Now().UTC()
	if !t.After(r.last) {
		t = r.last.Add(time.Millisecond)
	}
	r.last = t
	return t
}

// SetInsertHook 在插入前执行，返回错误则插入失败
func (r *MemoryRepo) SetInsertHook(fn func(ctx context.Context, msg *model.Message) error) {
	r.mu.Lock()
	r.insertHook = fn
	r.mu.Unlock()
}

// OnInsert 插入成功后回调，可用于模拟推送
func (r *MemoryRepo) OnInsert(fn func(*model.Message)) {
	r.mu.Lock()
	r.onInsert = fn
	r.mu.Unlock()
}

func (r *MemoryRepo) SetFetchError(err error) {
	r.mu.Lock()
	r.fetchErr = err
	r.mu.Unlock()
}

func (r *MemoryRepo) FetchCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetchCalls
}

func (r *MemoryRepo) ReadCalls() []ReadCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.reads)
}

// AddConversation 直接写入一个会话
func (r *MemoryRepo) AddConversation(conv *model.Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mc := &memConversation{conv: *conv.Clone(), members: make(map[string]*memMember)}
	for _, uid := range conv.ParticipantIDs {
		mc.members[uid] = &memMember{read: make(map[string]struct{})}
	}
	r.convs[conv.ID] = mc
	if conv.Type == model.ConversationDirect && len(conv.ParticipantIDs) == 2 {
		r.peers[PeerKey(conv.ParticipantIDs[0], conv.ParticipantIDs[1])] = conv.ID
	}
}

// Seed 写入已存在的历史消息，未指定 ID 与时间时自动生成
func (r *MemoryRepo) Seed(conversationID string, msgs ...*model.Message) []*model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, r.appendLocked(conversationID, m.Clone()).Clone())
	}
	return out
}

func (r *MemoryRepo) appendLocked(conversationID string, m *model.Message) *model.Message {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.now()
	} else if m.CreatedAt.After(r.last) {
		r.last = m.CreatedAt
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	m.ConversationID = conversationID
	m.State = model.StateConfirmed
	m.UploadProgress = nil
	if m.DeliveryStatus == model.StatusNone || m.DeliveryStatus == model.StatusSending {
		m.DeliveryStatus = model.StatusSent
	}

	list := append(r.messages[conversationID], m)
	slices.SortStableFunc(list, func(a, b *model.Message) int {
		if a.Before(b) {
			return -1
		}
		if b.Before(a) {
			return 1
		}
		return 0
	})
	r.messages[conversationID] = list
	r.byID[m.ID] = m
	if m.TempID != "" {
		r.byClient[conversationID+":"+m.TempID] = m
	}
	if mc, ok := r.convs[conversationID]; ok {
		if mc.conv.LastMessage == nil || !m.CreatedAt.Before(mc.conv.LastMessage.CreatedAt) {
			mc.conv.LastMessage = m.Snapshot()
			mc.conv.UpdatedAt = m.CreatedAt
		}
		for _, mem := range mc.members {
			mem.archived = false
		}
	}
	return m
}

func (r *MemoryRepo) FetchMessages(ctx context.Context, q MessageQuery) (*MessagePage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchCalls++
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}

	list := r.messages[q.ConversationID]
	end := len(list)
	switch {
	case q.BeforeID != "":
		cur, ok := r.byID[q.BeforeID]
		if !ok || cur.ConversationID != q.ConversationID {
			if q.Before.IsZero() {
				return nil, ErrCursorNotFound
			}
			end = r.indexBeforeTime(list, q.Before)
			break
		}
		end = slices.IndexFunc(list, func(m *model.Message) bool { return m.ID == cur.ID })
	case !q.Before.IsZero():
		end = r.indexBeforeTime(list, q.Before)
	}

	size := q.PageSize
	if size <= 0 {
		size = 25
	}
	start := max(0, end-size)
	page := &MessagePage{HasMore: start > 0}
	for _, m := range list[start:end] {
		page.Messages = append(page.Messages, m.Clone())
	}
	return page, nil
}

func (r *MemoryRepo) indexBeforeTime(list []*model.Message, before time.Time) int {
	for i, m := range list {
		if !m.CreatedAt.Before(before) {
			return i
		}
	}
	return len(list)
}

func (r *MemoryRepo) InsertMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	r.mu.Lock()
	hook := r.insertHook
	r.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, msg); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if msg.TempID != "" {
		if prev, ok := r.byClient[msg.ConversationID+":"+msg.TempID]; ok {
			out := prev.Clone()
			r.mu.Unlock()
			return out, nil
		}
	}
	mc, ok := r.convs[msg.ConversationID]
	if !ok || mc.members[msg.SenderID] == nil {
		r.mu.Unlock()
		return nil, ErrNotMember
	}
	in := msg.Clone()
	in.ID = ""
	in.CreatedAt = time.Time{}
	in.UpdatedAt = time.Time{}
	in.DeliveryStatus = model.StatusSent
	saved := r.appendLocked(msg.ConversationID, in)
	mc.members[msg.SenderID].read[saved.ID] = struct{}{}
	out := saved.Clone()
	notify := r.onInsert
	r.mu.Unlock()

	if notify != nil {
		notify(out.Clone())
	}
	return out, nil
}

func (r *MemoryRepo) MarkMessagesRead(ctx context.Context, userID, conversationID string, messageIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads = append(r.reads, ReadCall{UserID: userID, ConversationID: conversationID, MessageIDs: slices.Clone(messageIDs)})
	mc, ok := r.convs[conversationID]
	if !ok {
		return ErrNotFound
	}
	mem, ok := mc.members[userID]
	if !ok {
		return ErrNotMember
	}
	for _, id := range messageIDs {
		mem.read[id] = struct{}{}
	}
	return nil
}

func (r *MemoryRepo) view(mc *memConversation, userID string) *model.Conversation {
	c := mc.conv.Clone()
	mem := mc.members[userID]
	if mem == nil {
		return c
	}
	c.IsMuted, c.IsPinned, c.IsArchived = mem.muted, mem.pinned, mem.archived
	c.UnreadCount = 0
	for _, m := range r.messages[c.ID] {
		if m.SenderID == userID || m.IsDeleted {
			continue
		}
		if _, read := mem.read[m.ID]; !read {
			c.UnreadCount++
		}
	}
	return c
}

func (r *MemoryRepo) FetchConversations(ctx context.Context, userID string) ([]*model.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Conversation, 0)
	for _, mc := range r.convs {
		if _, ok := mc.members[userID]; ok {
			out = append(out, r.view(mc, userID))
		}
	}
	slices.SortFunc(out, func(a, b *model.Conversation) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	return out, nil
}

func (r *MemoryRepo) FetchConversation(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	mc, ok := r.convs[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	if _, ok := mc.members[userID]; !ok {
		return nil, ErrNotMember
	}
	return r.view(mc, userID), nil
}

func (r *MemoryRepo) CreateOrGetConversation(ctx context.Context, userID, otherUserID string) (*model.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := PeerKey(userID, otherUserID)
	if id, ok := r.peers[key]; ok {
		return r.view(r.convs[id], userID), nil
	}
	now := r.now()
	mc := &memConversation{
		conv: model.Conversation{
			ID:             uuid.NewString(),
			Type:           model.ConversationDirect,
			ParticipantIDs: []string{userID, otherUserID},
			UpdatedAt:      now,
		},
		members: map[string]*memMember{
			userID:      {read: make(map[string]struct{})},
			otherUserID: {read: make(map[string]struct{})},
		},
	}
	r.convs[mc.conv.ID] = mc
	r.peers[key] = mc.conv.ID
	return r.view(mc, userID), nil
}

func (r *MemoryRepo) UpdateMembership(ctx context.Context, userID, conversationID string, patch model.MembershipPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	mc, ok := r.convs[conversationID]
	if !ok {
		return ErrNotFound
	}
	mem, ok := mc.members[userID]
	if !ok {
		return ErrNotMember
	}
	if patch.IsMuted != nil {
		mem.muted = *patch.IsMuted
	}
	if patch.IsPinned != nil {
		mem.pinned = *patch.IsPinned
	}
	if patch.IsArchived != nil {
		mem.archived = *patch.IsArchived
	}
	return nil
}
