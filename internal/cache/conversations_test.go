package cache

import (
	"Parley/internal/model"
	"Parley/internal/pkg/security"
	"Parley/internal/repository"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConversations(t *testing.T) (*Conversations, *repository.MemoryRepo) {
	t.Helper()
	repo := repository.NewMemoryRepo()
	repo.AddConversation(&model.Conversation{ID: "c1", Type: model.ConversationDirect, ParticipantIDs: []string{"alice", "bob"}})
	repo.AddConversation(&model.Conversation{ID: "c2", Type: model.ConversationGroup, ParticipantIDs: []string{"alice", "bob", "carol"}})
	c := NewConversations(repo, security.StaticAuth("alice"))
	t.Cleanup(c.Close)
	return c, repo
}

func TestConversationsListRequiresSession(t *testing.T) {
	c := NewConversations(repository.NewMemoryRepo(), security.StaticAuth(""))
	defer c.Close()
	_, err := c.List(context.Background())
	assert.ErrorIs(t, err, security.ErrUnauthenticated)
}

func TestConversationsListOrdering(t *testing.T) {
	c, repo := newConversations(t)
	repo.Seed("c1", &model.Message{SenderID: "bob", Content: "old"})
	repo.Seed("c2", &model.Message{SenderID: "carol", Content: "new"})

	list, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c2", list[0].ID)

	c.ApplyMembership("c1", model.MembershipPatch{IsPinned: ptr(true)})
	list, _ = c.List(context.Background())
	assert.Equal(t, "c1", list[0].ID)
}

func TestUnreadFloorsAtZero(t *testing.T) {
	c, repo := newConversations(t)
	repo.Seed("c1", &model.Message{SenderID: "bob"}, &model.Message{SenderID: "bob"})
	_, err := c.List(context.Background())
	require.NoError(t, err)

	conv, _ := c.Peek("c1")
	require.Equal(t, 2, conv.UnreadCount)

	c.DecrementUnread("c1", 5)
	conv, _ = c.Peek("c1")
	assert.Equal(t, 0, conv.UnreadCount)

	c.DecrementUnread("c1", 1)
	conv, _ = c.Peek("c1")
	assert.Equal(t, 0, conv.UnreadCount)

	c.IncrementUnread("c1", 2)
	conv, _ = c.Peek("c1")
	assert.Equal(t, 2, conv.UnreadCount)
}

func TestOnMessage(t *testing.T) {
	c, _ := newConversations(t)
	_, err := c.List(context.Background())
	require.NoError(t, err)
	c.ApplyMembership("c1", model.MembershipPatch{IsArchived: ptr(true)})

	now := time.Now()
	c.OnMessage(&model.Message{ID: "m1", ConversationID: "c1", SenderID: "bob", Content: "hey", CreatedAt: now}, true)
	conv, _ := c.Peek("c1")
	assert.Equal(t, 1, conv.UnreadCount)
	assert.False(t, conv.IsArchived)
	assert.Equal(t, "hey", conv.LastMessage.Content)

	// 自己发送的消息不增加未读，重复消息也不增加
	c.OnMessage(&model.Message{ID: "m2", ConversationID: "c1", SenderID: "alice", Content: "yo", CreatedAt: now.Add(time.Second)}, true)
	c.OnMessage(&model.Message{ID: "m1", ConversationID: "c1", SenderID: "bob", Content: "hey", CreatedAt: now}, false)
	conv, _ = c.Peek("c1")
	assert.Equal(t, 1, conv.UnreadCount)
	assert.Equal(t, "yo", conv.LastMessage.Content)

	// 乐观消息不更新列表
	c.OnMessage(&model.Message{TempID: "t", ConversationID: "c1", SenderID: "alice", Content: "pending", CreatedAt: now.Add(time.Hour), State: model.StateSending}, true)
	conv, _ = c.Peek("c1")
	assert.Equal(t, "yo", conv.LastMessage.Content)
}

func TestApplyChangeFetchesUnknownConversation(t *testing.T) {
	c, repo := newConversations(t)
	ctx := context.Background()

	var seen []string
	unsub := c.Subscribe(func(conv *model.Conversation) { seen = append(seen, conv.ID) })
	defer unsub()

	repo.AddConversation(&model.Conversation{ID: "c3", Type: model.ConversationGroup, ParticipantIDs: []string{"alice", "dave"}})
	require.NoError(t, c.ApplyChange(ctx, ListInsert, &model.Conversation{ID: "c3"}))

	conv, ok := c.Peek("c3")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"alice", "dave"}, conv.ParticipantIDs)
	assert.Equal(t, []string{"c3"}, seen)

	require.NoError(t, c.ApplyChange(ctx, ListDelete, &model.Conversation{ID: "c3"}))
	conv, ok = c.Peek("c3")
	require.True(t, ok, "delete only archives")
	assert.True(t, conv.IsArchived)

	err := c.ApplyChange(ctx, ListInsert, &model.Conversation{ID: "missing"})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestReconcileCorrectsDrift(t *testing.T) {
	c, repo := newConversations(t)
	ctx := context.Background()
	msgs := repo.Seed("c1", &model.Message{SenderID: "bob"}, &model.Message{SenderID: "bob"}, &model.Message{SenderID: "bob"})
	require.NoError(t, c.Reconcile(ctx))

	c.DecrementUnread("c1", 3)
	require.NoError(t, repo.MarkMessagesRead(ctx, "alice", "c1", []string{msgs[0].ID}))
	require.NoError(t, c.Reconcile(ctx))

	conv, _ := c.Peek("c1")
	assert.Equal(t, 2, conv.UnreadCount)
}

func ptr[T any](v T) *T { return &v }

func TestReconcileSurvivesCallerCancellation(t *testing.T) {
	c, _ := newConversations(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = c.Reconcile(ctx)

	assert.Eventually(t, func() bool {
		_, ok := c.Peek("c2")
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestDeletedLastMessageClearsPreview(t *testing.T) {
	c, _ := newConversations(t)
	_, err := c.List(context.Background())
	require.NoError(t, err)

	now := time.Now()
	m1 := &model.Message{ID: "m1", ConversationID: "c1", SenderID: "bob", Content: "first", CreatedAt: now}
	m2 := &model.Message{ID: "m2", ConversationID: "c1", SenderID: "bob", Content: "secret", CreatedAt: now.Add(time.Second)}
	c.OnMessage(m1, true)
	c.OnMessage(m2, true)

	// 删除的不是最后一条时预览不变
	gone := m1.Clone()
	gone.IsDeleted = true
	c.OnMessage(gone, false)
	conv, _ := c.Peek("c1")
	assert.Equal(t, "secret", conv.LastMessage.Content)

	gone = m2.Clone()
	gone.IsDeleted = true
	c.OnMessage(gone, false)
	conv, _ = c.Peek("c1")
	assert.Equal(t, "m2", conv.LastMessage.ID)
	assert.True(t, conv.LastMessage.IsDeleted)
	assert.Empty(t, conv.LastMessage.Content)
	assert.Equal(t, 2, conv.UnreadCount)
}
