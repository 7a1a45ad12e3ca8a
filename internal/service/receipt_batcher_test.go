package service

import (
	"Parley/internal/model"
	"Parley/internal/realtime"
	"Parley/internal/repository"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedUnread 写入 bob 发来的 n 条消息并加载到缓存
func seedUnread(t *testing.T, f *fixture, n int) []string {
	t.Helper()
	ctx := context.Background()
	var ids []string
	for i := 0; i < n; i++ {
		m := f.repo.Seed("c1", &model.Message{SenderID: "bob", Content: "unread", Type: model.MessageText})
		ids = append(ids, m[0].ID)
	}
	_, err := f.qc.Messages(ctx, "c1")
	require.NoError(t, err)
	_, err = f.convs.List(ctx)
	require.NoError(t, err)
	return ids
}

func unread(f *fixture) int {
	conv, _ := f.convs.Peek("c1")
	return conv.UnreadCount
}

// 场景三：三条消息在防抖窗口内可见，只上报一次
func TestReceiptsAreBatched(t *testing.T) {
	f := newFixture(t, "alice")
	ids := seedUnread(t, f, 3)
	require.Equal(t, 3, unread(f))

	assert.Equal(t, 1, f.receipts.MarkVisible("c1", ids[0]))
	assert.Equal(t, 2, f.receipts.MarkVisible("c1", ids[1], ids[2]))
	assert.Equal(t, 0, unread(f), "unread drops before the flush")
	assert.Equal(t, 3, f.receipts.Pending("c1"))

	for _, id := range ids {
		m, _ := f.st.Get("c1", id)
		assert.Equal(t, model.StatusRead, m.DeliveryStatus)
	}

	require.Eventually(t, func() bool { return len(f.repo.ReadCalls()) == 1 }, waitFor, tick)
	time.Sleep(150 * time.Millisecond)
	calls := f.repo.ReadCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "alice", calls[0].UserID)
	assert.ElementsMatch(t, ids, calls[0].MessageIDs)
	assert.Zero(t, f.receipts.Pending("c1"))

	conv, err := f.repo.FetchConversation(context.Background(), "alice", "c1")
	require.NoError(t, err)
	assert.Zero(t, conv.UnreadCount)
}

func TestReceiptsSkipIneligibleMessages(t *testing.T) {
	f := newFixture(t, "alice")
	ids := seedUnread(t, f, 1)
	own := f.repo.Seed("c1", &model.Message{SenderID: "alice", Content: "mine"})[0]
	deleted := f.repo.Seed("c1", &model.Message{SenderID: "bob", Content: "gone", IsDeleted: true})[0]
	require.NoError(t, f.qc.Refresh(context.Background(), "c1"))

	f.st.Upsert("c1", &model.Message{TempID: "tmp", ConversationID: "c1", SenderID: "bob", State: model.StateSending})

	assert.Zero(t, f.receipts.MarkVisible("c1", own.ID, deleted.ID, "tmp", "missing"))
	assert.Equal(t, 1, f.receipts.MarkVisible("c1", ids[0], ids[0]))
	assert.Zero(t, f.receipts.MarkVisible("c1", ids[0]), "already queued")

	f.receipts.Flush(context.Background())
	assert.Zero(t, f.receipts.MarkVisible("c1", ids[0]), "already read")
	assert.Len(t, f.repo.ReadCalls(), 1)
}

func TestReceiptsUnreadNeverNegative(t *testing.T) {
	f := newFixture(t, "alice")
	ids := seedUnread(t, f, 3)
	f.convs.Upsert(&model.Conversation{ID: "c1", Type: model.ConversationDirect, ParticipantIDs: []string{"alice", "bob"}, UnreadCount: 1})

	assert.Equal(t, 3, f.receipts.MarkVisible("c1", ids...))
	assert.Zero(t, unread(f))
}

type failingReads struct {
	repository.RemoteRepo
	calls int
}

func (r *failingReads) MarkMessagesRead(context.Context, string, string, []string) error {
	r.calls++
	return errOffline
}

func TestReceiptFlushFailureKeepsLocalState(t *testing.T) {
	f := newFixture(t, "alice")
	ids := seedUnread(t, f, 2)
	remote := &failingReads{RemoteRepo: f.repo}
	b := NewReceiptBatcher(remote, f.qc, f.convs, f.auth, time.Hour)

	assert.Equal(t, 2, b.MarkVisible("c1", ids...))
	b.Flush(context.Background())
	assert.Equal(t, 1, remote.calls)

	assert.Zero(t, unread(f))
	m, _ := f.st.Get("c1", ids[0])
	assert.Equal(t, model.StatusRead, m.DeliveryStatus)
	assert.Zero(t, b.Pending("c1"))
	b.Close()
}

func TestReceiptCloseFlushesPending(t *testing.T) {
	f := newFixture(t, "alice")
	ids := seedUnread(t, f, 2)
	b := NewReceiptBatcher(f.repo, f.qc, f.convs, f.auth, time.Hour)
	require.Equal(t, 2, b.MarkVisible("c1", ids...))

	b.Close()
	require.Len(t, f.repo.ReadCalls(), 1)
	assert.Zero(t, b.MarkVisible("c1", ids...))
}

func TestReceiptsRequireSession(t *testing.T) {
	f := newFixture(t, "")
	assert.Zero(t, f.receipts.MarkVisible("c1", "m1"))
}

// 群聊中第三方的回执不影响本人的已读与未读
func TestGroupReceiptFromOtherMemberKeepsOwnUnread(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	f.repo.AddConversation(&model.Conversation{ID: "g1", Type: model.ConversationGroup, ParticipantIDs: []string{"alice", "bob", "carol"}})
	fromBob := f.repo.Seed("g1", &model.Message{SenderID: "bob", Content: "hi all", Type: model.MessageText})[0]
	fromCarol := f.repo.Seed("g1", &model.Message{SenderID: "carol", Content: "hey", Type: model.MessageText})[0]
	mine := f.repo.Seed("g1", &model.Message{SenderID: "alice", Content: "hello", Type: model.MessageText})[0]
	_, err := f.qc.Messages(ctx, "g1")
	require.NoError(t, err)
	_, err = f.convs.List(ctx)
	require.NoError(t, err)
	conv, _ := f.convs.Peek("g1")
	require.Equal(t, 2, conv.UnreadCount)

	require.NoError(t, f.rt.Open(ctx, "g1"))
	require.NoError(t, f.ch.PublishReadReceipt(ctx, realtime.ReadReceipt{
		ConversationID: "g1", ReaderID: "carol", MessageIDs: []string{fromBob.ID, mine.ID},
	}))
	now := time.Now()
	require.NoError(t, f.ch.PublishMessage(ctx, &model.Message{ID: "marker", ConversationID: "g1", SenderID: "dave", CreatedAt: now, UpdatedAt: now}))
	require.Eventually(t, func() bool { _, ok := f.st.Get("g1", "marker"); return ok }, waitFor, tick)

	m, _ := f.st.Get("g1", mine.ID)
	assert.Equal(t, model.StatusRead, m.DeliveryStatus)
	m, _ = f.st.Get("g1", fromBob.ID)
	assert.NotEqual(t, model.StatusRead, m.DeliveryStatus)

	assert.Equal(t, 2, f.receipts.MarkVisible("g1", fromBob.ID, fromCarol.ID, mine.ID))
	conv, _ = f.convs.Peek("g1")
	assert.Equal(t, 1, conv.UnreadCount, "the marker from dave is still unread")

	f.receipts.Flush(ctx)
	calls := f.repo.ReadCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "alice", calls[0].UserID)
	assert.ElementsMatch(t, []string{fromBob.ID, fromCarol.ID}, calls[0].MessageIDs)
}
