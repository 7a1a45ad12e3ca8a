package store

import (
	"Parley/internal/model"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func confirmed(id string, at time.Duration) *model.Message {
	return &model.Message{
		ID:             id,
		ConversationID: "c1",
		SenderID:       "bob",
		Content:        "hello " + id,
		Type:           model.MessageText,
		CreatedAt:      base.Add(at),
		UpdatedAt:      base.Add(at),
		DeliveryStatus: model.StatusSent,
	}
}

func optimistic(tempID string) *model.Message {
	return &model.Message{
		TempID:         tempID,
		ConversationID: "c1",
		SenderID:       "alice",
		Content:        "draft " + tempID,
		Type:           model.MessageText,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
		State:          model.StateSending,
	}
}

func keys(msgs []*model.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Key())
	}
	return out
}

func TestUpsertIsIdempotent(t *testing.T) {
	s := New()
	m := confirmed("m1", 0)

	assert.True(t, s.Upsert("c1", m))
	once := s.Messages("c1")

	assert.False(t, s.Upsert("c1", m))
	assert.Equal(t, once, s.Messages("c1"))

	o := optimistic("t1")
	assert.True(t, s.Upsert("c1", o))
	assert.False(t, s.Upsert("c1", o))
	assert.Len(t, s.Messages("c1"), 2)
}

func TestUpsertInvalidInputIsNoop(t *testing.T) {
	s := New()
	assert.False(t, s.Upsert("", confirmed("m1", 0)))
	assert.False(t, s.Upsert("c1", nil))
	assert.False(t, s.Upsert("c1", &model.Message{}))
	assert.Empty(t, s.Messages("c1"))
}

func TestConfirmedOrderingByCreatedAt(t *testing.T) {
	s := New()
	s.Upsert("c1", confirmed("m3", 3*time.Second))
	s.Upsert("c1", confirmed("m1", time.Second))
	s.Upsert("c1", confirmed("m2", 2*time.Second))
	s.Upsert("c1", confirmed("m0", 2*time.Second))

	assert.Equal(t, []string{"m1", "m0", "m2", "m3"}, keys(s.Messages("c1")))
}

func TestOptimisticAfterConfirmed(t *testing.T) {
	s := New()
	s.Upsert("c1", optimistic("t1"))
	s.Upsert("c1", confirmed("m1", time.Second))
	s.Upsert("c1", optimistic("t2"))

	assert.Equal(t, []string{"m1", "t1", "t2"}, keys(s.Messages("c1")))
}

func TestReplaceOptimisticLeavesSingleEntry(t *testing.T) {
	s := New()
	s.Upsert("c1", confirmed("m1", 0))
	s.Upsert("c1", optimistic("t1"))

	s.ReplaceOptimistic("c1", "t1", confirmed("m2", time.Second))

	msgs := s.Messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, []string{"m1", "m2"}, keys(msgs))
	assert.False(t, msgs[1].Optimistic())
	assert.Equal(t, "t1", msgs[1].TempID)
	_, ok := msgs[1].Progress()
	assert.False(t, ok)

	// 按 tempId 依旧可以找到
	got, ok := s.Get("c1", "t1")
	require.True(t, ok)
	assert.Equal(t, "m2", got.ID)
}

func TestEchoBeforeResponse(t *testing.T) {
	s := New()
	s.Upsert("c1", optimistic("t1"))

	// 推送先到，携带客户端 tempId
	echo := confirmed("m9", time.Second)
	echo.TempID = "t1"
	echo.DeliveryStatus = model.StatusDelivered
	assert.False(t, s.Upsert("c1", echo))

	// 随后收到插入响应
	s.ReplaceOptimistic("c1", "t1", confirmed("m9", time.Second))

	msgs := s.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "m9", msgs[0].ID)
	assert.Equal(t, model.StatusDelivered, msgs[0].DeliveryStatus)
}

func TestEchoWithoutTempIDMergesIntoTwin(t *testing.T) {
	s := New()
	s.Upsert("c1", confirmed("m1", 0))
	s.Upsert("c1", optimistic("t1"))
	s.Upsert("c1", optimistic("t2"))

	// 推送未携带 tempId，先以新消息插入
	assert.True(t, s.Upsert("c1", confirmed("m2", time.Second)))
	assert.Len(t, s.Messages("c1"), 4)

	s.ReplaceOptimistic("c1", "t1", confirmed("m2", time.Second))

	assert.Equal(t, []string{"m1", "m2", "t2"}, keys(s.Messages("c1")))
}

func TestOrderPreservedAcrossConfirmation(t *testing.T) {
	s := New()
	s.Upsert("c1", confirmed("m0", 0))
	s.Upsert("c1", optimistic("tA"))
	s.Upsert("c1", optimistic("tB"))

	// B 先确认，A 仍在发送中，B 不能跳到 A 前面
	s.ReplaceOptimistic("c1", "tB", confirmed("mB", 2*time.Second))
	assert.Equal(t, []string{"m0", "tA", "mB"}, keys(s.Messages("c1")))

	s.ReplaceOptimistic("c1", "tA", confirmed("mA", time.Second))
	assert.Equal(t, []string{"m0", "mA", "mB"}, keys(s.Messages("c1")))
}

func TestFailedMessageDoesNotPinLaterConfirmations(t *testing.T) {
	s := New()
	s.Upsert("c1", optimistic("tA"))
	s.Upsert("c1", optimistic("tB"))
	s.MarkFailed("c1", "tA")
	s.ReplaceOptimistic("c1", "tB", confirmed("mB", time.Second))

	assert.Equal(t, []string{"mB", "tA"}, keys(s.Messages("c1")))
}

func TestMarkFailedClearsProgressAndDropsLateTicks(t *testing.T) {
	s := New()
	s.Upsert("c1", optimistic("t1"))
	assert.True(t, s.SetUploadProgress("c1", "t1", 40))

	assert.True(t, s.MarkFailed("c1", "t1"))
	m, _ := s.Get("c1", "t1")
	assert.True(t, m.Failed())
	_, ok := m.Progress()
	assert.False(t, ok)

	assert.False(t, s.SetUploadProgress("c1", "t1", 80))
	m, _ = s.Get("c1", "t1")
	_, ok = m.Progress()
	assert.False(t, ok)
}

func TestInvalidTransitionsAreNoops(t *testing.T) {
	s := New()
	assert.False(t, s.MarkFailed("c1", "nope"))
	assert.False(t, s.MarkSending("c1", "nope"))

	s.Upsert("c1", optimistic("t1"))
	assert.False(t, s.MarkSending("c1", "t1"))

	s.ReplaceOptimistic("c1", "t1", confirmed("m1", 0))
	assert.False(t, s.MarkFailed("c1", "t1"))
	m, _ := s.Get("c1", "m1")
	assert.False(t, m.Failed())

	// 已确认消息不会被乐观写入降级
	s.Upsert("c1", optimistic("t1"))
	m, _ = s.Get("c1", "t1")
	assert.False(t, m.Optimistic())
}

func TestRetryTransition(t *testing.T) {
	s := New()
	s.Upsert("c1", optimistic("t1"))
	s.MarkFailed("c1", "t1")

	assert.True(t, s.MarkSending("c1", "t1"))
	m, _ := s.Get("c1", "t1")
	assert.Equal(t, model.StateSending, m.State)
	assert.Equal(t, "t1", m.TempID)
}

func TestLastWriterWins(t *testing.T) {
	s := New()
	s.Upsert("c1", confirmed("m1", 0))

	edit := confirmed("m1", 0)
	edit.Content = "edited"
	edit.IsEdited = true
	edit.UpdatedAt = base.Add(time.Minute)
	s.Upsert("c1", edit)

	stale := confirmed("m1", 0)
	stale.Content = "stale"
	s.Upsert("c1", stale)

	m, _ := s.Get("c1", "m1")
	assert.Equal(t, "edited", m.Content)
	assert.True(t, m.IsEdited)
}

func TestDeletedMessageIsNotResurrected(t *testing.T) {
	s := New()
	del := confirmed("m1", 0)
	del.IsDeleted = true
	del.UpdatedAt = base.Add(time.Minute)
	s.Upsert("c1", del)

	s.Upsert("c1", confirmed("m1", 0))
	m, _ := s.Get("c1", "m1")
	assert.True(t, m.IsDeleted)

	same := confirmed("m1", 0)
	same.UpdatedAt = base.Add(time.Minute)
	s.Upsert("c1", same)
	m, _ = s.Get("c1", "m1")
	assert.True(t, m.IsDeleted)
}

func TestDeliveryStatusOnlyMovesForward(t *testing.T) {
	s := New()
	s.Upsert("c1", confirmed("m1", 0))

	assert.True(t, s.SetDeliveryStatus("c1", "m1", model.StatusRead))
	assert.False(t, s.SetDeliveryStatus("c1", "m1", model.StatusDelivered))

	again := confirmed("m1", 0)
	again.DeliveryStatus = model.StatusDelivered
	s.Upsert("c1", again)

	m, _ := s.Get("c1", "m1")
	assert.Equal(t, model.StatusRead, m.DeliveryStatus)
}

func TestRemove(t *testing.T) {
	s := New()
	s.Upsert("c1", optimistic("t1"))
	assert.True(t, s.Remove("c1", "t1"))
	assert.False(t, s.Remove("c1", "t1"))
	assert.Empty(t, s.Messages("c1"))
}

func TestToggleReaction(t *testing.T) {
	s := New()
	s.Upsert("c1", confirmed("m1", 0))

	s.ToggleReaction("c1", "m1", "alice", "👍")
	s.ToggleReaction("c1", "m1", "bob", "👍")
	s.ToggleReaction("c1", "m1", "alice", "🎉")

	m, _ := s.Get("c1", "m1")
	assert.Equal(t, 1, m.Reactions.Count("👍"))
	assert.Equal(t, 1, m.Reactions.Count("🎉"))

	// 服务端数据不带表情时保留本地表情
	later := confirmed("m1", 0)
	later.UpdatedAt = base.Add(time.Second)
	s.Upsert("c1", later)
	m, _ = s.Get("c1", "m1")
	assert.Equal(t, 1, m.Reactions.Count("🎉"))
}

func TestSubscribeBroadcastsSynchronously(t *testing.T) {
	s := New()
	var got []Change
	unsub := s.Subscribe(func(c Change) { got = append(got, c) })

	s.Upsert("c1", optimistic("t1"))
	s.SetUploadProgress("c1", "t1", 10)
	s.ReplaceOptimistic("c1", "t1", confirmed("m1", 0))

	require.Len(t, got, 3)
	assert.Equal(t, ChangeUpsert, got[0].Kind)
	assert.Equal(t, ChangeProgress, got[1].Kind)
	assert.Equal(t, ChangeConfirm, got[2].Kind)
	assert.Equal(t, "t1", got[2].TempID)
	assert.Equal(t, "m1", got[2].Key)

	unsub()
	unsub()
	s.Upsert("c1", confirmed("m2", 0))
	assert.Len(t, got, 3)
}

func TestListenerPanicDoesNotBreakStore(t *testing.T) {
	s := New()
	s.Subscribe(func(Change) { panic("boom") })
	calls := 0
	s.Subscribe(func(Change) { calls++ })

	assert.NotPanics(t, func() { s.Upsert("c1", confirmed("m1", 0)) })
	assert.Equal(t, 1, calls)
}

func TestOldest(t *testing.T) {
	s := New()
	_, ok := s.Oldest("c1")
	assert.False(t, ok)

	s.Upsert("c1", optimistic("t1"))
	s.UpsertMany("c1", []*model.Message{confirmed("m2", 2*time.Second), confirmed("m1", time.Second)})

	m, ok := s.Oldest("c1")
	require.True(t, ok)
	assert.Equal(t, "m1", m.ID)
}

// 推送先到且没有 tempId，响应丢失后消息被标记失败，之后带 tempId 的副本到达
func TestCorrelatedCopyRemovesFailedTwin(t *testing.T) {
	s := New()
	s.Upsert("c1", optimistic("tmp1"))
	s.Upsert("c1", optimistic("tmp2"))
	echo := confirmed("m1", time.Second)
	echo.SenderID = "alice"
	s.Upsert("c1", echo)
	require.True(t, s.MarkFailed("c1", "tmp1"))
	require.Len(t, s.Messages("c1"), 3)

	var got []Change
	s.Subscribe(func(c Change) { got = append(got, c) })

	page := echo.Clone()
	page.TempID = "tmp1"
	assert.False(t, s.Upsert("c1", page))

	assert.Equal(t, []string{"m1", "tmp2"}, keys(s.Messages("c1")))
	m, ok := s.Get("c1", "tmp1")
	require.True(t, ok)
	assert.Equal(t, "m1", m.ID)
	assert.False(t, m.Optimistic())
	assert.False(t, s.MarkSending("c1", "tmp1"), "nothing left to retry")

	require.Len(t, got, 1)
	assert.Equal(t, ChangeConfirm, got[0].Kind)
	assert.Equal(t, "tmp1", got[0].TempID)

	assert.False(t, s.Upsert("c1", page))
	assert.Len(t, s.Messages("c1"), 2)
}

func TestTrimOlderKeepsOptimistic(t *testing.T) {
	s := New()
	s.UpsertMany("c1", []*model.Message{confirmed("m1", time.Second), confirmed("m2", 2*time.Second), confirmed("m3", 3*time.Second)})
	s.Upsert("c1", optimistic("t1"))

	pivot, _ := s.Get("c1", "m2")
	assert.Equal(t, 1, s.TrimOlder("c1", pivot))
	assert.Equal(t, []string{"m2", "m3", "t1"}, keys(s.Messages("c1")))
	assert.Zero(t, s.TrimOlder("c1", nil))
	assert.Zero(t, s.TrimOlder("missing", pivot))
}
