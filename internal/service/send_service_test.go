package service

import (
	"Parley/internal/media"
	"Parley/internal/model"
	"Parley/internal/store"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errOffline = errors.New("network unreachable")

// 场景一：离线发送失败，重试后在原位置确认
func TestSendFailThenRetry(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	f.repo.Seed("c1", &model.Message{SenderID: "bob", Content: "earlier"})
	_, err := f.qc.Messages(ctx, "c1")
	require.NoError(t, err)

	f.repo.SetInsertHook(func(context.Context, *model.Message) error { return errOffline })
	failed, err := f.send.Send(ctx, text("hello"))
	require.ErrorIs(t, err, ErrSendFailed)
	require.ErrorIs(t, err, errOffline)
	require.NotNil(t, failed)
	assert.True(t, failed.Failed())
	assert.True(t, failed.Optimistic())

	msgs := f.st.Messages("c1")
	require.Len(t, msgs, 2, "failed message stays visible")
	assert.Equal(t, failed.TempID, msgs[1].TempID)

	f.repo.SetInsertHook(nil)
	sent, err := f.send.Retry(ctx, "c1", failed.TempID)
	require.NoError(t, err)
	assert.Equal(t, failed.TempID, sent.TempID, "retry keeps the temp id")
	assert.False(t, sent.Optimistic())
	assert.NotEmpty(t, sent.ID)
	assert.Equal(t, model.StatusSent, sent.DeliveryStatus)

	msgs = f.st.Messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "earlier", msgs[0].Content)
	assert.Equal(t, sent.ID, msgs[1].ID)
}

func TestOptimisticEntryAppearsBeforeNetwork(t *testing.T) {
	f := newFixture(t, "alice")
	release := make(chan struct{})
	f.repo.SetInsertHook(func(ctx context.Context, _ *model.Message) error {
		<-release
		return nil
	})

	msg, err := f.send.SendAsync(context.Background(), text("hi"))
	require.NoError(t, err)
	assert.Equal(t, model.StateSending, msg.State)
	assert.Equal(t, model.StatusSending, msg.DeliveryStatus)

	cur, ok := f.st.Get("c1", msg.TempID)
	require.True(t, ok)
	assert.True(t, cur.Optimistic())

	close(release)
	assert.Eventually(t, func() bool {
		m, ok := f.st.Get("c1", msg.TempID)
		return ok && !m.Optimistic()
	}, waitFor, tick)
}

func TestSendRequiresSession(t *testing.T) {
	f := newFixture(t, "")
	_, err := f.send.Send(context.Background(), text("hi"))
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Empty(t, f.st.Messages("c1"))

	_, err = f.send.SendAsync(context.Background(), text("hi"))
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Empty(t, f.st.Messages("c1"))
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()

	cases := []SendParams{
		{Content: "no conversation"},
		{ConversationID: "c1", Content: "   "},
		{ConversationID: "c1", Content: "x", Type: "sticker"},
		{ConversationID: "c1", Type: model.MessageImage},
		{ConversationID: "c1", Content: "x", Attachments: []media.Asset{{Data: []byte("a")}}, Type: model.MessageText},
	}
	for _, p := range cases {
		_, err := f.send.Send(ctx, p)
		assert.ErrorIs(t, err, ErrParamInvalid, "%+v", p)
	}
	assert.Empty(t, f.st.Messages("c1"))
}

func TestRetryGuards(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()

	sent, err := f.send.Send(ctx, text("fine"))
	require.NoError(t, err)
	_, err = f.send.Retry(ctx, "c1", sent.TempID)
	assert.ErrorIs(t, err, ErrNotRetryable)
	_, err = f.send.Retry(ctx, "c1", "unknown")
	assert.ErrorIs(t, err, ErrNotRetryable)

	f.repo.SetInsertHook(func(context.Context, *model.Message) error { return errOffline })
	failed, err := f.send.Send(ctx, text("again"))
	require.ErrorIs(t, err, ErrSendFailed)

	release := make(chan struct{})
	f.repo.SetInsertHook(func(context.Context, *model.Message) error {
		<-release
		return nil
	})
	require.NoError(t, f.send.RetryAsync(ctx, "c1", failed.TempID))
	assert.ErrorIs(t, f.send.RetryAsync(ctx, "c1", failed.TempID), ErrRetryInProgress)
	_, err = f.send.Retry(ctx, "c1", failed.TempID)
	assert.ErrorIs(t, err, ErrRetryInProgress)

	cur, _ := f.st.Get("c1", failed.TempID)
	assert.Equal(t, model.StateSending, cur.State)

	close(release)
	assert.Eventually(t, func() bool {
		m, ok := f.st.Get("c1", failed.TempID)
		return ok && !m.Optimistic()
	}, waitFor, tick)
}

// 推送回显先于插入响应到达
func TestEchoBeforeResponse(t *testing.T) {
	for _, keepTempID := range []bool{true, false} {
		f := newFixture(t, "alice")
		f.repo.OnInsert(func(m *model.Message) {
			echo := m.Clone()
			echo.DeliveryStatus = model.StatusDelivered
			if !keepTempID {
				echo.TempID = ""
			}
			f.st.Upsert(m.ConversationID, echo)
		})

		sent, err := f.send.Send(context.Background(), text("race"))
		require.NoError(t, err)

		msgs := f.st.Messages("c1")
		require.Len(t, msgs, 1, "keepTempID=%v", keepTempID)
		assert.Equal(t, sent.ID, msgs[0].ID)
		assert.Equal(t, sent.TempID, msgs[0].TempID)
		assert.False(t, msgs[0].Optimistic())
		assert.Equal(t, model.StatusDelivered, msgs[0].DeliveryStatus)
	}
}

func TestSendOrderIsPreserved(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	a, err := f.send.Send(ctx, text("A"))
	require.NoError(t, err)
	b, err := f.send.Send(ctx, text("B"))
	require.NoError(t, err)

	msgs := f.st.Messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, a.ID, msgs[0].ID)
	assert.Equal(t, b.ID, msgs[1].ID)
}

func TestSendUpdatesConversationSummary(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	_, err := f.convs.List(ctx)
	require.NoError(t, err)

	sent, err := f.send.Send(ctx, text("latest"))
	require.NoError(t, err)
	conv, _ := f.convs.Peek("c1")
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, sent.ID, conv.LastMessage.ID)
	assert.Zero(t, conv.UnreadCount)
}

func TestLinkMessageResolvesPreviews(t *testing.T) {
	f := newFixture(t, "alice")
	sent, err := f.send.Send(context.Background(), SendParams{ConversationID: "c1", Content: "https://example.com", Type: model.MessageLink})
	require.NoError(t, err)
	require.Len(t, sent.LinkPreviews, 1)
	assert.Equal(t, "preview", sent.LinkPreviews[0].Title)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 80, B: 40, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

func TestSendImageUploadsMainAndThumbnail(t *testing.T) {
	f := newFixture(t, "alice")
	sent, err := f.send.Send(context.Background(), SendParams{
		ConversationID: "c1",
		Type:           model.MessageImage,
		Attachments:    []media.Asset{{Data: pngBytes(t, 2000, 1000), ContentType: "image/png", Filename: "photo.png"}},
	})
	require.NoError(t, err)
	require.Len(t, sent.MediaURLs, 1)
	assert.NotEmpty(t, sent.ThumbnailURL)
	assert.Nil(t, sent.UploadProgress)
	assert.Len(t, f.storage.Paths(), 2)

	data, ok := f.storage.Object(f.storage.Paths()[0])
	require.True(t, ok)
	img, _, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.LessOrEqual(t, img.Bounds().Dx(), 1280)
}

func TestUploadFailureThenRetry(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	f.storage.FailUploads(errOffline)

	failed, err := f.send.Send(ctx, SendParams{
		ConversationID: "c1",
		Type:           model.MessageFile,
		Attachments:    []media.Asset{{Data: bytes.Repeat([]byte("x"), 1024), Filename: "a.txt"}},
	})
	require.ErrorIs(t, err, ErrSendFailed)
	assert.True(t, failed.Failed())
	assert.Nil(t, failed.UploadProgress)

	f.storage.FailUploads(nil)
	sent, err := f.send.Retry(ctx, "c1", failed.TempID)
	require.NoError(t, err)
	assert.Len(t, sent.MediaURLs, 1)
}

// 场景四：上传到 40% 时取消，之后的进度被丢弃，已上传对象被删除
func TestCancelUploadMidway(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	f.storage.Throttle(64*1024, 20*time.Millisecond)

	var mu sync.Mutex
	var progress []int
	unsub := f.st.Subscribe(func(c store.Change) {
		if p, ok := c.Message.Progress(); ok && c.Message.State == model.StateSending {
			mu.Lock()
			progress = append(progress, p)
			mu.Unlock()
		}
	})
	defer unsub()

	msg, err := f.send.SendAsync(ctx, SendParams{
		ConversationID: "c1",
		Type:           model.MessageFile,
		Attachments: []media.Asset{
			{Data: bytes.Repeat([]byte("a"), 256*1024), Filename: "small.bin"},
			{Data: bytes.Repeat([]byte("b"), 1024*1024), Filename: "big.bin"},
		},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		m, _ := f.st.Get("c1", msg.TempID)
		p, ok := m.Progress()
		return ok && p >= 40
	}, waitFor, tick)
	assert.True(t, f.send.CancelUpload("c1", msg.TempID))

	cur, _ := f.st.Get("c1", msg.TempID)
	assert.True(t, cur.Failed())
	_, hasProgress := cur.Progress()
	assert.False(t, hasProgress)

	// 迟到的进度不会把失败状态改回发送中
	assert.False(t, f.st.SetUploadProgress("c1", msg.TempID, 45))
	cur, _ = f.st.Get("c1", msg.TempID)
	assert.True(t, cur.Failed())

	assert.Eventually(t, func() bool { return len(f.storage.Paths()) == 0 }, waitFor, tick)
	assert.Eventually(t, func() bool { return !f.send.CancelUpload("c1", msg.TempID) }, waitFor, tick)

	mu.Lock()
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1])
	}
	mu.Unlock()

	f.storage.Throttle(64*1024, 0)
	require.Eventually(t, func() bool {
		return f.send.RetryAsync(ctx, "c1", msg.TempID) == nil
	}, waitFor, tick)
	assert.Eventually(t, func() bool {
		m, ok := f.st.Get("c1", msg.TempID)
		return ok && !m.Optimistic() && len(m.MediaURLs) == 2
	}, waitFor, tick)
}

func TestCancelledUploadRecordsOrphansWhenDeleteFails(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	f.storage.Throttle(64*1024, 20*time.Millisecond)
	f.storage.FailDeletes(errOffline)

	msg, err := f.send.SendAsync(ctx, SendParams{
		ConversationID: "c1",
		Type:           model.MessageFile,
		Attachments: []media.Asset{
			{Data: bytes.Repeat([]byte("a"), 128*1024), Filename: "one.bin"},
			{Data: bytes.Repeat([]byte("b"), 1024*1024), Filename: "two.bin"},
		},
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		m, _ := f.st.Get("c1", msg.TempID)
		p, _ := m.Progress()
		return p >= 30
	}, waitFor, tick)
	require.True(t, f.send.CancelUpload("c1", msg.TempID))

	assert.Eventually(t, func() bool {
		orphans, _ := f.ledger.List(ctx)
		return len(orphans) == 2
	}, waitFor, tick)
	assert.Len(t, f.storage.Paths(), 1)
}

func TestCloseWaitsForInflightSends(t *testing.T) {
	f := newFixture(t, "alice")
	f.repo.SetInsertHook(func(context.Context, *model.Message) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	msg, err := f.send.SendAsync(context.Background(), text("bye"))
	require.NoError(t, err)

	f.send.Close()
	cur, _ := f.st.Get("c1", msg.TempID)
	assert.False(t, cur.Optimistic())

	_, err = f.send.Send(context.Background(), text("late"))
	assert.ErrorIs(t, err, ErrSendFailed)
}

func TestTypeInferredFromAttachment(t *testing.T) {
	assert.Equal(t, model.MessageImage, typeOf("image/webp"))
	assert.Equal(t, model.MessageVideo, typeOf("video/mp4"))
	assert.Equal(t, model.MessageAudio, typeOf("audio/ogg"))
	assert.Equal(t, model.MessageFile, typeOf("application/pdf"))
	assert.Equal(t, model.MessageFile, typeOf(""))
}
