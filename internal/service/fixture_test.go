package service

import (
	"Parley/internal/cache"
	"Parley/internal/media"
	"Parley/internal/model"
	"Parley/internal/pkg/security"
	"Parley/internal/realtime"
	"Parley/internal/repository"
	"Parley/internal/store"
	"context"
	"testing"
	"time"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

type fixture struct {
	auth     security.AuthContext
	repo     *repository.MemoryRepo
	ch       *realtime.MemoryChannel
	st       *store.Store
	qc       *cache.QueryCache
	convs    *cache.Conversations
	rt       *realtime.Manager
	storage  *media.MemoryStorage
	ledger   *media.MemoryLedger
	previews *fakePreviews
	send     SendService
	receipts *ReceiptBatcher
	conv     ConversationService
}

type fakePreviews struct{}

func (fakePreviews) Resolve(_ context.Context, content string) []model.LinkPreview {
	return []model.LinkPreview{{URL: content, Title: "preview"}}
}

func newFixture(t *testing.T, user string) *fixture {
	t.Helper()
	f := &fixture{
		auth:     security.StaticAuth(user),
		repo:     repository.NewMemoryRepo(),
		ch:       realtime.NewMemoryChannel(),
		st:       store.New(),
		storage:  media.NewMemoryStorage(),
		ledger:   media.NewMemoryLedger(),
		previews: &fakePreviews{},
	}
	f.repo.AddConversation(&model.Conversation{ID: "c1", Type: model.ConversationDirect, ParticipantIDs: []string{"alice", "bob"}})
	f.qc = cache.NewQueryCache(f.repo, f.st)
	f.convs = cache.NewConversations(f.repo, f.auth)
	f.rt = realtime.NewManager(f.ch, f.qc, f.convs, f.auth, realtime.Options{})
	f.send = NewSendService(f.auth, f.repo, f.qc, f.convs, f.storage, f.ledger,
		media.NewProcessor(1280, 80, 200, ""), f.previews, SendOptions{UploadPrefix: "test"})
	f.receipts = NewReceiptBatcher(f.repo, f.qc, f.convs, f.auth, 100*time.Millisecond)
	f.conv = NewConversationService(f.auth, f.repo, f.qc, f.convs, f.rt)

	t.Cleanup(func() {
		f.send.Close()
		f.receipts.Close()
		f.rt.Dispose()
		f.qc.Close()
		f.convs.Close()
	})
	return f
}

func text(content string) SendParams {
	return SendParams{ConversationID: "c1", Content: content, Type: model.MessageText}
}
