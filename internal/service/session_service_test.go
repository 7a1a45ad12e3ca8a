package service

import (
	"Parley/internal/cache"
	"Parley/internal/model"
	"Parley/internal/pkg/security"
	"Parley/internal/realtime"
	"Parley/internal/repository"
	"Parley/internal/store"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionFixture struct {
	repo     *repository.MemoryRepo
	ch       *realtime.MemoryChannel
	st       *store.Store
	convs    *cache.Conversations
	rt       *realtime.Manager
	receipts *ReceiptBatcher
	svc      SessionService
}

func newSessionFixture(t *testing.T, allowDev bool) *sessionFixture {
	t.Helper()
	issuer := security.NewTokenIssuer("secret", time.Hour)
	session := security.NewSession(issuer)
	f := &sessionFixture{repo: repository.NewMemoryRepo(), ch: realtime.NewMemoryChannel(), st: store.New()}
	f.repo.AddConversation(&model.Conversation{ID: "c1", Type: model.ConversationDirect, ParticipantIDs: []string{"alice", "bob"}})

	qc := cache.NewQueryCache(f.repo, f.st)
	f.convs = cache.NewConversations(f.repo, session)
	f.rt = realtime.NewManager(f.ch, qc, f.convs, session, realtime.Options{})
	f.receipts = NewReceiptBatcher(f.repo, qc, f.convs, session, time.Hour)
	f.svc = NewSessionService(session, issuer, qc, f.convs, f.rt, f.receipts, allowDev)
	t.Cleanup(func() {
		f.receipts.Close()
		f.rt.Dispose()
		qc.Close()
		f.convs.Close()
	})
	return f
}

func TestDevSignInWatchesConversationList(t *testing.T) {
	f := newSessionFixture(t, true)
	ctx := context.Background()

	token, err := f.svc.DevSignIn(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, token, f.svc.Token())
	uid, ok := f.svc.CurrentUserID()
	require.True(t, ok)
	assert.Equal(t, "alice", uid)

	assert.Equal(t, 1, f.ch.UserSubscribers("alice"))
	_, ok = f.convs.Peek("c1")
	assert.True(t, ok, "list is loaded on sign in")
}

func TestDevSignInDisabled(t *testing.T) {
	f := newSessionFixture(t, false)
	_, err := f.svc.DevSignIn(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestSignInRejectsBadToken(t *testing.T) {
	f := newSessionFixture(t, true)
	_, err := f.svc.SignIn(context.Background(), "garbage")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = f.svc.SignIn(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, ok := f.svc.CurrentUserID()
	assert.False(t, ok)
}

func TestSignOutFlushesAndClears(t *testing.T) {
	f := newSessionFixture(t, true)
	ctx := context.Background()
	seeded := f.repo.Seed("c1", &model.Message{SenderID: "bob", Content: "hi"})

	_, err := f.svc.DevSignIn(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, f.rt.Open(ctx, "c1"))
	f.st.Upsert("c1", seeded[0])
	require.Equal(t, 1, f.receipts.MarkVisible("c1", seeded[0].ID))

	f.svc.SignOut(ctx)
	require.Len(t, f.repo.ReadCalls(), 1)
	assert.Equal(t, "alice", f.repo.ReadCalls()[0].UserID)

	_, ok := f.svc.CurrentUserID()
	assert.False(t, ok)
	assert.Empty(t, f.st.Messages("c1"))
	_, ok = f.convs.Peek("c1")
	assert.False(t, ok)
	assert.Zero(t, f.ch.Subscribers("c1"))
	assert.Zero(t, f.ch.UserSubscribers("alice"))
}

func TestSwitchingUserResetsState(t *testing.T) {
	f := newSessionFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.DevSignIn(ctx, "alice")
	require.NoError(t, err)
	f.st.Upsert("c1", &model.Message{ID: "m1", ConversationID: "c1", SenderID: "bob"})

	_, err = f.svc.DevSignIn(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, f.st.Messages("c1"))
	assert.Zero(t, f.ch.UserSubscribers("alice"))
	assert.Equal(t, 1, f.ch.UserSubscribers("bob"))
}
