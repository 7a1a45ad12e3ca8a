package service

import (
	"Parley/internal/model"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenDirect(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()

	_, err := f.conv.OpenDirect(ctx, "alice")
	assert.ErrorIs(t, err, ErrTargetUserInvalid)
	_, err = f.conv.OpenDirect(ctx, "")
	assert.ErrorIs(t, err, ErrTargetUserInvalid)

	existing, err := f.conv.OpenDirect(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "c1", existing.ID)

	created, err := f.conv.OpenDirect(ctx, "carol")
	require.NoError(t, err)
	again, err := f.conv.OpenDirect(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)

	cached, ok := f.convs.Peek(created.ID)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"alice", "carol"}, cached.ParticipantIDs)
}

func TestEnterAndLeave(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	f.repo.Seed("c1", &model.Message{SenderID: "bob", Content: "hi"})

	msgs, err := f.conv.Enter(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.Equal(t, 1, f.rt.Refs("c1"))
	assert.Equal(t, 4, f.ch.Subscribers("c1"))

	_, err = f.conv.Enter(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, f.rt.Refs("c1"))

	f.conv.Leave("c1")
	f.conv.Leave("c1")
	assert.Zero(t, f.rt.Refs("c1"))
	assert.Zero(t, f.ch.Subscribers("c1"))

	_, err = f.conv.Enter(ctx, "nope")
	assert.ErrorIs(t, err, ErrConversationNotFound)
	assert.Zero(t, f.rt.Refs("nope"))
}

func TestUpdateMembership(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	_, err := f.conv.List(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, f.conv.UpdateMembership(ctx, "c1", model.MembershipPatch{}), ErrParamInvalid)

	yes := true
	require.NoError(t, f.conv.UpdateMembership(ctx, "c1", model.MembershipPatch{IsPinned: &yes, IsMuted: &yes}))
	cached, _ := f.convs.Peek("c1")
	assert.True(t, cached.IsPinned)
	assert.True(t, f.convs.IsMuted("c1"))

	remote, err := f.repo.FetchConversation(ctx, "alice", "c1")
	require.NoError(t, err)
	assert.True(t, remote.IsPinned)
}

func TestToggleReaction(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	seeded := f.repo.Seed("c1", &model.Message{SenderID: "bob", Content: "nice"})
	_, err := f.conv.Messages(ctx, "c1")
	require.NoError(t, err)

	require.NoError(t, f.conv.ToggleReaction(ctx, "c1", seeded[0].ID, "👍"))
	m, _ := f.st.Get("c1", seeded[0].ID)
	assert.Equal(t, 1, m.Reactions.Count("👍"))

	require.NoError(t, f.conv.ToggleReaction(ctx, "c1", seeded[0].ID, "👍"))
	m, _ = f.st.Get("c1", seeded[0].ID)
	assert.Zero(t, m.Reactions.Count("👍"))

	assert.ErrorIs(t, f.conv.ToggleReaction(ctx, "c1", "missing", "👍"), ErrMessageNotFound)
	assert.ErrorIs(t, f.conv.ToggleReaction(ctx, "c1", seeded[0].ID, ""), ErrParamInvalid)
}

func TestConversationServiceRequiresSession(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	_, err := f.conv.List(ctx)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = f.conv.OpenDirect(ctx, "bob")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.ErrorIs(t, f.conv.SetTyping(ctx, "c1", true), ErrUnauthenticated)
}
