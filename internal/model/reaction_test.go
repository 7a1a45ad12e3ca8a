package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReactionToggle(t *testing.T) {
	var r ReactionSet

	r = r.Toggle("u1", "👍")
	assert.Equal(t, 1, r.Count("👍"))

	// 切换到另一个表情，旧的被移除
	r = r.Toggle("u1", "❤️")
	assert.Equal(t, 0, r.Count("👍"))
	assert.Equal(t, 1, r.Count("❤️"))
	_, ok := r["👍"]
	assert.False(t, ok)

	r = r.Toggle("u2", "❤️")
	assert.Equal(t, 2, r.Count("❤️"))

	// 再次点击同一表情即取消
	r = r.Toggle("u1", "❤️")
	assert.Equal(t, []string{"u2"}, r["❤️"])
	_, has := r.Of("u1")
	assert.False(t, has)

	r = r.Toggle("u2", "❤️")
	assert.Nil(t, r)
}

func TestReactionToggleDoesNotMutateReceiver(t *testing.T) {
	r := ReactionSet{"👍": {"u1", "u2"}}
	next := r.Toggle("u1", "😂")

	assert.Equal(t, []string{"u1", "u2"}, r["👍"])
	assert.Equal(t, []string{"u2"}, next["👍"])
	assert.Equal(t, []string{"u1"}, next["😂"])
}

func TestMessageStateHelpers(t *testing.T) {
	m := &Message{TempID: "t1", State: StateSending}
	assert.True(t, m.Optimistic())
	assert.False(t, m.Failed())
	assert.Equal(t, "t1", m.Key())

	m.State = StateFailed
	assert.True(t, m.Optimistic())
	assert.True(t, m.Failed())

	m.ID = "m1"
	m.State = StateConfirmed
	assert.Equal(t, "m1", m.Key())
	assert.False(t, m.Optimistic())

	m.SetProgress(140)
	p, ok := m.Progress()
	assert.True(t, ok)
	assert.Equal(t, 100, p)

	c := m.Clone()
	c.SetProgress(10)
	p, _ = m.Progress()
	assert.Equal(t, 100, p)
}
