package realtime

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHubFirstAndLast(t *testing.T) {
	h := newHub()
	var got []string

	a, first := h.add("t", func(b []byte) { got = append(got, "a:"+string(b)) })
	assert.True(t, first)
	b, first := h.add("t", func(b []byte) { panic("boom") })
	assert.False(t, first)

	h.dispatch("t", []byte("x"))
	assert.Equal(t, []string{"a:x"}, got)

	assert.False(t, h.remove("t", b))
	assert.False(t, h.remove("t", b), "double remove is ignored")
	assert.True(t, h.remove("t", a))
	assert.Equal(t, 0, h.count("t"))
}

func TestMemoryChannelPublishLogIsBounded(t *testing.T) {
	c := NewMemoryChannel()
	for i := 0; i < publishedLimit+10; i++ {
		assert.NoError(t, c.t.publish(context.Background(), conversationTopic(fmt.Sprint(i)), []byte("{}")))
	}
	got := c.Published()
	assert.Len(t, got, publishedLimit)
	assert.Equal(t, conversationTopic("10"), got[0])
	assert.Equal(t, conversationTopic(fmt.Sprint(publishedLimit+9)), got[len(got)-1])
}
