package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractURLs(t *testing.T) {
	got := ExtractURLs("看这个 https://a.example/x?y=1, 还有 http://b.example. 再来一次 https://a.example/x?y=1", 0)
	assert.Equal(t, []string{"https://a.example/x?y=1", "http://b.example"}, got)

	assert.Len(t, ExtractURLs("https://a.io https://b.io https://c.io", 2), 2)
	assert.Empty(t, ExtractURLs("no links here", 3))
}

func TestValidateDTO(t *testing.T) {
	type req struct {
		Name string `validate:"required,max=3"`
	}
	assert.NoError(t, ValidateDTO(&req{Name: "abc"}))
	err := ValidateDTO(&req{Name: "abcd"})
	assert.ErrorContains(t, err, "Name")
}

func TestValidateAliases(t *testing.T) {
	type req struct {
		Type  string `validate:"omitempty,msgtype"`
		Emoji string `validate:"omitempty,reaction"`
	}
	assert.NoError(t, ValidateDTO(&req{Type: "image", Emoji: "👍"}))
	assert.NoError(t, ValidateDTO(&req{Emoji: "👨‍👩‍👧"}))
	assert.Error(t, ValidateDTO(&req{Type: "sticker"}))
	assert.Error(t, ValidateDTO(&req{Emoji: "a b"}))
	assert.Error(t, ValidateDTO(&req{Emoji: "toolongreaction"}))
}
