package model

import (
	"maps"
	"slices"
)

// ReactionSet emoji -> 用户ID集合，同一用户最多出现在一个 emoji 下
type ReactionSet map[string][]string

// Toggle 先从所有 emoji 中移除该用户，若目标不是原来的 emoji 则加入目标
func (r ReactionSet) Toggle(userID, emoji string) ReactionSet {
	out := make(ReactionSet, len(r)+1)
	prev := ""
	for k, users := range r {
		kept := make([]string, 0, len(users))
		for _, u := range users {
			if u == userID {
				prev = k
				continue
			}
			kept = append(kept, u)
		}
		if len(kept) > 0 {
			out[k] = kept
		}
	}
	if prev != emoji {
		out[emoji] = append(out[emoji], userID)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Of 返回用户当前的表情
func (r ReactionSet) Of(userID string) (string, bool) {
	for k, users := range r {
		if slices.Contains(users, userID) {
			return k, true
		}
	}
	return "", false
}

func (r ReactionSet) Count(emoji string) int { return len(r[emoji]) }

func (r ReactionSet) Clone() ReactionSet {
	if r == nil {
		return nil
	}
	out := maps.Clone(r)
	for k, v := range out {
		out[k] = slices.Clone(v)
	}
	return out
}
