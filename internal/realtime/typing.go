package realtime

import (
	log "log/slog"
	"slices"
	"sync"
	"time"
)

// typingTracker 输入状态，每个用户独立过期，不依赖服务端的停止事件
type typingTracker struct {
	ttl time.Duration

	mu     sync.Mutex
	timers map[string]map[string]*time.Timer
	closed bool

	subMu   sync.RWMutex
	subs    map[int]func(string, []string)
	nextSub int
}

func newTypingTracker(ttl time.Duration) *typingTracker {
	return &typingTracker{
		ttl:    ttl,
		timers: make(map[string]map[string]*time.Timer),
		subs:   make(map[int]func(string, []string)),
	}
}

func (t *typingTracker) start(conversationID, userID string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	users, ok := t.timers[conversationID]
	if !ok {
		users = make(map[string]*time.Timer)
		t.timers[conversationID] = users
	}
	// 重新计时时换一个新的 timer，旧 timer 的回调因不匹配而失效
	prev, existed := users[userID]
	if existed {
		prev.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(t.ttl, func() { t.expire(conversationID, userID, timer) })
	users[userID] = timer
	list := t.usersLocked(conversationID)
	t.mu.Unlock()

	if !existed {
		t.emit(conversationID, list)
	}
}

func (t *typingTracker) expire(conversationID, userID string, timer *time.Timer) {
	t.mu.Lock()
	users := t.timers[conversationID]
	if users == nil || users[userID] != timer {
		t.mu.Unlock()
		return
	}
	t.removeLocked(conversationID, userID)
	list := t.usersLocked(conversationID)
	t.mu.Unlock()

	log.Debug("typing indicator expired", "conversation_id", conversationID, "user_id", userID)
	t.emit(conversationID, list)
}

func (t *typingTracker) stop(conversationID, userID string) {
	t.mu.Lock()
	users := t.timers[conversationID]
	timer, ok := users[userID]
	if !ok {
		t.mu.Unlock()
		return
	}
	timer.Stop()
	t.removeLocked(conversationID, userID)
	list := t.usersLocked(conversationID)
	t.mu.Unlock()

	t.emit(conversationID, list)
}

func (t *typingTracker) removeLocked(conversationID, userID string) {
	delete(t.timers[conversationID], userID)
	if len(t.timers[conversationID]) == 0 {
		delete(t.timers, conversationID)
	}
}

func (t *typingTracker) usersLocked(conversationID string) []string {
	out := make([]string, 0, len(t.timers[conversationID]))
	for uid := range t.timers[conversationID] {
		out = append(out, uid)
	}
	slices.Sort(out)
	return out
}

func (t *typingTracker) users(conversationID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usersLocked(conversationID)
}

func (t *typingTracker) clear(conversationID string) {
	t.mu.Lock()
	users := t.timers[conversationID]
	for _, timer := range users {
		timer.Stop()
	}
	delete(t.timers, conversationID)
	t.mu.Unlock()

	if len(users) > 0 {
		t.emit(conversationID, []string{})
	}
}

func (t *typingTracker) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for _, users := range t.timers {
		for _, timer := range users {
			timer.Stop()
		}
	}
	t.timers = make(map[string]map[string]*time.Timer)
}

func (t *typingTracker) subscribe(fn func(string, []string)) func() {
	t.subMu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	t.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.subMu.Lock()
			delete(t.subs, id)
			t.subMu.Unlock()
		})
	}
}

func (t *typingTracker) emit(conversationID string, users []string) {
	t.subMu.RLock()
	subs := make([]func(string, []string), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	t.subMu.RUnlock()

	for _, fn := range subs {
		fn(conversationID, slices.Clone(users))
	}
}
