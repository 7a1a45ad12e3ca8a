package realtime

import (
	log "log/slog"
	"sync"
)

// hub 进程内按 topic 分发
type hub struct {
	mu     sync.RWMutex
	topics map[string]map[int]func([]byte)
	next   int
}

func newHub() *hub {
	return &hub{topics: make(map[string]map[int]func([]byte))}
}

// add 返回订阅 id 以及是否是该 topic 的第一个订阅者
func (h *hub) add(topic string, fn func([]byte)) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[int]func([]byte))
		h.topics[topic] = subs
	}
	id := h.next
	h.next++
	subs[id] = fn
	return id, len(subs) == 1
}

// remove 返回该 topic 是否已无订阅者
func (h *hub) remove(topic string, id int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		return false
	}
	if _, ok := subs[id]; !ok {
		return false
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(h.topics, topic)
		return true
	}
	return false
}

func (h *hub) dispatch(topic string, data []byte) {
	h.mu.RLock()
	subs := make([]func([]byte), 0, len(h.topics[topic]))
	for _, fn := range h.topics[topic] {
		subs = append(subs, fn)
	}
	h.mu.RUnlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("realtime subscriber panic", "topic", topic, "recover", r)
				}
			}()
			fn(data)
		}()
	}
}

func (h *hub) count(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
