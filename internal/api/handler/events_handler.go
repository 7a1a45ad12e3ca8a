package handler

import (
	"Parley/internal/api/dto"
	"Parley/internal/api/middleware"
	"Parley/internal/cache"
	"Parley/internal/model"
	"Parley/internal/realtime"
	"Parley/internal/store"
	log "log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	eventBuffer  = 256
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventsHandler 把 store、会话列表与输入状态的变更推给 UI
type EventsHandler struct {
	store    *store.Store
	convs    *cache.Conversations
	realtime *realtime.Manager
}

func NewEventsHandler(st *store.Store, convs *cache.Conversations, rt *realtime.Manager) *EventsHandler {
	return &EventsHandler{store: st, convs: convs, realtime: rt}
}

func (s *EventsHandler) Connect(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.ErrorContext(c.Request.Context(), "websocket upgrade failed", "err", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	out := make(chan dto.Event, eventBuffer)
	overflow := make(chan struct{})
	var once sync.Once
	// 监听器在 store 等组件的 goroutine 中回调，不能阻塞；UI 跟不上时断开，重连后全量拉取
	push := func(ev dto.Event) {
		select {
		case out <- ev:
		default:
			once.Do(func() { close(overflow) })
		}
	}

	unsubs := []func(){
		s.store.Subscribe(func(ch store.Change) { push(messageEvent(ch)) }),
		s.convs.Subscribe(func(conv *model.Conversation) {
			push(dto.Event{Event: dto.EventConversation, Data: dto.FromConversation(conv, userID)})
		}),
		s.realtime.OnTyping(func(conversationID string, users []string) {
			push(dto.Event{Event: dto.EventTyping, Data: dto.TypingEventDTO{ConversationID: conversationID, UserIDs: users}})
		}),
	}
	defer func() {
		for _, u := range unsubs {
			u()
		}
	}()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log.InfoContext(c.Request.Context(), "event stream connected", "user_id", userID)
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				log.WarnContext(c.Request.Context(), "event stream write failed", "user_id", userID, "err", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-overflow:
			log.WarnContext(c.Request.Context(), "event stream overflow", "user_id", userID)
			return
		case <-closed:
			log.InfoContext(c.Request.Context(), "event stream disconnected", "user_id", userID)
			return
		}
	}
}

func messageEvent(ch store.Change) dto.Event {
	if ch.Kind == store.ChangeReset {
		return dto.Event{Event: dto.EventReset}
	}
	kind := dto.EventMessage
	if ch.Kind == store.ChangeState || ch.Kind == store.ChangeProgress {
		kind = dto.EventMessageState
	}
	return dto.Event{Event: kind, Data: dto.MessageEventDTO{
		Kind:    string(ch.Kind),
		TempID:  ch.TempID,
		Message: dto.FromMessage(ch.Message),
	}}
}
