package api

import "Parley/internal/api/handler"

// HandlersGroup 封装了所有已初始化的 Handler 实例
type HandlersGroup struct {
	SessionHandler      *handler.SessionHandler
	ConversationHandler *handler.ConversationHandler
	MessageHandler      *handler.MessageHandler
	EventsHandler       *handler.EventsHandler
}
