package api

import (
	"Parley/internal/api/middleware"
	"Parley/internal/pkg/logger"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRouter(group *HandlersGroup, session middleware.SessionSource) *gin.Engine {
	r := gin.New()
	_ = r.SetTrustedProxies([]string{"localhost"})

	// TraceId & Logger & CORS
	r.Use(middleware.TraceMiddleware())
	r.Use(middleware.AuditMiddleware())
	r.Use(middleware.CORSMiddleware())
	logger.SetupGin(r)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"code":    200,
				"message": "pong",
				"data":    nil,
			})
		})

		sessionGroup := apiGroup.Group("/session")
		{
			sessionGroup.POST("", group.SessionHandler.SignIn)

			authGroup := sessionGroup.Group("")
			authGroup.Use(middleware.AuthMiddleware(session))
			{
				authGroup.GET("", group.SessionHandler.Current)
				authGroup.DELETE("", group.SessionHandler.SignOut)
			}
		}

		imGroup := apiGroup.Group("/im")
		imGroup.Use(middleware.AuthMiddleware(session))
		{
			imGroup.GET("/events", group.EventsHandler.Connect)

			imGroup.GET("/conversations", group.ConversationHandler.List)
			imGroup.POST("/conversations/direct", group.ConversationHandler.OpenDirect)

			convGroup := imGroup.Group("/conversations/:id")
			{
				convGroup.GET("", group.ConversationHandler.Get)
				convGroup.POST("/enter", group.ConversationHandler.Enter)
				convGroup.POST("/leave", group.ConversationHandler.Leave)
				convGroup.PATCH("/membership", group.ConversationHandler.UpdateMembership)
				convGroup.POST("/typing", group.ConversationHandler.Typing)

				convGroup.GET("/messages", group.ConversationHandler.Messages)
				convGroup.POST("/messages/older", group.ConversationHandler.LoadOlder)
				convGroup.POST("/messages", group.MessageHandler.Send)
				convGroup.POST("/messages/:key/retry", group.MessageHandler.Retry)
				convGroup.POST("/messages/:key/cancel", group.MessageHandler.CancelUpload)
				convGroup.POST("/messages/:key/reactions", group.MessageHandler.ToggleReaction)
				convGroup.POST("/read", group.MessageHandler.MarkRead)
			}
		}
	}

	return r
}
