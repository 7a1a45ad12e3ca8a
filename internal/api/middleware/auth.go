package middleware

import (
	"Parley/internal/pkg/response"
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
)

// UserIDKey 当前用户在 gin.Context 中的 key
const UserIDKey = "user_id"

// SessionSource 本地会话，只接受当前登录的 Token
type SessionSource interface {
	Token() string
	CurrentUserID() (string, bool)
}

// AuthMiddleware Bearer 与本地会话 Token 一致时放行；websocket 可用 query token
func AuthMiddleware(session SessionSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			if !strings.HasPrefix(authHeader, "Bearer ") {
				response.Fail(c, response.Unauthorized, "Token 缺失或格式错误")
				c.Abort()
				return
			}
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
		if token == "" {
			response.Fail(c, response.Unauthorized, "Token 缺失或格式错误")
			c.Abort()
			return
		}

		current := session.Token()
		userID, ok := session.CurrentUserID()
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(current)) != 1 {
			response.Fail(c, response.Unauthorized, "Token 无效或已过期")
			c.Abort()
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}
