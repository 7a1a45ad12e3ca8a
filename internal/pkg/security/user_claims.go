package security

import (
	"github.com/golang-jwt/jwt/v5"
)

// UserClaims Token 中的业务信息
type UserClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}
