package handler

import (
	"Parley/internal/api/dto"
	"Parley/internal/pkg/response"
	"Parley/internal/pkg/util"
	"Parley/internal/service"

	"github.com/gin-gonic/gin"
)

type SessionHandler struct {
	sessionService service.SessionService
}

func NewSessionHandler(sessionService service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

// SignIn 使用外部签发的 Token 登录；内存后端可直接指定 userId
func (s *SessionHandler) SignIn(c *gin.Context) {
	var req dto.SignInReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	if err := util.ValidateDTO(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	if req.Token != "" {
		claims, err := s.sessionService.SignIn(c.Request.Context(), req.Token)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Success(c, dto.SessionDTO{UserID: claims.UserID, Token: req.Token})
		return
	}

	token, err := s.sessionService.DevSignIn(c.Request.Context(), req.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto.SessionDTO{UserID: req.UserID, Token: token})
}

func (s *SessionHandler) SignOut(c *gin.Context) {
	s.sessionService.SignOut(c.Request.Context())
	response.Success(c, nil)
}

func (s *SessionHandler) Current(c *gin.Context) {
	uid, ok := s.sessionService.CurrentUserID()
	if !ok {
		response.Error(c, service.ErrUnauthenticated)
		return
	}
	response.Success(c, dto.SessionDTO{UserID: uid})
}
