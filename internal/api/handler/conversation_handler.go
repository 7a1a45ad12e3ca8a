package handler

import (
	"Parley/internal/api/dto"
	"Parley/internal/api/middleware"
	"Parley/internal/model"
	"Parley/internal/pkg/response"
	"Parley/internal/pkg/util"
	"Parley/internal/service"

	"github.com/gin-gonic/gin"
)

type ConversationHandler struct {
	conversationService service.ConversationService
}

func NewConversationHandler(conversationService service.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversationService: conversationService}
}

// List 会话列表，置顶优先，其余按最近活跃排序
func (s *ConversationHandler) List(c *gin.Context) {
	list, err := s.conversationService.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto.FromConversations(list, c.GetString(middleware.UserIDKey)))
}

func (s *ConversationHandler) Get(c *gin.Context) {
	conv, err := s.conversationService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto.FromConversation(conv, c.GetString(middleware.UserIDKey)))
}

// OpenDirect 打开与某个用户的单聊，不存在时创建
func (s *ConversationHandler) OpenDirect(c *gin.Context) {
	var req dto.OpenDirectReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	if err := util.ValidateDTO(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	conv, err := s.conversationService.OpenDirect(c.Request.Context(), req.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto.FromConversation(conv, c.GetString(middleware.UserIDKey)))
}

// Enter 打开会话视图并订阅推送，离开时需调用 Leave
func (s *ConversationHandler) Enter(c *gin.Context) {
	id := c.Param("id")
	msgs, err := s.conversationService.Enter(c.Request.Context(), id)
	if err != nil && msgs == nil {
		response.Error(c, err)
		return
	}
	page := s.page(id, msgs)
	if err != nil {
		response.FailWithData(c, err, page)
		return
	}
	response.Success(c, page)
}

func (s *ConversationHandler) Leave(c *gin.Context) {
	s.conversationService.Leave(c.Param("id"))
	response.Success(c, nil)
}

func (s *ConversationHandler) Messages(c *gin.Context) {
	id := c.Param("id")
	msgs, err := s.conversationService.Messages(c.Request.Context(), id)
	if err != nil && msgs == nil {
		response.Error(c, err)
		return
	}
	page := s.page(id, msgs)
	if err != nil {
		response.FailWithData(c, err, page)
		return
	}
	response.Success(c, page)
}

// LoadOlder 加载更早的一页，返回新增条数与是否还有更多
func (s *ConversationHandler) LoadOlder(c *gin.Context) {
	id := c.Param("id")
	n, err := s.conversationService.LoadOlder(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto.MessagePageDTO{
		Messages: []*dto.MessageDTO{},
		HasMore:  s.conversationService.PageState(id).HasMore,
		Loaded:   n,
	})
}

func (s *ConversationHandler) UpdateMembership(c *gin.Context) {
	var req dto.MembershipReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	patch := model.MembershipPatch{IsMuted: req.IsMuted, IsPinned: req.IsPinned, IsArchived: req.IsArchived}
	if err := s.conversationService.UpdateMembership(c.Request.Context(), c.Param("id"), patch); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

func (s *ConversationHandler) Typing(c *gin.Context) {
	var req dto.TypingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	if err := s.conversationService.SetTyping(c.Request.Context(), c.Param("id"), req.IsTyping); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

func (s *ConversationHandler) page(id string, msgs []*model.Message) dto.MessagePageDTO {
	return dto.MessagePageDTO{
		Messages: dto.FromMessages(msgs),
		HasMore:  s.conversationService.PageState(id).HasMore,
	}
}
