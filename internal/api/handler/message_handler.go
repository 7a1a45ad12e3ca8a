package handler

import (
	"Parley/internal/api/dto"
	"Parley/internal/media"
	"Parley/internal/model"
	"Parley/internal/pkg/response"
	"Parley/internal/pkg/util"
	"Parley/internal/service"
	"io"
	"mime/multipart"
	"strings"

	"github.com/gin-gonic/gin"
)

const maxAttachmentSize = 100 << 20

type MessageHandler struct {
	sendService         service.SendService
	conversationService service.ConversationService
	receipts            *service.ReceiptBatcher
}

func NewMessageHandler(sendService service.SendService, conversationService service.ConversationService, receipts *service.ReceiptBatcher) *MessageHandler {
	return &MessageHandler{sendService: sendService, conversationService: conversationService, receipts: receipts}
}

// Send JSON 发送文本类消息，multipart 携带附件，文件字段为 files
func (s *MessageHandler) Send(c *gin.Context) {
	var req dto.SendMessageReq
	var attachments []media.Asset

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := c.ShouldBind(&req); err != nil {
			response.Error(c, service.ErrParamInvalid)
			return
		}
		form, err := c.MultipartForm()
		if err != nil {
			response.Error(c, service.ErrParamInvalid)
			return
		}
		for _, fh := range form.File["files"] {
			asset, err := readAsset(fh)
			if err != nil {
				response.Error(c, err)
				return
			}
			attachments = append(attachments, asset)
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	if err := util.ValidateDTO(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	params := service.SendParams{
		ConversationID: c.Param("id"),
		Content:        req.Content,
		Type:           model.MessageType(req.Type),
		ReplyToID:      req.ReplyToID,
		Attachments:    attachments,
	}

	if req.Async {
		msg, err := s.sendService.SendAsync(c.Request.Context(), params)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Success(c, dto.FromMessage(msg))
		return
	}

	msg, err := s.sendService.Send(c.Request.Context(), params)
	if err != nil {
		if msg != nil {
			response.FailWithData(c, err, dto.FromMessage(msg))
			return
		}
		response.Error(c, err)
		return
	}
	response.Success(c, dto.FromMessage(msg))
}

func readAsset(fh *multipart.FileHeader) (media.Asset, error) {
	if fh.Size > maxAttachmentSize {
		return media.Asset{}, service.ErrFileNotSupported
	}
	f, err := fh.Open()
	if err != nil {
		return media.Asset{}, service.ErrParamInvalid
	}
	defer func() {
		_ = f.Close()
	}()
	data, err := io.ReadAll(f)
	if err != nil {
		return media.Asset{}, service.ErrParamInvalid
	}
	return media.Asset{Data: data, ContentType: fh.Header.Get("Content-Type"), Filename: fh.Filename}, nil
}

// Retry 以原 tempId 重发失败的消息
func (s *MessageHandler) Retry(c *gin.Context) {
	convID, tempID := c.Param("id"), c.Param("key")
	if c.Query("async") == "true" {
		if err := s.sendService.RetryAsync(c.Request.Context(), convID, tempID); err != nil {
			response.Error(c, err)
			return
		}
		response.Success(c, nil)
		return
	}

	msg, err := s.sendService.Retry(c.Request.Context(), convID, tempID)
	if err != nil {
		if msg != nil {
			response.FailWithData(c, err, dto.FromMessage(msg))
			return
		}
		response.Error(c, err)
		return
	}
	response.Success(c, dto.FromMessage(msg))
}

func (s *MessageHandler) CancelUpload(c *gin.Context) {
	ok := s.sendService.CancelUpload(c.Param("id"), c.Param("key"))
	response.Success(c, gin.H{"cancelled": ok})
}

// MarkRead 消息进入可视区域，批量合并后上报
func (s *MessageHandler) MarkRead(c *gin.Context) {
	var req dto.MarkReadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	if err := util.ValidateDTO(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	n := s.receipts.MarkVisible(c.Param("id"), req.MessageIDs...)
	response.Success(c, gin.H{"queued": n})
}

func (s *MessageHandler) ToggleReaction(c *gin.Context) {
	var req dto.ReactionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	if err := util.ValidateDTO(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	err := s.conversationService.ToggleReaction(c.Request.Context(), c.Param("id"), c.Param("key"), req.Emoji)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}
