package service

import (
	"Parley/internal/pkg/security"
	"Parley/internal/realtime"
	"Parley/internal/repository"
	"errors"
)

const (
	BadRequest          = 400
	Unauthorized        = 401
	Forbidden           = 403
	NotFound            = 404
	Conflict            = 409
	InternalServerError = 500
)

var (
	ErrUnauthenticated      = security.ErrUnauthenticated
	ErrParamInvalid         = errors.New("参数错误")
	ErrNotRetryable         = errors.New("消息不可重试")
	ErrRetryInProgress      = errors.New("消息正在重试")
	ErrSendFailed           = errors.New("消息发送失败")
	ErrUploadCancelled      = errors.New("上传已取消")
	ErrUploadFailed         = errors.New("上传失败")
	ErrConversationNotFound = errors.New("会话不存在")
	ErrMessageNotFound      = errors.New("消息不存在")
	ErrTargetUserInvalid    = errors.New("目标用户无效")
	ErrFileNotSupported     = errors.New("不支持的文件类型")
	UnExpectedError         = errors.New("系统异常，请稍后重试")
)

var ErrorMap = map[error]int{
	ErrUnauthenticated:           Unauthorized,
	ErrParamInvalid:              BadRequest,
	ErrNotRetryable:              BadRequest,
	ErrRetryInProgress:           Conflict,
	ErrSendFailed:                InternalServerError,
	ErrUploadCancelled:           BadRequest,
	ErrUploadFailed:              InternalServerError,
	ErrConversationNotFound:      NotFound,
	ErrMessageNotFound:           NotFound,
	ErrTargetUserInvalid:         BadRequest,
	ErrFileNotSupported:          BadRequest,
	UnExpectedError:              InternalServerError,
	repository.ErrNotFound:       NotFound,
	repository.ErrNotMember:      Forbidden,
	repository.ErrCursorNotFound: BadRequest,
	realtime.ErrDisposed:         InternalServerError,
}
