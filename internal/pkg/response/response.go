package response

import (
	"Parley/internal/api/dto"
	"Parley/internal/service"
	"errors"
	log "log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

const (
	Ok                  = 200
	BadRequest          = 400
	Unauthorized        = 401
	Forbidden           = 403
	NotFound            = 404
	Conflict            = 409
	InternalServerError = 500
)

// Success 成功返回封装
func Success(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, dto.Response{
		Code:    Ok,
		Message: "success",
		Data:    data,
	})
}

// Fail 失败返回封装
func Fail(c *gin.Context, businessCode int, message string) {
	c.JSON(http.StatusOK, dto.Response{
		Code:    businessCode,
		Message: message,
		Data:    nil,
	})
}

// FailWithData 发送失败时仍需要把失败状态的消息交给 UI
func FailWithData(c *gin.Context, err error, data interface{}) {
	c.JSON(http.StatusOK, dto.Response{
		Code:    Code(c, err),
		Message: err.Error(),
		Data:    data,
	})
}

// Code 按 ErrorMap 查找业务码，包装过的错误同样匹配
func Code(c *gin.Context, err error) int {
	if code, ok := service.ErrorMap[err]; ok {
		return code
	}
	for target, code := range service.ErrorMap {
		if errors.Is(err, target) {
			return code
		}
	}
	log.ErrorContext(c.Request.Context(), "Error", "err", err)
	return InternalServerError
}

// Error 处理错误
func Error(c *gin.Context, err error) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		Fail(c, BadRequest, "参数错误")
		return
	}

	var unmarshalTypeError *json.UnmarshalTypeError
	if errors.As(err, &unmarshalTypeError) {
		Fail(c, BadRequest, "Json错误")
		return
	}

	Fail(c, Code(c, err), err.Error())
}
