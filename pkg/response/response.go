package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/publish-scheduler/internal/apperr"
)

// Response 成功响应包装
type Response struct {
	Data any `json:"data"`
}

// ErrorItem 单条错误
type ErrorItem struct {
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
	ErrorSeverity    string `json:"error_severity"`
}

// ErrorResponse 失败响应包装
type ErrorResponse struct {
	Errors []ErrorItem `json:"errors"`
}

func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Data: data})
}

func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Response{Data: data})
}

// Error 按 apperr 错误码输出
func Error(c *gin.Context, err error) {
	e := apperr.From(err)
	msg := e.Message
	if e.HTTPStatus >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(e.HTTPStatus, ErrorResponse{Errors: []ErrorItem{{
		ErrorCode:        e.Code,
		ErrorDescription: msg,
		ErrorSeverity:    string(e.Severity),
	}}})
}

// BadRequest 请求体无法解析或字段格式错误
func BadRequest(c *gin.Context, msg string) {
	Error(c, apperr.ErrInvalidRequest.WithMessage("%s", msg))
}

func Unauthorized(c *gin.Context) {
	Error(c, apperr.ErrUnauthorized)
}

func InternalError(c *gin.Context, err error) {
	Error(c, apperr.ErrInternal.Wrap(err))
}
