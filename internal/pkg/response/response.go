package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 错误码定义
const (
	CodeSuccess             = 0
	CodeParamError          = 1000
	CodeAuthFailed          = 1001
	CodeResourceNotFound    = 1003
	CodeInsufficientCredits = 1004
	CodeModerationRejected  = 1005
	CodeRequestInProgress   = 1006
	CodeNotBillable         = 1007
	CodeConcurrencyTimeout  = 4290
	CodeServiceUnavailable  = 5030
	CodeServerError         = 5000
)

// 错误码对应的默认消息
var codeMessages = map[int]string{
	CodeSuccess:             "success",
	CodeParamError:          "参数错误",
	CodeAuthFailed:          "认证失败",
	CodeResourceNotFound:    "资源不存在",
	CodeInsufficientCredits: "积分不足",
	CodeModerationRejected:  "内容未通过审核",
	CodeRequestInProgress:   "请求处理中",
	CodeNotBillable:         "请求无需补扣",
	CodeConcurrencyTimeout:  "账户繁忙，请稍后重试",
	CodeServiceUnavailable:  "生成服务暂不可用",
	CodeServerError:         "服务器内部错误",
}

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// PageData 分页数据结构
type PageData struct {
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Items    interface{} `json:"items"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Accepted 请求已受理但尚未完成
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Response{
		Code:    CodeRequestInProgress,
		Message: codeMessages[CodeRequestInProgress],
		Data:    data,
	})
}

// SuccessPage 分页成功响应
func SuccessPage(c *gin.Context, total int64, page, pageSize int, items interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data: PageData{
			Total:    total,
			Page:     page,
			PageSize: pageSize,
			Items:    items,
		},
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	ErrorWithData(c, code, message, nil)
}

// ErrorWithData 携带数据的错误响应，失败的生成请求仍需返回其终态
func ErrorWithData(c *gin.Context, code int, message string, data interface{}) {
	if message == "" {
		message = codeMessages[code]
	}
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// ParamError 参数错误
func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

// AuthError 认证失败
func AuthError(c *gin.Context, message string) {
	Error(c, CodeAuthFailed, message)
}

// NotFoundError 资源不存在
func NotFoundError(c *gin.Context, message string) {
	Error(c, CodeResourceNotFound, message)
}

// ServerError 服务器错误
func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}
