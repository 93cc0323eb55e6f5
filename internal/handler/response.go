// Package handler 提供 HTTP 请求处理
package handler

import (
	"net/http"
	"strconv"

	"github.com/eidos-exchange/eidos-lottery/internal/middleware"
	"github.com/eidos-exchange/eidos-lottery/internal/repository"
	"github.com/eidos-exchange/eidos-lottery/pkg/errors"
	"github.com/gin-gonic/gin"
)

// CodeOK 成功响应码
const CodeOK = "OK"

// Response 统一响应结构
type Response struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// PagedData 分页数据
type PagedData struct {
	Items    interface{} `json:"items"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

// Success 返回成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, &Response{Code: CodeOK, Message: "success", Data: data})
}

// SuccessPaged 返回分页成功响应
func SuccessPaged(c *gin.Context, items interface{}, page *repository.Pagination) {
	Success(c, &PagedData{
		Items:    items,
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
	})
}

// Fail 返回错误响应, 非业务错误按内部错误处理
func Fail(c *gin.Context, err error) {
	_ = c.Error(err)
	var bizErr *errors.Error
	if !errors.As(err, &bizErr) {
		err = errors.ErrInternal
	}
	c.JSON(errors.ToHTTPStatus(err), &Response{
		Code:    errors.GetCode(err),
		Message: errors.GetMessage(err),
	})
}

// BadRequest 返回参数错误响应
func BadRequest(c *gin.Context, message string) {
	Fail(c, errors.ErrInvalidRequest.WithMessage(message))
}

// parsePage 解析分页参数
func parsePage(c *gin.Context) *repository.Pagination {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page <= 0 {
		page = 1
	}
	p := &repository.Pagination{Page: page, PageSize: size}
	p.Limit()
	return p
}

// bindOptionalJSON 请求体为空时保留零值
func bindOptionalJSON(c *gin.Context, obj interface{}) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(obj)
}

// caller 管理接口调用方地址
func caller(c *gin.Context) string {
	return c.GetString(middleware.CallerKey)
}
