// Package middleware 提供 HTTP 中间件与 gRPC 拦截器
package middleware

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/eidos-exchange/eidos-lottery/internal/metrics"
	"github.com/eidos-exchange/eidos-lottery/pkg/errors"
	"github.com/eidos-exchange/eidos-lottery/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// AdminHeader 管理接口调用方地址
	AdminHeader = "X-Admin-Address"
	// CallerKey context 中的调用方地址键名
	CallerKey = "caller"
)

// Recovery 返回 panic 恢复中间件
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
					zap.ByteString("stack", debug.Stack()))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"code":    errors.ErrInternal.Code,
					"message": errors.ErrInternal.Message,
				})
			}
		}()
		c.Next()
	}
}

// Logger 返回请求日志中间件
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		}
		if caller := c.GetString(CallerKey); caller != "" {
			fields = append(fields, zap.String("caller", caller))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", c.Errors.Errors()))
		}

		switch {
		case status >= 500:
			logger.Error("request", fields...)
		case status >= 400:
			logger.Warn("request", fields...)
		default:
			logger.Debug("request", fields...)
		}
	}
}

// Metrics 返回 Prometheus 指标记录中间件
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		// 模板路径, 避免高基数
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		metrics.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// AdminCaller 读取管理接口调用方地址, 权限由管理服务校验
func AdminCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := strings.TrimSpace(c.GetHeader(AdminHeader))
		if !common.IsHexAddress(caller) {
			c.AbortWithStatusJSON(errors.ErrUnauthorized.HTTPStatus, gin.H{
				"code":    errors.ErrUnauthorized.Code,
				"message": "缺少或无效的 " + AdminHeader,
			})
			return
		}
		c.Set(CallerKey, common.HexToAddress(caller).Hex())
		c.Next()
	}
}
