// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"material-search-go/pkg/log"
)

// RequestLogger 是一个 Gin 中间件，用于记录请求日志。
// 搜索和媒体路由会传输大块二进制（上传的查询图、返回的文件），
// 所以只记录元信息，不抓取请求体和响应体。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		latency := time.Since(startTime)
		log.Infow("HTTP Request Log",
			"statusCode", c.Writer.Status(),
			"latency", latency.String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"responseSize", c.Writer.Size(),
		)
	}
}
