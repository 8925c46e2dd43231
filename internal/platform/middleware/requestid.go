package middleware

import (
	"fmt"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderRequestID = "X-Request-ID"
	CtxRequestIDKey = "request_id"
)

// RequestID はリクエストごとに相関IDを振る。クライアントが付けてきた値があればそれを使う。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(CtxRequestIDKey, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// ErrorLog: ハンドラが c.Error で積んだ内部エラーを相関ID付きで出す
func ErrorLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if len(c.Errors) == 0 {
			return
		}
		for _, e := range c.Errors {
			log.Printf("[ERROR] req=%s %s %s status=%d took=%s: %v",
				c.GetString(CtxRequestIDKey), c.Request.Method, c.FullPath(),
				c.Writer.Status(), time.Since(start), e.Err)
		}
	}
}

// AccessLogFormatter は gin.LoggerWithFormatter 用。既定の書式に相関IDを足したもの
func AccessLogFormatter(p gin.LogFormatterParams) string {
	rid, _ := p.Keys[CtxRequestIDKey].(string)
	return fmt.Sprintf("[GIN] %v | %3d | %13v | %15s | %-7s %#v | req=%s\n%s",
		p.TimeStamp.Format("2006/01/02 - 15:04:05"),
		p.StatusCode,
		p.Latency,
		p.ClientIP,
		p.Method,
		p.Path,
		rid,
		p.ErrorMessage,
	)
}
