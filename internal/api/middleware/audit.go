package middleware

import (
	"bytes"
	"io"
	log "log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type responseBodyWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (r *responseBodyWriter) Write(b []byte) (int, error) {
	if r.body.Len() < 16384 {
		r.body.Write(b)
	}
	return r.ResponseWriter.Write(b)
}

func (r *responseBodyWriter) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// redactQuery websocket 的 token 放在 query 里
func redactQuery(q url.Values) string {
	if q.Has("token") {
		q.Set("token", "[PROTECTED]")
	}
	decoded, err := url.QueryUnescape(q.Encode())
	if err != nil {
		return q.Encode()
	}
	return decoded
}

// AuditMiddleware 以 debug 级别记录请求与响应体
func AuditMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		// 附件上传只记录大小
		var reqBody []byte
		if strings.HasPrefix(c.ContentType(), "multipart/") {
			reqBody = []byte("<multipart " + strconv.FormatInt(c.Request.ContentLength, 10) + " bytes>")
		} else if c.Request.Body != nil {
			reqBody, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(reqBody))
		}

		// 登录的请求与响应里都有 token
		sensitive := c.FullPath() == "/api/session"
		if sensitive {
			reqBody = []byte("<redacted>")
		}

		log.DebugContext(ctx, "Recv Request",
			log.String("method", c.Request.Method),
			log.String("path", c.Request.URL.Path),
			log.String("query", redactQuery(c.Request.URL.Query())),
			log.String("req_body", string(reqBody)),
		)

		w := &responseBodyWriter{body: &bytes.Buffer{}, ResponseWriter: c.Writer}
		c.Writer = w
		startTime := time.Now()

		c.Next()

		resBody := w.body.String()
		if sensitive {
			resBody = "<redacted>"
		}
		log.DebugContext(ctx, "Send Response",
			log.Int("status", c.Writer.Status()),
			log.Duration("latency", time.Since(startTime)),
			log.String("res_body", resBody),
		)
	}
}
