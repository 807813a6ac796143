package middleware

import (
	"time"

	"github.com/annel0/blockkit/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

const (
	// RequestIDHeader заголовок с идентификатором запроса
	RequestIDHeader = "X-Request-ID"
	// TraceIDKey ключ gin.Context с идентификатором запроса
	TraceIDKey = "trace_id"
)

// RequestLogger снабжает каждый HTTP-запрос trace-ID и пишет краткие логи.
type RequestLogger struct {
	log *logging.Logger
}

// NewRequestLogger создаёт middleware; при log == nil используется логгер компонента "api"
func NewRequestLogger(log *logging.Logger) *RequestLogger {
	if log == nil {
		log = logging.GetAPILogger()
	}
	return &RequestLogger{log: log}
}

func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// trace-id из OpenTelemetry, затем заголовок клиента, затем новый uuid
		var traceID string
		span := trace.SpanFromContext(c.Request.Context())
		switch {
		case span.SpanContext().IsValid():
			traceID = span.SpanContext().TraceID().String()
		case c.GetHeader(RequestIDHeader) != "":
			traceID = c.GetHeader(RequestIDHeader)
		default:
			traceID = uuid.NewString()
		}
		c.Set(TraceIDKey, traceID)
		c.Header(RequestIDHeader, traceID)

		start := time.Now()
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		rl.log.Debug("[HTTP] > %s %s ip=%s trace=%s", method, path, c.ClientIP(), traceID)

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		if status >= 500 {
			rl.log.Error("[HTTP] < %s %s %d %s trace=%s errors=%s", method, path, status, latency, traceID, c.Errors.String())
			return
		}
		rl.log.Info("[HTTP] < %s %s %d %s trace=%s", method, path, status, latency, traceID)
	}
}
