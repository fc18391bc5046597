package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/painmgmt-api/pkg/logger"
)

// Logger writes one access log line per request. Bodies are never logged;
// they carry patient data.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		status := c.Writer.Status()
		event := log.ZL.Info()
		msg := "Request processed"
		switch {
		case status >= 500:
			event, msg = log.ZL.Error(), "Server error"
		case status >= 400:
			event, msg = log.ZL.Warn(), "Client error"
		}

		event = event.
			Str("request_id", c.GetString(ContextRequestID)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("ip", c.ClientIP()).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("user_agent", c.Request.UserAgent())
		if actor, ok := ActorFrom(c); ok {
			event = event.Str("actor", actor.String())
		}
		event.Msg(msg)
	}
}
