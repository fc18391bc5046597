package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/painmgmt-api/pkg/httputil"
	"github.com/jwalitptl/painmgmt-api/pkg/logger"
)

// ErrorHandler renders the last error a handler attached with c.Error as the
// standard error envelope.
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		rid := c.GetString(ContextRequestID)
		for _, e := range c.Errors {
			log.Error(e.Err, "Request error",
				"request_id", rid,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"client_ip", c.ClientIP())
		}

		if c.Writer.Written() {
			return
		}
		httputil.RespondWithError(c, c.Errors.Last().Err)
	}
}
