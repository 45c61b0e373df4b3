package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"incident-ledger/internal/transport/httpdto"
	"incident-ledger/pkg/logger"
)

// ErrorHandler logs errors attached by handlers and answers with a 500 when
// nothing was written yet.
func ErrorHandler(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		if l != nil {
			status := c.Writer.Status()
			fields := []zap.Field{zap.Int("status", status), zap.String("path", c.Request.URL.Path), zap.Error(err)}
			if status >= http.StatusInternalServerError {
				l.Error(c.Request.Context(), "Request failed", fields...)
			} else {
				l.Warn(c.Request.Context(), "Request rejected", fields...)
			}
		}
		if !c.Writer.Written() {
			c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse(err.Error(), "INTERNAL_ERROR"))
		}
	}
}
