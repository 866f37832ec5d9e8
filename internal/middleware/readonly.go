package middleware

import (
	"net/http"

	"github.com/GoPolymarket/autopilot/internal/pkg/apperrors"
	"github.com/gin-gonic/gin"
)

// EmergencyStopPath stays writable in read-only mode.
const EmergencyStopPath = "/v1/scheduler/emergency-stop"

func ReadOnlyMiddleware(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}

		if c.Request.Method == http.MethodPost && c.FullPath() == EmergencyStopPath {
			c.Next()
			return
		}

		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
		default:
			c.Error(apperrors.New(apperrors.ErrReadOnly, "read-only mode enabled", nil))
			c.Abort()
		}
	}
}
