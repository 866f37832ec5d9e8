package handler

import (
	"strconv"

	"github.com/GoPolymarket/autopilot/internal/pkg/apperrors"
	"github.com/gin-gonic/gin"
)

// fail records err for middleware.ErrorHandler to classify and render.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
}

func bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		fail(c, apperrors.NewInvalidRequest(err.Error()))
		return false
	}
	return true
}

func queryLimit(c *gin.Context, def int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		fail(c, apperrors.NewInvalidRequest("limit must be a positive integer"))
		return 0, false
	}
	return n, true
}
