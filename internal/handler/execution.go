package handler

import (
	"context"
	"net/http"

	"github.com/GoPolymarket/autopilot/internal/model"
	"github.com/GoPolymarket/autopilot/internal/pkg/apperrors"
	"github.com/gin-gonic/gin"
)

// ExecutionLister is satisfied by AnalyticsService.
type ExecutionLister interface {
	List(ctx context.Context, filter model.LogFilter) ([]*model.ExecutionLog, error)
}

type ExecutionHandler struct {
	logs ExecutionLister
}

func NewExecutionHandler(logs ExecutionLister) *ExecutionHandler {
	return &ExecutionHandler{logs: logs}
}

func (h *ExecutionHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/executions", h.List)
}

func (h *ExecutionHandler) List(c *gin.Context) {
	limit, ok := queryLimit(c, 100)
	if !ok {
		return
	}
	filter := model.LogFilter{
		ItemID: c.Query("item_id"),
		Owner:  c.Query("owner"),
		Limit:  limit,
	}
	switch kind := model.ExecutionType(c.Query("type")); kind {
	case "", model.ExecutionDCA, model.ExecutionRebalance:
		filter.Type = kind
	default:
		fail(c, apperrors.NewInvalidRequest("type must be dca or rebalance"))
		return
	}

	records, err := h.logs.List(c.Request.Context(), filter)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": records})
}
