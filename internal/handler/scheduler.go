package handler

import (
	"context"
	"net/http"

	"github.com/GoPolymarket/autopilot/internal/model"
	"github.com/GoPolymarket/autopilot/internal/service"
	"github.com/gin-gonic/gin"
)

type SchedulerHandler struct {
	scheduler *service.Scheduler
}

func NewSchedulerHandler(scheduler *service.Scheduler) *SchedulerHandler {
	return &SchedulerHandler{scheduler: scheduler}
}

func (h *SchedulerHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/scheduler/health", h.Health)
	rg.GET("/scheduler/stats", h.Stats)
	rg.POST("/scheduler/start", h.Start)
	rg.POST("/scheduler/stop", h.Stop)
	rg.POST("/scheduler/run", h.Run)
	rg.POST("/scheduler/emergency-stop", h.EmergencyStop)
	rg.POST("/scheduler/reconfigure", h.Reconfigure)
}

// Health answers 503 unless the scheduler reports healthy.
func (h *SchedulerHandler) Health(c *gin.Context) {
	report := h.scheduler.HealthCheck()
	status := http.StatusOK
	if report.Status != service.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

func (h *SchedulerHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.Stats())
}

func (h *SchedulerHandler) Start(c *gin.Context) {
	// The trigger outlives this request.
	if err := h.scheduler.Start(context.WithoutCancel(c.Request.Context())); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.scheduler.Stats())
}

func (h *SchedulerHandler) Stop(c *gin.Context) {
	if err := h.scheduler.Stop(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.scheduler.Stats())
}

func (h *SchedulerHandler) Run(c *gin.Context) {
	report, err := h.scheduler.ForceRun(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *SchedulerHandler) EmergencyStop(c *gin.Context) {
	var req model.EmergencyStopRequest
	if !bindJSON(c, &req) {
		return
	}
	report, err := h.scheduler.EmergencyStop(context.WithoutCancel(c.Request.Context()), req.Reason)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *SchedulerHandler) Reconfigure(c *gin.Context) {
	var req model.ReconfigureRequest
	if !bindJSON(c, &req) {
		return
	}
	next, err := service.ReconfiguredInterval(h.scheduler.Config(), req.IntervalMinutes)
	if err != nil {
		fail(c, err)
		return
	}
	if err := h.scheduler.Reconfigure(context.WithoutCancel(c.Request.Context()), next); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.scheduler.Stats())
}
