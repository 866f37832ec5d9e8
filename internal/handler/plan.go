package handler

import (
	"net/http"

	"github.com/GoPolymarket/autopilot/internal/model"
	"github.com/GoPolymarket/autopilot/internal/service"
	"github.com/gin-gonic/gin"
)

type PlanHandler struct {
	svc *service.CatalogService
}

func NewPlanHandler(svc *service.CatalogService) *PlanHandler {
	return &PlanHandler{svc: svc}
}

func (h *PlanHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/plans", h.List)
	rg.POST("/plans", h.Create)
	rg.GET("/plans/:id", h.Get)
	rg.POST("/plans/:id/pause", h.Pause)
	rg.POST("/plans/:id/resume", h.Resume)
	rg.DELETE("/plans/:id", h.Delete)
}

func (h *PlanHandler) List(c *gin.Context) {
	plans, err := h.svc.ListPlans(c.Request.Context(), c.Query("owner"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

func (h *PlanHandler) Create(c *gin.Context) {
	var req model.CreatePlanRequest
	if !bindJSON(c, &req) {
		return
	}
	plan, err := h.svc.CreatePlan(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, plan)
}

func (h *PlanHandler) Get(c *gin.Context) {
	plan, err := h.svc.GetPlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (h *PlanHandler) Pause(c *gin.Context)  { h.setActive(c, false) }
func (h *PlanHandler) Resume(c *gin.Context) { h.setActive(c, true) }

func (h *PlanHandler) setActive(c *gin.Context, active bool) {
	plan, err := h.svc.SetPlanActive(c.Request.Context(), c.Param("id"), active)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (h *PlanHandler) Delete(c *gin.Context) {
	plan, err := h.svc.DeletePlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}
