package handler

import (
	"net/http"

	"github.com/GoPolymarket/autopilot/internal/model"
	"github.com/GoPolymarket/autopilot/internal/service"
	"github.com/gin-gonic/gin"
)

type RebalancerHandler struct {
	svc *service.CatalogService
}

func NewRebalancerHandler(svc *service.CatalogService) *RebalancerHandler {
	return &RebalancerHandler{svc: svc}
}

func (h *RebalancerHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/rebalancers", h.List)
	rg.POST("/rebalancers", h.Create)
	rg.GET("/rebalancers/:id", h.Get)
	rg.POST("/rebalancers/:id/pause", h.Pause)
	rg.POST("/rebalancers/:id/resume", h.Resume)
	rg.DELETE("/rebalancers/:id", h.Delete)
}

func (h *RebalancerHandler) List(c *gin.Context) {
	configs, err := h.svc.ListRebalancers(c.Request.Context(), c.Query("owner"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rebalancers": configs})
}

func (h *RebalancerHandler) Create(c *gin.Context) {
	var req model.CreateRebalancerRequest
	if !bindJSON(c, &req) {
		return
	}
	cfg, err := h.svc.CreateRebalancer(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, cfg)
}

func (h *RebalancerHandler) Get(c *gin.Context) {
	cfg, err := h.svc.GetRebalancer(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *RebalancerHandler) Pause(c *gin.Context)  { h.setActive(c, false) }
func (h *RebalancerHandler) Resume(c *gin.Context) { h.setActive(c, true) }

func (h *RebalancerHandler) setActive(c *gin.Context, active bool) {
	cfg, err := h.svc.SetRebalancerActive(c.Request.Context(), c.Param("id"), active)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *RebalancerHandler) Delete(c *gin.Context) {
	cfg, err := h.svc.DeleteRebalancer(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}
