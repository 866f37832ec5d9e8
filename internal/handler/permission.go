package handler

import (
	"net/http"

	"github.com/GoPolymarket/autopilot/internal/model"
	"github.com/GoPolymarket/autopilot/internal/service"
	"github.com/gin-gonic/gin"
)

type PermissionHandler struct {
	svc *service.CatalogService
}

func NewPermissionHandler(svc *service.CatalogService) *PermissionHandler {
	return &PermissionHandler{svc: svc}
}

func (h *PermissionHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/permissions", h.Upsert)
	rg.GET("/permissions/:id", h.Get)
	rg.POST("/permissions/:id/revoke", h.Revoke)
}

func (h *PermissionHandler) Upsert(c *gin.Context) {
	var req model.UpsertPermissionRequest
	if !bindJSON(c, &req) {
		return
	}
	perm, err := h.svc.UpsertPermission(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, perm)
}

func (h *PermissionHandler) Get(c *gin.Context) {
	perm, err := h.svc.GetPermission(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"permission": perm, "remaining": perm.Remaining().String()})
}

func (h *PermissionHandler) Revoke(c *gin.Context) {
	perm, err := h.svc.RevokePermission(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, perm)
}
