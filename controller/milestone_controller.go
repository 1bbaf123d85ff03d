package controller

import (
	"net/http"

	model "github.com/Itish41/virtualbackroom/models"
	services "github.com/Itish41/virtualbackroom/service"
	"github.com/gin-gonic/gin"
)

type MilestoneController struct {
	service *services.MilestoneService
}

func NewMilestoneController(service *services.MilestoneService) *MilestoneController {
	return &MilestoneController{service: service}
}

type progressRequest struct {
	Progress *int `json:"progress" binding:"required"`
}

func (c *MilestoneController) ListMilestones(ctx *gin.Context) {
	milestones, err := c.service.List(ctx.Request.Context())
	if err != nil {
		respondError(ctx, "Failed to retrieve milestones", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"milestones": milestones, "total": len(milestones)})
}

func (c *MilestoneController) CreateMilestone(ctx *gin.Context) {
	var m model.Milestone
	if err := ctx.ShouldBindJSON(&m); err != nil {
		badRequest(ctx, err)
		return
	}
	created, err := c.service.Create(ctx.Request.Context(), m)
	if err != nil {
		respondError(ctx, "Failed to create milestone", err)
		return
	}
	ctx.JSON(http.StatusCreated, created)
}

func (c *MilestoneController) UpdateProgress(ctx *gin.Context) {
	var req progressRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	m, err := c.service.UpdateProgress(ctx.Request.Context(), ctx.Param("id"), *req.Progress)
	if err != nil {
		respondError(ctx, "Failed to update milestone progress", err)
		return
	}
	ctx.JSON(http.StatusOK, m)
}

func (c *MilestoneController) Blockers(ctx *gin.Context) {
	blocking, err := c.service.BlockedBy(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, "Failed to resolve milestone dependencies", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"blockedBy": blocking, "total": len(blocking)})
}
