package controller

import (
	"net/http"

	model "github.com/Itish41/virtualbackroom/models"
	services "github.com/Itish41/virtualbackroom/service"
	"github.com/gin-gonic/gin"
)

type SchedulerController struct {
	scheduler *services.Scheduler
}

func NewSchedulerController(scheduler *services.Scheduler) *SchedulerController {
	return &SchedulerController{scheduler: scheduler}
}

type enabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (c *SchedulerController) ListTasks(ctx *gin.Context) {
	tasks, err := c.scheduler.ListTasks(ctx.Request.Context())
	if err != nil {
		respondError(ctx, "Failed to retrieve scheduled tasks", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"tasks": tasks, "total": len(tasks)})
}

func (c *SchedulerController) CreateTask(ctx *gin.Context) {
	var task model.ScheduledTask
	if err := ctx.ShouldBindJSON(&task); err != nil {
		badRequest(ctx, err)
		return
	}
	created, err := c.scheduler.CreateTask(ctx.Request.Context(), task)
	if err != nil {
		respondError(ctx, "Failed to create scheduled task", err)
		return
	}
	ctx.JSON(http.StatusCreated, created)
}

func (c *SchedulerController) SetEnabled(ctx *gin.Context) {
	var req enabledRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	task, err := c.scheduler.SetEnabled(ctx.Request.Context(), ctx.Param("id"), *req.Enabled)
	if err != nil {
		respondError(ctx, "Failed to update scheduled task", err)
		return
	}
	ctx.JSON(http.StatusOK, task)
}

// RunNow executes one scheduler pass outside the ticker.
func (c *SchedulerController) RunNow(ctx *gin.Context) {
	result, err := c.scheduler.RunOnce(ctx.Request.Context())
	if err != nil {
		respondError(ctx, "Scheduler pass failed", err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}
