package controller

import (
	"net/http"

	model "github.com/Itish41/virtualbackroom/models"
	services "github.com/Itish41/virtualbackroom/service"
	"github.com/gin-gonic/gin"
)

// EmailController manages templates, schedules, recipients and the outbound queue.
type EmailController struct {
	service *services.EmailService
}

func NewEmailController(service *services.EmailService) *EmailController {
	return &EmailController{service: service}
}

func (c *EmailController) ListTemplates(ctx *gin.Context) {
	templates, err := c.service.ListTemplates(ctx.Request.Context())
	if err != nil {
		respondError(ctx, "Failed to retrieve email templates", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"templates": templates, "total": len(templates)})
}

func (c *EmailController) CreateTemplate(ctx *gin.Context) {
	var tpl model.EmailTemplate
	if err := ctx.ShouldBindJSON(&tpl); err != nil {
		badRequest(ctx, err)
		return
	}
	created, err := c.service.CreateTemplate(ctx.Request.Context(), tpl)
	if err != nil {
		respondError(ctx, "Failed to create email template", err)
		return
	}
	ctx.JSON(http.StatusCreated, created)
}

func (c *EmailController) ListSchedules(ctx *gin.Context) {
	schedules, err := c.service.ListSchedules(ctx.Request.Context())
	if err != nil {
		respondError(ctx, "Failed to retrieve email schedules", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"schedules": schedules, "total": len(schedules)})
}

func (c *EmailController) CreateSchedule(ctx *gin.Context) {
	var schedule model.EmailSchedule
	if err := ctx.ShouldBindJSON(&schedule); err != nil {
		badRequest(ctx, err)
		return
	}
	created, err := c.service.CreateSchedule(ctx.Request.Context(), schedule)
	if err != nil {
		respondError(ctx, "Failed to create email schedule", err)
		return
	}
	ctx.JSON(http.StatusCreated, created)
}

func (c *EmailController) ListRecipients(ctx *gin.Context) {
	recipients, err := c.service.ListRecipients(ctx.Request.Context())
	if err != nil {
		respondError(ctx, "Failed to retrieve email recipients", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"recipients": recipients, "total": len(recipients)})
}

func (c *EmailController) CreateRecipient(ctx *gin.Context) {
	var recipient model.EmailRecipient
	if err := ctx.ShouldBindJSON(&recipient); err != nil {
		badRequest(ctx, err)
		return
	}
	saved, err := c.service.CreateRecipient(ctx.Request.Context(), recipient)
	if err != nil {
		respondError(ctx, "Failed to save email recipient", err)
		return
	}
	ctx.JSON(http.StatusCreated, saved)
}

func (c *EmailController) ListEvents(ctx *gin.Context) {
	events, err := c.service.ListEvents(ctx.Request.Context())
	if err != nil {
		respondError(ctx, "Failed to retrieve email events", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"events": events, "total": len(events)})
}

func (c *EmailController) CancelEvent(ctx *gin.Context) {
	event, err := c.service.CancelEvent(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, "Failed to cancel email event", err)
		return
	}
	ctx.JSON(http.StatusOK, event)
}

func (c *EmailController) Statistics(ctx *gin.Context) {
	stats, err := c.service.Statistics(ctx.Request.Context())
	if err != nil {
		respondError(ctx, "Failed to compute delivery statistics", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"templates": stats})
}

func (c *EmailController) Dispatch(ctx *gin.Context) {
	result, err := c.service.Dispatch(ctx.Request.Context())
	if err != nil {
		respondError(ctx, "Failed to dispatch email", err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}
