package controller

import (
	"net/http"

	services "github.com/Itish41/virtualbackroom/service"
	"github.com/gin-gonic/gin"
)

type NotificationController struct {
	service *services.NotificationService
	hub     *services.Hub
}

func NewNotificationController(service *services.NotificationService, hub *services.Hub) *NotificationController {
	return &NotificationController{service: service, hub: hub}
}

func (c *NotificationController) ListNotifications(ctx *gin.Context) {
	items, err := c.service.List(ctx.Request.Context())
	if err != nil {
		respondError(ctx, "Failed to retrieve notifications", err)
		return
	}
	unread := 0
	for _, n := range items {
		if !n.Read {
			unread++
		}
	}
	ctx.JSON(http.StatusOK, gin.H{"notifications": items, "unread": unread})
}

func (c *NotificationController) MarkRead(ctx *gin.Context) {
	n, err := c.service.MarkRead(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, "Failed to mark notification as read", err)
		return
	}
	ctx.JSON(http.StatusOK, n)
}

// Stream upgrades the request to a websocket that receives every new notification.
func (c *NotificationController) Stream(ctx *gin.Context) {
	c.hub.ServeWS(ctx.Writer, ctx.Request)
}
