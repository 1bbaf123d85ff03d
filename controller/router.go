package controller

import (
	"net/http"

	"github.com/Itish41/virtualbackroom/middleware"
	"github.com/gin-gonic/gin"
)

// Handlers groups the controllers mounted by NewRouter.
type Handlers struct {
	CAPA          *CAPAController
	Regulatory    *RegulatoryController
	Email         *EmailController
	Milestones    *MilestoneController
	Scheduler     *SchedulerController
	Notifications *NotificationController
}

// NewRouter mounts every route. global applies to all requests, strict is added
// on the endpoints that call out to the LLM, object storage or the mail server.
func NewRouter(h Handlers, global, strict *middleware.RateLimiter) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(middleware.CORSMiddleware())
	router.Use(global.Limit())

	// Healthcheck endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	capa := router.Group("/capa")
	{
		capa.GET("", h.CAPA.ListWorkflows)
		capa.POST("", h.CAPA.CreateWorkflow)
		capa.POST("/from-gap", strict.Limit(), h.CAPA.CreateFromGap)
		capa.POST("/from-finding", strict.Limit(), h.CAPA.CreateFromFinding)
		capa.GET("/metrics", h.CAPA.Metrics)
		capa.GET("/:id", h.CAPA.GetWorkflow)
		capa.POST("/:id/transition", h.CAPA.Transition)
		capa.PUT("/:id/actions/:actionId", h.CAPA.UpdateAction)
		capa.POST("/:id/effectiveness", h.CAPA.ConfirmEffectiveness)
		capa.POST("/:id/optimize", strict.Limit(), h.CAPA.Optimize)
		capa.POST("/:id/attachments", strict.Limit(), h.CAPA.UploadAttachment)
	}

	router.GET("/regulatory-updates", h.Regulatory.ListUpdates)
	router.POST("/regulatory-updates", h.Regulatory.IngestUpdate)
	router.GET("/regulatory-updates/search", h.Regulatory.SearchUpdates)
	router.POST("/compliance-alerts", h.Regulatory.IngestAlert)

	email := router.Group("/email")
	{
		email.GET("/templates", h.Email.ListTemplates)
		email.POST("/templates", h.Email.CreateTemplate)
		email.GET("/schedules", h.Email.ListSchedules)
		email.POST("/schedules", h.Email.CreateSchedule)
		email.GET("/recipients", h.Email.ListRecipients)
		email.POST("/recipients", h.Email.CreateRecipient)
		email.GET("/events", h.Email.ListEvents)
		email.POST("/events/:id/cancel", h.Email.CancelEvent)
		email.GET("/stats", h.Email.Statistics)
		email.POST("/dispatch", strict.Limit(), h.Email.Dispatch)
	}

	milestones := router.Group("/milestones")
	{
		milestones.GET("", h.Milestones.ListMilestones)
		milestones.POST("", h.Milestones.CreateMilestone)
		milestones.PUT("/:id/progress", h.Milestones.UpdateProgress)
		milestones.GET("/:id/blockers", h.Milestones.Blockers)
	}

	scheduler := router.Group("/scheduler")
	{
		scheduler.GET("/tasks", h.Scheduler.ListTasks)
		scheduler.POST("/tasks", h.Scheduler.CreateTask)
		scheduler.PUT("/tasks/:id/enabled", h.Scheduler.SetEnabled)
		scheduler.POST("/run", strict.Limit(), h.Scheduler.RunNow)
	}

	router.GET("/notifications", h.Notifications.ListNotifications)
	router.POST("/notifications/:id/read", h.Notifications.MarkRead)
	router.GET("/ws", h.Notifications.Stream)

	return router
}
