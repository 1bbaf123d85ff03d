package controller

import (
	"errors"
	"log"
	"net/http"

	services "github.com/Itish41/virtualbackroom/service"
	"github.com/Itish41/virtualbackroom/store"
	"github.com/gin-gonic/gin"
)

// statusFor maps service and store errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrWorkflowNotFound),
		errors.Is(err, services.ErrActionNotFound),
		errors.Is(err, services.ErrMilestoneNotFound),
		errors.Is(err, services.ErrTemplateNotFound),
		errors.Is(err, services.ErrEventNotFound),
		errors.Is(err, services.ErrTaskNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrUnavailable),
		errors.Is(err, services.ErrAttachmentsDisabled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func respondError(ctx *gin.Context, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Printf("[%s %s] %s: %v", ctx.Request.Method, ctx.FullPath(), message, err)
	}
	ctx.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}

func badRequest(ctx *gin.Context, err error) {
	ctx.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}
