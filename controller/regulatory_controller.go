package controller

import (
	"net/http"
	"strings"

	model "github.com/Itish41/virtualbackroom/models"
	services "github.com/Itish41/virtualbackroom/service"
	"github.com/gin-gonic/gin"
)

// RegulatoryController accepts regulatory updates and compliance alerts.
type RegulatoryController struct {
	service *services.RegulatoryService
}

func NewRegulatoryController(service *services.RegulatoryService) *RegulatoryController {
	return &RegulatoryController{service: service}
}

func (c *RegulatoryController) ListUpdates(ctx *gin.Context) {
	updates, err := c.service.ListUpdates(ctx.Request.Context())
	if err != nil {
		respondError(ctx, "Failed to retrieve regulatory updates", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"updates": updates,
		"total":   len(updates),
	})
}

func (c *RegulatoryController) IngestUpdate(ctx *gin.Context) {
	var update model.RegulatoryUpdate
	if err := ctx.ShouldBindJSON(&update); err != nil {
		badRequest(ctx, err)
		return
	}
	result, err := c.service.IngestUpdate(ctx.Request.Context(), update)
	if err != nil {
		respondError(ctx, "Failed to process regulatory update", err)
		return
	}
	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	ctx.JSON(status, gin.H{
		"message":   "Regulatory update processed successfully",
		"update":    result.Record,
		"events":    result.Events,
		"duplicate": result.Duplicate,
	})
}

func (c *RegulatoryController) SearchUpdates(ctx *gin.Context) {
	query := strings.TrimSpace(ctx.Query("q"))
	if query == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Query parameter 'q' is required"})
		return
	}
	updates, err := c.service.SearchUpdates(ctx.Request.Context(), query)
	if err != nil {
		respondError(ctx, "Failed to search regulatory updates", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"query":   query,
		"updates": updates,
		"total":   len(updates),
	})
}

func (c *RegulatoryController) IngestAlert(ctx *gin.Context) {
	var alert model.ComplianceAlert
	if err := ctx.ShouldBindJSON(&alert); err != nil {
		badRequest(ctx, err)
		return
	}
	result, err := c.service.IngestAlert(ctx.Request.Context(), alert)
	if err != nil {
		respondError(ctx, "Failed to process compliance alert", err)
		return
	}
	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	ctx.JSON(status, gin.H{
		"message":   "Compliance alert processed successfully",
		"alert":     result.Record,
		"events":    result.Events,
		"duplicate": result.Duplicate,
	})
}
