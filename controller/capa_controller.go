package controller

import (
	"io"
	"log"
	"net/http"

	model "github.com/Itish41/virtualbackroom/models"
	services "github.com/Itish41/virtualbackroom/service"
	"github.com/gin-gonic/gin"
)

const maxAttachmentBytes = 20 << 20

// CAPAController serves CAPA workflow requests.
type CAPAController struct {
	service *services.CAPAService
}

func NewCAPAController(service *services.CAPAService) *CAPAController {
	return &CAPAController{service: service}
}

type fromGapRequest struct {
	model.ComplianceGap
	InitiatedBy string `json:"initiatedBy"`
}

type fromFindingRequest struct {
	model.ComplianceFinding
	InitiatedBy string `json:"initiatedBy"`
}

type transitionRequest struct {
	Status model.CAPAStatus `json:"status" binding:"required"`
	Actor  string           `json:"actor"`
}

type effectivenessRequest struct {
	Confirmed *bool `json:"confirmed" binding:"required"`
}

func (c *CAPAController) ListWorkflows(ctx *gin.Context) {
	workflows, err := c.service.List(ctx.Request.Context())
	if err != nil {
		respondError(ctx, "Failed to retrieve CAPA workflows", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"workflows": workflows,
		"total":     len(workflows),
	})
}

func (c *CAPAController) GetWorkflow(ctx *gin.Context) {
	wf, err := c.service.Get(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, "Failed to retrieve CAPA workflow", err)
		return
	}
	ctx.JSON(http.StatusOK, wf)
}

func (c *CAPAController) CreateWorkflow(ctx *gin.Context) {
	var draft model.CAPAWorkflow
	if err := ctx.ShouldBindJSON(&draft); err != nil {
		badRequest(ctx, err)
		return
	}
	wf, err := c.service.Create(ctx.Request.Context(), draft)
	if err != nil {
		respondError(ctx, "Failed to create CAPA workflow", err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"message":  "CAPA workflow created successfully",
		"workflow": wf,
	})
}

func (c *CAPAController) CreateFromGap(ctx *gin.Context) {
	var req fromGapRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	wf, err := c.service.CreateFromGap(ctx.Request.Context(), req.ComplianceGap, req.InitiatedBy)
	if err != nil {
		respondError(ctx, "Failed to generate CAPA workflow from gap", err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"message":  "CAPA workflow generated successfully",
		"workflow": wf,
	})
}

func (c *CAPAController) CreateFromFinding(ctx *gin.Context) {
	var req fromFindingRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	wf, err := c.service.CreateFromFinding(ctx.Request.Context(), req.ComplianceFinding, req.InitiatedBy)
	if err != nil {
		respondError(ctx, "Failed to generate CAPA workflow from finding", err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"message":  "CAPA workflow generated successfully",
		"workflow": wf,
	})
}

func (c *CAPAController) Transition(ctx *gin.Context) {
	var req transitionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	wf, err := c.service.Transition(ctx.Request.Context(), ctx.Param("id"), req.Status, req.Actor)
	if err != nil {
		respondError(ctx, "Failed to transition CAPA workflow", err)
		return
	}
	ctx.JSON(http.StatusOK, wf)
}

func (c *CAPAController) UpdateAction(ctx *gin.Context) {
	var patch services.ActionPatch
	if err := ctx.ShouldBindJSON(&patch); err != nil {
		badRequest(ctx, err)
		return
	}
	wf, err := c.service.UpdateAction(ctx.Request.Context(), ctx.Param("id"), ctx.Param("actionId"), patch)
	if err != nil {
		respondError(ctx, "Failed to update CAPA action", err)
		return
	}
	ctx.JSON(http.StatusOK, wf)
}

func (c *CAPAController) ConfirmEffectiveness(ctx *gin.Context) {
	var req effectivenessRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	wf, err := c.service.ConfirmEffectiveness(ctx.Request.Context(), ctx.Param("id"), *req.Confirmed)
	if err != nil {
		respondError(ctx, "Failed to record effectiveness check", err)
		return
	}
	ctx.JSON(http.StatusOK, wf)
}

func (c *CAPAController) Optimize(ctx *gin.Context) {
	result, err := c.service.Optimize(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, "Failed to optimize CAPA workflow", err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

func (c *CAPAController) UploadAttachment(ctx *gin.Context) {
	file, header, err := ctx.Request.FormFile("file")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Failed to get file from request"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxAttachmentBytes+1))
	if err != nil {
		log.Printf("[CAPAController.UploadAttachment] Error reading %s: %v", header.Filename, err)
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file", "details": err.Error()})
		return
	}
	if len(data) > maxAttachmentBytes {
		ctx.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File exceeds the 20MB limit"})
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	wf, err := c.service.AttachFile(ctx.Request.Context(), ctx.Param("id"), header.Filename, contentType, data)
	if err != nil {
		respondError(ctx, "Failed to upload attachment", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message":  "Attachment uploaded successfully",
		"workflow": wf,
	})
}

func (c *CAPAController) Metrics(ctx *gin.Context) {
	metrics, err := c.service.Metrics(ctx.Request.Context())
	if err != nil {
		respondError(ctx, "Failed to compute CAPA metrics", err)
		return
	}
	ctx.JSON(http.StatusOK, metrics)
}
