package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"studio-gateway/internal/admission"
	"studio-gateway/internal/api/dto"
	"studio-gateway/internal/core/ports"
	"studio-gateway/internal/service"
	"studio-gateway/pkg/logger"
)

type WorkflowHandler struct {
	service service.WorkflowService
	log     *logger.Logger
}

func NewWorkflowHandler(svc service.WorkflowService, log *logger.Logger) *WorkflowHandler {
	return &WorkflowHandler{service: svc, log: log}
}

func (h *WorkflowHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", h.Health)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/workflows/work", h.SubmitWork)
		v1.POST("/workflows/score", h.SubmitScore)
		v1.POST("/workflows/epoch/close", h.CloseEpoch)

		v1.GET("/workflows", h.ListWorkflows)
		v1.GET("/workflows/:id", h.GetWorkflow)
		v1.GET("/workflows/counts", h.Counts)

		v1.POST("/workflows/:id/reconcile", h.ReconcileWorkflow)
	}
}

func (h *WorkflowHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, dto.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
	})
}

func (h *WorkflowHandler) SubmitWork(c *gin.Context) {
	var req dto.SubmitWorkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := h.service.SubmitWork(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.FromRecord(rec))
}

func (h *WorkflowHandler) SubmitScore(c *gin.Context) {
	var req dto.SubmitScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := h.service.SubmitScore(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.FromRecord(rec))
}

func (h *WorkflowHandler) CloseEpoch(c *gin.Context) {
	var req dto.CloseEpochRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := h.service.CloseEpoch(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.FromRecord(rec))
}

func (h *WorkflowHandler) GetWorkflow(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
		return
	}
	rec, err := h.service.GetWorkflow(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromRecord(rec))
}

// ReconcileWorkflow triggers an on-demand ground-truth check for one record,
// the same correction the startup sweep applies to every stalled workflow.
func (h *WorkflowHandler) ReconcileWorkflow(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
		return
	}
	changed, rec, err := h.service.ReconcileWorkflow(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ReconcileResponse{
		Changed:  changed,
		Workflow: dto.FromRecord(rec),
	})
}

func (h *WorkflowHandler) ListWorkflows(c *gin.Context) {
	var q dto.ListWorkflowsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	recs, err := h.service.ListWorkflows(c.Request.Context(), q)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflows": dto.FromRecords(recs)})
}

func (h *WorkflowHandler) Counts(c *gin.Context) {
	counts, err := h.service.Counts(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (h *WorkflowHandler) writeError(c *gin.Context, err error) {
	var rej *admission.RejectionError
	switch {
	case errors.As(err, &rej):
		c.JSON(http.StatusTooManyRequests, dto.RejectionResponse{
			Reason:  rej.Reason,
			Limit:   rej.Limit,
			Current: rej.Current,
		})
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ports.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
	default:
		h.log.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
