package handler

import (
	"context"
	"errors"
	"net/http"

	"go-flowdesk/internal/api/dto"
	"go-flowdesk/internal/definition"
	"go-flowdesk/internal/domain"
	"go-flowdesk/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type WorkflowHandler struct {
	service service.WorkflowService
}

func NewWorkflowHandler(svc service.WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{service: svc}
}

// RegisterRoutes mounts the workflow API on rg.
func (h *WorkflowHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/workflows", h.SaveWorkflow)
	rg.POST("/workflows/:id/instances", h.StartWorkflow)
	rg.GET("/workflows/:id/active-instance", h.GetActiveInstance)

	rg.POST("/definitions", h.SaveDefinition)
	rg.POST("/definitions/:id/instantiate", h.InstantiateDefinition)

	rg.GET("/instances/:id", h.GetInstance)
	rg.POST("/instances/:id/cancel", h.CancelInstance)
	rg.POST("/instances/:id/pause", h.PauseInstance)
	rg.POST("/instances/:id/resume", h.ResumeInstance)
	rg.POST("/instances/:id/repair", h.RepairInstance)

	rg.POST("/assignments/:id/complete", h.CompleteAssignment)
	rg.POST("/assignments/:id/assign", h.AssignStep)
	rg.GET("/users/:id/assignments", h.ListMyAssignments)

	rg.GET("/admin/unassigned", h.ListUnassigned)
}

func (h *WorkflowHandler) SaveWorkflow(c *gin.Context) {
	var req dto.SaveWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	wf := domain.NewWorkflow(req.Name, req.Description)
	if req.ID != uuid.Nil {
		wf.ID = req.ID
	}
	wf.Reusable = req.Reusable

	if err := h.service.SaveWorkflow(c.Request.Context(), wf, dto.ToSteps(wf.ID, req.Steps)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.WorkflowResponse{ID: wf.ID, Name: wf.Name})
}

func (h *WorkflowHandler) StartWorkflow(c *gin.Context) {
	workflowID, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.StartInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	instanceID, err := h.service.StartWorkflow(c.Request.Context(), workflowID, req.StartedBy, req.StartData)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.CreateInstanceResponse{InstanceID: instanceID})
}

func (h *WorkflowHandler) GetActiveInstance(c *gin.Context) {
	workflowID, ok := pathID(c)
	if !ok {
		return
	}
	instance, err := h.service.GetActiveInstance(c.Request.Context(), workflowID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromInstance(instance))
}

func (h *WorkflowHandler) SaveDefinition(c *gin.Context) {
	var req dto.SaveDefinitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	def := newDefinition(req)
	if err := h.service.SaveDefinition(c.Request.Context(), def); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.DefinitionResponse{ID: def.ID, Name: def.Name})
}

func (h *WorkflowHandler) InstantiateDefinition(c *gin.Context) {
	definitionID, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.InstantiateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	wf, err := h.service.InstantiateDefinition(c.Request.Context(), definitionID, req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.WorkflowResponse{ID: wf.ID, DefinitionID: wf.DefinitionID, Name: wf.Name})
}

func (h *WorkflowHandler) GetInstance(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	instance, err := h.service.GetInstance(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromInstance(instance))
}

func (h *WorkflowHandler) CancelInstance(c *gin.Context) {
	h.changeStatus(c, h.service.CancelInstance)
}

func (h *WorkflowHandler) PauseInstance(c *gin.Context) {
	h.changeStatus(c, h.service.PauseInstance)
}

func (h *WorkflowHandler) ResumeInstance(c *gin.Context) {
	h.changeStatus(c, h.service.ResumeInstance)
}

func (h *WorkflowHandler) RepairInstance(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	report, err := h.service.RepairInstance(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromRepair(report))
}

func (h *WorkflowHandler) CompleteAssignment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.CompleteAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome, err := h.service.CompleteStep(c.Request.Context(), id, req.Actor, req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromOutcome(outcome))
}

func (h *WorkflowHandler) AssignStep(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.AssignStep(c.Request.Context(), id, req.UserID, req.AssignedBy); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *WorkflowHandler) ListMyAssignments(c *gin.Context) {
	var q dto.ListAssignmentsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	views, err := h.service.ListMyAssignments(c.Request.Context(), c.Param("id"), q.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromViews(views))
}

func (h *WorkflowHandler) ListUnassigned(c *gin.Context) {
	views, err := h.service.ListUnassigned(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromViews(views))
}

func (h *WorkflowHandler) changeStatus(c *gin.Context, change func(ctx context.Context, id uuid.UUID) (*domain.Instance, error)) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	instance, err := change(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromInstance(instance))
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id: " + c.Param("id")})
		return uuid.Nil, false
	}
	return id, true
}

func writeError(c *gin.Context, err error) {
	var verr *domain.ValidationError
	var aerr *domain.AdvanceError

	// AdvanceError first: its cause may wrap a not-found error.
	switch {
	case errors.As(err, &aerr):
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "instance_id": aerr.InstanceID})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrNoStepsDefined), errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func newDefinition(req dto.SaveDefinitionRequest) *domain.WorkflowDefinition {
	def := definition.NewDefinition(req.Name, req.Description, req.Reusable, dto.ToTemplates(req.Steps))
	def.CreatedBy = req.CreatedBy
	return def
}
