package router

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/happy-code-egg/ruidao-sub004/internal/auth"
	"github.com/happy-code-egg/ruidao-sub004/internal/report"
	"github.com/happy-code-egg/ruidao-sub004/internal/workflow/model"
	"github.com/happy-code-egg/ruidao-sub004/internal/workflow/service"
)

// InstanceRouter exposes the workflow instance API: starting, deciding,
// cancelling, and reading instances.
type InstanceRouter struct {
	instances *service.InstanceService
}

func NewInstanceRouter(instances *service.InstanceService) *InstanceRouter {
	return &InstanceRouter{instances: instances}
}

// RegisterRoutes mounts the instance endpoints onto the given group. All of
// them act on behalf of a user, so the whole group requires an identity.
func (r *InstanceRouter) RegisterRoutes(rg *gin.RouterGroup) {
	instances := rg.Group("/workflow-instances", auth.RequireActor())
	{
		instances.POST("", r.handleStartInstance)
		instances.GET("/pending", r.handleGetPending)
		instances.GET("/:id", r.handleGetInstance)
		instances.POST("/:id/advance", r.handleAdvanceInstance)
		instances.POST("/:id/cancel", r.handleCancelInstance)
		instances.GET("/:id/report", r.handleExportReport)
	}
}

// handleStartInstance handles POST /api/v1/workflow-instances
func (r *InstanceRouter) handleStartInstance(c *gin.Context) {
	var startReq model.StartInstanceDTO
	if err := c.ShouldBindJSON(&startReq); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	instance, err := r.instances.StartInstance(c.Request.Context(), &startReq, auth.Actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, instance)
}

// handleAdvanceInstance handles POST /api/v1/workflow-instances/{id}/advance
func (r *InstanceRouter) handleAdvanceInstance(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var advanceReq model.AdvanceDTO
	if err := c.ShouldBindJSON(&advanceReq); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	instance, err := r.instances.AdvanceInstance(c.Request.Context(), id, auth.Actor(c), &advanceReq)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, instance)
}

// handleCancelInstance handles POST /api/v1/workflow-instances/{id}/cancel
func (r *InstanceRouter) handleCancelInstance(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	instance, err := r.instances.CancelInstance(c.Request.Context(), id, auth.Actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, instance)
}

// handleGetInstance handles GET /api/v1/workflow-instances/{id}
func (r *InstanceRouter) handleGetInstance(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	detail, err := r.instances.GetInstance(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// handleExportReport handles GET /api/v1/workflow-instances/{id}/report
// It streams the instance's approval history as an Excel workbook.
func (r *InstanceRouter) handleExportReport(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	detail, err := r.instances.GetInstance(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=approval-%s.xlsx", id))
	if err := report.Export(detail, time.Now().UTC(), c.Writer); err != nil {
		respondError(c, err)
		return
	}
}

// handleGetPending handles GET /api/v1/workflow-instances/pending?offset=&limit=
// It returns the approvals waiting on the calling user.
func (r *InstanceRouter) handleGetPending(c *gin.Context) {
	pending, err := r.instances.GetPendingForUser(
		c.Request.Context(), auth.Actor(c), queryInt(c, "offset"), queryInt(c, "limit"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pending)
}
