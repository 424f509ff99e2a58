package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/happy-code-egg/ruidao-sub004/internal/workflow/model"
	"github.com/happy-code-egg/ruidao-sub004/internal/workflow/service"
	"github.com/happy-code-egg/ruidao-sub004/utils"
)

// TemplateRouter exposes the workflow template admin API.
type TemplateRouter struct {
	templates *service.TemplateService
}

func NewTemplateRouter(templates *service.TemplateService) *TemplateRouter {
	return &TemplateRouter{templates: templates}
}

// RegisterRoutes mounts the template endpoints onto the given group.
func (r *TemplateRouter) RegisterRoutes(rg *gin.RouterGroup) {
	templates := rg.Group("/workflow-templates")
	{
		templates.POST("", r.handleCreateTemplate)
		templates.GET("", r.handleListTemplates)
		templates.GET("/:id", r.handleGetTemplate)
		templates.PUT("/:id/status", r.handleSetTemplateStatus)
		templates.DELETE("/:id", r.handleDeleteTemplate)
	}
}

// handleCreateTemplate handles POST /api/v1/workflow-templates
func (r *TemplateRouter) handleCreateTemplate(c *gin.Context) {
	var createReq model.CreateTemplateDTO
	if err := c.ShouldBindJSON(&createReq); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	template, err := r.templates.CreateTemplate(c.Request.Context(), &createReq)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, template)
}

// handleListTemplates handles GET /api/v1/workflow-templates?caseType=&offset=&limit=
func (r *TemplateRouter) handleListTemplates(c *gin.Context) {
	var filter model.TemplateFilter
	if caseType := c.Query("caseType"); caseType != "" {
		filter.CaseType = &caseType
	}
	filter.Offset = queryInt(c, "offset")
	filter.Limit = queryInt(c, "limit")

	templates, err := r.templates.ListTemplates(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, templates)
}

// handleGetTemplate handles GET /api/v1/workflow-templates/{id}
func (r *TemplateRouter) handleGetTemplate(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	template, err := r.templates.GetTemplateByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, template)
}

// handleSetTemplateStatus handles PUT /api/v1/workflow-templates/{id}/status
func (r *TemplateRouter) handleSetTemplateStatus(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var statusReq model.UpdateTemplateStatusDTO
	if err := c.ShouldBindJSON(&statusReq); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	template, err := r.templates.SetTemplateStatus(c.Request.Context(), id, statusReq.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, template)
}

// handleDeleteTemplate handles DELETE /api/v1/workflow-templates/{id}
func (r *TemplateRouter) handleDeleteTemplate(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := r.templates.DeleteTemplate(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// queryInt reads an optional integer query parameter, ignoring junk values.
func queryInt(c *gin.Context, name string) *int {
	return utils.ParseOptionalInt(c.Query(name))
}
