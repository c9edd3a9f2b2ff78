package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/huangang/testsentry/internal/middleware"
	"github.com/huangang/testsentry/internal/services"
	"github.com/huangang/testsentry/pkg/response"
)

type ProjectHandler struct {
	projectService *services.ProjectService
}

func NewProjectHandler(projectService *services.ProjectService) *ProjectHandler {
	return &ProjectHandler{projectService: projectService}
}

// List returns the current user's projects, paginated
// GET /api/projects
func (h *ProjectHandler) List(c *gin.Context) {
	var req services.ProjectListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.projectService.List(middleware.GetUserID(c), &req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, resp)
}

// GetByID returns a project the user is a member of
// GET /api/projects/:id
func (h *ProjectHandler) GetByID(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}

	project, role, err := h.projectService.Get(middleware.GetUserID(c), uint(id))
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.Success(c, gin.H{"project": project, "role": role})
}

// Create creates a new project; the creator becomes its OWNER
// POST /api/projects
func (h *ProjectHandler) Create(c *gin.Context) {
	var req services.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	project, err := h.projectService.Create(middleware.GetUserID(c), &req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Created(c, project)
}

// Update updates a project; OWNER or MANAGER only
// PUT /api/projects/:id
func (h *ProjectHandler) Update(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}

	var req services.UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	project, err := h.projectService.Update(middleware.GetUserID(c), uint(id), &req)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.Success(c, project)
}

// Delete soft-deletes a project; OWNER only
// DELETE /api/projects/:id
func (h *ProjectHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}

	if err := h.projectService.Delete(middleware.GetUserID(c), uint(id)); err != nil {
		handleServiceError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "project deleted"})
}
