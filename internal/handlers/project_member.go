package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/huangang/testsentry/internal/middleware"
	"github.com/huangang/testsentry/internal/models"
	"github.com/huangang/testsentry/internal/services"
	"github.com/huangang/testsentry/pkg/response"
)

// ProjectMemberHandler manages the membership roster of a project.
// Members enter the roster through accepted invitations or project
// creation; this handler only lists, reroles and removes them.
type ProjectMemberHandler struct {
	members *services.MembershipService
	access  *services.AccessService
}

func NewProjectMemberHandler(members *services.MembershipService, access *services.AccessService) *ProjectMemberHandler {
	return &ProjectMemberHandler{members: members, access: access}
}

type UpdateMemberRequest struct {
	Role string `json:"role" binding:"required"`
}

// List returns a project's members with filtering and pagination. Any
// member of the project may look.
// GET /api/projects/:id/members
func (h *ProjectMemberHandler) List(c *gin.Context) {
	projectID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}

	if _, err := h.access.Authorize(middleware.GetUserID(c), uint(projectID)); err != nil {
		handleServiceError(c, err)
		return
	}

	var req services.MemberListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.members.List(uint(projectID), &req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, resp)
}

// UpdateRole changes a member's role; OWNER or MANAGER only
// PUT /api/projects/:id/members/:user_id
func (h *ProjectMemberHandler) UpdateRole(c *gin.Context) {
	projectID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}
	userID, err := strconv.ParseUint(c.Param("user_id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}

	var req UpdateMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	role, ok := models.ParseProjectRole(req.Role)
	if !ok {
		response.BadRequest(c, "invalid role")
		return
	}

	if _, err := h.access.CanManageMembers(middleware.GetUserID(c), uint(projectID)); err != nil {
		handleServiceError(c, err)
		return
	}

	member, err := h.members.UpdateRole(uint(userID), uint(projectID), role)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.Success(c, member)
}

// Remove deletes a membership. Members may remove themselves; removing
// anyone else requires OWNER or MANAGER.
// DELETE /api/projects/:id/members/:user_id
func (h *ProjectMemberHandler) Remove(c *gin.Context) {
	projectID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}
	userID, err := strconv.ParseUint(c.Param("user_id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}

	callerID := middleware.GetUserID(c)
	if callerID != uint(userID) {
		if _, err := h.access.CanManageMembers(callerID, uint(projectID)); err != nil {
			handleServiceError(c, err)
			return
		}
	}

	if err := h.members.Remove(uint(userID), uint(projectID)); err != nil {
		handleServiceError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "member removed"})
}
