package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/huangang/testsentry/internal/middleware"
	"github.com/huangang/testsentry/internal/services"
	"github.com/huangang/testsentry/pkg/response"
)

// InvitationHandler exposes the invitation lifecycle: issue, inspect,
// accept, decline. Accept and decline act on behalf of the logged-in
// user, matched against the invited email.
type InvitationHandler struct {
	invitations *services.InvitationService
	auth        *services.AuthService
	access      *services.AccessService
}

func NewInvitationHandler(invitations *services.InvitationService, auth *services.AuthService, access *services.AccessService) *InvitationHandler {
	return &InvitationHandler{
		invitations: invitations,
		auth:        auth,
		access:      access,
	}
}

func (h *InvitationHandler) callerEmail(c *gin.Context) (uint, string, bool) {
	userID := middleware.GetUserID(c)
	user, err := h.auth.GetUserByID(userID)
	if err != nil {
		response.Unauthorized(c, "user not found")
		return 0, "", false
	}
	return userID, user.Email, true
}

// Create issues an invitation for a project
// POST /api/projects/:id/invitations
func (h *InvitationHandler) Create(c *gin.Context) {
	projectID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}

	var req services.CreateInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.invitations.Create(middleware.GetUserID(c), uint(projectID), &req)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.Created(c, result)
}

// ListForProject returns a project's invitations; OWNER or MANAGER only
// GET /api/projects/:id/invitations
func (h *InvitationHandler) ListForProject(c *gin.Context) {
	projectID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}

	if _, err := h.access.CanManageMembers(middleware.GetUserID(c), uint(projectID)); err != nil {
		handleServiceError(c, err)
		return
	}

	var req services.InvitationListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.invitations.ListForProject(uint(projectID), &req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, resp)
}

// ListMine returns the invitations addressed to the current user's email
// GET /api/invitations
func (h *InvitationHandler) ListMine(c *gin.Context) {
	_, email, ok := h.callerEmail(c)
	if !ok {
		return
	}

	var req services.InvitationListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.invitations.ListForEmail(email, &req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, resp)
}

type invitationTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// Validate checks a token without consuming it, so a client can show the
// invitation before the user commits
// POST /api/invitations/validate
func (h *InvitationHandler) Validate(c *gin.Context) {
	_, email, ok := h.callerEmail(c)
	if !ok {
		return
	}

	var req invitationTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	inv, err := h.invitations.Validate(req.Token, email)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.Success(c, inv)
}

// Accept consumes a token and enrolls the current user in the project
// POST /api/invitations/accept
func (h *InvitationHandler) Accept(c *gin.Context) {
	userID, email, ok := h.callerEmail(c)
	if !ok {
		return
	}

	var req invitationTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	membership, err := h.invitations.Accept(userID, email, req.Token)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.Success(c, membership)
}

// Decline resolves a token without creating a membership
// POST /api/invitations/decline
func (h *InvitationHandler) Decline(c *gin.Context) {
	userID, email, ok := h.callerEmail(c)
	if !ok {
		return
	}

	var req invitationTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	inv, err := h.invitations.Decline(userID, email, req.Token)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.Success(c, inv)
}
