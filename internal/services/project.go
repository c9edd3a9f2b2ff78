package services

import (
	"errors"
	"strings"

	"github.com/huangang/testsentry/internal/models"
	"gorm.io/gorm"
)

type ProjectService struct {
	db     *gorm.DB
	access *AccessService
}

func NewProjectService(db *gorm.DB, access *AccessService) *ProjectService {
	return &ProjectService{db: db, access: access}
}

type ProjectListRequest struct {
	Page     int    `form:"page" binding:"min=0"`
	PageSize int    `form:"page_size" binding:"min=0,max=100"`
	Name     string `form:"name"`
	Archived *bool  `form:"archived"`
}

type ProjectListItem struct {
	models.Project
	Role models.ProjectRole `json:"role"`
}

type ProjectListResponse struct {
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
	Items    []ProjectListItem `json:"items"`
}

type CreateProjectRequest struct {
	Name        string `json:"name" binding:"required,max=200"`
	Description string `json:"description" binding:"max=2000"`
}

type UpdateProjectRequest struct {
	Name        string  `json:"name" binding:"max=200"`
	Description *string `json:"description"`
	IsArchived  *bool   `json:"is_archived"`
}

// List returns the projects the user is a member of, with the caller's
// role attached to each row.
func (s *ProjectService) List(userID uint, req *ProjectListRequest) (*ProjectListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 10
	}

	var total int64

	query := s.db.Model(&models.Project{}).
		Joins("JOIN memberships ON memberships.project_id = projects.id").
		Where("memberships.user_id = ?", userID)

	if req.Name != "" {
		query = query.Where("projects.name LIKE ?", "%"+req.Name+"%")
	}
	if req.Archived != nil {
		query = query.Where("projects.is_archived = ?", *req.Archived)
	}

	query.Count(&total)

	type row struct {
		models.Project
		Role models.ProjectRole
	}
	var rows []row

	offset := (req.Page - 1) * req.PageSize
	if err := query.
		Select("projects.*, memberships.role AS role").
		Offset(offset).Limit(req.PageSize).
		Order("projects.created_at DESC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	items := make([]ProjectListItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, ProjectListItem{Project: r.Project, Role: r.Role})
	}

	return &ProjectListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    items,
	}, nil
}

// Get returns a project the user is a member of, or ErrForbidden.
func (s *ProjectService) Get(userID, projectID uint) (*models.Project, models.ProjectRole, error) {
	var project models.Project
	if err := s.db.Preload("Creator").First(&project, projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}

	role, err := s.access.Authorize(userID, projectID)
	if err != nil {
		return nil, "", err
	}

	return &project, role, nil
}

// Create creates a project and enrolls the creator as its OWNER in the
// same transaction.
func (s *ProjectService) Create(userID uint, req *CreateProjectRequest) (*models.Project, error) {
	project := models.Project{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		CreatedBy:   userID,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&project).Error; err != nil {
			return err
		}
		membership := models.Membership{
			UserID:    userID,
			ProjectID: project.ID,
			Role:      models.RoleOwner,
		}
		return tx.Create(&membership).Error
	})
	if err != nil {
		return nil, err
	}

	return &project, nil
}

// Update modifies a project; owners and managers only.
func (s *ProjectService) Update(userID, projectID uint, req *UpdateProjectRequest) (*models.Project, error) {
	if _, err := s.access.CanManageMembers(userID, projectID); err != nil {
		return nil, err
	}

	var project models.Project
	if err := s.db.First(&project, projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	updates := make(map[string]interface{})
	if req.Name != "" {
		updates["name"] = strings.TrimSpace(req.Name)
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.IsArchived != nil {
		updates["is_archived"] = *req.IsArchived
	}
	if len(updates) == 0 {
		return &project, nil
	}

	if err := s.db.Model(&project).Updates(updates).Error; err != nil {
		return nil, err
	}

	return &project, nil
}

// Delete soft-deletes a project; the OWNER role is required.
func (s *ProjectService) Delete(userID, projectID uint) error {
	role, err := s.access.Authorize(userID, projectID)
	if err != nil {
		return err
	}
	if !role.CanDeleteProject() {
		return ErrForbidden
	}

	result := s.db.Delete(&models.Project{}, projectID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
