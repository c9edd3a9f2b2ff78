package services

import (
	"errors"
	"time"

	"github.com/huangang/testsentry/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MembershipService is the only writer of membership facts. Everything else
// (handlers, the access guard, report/listing collaborators) reads through
// Resolve and List.
type MembershipService struct {
	db *gorm.DB
}

func NewMembershipService(db *gorm.DB) *MembershipService {
	return &MembershipService{db: db}
}

// Upsert inserts or updates the membership row for (userID, projectID).
// The composite unique index serializes concurrent upserts for the same
// pair; the invitation's role always wins over an existing one.
func (s *MembershipService) Upsert(tx *gorm.DB, userID, projectID uint, role models.ProjectRole) (*models.Membership, error) {
	if tx == nil {
		tx = s.db
	}

	m := models.Membership{
		UserID:    userID,
		ProjectID: projectID,
		Role:      role,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "project_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"role": role, "updated_at": time.Now()}),
	}).Create(&m).Error
	if err != nil {
		return nil, err
	}

	// Reload to pick up the surviving row's ID and timestamps after a
	// conflict-update.
	var saved models.Membership
	if err := tx.Where("user_id = ? AND project_id = ?", userID, projectID).First(&saved).Error; err != nil {
		return nil, err
	}
	return &saved, nil
}

// Resolve returns the caller's role on a project, or ErrNotFound when no
// membership exists.
func (s *MembershipService) Resolve(userID, projectID uint) (models.ProjectRole, error) {
	var m models.Membership
	err := s.db.Select("role").Where("user_id = ? AND project_id = ?", userID, projectID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return m.Role, nil
}

// UpdateRole changes an existing member's role. Returns ErrNotFound when the
// user is not a member.
func (s *MembershipService) UpdateRole(userID, projectID uint, role models.ProjectRole) (*models.Membership, error) {
	res := s.db.Model(&models.Membership{}).
		Where("user_id = ? AND project_id = ?", userID, projectID).
		Update("role", role)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	var m models.Membership
	if err := s.db.Preload("User").Where("user_id = ? AND project_id = ?", userID, projectID).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// Remove deletes the membership row for (userID, projectID). The row is
// hard-deleted so a later re-invite can recreate it.
func (s *MembershipService) Remove(userID, projectID uint) error {
	res := s.db.Where("user_id = ? AND project_id = ?", userID, projectID).Delete(&models.Membership{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type MemberListRequest struct {
	Page     int      `form:"page"`
	PageSize int      `form:"page_size"`
	Roles    []string `form:"role[]"`
	Q        string   `form:"q"` // matches username, nickname or email
	OrderBy  string   `form:"order_by"`
	Sort     string   `form:"sort"` // asc, desc
}

type MemberListResponse struct {
	Total    int64               `json:"total"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
	Items    []models.Membership `json:"items"`
}

// memberOrderColumns whitelists sortable columns to keep request input out
// of raw SQL.
var memberOrderColumns = map[string]string{
	"created_at": "memberships.created_at",
	"role":       "memberships.role",
	"username":   "users.username",
}

// List returns a project's members with role filtering, free-text search
// over user identity, pagination and sort.
func (s *MembershipService) List(projectID uint, req *MemberListRequest) (*MemberListResponse, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 || req.PageSize > 100 {
		req.PageSize = 20
	}

	query := s.db.Model(&models.Membership{}).
		Joins("JOIN users ON users.id = memberships.user_id").
		Where("memberships.project_id = ?", projectID)

	if len(req.Roles) > 0 {
		var roles []models.ProjectRole
		for _, r := range req.Roles {
			if role, ok := models.ParseProjectRole(r); ok {
				roles = append(roles, role)
			}
		}
		if len(roles) > 0 {
			query = query.Where("memberships.role IN ?", roles)
		}
	}
	if req.Q != "" {
		like := "%" + req.Q + "%"
		query = query.Where("users.username LIKE ? OR users.nickname LIKE ? OR users.email LIKE ?", like, like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	order := "memberships.created_at"
	if col, ok := memberOrderColumns[req.OrderBy]; ok {
		order = col
	}
	if req.Sort == "desc" {
		order += " DESC"
	} else {
		order += " ASC"
	}

	var members []models.Membership
	offset := (req.Page - 1) * req.PageSize
	if err := query.Preload("User").Order(order).Offset(offset).Limit(req.PageSize).Find(&members).Error; err != nil {
		return nil, err
	}

	return &MemberListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    members,
	}, nil
}
