package services

import (
	"time"

	"github.com/huangang/testsentry/internal/models"
	"gorm.io/gorm"
)

// DashboardService aggregates the invitation funnel: how many invitations
// went out, what happened to them, and which projects and inviters drive
// the volume.
type DashboardService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewDashboardService(db *gorm.DB) *DashboardService {
	return &DashboardService{db: db, now: time.Now}
}

type DashboardStatsRequest struct {
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
}

type DashboardStats struct {
	TotalProjects   int64   `json:"total_projects"`
	TotalMembers    int64   `json:"total_members"`
	InvitationsSent int64   `json:"invitations_sent"`
	Accepted        int64   `json:"accepted"`
	Declined        int64   `json:"declined"`
	Expired         int64   `json:"expired"`
	Pending         int64   `json:"pending"`
	AcceptanceRate  float64 `json:"acceptance_rate"`
}

type ProjectInviteStats struct {
	ProjectID   uint   `json:"project_id"`
	ProjectName string `json:"project_name"`
	Sent        int64  `json:"sent"`
	Accepted    int64  `json:"accepted"`
}

type InviterStats struct {
	InvitedBy uint   `json:"invited_by"`
	Username  string `json:"username"`
	Sent      int64  `json:"sent"`
	Accepted  int64  `json:"accepted"`
}

type DashboardResponse struct {
	Stats        DashboardStats       `json:"stats"`
	ProjectStats []ProjectInviteStats `json:"project_stats"`
	InviterStats []InviterStats       `json:"inviter_stats"`
}

func (s *DashboardService) GetStats(req *DashboardStatsRequest) (*DashboardResponse, error) {
	now := s.now()
	var startDate, endDate time.Time
	var err error

	if req.StartDate != "" {
		startDate, err = time.Parse("2006-01-02", req.StartDate)
		if err != nil {
			startDate = now.AddDate(0, 0, -30)
		}
	} else {
		startDate = now.AddDate(0, 0, -30)
	}

	if req.EndDate != "" {
		endDate, err = time.Parse("2006-01-02", req.EndDate)
		if err != nil {
			endDate = now
		}
		endDate = endDate.Add(24*time.Hour - time.Second)
	} else {
		endDate = now
	}

	var stats DashboardStats

	s.db.Model(&models.Project{}).Count(&stats.TotalProjects)
	s.db.Model(&models.Membership{}).Count(&stats.TotalMembers)

	window := s.db.Model(&models.Invitation{}).
		Where("invitations.created_at BETWEEN ? AND ?", startDate, endDate)

	window.Session(&gorm.Session{}).Count(&stats.InvitationsSent)
	window.Session(&gorm.Session{}).Where("status = ?", models.InvitationAccepted).Count(&stats.Accepted)
	window.Session(&gorm.Session{}).Where("status = ?", models.InvitationDeclined).Count(&stats.Declined)
	window.Session(&gorm.Session{}).
		Where("status = ? OR (status = ? AND expires_at <= ?)",
			models.InvitationExpired, models.InvitationPending, now).
		Count(&stats.Expired)
	window.Session(&gorm.Session{}).
		Where("status = ? AND expires_at > ?", models.InvitationPending, now).
		Count(&stats.Pending)

	resolved := stats.Accepted + stats.Declined + stats.Expired
	if resolved > 0 {
		stats.AcceptanceRate = float64(stats.Accepted) / float64(resolved)
	}

	var projectStats []ProjectInviteStats
	s.db.Model(&models.Invitation{}).
		Select("project_id, COUNT(*) as sent, SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) as accepted", models.InvitationAccepted).
		Where("created_at BETWEEN ? AND ?", startDate, endDate).
		Group("project_id").
		Order("sent DESC").
		Limit(10).
		Scan(&projectStats)

	for i := range projectStats {
		var project models.Project
		if err := s.db.First(&project, projectStats[i].ProjectID).Error; err == nil {
			projectStats[i].ProjectName = project.Name
		}
	}

	var inviterStats []InviterStats
	s.db.Model(&models.Invitation{}).
		Select("invited_by, COUNT(*) as sent, SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) as accepted", models.InvitationAccepted).
		Where("created_at BETWEEN ? AND ?", startDate, endDate).
		Group("invited_by").
		Order("sent DESC").
		Limit(10).
		Scan(&inviterStats)

	for i := range inviterStats {
		var user models.User
		if err := s.db.First(&user, inviterStats[i].InvitedBy).Error; err == nil {
			inviterStats[i].Username = user.Username
		}
	}

	return &DashboardResponse{
		Stats:        stats,
		ProjectStats: projectStats,
		InviterStats: inviterStats,
	}, nil
}
