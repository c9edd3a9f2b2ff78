package models

import (
	"time"
)

// Membership records the fact that a user holds a role on a project.
// The composite unique index is the final arbiter of "one membership row
// per (user, project)": concurrent writers race on it, not on app logic.
// Rows are hard-deleted on member removal so the index never blocks a
// later re-invite.
type Membership struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	UserID    uint        `gorm:"uniqueIndex:idx_user_project;not null" json:"user_id"`
	User      *User       `gorm:"foreignKey:UserID" json:"user,omitempty"`
	ProjectID uint        `gorm:"uniqueIndex:idx_user_project;not null" json:"project_id"`
	Project   *Project    `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	Role      ProjectRole `gorm:"size:20;not null" json:"role"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (Membership) TableName() string { return "memberships" }
