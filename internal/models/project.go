package models

import (
	"time"

	"gorm.io/gorm"
)

// Project represents a test-management project that groups test packages,
// scenarios and executions. Package/scenario content is managed elsewhere;
// this model exists as the anchor for memberships and invitations.
type Project struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Name        string         `gorm:"size:200;not null" json:"name"`
	Description string         `gorm:"size:2000" json:"description"`
	IsArchived  bool           `gorm:"default:false" json:"is_archived"`
	CreatedBy   uint           `json:"created_by"`
	Creator     *User          `gorm:"foreignKey:CreatedBy" json:"creator,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Project) TableName() string { return "projects" }
