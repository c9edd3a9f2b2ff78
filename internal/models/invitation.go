package models

import (
	"fmt"
	"time"
)

// Invitation lifecycle statuses. Pending is the only non-terminal state.
const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationDeclined = "declined"
	InvitationExpired  = "expired"
)

// Invitation is a durable offer of a project role to an email address.
//
// The raw invite token is never stored; TokenHash holds its SHA-256 and is
// cleared the moment the invitation leaves PENDING, so a token can only
// ever resolve a pending row. PendingKey is "<projectID>:<email>" while
// PENDING and NULL afterwards: its unique index guarantees at most one
// pending invitation per (project, email) pair even under concurrent
// creates.
type Invitation struct {
	ID         uint        `gorm:"primaryKey" json:"-"`
	PublicID   string      `gorm:"uniqueIndex;size:36;not null" json:"id"`
	ProjectID  uint        `gorm:"index;not null" json:"project_id"`
	Project    *Project    `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	Email      string      `gorm:"index;size:255;not null" json:"email"` // normalized lower-case
	Role       ProjectRole `gorm:"size:20;not null" json:"role"`
	Status     string      `gorm:"size:20;not null;default:pending;index" json:"status"`
	TokenHash  *string     `gorm:"uniqueIndex;size:64" json:"-"`
	PendingKey *string     `gorm:"uniqueIndex;size:300" json:"-"`
	InvitedBy  uint        `gorm:"not null" json:"invited_by"`
	Inviter    *User       `gorm:"foreignKey:InvitedBy" json:"inviter,omitempty"`
	ExpiresAt  time.Time   `gorm:"index;not null" json:"expires_at"`
	AcceptedAt *time.Time  `json:"accepted_at,omitempty"`
	DeclinedAt *time.Time  `json:"declined_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

func (Invitation) TableName() string { return "invitations" }

// PendingKeyFor builds the uniqueness key guarding one pending invitation
// per (project, email).
func PendingKeyFor(projectID uint, email string) string {
	return fmt.Sprintf("%d:%s", projectID, NormalizeEmail(email))
}

// Elapsed reports whether the invitation's validity window has passed at
// instant now. The boundary is inclusive: now == ExpiresAt counts as elapsed.
func (i *Invitation) Elapsed(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// EffectiveStatus is the status as observed at instant now. A PENDING row
// whose window has elapsed reads as EXPIRED; persisting that is left to the
// optional sweep job and never affects correctness.
func (i *Invitation) EffectiveStatus(now time.Time) string {
	if i.Status == InvitationPending && i.Elapsed(now) {
		return InvitationExpired
	}
	return i.Status
}
