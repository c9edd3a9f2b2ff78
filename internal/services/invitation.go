package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/huangang/testsentry/internal/config"
	"github.com/huangang/testsentry/internal/models"
	"gorm.io/gorm"
)

// InvitationNotifier delivers the invitation email carrying the raw token.
// Delivery is best-effort and happens outside the creating transaction.
type InvitationNotifier interface {
	NotifyInvitation(invitation *models.Invitation, token string)
}

// InvitationService owns the invitation ledger and its state machine:
// PENDING → ACCEPTED | DECLINED | EXPIRED. Accept and decline are settled
// by a conditional status update so concurrent calls on the same token
// produce exactly one winner; the membership write on accept shares the
// winner's transaction.
type InvitationService struct {
	db       *gorm.DB
	members  *MembershipService
	access   *AccessService
	cfg      *config.InvitationConfig
	notifier InvitationNotifier
	now      func() time.Time
}

func NewInvitationService(db *gorm.DB, members *MembershipService, access *AccessService, cfg *config.InvitationConfig) *InvitationService {
	return &InvitationService{
		db:      db,
		members: members,
		access:  access,
		cfg:     cfg,
		now:     time.Now,
	}
}

// SetNotifier attaches the email notifier. Without one, invitations are
// still created; the token is only returned to the inviter.
func (s *InvitationService) SetNotifier(n InvitationNotifier) {
	s.notifier = n
}

// generateInviteToken returns a 256-bit random opaque token and its SHA-256
// hex digest. Only the digest is ever persisted.
func generateInviteToken() (token, tokenHash string, err error) {
	raw := make([]byte, 32)
	if _, err = rand.Read(raw); err != nil {
		return "", "", err
	}
	token = hex.EncodeToString(raw)
	return token, hashInviteToken(token), nil
}

func hashInviteToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

type CreateInvitationRequest struct {
	Email string `json:"email" binding:"required,email"`
	Role  string `json:"role" binding:"required"`
}

// CreateInvitationResult carries the raw token exactly once; it is never
// retrievable again.
type CreateInvitationResult struct {
	Invitation *models.Invitation `json:"invitation"`
	Token      string             `json:"token"`
}

// Create issues an invitation for (projectID, email) on behalf of caller.
// The caller must hold OWNER or MANAGER on the project.
//
// Duplicate policy: if a PENDING invitation already exists for the pair it
// is refreshed in place (new token, new expiry, updated role and inviter),
// so exactly one PENDING row per pair survives any interleaving. A creator
// losing the pending_key uniqueness race retries once and lands on the
// refresh path.
func (s *InvitationService) Create(callerID, projectID uint, req *CreateInvitationRequest) (*CreateInvitationResult, error) {
	role, ok := models.ParseProjectRole(req.Role)
	if !ok {
		return nil, ErrInvalidRole
	}

	if _, err := s.access.CanManageMembers(callerID, projectID); err != nil {
		return nil, err
	}

	var project models.Project
	if err := s.db.First(&project, projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	email := models.NormalizeEmail(req.Email)

	result, err := s.createOrRefresh(callerID, projectID, email, role)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost the one-pending-per-pair race; the pending row now exists,
		// so a single retry takes the refresh path.
		result, err = s.createOrRefresh(callerID, projectID, email, role)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrConflict
		}
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.NotifyInvitation(result.Invitation, result.Token)
	}
	return result, nil
}

func (s *InvitationService) createOrRefresh(callerID, projectID uint, email string, role models.ProjectRole) (*CreateInvitationResult, error) {
	token, tokenHash, err := generateInviteToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	expiresAt := now.Add(s.cfg.ExpireAfter())
	pendingKey := models.PendingKeyFor(projectID, email)

	var saved models.Invitation
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var existing models.Invitation
		findErr := tx.Where("project_id = ? AND email = ? AND status = ?", projectID, email, models.InvitationPending).
			First(&existing).Error

		if findErr == nil {
			// Supersede: refresh the pending invitation in place.
			updates := map[string]interface{}{
				"role":       role,
				"invited_by": callerID,
				"token_hash": tokenHash,
				"expires_at": expiresAt,
			}
			if err := tx.Model(&existing).Updates(updates).Error; err != nil {
				return err
			}
			return tx.First(&saved, existing.ID).Error
		}
		if !errors.Is(findErr, gorm.ErrRecordNotFound) {
			return findErr
		}

		saved = models.Invitation{
			PublicID:   uuid.NewString(),
			ProjectID:  projectID,
			Email:      email,
			Role:       role,
			Status:     models.InvitationPending,
			TokenHash:  &tokenHash,
			PendingKey: &pendingKey,
			InvitedBy:  callerID,
			ExpiresAt:  expiresAt,
		}
		return tx.Create(&saved).Error
	})
	if err != nil {
		return nil, err
	}

	s.db.Preload("Project").Preload("Inviter").First(&saved, saved.ID)
	return &CreateInvitationResult{Invitation: &saved, Token: token}, nil
}

// Validate authenticates an invitation token on behalf of callerEmail and
// returns the invitation if it is still actionable. Check order: unknown
// token → ErrNotFound; already resolved → ErrInvalidTransition; token
// presented by a different address → ErrForbidden; elapsed window →
// ErrExpired. The expiry boundary is inclusive: now == expiresAt is expired.
func (s *InvitationService) Validate(token, callerEmail string) (*models.Invitation, error) {
	tokenHash := hashInviteToken(token)

	var inv models.Invitation
	err := s.db.Where("token_hash = ?", tokenHash).First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if inv.Status != models.InvitationPending {
		return nil, ErrInvalidTransition
	}
	if inv.Email != models.NormalizeEmail(callerEmail) {
		return nil, ErrForbidden
	}
	if inv.Elapsed(s.now()) {
		return nil, ErrExpired
	}
	return &inv, nil
}

// Accept transitions the invitation to ACCEPTED and writes the membership
// in the same transaction. Of N concurrent accepts on one token exactly one
// wins; the rest observe ErrInvalidTransition from the conditional update.
// An existing membership's role is overwritten by the invitation's role.
func (s *InvitationService) Accept(callerID uint, callerEmail, token string) (*models.Membership, error) {
	if callerID == 0 {
		return nil, ErrUnauthenticated
	}

	inv, err := s.Validate(token, callerEmail)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var membership *models.Membership
	err = s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Invitation{}).
			Where("id = ? AND status = ?", inv.ID, models.InvitationPending).
			Updates(map[string]interface{}{
				"status":      models.InvitationAccepted,
				"accepted_at": now,
				"pending_key": nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidTransition
		}

		m, err := s.members.Upsert(tx, callerID, inv.ProjectID, inv.Role)
		if err != nil {
			return err
		}
		membership = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return membership, nil
}

// Decline transitions the invitation to DECLINED. Membership is untouched.
func (s *InvitationService) Decline(callerID uint, callerEmail, token string) (*models.Invitation, error) {
	if callerID == 0 {
		return nil, ErrUnauthenticated
	}

	inv, err := s.Validate(token, callerEmail)
	if err != nil {
		return nil, err
	}

	now := s.now()
	res := s.db.Model(&models.Invitation{}).
		Where("id = ? AND status = ?", inv.ID, models.InvitationPending).
		Updates(map[string]interface{}{
			"status":      models.InvitationDeclined,
			"declined_at": now,
			"pending_key": nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrInvalidTransition
	}

	var saved models.Invitation
	if err := s.db.Preload("Project").Preload("Inviter").First(&saved, inv.ID).Error; err != nil {
		return nil, err
	}
	return &saved, nil
}

type InvitationListRequest struct {
	Page     int      `form:"page"`
	PageSize int      `form:"page_size"`
	Statuses []string `form:"status[]"`
	Sort     string   `form:"sort"` // asc, desc (by created_at)
}

type InvitationListResponse struct {
	Total    int64               `json:"total"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
	Items    []models.Invitation `json:"items"`
}

// ListForEmail returns the invitations addressed to email, newest first by
// default, with the lazily-computed status of each row.
func (s *InvitationService) ListForEmail(email string, req *InvitationListRequest) (*InvitationListResponse, error) {
	return s.list(s.db.Where("email = ?", models.NormalizeEmail(email)), req)
}

// ListForProject returns a project's invitations for member-management UIs.
func (s *InvitationService) ListForProject(projectID uint, req *InvitationListRequest) (*InvitationListResponse, error) {
	return s.list(s.db.Where("project_id = ?", projectID), req)
}

func (s *InvitationService) list(scope *gorm.DB, req *InvitationListRequest) (*InvitationListResponse, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 || req.PageSize > 100 {
		req.PageSize = 20
	}

	now := s.now()
	query := scope.Model(&models.Invitation{})

	// Status filters match the observed status, so "expired" must include
	// elapsed rows the sweep has not touched yet, and "pending" must
	// exclude them.
	if len(req.Statuses) > 0 {
		or := s.db.Session(&gorm.Session{NewDB: true})
		cond := or.Where("1 = 0")
		for _, st := range req.Statuses {
			switch st {
			case models.InvitationPending:
				cond = cond.Or(s.db.Where("status = ? AND expires_at > ?", models.InvitationPending, now))
			case models.InvitationExpired:
				cond = cond.Or(s.db.Where("status = ?", models.InvitationExpired)).
					Or(s.db.Where("status = ? AND expires_at <= ?", models.InvitationPending, now))
			case models.InvitationAccepted, models.InvitationDeclined:
				cond = cond.Or(s.db.Where("status = ?", st))
			}
		}
		query = query.Where(cond)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	order := "created_at DESC"
	if req.Sort == "asc" {
		order = "created_at ASC"
	}

	var items []models.Invitation
	offset := (req.Page - 1) * req.PageSize
	if err := query.Preload("Project").Preload("Inviter").
		Order(order).Offset(offset).Limit(req.PageSize).Find(&items).Error; err != nil {
		return nil, err
	}

	for i := range items {
		items[i].Status = items[i].EffectiveStatus(now)
	}

	return &InvitationListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    items,
	}, nil
}

// SweepExpired persists EXPIRED on every elapsed PENDING row. Purely a
// listing nicety: Validate and the list mappers treat elapsed rows as
// expired whether or not the sweep has run.
func (s *InvitationService) SweepExpired() (int64, error) {
	res := s.db.Model(&models.Invitation{}).
		Where("status = ? AND expires_at <= ?", models.InvitationPending, s.now()).
		Updates(map[string]interface{}{
			"status":      models.InvitationExpired,
			"pending_key": nil,
		})
	return res.RowsAffected, res.Error
}
