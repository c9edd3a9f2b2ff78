package services

import (
	"errors"
	"time"

	"github.com/huangang/testsentry/internal/models"
	"github.com/huangang/testsentry/internal/utils"
	"gorm.io/gorm"
)

// PasswordResetNotifier delivers the reset email carrying the raw token.
type PasswordResetNotifier interface {
	NotifyPasswordReset(user *models.User, token string)
}

const passwordResetTokenTTL = time.Hour

// RequestPasswordReset issues a single-use reset token for the account
// behind email and hands it to the notifier. An unknown or non-local email
// returns without error so the endpoint can't be used to probe for
// accounts; the caller always sees the same response.
func (s *AuthService) RequestPasswordReset(email string, notifier PasswordResetNotifier) error {
	var user models.User
	err := s.db.Where("email = ? AND auth_type = ? AND is_active = ?", models.NormalizeEmail(email), "local", true).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	token, tokenHash, err := generateOpaqueToken()
	if err != nil {
		return err
	}

	record := models.PasswordResetToken{
		UserID:    user.ID,
		TokenHash: tokenHash,
		ExpiresAt: time.Now().Add(passwordResetTokenTTL),
	}
	if err := s.db.Create(&record).Error; err != nil {
		return err
	}

	if notifier != nil {
		notifier.NotifyPasswordReset(&user, token)
	}
	return nil
}

type ResetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6"`
}

// ResetPassword consumes a reset token: sets the new password, marks the
// token used and revokes every live refresh token, all in one transaction.
func (s *AuthService) ResetPassword(req *ResetPasswordRequest) error {
	hash := hashOpaqueToken(req.Token)

	var record models.PasswordResetToken
	if err := s.db.Where("token_hash = ?", hash).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	if record.UsedAt != nil {
		return ErrInvalidTransition
	}
	if !time.Now().Before(record.ExpiresAt) {
		return ErrExpired
	}

	hashedPassword, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}

	now := time.Now()
	return s.db.Transaction(func(tx *gorm.DB) error {
		// Conditional update so two concurrent resets with the same token
		// can't both go through.
		res := tx.Model(&models.PasswordResetToken{}).
			Where("id = ? AND used_at IS NULL", record.ID).
			Update("used_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidTransition
		}

		if err := tx.Model(&models.User{}).Where("id = ?", record.UserID).
			Update("password", hashedPassword).Error; err != nil {
			return err
		}

		return s.revokeAllRefreshTokens(tx, record.UserID)
	})
}
