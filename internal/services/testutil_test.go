package services

import (
	"fmt"
	"testing"

	"github.com/huangang/testsentry/internal/config"
	"github.com/huangang/testsentry/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newTestDB opens an in-memory sqlite database migrated with the full
// schema. The connection pool is capped at one so concurrent test
// goroutines serialize on the database the way they would on a real
// server under row locks.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&models.User{},
		&models.Project{},
		&models.Membership{},
		&models.Invitation{},
		&models.RefreshToken{},
		&models.PasswordResetToken{},
		&models.SystemConfig{},
		&models.SystemLog{},
	); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

func seedUser(t *testing.T, db *gorm.DB, username, email string) *models.User {
	t.Helper()
	user := &models.User{
		Username: username,
		Email:    models.NormalizeEmail(email),
		Role:     "user",
		AuthType: "local",
		IsActive: true,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to seed user %s: %v", username, err)
	}
	return user
}

func seedProject(t *testing.T, db *gorm.DB, name string, ownerID uint) *models.Project {
	t.Helper()
	project := &models.Project{Name: name, CreatedBy: ownerID}
	if err := db.Create(project).Error; err != nil {
		t.Fatalf("failed to seed project %s: %v", name, err)
	}
	membership := &models.Membership{UserID: ownerID, ProjectID: project.ID, Role: models.RoleOwner}
	if err := db.Create(membership).Error; err != nil {
		t.Fatalf("failed to seed owner membership: %v", err)
	}
	return project
}

func seedMember(t *testing.T, db *gorm.DB, userID, projectID uint, role models.ProjectRole) {
	t.Helper()
	m := &models.Membership{UserID: userID, ProjectID: projectID, Role: role}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("failed to seed membership: %v", err)
	}
}

// newInvitationStack wires the invitation service with its collaborators
// over a fresh test database.
func newInvitationStack(t *testing.T) (*gorm.DB, *InvitationService, *MembershipService, *AccessService) {
	t.Helper()
	db := newTestDB(t)
	members := NewMembershipService(db)
	access := NewAccessService(members)
	cfg := &config.InvitationConfig{ExpireDays: 7, BaseURL: "http://localhost:8080"}
	invitations := NewInvitationService(db, members, access, cfg)
	return db, invitations, members, access
}

// uniqueEmail avoids collisions across subtests sharing a database.
var emailSeq int

func nextEmail() string {
	emailSeq++
	return fmt.Sprintf("user%d@example.com", emailSeq)
}
