package main

import (
	"github.com/huangang/testsentry/internal/config"
	"github.com/huangang/testsentry/internal/handlers"
	"github.com/huangang/testsentry/internal/models"
	"github.com/huangang/testsentry/internal/services"
	"github.com/huangang/testsentry/internal/utils"
	"github.com/huangang/testsentry/pkg/logger"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	members     *services.MembershipService
	access      *services.AccessService
	invitations *services.InvitationService
	projects    *services.ProjectService
	auth        *services.AuthService
	sweeper     *services.InvitationSweeper
	taskQueue   services.TaskQueue
	worker      *services.Worker

	authHandler       *handlers.AuthHandler
	invitationHandler *handlers.InvitationHandler
	projectHandler    *handlers.ProjectHandler
	memberHandler     *handlers.ProjectMemberHandler
}

// bootstrap initializes all application dependencies: database, services, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	// Initialize database
	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Auto migrate database
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	// Seed default data
	if err := models.SeedDefaultData(); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed default data")
	}

	// Initialize system logger
	services.InitSystemLogger(models.GetDB())

	// Start system log cleanup scheduler
	services.StartLogCleanupScheduler(models.GetDB())

	db := models.GetDB()

	// Core services
	members := services.NewMembershipService(db)
	access := services.NewAccessService(members)
	invitations := services.NewInvitationService(db, members, access, &cfg.Invitation)
	projects := services.NewProjectService(db, access)
	emails := services.NewEmailService(db, cfg.Invitation.BaseURL)

	// Task queue (uses Redis if enabled, otherwise sync mode) delivers
	// invitation and password-reset emails
	taskQueue := services.InitTaskQueue(cfg)
	processor := services.NewEmailProcessor(db, emails)
	if syncQueue, ok := taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(processor)
	}

	var worker *services.Worker
	if cfg.Redis.Enabled {
		worker = services.InitWorker(&cfg.Redis)
		if worker != nil {
			worker.SetProcessor(processor)
			worker.Start()
		}
	}

	notifier := services.NewEmailNotifier(taskQueue)
	invitations.SetNotifier(notifier)

	// Hourly sweep of elapsed pending invitations
	sweeper := services.NewInvitationSweeper(invitations)
	sweeper.StartScheduler()

	// Create default admin user
	authHandler := handlers.NewAuthHandler(db, cfg, notifier)
	if err := authHandler.CreateAdminIfNotExists(); err != nil {
		logger.Warn().Err(err).Msg("Failed to create admin user")
	}

	auth := services.NewAuthService(db, &cfg.LDAP, &cfg.JWT)

	return &appServices{
		members:     members,
		access:      access,
		invitations: invitations,
		projects:    projects,
		auth:        auth,
		sweeper:     sweeper,
		taskQueue:   taskQueue,
		worker:      worker,

		authHandler:       authHandler,
		invitationHandler: handlers.NewInvitationHandler(invitations, auth, access),
		projectHandler:    handlers.NewProjectHandler(projects),
		memberHandler:     handlers.NewProjectMemberHandler(members, access),
	}
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	s.sweeper.StopScheduler()
	services.StopLogCleanupScheduler()
	logger.Info().Msg("All schedulers stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}
}
