package main

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/testsentry/internal/config"
	"github.com/huangang/testsentry/internal/handlers"
	"github.com/huangang/testsentry/internal/middleware"
	"github.com/huangang/testsentry/internal/models"
	"github.com/huangang/testsentry/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, cfg *config.Config, svc *appServices) {
	// Middleware
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS())

	// Coarse per-IP throttle on everything public; the per-route admission
	// policies below do the precise limiting.
	publicThrottle := middleware.NewIPThrottle(10, 20)

	// Fixed-window admission policies
	admission := middleware.NewAdmission(middleware.NewMemoryCounterStore())
	loginLimit := admission.Limit(middleware.Policy{
		Name:          "login",
		Window:        15 * time.Minute,
		Limit:         cfg.RateLimit.LoginPer15Min,
		KeyFunc:       middleware.KeyByIPAndBodyIdentity,
		SkipOnSuccess: true,
	})
	registerLimit := admission.Limit(middleware.Policy{
		Name:    "register",
		Window:  15 * time.Minute,
		Limit:   cfg.RateLimit.RegisterPer15Min,
		KeyFunc: middleware.KeyByIP,
	})
	inviteLimit := admission.Limit(middleware.Policy{
		Name:    "invite",
		Window:  time.Hour,
		Limit:   cfg.RateLimit.InvitesPerHour,
		KeyFunc: middleware.KeyByUser,
	})
	resetLimit := admission.Limit(middleware.Policy{
		Name:    "password-reset",
		Window:  time.Hour,
		Limit:   cfg.RateLimit.PasswordResetsPerHour,
		KeyFunc: middleware.KeyByBodyEmail,
	})
	apiLimit := admission.Limit(middleware.Policy{
		Name:    "api",
		Window:  time.Minute,
		Limit:   cfg.RateLimit.APIPerMinute,
		KeyFunc: middleware.KeyByUser,
	})

	// Health and metrics
	healthHandler := handlers.NewHealthHandler()
	r.GET("/health", healthHandler.CheckHealth)
	r.GET("/metrics", handlers.Metrics)

	// API routes
	api := r.Group("/api")
	{
		// Auth routes (public)
		auth := api.Group("/auth", publicThrottle.Middleware())
		{
			auth.POST("/login", loginLimit, svc.authHandler.Login)
			auth.POST("/register", registerLimit, svc.authHandler.Register)
			auth.POST("/refresh", svc.authHandler.Refresh)
			auth.GET("/config", svc.authHandler.GetAuthConfig)
			auth.POST("/password-reset/request", resetLimit, svc.authHandler.RequestPasswordReset)
			auth.POST("/password-reset/confirm", svc.authHandler.ResetPassword)
		}

		// Protected routes
		protected := api.Group("")
		protected.Use(middleware.AuthRequired(), apiLimit, middleware.AuditLog())
		{
			// Auth
			protected.GET("/auth/me", svc.authHandler.GetCurrentUser)
			protected.POST("/auth/logout", svc.authHandler.Logout)
			protected.POST("/auth/change-password", svc.authHandler.ChangePassword)

			// Dashboard
			dashboardHandler := handlers.NewDashboardHandler(models.GetDB())
			protected.GET("/dashboard/stats", dashboardHandler.GetStats)

			// Projects
			protected.GET("/projects", svc.projectHandler.List)
			protected.GET("/projects/:id", svc.projectHandler.GetByID)
			protected.POST("/projects", svc.projectHandler.Create)
			protected.PUT("/projects/:id", svc.projectHandler.Update)
			protected.DELETE("/projects/:id", svc.projectHandler.Delete)

			// Project members
			protected.GET("/projects/:id/members", svc.memberHandler.List)
			protected.PUT("/projects/:id/members/:user_id", svc.memberHandler.UpdateRole)
			protected.DELETE("/projects/:id/members/:user_id", svc.memberHandler.Remove)

			// Invitations
			protected.POST("/projects/:id/invitations", inviteLimit, svc.invitationHandler.Create)
			protected.GET("/projects/:id/invitations", svc.invitationHandler.ListForProject)
			protected.GET("/invitations", svc.invitationHandler.ListMine)
			protected.POST("/invitations/validate", svc.invitationHandler.Validate)
			protected.POST("/invitations/accept", svc.invitationHandler.Accept)
			protected.POST("/invitations/decline", svc.invitationHandler.Decline)
		}

		// Admin only routes
		admin := api.Group("")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired(), middleware.AuditLog())
		{
			// Users
			userHandler := handlers.NewUserHandler(models.GetDB())
			admin.GET("/users", userHandler.List)
			admin.PUT("/users/:id", userHandler.Update)

			// System Logs
			systemLogHandler := handlers.NewSystemLogHandler(models.GetDB())
			admin.GET("/system-logs", systemLogHandler.List)
			admin.GET("/system-logs/modules", systemLogHandler.GetModules)
			admin.GET("/system-logs/retention", systemLogHandler.GetRetention)
			admin.PUT("/system-logs/retention", systemLogHandler.UpdateRetention)

			// System Config
			systemConfigHandler := handlers.NewSystemConfigHandler(models.GetDB())
			admin.GET("/system-config/email", systemConfigHandler.GetEmailConfig)
			admin.PUT("/system-config/email", systemConfigHandler.UpdateEmailConfig)
		}
	}
}
