package main

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/agendatrack/internal/handlers"
	"github.com/huangang/agendatrack/internal/middleware"
	"github.com/huangang/agendatrack/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine. The
// returned limiter must be closed on shutdown.
func registerRoutes(r *gin.Engine, svc *appServices) *middleware.RateLimiter {
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS(svc.cfg.Server.CORSOrigins...))

	apiLimiter := middleware.NewRateLimiter(20, 40)

	healthHandler := handlers.NewHealthHandler(svc.db, svc.queue, svc.hub)
	r.GET("/health", healthHandler.CheckHealth)

	authHandler := handlers.NewAuthHandler(svc.auth)
	projectHandler := handlers.NewProjectHandler(svc.projects)
	agendaHandler := handlers.NewAgendaHandler(svc.agendas, svc.assignments, svc.extensions, svc.dashboard)
	collaboratorHandler := handlers.NewCollaboratorHandler(svc.collaborators)
	notificationHandler := handlers.NewNotificationHandler(svc.notifications, svc.alerts)
	pushHandler := handlers.NewPushHandler(svc.pushSubs, svc.pushSender)
	dashboardHandler := handlers.NewDashboardHandler(svc.dashboard)
	sseHandler := handlers.NewSSEHandler(svc.hub)
	systemConfigHandler := handlers.NewSystemConfigHandler(svc.systemConfig)
	systemLogHandler := handlers.NewSystemLogHandler(svc.systemLogs)

	api := r.Group("/api")
	{
		// Auth routes (public)
		auth := api.Group("/auth", apiLimiter.Middleware())
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.GET("/config", authHandler.GetAuthConfig)
		}

		// SSE stream (token may be passed as ?token=)
		events := api.Group("/events", middleware.AuthRequired(), middleware.LoadActor(svc.db))
		events.GET("/notifications", sseHandler.StreamNotifications)

		// Protected routes
		protected := api.Group("")
		protected.Use(middleware.AuthRequired(), middleware.LoadActor(svc.db), apiLimiter.Middleware(), middleware.AuditLog())
		{
			// Auth
			protected.GET("/auth/me", authHandler.GetCurrentUser)
			protected.POST("/auth/logout", authHandler.Logout)
			protected.POST("/auth/change-password", authHandler.ChangePassword)

			// Dashboard
			protected.GET("/dashboard", dashboardHandler.GetStats)
			protected.GET("/search", dashboardHandler.Search)
			protected.GET("/calendar", dashboardHandler.Calendar)
			protected.GET("/analytics", dashboardHandler.Analytics)

			// Projects (writes are checked in the service)
			protected.GET("/projects", projectHandler.List)
			protected.GET("/projects/:id", projectHandler.GetByID)
			protected.POST("/projects", projectHandler.Create)
			protected.PUT("/projects/:id", projectHandler.Update)
			protected.DELETE("/projects/:id", projectHandler.Delete)
			protected.POST("/projects/:id/members", projectHandler.AddMember)
			protected.DELETE("/projects/:id/members/:collaboratorID", projectHandler.RemoveMember)

			// Agendas
			protected.GET("/agendas", agendaHandler.List)
			protected.GET("/agendas/overview", agendaHandler.Overview)
			protected.GET("/agendas/:id", agendaHandler.GetByID)
			protected.POST("/agendas", agendaHandler.Create)
			protected.PUT("/agendas/:id", agendaHandler.Update)
			protected.DELETE("/agendas/:id", agendaHandler.Delete)
			protected.POST("/agendas/:id/toggle", agendaHandler.Toggle)
			protected.POST("/agendas/:id/accept", agendaHandler.Accept)
			protected.POST("/agendas/:id/reject", agendaHandler.Reject)
			protected.POST("/agendas/:id/extend-time", agendaHandler.ExtendTime)

			// Collaborators
			protected.GET("/collaborators", collaboratorHandler.List)
			protected.GET("/collaborators/:id", collaboratorHandler.GetByID)
			protected.POST("/collaborators", collaboratorHandler.Create)
			protected.PUT("/collaborators/:id", collaboratorHandler.Update)
			protected.DELETE("/collaborators/:id", collaboratorHandler.Delete)

			// Notifications
			protected.GET("/notifications", notificationHandler.List)
			protected.GET("/notifications/unread", notificationHandler.Unread)
			protected.GET("/notifications/unread-count", notificationHandler.UnreadCount)
			protected.POST("/notifications/read-all", notificationHandler.MarkAllRead)
			protected.POST("/notifications/clear-archived", notificationHandler.ClearArchived)
			protected.POST("/notifications/:id/read", notificationHandler.MarkRead)
			protected.DELETE("/notifications/:id", notificationHandler.Delete)
			protected.GET("/alerts/check", notificationHandler.CheckAlerts)

			// Browser push
			protected.POST("/push/subscribe", pushHandler.Subscribe)
			protected.POST("/push/unsubscribe", pushHandler.Unsubscribe)
			protected.GET("/push/vapid-public-key", pushHandler.VAPIDPublicKey)
		}

		// Superuser only routes
		admin := api.Group("")
		admin.Use(middleware.AuthRequired(), middleware.LoadActor(svc.db), middleware.SuperuserRequired(), middleware.AuditLog())
		{
			admin.GET("/auth/pending", authHandler.Pending)
			admin.POST("/auth/approve/:id", authHandler.Approve)

			admin.GET("/system-logs", systemLogHandler.List)
			admin.GET("/system-logs/modules", systemLogHandler.GetModules)

			admin.GET("/system-config/email", systemConfigHandler.GetEmailConfig)
			admin.PUT("/system-config/email", systemConfigHandler.UpdateEmailConfig)
			admin.GET("/system-config/holiday-countries", systemConfigHandler.GetHolidayCountries)
		}
	}

	return apiLimiter
}
