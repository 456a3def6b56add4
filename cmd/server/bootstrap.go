package main

import (
	"context"

	"github.com/huangang/agendatrack/internal/config"
	"github.com/huangang/agendatrack/internal/models"
	"github.com/huangang/agendatrack/internal/services"
	"github.com/huangang/agendatrack/internal/utils"
	"github.com/huangang/agendatrack/pkg/logger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// appServices holds all initialized services needed by the application.
type appServices struct {
	cfg *config.Config
	db  *gorm.DB

	hub       *services.NotificationHub
	queue     services.DeliveryQueue
	worker    *services.Worker
	scheduler *services.AlertScheduler
	redis     *redis.Client
	relayStop context.CancelFunc

	auth          *services.AuthService
	projects      *services.ProjectService
	agendas       *services.AgendaService
	assignments   *services.AssignmentService
	extensions    *services.ExtensionService
	alerts        *services.AlertService
	notifications *services.NotificationService
	collaborators *services.CollaboratorService
	dashboard     *services.DashboardService
	pushSubs      *services.PushSubscriptionService
	pushSender    *services.WebPushSender
	systemConfig  *services.SystemConfigService
	systemLogs    *services.SystemLogService
}

// bootstrap initializes all application dependencies: database, delivery
// pipeline, services and the alert scheduler.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}
	if err := models.SeedDefaultData(); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed default data")
	}

	db := models.GetDB()
	loc := cfg.Location()
	services.InitSystemLogger(db)

	svc := &appServices{cfg: cfg, db: db, hub: services.GetNotificationHub()}

	// Realtime events go straight to the local hub, or through Redis
	// pub/sub so every instance's hub sees them.
	var broadcaster services.Broadcaster = svc.hub
	if cfg.Redis.Enabled {
		svc.redis = services.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		bridge := services.NewRedisBroadcaster(svc.redis)
		broadcaster = bridge

		ctx, cancel := context.WithCancel(context.Background())
		svc.relayStop = cancel
		go func() {
			if err := bridge.Relay(ctx, svc.hub, nil); err != nil {
				logger.Error().Err(err).Msg("[Hub] Redis relay stopped")
			}
		}()
	}

	svc.pushSender = services.NewWebPushSender(&cfg.Push)
	var pushSender services.PushSender
	if svc.pushSender.Enabled() {
		pushSender = svc.pushSender
	} else {
		logger.Info().Msg("[Push] VAPID keys not configured, browser push disabled")
	}

	delivery := services.NewDeliveryService(db, broadcaster, pushSender, services.NewEmailService(db), cfg.App.BaseURL)

	svc.queue = services.InitDeliveryQueue(cfg)
	if syncQueue, ok := svc.queue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(delivery.ProcessTask)
	}
	if svc.queue.IsAsync() {
		svc.worker = services.NewWorker(&cfg.Redis)
		if svc.worker != nil {
			svc.worker.SetProcessor(delivery.ProcessTask)
			if err := svc.worker.Start(); err != nil {
				logger.Error().Err(err).Msg("[Worker] failed to start")
			}
		}
	}

	notifier := services.NewNotifier(svc.queue)

	var directory services.DirectoryAuthenticator
	if cfg.LDAP.Enabled {
		directory = services.NewLDAPService(&cfg.LDAP)
	}
	svc.auth = services.NewAuthService(db, &cfg.JWT, directory)
	if err := svc.auth.CreateAdminIfNotExists(cfg.Admin.Username, cfg.Admin.Password); err != nil {
		logger.Warn().Err(err).Msg("Failed to create admin user")
	}

	svc.projects = services.NewProjectService(db, notifier, loc)
	svc.agendas = services.NewAgendaService(db, notifier, loc)
	svc.assignments = services.NewAssignmentService(db, notifier)
	svc.extensions = services.NewExtensionService(db, notifier)
	svc.alerts = services.NewAlertService(db, notifier, loc, cfg.Alerts.PushTypes)
	svc.notifications = services.NewNotificationService(db)
	svc.collaborators = services.NewCollaboratorService(db)
	svc.dashboard = services.NewDashboardService(db, loc)
	svc.pushSubs = services.NewPushSubscriptionService(db)
	svc.systemConfig = services.NewSystemConfigService(db)
	svc.systemLogs = services.NewSystemLogService(db)

	svc.scheduler = services.NewAlertScheduler(db, svc.alerts, svc.systemLogs,
		services.NewHolidayCalendar(cfg.Alerts.HolidayCountry), cfg.Alerts.SweepCron, loc)
	if err := svc.scheduler.Start(); err != nil {
		logger.Fatalf("Failed to start alert scheduler: %v", err)
	}

	return svc
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	s.scheduler.Stop()
	logger.Info().Msg("All schedulers stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.queue != nil {
		if err := s.queue.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close delivery queue")
		}
	}
	if s.relayStop != nil {
		s.relayStop()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}

	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
