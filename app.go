package main

import (
	"fmt"
	"log"

	controller "github.com/Itish41/virtualbackroom/controller"
	"github.com/Itish41/virtualbackroom/initializers"
	services "github.com/Itish41/virtualbackroom/service"
	"github.com/Itish41/virtualbackroom/store"
)

// app holds the wired services for one process.
type app struct {
	cfg           initializers.Config
	store         store.Store
	hub           *services.Hub
	notifications *services.NotificationService
	capa          *services.CAPAService
	email         *services.EmailService
	milestones    *services.MilestoneService
	regulatory    *services.RegulatoryService
	scheduler     *services.Scheduler
}

func loadConfig() initializers.Config {
	initializers.LoadEnv()
	return initializers.LoadConfig()
}

// openStore connects to the configured database and applies migrations.
func openStore(cfg initializers.Config) (store.Store, error) {
	db, err := initializers.ConnectDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database connection: %w", err)
	}
	if err := initializers.Migrate(db, cfg); err != nil {
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	return store.NewGormStore(db), nil
}

func newApp(cfg initializers.Config, s store.Store) (*app, error) {
	hub := services.NewHub()
	notifications := services.NewNotificationService(s, hub)

	search, err := services.NewSearchIndex(cfg.ElasticsearchURL)
	if err != nil {
		return nil, err
	}

	opts := []services.CAPAServiceOption{
		services.WithIndexer(search),
		services.WithNotifier(notifications),
	}
	if cfg.S3Enabled() {
		storage, err := services.NewS3Storage(services.S3Config{
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			PublicURL: cfg.S3PublicURL,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, services.WithStorage(storage))
	} else {
		log.Println("S3 not configured, CAPA attachments disabled")
	}

	generator := services.NewCAPAGenerator(services.NewTextGenerator(cfg.GroqAPIKey, cfg.GroqModel))
	sender := services.NewSender(services.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})

	a := &app{
		cfg:           cfg,
		store:         s,
		hub:           hub,
		notifications: notifications,
		capa:          services.NewCAPAService(s, generator, opts...),
		email:         services.NewEmailService(s, sender, notifications),
		milestones:    services.NewMilestoneService(s),
	}
	a.regulatory = services.NewRegulatoryService(s, search, a.email, notifications)
	a.scheduler = services.NewScheduler(s, a.email, cfg.SchedulerTick)
	services.RegisterDefaultJobs(a.scheduler, a.capa, a.milestones, a.email)
	return a, nil
}

func (a *app) handlers() controller.Handlers {
	return controller.Handlers{
		CAPA:          controller.NewCAPAController(a.capa),
		Regulatory:    controller.NewRegulatoryController(a.regulatory),
		Email:         controller.NewEmailController(a.email),
		Milestones:    controller.NewMilestoneController(a.milestones),
		Scheduler:     controller.NewSchedulerController(a.scheduler),
		Notifications: controller.NewNotificationController(a.notifications, a.hub),
	}
}
