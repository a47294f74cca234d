package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"family-alert-go/internal/config"
	"family-alert-go/internal/db"
	alertdomain "family-alert-go/internal/domain/alert"
	cooldowndomain "family-alert-go/internal/domain/cooldown"
	familydomain "family-alert-go/internal/domain/family"
	"family-alert-go/internal/domain/notify"
	userdomain "family-alert-go/internal/domain/user"
	"family-alert-go/internal/firebase"
	"family-alert-go/internal/mailer"
	"family-alert-go/internal/metrics"
	"family-alert-go/internal/queue"
	"family-alert-go/internal/repository/docstore"
	"family-alert-go/internal/repository/inmemory"
	"family-alert-go/internal/repository/rediscache"
	"family-alert-go/internal/store"
	firestorestore "family-alert-go/internal/store/firestore"
	"family-alert-go/internal/store/memory"
	pgstore "family-alert-go/internal/store/postgres"
	"family-alert-go/internal/transport/httpserver"
	"family-alert-go/internal/transport/httpserver/handler"
	authmw "family-alert-go/internal/transport/httpserver/middleware"
	"family-alert-go/pkg/logger"
	fb "firebase.google.com/go/v4"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type App struct {
	cfg        config.Config
	httpServer *http.Server
	log        logger.Logger

	gateway store.Gateway
	db      *gorm.DB
	redis   *redis.Client
	rabbit  *queue.RabbitMQ

	// background stops the in-process queue consumer.
	background context.CancelFunc
	consumerCh chan error
}

func New(log logger.Logger) (*App, error) {
	log.Info("app: loading config")
	cfg, err := config.Load(log)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log}
	if err := a.init(); err != nil {
		if closeErr := a.Close(); closeErr != nil {
			log.Error("app: cleanup after failed init", "err", closeErr)
		}
		return nil, err
	}
	return a, nil
}

func (a *App) init() error {
	ctx := context.Background()
	cfg, log := a.cfg, a.log

	var (
		fbApp *fb.App
		err   error
	)
	if cfg.Store.Backend == config.StoreFirestore || !cfg.Auth.SkipAuth {
		log.Info("app: initializing firebase", "project_id", cfg.Firebase.ProjectID)
		fbApp, err = firebase.NewApp(ctx, cfg.Firebase)
		if err != nil {
			return err
		}
	}

	if cfg.Redis.Enabled() {
		log.Info("app: initializing redis")
		a.redis, err = db.NewRedis(cfg.Redis, log)
		if err != nil {
			return err
		}
	}

	log.Info("app: initializing store", "backend", cfg.Store.Backend)
	a.gateway, err = a.newGateway(ctx, fbApp)
	if err != nil {
		return err
	}

	m := metrics.New()

	users := docstore.NewUserRepository(a.gateway)
	alerts := docstore.NewAlertRepository(a.gateway)
	families := docstore.NewFamilyRepository(a.gateway)

	publisher, err := a.newPublisher(users, m)
	if err != nil {
		return err
	}

	cooldownService := cooldowndomain.NewService(users, cfg.Alerts.Cooldown, log)
	alertService := alertdomain.NewService(alerts, log,
		alertdomain.WithCooldown(cooldownService),
		alertdomain.WithPublisher(publisher),
		alertdomain.WithRecorder(m),
		alertdomain.WithVisibilityWindow(cfg.Alerts.VisibilityWindow),
	)
	familyService := familydomain.NewService(families, log,
		familydomain.WithCache(a.familyCache(), cfg.Families.CacheTTL),
		familydomain.WithInviteTTL(cfg.Invites.TTL),
	)
	userService := userdomain.NewService(users, log,
		userdomain.WithAccountCleanup(familyService, alertService),
	)

	var verifier authmw.TokenVerifier
	if fbApp != nil && !cfg.Auth.SkipAuth {
		authClient, err := fbApp.Auth(ctx)
		if err != nil {
			return fmt.Errorf("init firebase auth: %w", err)
		}
		verifier = authClient
	}
	if cfg.Auth.SkipAuth {
		log.Warn("app: auth disabled, every request runs as the mock user", "user_id", cfg.Auth.MockUserID)
	}

	log.Info("app: initializing router")
	handlers := handler.New(handler.Services{
		Profiles:  userService,
		Cooldowns: cooldownService,
		Alerts:    alertService,
		Families:  familyService,
	}, log,
		handler.WithStreamTracker(m),
		handler.WithAllowedOrigins(cfg.CORS.AllowedOrigins),
	)
	router := httpserver.NewRouter(cfg, handlers, verifier, userService, m, log)

	log.Info("app: initializing http server")
	a.httpServer = httpserver.New(cfg, router)
	return nil
}

func (a *App) newGateway(ctx context.Context, fbApp *fb.App) (store.Gateway, error) {
	switch a.cfg.Store.Backend {
	case config.StoreFirestore:
		client, err := fbApp.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("init firestore: %w", err)
		}
		return firestorestore.New(client, a.log), nil

	case config.StorePostgres:
		gormDB, err := db.NewPostgres(a.cfg.DB, a.log)
		if err != nil {
			return nil, err
		}
		a.db = gormDB
		if err := db.Migrate(ctx, gormDB, a.log); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		bus := pgstore.NopBus()
		if a.redis != nil {
			bus = pgstore.NewRedisBus(a.redis, a.cfg.Redis.Channel, a.log)
		}
		pg, err := pgstore.New(ctx, gormDB, bus, a.log)
		if err != nil {
			return nil, err
		}
		return pg, nil

	default:
		a.log.Warn("app: using in-memory store, data is lost on restart")
		return memory.New(), nil
	}
}

// newPublisher sends notifications through RabbitMQ when configured, with a
// consumer in this process; otherwise it dispatches directly.
func (a *App) newPublisher(profiles notify.ProfileReader, m *metrics.Metrics) (notify.Publisher, error) {
	var mail notify.Mailer = mailer.NewLogMailer(a.log)
	if a.cfg.SMTP.Enabled() {
		smtpMailer, err := mailer.NewSMTPMailer(mailer.SMTPConfig{
			Host:     a.cfg.SMTP.Host,
			Port:     a.cfg.SMTP.Port,
			Username: a.cfg.SMTP.Username,
			Password: a.cfg.SMTP.Password,
			From:     a.cfg.SMTP.From,
			FromName: a.cfg.SMTP.FromName,
		})
		if err != nil {
			return nil, err
		}
		mail = smtpMailer
	}
	dispatcher := notify.NewDispatcher(profiles, mail, m, a.log)

	if !a.cfg.RabbitMQ.Enabled() {
		return notify.NewDirectPublisher(dispatcher, a.log), nil
	}

	rabbit, err := queue.NewRabbitMQ(queue.RabbitMQConfig{URL: a.cfg.RabbitMQ.URL, Queue: a.cfg.RabbitMQ.Queue}, a.log)
	if err != nil {
		return nil, err
	}
	a.rabbit = rabbit

	ctx, cancel := context.WithCancel(context.Background())
	a.background = cancel
	a.consumerCh = make(chan error, 1)
	consumer := notify.NewConsumer(dispatcher, a.log)
	go func() {
		a.consumerCh <- consumer.Run(ctx, rabbit)
	}()

	return notify.NewQueuePublisher(rabbit), nil
}

func (a *App) familyCache() familydomain.Cache {
	if a.redis != nil {
		return rediscache.NewFamilyCache(a.redis, a.cfg.Redis.CachePrefix, a.log)
	}
	return inmemory.NewFamilyCache()
}

func (a *App) HTTPServer() *http.Server {
	return a.httpServer
}

func (a *App) Close() error {
	var errs []error

	if a.background != nil {
		a.background()
		if err := <-a.consumerCh; err != nil {
			errs = append(errs, fmt.Errorf("queue consumer: %w", err))
		}
	}
	if a.rabbit != nil {
		errs = append(errs, a.rabbit.Close())
	}
	if a.gateway != nil {
		errs = append(errs, a.gateway.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		sqlDB, err := a.db.DB()
		if err != nil {
			errs = append(errs, err)
		} else {
			errs = append(errs, sqlDB.Close())
		}
	}

	return errors.Join(errs...)
}
