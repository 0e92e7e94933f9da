package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "crmsync/docs"
	"crmsync/internal/cache"
	"crmsync/internal/chatwoot"
	"crmsync/internal/config"
	"crmsync/internal/handlers"
	"crmsync/internal/middleware"
	"crmsync/internal/notify"
	"crmsync/internal/pdf"
	"crmsync/internal/realtime"
	"crmsync/internal/repositories"
	"crmsync/internal/routes"
	"crmsync/internal/services"
	"crmsync/internal/syncbridge"
)

const shutdownTimeout = 10 * time.Second

// App holds the wired service. Build it with New and start it with Run.
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Store      repositories.Store
	Cache      *cache.Cache
	Dispatcher *syncbridge.Dispatcher
	Hub        *realtime.Hub
	Listener   *realtime.Listener
	Router     *gin.Engine
}

// OpenStore connects to the configured database. With migrate set the
// postgres schema and change triggers are applied first.
func OpenStore(ctx context.Context, cfg *config.Config, migrate bool) (repositories.Store, error) {
	switch cfg.Database.Driver {
	case "memory":
		return repositories.NewMemoryStore(), nil
	case "postgres":
		store, err := repositories.OpenPostgres(cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := repositories.Migrate(ctx, store.DB(), cfg.Realtime.Channel); err != nil {
				_ = store.Close()
				return nil, err
			}
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// NewBridge returns the Chatwoot bridge, or nil when Chatwoot is not
// configured.
func NewBridge(cfg *config.Config, store chatwoot.Store, logger *zap.Logger) *chatwoot.Bridge {
	if !cfg.ChatwootConfigured() {
		return nil
	}
	client := chatwoot.NewClient(chatwoot.Config{
		URL:       cfg.Chatwoot.URL,
		APIKey:    cfg.Chatwoot.APIKey,
		AccountID: cfg.Chatwoot.AccountID,
		Timeout:   cfg.Chatwoot.Timeout,
	})
	return chatwoot.NewBridge(client, store, logger.Named("chatwoot"))
}

// NewAlerter combines the configured dead letter channels.
func NewAlerter(cfg *config.Config, logger *zap.Logger) notify.Multi {
	var alerters notify.Multi
	if cfg.Email.SMTPHost != "" && len(cfg.Email.AlertTo) > 0 {
		alerters = append(alerters, notify.NewEmailAlerter(
			cfg.Email.SMTPHost,
			cfg.Email.SMTPPort,
			cfg.Email.SMTPUser,
			cfg.Email.SMTPPassword,
			cfg.Email.FromEmail,
			cfg.Email.AlertTo,
		))
	}
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != 0 {
		tg, err := notify.NewTelegramAlerter(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			logger.Warn("[app][alerts] telegram disabled", zap.Error(err))
		} else {
			alerters = append(alerters, tg)
		}
	}
	return alerters
}

// NewDispatcher builds the outbox dispatcher for store. A nil cw
// acknowledges entries without pushing them.
func NewDispatcher(cfg *config.Config, store repositories.Store, cw *chatwoot.Bridge, logger *zap.Logger) *syncbridge.Dispatcher {
	var bridge syncbridge.Bridge = syncbridge.NopBridge{}
	if cw != nil {
		bridge = cw
	} else {
		logger.Warn("[app][sync] chatwoot is not configured, outbox entries will be acknowledged without pushing")
	}
	return syncbridge.NewDispatcher(store, bridge, NewAlerter(cfg, logger), syncbridge.Config{
		Workers:      cfg.Sync.Workers,
		PollInterval: cfg.Sync.PollInterval,
		BatchSize:    cfg.Sync.BatchSize,
		MaxAttempts:  cfg.Sync.MaxAttempts,
		Lease:        2*cfg.Chatwoot.Timeout + time.Minute,
		Backoff: syncbridge.Backoff{
			Base:   cfg.Sync.BaseDelay,
			Factor: 2,
			Max:    cfg.Sync.MaxDelay,
			Jitter: 0.2,
		},
	}, logger.Named("dispatcher"))
}

func originPatterns(origins []string) []string {
	var out []string
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}

// New wires the store, services, sync dispatcher, realtime hub and HTTP
// router. The caller owns store.
func New(cfg *config.Config, store repositories.Store, logger *zap.Logger) (*App, error) {
	c := cache.New()
	cw := NewBridge(cfg, store, logger)
	dispatcher := NewDispatcher(cfg, store, cw, logger)

	stageService := services.NewStageService(store, c, dispatcher, logger.Named("stages"))
	dealService := services.NewDealService(store, c, dispatcher, logger.Named("deals"))
	pipelineService := services.NewPipelineService(store, stageService, c, logger.Named("pipelines"))
	clientService := services.NewClientService(store)

	hub := realtime.NewHub(logger.Named("hub"))
	hub.OriginPatterns = originPatterns(cfg.Server.CORSOrigins)

	var feed realtime.ChangeFeed
	switch s := store.(type) {
	case *repositories.MemoryStore:
		feed = s
	default:
		feed = realtime.NewPostgresFeed(cfg.Database.DSN, cfg.Realtime.Channel, logger.Named("pgfeed"))
	}
	listener := realtime.NewListener(feed, c, hub, logger.Named("listener"))

	var validator handlers.Validator
	if cw != nil {
		validator = cw
	}
	h := routes.Handlers{
		Pipelines: handlers.NewPipelineHandler(pipelineService),
		Stages:    handlers.NewStageHandler(stageService),
		Deals:     handlers.NewDealHandler(dealService),
		Clients:   handlers.NewClientHandler(clientService),
		Sync:      handlers.NewSyncHandler(store, dispatcher, validator),
		Reports: handlers.NewReportHandler(pipelineService, stageService, dealService,
			pdf.NewReportGenerator(cfg.Files.RootDir, cfg.Files.FontPath)),
		Realtime: handlers.NewRealtimeHandler(hub, logger.Named("realtime")),
	}
	if cfg.Chatwoot.WebhookToken != "" {
		wh, err := handlers.NewWebhookHandler(dealService, clientService, cfg.Chatwoot.WebhookToken, logger.Named("webhook"))
		if err != nil {
			return nil, err
		}
		h.Webhook = wh
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger.Named("http")))
	router.Use(middleware.CORS(cfg.Server.CORSOrigins))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	routes.SetupRoutes(router, []byte(cfg.Server.JWTSecret), h)

	return &App{
		Config:     cfg,
		Logger:     logger,
		Store:      store,
		Cache:      c,
		Dispatcher: dispatcher,
		Hub:        hub,
		Listener:   listener,
		Router:     router,
	}, nil
}

// Run serves HTTP and runs the dispatcher and change listener until ctx is
// cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("[app][http] listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return a.Dispatcher.Run(gctx) })
	g.Go(func() error { return a.Listener.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("[app][shutdown] stopping")
		a.Hub.Close()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
