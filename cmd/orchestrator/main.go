package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"liveorch/internal/core/domain"
	"liveorch/internal/core/services"
	httphandlers "liveorch/internal/handlers/http"
	"liveorch/internal/infrastructure/distributed"
	"liveorch/internal/infrastructure/engine"
	"liveorch/internal/infrastructure/identity"
	"liveorch/internal/infrastructure/middleware"
	"liveorch/internal/infrastructure/monitoring"
	"liveorch/internal/infrastructure/probe"
	"liveorch/internal/infrastructure/repositories"
	statusfeed "liveorch/internal/infrastructure/signal"
	"liveorch/pkg/config"
	lease "liveorch/pkg/distributed"
	"liveorch/pkg/logger"
	"liveorch/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// configPaths are tried in order when -config is not given.
var configPaths = []string{
	"configs/config.yaml",
	"/etc/liveorch/config.yaml",
	"config.yaml",
}

const (
	ingestLeasePrefix = "liveorch:ingest:"
	ingestLeaseTTL    = 30 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file (default: search configs/config.yaml, /etc/liveorch/config.yaml, config.yaml)")
	flag.Parse()

	cfg, source, skipped, err := loadConfig(*configPath, configPaths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	for path, loadErr := range skipped {
		zapLogger.Sugar().Warnw("skipping unusable config file", "path", path, "error", loadErr)
	}
	if source == "" {
		zapLogger.Sugar().Infow("no config file found, using defaults")
	} else {
		zapLogger.Sugar().Infow("configuration loaded", "path", source)
	}

	if err := run(cfg, zapLogger); err != nil {
		zapLogger.Sugar().Fatalw("orchestrator stopped with error", "error", err)
	}
}

// loadConfig reads the explicit path when one is given and fails if it is
// unusable. Otherwise the first candidate that exists and loads wins;
// broken candidates are returned in skipped. With no usable candidate the
// defaults and env overrides apply.
func loadConfig(explicit string, candidates []string) (cfg *config.Config, source string, skipped map[string]error, err error) {
	if explicit != "" {
		cfg, err = config.Load(explicit)
		return cfg, explicit, nil, err
	}

	skipped = make(map[string]error)
	for _, path := range candidates {
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		loaded, loadErr := config.Load(path)
		if loadErr != nil {
			skipped[path] = loadErr
			continue
		}
		return loaded, path, skipped, nil
	}

	cfg, err = config.FromEnv()
	return cfg, "", skipped, err
}

func run(cfg *config.Config, zapLogger *zap.Logger) error {
	log := zapLogger.Sugar()
	startTime := time.Now()
	instanceID := instanceName()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	streamCfg, err := streamConfigFrom(cfg)
	if err != nil {
		return err
	}

	repoFactory := repositories.NewRepositoryFactory(cfg, log)
	sessionRepo := repoFactory.CreateSessionRepository()

	ffmpeg := engine.NewFFmpegEngine(engineOptionsFrom(cfg), log.Named("engine"))

	// listeners
	hub := statusfeed.NewStatusHub(cfg, log.Named("status_feed"))
	listeners := services.NewMultiListener(services.NewLogListener(log.Named("session")), hub)

	var eventBus *distributed.EventBus
	if repoFactory.UsingRedis() {
		eventBus = distributed.NewEventBus(repoFactory.Client(), instanceID, cfg.Redis.EventChannel, log.Named("event_bus"))
		listeners.Add(eventBus)
	}

	orchestrator := services.NewSessionOrchestrator(
		services.NewProtocolRegistry(ffmpeg, streamCfg, log.Named("protocol")),
		streamCfg,
		listeners,
		log.Named("orchestrator"),
	)
	orchestrator.SetSessionRepository(sessionRepo)

	collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	orchestrator.AddObserver(collector)

	hub.SetSnapshot(func() statusfeed.StatusMessage {
		stats := orchestrator.Stats()
		return statusfeed.StatusMessage{
			Type:      statusfeed.MessageSnapshot,
			Variant:   string(orchestrator.CurrentVariant()),
			Status:    orchestrator.Status().String(),
			Stats:     &stats,
			Instance:  instanceID,
			Timestamp: time.Now(),
		}
	})

	sessionHandler := httphandlers.NewSessionHandler(orchestrator, sessionRepo, nil, log.Named("api"))
	if cfg.Identity.Enabled {
		identityClient := identity.NewClient(identityConfigFrom(cfg), repoFactory.CreateCredentialStore(), log.Named("identity"))
		sessionHandler = httphandlers.NewSessionHandler(orchestrator, sessionRepo, identityClient, log.Named("api"))
	}

	var ingestGuard *distributed.IngestGuard
	if repoFactory.UsingRedis() {
		leases := lease.NewLeaseManager(repoFactory.Client(), ingestLeasePrefix, instanceID, ingestLeaseTTL)
		ingestGuard = distributed.NewIngestGuard(leases, log.Named("ingest_guard"))
		orchestrator.AddObserver(ingestGuard)
		sessionHandler.SetDestinationGuard(ingestGuard)
	}

	health := monitoring.NewHealthChecker()
	health.AddEngineCheck(ffmpeg, 3*time.Second)
	health.AddRepositoryCheck(sessionRepo, 2*time.Second)
	if repoFactory.UsingRedis() {
		health.AddRedisCheck(repoFactory.Client(), 2*time.Second)
	}

	router := newRouter(cfg, zapLogger, sessionHandler, hub, health, startTime)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infow("starting orchestrator API", "address", cfg.Server.Address, "instance", instanceID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.Adaptive.Enabled {
		adaptive := services.NewAdaptiveBitrateService(
			services.NewQualityService(domain.DefaultBitrateLadder),
			orchestrator,
			log.Named("adaptive"),
		)
		adaptive.SetCheckInterval(cfg.Adaptive.CheckInterval)
		adaptive.SetMinTimeBetweenAdjustments(cfg.Adaptive.MinTimeBetweenAdjustments)
		adaptive.SetHysteresisFactor(cfg.Adaptive.HysteresisFactor)
		adaptive.SetRecorder(collector)

		uplink := probe.NewHTTPUploadProbe(cfg.Adaptive.ProbeURL, cfg.Adaptive.ProbePayloadBytes, cfg.Adaptive.ProbeTimeout, log.Named("probe"))
		adaptive.StartMonitoring(gctx, uplink)
	}

	if eventBus != nil {
		g.Go(func() error {
			eventBus.Run(gctx)
			return nil
		})
		g.Go(func() error {
			err := eventBus.Subscribe(gctx, func(event *distributed.Event) error {
				hub.Broadcast(statusfeed.StatusMessage{
					Type:      statusfeed.MessageRemote,
					Message:   event.Message,
					Instance:  event.InstanceID,
					Timestamp: event.Timestamp,
				})
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warnw("event bus subscription ended", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down orchestrator")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("error during server shutdown", "error", err)
			_ = srv.Close()
		}
		hub.Close()
		orchestrator.Release()
		ffmpeg.CancelAll()
		if ingestGuard != nil {
			ingestGuard.Close()
		}
		if eventBus != nil {
			_ = eventBus.Close()
		}
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warnw("error shutting down tracer provider", "error", err)
		}
		if err := repoFactory.Close(); err != nil {
			log.Errorw("error closing repository factory", "error", err)
		}
		return nil
	})

	err = g.Wait()
	log.Infow("orchestrator stopped", "uptime", time.Since(startTime).String())
	return err
}

func newRouter(
	cfg *config.Config,
	zapLogger *zap.Logger,
	sessionHandler *httphandlers.SessionHandler,
	hub *statusfeed.StatusHub,
	health *monitoring.HealthChecker,
	startTime time.Time,
) *gin.Engine {
	log := zapLogger.Sugar()
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.RequestLoggerMiddleware(logger.NewContextLogger(zapLogger)))
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
		})
	})
	router.GET("/ready", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if !status.Healthy() {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})
	if cfg.Monitoring.PrometheusEnabled {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api/v1")
	var operator []gin.HandlerFunc
	if cfg.Auth.Enabled {
		authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
		httphandlers.NewAuthHandler(authService, cfg.Auth.Operators, cfg.Auth.AccessTokenTTL, log.Named("auth")).SetupRoutes(router)

		api.Use(middleware.AuthMiddleware(authService))
		operator = append(operator, middleware.RequireRole(authService, services.RoleOperator))
	}

	sessionHandler.SetupRoutes(api, operator...)

	if cfg.StatusFeed.Enabled {
		router.GET(cfg.StatusFeed.Path, gin.WrapF(hub.HandleWebSocket))
	}
	return router
}

func instanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "liveorch"
	}
	return host + "-" + uuid.NewString()[:8]
}
