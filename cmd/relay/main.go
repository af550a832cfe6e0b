package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	"voicemesh/internal/core/services"
	"voicemesh/internal/infrastructure/middleware"
	"voicemesh/internal/infrastructure/monitoring"
	repositories "voicemesh/internal/infrastructure/repositories"
	signalws "voicemesh/internal/infrastructure/signal"
	"voicemesh/pkg/config"
	"voicemesh/pkg/logger"
	"voicemesh/pkg/tracing"
	"voicemesh/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/voicemesh/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	// Initialize logger
	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	// Initialize tracing
	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "voicemesh",
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tp.Shutdown(ctx)
	}()

	// Initialize repository factory
	repoFactory, err := repositories.NewFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	sessionRepo := repoFactory.CreateSessionRepository()
	connRegistry := repoFactory.CreateConnectionRegistry()
	presenceMirror := repoFactory.CreatePresenceMirror(utils.GenerateInstanceID())

	// Initialize monitoring
	var metrics ports.Metrics
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector()
	}

	// Initialize services
	authService := services.NewAuthService(cfg.Auth.Enabled, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	// The websocket server is built first: it is the ChannelWriter the
	// services deliver through, and Attach closes the loop afterwards.
	wsServer := signalws.NewServer(authService, metrics, log, signalws.Config{
		PingInterval:      cfg.Signal.PingInterval,
		PongTimeout:       cfg.Signal.PongTimeout,
		ReadTimeout:       cfg.Signal.ReadTimeout,
		WriteTimeout:      cfg.Signal.WriteTimeout,
		QueueSize:         cfg.Router.QueueSize,
		RateLimitEnabled:  cfg.RateLimiting.Enabled,
		MessagesPerSecond: cfg.RateLimiting.Control.MessagesPerSecond,
		Burst:             cfg.RateLimiting.Control.Burst,
	})

	sessionService := services.NewSessionService(
		sessionRepo,
		connRegistry,
		wsServer,
		presenceMirror,
		metrics,
		log,
		services.SessionConfig{
			DefaultRole:     domain.Role(cfg.Session.DefaultRole),
			MaxParticipants: cfg.Session.MaxParticipants,
		},
	)
	audioRouter := services.NewAudioRouter(sessionRepo, connRegistry, wsServer, metrics, log)
	wsServer.Attach(sessionService, audioRouter)

	presenceMonitor := services.NewPresenceMonitor(
		sessionRepo,
		connRegistry,
		sessionService,
		wsServer,
		metrics,
		log,
		services.PresenceConfig{
			SweepInterval: cfg.Presence.SweepInterval,
			StaleTimeout:  cfg.Presence.StaleTimeout,
			SpeakingHold:  cfg.Router.SpeakingHold,
			EmptyTTL:      cfg.Session.EmptyTTL,
		},
	)

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	go presenceMonitor.Run(monitorCtx)

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	router.GET("/ws", gin.WrapF(wsServer.HandleWebSocket))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":      "healthy",
			"timestamp":   time.Now(),
			"uptime":      time.Since(startTime).String(),
			"connections": wsServer.ConnectionCount(),
		})
	})

	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddCheck("repositories", repoFactory.HealthCheck, 2*time.Second)

	router.GET("/ready", func(c *gin.Context) {
		status := healthChecker.CheckAll(c.Request.Context())
		code := 200
		if status.Status != "healthy" {
			code = 503
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting VoiceMesh relay on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down VoiceMesh relay...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Close every session first so connected clients get session_closed
	// before their sockets drop.
	stopMonitor()
	sessionService.Shutdown(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server shutdown failed", "error", err)
	}

	log.Info("VoiceMesh relay stopped")
}
