package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tradesignal/billing-server-go/internal/config"
	"github.com/tradesignal/billing-server-go/internal/database"
	"github.com/tradesignal/billing-server-go/internal/handler"
	"github.com/tradesignal/billing-server-go/internal/jobs"
	"github.com/tradesignal/billing-server-go/internal/middleware"
	"github.com/tradesignal/billing-server-go/internal/payment"
	"github.com/tradesignal/billing-server-go/internal/redis"
	"github.com/tradesignal/billing-server-go/internal/repository"
	"github.com/tradesignal/billing-server-go/internal/service"
	"github.com/tradesignal/billing-server-go/internal/sse"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	isProduction := cfg.IsProduction()
	if !isProduction {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	setLogLevel(cfg.LogLevel)

	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	if cfg.RunMigrations {
		if err := db.Migrate(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
	}

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	accountRepo := repository.NewAccountRepository(db.DB)
	webhookEventRepo := repository.NewWebhookEventRepository(db.DB)
	signalRepo := repository.NewSignalRepository(db.DB)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	tokens := service.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL())
	ledger := service.NewLedger(accountRepo)
	gateway := service.NewGateway(accountRepo, ledger)
	analysisService := service.NewAnalysisService(
		gateway, ledger, service.NewHTTPAnalysisEngine(cfg.AnalysisEngineURL, cfg.AnalysisTimeout()),
	)
	picksService := service.NewPicksService(gateway, signalRepo, service.NewRedisViewCounter(redisClient))
	trackRecordService := service.NewTrackRecordService(signalRepo)
	reconciler := service.NewReconciler(accountRepo, webhookEventRepo, broker)
	checkoutService := service.NewCheckoutService(
		accountRepo,
		payment.NewCardCheckout(cfg.StripeSecretKey, cfg.StripeProPriceID),
		payment.NewCryptoClient(cfg.CryptoAPIURL, cfg.CryptoAPIKey),
		service.CheckoutConfig{BaseURL: cfg.AppBaseURL, ProPriceUSD: cfg.ProPriceUSD},
	)
	authService := service.NewAuthService(accountRepo, tokens)
	adminService := service.NewAdminService(accountRepo, webhookEventRepo, ledger)

	// The ledger is authoritative for credits, so the analysis limiter lets
	// requests through when Redis is down. Login throttling does not.
	analysisLimiter := service.NewRateLimiter(redisClient.Client, true)
	loginLimiter := service.NewRateLimiter(redisClient.Client, false)

	authMiddleware := middleware.NewAuthMiddleware(tokens)
	analysisRateLimit := middleware.NewRateLimitMiddleware(
		analysisLimiter, cfg.AnalysisRateLimitPerMin, config.RateLimitWindow, "analysis",
	)
	loginRateLimit := middleware.NewIPRateLimitMiddleware(
		loginLimiter, config.LoginAttemptsPerWindow, config.LoginAttemptWindow, "login",
	)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	usageHandler := handler.NewUsageHandler(analysisService, gateway, ledger)
	picksHandler := handler.NewPicksHandler(picksService, trackRecordService)
	webhookHandler := handler.NewWebhookHandler(
		payment.NewCardAdapter(cfg.StripeWebhookSecret).WithInvoiceLookup(payment.NewInvoiceLookup(cfg.StripeSecretKey)),
		payment.NewCryptoAdapter(cfg.CryptoIPNSecret),
		reconciler,
	)
	checkoutHandler := handler.NewCheckoutHandler(checkoutService, authMiddleware.Handler)
	authHandler := handler.NewAuthHandler(authService)
	eventsHandler := handler.NewEventsHandler(broker, ledger)
	adminHandler := handler.NewAdminHandler(adminService, cfg.AdminAPIToken)
	healthHandler := handler.NewHealthHandler(map[string]handler.Checker{
		"database": db.Ping,
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	})

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", healthHandler.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	// Provider callbacks verify signatures over the raw body, so they get their
	// own size limit and nothing that reads the body first.
	r.Route("/webhooks", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Post("/card-provider", webhookHandler.Card)
		r.Post("/crypto-provider", webhookHandler.Crypto)
	})

	// Long-lived stream; no request timeout.
	r.With(authMiddleware.Handler).Get("/events", eventsHandler.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

		r.Get("/track-record", picksHandler.TrackRecord)

		r.Route("/auth", func(r chi.Router) {
			r.Use(bodyLimitMiddleware.Handler)
			r.With(loginRateLimit.Handler).Post("/login", authHandler.Login)
			r.With(loginRateLimit.Handler).Post("/register", authHandler.Register)
		})

		r.Group(func(r chi.Router) {
			r.Use(bodyLimitMiddleware.Handler)
			r.Mount("/checkout", checkoutHandler.Routes())
		})

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Handler)
			r.Get("/usage", usageHandler.Usage)
			r.Get("/daily-picks", picksHandler.DailyPicks)

			r.Group(func(r chi.Router) {
				r.Use(analysisRateLimit.Handler)
				r.Post("/analyze", usageHandler.Analyze)
				r.With(bodyLimitMiddleware.Handler).Post("/usage/consume", usageHandler.Consume)
			})
		})

		if cfg.AdminAPIToken != "" {
			r.Mount("/admin", adminHandler.Routes())
		}
	})

	maintenanceJob := jobs.NewMaintenanceJob(
		accountRepo, webhookEventRepo, cfg.WebhookEventRetention(), config.MaintenanceJobInterval,
	)
	maintenanceJob.Start()
	defer maintenanceJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		return
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
