package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"

	"trustmymrr/internal/ads"
	"trustmymrr/internal/auth"
	"trustmymrr/internal/cache"
	"trustmymrr/internal/config"
	"trustmymrr/internal/db"
	"trustmymrr/internal/founders"
	"trustmymrr/internal/handlers"
	"trustmymrr/internal/jobs"
	"trustmymrr/internal/logging"
	"trustmymrr/internal/metrics"
	"trustmymrr/internal/payments"
	"trustmymrr/internal/realtime"
	"trustmymrr/internal/revenue"
	"trustmymrr/internal/secrets"
	"trustmymrr/internal/startups"
	"trustmymrr/internal/storage"
	"trustmymrr/internal/xprofile"
)

// Set at build time with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logging.Init()
	defer logging.Sync()
	log := logging.L()

	log.Info("starting Trust My MRR",
		zap.String("version", version),
		zap.String("environment", cfg.Environment))

	// SECURITY: refuse to boot in production with weak or missing secrets.
	config.MustValidateSecrets(cfg)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	database, err := db.NewDatabase(databaseConfig(cfg))
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	metricsCache := newCache(cfg)
	defer metricsCache.Close()

	masterKey, err := cfg.MasterKey()
	if err != nil {
		log.Fatal("invalid master key", zap.Error(err))
	}
	sealer, err := secrets.NewManager(masterKey)
	if err != nil {
		log.Fatal("failed to init secrets manager", zap.Error(err))
	}
	tokens := auth.NewTokenService(cfg.JWTSigningKey(), "trustmymrr", 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assets, err := storage.New(ctx, storage.Config{
		Backend:       cfg.StorageBackend,
		LocalDir:      cfg.StorageLocalDir,
		PublicURL:     cfg.StoragePublicURL,
		S3Bucket:      cfg.S3Bucket,
		S3Region:      cfg.S3Region,
		S3Endpoint:    cfg.S3Endpoint,
		S3AccessKeyID: cfg.S3AccessKeyID,
		S3SecretKey:   cfg.S3SecretKey,
	})
	if err != nil {
		log.Fatal("failed to init storage", zap.Error(err))
	}

	xClient := xprofile.NewClient(xprofile.Config{
		BaseURL:           cfg.XAPIBaseURL,
		BearerToken:       cfg.XBearerToken,
		ClientID:          cfg.XClientID,
		ClientSecret:      cfg.XClientSecret,
		RequestsPerMinute: cfg.XRequestsPerMinute,
		CacheTTL:          cfg.XProfileTTL,
	}, metricsCache)
	if !xClient.Configured() {
		log.Warn("X API credentials missing, founder profiles will not be enriched")
	}

	fetcher := revenue.NewFetcher(revenue.NewStripeProviderFactory(revenue.StripeConfig{
		MaxNetworkRetries: cfg.StripeMaxRetries,
		Timeout:           cfg.StripeTimeout,
		APIURL:            cfg.StripeAPIURL,
	}))

	opts := startups.Options{
		Cache:       metricsCache,
		Profiles:    xClient,
		MetricsTTL:  cfg.MetricsCacheTTL,
		Concurrency: cfg.MetricsConcurrency,
	}
	if assets != nil {
		opts.Storage = assets
	}
	startupService := startups.NewService(database.DB, fetcher, sealer, tokens, opts)

	var profileSource founders.ProfileSource
	if xClient.Configured() {
		profileSource = xClient
	}
	founderService := founders.NewService(database.DB, startupService, profileSource)

	stripeService := payments.NewStripeService(payments.Config{
		SecretKey:         cfg.StripeSecretKey,
		WebhookSecret:     cfg.StripeWebhookSecret,
		AdPriceID:         cfg.AdStripePriceID,
		APIURL:            cfg.StripeAPIURL,
		MaxNetworkRetries: cfg.StripeMaxRetries,
		Timeout:           cfg.StripeTimeout,

		AllowUnsignedWebhooks: !cfg.IsProduction() && cfg.Environment != config.EnvStaging,
	})
	catalog, err := ads.LoadCatalog(cfg.AdSpotsFile)
	if err != nil {
		log.Fatal("failed to load ad spots", zap.Error(err))
	}
	var checkout ads.Checkout
	if stripeService.IsConfigured() {
		checkout = stripeService
	} else {
		log.Warn("STRIPE_SECRET_KEY not set, ad checkout disabled")
	}
	adService := ads.NewService(database.DB, catalog, checkout, cfg.SiteURL)

	hub := realtime.NewHub(cfg.CORSAllowedOrigins, !cfg.IsProduction())
	go hub.Run(ctx)

	h := &handlers.Handler{
		DB:                database.DB,
		Startups:          startupService,
		Founders:          founderService,
		Ads:               adService,
		Profiles:          xClient,
		Webhooks:          stripeService,
		Fetcher:           fetcher,
		Cache:             metricsCache,
		Hub:               hub,
		PlatformStripeKey: cfg.StripeSecretKey,
		SiteURL:           cfg.SiteURL,
		Version:           version,
	}

	var scheduler *jobs.Scheduler
	if cfg.EnableJobs {
		scheduler = jobs.NewScheduler(jobs.Config{
			AdExpiryInterval:    cfg.AdExpiryInterval,
			MetricsWarmInterval: cfg.MetricsWarmInterval,
			FounderSyncInterval: cfg.FounderSyncInterval,
			LeaderboardSize:     cfg.LeaderboardSize,
		}, adService, startupService, founderService, hub)
		scheduler.Start(ctx)
		h.Jobs = scheduler
	}

	var collector *metrics.CatalogCollector
	if cfg.EnableMetrics {
		metrics.Get().SetBuildInfo(version, commit)
		collector = metrics.NewCatalogCollector(database.DB, time.Minute)
		collector.Start(ctx)
	}

	routerCfg := handlers.RouterConfig{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		RateLimitBurst:     cfg.RateLimitBurst,
		AdminAPIKey:        cfg.AdminAPIKey,
		EnableMetrics:      cfg.EnableMetrics,
		MaintenanceMode:    cfg.MaintenanceMode,
		MaintenanceMessage: cfg.MaintenanceMessage,
	}
	if local, ok := assets.(*storage.LocalStorage); ok {
		routerCfg.AssetsDir = local.Dir()
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handlers.NewRouter(h, routerCfg),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()
	log.Info("server ready", zap.String("addr", cfg.Addr()), zap.Bool("jobs", cfg.EnableJobs))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Fatal("failed to start server", zap.Error(err))
	case sig := <-quit:
		log.Info("received signal, starting graceful shutdown", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	// 1. Stop accepting new HTTP connections and drain existing ones
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}

	// 2. Stop the hub, jobs and collectors
	cancel()
	if scheduler != nil {
		scheduler.Wait()
	}
	if collector != nil {
		collector.Stop()
	}

	log.Info("graceful shutdown complete")
}

func databaseConfig(cfg *config.Config) *db.Config {
	dbCfg := db.DefaultConfig()
	dbCfg.Driver = cfg.DatabaseDriver
	dbCfg.DSN = cfg.DatabaseURL
	if !cfg.IsProduction() {
		dbCfg.LogLevel = logger.Warn
	} else {
		dbCfg.LogLevel = logger.Error
	}
	return dbCfg
}

// newCache uses Redis when configured and falls back to the in-memory cache
// when it is unreachable.
func newCache(cfg *config.Config) *cache.RedisCache {
	cacheCfg := &cache.CacheConfig{
		DefaultTTL:     cfg.MetricsCacheTTL,
		MaxMemoryItems: 10000,
		Name:           "trustmymrr",
	}
	if cfg.RedisURL == "" && len(cfg.RedisSentinelAddrs) == 0 {
		logging.L().Info("REDIS_URL not set, using in-memory cache")
		return cache.NewRedisCache(cacheCfg)
	}

	redisCfg := db.DefaultRedisConfig()
	redisCfg.URL = cfg.RedisURL
	redisCfg.SentinelAddrs = cfg.RedisSentinelAddrs
	redisCfg.SentinelMaster = cfg.RedisSentinelMaster

	client, err := db.NewRedisClient(redisCfg)
	if err != nil {
		logging.L().Warn("redis unavailable, using in-memory cache", zap.Error(err))
		return cache.NewRedisCache(cacheCfg)
	}
	return cache.NewRedisCacheWithClient(cache.NewGoRedisAdapter(client), cacheCfg)
}
