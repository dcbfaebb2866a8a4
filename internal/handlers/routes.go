package handlers

import (
	"github.com/gin-gonic/gin"

	"trustmymrr/internal/metrics"
	"trustmymrr/internal/middleware"
)

// RouterConfig carries the settings the router needs beyond the handler.
type RouterConfig struct {
	CORSAllowedOrigins []string
	RateLimitPerMinute int
	RateLimitBurst     int
	AdminAPIKey        string
	EnableMetrics      bool
	MaintenanceMode    bool
	MaintenanceMessage string

	// AssetsDir is served under /assets when set (local logo storage).
	AssetsDir string
}

// NewRouter builds the gin engine with the middleware chain and every route.
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger("/health", "/metrics"))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	router.Use(middleware.Maintenance(cfg.MaintenanceMode, cfg.MaintenanceMessage))

	if cfg.EnableMetrics {
		router.Use(metrics.PrometheusMiddleware())
		router.GET("/metrics", metrics.PrometheusHandler())
	}

	router.GET("/health", h.Health)
	router.GET("/sitemap.xml", h.Sitemap)
	if cfg.AssetsDir != "" {
		router.Static("/assets", cfg.AssetsDir)
	}
	if h.Hub != nil {
		router.GET("/ws/leaderboard", h.Hub.HandleWebSocket)
	}

	v1 := router.Group("/api/v1")

	// Stripe retries on failure and signs its requests; no rate limit.
	v1.POST("/billing/webhook", h.StripeWebhook)

	public := v1.Group("/")
	if cfg.RateLimitPerMinute > 0 {
		public.Use(middleware.RateLimit(middleware.NewPerMinuteLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst)))
	}
	{
		public.GET("/startups", h.ListStartups)
		public.POST("/startups", h.CreateStartup)
		public.GET("/startups/slug/:slug", h.GetStartupBySlug)
		public.GET("/startups/slug/:slug/revenue", h.GetRevenueChart)
		public.GET("/startups/:id", h.GetStartup)
		public.GET("/startups/:id/ads", h.GetStartupAds)

		manage := public.Group("/startups/:id")
		manage.Use(middleware.RequireManagementToken(h.Startups, "id"))
		{
			manage.PUT("", h.UpdateStartup)
			manage.DELETE("", h.DeleteStartup)
			manage.POST("/token/rotate", h.RotateManagementToken)
			manage.POST("/founders", h.AddFounder)
			manage.POST("/founders/sync", h.SyncStartupFounders)
			manage.DELETE("/founders/:founderId", h.RemoveFounder)
		}

		public.GET("/leaderboard", h.GetLeaderboard)

		public.GET("/founders", h.ListFounders)
		public.GET("/founders/:username", h.GetFounder)

		public.GET("/x-profile", h.GetXProfile)
		public.GET("/stripe-data", h.GetStripeData)

		public.GET("/ads", h.ListActiveAds)
		public.GET("/ads/spots", h.ListAdSpots)
		public.GET("/ads/spots/available", h.ListAvailableAdSpots)
		public.GET("/ads/spots/:spotId", h.GetSpotAd)
		public.POST("/ads/checkout", h.PurchaseAd)
	}

	admin := v1.Group("/admin")
	admin.Use(middleware.AdminAPIKey(cfg.AdminAPIKey))
	{
		admin.GET("/ads/:id", h.GetAd)
		admin.PATCH("/ads/:id/status", h.UpdateAdStatus)
		admin.POST("/ads/:id/cancel", h.CancelAd)
		admin.POST("/ads/expire", h.ExpireAds)

		admin.POST("/founders/sync", h.SyncAllFounders)
		admin.POST("/founders/:founderId/sync", h.SyncFounder)

		admin.POST("/rotate-secrets", h.RotateSecrets)
		admin.GET("/validate-secrets", h.ValidateSecrets)

		admin.GET("/jobs", h.JobStats)
		admin.POST("/jobs/:name", h.RunJob)
	}

	return router
}
