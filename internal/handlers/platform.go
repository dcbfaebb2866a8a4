package handlers

import (
	"context"
	"encoding/xml"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trustmymrr/internal/cache"
	"trustmymrr/internal/logging"
	"trustmymrr/internal/revenue"
	"trustmymrr/internal/xprofile"
)

const (
	platformDataTTL = time.Hour
	maxUsernames    = 100

	stripeDataCacheControl = "public, s-maxage=3600, stale-while-revalidate=7200"
	xProfileCacheControl   = "public, s-maxage=86400, stale-while-revalidate=172800"
)

var startTime = time.Now()

// GetXProfile returns one profile (?username=) or several (?usernames=a,b).
func (h *Handler) GetXProfile(c *gin.Context) {
	if h.Profiles == nil || !h.Profiles.Configured() {
		fail(c, http.StatusServiceUnavailable, "X_NOT_CONFIGURED", "X API is not configured")
		return
	}

	if username := c.Query("username"); username != "" {
		profile, err := h.Profiles.GetProfile(c.Request.Context(), username)
		if err != nil {
			c.Header("Cache-Control", "no-store")
			respondError(c, err, "User not found or API error")
			return
		}
		c.Header("Cache-Control", xProfileCacheControl)
		ok(c, http.StatusOK, profile)
		return
	}

	if raw := c.Query("usernames"); raw != "" {
		var usernames []string
		for _, u := range strings.Split(raw, ",") {
			if u = xprofile.NormalizeUsername(u); u != "" {
				usernames = append(usernames, u)
			}
		}
		if len(usernames) == 0 {
			fail(c, http.StatusBadRequest, "MISSING_USERNAME", "No usernames provided")
			return
		}
		if len(usernames) > maxUsernames {
			fail(c, http.StatusBadRequest, "TOO_MANY_USERNAMES", "At most 100 usernames per request")
			return
		}

		profiles := h.Profiles.GetProfiles(c.Request.Context(), usernames)
		c.Header("Cache-Control", xProfileCacheControl)
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    profiles,
			"count":   len(profiles),
		})
		return
	}

	fail(c, http.StatusBadRequest, "MISSING_USERNAME", "Missing username or usernames parameter")
}

// GetStripeData returns the platform's own business data, cached for an hour.
func (h *Handler) GetStripeData(c *gin.Context) {
	if h.PlatformStripeKey == "" || h.Fetcher == nil {
		fail(c, http.StatusServiceUnavailable, "STRIPE_NOT_CONFIGURED", "Stripe is not configured")
		return
	}

	fetch := func(ctx context.Context) (*revenue.BusinessData, error) {
		return revenue.FetchBusinessData(ctx, h.Fetcher.Provider(h.PlatformStripeKey))
	}

	var (
		data *revenue.BusinessData
		err  error
	)
	if h.Cache != nil {
		data, err = cache.GetOrSet(c.Request.Context(), h.Cache, cache.PlatformBusinessDataKey(), platformDataTTL, fetch)
	} else {
		data, err = fetch(c.Request.Context())
	}
	if err != nil {
		logging.L().Error("platform stripe data unavailable", zap.Error(err))
		c.Header("Cache-Control", "no-store")
		fail(c, http.StatusBadGateway, "STRIPE_DATA_UNAVAILABLE", "Failed to fetch Stripe data")
		return
	}

	c.Header("Cache-Control", stripeDataCacheControl)
	ok(c, http.StatusOK, data)
}

type sitemapURL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod,omitempty"`
	ChangeFreq string `xml:"changefreq,omitempty"`
	Priority   string `xml:"priority,omitempty"`
}

type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

// Sitemap lists the public pages: home, directories, startups and founders.
func (h *Handler) Sitemap(c *gin.Context) {
	ctx := c.Request.Context()
	base := strings.TrimRight(h.SiteURL, "/")
	today := time.Now().UTC().Format("2006-01-02")

	set := urlSet{
		XMLNS: "http://www.sitemaps.org/schemas/sitemap/0.9",
		URLs: []sitemapURL{
			{Loc: base, LastMod: today, ChangeFreq: "daily", Priority: "1.0"},
			{Loc: base + "/startups", LastMod: today, ChangeFreq: "hourly", Priority: "0.9"},
			{Loc: base + "/founders", LastMod: today, ChangeFreq: "daily", Priority: "0.9"},
		},
	}

	entries, err := h.Startups.SitemapEntries(ctx)
	if err != nil {
		respondError(c, err, "Failed to build sitemap")
		return
	}
	for _, e := range entries {
		set.URLs = append(set.URLs, sitemapURL{
			Loc:        base + "/startup/" + e.Slug,
			LastMod:    e.UpdatedAt.UTC().Format("2006-01-02"),
			ChangeFreq: "weekly",
			Priority:   "0.8",
		})
	}

	usernames, err := h.Founders.Usernames(ctx)
	if err != nil {
		respondError(c, err, "Failed to build sitemap")
		return
	}
	for _, u := range usernames {
		set.URLs = append(set.URLs, sitemapURL{
			Loc:        base + "/founder/" + u,
			ChangeFreq: "weekly",
			Priority:   "0.7",
		})
	}

	out, err := xml.MarshalIndent(set, "", "  ")
	if err != nil {
		respondError(c, err, "Failed to build sitemap")
		return
	}
	c.Header("Cache-Control", "public, max-age=3600")
	c.Data(http.StatusOK, "application/xml; charset=utf-8", append([]byte(xml.Header), out...))
}

// Health reports liveness and database reachability.
func (h *Handler) Health(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK
	checks := map[string]string{"database": "ok"}

	if h.DB != nil {
		sqlDB, err := h.DB.DB()
		if err == nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			err = sqlDB.PingContext(ctx)
			cancel()
		}
		if err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
			checks["database"] = "unreachable"
		}
	}

	body := gin.H{
		"status":    status,
		"service":   "trustmymrr",
		"version":   h.Version,
		"uptime":    time.Since(startTime).Round(time.Second).String(),
		"checks":    checks,
		"timestamp": time.Now().UTC(),
	}
	if h.Hub != nil {
		body["websocket_clients"] = h.Hub.ClientCount()
	}
	c.JSON(code, body)
}
