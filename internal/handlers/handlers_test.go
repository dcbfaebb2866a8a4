package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"gorm.io/gorm/logger"

	"trustmymrr/internal/ads"
	"trustmymrr/internal/auth"
	"trustmymrr/internal/cache"
	"trustmymrr/internal/db"
	"trustmymrr/internal/founders"
	"trustmymrr/internal/jobs"
	"trustmymrr/internal/payments"
	"trustmymrr/internal/revenue"
	"trustmymrr/internal/revenue/revenuetest"
	"trustmymrr/internal/secrets"
	"trustmymrr/internal/startups"
	"trustmymrr/internal/xprofile"
)

const adminKey = "admin-key-for-handler-tests-0123"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeProfiles struct {
	configured bool
	profiles   map[string]*xprofile.Profile
}

func (f *fakeProfiles) Configured() bool { return f.configured }

func (f *fakeProfiles) GetProfile(ctx context.Context, username string) (*xprofile.Profile, error) {
	if p, ok := f.profiles[strings.ToLower(xprofile.NormalizeUsername(username))]; ok {
		return p, nil
	}
	return nil, xprofile.ErrNotFound
}

func (f *fakeProfiles) GetProfiles(ctx context.Context, usernames []string) map[string]*xprofile.Profile {
	out := map[string]*xprofile.Profile{}
	for _, u := range usernames {
		if p, ok := f.profiles[strings.ToLower(u)]; ok {
			out[strings.ToLower(u)] = p
		}
	}
	return out
}

type fakeCheckout struct{}

func (fakeCheckout) CreateAdCheckout(ctx context.Context, req payments.AdCheckoutRequest) (*payments.CheckoutSessionResult, error) {
	return &payments.CheckoutSessionResult{SessionID: "cs_" + req.AdID, URL: "https://checkout.stripe.com/pay/cs_" + req.AdID}, nil
}

type fakeJobs struct {
	ran []string
}

func (f *fakeJobs) RunOnce(ctx context.Context, name string) error {
	if name != jobs.JobExpireAds {
		return jobs.ErrUnknownJob
	}
	f.ran = append(f.ran, name)
	return nil
}

func (f *fakeJobs) Stats() map[string]interface{} {
	return map[string]interface{}{"total_runs": int64(len(f.ran))}
}

type testEnv struct {
	router   *gin.Engine
	handler  *Handler
	stripe   *revenuetest.Registry
	profiles *fakeProfiles
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.NewDatabase(&db.Config{Driver: db.DriverSQLite, DSN: "file::memory:", LogLevel: logger.Silent})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	masterKey, err := secrets.GenerateMasterKey()
	require.NoError(t, err)
	sealer, err := secrets.NewManager(masterKey, secrets.WithIterations(1000))
	require.NoError(t, err)

	c := cache.NewRedisCache(&cache.CacheConfig{DefaultTTL: time.Hour, MaxMemoryItems: 100})
	t.Cleanup(func() { _ = c.Close() })

	registry := revenuetest.NewRegistry()
	fetcher := revenue.NewFetcher(registry.Factory())
	profiles := &fakeProfiles{
		configured: true,
		profiles: map[string]*xprofile.Profile{
			"levelsio": {Username: "levelsio", DisplayName: "Pieter", ProfileImageURL: "https://pbs.twimg.com/p_400x400.jpg"},
		},
	}

	startupSvc := startups.NewService(database.DB, fetcher, sealer,
		auth.NewTokenService("handler-test-secret-0123456789abcd", "trustmymrr", 0),
		startups.Options{Cache: c, Profiles: profiles, Concurrency: 2})

	catalog, err := ads.LoadCatalog("")
	require.NoError(t, err)

	h := &Handler{
		DB:       database.DB,
		Startups: startupSvc,
		Founders: founders.NewService(database.DB, startupSvc, nil),
		Ads:      ads.NewService(database.DB, catalog, fakeCheckout{}, "https://trustmymrr.com"),
		Profiles: profiles,
		Webhooks: payments.NewStripeService(payments.Config{AllowUnsignedWebhooks: true}),
		Fetcher:  fetcher,
		Cache:    c,
		SiteURL:  "https://trustmymrr.com",
		Version:  "test",
	}

	return &testEnv{
		router: NewRouter(h, RouterConfig{
			CORSAllowedOrigins: []string{"https://trustmymrr.com"},
			AdminAPIKey:        adminKey,
		}),
		handler:  h,
		stripe:   registry,
		profiles: profiles,
	}
}

func (e *testEnv) addAccount(key, name, website string, mrrCents int64) *revenuetest.Provider {
	p := e.stripe.Add(key, &revenuetest.Provider{Account: revenuetest.NamedAccount(name, website)})
	p.Subscriptions = []*stripe.Subscription{revenuetest.MonthlySubscription("sub_"+key, "usd", mrrCents)}
	p.Charges = []*stripe.Charge{revenuetest.PaidCharge("ch_"+key, "usd", mrrCents, time.Now().Add(-time.Hour))}
	p.Customers = []*stripe.Customer{{ID: "cus_" + key}}
	return p
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if data != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func (e *testEnv) createStartup(t *testing.T, key string, founders ...string) startups.CreateResult {
	t.Helper()
	w := e.do(t, "POST", "/api/v1/startups", gin.H{"api_key": key, "founders": founders})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var result startups.CreateResult
	env := decode(t, w, &result)
	require.True(t, env.Success)
	require.NotEmpty(t, result.ManagementToken)
	return result
}

func TestCreateStartup(t *testing.T) {
	env := newTestEnv(t)
	env.addAccount("rk_live_acme", "Acme", "https://acme.io", 4900)

	result := env.createStartup(t, "rk_live_acme", "@levelsio")
	assert.Equal(t, "acme-io", result.Startup.Slug)
	assert.Equal(t, "Acme", result.Startup.Name)
	require.Len(t, result.Startup.Founders, 1)
	assert.Equal(t, "Pieter", result.Startup.Founders[0].DisplayName)

	tests := []struct {
		name           string
		body           interface{}
		expectedStatus int
		expectedCode   string
	}{
		{"missing key", gin.H{}, http.StatusBadRequest, "API_KEY_REQUIRED"},
		{"invalid key", gin.H{"api_key": "rk_live_unknown"}, http.StatusBadRequest, "INVALID_API_KEY"},
		{"duplicate key", gin.H{"api_key": "rk_live_acme"}, http.StatusConflict, "API_KEY_EXISTS"},
		{"bad founder", gin.H{"api_key": "rk_live_other", "founders": []string{"not a handle!"}}, http.StatusBadRequest, "INVALID_USERNAME"},
		{"malformed json", "{", http.StatusBadRequest, "API_KEY_REQUIRED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/api/v1/startups", tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code)
			resp := decode(t, w, nil)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.expectedCode, resp.Code)
		})
	}
}

func TestSentinelErrorsKeepClientText(t *testing.T) {
	tests := []struct {
		err     error
		code    string
		message string
	}{
		{startups.ErrAPIKeyExists, "API_KEY_EXISTS", "This API key is already registered"},
		{founders.ErrFounderNotFound, "FOUNDER_NOT_FOUND", "Founder not found"},
		{fmt.Errorf("wrapped: %w", startups.ErrFounderNotFound), "FOUNDER_NOT_FOUND", "Founder not found"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			known, found := lookupError(tt.err)
			require.True(t, found)
			assert.Equal(t, tt.code, known.code)
			assert.Equal(t, tt.message, known.msg)
			assert.NotEqual(t, tt.message, tt.err.Error())
		})
	}
}

func TestListStartups(t *testing.T) {
	env := newTestEnv(t)
	env.addAccount("rk_a", "Alpha", "https://alpha.dev", 1000)
	env.addAccount("rk_b", "Beta", "https://beta.dev", 5000)
	env.createStartup(t, "rk_a")
	env.createStartup(t, "rk_b")

	var list []startups.StartupWithMetrics
	w := env.do(t, "GET", "/api/v1/startups?sort=mrr&order=desc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &list)

	require.Len(t, list, 2)
	assert.Equal(t, "Beta", list[0].Name)
	require.NotNil(t, list[0].Metrics)
	assert.Equal(t, 50.0, list[0].Metrics.MonthlyRecurringRevenue)
	assert.Contains(t, w.Body.String(), `"monthly_recurring_revenue":50`)

	w = env.do(t, "GET", "/api/v1/startups?search=ALPH", nil)
	decode(t, w, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "Alpha", list[0].Name)
}

func TestListStartupsMetricsFailure(t *testing.T) {
	env := newTestEnv(t)
	p := env.addAccount("rk_a", "Alpha", "https://alpha.dev", 1000)
	env.createStartup(t, "rk_a")
	p.Err = assert.AnError

	w := env.do(t, "GET", "/api/v1/startups", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"metrics":null`)
	assert.Contains(t, w.Body.String(), `"metrics_error":"Failed to fetch metrics"`)
}

func TestStartupPageAndChart(t *testing.T) {
	env := newTestEnv(t)
	env.addAccount("rk_a", "Alpha", "https://alpha.dev", 1000)
	created := env.createStartup(t, "rk_a")

	var detail startups.StartupDetail
	w := env.do(t, "GET", "/api/v1/startups/slug/alpha-dev", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &detail)
	assert.Equal(t, created.Startup.ID, detail.ID)
	assert.Equal(t, 10.0, detail.Last30DaysRevenue)

	w = env.do(t, "GET", "/api/v1/startups/"+created.Startup.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "rk_a")
	assert.NotContains(t, w.Body.String(), "encrypted")

	var series revenue.Series
	w = env.do(t, "GET", "/api/v1/startups/slug/alpha-dev/revenue?range=7d", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &series)
	assert.Len(t, series.Points, 7)
	assert.Equal(t, "USD", series.Currency)

	w = env.do(t, "GET", "/api/v1/startups/slug/alpha-dev/revenue?range=90d", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_RANGE", decode(t, w, nil).Code)

	w = env.do(t, "GET", "/api/v1/startups/slug/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "STARTUP_NOT_FOUND", decode(t, w, nil).Code)
}

func TestManageStartup(t *testing.T) {
	env := newTestEnv(t)
	env.addAccount("rk_a", "Alpha", "https://alpha.dev", 1000)
	created := env.createStartup(t, "rk_a")
	path := "/api/v1/startups/" + created.Startup.ID
	bearer := "Bearer " + created.ManagementToken

	w := env.do(t, "PUT", path, gin.H{"name": "Alpha Labs"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, "PUT", path, gin.H{"name": "Alpha Labs", "description": "Analytics"}, "Authorization", bearer)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "Alpha Labs")

	w = env.do(t, "PUT", path, gin.H{"api_key": "rk_unknown"}, "Authorization", bearer)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_API_KEY", decode(t, w, nil).Code)

	w = env.do(t, "POST", path+"/founders", gin.H{"x_username": "levelsio"}, "X-Management-Token", created.ManagementToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var founder struct {
		ID string `json:"id"`
	}
	decode(t, w, &founder)

	w = env.do(t, "POST", path+"/founders", gin.H{"x_username": "LevelsIO"}, "Authorization", bearer)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, "DELETE", path+"/founders/"+founder.ID, nil, "Authorization", bearer)
	assert.Equal(t, http.StatusOK, w.Code)

	var rotated struct {
		ManagementToken string `json:"management_token"`
	}
	w = env.do(t, "POST", path+"/token/rotate", nil, "Authorization", bearer)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &rotated)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	w = env.do(t, "DELETE", path, nil, "Authorization", bearer)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "TOKEN_REVOKED", decode(t, w, nil).Code)

	w = env.do(t, "DELETE", path, nil, "Authorization", "Bearer "+rotated.ManagementToken)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "GET", path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFounderRoutes(t *testing.T) {
	env := newTestEnv(t)
	env.addAccount("rk_a", "Alpha", "https://alpha.dev", 1000)
	env.addAccount("rk_b", "Beta", "https://beta.dev", 2000)
	env.createStartup(t, "rk_a", "levelsio")
	env.createStartup(t, "rk_b", "LevelsIO", "marc_louvion")

	var list []founders.Summary
	w := env.do(t, "GET", "/api/v1/founders", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &list)
	require.Len(t, list, 2)
	var usernames []string
	for _, f := range list {
		usernames = append(usernames, strings.ToLower(f.XUsername))
		if strings.EqualFold(f.XUsername, "levelsio") {
			assert.Equal(t, 2, f.StartupsCount)
		}
	}
	assert.ElementsMatch(t, []string{"levelsio", "marc_louvion"}, usernames)

	var detail founders.Detail
	w = env.do(t, "GET", "/api/v1/founders/LEVELSIO", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &detail)
	assert.Len(t, detail.Startups, 2)
	assert.Equal(t, 2, detail.Metrics.StartupsCount)
	assert.Equal(t, 30.0, detail.Metrics.MonthlyRecurringRevenue)
	assert.Equal(t, "usd", detail.Metrics.Currency)

	w = env.do(t, "GET", "/api/v1/founders/nobody", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "FOUNDER_NOT_FOUND", decode(t, w, nil).Code)
}

func TestLeaderboard(t *testing.T) {
	env := newTestEnv(t)
	env.addAccount("rk_a", "Alpha", "https://alpha.dev", 1000)
	env.addAccount("rk_b", "Beta", "https://beta.dev", 5000)
	env.createStartup(t, "rk_a")
	env.createStartup(t, "rk_b")

	var entries []startups.LeaderboardEntry
	w := env.do(t, "GET", "/api/v1/leaderboard?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "Beta", entries[0].Name)
	assert.Equal(t, 1, entries[0].Rank)

	w = env.do(t, "GET", "/api/v1/leaderboard?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

const checkoutCompleted = `{
  "id": "evt_1",
  "object": "event",
  "type": "checkout.session.completed",
  "data": {"object": {
    "id": "%s",
    "object": "checkout.session",
    "subscription": "sub_ad",
    "metadata": {"adId": "%s", "type": "ad_purchase"}
  }}
}`

const subscriptionDeleted = `{
  "id": "evt_2",
  "object": "event",
  "type": "customer.subscription.deleted",
  "data": {"object": {"id": "sub_ad", "object": "subscription"}}
}`

func TestAdLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.addAccount("rk_a", "Alpha", "https://alpha.dev", 1000)
	created := env.createStartup(t, "rk_a")

	w := env.do(t, "GET", "/api/v1/ads/spots", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "top-banner")

	var purchase ads.PurchaseResult
	w = env.do(t, "POST", "/api/v1/ads/checkout", gin.H{"spot_id": "left-1", "startup_id": created.Startup.ID, "tagline": "Fast analytics"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	decode(t, w, &purchase)
	assert.Equal(t, "cs_"+purchase.Ad.ID, purchase.SessionID)
	assert.NotEmpty(t, purchase.CheckoutURL)

	w = env.do(t, "POST", "/api/v1/ads/checkout", gin.H{"spot_id": "nope", "startup_id": created.Startup.ID})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SPOT_NOT_FOUND", decode(t, w, nil).Code)

	w = env.do(t, "POST", "/api/v1/ads/checkout", gin.H{"spot_id": "left-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "GET", "/api/v1/ads/spots/left-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "AD_NOT_FOUND", decode(t, w, nil).Code)

	payload := strings.Replace(strings.Replace(checkoutCompleted, "%s", purchase.SessionID, 1), "%s", purchase.Ad.ID, 1)
	w = env.do(t, "POST", "/api/v1/billing/webhook", payload)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, "GET", "/api/v1/ads/spots/left-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Fast analytics")

	w = env.do(t, "POST", "/api/v1/ads/checkout", gin.H{"spot_id": "left-1", "startup_id": created.Startup.ID})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "SPOT_TAKEN", decode(t, w, nil).Code)

	var placements []ads.Placement
	w = env.do(t, "GET", "/api/v1/ads?position=left", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &placements)
	require.Len(t, placements, 3)
	require.NotNil(t, placements[0].Ad)
	assert.Equal(t, purchase.Ad.ID, placements[0].Ad.ID)

	w = env.do(t, "GET", "/api/v1/ads?position=middle", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "GET", "/api/v1/ads/spots/available", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), `"left-1"`)

	w = env.do(t, "GET", "/api/v1/startups/"+created.Startup.ID+"/ads", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), purchase.Ad.ID)

	w = env.do(t, "POST", "/api/v1/billing/webhook", subscriptionDeleted)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "GET", "/api/v1/admin/ads/"+purchase.Ad.ID, nil, "X-API-Key", adminKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"cancelled"`)

	w = env.do(t, "POST", "/api/v1/billing/webhook", "not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// a completed checkout for an ad that no longer exists is acknowledged
	unknown := strings.Replace(strings.Replace(checkoutCompleted, "%s", "cs_gone", 1), "%s", "gone", 1)
	w = env.do(t, "POST", "/api/v1/billing/webhook", unknown)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestWebhookRequiresSigningSecret(t *testing.T) {
	env := newTestEnv(t)
	env.handler.Webhooks = payments.NewStripeService(payments.Config{SecretKey: "sk_test_x"})

	forged := strings.Replace(strings.Replace(checkoutCompleted, "%s", "cs_forged", 1), "%s", "ad_forged", 1)
	w := env.do(t, "POST", "/api/v1/billing/webhook", forged)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "WEBHOOK_NOT_CONFIGURED", decode(t, w, nil).Code)
}

func TestAdminAdRoutes(t *testing.T) {
	env := newTestEnv(t)
	env.addAccount("rk_a", "Alpha", "https://alpha.dev", 1000)
	created := env.createStartup(t, "rk_a")

	var purchase ads.PurchaseResult
	w := env.do(t, "POST", "/api/v1/ads/checkout", gin.H{"spot_id": "top-banner", "startup_id": created.Startup.ID})
	require.Equal(t, http.StatusCreated, w.Code)
	decode(t, w, &purchase)
	path := "/api/v1/admin/ads/" + purchase.Ad.ID

	w = env.do(t, "PATCH", path+"/status", gin.H{"status": "active"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, "PATCH", path+"/status", gin.H{"status": "bogus"}, "X-API-Key", adminKey)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_STATUS", decode(t, w, nil).Code)

	w = env.do(t, "PATCH", path+"/status", gin.H{"status": "active"}, "X-API-Key", adminKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"active"`)

	w = env.do(t, "POST", path+"/cancel", nil, "X-API-Key", adminKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"cancelled"`)

	w = env.do(t, "POST", "/api/v1/admin/ads/expire", nil, "X-API-Key", adminKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"expired":0`)

	w = env.do(t, "GET", "/api/v1/admin/ads/missing", nil, "X-API-Key", adminKey)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestXProfile(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/v1/x-profile", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "GET", "/api/v1/x-profile?username=@LevelsIO", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"display_name":"Pieter"`)
	assert.Contains(t, w.Header().Get("Cache-Control"), "s-maxage=86400")

	w = env.do(t, "GET", "/api/v1/x-profile?username=ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, "GET", "/api/v1/x-profile?usernames=levelsio,%20ghost", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = env.do(t, "GET", "/api/v1/x-profile?usernames=,,", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.profiles.configured = false
	w = env.do(t, "GET", "/api/v1/x-profile?username=levelsio", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStripeData(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/v1/stripe-data", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "STRIPE_NOT_CONFIGURED", decode(t, w, nil).Code)

	p := env.addAccount("sk_platform", "Trust My MRR", "https://trustmymrr.com", 2500)
	env.handler.PlatformStripeKey = "sk_platform"

	var data revenue.BusinessData
	w = env.do(t, "GET", "/api/v1/stripe-data", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &data)
	assert.Equal(t, "Trust My MRR", data.BusinessName)
	assert.Equal(t, 25.0, data.MonthlyRecurringRevenue)
	assert.Equal(t, int64(1), data.TotalCustomers)
	assert.Equal(t, "public, s-maxage=3600, stale-while-revalidate=7200", w.Header().Get("Cache-Control"))

	calls := p.Calls()
	w = env.do(t, "GET", "/api/v1/stripe-data", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, calls, p.Calls())
}

func TestSitemap(t *testing.T) {
	env := newTestEnv(t)
	env.addAccount("rk_a", "Alpha", "https://alpha.dev", 1000)
	env.createStartup(t, "rk_a", "LevelsIO")

	w := env.do(t, "GET", "/sitemap.xml", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/xml")

	body := w.Body.String()
	assert.True(t, strings.HasPrefix(body, "<?xml"))
	assert.Contains(t, body, "<loc>https://trustmymrr.com</loc>")
	assert.Contains(t, body, "<loc>https://trustmymrr.com/startups</loc>")
	assert.Contains(t, body, "<changefreq>hourly</changefreq>")
	assert.Contains(t, body, "<loc>https://trustmymrr.com/founders</loc>")
	assert.Contains(t, body, "<loc>https://trustmymrr.com/startup/alpha-dev</loc>")
	assert.Contains(t, body, "<loc>https://trustmymrr.com/founder/levelsio</loc>")
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestAdminJobs(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/admin/jobs/expire_ads", nil, "X-API-Key", adminKey)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	runner := &fakeJobs{}
	env.handler.Jobs = runner

	w = env.do(t, "POST", "/api/v1/admin/jobs/expire_ads", nil, "X-API-Key", adminKey)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{jobs.JobExpireAds}, runner.ran)

	w = env.do(t, "POST", "/api/v1/admin/jobs/nope", nil, "X-API-Key", adminKey)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, "GET", "/api/v1/admin/jobs", nil, "X-API-Key", adminKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_runs":1`)
}

func TestAdminSecrets(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/v1/admin/validate-secrets", nil, "X-API-Key", adminKey)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "POST", "/api/v1/admin/rotate-secrets", gin.H{}, "X-API-Key", adminKey)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	other, err := secrets.GenerateMasterKey()
	require.NoError(t, err)
	w = env.do(t, "GET", "/api/v1/admin/validate-secrets?key="+url.QueryEscape(other), nil, "X-API-Key", adminKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy":true`)
}
