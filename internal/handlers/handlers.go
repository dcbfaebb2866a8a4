// Package handlers implements the Trust My MRR JSON API.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"trustmymrr/internal/ads"
	"trustmymrr/internal/cache"
	"trustmymrr/internal/founders"
	"trustmymrr/internal/logging"
	"trustmymrr/internal/middleware"
	"trustmymrr/internal/payments"
	"trustmymrr/internal/realtime"
	"trustmymrr/internal/revenue"
	"trustmymrr/internal/startups"
	"trustmymrr/internal/xprofile"
)

// ProfileFetcher looks up X profiles.
type ProfileFetcher interface {
	Configured() bool
	GetProfile(ctx context.Context, username string) (*xprofile.Profile, error)
	GetProfiles(ctx context.Context, usernames []string) map[string]*xprofile.Profile
}

// WebhookParser verifies and decodes Stripe webhook payloads.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*payments.WebhookEvent, error)
}

// JobRunner triggers a background job by name.
type JobRunner interface {
	RunOnce(ctx context.Context, name string) error
	Stats() map[string]interface{}
}

// Handler contains the dependencies of the API handlers. Optional
// dependencies may be nil; the routes that need them answer 503.
type Handler struct {
	DB       *gorm.DB
	Startups *startups.Service
	Founders *founders.Service
	Ads      *ads.Service
	Profiles ProfileFetcher
	Webhooks WebhookParser
	Fetcher  *revenue.Fetcher
	Cache    cache.Cache
	Hub      *realtime.Hub
	Jobs     JobRunner

	// PlatformStripeKey is the platform's own key, served by /stripe-data.
	PlatformStripeKey string
	SiteURL           string
	Version           string
}

// StandardResponse represents a standard API response
type StandardResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, StandardResponse{Success: true, Data: data})
}

func fail(c *gin.Context, status int, code, msg string) {
	c.JSON(status, StandardResponse{Success: false, Error: msg, Code: code})
}

// apiError is how a service error is presented to clients.
type apiError struct {
	status int
	code   string
	msg    string
}

var knownErrors = []struct {
	err error
	apiError
}{
	{startups.ErrStartupNotFound, apiError{http.StatusNotFound, "STARTUP_NOT_FOUND", "Startup not found"}},
	{startups.ErrFounderNotFound, apiError{http.StatusNotFound, "FOUNDER_NOT_FOUND", "Founder not found"}},
	{startups.ErrFounderExists, apiError{http.StatusConflict, "FOUNDER_EXISTS", "Founder already added to this startup"}},
	{startups.ErrAPIKeyExists, apiError{http.StatusConflict, "API_KEY_EXISTS", "This API key is already registered"}},
	{startups.ErrInvalidAPIKey, apiError{http.StatusBadRequest, "INVALID_API_KEY", "Invalid Stripe API key"}},
	{startups.ErrAPIKeyRequired, apiError{http.StatusBadRequest, "API_KEY_REQUIRED", "Stripe API key is required"}},
	{startups.ErrInvalidFounder, apiError{http.StatusBadRequest, "INVALID_USERNAME", "Invalid X username"}},
	{startups.ErrInvalidName, apiError{http.StatusBadRequest, "INVALID_NAME", "Name cannot be empty"}},
	{founders.ErrFounderNotFound, apiError{http.StatusNotFound, "FOUNDER_NOT_FOUND", "Founder not found"}},
	{ads.ErrSpotNotFound, apiError{http.StatusNotFound, "SPOT_NOT_FOUND", "Ad spot not found"}},
	{ads.ErrStartupNotFound, apiError{http.StatusNotFound, "STARTUP_NOT_FOUND", "Startup not found"}},
	{ads.ErrAdNotFound, apiError{http.StatusNotFound, "AD_NOT_FOUND", "Ad not found"}},
	{ads.ErrSpotTaken, apiError{http.StatusConflict, "SPOT_TAKEN", "This ad spot is already taken for the selected period"}},
	{ads.ErrInvalidStatus, apiError{http.StatusBadRequest, "INVALID_STATUS", "Invalid ad status"}},
	{ads.ErrInvalidDuration, apiError{http.StatusBadRequest, "INVALID_DURATION", "Duration must be between 1 and 12 months"}},
	{ads.ErrTaglineTooLong, apiError{http.StatusBadRequest, "TAGLINE_TOO_LONG", "Tagline must be at most 100 characters"}},
	{ads.ErrCheckoutUnavailable, apiError{http.StatusServiceUnavailable, "CHECKOUT_UNAVAILABLE", "Ad checkout is not available"}},
	{payments.ErrNotConfigured, apiError{http.StatusServiceUnavailable, "STRIPE_NOT_CONFIGURED", "Stripe is not configured"}},
	{payments.ErrInvalidWebhook, apiError{http.StatusBadRequest, "INVALID_SIGNATURE", "Invalid webhook signature"}},
	{payments.ErrUnsignedWebhook, apiError{http.StatusServiceUnavailable, "WEBHOOK_NOT_CONFIGURED", "Webhook signing is not configured"}},
	{xprofile.ErrNotConfigured, apiError{http.StatusServiceUnavailable, "X_NOT_CONFIGURED", "X API is not configured"}},
	{xprofile.ErrNotFound, apiError{http.StatusNotFound, "USER_NOT_FOUND", "User not found or API error"}},
	{xprofile.ErrInvalidUsername, apiError{http.StatusBadRequest, "INVALID_USERNAME", "Invalid X username"}},
}

// respondError maps service errors to their HTTP form. Anything unknown is
// logged and reported as a 500 with fallback as the message.
func respondError(c *gin.Context, err error, fallback string) {
	if known, found := lookupError(err); found {
		fail(c, known.status, known.code, known.msg)
		return
	}
	logging.L().Error(fallback,
		zap.String("request_id", c.GetString(middleware.RequestIDKey)),
		zap.String("path", c.FullPath()),
		zap.Error(err))
	fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", fallback)
}

func lookupError(err error) (apiError, bool) {
	for _, known := range knownErrors {
		if errors.Is(err, known.err) {
			return known.apiError, true
		}
	}
	return apiError{}, false
}

func invalidRequest(c *gin.Context) {
	fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
}
