// Package payments creates ad checkout sessions and parses Stripe webhooks
// for the platform's own Stripe account.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"trustmymrr/internal/logging"
)

// Common errors
var (
	ErrNotConfigured   = errors.New("stripe is not configured")
	ErrInvalidWebhook  = errors.New("invalid webhook signature")
	ErrUnsignedWebhook = errors.New("webhook signing secret is not configured")
	ErrInvalidPriceID  = errors.New("ad price is not configured")
)

// Stripe event types handled by the service.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// PurposeAdPurchase marks checkout sessions created for ad spots.
const PurposeAdPurchase = "ad_purchase"

// Config configures the platform Stripe account.
type Config struct {
	SecretKey         string
	WebhookSecret     string
	AdPriceID         string
	APIURL            string
	MaxNetworkRetries int64
	Timeout           time.Duration
	// Accept events without a signature when no WebhookSecret is set.
	// Development only.
	AllowUnsignedWebhooks bool
}

// StripeService talks to Stripe with the platform's key.
type StripeService struct {
	api           *client.API
	secretKey     string
	webhookSecret string
	adPriceID     string
	allowUnsigned bool
}

// CheckoutSessionResult represents the result of creating a checkout session
type CheckoutSessionResult struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// AdCheckoutRequest describes the ad a checkout session pays for.
type AdCheckoutRequest struct {
	AdID       string
	SpotID     string
	StartupID  string
	SuccessURL string
	CancelURL  string
}

// WebhookEvent is the part of a Stripe event the service acts on.
type WebhookEvent struct {
	ID             string            `json:"id"`
	Type           string            `json:"type"`
	SessionID      string            `json:"session_id,omitempty"`
	CustomerID     string            `json:"customer_id,omitempty"`
	SubscriptionID string            `json:"subscription_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// IsAdPurchase reports whether the event belongs to an ad checkout.
func (e *WebhookEvent) IsAdPurchase() bool {
	return e.Metadata["type"] == PurposeAdPurchase
}

// NewStripeService creates a service with its own stripe-go client.
func NewStripeService(cfg Config) *StripeService {
	httpClient := cleanhttp.DefaultPooledClient()
	if cfg.Timeout > 0 {
		httpClient.Timeout = cfg.Timeout
	}

	backendConfig := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		LeveledLogger:     logging.S(),
		MaxNetworkRetries: stripe.Int64(cfg.MaxNetworkRetries),
	}
	if cfg.APIURL != "" {
		backendConfig.URL = stripe.String(cfg.APIURL)
	}

	return &StripeService{
		api: client.New(cfg.SecretKey, &stripe.Backends{
			API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig),
			Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendConfig),
			Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendConfig),
		}),
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		adPriceID:     cfg.AdPriceID,
		allowUnsigned: cfg.AllowUnsignedWebhooks,
	}
}

// IsConfigured returns true if a platform key is set.
func (s *StripeService) IsConfigured() bool {
	return s.secretKey != ""
}

// CreateAdCheckout opens a subscription-mode checkout session for an ad.
func (s *StripeService) CreateAdCheckout(ctx context.Context, req AdCheckoutRequest) (*CheckoutSessionResult, error) {
	if !s.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if s.adPriceID == "" {
		return nil, ErrInvalidPriceID
	}

	metadata := map[string]string{
		"adId":      req.AdID,
		"spotId":    req.SpotID,
		"startupId": req.StartupID,
		"type":      PurposeAdPurchase,
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(s.adPriceID),
				Quantity: stripe.Int64(1),
			},
		},
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
		ClientReferenceID:  stripe.String(req.AdID),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	params.Metadata = metadata
	params.Context = ctx

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	return &CheckoutSessionResult{SessionID: sess.ID, URL: sess.URL}, nil
}

// ParseWebhook verifies the signature and extracts the fields of the events
// the service handles. Without a secret, events are rejected unless unsigned
// webhooks were allowed for development.
func (s *StripeService) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	var event stripe.Event

	switch {
	case s.webhookSecret != "":
		var err error
		event, err = webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
			webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
		if err != nil {
			logging.L().Warn("webhook signature verification failed", zap.Error(err))
			return nil, ErrInvalidWebhook
		}
	case !s.allowUnsigned:
		logging.L().Warn("unsigned webhook rejected, STRIPE_WEBHOOK_SECRET is not set")
		return nil, ErrUnsignedWebhook
	default:
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("failed to parse webhook: %w", err)
		}
	}

	out := &WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data == nil {
		return out, nil
	}

	switch out.Type {
	case EventCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("failed to parse checkout session: %w", err)
		}
		out.SessionID = session.ID
		out.Metadata = session.Metadata
		if session.Customer != nil {
			out.CustomerID = session.Customer.ID
		}
		if session.Subscription != nil {
			out.SubscriptionID = session.Subscription.ID
		}

	case EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("failed to parse subscription: %w", err)
		}
		out.SubscriptionID = sub.ID
		out.Metadata = sub.Metadata
		if sub.Customer != nil {
			out.CustomerID = sub.Customer.ID
		}
	}

	return out, nil
}
