// Package ads runs the ad-spot marketplace: purchases through Stripe
// checkout, activation from webhooks, and expiry.
package ads

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"trustmymrr/internal/logging"
	"trustmymrr/internal/metrics"
	"trustmymrr/internal/payments"
	"trustmymrr/pkg/models"
)

var (
	ErrSpotNotFound        = errors.New("ad spot not found")
	ErrStartupNotFound     = errors.New("startup not found")
	ErrAdNotFound          = errors.New("ad not found")
	ErrSpotTaken           = errors.New("this ad spot is already taken for the selected period")
	ErrInvalidStatus       = errors.New("invalid ad status")
	ErrInvalidDuration     = errors.New("duration must be between 1 and 12 months")
	ErrTaglineTooLong      = errors.New("tagline must be at most 100 characters")
	ErrCheckoutUnavailable = errors.New("ad checkout is not available")
)

const (
	MaxDurationMonths = 12
	MaxTaglineLength  = 100
)

// Checkout opens payment sessions for ads.
type Checkout interface {
	CreateAdCheckout(ctx context.Context, req payments.AdCheckoutRequest) (*payments.CheckoutSessionResult, error)
}

// Service manages ads.
type Service struct {
	db       *gorm.DB
	catalog  *Catalog
	checkout Checkout
	siteURL  string
	now      func() time.Time
}

// NewService creates the ad service. checkout may be nil, in which case
// purchases fail with ErrCheckoutUnavailable.
func NewService(db *gorm.DB, catalog *Catalog, checkout Checkout, siteURL string) *Service {
	return &Service{
		db:       db,
		catalog:  catalog,
		checkout: checkout,
		siteURL:  strings.TrimRight(siteURL, "/"),
		now:      time.Now,
	}
}

// Catalog exposes the spot catalog.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

func (s *Service) live(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Where("status = ? AND expires_at > ?", models.AdStatusActive, s.now().UTC())
}

// ActiveAds returns the ads currently displayed, newest first.
func (s *Service) ActiveAds(ctx context.Context) ([]models.Ad, error) {
	var ads []models.Ad
	if err := s.live(ctx).Preload("Startup").Order("created_at DESC").Find(&ads).Error; err != nil {
		return nil, fmt.Errorf("failed to load active ads: %w", err)
	}
	return ads, nil
}

// ActiveAdForSpot returns the live ad in spotID, or ErrAdNotFound.
func (s *Service) ActiveAdForSpot(ctx context.Context, spotID string) (*models.Ad, error) {
	if _, ok := s.catalog.Spot(spotID); !ok {
		return nil, ErrSpotNotFound
	}

	var ad models.Ad
	err := s.live(ctx).Preload("Startup").
		Where("spot_id = ?", spotID).
		Order("expires_at DESC").
		First(&ad).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAdNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ad for spot: %w", err)
	}
	return &ad, nil
}

// Placement pairs a spot with the ad shown in it, if any.
type Placement struct {
	Spot Spot       `json:"spot"`
	Ad   *models.Ad `json:"ad"`
}

// AdsByPosition returns every spot at position with its live ad.
func (s *Service) AdsByPosition(ctx context.Context, position string) ([]Placement, error) {
	if !ValidPosition(position) {
		return nil, fmt.Errorf("invalid position %q", position)
	}

	active, err := s.ActiveAds(ctx)
	if err != nil {
		return nil, err
	}
	bySpot := latestBySpot(active)

	spots := s.catalog.ByPosition(position)
	out := make([]Placement, 0, len(spots))
	for _, spot := range spots {
		out = append(out, Placement{Spot: spot, Ad: bySpot[spot.ID]})
	}
	return out, nil
}

// AvailableSpots returns the spots without a live ad.
func (s *Service) AvailableSpots(ctx context.Context) ([]Spot, error) {
	active, err := s.ActiveAds(ctx)
	if err != nil {
		return nil, err
	}
	bySpot := latestBySpot(active)

	var out []Spot
	for _, spot := range s.catalog.Spots() {
		if bySpot[spot.ID] == nil {
			out = append(out, spot)
		}
	}
	return out, nil
}

func latestBySpot(ads []models.Ad) map[string]*models.Ad {
	out := make(map[string]*models.Ad, len(ads))
	for i := range ads {
		ad := &ads[i]
		if cur, ok := out[ad.SpotID]; !ok || ad.ExpiresAt.After(cur.ExpiresAt) {
			out[ad.SpotID] = ad
		}
	}
	return out
}

// PurchaseRequest is an ad purchase.
type PurchaseRequest struct {
	SpotID         string `json:"spot_id" binding:"required"`
	StartupID      string `json:"startup_id" binding:"required"`
	Tagline        string `json:"tagline"`
	DurationMonths int    `json:"duration_months"`
}

// PurchaseResult carries the pending ad and where to pay for it.
type PurchaseResult struct {
	Ad          *models.Ad `json:"ad"`
	SessionID   string     `json:"session_id"`
	CheckoutURL string     `json:"checkout_url"`
}

// Purchase reserves a pending ad and opens a checkout session for it.
func (s *Service) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	if s.checkout == nil {
		return nil, ErrCheckoutUnavailable
	}
	if _, ok := s.catalog.Spot(req.SpotID); !ok {
		return nil, ErrSpotNotFound
	}
	if req.DurationMonths == 0 {
		req.DurationMonths = 1
	}
	if req.DurationMonths < 1 || req.DurationMonths > MaxDurationMonths {
		return nil, ErrInvalidDuration
	}
	req.Tagline = strings.TrimSpace(req.Tagline)
	if len([]rune(req.Tagline)) > MaxTaglineLength {
		return nil, ErrTaglineTooLong
	}

	startsAt := s.now().UTC()
	ad := &models.Ad{
		SpotID:    req.SpotID,
		StartupID: req.StartupID,
		Tagline:   req.Tagline,
		Status:    models.AdStatusPending,
		StartsAt:  startsAt,
		ExpiresAt: startsAt.AddDate(0, req.DurationMonths, 0),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var startups int64
		if err := tx.Model(&models.Startup{}).Where("id = ?", req.StartupID).Count(&startups).Error; err != nil {
			return err
		}
		if startups == 0 {
			return ErrStartupNotFound
		}

		var overlapping int64
		if err := tx.Model(&models.Ad{}).
			Where("spot_id = ? AND status = ?", req.SpotID, models.AdStatusActive).
			Where("starts_at < ? AND expires_at > ?", ad.ExpiresAt, ad.StartsAt).
			Count(&overlapping).Error; err != nil {
			return err
		}
		if overlapping > 0 {
			return ErrSpotTaken
		}

		return tx.Create(ad).Error
	})
	if err != nil {
		if errors.Is(err, ErrStartupNotFound) || errors.Is(err, ErrSpotTaken) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to reserve ad: %w", err)
	}

	session, err := s.checkout.CreateAdCheckout(ctx, payments.AdCheckoutRequest{
		AdID:       ad.ID,
		SpotID:     ad.SpotID,
		StartupID:  ad.StartupID,
		SuccessURL: s.siteURL + "?ad_purchase=success&session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.siteURL + "?" + url.Values{"ad_purchase": {"cancelled"}}.Encode(),
	})
	metrics.Get().RecordCheckout(ad.SpotID, err)
	if err != nil {
		// The reservation is useless without a session.
		if uerr := s.db.WithContext(ctx).Model(ad).Update("status", models.AdStatusCancelled).Error; uerr != nil {
			logging.L().Error("failed to release ad reservation", zap.String("ad_id", ad.ID), zap.Error(uerr))
		}
		return nil, fmt.Errorf("failed to create checkout: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(ad).Update("stripe_session_id", session.SessionID).Error; err != nil {
		return nil, fmt.Errorf("failed to record checkout session: %w", err)
	}
	ad.StripeSessionID = session.SessionID

	logging.L().Info("ad reserved",
		zap.String("ad_id", ad.ID),
		zap.String("spot_id", ad.SpotID),
		zap.String("startup_id", ad.StartupID),
		zap.Int("months", req.DurationMonths))

	return &PurchaseResult{Ad: ad, SessionID: session.SessionID, CheckoutURL: session.URL}, nil
}

func (s *Service) get(ctx context.Context, id string) (*models.Ad, error) {
	var ad models.Ad
	err := s.db.WithContext(ctx).Preload("Startup").First(&ad, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAdNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ad: %w", err)
	}
	return &ad, nil
}

// Get returns one ad.
func (s *Service) Get(ctx context.Context, id string) (*models.Ad, error) {
	return s.get(ctx, id)
}

// UpdateStatus sets the status of an ad.
func (s *Service) UpdateStatus(ctx context.Context, id, status string) (*models.Ad, error) {
	if !models.ValidAdStatus(status) {
		return nil, ErrInvalidStatus
	}
	res := s.db.WithContext(ctx).Model(&models.Ad{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update ad: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrAdNotFound
	}
	logging.L().Info("ad status updated", zap.String("ad_id", id), zap.String("status", status))
	return s.get(ctx, id)
}

// Cancel marks an ad cancelled.
func (s *Service) Cancel(ctx context.Context, id string) (*models.Ad, error) {
	return s.UpdateStatus(ctx, id, models.AdStatusCancelled)
}

// ExpireAds marks active ads past their expiry as expired.
func (s *Service) ExpireAds(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Ad{}).
		Where("status = ? AND expires_at <= ?", models.AdStatusActive, s.now().UTC()).
		Update("status", models.AdStatusExpired)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to expire ads: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		logging.L().Info("expired ads", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

// StartupAds lists every ad of a startup, newest first.
func (s *Service) StartupAds(ctx context.Context, startupID string) ([]models.Ad, error) {
	var ads []models.Ad
	err := s.db.WithContext(ctx).
		Where("startup_id = ?", startupID).
		Order("created_at DESC").
		Find(&ads).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load startup ads: %w", err)
	}
	return ads, nil
}

// HandleWebhook applies a parsed Stripe event. Events unrelated to ads are
// ignored.
func (s *Service) HandleWebhook(ctx context.Context, ev *payments.WebhookEvent) error {
	switch ev.Type {
	case payments.EventCheckoutCompleted:
		if !ev.IsAdPurchase() {
			return nil
		}
		return s.activate(ctx, ev.Metadata["adId"], ev.SessionID, ev.SubscriptionID)
	case payments.EventSubscriptionDeleted:
		_, err := s.cancelBySubscription(ctx, ev.SubscriptionID)
		return err
	}
	return nil
}

// activate marks a paid ad active. Unknown ads and ads whose window was
// taken by another paid ad in the meantime are acknowledged without error so
// Stripe stops retrying; the latter are cancelled and logged for a refund.
func (s *Service) activate(ctx context.Context, adID, sessionID, subscriptionID string) error {
	log := logging.L().With(zap.String("ad_id", adID), zap.String("session_id", sessionID))
	if adID == "" && sessionID == "" {
		log.Warn("ad checkout completed without an ad reference")
		return nil
	}

	var outcome string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ad models.Ad
		q := tx
		if adID != "" {
			q = q.Where("id = ?", adID)
		} else {
			q = q.Where("stripe_session_id = ?", sessionID)
		}
		if err := q.First(&ad).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				outcome = "missing"
				return nil
			}
			return err
		}

		updates := map[string]interface{}{}
		if sessionID != "" {
			updates["stripe_session_id"] = sessionID
		}
		if subscriptionID != "" {
			updates["stripe_subscription_id"] = subscriptionID
		}

		switch ad.Status {
		case models.AdStatusActive:
			outcome = "already_active"
		case models.AdStatusPending:
			var overlapping int64
			if err := tx.Model(&models.Ad{}).
				Where("spot_id = ? AND status = ? AND id <> ?", ad.SpotID, models.AdStatusActive, ad.ID).
				Where("starts_at < ? AND expires_at > ?", ad.ExpiresAt, ad.StartsAt).
				Count(&overlapping).Error; err != nil {
				return err
			}
			if overlapping > 0 {
				outcome = "conflict"
				updates["status"] = models.AdStatusCancelled
			} else {
				outcome = "activated"
				updates["status"] = models.AdStatusActive
			}
		default:
			outcome = "ignored"
		}

		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&models.Ad{}).Where("id = ?", ad.ID).Updates(updates).Error
	})
	if err != nil {
		return fmt.Errorf("failed to activate ad: %w", err)
	}

	switch outcome {
	case "missing":
		log.Warn("ad checkout completed for an unknown ad")
	case "conflict":
		log.Error("paid ad cancelled, spot already taken for its period; refund required",
			zap.String("subscription_id", subscriptionID), zap.Error(ErrSpotTaken))
	case "activated":
		log.Info("ad activated")
	default:
		log.Info("ad checkout ignored", zap.String("outcome", outcome))
	}
	return nil
}

func (s *Service) cancelBySubscription(ctx context.Context, subscriptionID string) (int64, error) {
	if subscriptionID == "" {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Model(&models.Ad{}).
		Where("stripe_subscription_id = ? AND status IN ?", subscriptionID,
			[]string{models.AdStatusActive, models.AdStatusPending}).
		Update("status", models.AdStatusCancelled)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to cancel ads for subscription: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		logging.L().Info("ads cancelled by subscription", zap.String("subscription_id", subscriptionID), zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}
