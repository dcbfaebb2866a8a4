package ads

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"trustmymrr/internal/db"
	"trustmymrr/internal/payments"
	"trustmymrr/pkg/models"
)

type fakeCheckout struct {
	requests []payments.AdCheckoutRequest
	err      error
}

func (f *fakeCheckout) CreateAdCheckout(ctx context.Context, req payments.AdCheckoutRequest) (*payments.CheckoutSessionResult, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &payments.CheckoutSessionResult{SessionID: "cs_" + req.AdID, URL: "https://checkout.stripe.com/pay/cs_" + req.AdID}, nil
}

type fixture struct {
	db       *gorm.DB
	svc      *Service
	checkout *fakeCheckout
	now      time.Time
	startup  *models.Startup
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.NewDatabase(&db.Config{Driver: db.DriverSQLite, DSN: "file::memory:", LogLevel: logger.Silent})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	catalog, err := LoadCatalog("")
	require.NoError(t, err)

	f := &fixture{
		db:       database.DB,
		checkout: &fakeCheckout{},
		now:      time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(database.DB, catalog, f.checkout, "https://trustmymrr.com/")
	f.svc.now = func() time.Time { return f.now }

	f.startup = &models.Startup{Slug: "acme-io", Name: "Acme", APIKeyHash: "hash-acme", EncryptedAPIKey: "ct", APIKeySalt: "salt"}
	require.NoError(t, database.DB.Create(f.startup).Error)
	return f
}

func (f *fixture) insertAd(t *testing.T, spotID, status string, startsAt, expiresAt time.Time) *models.Ad {
	t.Helper()
	ad := &models.Ad{SpotID: spotID, StartupID: f.startup.ID, Status: status, StartsAt: startsAt, ExpiresAt: expiresAt}
	require.NoError(t, f.db.Create(ad).Error)
	return ad
}

func TestCatalog(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)

	spot, ok := c.Spot("top-banner")
	require.True(t, ok)
	assert.Equal(t, PositionTop, spot.Position)
	assert.Len(t, c.ByPosition(PositionLeft), 3)
	assert.Empty(t, c.ByPosition("middle"))

	_, err = ParseCatalog([]byte(`{"adSpots":[{"id":"a","position":"center"}]}`))
	assert.Error(t, err)
	_, err = ParseCatalog([]byte(`{"adSpots":[{"id":"a","position":"top"},{"id":"a","position":"left"}]}`))
	assert.Error(t, err)
	_, err = LoadCatalog("/does/not/exist.json")
	assert.Error(t, err)
}

func TestPurchase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Purchase(ctx, PurchaseRequest{SpotID: "left-1", StartupID: f.startup.ID, Tagline: "  Ship faster  ", DurationMonths: 3})
	require.NoError(t, err)

	assert.Equal(t, models.AdStatusPending, res.Ad.Status)
	assert.Equal(t, "Ship faster", res.Ad.Tagline)
	assert.Equal(t, f.now, res.Ad.StartsAt)
	assert.Equal(t, time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC), res.Ad.ExpiresAt)
	assert.Equal(t, "cs_"+res.Ad.ID, res.SessionID)
	assert.Contains(t, res.CheckoutURL, "checkout.stripe.com")

	require.Len(t, f.checkout.requests, 1)
	req := f.checkout.requests[0]
	assert.Equal(t, res.Ad.ID, req.AdID)
	assert.Equal(t, "left-1", req.SpotID)
	assert.Equal(t, f.startup.ID, req.StartupID)
	assert.Equal(t, "https://trustmymrr.com?ad_purchase=success&session_id={CHECKOUT_SESSION_ID}", req.SuccessURL)
	assert.Equal(t, "https://trustmymrr.com?ad_purchase=cancelled", req.CancelURL)

	var stored models.Ad
	require.NoError(t, f.db.First(&stored, "id = ?", res.Ad.ID).Error)
	assert.Equal(t, res.SessionID, stored.StripeSessionID)
}

func TestPurchaseValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  PurchaseRequest
		want error
	}{
		{"unknown spot", PurchaseRequest{SpotID: "nowhere", StartupID: f.startup.ID}, ErrSpotNotFound},
		{"unknown startup", PurchaseRequest{SpotID: "left-1", StartupID: "missing"}, ErrStartupNotFound},
		{"too long", PurchaseRequest{SpotID: "left-1", StartupID: f.startup.ID, DurationMonths: 13}, ErrInvalidDuration},
		{"negative", PurchaseRequest{SpotID: "left-1", StartupID: f.startup.ID, DurationMonths: -1}, ErrInvalidDuration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Purchase(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, f.checkout.requests)
}

func TestPurchaseSpotTaken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.insertAd(t, "right-1", models.AdStatusActive, f.now.AddDate(0, 0, -10), f.now.AddDate(0, 0, 20))
	_, err := f.svc.Purchase(ctx, PurchaseRequest{SpotID: "right-1", StartupID: f.startup.ID})
	assert.ErrorIs(t, err, ErrSpotTaken)

	// pending and finished ads do not block
	f.insertAd(t, "right-2", models.AdStatusPending, f.now, f.now.AddDate(0, 1, 0))
	f.insertAd(t, "right-2", models.AdStatusActive, f.now.AddDate(0, -2, 0), f.now.AddDate(0, -1, 0))
	_, err = f.svc.Purchase(ctx, PurchaseRequest{SpotID: "right-2", StartupID: f.startup.ID})
	assert.NoError(t, err)
}

func TestPurchaseCheckoutFailureReleasesSpot(t *testing.T) {
	f := newFixture(t)
	f.checkout.err = errors.New("stripe down")

	_, err := f.svc.Purchase(context.Background(), PurchaseRequest{SpotID: "left-2", StartupID: f.startup.ID})
	require.Error(t, err)

	var ads []models.Ad
	require.NoError(t, f.db.Find(&ads).Error)
	require.Len(t, ads, 1)
	assert.Equal(t, models.AdStatusCancelled, ads[0].Status)
}

func TestPurchaseWithoutCheckout(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.db, f.svc.Catalog(), nil, "https://trustmymrr.com")
	_, err := svc.Purchase(context.Background(), PurchaseRequest{SpotID: "left-1", StartupID: f.startup.ID})
	assert.ErrorIs(t, err, ErrCheckoutUnavailable)
}

func TestWebhookLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Purchase(ctx, PurchaseRequest{SpotID: "top-banner", StartupID: f.startup.ID})
	require.NoError(t, err)

	active, err := f.svc.ActiveAds(ctx)
	require.NoError(t, err)
	assert.Empty(t, active, "pending ads are not displayed")

	require.NoError(t, f.svc.HandleWebhook(ctx, &payments.WebhookEvent{
		Type:           payments.EventCheckoutCompleted,
		SessionID:      res.SessionID,
		SubscriptionID: "sub_1",
		Metadata:       map[string]string{"adId": res.Ad.ID, "type": payments.PurposeAdPurchase},
	}))

	ad, err := f.svc.ActiveAdForSpot(ctx, "top-banner")
	require.NoError(t, err)
	assert.Equal(t, res.Ad.ID, ad.ID)
	assert.Equal(t, "sub_1", ad.StripeSubscriptionID)
	require.NotNil(t, ad.Startup)
	assert.Equal(t, "Acme", ad.Startup.Name)

	// unrelated checkout sessions are ignored
	require.NoError(t, f.svc.HandleWebhook(ctx, &payments.WebhookEvent{Type: payments.EventCheckoutCompleted, Metadata: map[string]string{"type": "other"}}))

	require.NoError(t, f.svc.HandleWebhook(ctx, &payments.WebhookEvent{Type: payments.EventSubscriptionDeleted, SubscriptionID: "sub_1"}))
	_, err = f.svc.ActiveAdForSpot(ctx, "top-banner")
	assert.ErrorIs(t, err, ErrAdNotFound)

	// unknown ads are acknowledged so Stripe stops retrying
	err = f.svc.HandleWebhook(ctx, &payments.WebhookEvent{
		Type:     payments.EventCheckoutCompleted,
		Metadata: map[string]string{"adId": "missing", "type": payments.PurposeAdPurchase},
	})
	assert.NoError(t, err)
}

func completed(ad PurchaseResult, subscriptionID string) *payments.WebhookEvent {
	return &payments.WebhookEvent{
		Type:           payments.EventCheckoutCompleted,
		SessionID:      ad.SessionID,
		SubscriptionID: subscriptionID,
		Metadata:       map[string]string{"adId": ad.Ad.ID, "type": payments.PurposeAdPurchase},
	}
}

func TestConcurrentPurchasesActivateOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Purchase(ctx, PurchaseRequest{SpotID: "top-banner", StartupID: f.startup.ID})
	require.NoError(t, err)
	second, err := f.svc.Purchase(ctx, PurchaseRequest{SpotID: "top-banner", StartupID: f.startup.ID})
	require.NoError(t, err, "pending ads do not hold the spot")

	require.NoError(t, f.svc.HandleWebhook(ctx, completed(*first, "sub_1")))
	require.NoError(t, f.svc.HandleWebhook(ctx, completed(*second, "sub_2")))

	var active int64
	require.NoError(t, f.db.Model(&models.Ad{}).
		Where("spot_id = ? AND status = ?", "top-banner", models.AdStatusActive).
		Count(&active).Error)
	assert.Equal(t, int64(1), active)

	var loser models.Ad
	require.NoError(t, f.db.First(&loser, "id = ?", second.Ad.ID).Error)
	assert.Equal(t, models.AdStatusCancelled, loser.Status)
	assert.Equal(t, "sub_2", loser.StripeSubscriptionID)

	ad, err := f.svc.ActiveAdForSpot(ctx, "top-banner")
	require.NoError(t, err)
	assert.Equal(t, first.Ad.ID, ad.ID)

	// a redelivered event for the winner is a no-op
	require.NoError(t, f.svc.HandleWebhook(ctx, completed(*first, "sub_1")))
	ad, err = f.svc.ActiveAdForSpot(ctx, "top-banner")
	require.NoError(t, err)
	assert.Equal(t, first.Ad.ID, ad.ID)
}

func TestActivateDifferentSpotsIndependently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	left, err := f.svc.Purchase(ctx, PurchaseRequest{SpotID: "left-1", StartupID: f.startup.ID})
	require.NoError(t, err)
	right, err := f.svc.Purchase(ctx, PurchaseRequest{SpotID: "right-1", StartupID: f.startup.ID})
	require.NoError(t, err)

	require.NoError(t, f.svc.HandleWebhook(ctx, completed(*left, "sub_l")))
	require.NoError(t, f.svc.HandleWebhook(ctx, completed(*right, "sub_r")))

	active, err := f.svc.ActiveAds(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestExpireAds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expired := f.insertAd(t, "left-1", models.AdStatusActive, f.now.AddDate(0, -1, 0), f.now.Add(-time.Minute))
	live := f.insertAd(t, "left-2", models.AdStatusActive, f.now, f.now.AddDate(0, 1, 0))
	f.insertAd(t, "left-3", models.AdStatusPending, f.now.AddDate(0, -1, 0), f.now.Add(-time.Minute))

	n, err := f.svc.ExpireAds(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := f.svc.Get(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AdStatusExpired, got.Status)

	got, err = f.svc.Get(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AdStatusActive, got.Status)
}

func TestPlacementQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.insertAd(t, "left-2", models.AdStatusActive, f.now, f.now.AddDate(0, 1, 0))
	f.insertAd(t, "right-1", models.AdStatusActive, f.now.AddDate(0, -2, 0), f.now.AddDate(0, -1, 0))

	placements, err := f.svc.AdsByPosition(ctx, PositionLeft)
	require.NoError(t, err)
	require.Len(t, placements, 3)
	assert.Nil(t, placements[0].Ad)
	require.NotNil(t, placements[1].Ad)
	assert.Equal(t, "left-2", placements[1].Ad.SpotID)

	_, err = f.svc.AdsByPosition(ctx, "center")
	assert.Error(t, err)

	available, err := f.svc.AvailableSpots(ctx)
	require.NoError(t, err)
	assert.Len(t, available, len(f.svc.Catalog().Spots())-1)

	_, err = f.svc.ActiveAdForSpot(ctx, "nowhere")
	assert.ErrorIs(t, err, ErrSpotNotFound)
}

func TestUpdateStatusAndCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ad := f.insertAd(t, "bottom-1", models.AdStatusPending, f.now, f.now.AddDate(0, 1, 0))

	got, err := f.svc.UpdateStatus(ctx, ad.ID, models.AdStatusActive)
	require.NoError(t, err)
	assert.Equal(t, models.AdStatusActive, got.Status)

	_, err = f.svc.UpdateStatus(ctx, ad.ID, "paused")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = f.svc.UpdateStatus(ctx, "missing", models.AdStatusActive)
	assert.ErrorIs(t, err, ErrAdNotFound)

	got, err = f.svc.Cancel(ctx, ad.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AdStatusCancelled, got.Status)

	ads, err := f.svc.StartupAds(ctx, f.startup.ID)
	require.NoError(t, err)
	assert.Len(t, ads, 1)
}
