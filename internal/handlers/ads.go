package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trustmymrr/internal/ads"
	"trustmymrr/internal/logging"
	"trustmymrr/internal/metrics"
)

const maxWebhookBytes = 64 << 10

// UpdateAdStatusRequest sets an ad's status. Admin only.
type UpdateAdStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// ListAdSpots returns the spot catalog.
func (h *Handler) ListAdSpots(c *gin.Context) {
	ok(c, http.StatusOK, h.Ads.Catalog().Spots())
}

// ListAvailableAdSpots returns the spots without a live ad.
func (h *Handler) ListAvailableAdSpots(c *gin.Context) {
	spots, err := h.Ads.AvailableSpots(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to load ad spots")
		return
	}
	if spots == nil {
		spots = []ads.Spot{}
	}
	ok(c, http.StatusOK, spots)
}

// ListActiveAds returns the ads currently displayed.
// GET /api/v1/ads?position=top filters to one position.
func (h *Handler) ListActiveAds(c *gin.Context) {
	if position := c.Query("position"); position != "" {
		if !ads.ValidPosition(position) {
			fail(c, http.StatusBadRequest, "INVALID_POSITION", "position must be one of top, right, bottom, left")
			return
		}
		placements, err := h.Ads.AdsByPosition(c.Request.Context(), position)
		if err != nil {
			respondError(c, err, "Failed to load ads")
			return
		}
		ok(c, http.StatusOK, placements)
		return
	}

	list, err := h.Ads.ActiveAds(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to load ads")
		return
	}
	ok(c, http.StatusOK, list)
}

// GetSpotAd returns the live ad in one spot.
func (h *Handler) GetSpotAd(c *gin.Context) {
	ad, err := h.Ads.ActiveAdForSpot(c.Request.Context(), c.Param("spotId"))
	if err != nil {
		respondError(c, err, "Failed to load ad")
		return
	}
	ok(c, http.StatusOK, ad)
}

// PurchaseAd reserves a spot and returns the Stripe checkout URL.
func (h *Handler) PurchaseAd(c *gin.Context) {
	var req ads.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Missing required fields: spot_id or startup_id")
		return
	}

	result, err := h.Ads.Purchase(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, "Failed to create checkout session")
		return
	}
	ok(c, http.StatusCreated, result)
}

// GetAd returns one ad. Admin only.
func (h *Handler) GetAd(c *gin.Context) {
	ad, err := h.Ads.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to load ad")
		return
	}
	ok(c, http.StatusOK, ad)
}

// UpdateAdStatus sets an ad's status. Admin only.
func (h *Handler) UpdateAdStatus(c *gin.Context) {
	var req UpdateAdStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_STATUS", "status is required")
		return
	}

	ad, err := h.Ads.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		respondError(c, err, "Failed to update ad")
		return
	}
	ok(c, http.StatusOK, ad)
}

// CancelAd cancels an ad. Admin only.
func (h *Handler) CancelAd(c *gin.Context) {
	ad, err := h.Ads.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to cancel ad")
		return
	}
	ok(c, http.StatusOK, ad)
}

// ExpireAds runs the expiry sweep now. Admin only.
func (h *Handler) ExpireAds(c *gin.Context) {
	n, err := h.Ads.ExpireAds(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to expire ads")
		return
	}
	ok(c, http.StatusOK, gin.H{"expired": n})
}

// StripeWebhook applies checkout and subscription events to ads.
// POST /api/v1/billing/webhook
func (h *Handler) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		invalidRequest(c)
		return
	}

	ev, err := h.Webhooks.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		metrics.Get().RecordWebhook("unknown", err)
		logging.L().Warn("rejected stripe webhook", zap.Error(err))
		if known, found := lookupError(err); found {
			fail(c, known.status, known.code, known.msg)
			return
		}
		fail(c, http.StatusBadRequest, "INVALID_PAYLOAD", "Invalid webhook payload")
		return
	}

	err = h.Ads.HandleWebhook(c.Request.Context(), ev)
	metrics.Get().RecordWebhook(ev.Type, err)
	if err != nil {
		logging.L().Error("stripe webhook failed",
			zap.String("event_id", ev.ID),
			zap.String("type", ev.Type),
			zap.Error(err))
		fail(c, http.StatusInternalServerError, "WEBHOOK_FAILED", "Failed to process webhook")
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
