package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"trustmymrr/internal/middleware"
	"trustmymrr/internal/revenue"
	"trustmymrr/internal/startups"
	"trustmymrr/pkg/models"
)

// CreateStartupRequest registers a startup by its restricted Stripe key.
type CreateStartupRequest struct {
	APIKey   string   `json:"api_key" binding:"required"`
	Website  string   `json:"website"`
	Founders []string `json:"founders"`
}

// UpdateStartupRequest edits a startup; omitted fields are unchanged.
type UpdateStartupRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Website     *string `json:"website"`
	APIKey      *string `json:"api_key"`
}

// AddFounderRequest attaches an X account to a startup.
type AddFounderRequest struct {
	XUsername string `json:"x_username" binding:"required"`
}

// ListStartups returns startups with their metrics.
// GET /api/v1/startups?search=&sort=name|mrr|revenue|customers|createdAt&order=asc|desc
func (h *Handler) ListStartups(c *gin.Context) {
	list, err := h.Startups.List(c.Request.Context(), startups.ListParams{
		Search: c.Query("search"),
		Sort:   c.Query("sort"),
		Order:  c.Query("order"),
	})
	if err != nil {
		respondError(c, err, "Failed to list startups")
		return
	}
	ok(c, http.StatusOK, list)
}

// CreateStartup validates the key against Stripe and registers the startup.
// The management token in the response is the only copy handed out.
func (h *Handler) CreateStartup(c *gin.Context) {
	var req CreateStartupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "API_KEY_REQUIRED", "Stripe API key is required")
		return
	}

	result, err := h.Startups.Create(c.Request.Context(), startups.CreateInput{
		APIKey:   req.APIKey,
		Website:  req.Website,
		Founders: req.Founders,
	})
	if err != nil {
		respondError(c, err, "Failed to create startup")
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusCreated, StandardResponse{
		Success: true,
		Data:    result,
		Message: "Startup created. Keep the management token, it is required to edit this startup.",
	})
}

// GetStartup returns one startup by ID with its metrics.
func (h *Handler) GetStartup(c *gin.Context) {
	st, err := h.Startups.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to load startup")
		return
	}
	ok(c, http.StatusOK, h.Startups.WithMetrics(c.Request.Context(), []models.Startup{*st})[0])
}

// GetStartupBySlug returns a startup page: metrics plus trailing 30 day revenue.
func (h *Handler) GetStartupBySlug(c *gin.Context) {
	detail, err := h.Startups.DetailBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		respondError(c, err, "Failed to load startup")
		return
	}
	ok(c, http.StatusOK, detail)
}

// GetRevenueChart returns the daily revenue series.
// GET /api/v1/startups/slug/:slug/revenue?range=7d|14d|30d|all
func (h *Handler) GetRevenueChart(c *gin.Context) {
	r, err := revenue.ParseRange(c.Query("range"))
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_RANGE", "range must be one of 7d, 14d, 30d, all")
		return
	}

	series, err := h.Startups.RevenueChart(c.Request.Context(), c.Param("slug"), r)
	if err != nil {
		if _, known := lookupError(err); known {
			respondError(c, err, "")
			return
		}
		fail(c, http.StatusBadGateway, "REVENUE_UNAVAILABLE", "Failed to fetch revenue data")
		return
	}
	ok(c, http.StatusOK, series)
}

// UpdateStartup edits the startup authorized by the management token.
func (h *Handler) UpdateStartup(c *gin.Context) {
	st, _ := middleware.GetStartup(c)

	var req UpdateStartupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c)
		return
	}

	updated, err := h.Startups.Update(c.Request.Context(), st.ID, startups.UpdateInput{
		Name:        req.Name,
		Description: req.Description,
		Website:     req.Website,
		APIKey:      req.APIKey,
	})
	if err != nil {
		respondError(c, err, "Failed to update startup")
		return
	}
	ok(c, http.StatusOK, updated)
}

// DeleteStartup removes the startup with its founders and ads.
func (h *Handler) DeleteStartup(c *gin.Context) {
	st, _ := middleware.GetStartup(c)

	if err := h.Startups.Delete(c.Request.Context(), st.ID); err != nil {
		respondError(c, err, "Failed to delete startup")
		return
	}
	c.JSON(http.StatusOK, StandardResponse{Success: true, Message: "Startup deleted"})
}

// RotateManagementToken revokes the current token and returns a new one.
func (h *Handler) RotateManagementToken(c *gin.Context) {
	st, _ := middleware.GetStartup(c)

	token, err := h.Startups.RotateManagementToken(c.Request.Context(), st.ID)
	if err != nil {
		respondError(c, err, "Failed to rotate management token")
		return
	}
	c.Header("Cache-Control", "no-store")
	ok(c, http.StatusOK, gin.H{"management_token": token})
}

// AddFounder attaches a founder to the startup.
func (h *Handler) AddFounder(c *gin.Context) {
	st, _ := middleware.GetStartup(c)

	var req AddFounderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_USERNAME", "x_username is required")
		return
	}

	founder, err := h.Startups.AddFounder(c.Request.Context(), st.ID, req.XUsername)
	if err != nil {
		respondError(c, err, "Failed to add founder")
		return
	}
	ok(c, http.StatusCreated, founder)
}

// RemoveFounder detaches a founder from the startup.
func (h *Handler) RemoveFounder(c *gin.Context) {
	st, _ := middleware.GetStartup(c)

	if err := h.Startups.RemoveFounder(c.Request.Context(), st.ID, c.Param("founderId")); err != nil {
		respondError(c, err, "Failed to remove founder")
		return
	}
	c.JSON(http.StatusOK, StandardResponse{Success: true, Message: "Founder removed"})
}

// GetStartupAds lists every ad a startup bought.
func (h *Handler) GetStartupAds(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.Startups.Get(c.Request.Context(), id); err != nil {
		respondError(c, err, "Failed to load startup")
		return
	}

	list, err := h.Ads.StartupAds(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Failed to load ads")
		return
	}
	ok(c, http.StatusOK, list)
}

// GetLeaderboard ranks startups by MRR.
// GET /api/v1/leaderboard?limit=20
func (h *Handler) GetLeaderboard(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 0 {
		fail(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a non-negative integer")
		return
	}

	entries, err := h.Startups.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err, "Failed to build leaderboard")
		return
	}
	ok(c, http.StatusOK, entries)
}
