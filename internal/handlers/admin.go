package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"trustmymrr/internal/config"
	"trustmymrr/internal/jobs"
)

// RotateSecretsRequest is the request body for key rotation
type RotateSecretsRequest struct {
	OldMasterKey string `json:"old_master_key" binding:"required"`
	NewMasterKey string `json:"new_master_key" binding:"required"`
}

// RotateSecrets re-encrypts every stored Stripe key with a new master key.
// The server must be restarted with the new SECRETS_MASTER_KEY afterwards.
// POST /api/v1/admin/rotate-secrets
func (h *Handler) RotateSecrets(c *gin.Context) {
	var req RotateSecretsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "old_master_key and new_master_key are required")
		return
	}

	result, err := config.RotateMasterKey(h.DB.WithContext(c.Request.Context()), req.OldMasterKey, req.NewMasterKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, StandardResponse{
			Success: false,
			Error:   err.Error(),
			Code:    "ROTATION_FAILED",
			Data:    result,
		})
		return
	}

	c.JSON(http.StatusOK, StandardResponse{
		Success: true,
		Data:    result,
		Message: "Key rotation completed successfully",
	})
}

// ValidateSecrets checks that every stored key opens with the given master key.
// GET /api/v1/admin/validate-secrets?key=<base64>
func (h *Handler) ValidateSecrets(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "key query parameter required")
		return
	}

	okCount, failed, err := config.ValidateRotation(h.DB.WithContext(c.Request.Context()), key)
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_KEY", err.Error())
		return
	}

	ok(c, http.StatusOK, gin.H{
		"total":       okCount + failed,
		"decryptable": okCount,
		"failed":      failed,
		"healthy":     failed == 0,
	})
}

// RunJob triggers a background job immediately.
// POST /api/v1/admin/jobs/:name
func (h *Handler) RunJob(c *gin.Context) {
	if h.Jobs == nil {
		fail(c, http.StatusServiceUnavailable, "JOBS_DISABLED", "Background jobs are disabled")
		return
	}

	err := h.Jobs.RunOnce(c.Request.Context(), c.Param("name"))
	switch {
	case errors.Is(err, jobs.ErrUnknownJob):
		fail(c, http.StatusNotFound, "UNKNOWN_JOB", err.Error())
	case err != nil:
		fail(c, http.StatusInternalServerError, "JOB_FAILED", err.Error())
	default:
		c.JSON(http.StatusOK, StandardResponse{Success: true, Message: "Job completed"})
	}
}

// JobStats reports run counters of the background jobs.
func (h *Handler) JobStats(c *gin.Context) {
	if h.Jobs == nil {
		fail(c, http.StatusServiceUnavailable, "JOBS_DISABLED", "Background jobs are disabled")
		return
	}
	ok(c, http.StatusOK, h.Jobs.Stats())
}
