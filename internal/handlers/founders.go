package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListFounders returns every founder once, with their startup count.
func (h *Handler) ListFounders(c *gin.Context) {
	list, err := h.Founders.List(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to list founders")
		return
	}
	ok(c, http.StatusOK, list)
}

// GetFounder returns a founder page. Usernames match case-insensitively.
func (h *Handler) GetFounder(c *gin.Context) {
	detail, err := h.Founders.Detail(c.Request.Context(), c.Param("username"))
	if err != nil {
		respondError(c, err, "Failed to load founder")
		return
	}
	ok(c, http.StatusOK, detail)
}

// SyncStartupFounders refreshes the X profiles of the startup's founders.
func (h *Handler) SyncStartupFounders(c *gin.Context) {
	result, err := h.Founders.SyncStartup(c.Request.Context(), c.Param("id"))
	if result == nil {
		respondError(c, err, "Failed to sync founders")
		return
	}
	c.JSON(http.StatusOK, syncResponse(result, err))
}

// SyncFounder refreshes one founder row. Admin only.
func (h *Handler) SyncFounder(c *gin.Context) {
	result, err := h.Founders.SyncFounder(c.Request.Context(), c.Param("founderId"))
	if result == nil {
		respondError(c, err, "Failed to sync founder")
		return
	}
	c.JSON(http.StatusOK, syncResponse(result, err))
}

// SyncAllFounders refreshes every founder. Admin only.
func (h *Handler) SyncAllFounders(c *gin.Context) {
	result, err := h.Founders.SyncAll(c.Request.Context())
	if result == nil {
		respondError(c, err, "Failed to sync founders")
		return
	}
	c.JSON(http.StatusOK, syncResponse(result, err))
}

// syncResponse reports a partial sync as a success carrying the failures.
func syncResponse(result interface{}, err error) StandardResponse {
	resp := StandardResponse{Success: true, Data: result}
	if err != nil {
		resp.Message = err.Error()
	}
	return resp
}
