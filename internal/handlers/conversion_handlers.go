package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rmitchellscott/onebit/internal/logging"
)

func (h *Handler) requireHistory(c *gin.Context) bool {
	if h.History == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversion history is disabled"})
		return false
	}
	return true
}

// ListConversionsHandler returns recent conversions
func (h *Handler) ListConversionsHandler(c *gin.Context) {
	if !h.requireHistory(c) {
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}

	records, err := h.History.List(limit)
	if err != nil {
		logging.ErrorWithComponent(logging.ComponentAPI, "Failed to list conversions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list conversions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversions": records})
}

// GetConversionHandler returns a single conversion
func (h *Handler) GetConversionHandler(c *gin.Context) {
	if !h.requireHistory(c) {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid conversion ID"})
		return
	}

	rec, err := h.History.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Conversion not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get conversion"})
		return
	}

	c.JSON(http.StatusOK, rec)
}

// ConversionStatsHandler returns aggregate history statistics
func (h *Handler) ConversionStatsHandler(c *gin.Context) {
	if !h.requireHistory(c) {
		return
	}

	stats, err := h.History.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get statistics"})
		return
	}

	c.JSON(http.StatusOK, stats)
}
