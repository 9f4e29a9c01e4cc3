package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rmitchellscott/onebit/internal/imageprocessing"
	"github.com/rmitchellscott/onebit/internal/urlpolicy"
	"github.com/rmitchellscott/onebit/internal/version"
)

// Handler carries the services shared by the API endpoints
type Handler struct {
	Session       *imageprocessing.Session
	Storage       ImageStore
	History       ConversionStore // nil when history is disabled
	FetchTimeout  time.Duration
	MaxFetchBytes int64 // 0 means unlimited
	URLPolicy     urlpolicy.Policy
}

// ConfigHandler returns the processing limits clients should respect
func (h *Handler) ConfigHandler(c *gin.Context) {
	opts := h.Session.Options()
	c.JSON(http.StatusOK, gin.H{
		"max_width":       opts.MaxWidth,
		"max_height":      opts.MaxHeight,
		"max_pixels":      opts.MaxPixels,
		"formats":         []string{imageprocessing.FormatPNG, imageprocessing.FormatBMP, imageprocessing.FormatGIF, imageprocessing.FormatJPEG, imageprocessing.FormatTIFF},
		"history_enabled": h.History != nil,
		"threshold":       imageprocessing.Threshold,
	})
}

// VersionHandler returns build information
func VersionHandler(c *gin.Context) {
	c.JSON(http.StatusOK, version.Get())
}

// HealthHandler reports liveness
func HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
