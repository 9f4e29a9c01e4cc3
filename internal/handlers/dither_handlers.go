package handlers

import (
	"bytes"
	"errors"
	"image"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rmitchellscott/onebit/internal/database"
	"github.com/rmitchellscott/onebit/internal/imageprocessing"
	"github.com/rmitchellscott/onebit/internal/logging"
	"github.com/rmitchellscott/onebit/internal/urlpolicy"
)

// ImageStore persists encoded output images
type ImageStore interface {
	StoreImage(imageData []byte, conversionID uuid.UUID, ext string) (string, error)
}

// ConversionStore records conversion history
type ConversionStore interface {
	Record(rec *database.ConversionRecord) error
	List(limit int) ([]database.ConversionRecord, error)
	GetByID(id uuid.UUID) (*database.ConversionRecord, error)
	Stats() (*database.DatabaseStats, error)
}

type ditherQuery struct {
	Format string `form:"format" binding:"omitempty,oneof=png bmp gif jpeg tiff"`
	Store  bool   `form:"store"`
}

// DitherHandler converts an uploaded image (multipart field "image") or a
// remote one (form field "url") to black and white
func (h *Handler) DitherHandler(c *gin.Context) {
	var q ditherQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters", "details": err.Error()})
		return
	}
	if q.Format == "" {
		q.Format = imageprocessing.FormatPNG
	}

	start := time.Now()
	img, source, status, err := h.loadInput(c)
	if err != nil {
		h.record(&database.ConversionRecord{Source: source, Format: q.Format, Error: err.Error()})
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	out, stats, err := h.Session.Dither(img)
	if err == nil && stats.Width*stats.Height == 0 {
		err = errors.New("image has no pixels")
	}
	if err != nil {
		h.record(&database.ConversionRecord{Source: source, Format: q.Format, Error: err.Error()})
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var buf bytes.Buffer
	if err := h.Session.Encode(&buf, out, q.Format); err != nil {
		logging.ErrorWithComponent(logging.ComponentAPI, "Failed to encode dithered image", "format", q.Format, "error", err)
		h.record(&database.ConversionRecord{Source: source, Format: q.Format, Error: err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to encode image"})
		return
	}

	rec := &database.ConversionRecord{
		ID:          uuid.New(),
		Source:      source,
		Format:      q.Format,
		Width:       stats.Width,
		Height:      stats.Height,
		WhitePixels: stats.White,
		BlackPixels: stats.Black,
		DurationMs:  time.Since(start).Milliseconds(),
		Options:     database.EncodeOptions(h.Session.Options()),
	}

	var url string
	if q.Store {
		url, err = h.Storage.StoreImage(buf.Bytes(), rec.ID, q.Format)
		if err != nil {
			logging.ErrorWithComponent(logging.ComponentStorage, "Failed to store dithered image", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store image"})
			return
		}
		rec.Output = url
	}
	h.record(rec)

	logging.InfoWithComponent(logging.ComponentAPI, "Dithered image",
		"id", rec.ID, "source", source, "format", q.Format,
		"width", stats.Width, "height", stats.Height, "duration_ms", rec.DurationMs)

	if q.Store {
		c.JSON(http.StatusCreated, gin.H{
			"id":     rec.ID,
			"url":    url,
			"format": q.Format,
			"stats":  stats,
		})
		return
	}

	c.Header("X-Onebit-Conversion-Id", rec.ID.String())
	c.Header("X-Onebit-Width", strconv.Itoa(stats.Width))
	c.Header("X-Onebit-Height", strconv.Itoa(stats.Height))
	c.Header("X-Onebit-White", strconv.Itoa(stats.White))
	c.Header("X-Onebit-Black", strconv.Itoa(stats.Black))
	c.Data(http.StatusOK, imageprocessing.ContentType(q.Format), buf.Bytes())
}

// loadInput returns the decoded image, a description of where it came from,
// and the HTTP status to use if it failed
func (h *Handler) loadInput(c *gin.Context) (image.Image, string, int, error) {
	if fh, err := c.FormFile("image"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return nil, fh.Filename, http.StatusBadRequest, err
		}
		defer f.Close()

		img, _, err := h.Session.DecodeImage(f)
		if err != nil {
			return nil, fh.Filename, statusFor(err), err
		}
		return img, fh.Filename, http.StatusOK, nil
	} else if isTooLarge(err) {
		return nil, "upload", http.StatusRequestEntityTooLarge, err
	}

	if url := c.PostForm("url"); url != "" {
		if err := h.URLPolicy.Check(c.Request.Context(), url); err != nil {
			if errors.Is(err, urlpolicy.ErrBlocked) {
				logging.WarnWithComponent(logging.ComponentAPI, "Blocked image URL", "url", url, "ip", c.ClientIP())
				return nil, url, http.StatusForbidden, err
			}
			return nil, url, http.StatusBadRequest, err
		}
		client := h.URLPolicy.Client(h.FetchTimeout)
		img, _, err := h.Session.LoadImageFromURL(c.Request.Context(), client, url, h.MaxFetchBytes)
		if err != nil {
			if errors.Is(err, urlpolicy.ErrBlocked) {
				logging.WarnWithComponent(logging.ComponentAPI, "Blocked image URL after redirect", "url", url, "ip", c.ClientIP())
				return nil, url, http.StatusForbidden, err
			}
			return nil, url, http.StatusBadRequest, err
		}
		return img, url, http.StatusOK, nil
	}

	return nil, "", http.StatusBadRequest, errors.New("an image upload or url is required")
}

func (h *Handler) record(rec *database.ConversionRecord) {
	if h.History == nil {
		return
	}
	if err := h.History.Record(rec); err != nil {
		logging.WarnWithComponent(logging.ComponentDatabase, "Failed to record conversion", "error", err)
	}
}

func statusFor(err error) int {
	if isTooLarge(err) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
