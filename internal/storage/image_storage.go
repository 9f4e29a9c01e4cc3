package storage

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rmitchellscott/onebit/internal/logging"
)

// ImageStorage keeps dithered images on disk and maps them to public URLs
type ImageStorage struct {
	basePath string
	baseURL  string
}

// NewImageStorage creates a new image storage instance
func NewImageStorage(basePath, baseURL string) *ImageStorage {
	return &ImageStorage{
		basePath: basePath,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
	}
}

// StoreImage stores image data under a name derived from the conversion ID
// and content hash, and returns its URL
func (s *ImageStorage) StoreImage(imageData []byte, conversionID uuid.UUID, ext string) (string, error) {
	if err := os.MkdirAll(s.basePath, 0755); err != nil {
		return "", fmt.Errorf("failed to create image directory: %w", err)
	}

	hash := sha256.Sum256(imageData)
	filename := fmt.Sprintf("%s_%x.%s", conversionID, hash[:8], strings.TrimPrefix(ext, "."))

	fullPath := filepath.Join(s.basePath, filename)
	if err := os.WriteFile(fullPath, imageData, 0644); err != nil {
		return "", fmt.Errorf("failed to write image file: %w", err)
	}

	return fmt.Sprintf("%s/%s", s.baseURL, filename), nil
}

// CleanupOldImages removes images older than maxAge and returns how many
// were removed
func (s *ImageStorage) CleanupOldImages(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read image directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			fullPath := filepath.Join(s.basePath, entry.Name())
			if err := os.Remove(fullPath); err != nil {
				logging.WarnWithComponent(logging.ComponentStorage, "Failed to remove old image", "path", fullPath, "error", err)
				continue
			}
			removed++
		}
	}

	return removed, nil
}

// GetBasePath returns the base path where images are stored
func (s *ImageStorage) GetBasePath() string {
	return s.basePath
}

// GetBaseURL returns the URL prefix images are served under
func (s *ImageStorage) GetBaseURL() string {
	return s.baseURL
}
