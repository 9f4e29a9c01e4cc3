package imageprocessing

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// GetScaledDimensions calculates the largest size that fits within maxWidth x
// maxHeight while preserving aspect ratio. A zero limit leaves that axis
// unconstrained, and images are never scaled up.
func GetScaledDimensions(srcWidth, srcHeight, maxWidth, maxHeight int) (int, int) {
	if srcWidth <= 0 || srcHeight <= 0 {
		return srcWidth, srcHeight
	}

	scale := 1.0
	if maxWidth > 0 && srcWidth > maxWidth {
		scale = float64(maxWidth) / float64(srcWidth)
	}
	if maxHeight > 0 && srcHeight > maxHeight {
		if s := float64(maxHeight) / float64(srcHeight); s < scale {
			scale = s
		}
	}
	if scale == 1.0 {
		return srcWidth, srcHeight
	}

	newWidth := max(int(float64(srcWidth)*scale), 1)
	newHeight := max(int(float64(srcHeight)*scale), 1)
	return newWidth, newHeight
}

// ResizeToFit downscales img to fit within maxWidth x maxHeight. The input is
// returned unchanged when it already fits.
func ResizeToFit(img image.Image, maxWidth, maxHeight int) image.Image {
	if img == nil {
		return nil
	}

	bounds := img.Bounds()
	newWidth, newHeight := GetScaledDimensions(bounds.Dx(), bounds.Dy(), maxWidth, maxHeight)
	if newWidth == bounds.Dx() && newHeight == bounds.Dy() {
		return img
	}

	// BiLinear keeps a good quality/speed balance for photos
	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	xdraw.BiLinear.Scale(resized, resized.Bounds(), img, bounds, xdraw.Src, nil)
	return resized
}
