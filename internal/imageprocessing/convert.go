package imageprocessing

import (
	"fmt"
	"image"
	"image/color"
	"math"
)

// MonochromePalette is the output palette: index 0 black, index 1 white.
var MonochromePalette = color.Palette{
	color.Gray{Y: 0},
	color.Gray{Y: 255},
}

// Lightness returns the HSL lightness of c in [0, 1]. Alpha is ignored.
func Lightness(c color.Color) float64 {
	n := color.NRGBA64Model.Convert(c).(color.NRGBA64)
	hi := max(n.R, n.G, n.B)
	lo := min(n.R, n.G, n.B)
	return (float64(hi) + float64(lo)) / (2 * 0xffff)
}

// RGBToHSL converts r, g, b in [0, 1] to hue in [0, 1), saturation and
// lightness in [0, 1].
func RGBToHSL(r, g, b float64) (h, s, l float64) {
	hi := max(r, g, b)
	lo := min(r, g, b)
	l = (hi + lo) / 2

	delta := hi - lo
	if delta == 0 {
		return 0, 0, l
	}

	if l <= 0.5 {
		s = delta / (hi + lo)
	} else {
		s = delta / (2 - hi - lo)
	}

	switch hi {
	case r:
		h = (g - b) / delta
		if g < b {
			h += 6
		}
	case g:
		h = (b-r)/delta + 2
	default:
		h = (r-g)/delta + 4
	}
	return h / 6, s, l
}

// HSLToRGB is the inverse of RGBToHSL.
func HSLToRGB(h, s, l float64) (r, g, b float64) {
	if s == 0 {
		return l, l, l
	}

	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q

	return hueToRGB(p, q, h+1.0/3), hueToRGB(p, q, h), hueToRGB(p, q, h-1.0/3)
}

func hueToRGB(p, q, t float64) float64 {
	t -= math.Floor(t)
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 0.5:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	default:
		return p
	}
}

// monochrome maps a bit to the color written for it: hue and saturation 0,
// lightness equal to the bit.
func monochrome(bit uint8) color.Gray {
	v, _, _ := HSLToRGB(0, 0, float64(bit))
	return color.Gray{Y: uint8(math.Round(v * 255))}
}

// ImageSource reads lightness from an image.Image. Coordinates are relative
// to the image bounds.
type ImageSource struct {
	img    image.Image
	bounds image.Rectangle
}

// NewImageSource wraps img as a LightnessSource.
func NewImageSource(img image.Image) (*ImageSource, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrIterator)
	}
	return &ImageSource{img: img, bounds: img.Bounds()}, nil
}

func (s *ImageSource) Size() (int, int) {
	return s.bounds.Dx(), s.bounds.Dy()
}

func (s *ImageSource) Lightness(x, y int) float64 {
	return Lightness(s.img.At(s.bounds.Min.X+x, s.bounds.Min.Y+y))
}

// PalettedSink collects bits into an in-memory *image.Paletted using
// MonochromePalette.
type PalettedSink struct {
	img     *image.Paletted
	flushed int
}

// NewPalettedSink creates a sink covering bounds.
func NewPalettedSink(bounds image.Rectangle) *PalettedSink {
	return &PalettedSink{img: image.NewPaletted(bounds, MonochromePalette)}
}

func (s *PalettedSink) SetBit(x, y int, bit uint8) {
	b := s.img.Rect
	s.img.SetColorIndex(b.Min.X+x, b.Min.Y+y, uint8(MonochromePalette.Index(monochrome(bit))))
}

// FlushRow checks rows arrive in order; the image is already up to date.
func (s *PalettedSink) FlushRow(y int) error {
	if y != s.flushed {
		return fmt.Errorf("row %d flushed out of order, expected %d", y, s.flushed)
	}
	s.flushed++
	return nil
}

// RowsFlushed reports how many rows have been completed.
func (s *PalettedSink) RowsFlushed() int {
	return s.flushed
}

// Image returns the collected image.
func (s *PalettedSink) Image() *image.Paletted {
	return s.img
}
