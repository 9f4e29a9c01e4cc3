package imageprocessing

import (
	"errors"
	"fmt"
	"image"
)

// Threshold is the adjusted lightness a pixel must exceed to become white.
// A pixel sitting exactly on the threshold goes black.
const Threshold = 0.5

// Tap is one entry of an error diffusion kernel, relative to the pixel that
// was just quantized. DY is either 0 (same row) or 1 (next row).
type Tap struct {
	DX, DY int
	Weight float64
}

// Kernel is the Floyd-Steinberg diffusion kernel. The weights sum to 1.
var Kernel = [4]Tap{
	{DX: 1, DY: 0, Weight: 7.0 / 16},
	{DX: -1, DY: 1, Weight: 3.0 / 16},
	{DX: 0, DY: 1, Weight: 5.0 / 16},
	{DX: 1, DY: 1, Weight: 1.0 / 16},
}

// LightnessSource supplies per-pixel lightness in [0, 1]. Lightness is called
// in row-major order, each pixel exactly once.
type LightnessSource interface {
	Size() (width, height int)
	Lightness(x, y int) float64
}

// BinarySink receives one bit per pixel (0 black, 1 white). FlushRow is
// called once after every row, top to bottom.
type BinarySink interface {
	SetBit(x, y int, bit uint8)
	FlushRow(y int) error
}

// Stats summarizes a finished pass.
type Stats struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	White  int `json:"white"`
	Black  int `json:"black"`
}

// Diffuser holds the error state for one pass: the row being scanned and the
// row below it. It is not safe for concurrent use.
type Diffuser struct {
	width, height int
	cur, next     []float64
}

// NewDiffuser allocates row buffers for an image of the given size.
func NewDiffuser(width, height int) *Diffuser {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Diffuser{
		width:  width,
		height: height,
		cur:    make([]float64, width),
		next:   make([]float64, width),
	}
}

// beginRow makes the error accumulated for row y current and clears the
// other buffer so it can collect error for row y+1.
func (d *Diffuser) beginRow(y int) {
	if y > 0 {
		d.cur, d.next = d.next, d.cur
	}
	clear(d.next)
}

// quantize applies the pending error to l and thresholds it.
func (d *Diffuser) quantize(x int, l float64) (bit uint8, residual float64) {
	adjusted := l + d.cur[x]
	if adjusted > Threshold {
		bit = 1
	}
	return bit, adjusted - float64(bit)
}

// spread distributes e from (x, y) over the kernel. Targets outside the
// image are dropped.
func (d *Diffuser) spread(x, y int, e float64) {
	for _, tap := range Kernel {
		tx := x + tap.DX
		if tx < 0 || tx >= d.width {
			continue
		}
		if tap.DY == 0 {
			d.cur[tx] += e * tap.Weight
			continue
		}
		if y+tap.DY >= d.height {
			continue
		}
		d.next[tx] += e * tap.Weight
	}
}

// Run scans src into dst. It stops at the first FlushRow failure.
func (d *Diffuser) Run(src LightnessSource, dst BinarySink) (Stats, error) {
	stats := Stats{Width: d.width, Height: d.height}

	for y := 0; y < d.height; y++ {
		d.beginRow(y)
		for x := 0; x < d.width; x++ {
			bit, e := d.quantize(x, src.Lightness(x, y))
			dst.SetBit(x, y, bit)
			if bit == 1 {
				stats.White++
			} else {
				stats.Black++
			}
			d.spread(x, y, e)
		}
		if err := dst.FlushRow(y); err != nil {
			return stats, fmt.Errorf("%w: row %d: %w", ErrConvert, y, err)
		}
	}

	return stats, nil
}

// Process dithers src into dst with Floyd-Steinberg error diffusion. Memory
// use is proportional to the image width only.
func Process(src LightnessSource, dst BinarySink) (Stats, error) {
	if src == nil || dst == nil {
		return Stats{}, errors.New("nil source or sink")
	}
	width, height := src.Size()
	if width <= 0 || height <= 0 {
		return Stats{Width: max(width, 0), Height: max(height, 0)}, nil
	}
	return NewDiffuser(width, height).Run(src, dst)
}

// DitherFloydSteinberg dithers img to a black and white image of the same
// bounds.
func DitherFloydSteinberg(img image.Image) (*image.Paletted, error) {
	src, err := NewImageSource(img)
	if err != nil {
		return nil, err
	}

	dst := NewPalettedSink(img.Bounds())
	if _, err := Process(src, dst); err != nil {
		return nil, err
	}
	return dst.Image(), nil
}
