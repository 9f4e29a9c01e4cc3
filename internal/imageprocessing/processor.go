package imageprocessing

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp" // Register WebP decoder

	"github.com/rmitchellscott/onebit/internal/logging"
)

// Output formats understood by Encode
const (
	FormatPNG  = "png"
	FormatBMP  = "bmp"
	FormatGIF  = "gif"
	FormatJPEG = "jpeg"
	FormatTIFF = "tiff"
)

var extensionFormats = map[string]string{
	".png":  FormatPNG,
	".bmp":  FormatBMP,
	".gif":  FormatGIF,
	".jpg":  FormatJPEG,
	".jpeg": FormatJPEG,
	".tif":  FormatTIFF,
	".tiff": FormatTIFF,
}

var contentTypes = map[string]string{
	FormatPNG:  "image/png",
	FormatBMP:  "image/bmp",
	FormatGIF:  "image/gif",
	FormatJPEG: "image/jpeg",
	FormatTIFF: "image/tiff",
}

// FormatFromPath picks the output format from a file extension.
func FormatFromPath(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if format, ok := extensionFormats[ext]; ok {
		return format, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
}

// ContentType returns the MIME type for an output format.
func ContentType(format string) string {
	if ct, ok := contentTypes[format]; ok {
		return ct
	}
	return "application/octet-stream"
}

// ProcessingOptions allows customization of the image processing pipeline
type ProcessingOptions struct {
	MaxWidth    int // 0 means unbounded
	MaxHeight   int // 0 means unbounded
	MaxPixels   int // 0 means unbounded; checked on the decoded header and after resizing
	JPEGQuality int
}

// DefaultProcessingOptions returns sensible defaults for image processing
func DefaultProcessingOptions() ProcessingOptions {
	return ProcessingOptions{
		MaxPixels:   100_000_000,
		JPEGQuality: 90,
	}
}

// Session scopes all image work of a process: it is opened once before the
// first image operation and closed once after the last. Its methods may be
// called from multiple goroutines; each call runs its own dithering pass.
type Session struct {
	opts        ProcessingOptions
	started     time.Time
	closed      atomic.Bool
	conversions atomic.Int64
	failures    atomic.Int64
}

// NewSession opens an image session.
func NewSession(opts ProcessingOptions) *Session {
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = DefaultProcessingOptions().JPEGQuality
	}
	logging.DebugWithComponent(logging.ComponentSession, "Image session opened",
		"max_width", opts.MaxWidth, "max_height", opts.MaxHeight, "max_pixels", opts.MaxPixels)
	return &Session{opts: opts, started: time.Now()}
}

// Options returns the options the session was opened with.
func (s *Session) Options() ProcessingOptions {
	return s.opts
}

// Close ends the session. Closing twice is an error.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrSessionClosed
	}
	logging.DebugWithComponent(logging.ComponentSession, "Image session closed",
		"conversions", s.conversions.Load(),
		"failures", s.failures.Load(),
		"uptime", time.Since(s.started).Round(time.Millisecond))
	return nil
}

func (s *Session) checkOpen() error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	return nil
}

// ReadImage opens and decodes the image at path.
func (s *Session) ReadImage(path string) (image.Image, string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("%w %q: %w", ErrRead, path, err)
	}
	defer f.Close()

	img, format, err := s.decode(f)
	if err != nil && !errors.Is(err, ErrIterator) {
		return nil, "", fmt.Errorf("%w %q: %w", ErrRead, path, err)
	}
	return img, format, err
}

// DecodeImage decodes an image from r.
func (s *Session) DecodeImage(r io.Reader) (image.Image, string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, "", err
	}
	img, format, err := s.decode(r)
	if err != nil && !errors.Is(err, ErrIterator) {
		return nil, "", fmt.Errorf("%w: %w", ErrRead, err)
	}
	return img, format, err
}

// decode reads the header first and refuses images whose declared size
// exceeds MaxPixels, before any pixel memory is allocated. The oversize
// error wraps ErrIterator; other errors are returned bare.
func (s *Session) decode(r io.Reader) (image.Image, string, error) {
	br := bufio.NewReader(r)

	var header bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(br, &header))
	if err != nil {
		return nil, "", err
	}
	if s.opts.MaxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(s.opts.MaxPixels) {
		return nil, "", fmt.Errorf("%w: declared size %dx%d exceeds %d pixels",
			ErrIterator, cfg.Width, cfg.Height, s.opts.MaxPixels)
	}

	return image.Decode(io.MultiReader(&header, br))
}

// prepare applies the size limits and returns the source for the pass.
func (s *Session) prepare(img image.Image) (*ImageSource, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrIterator)
	}

	img = ResizeToFit(img, s.opts.MaxWidth, s.opts.MaxHeight)

	b := img.Bounds()
	if s.opts.MaxPixels > 0 && b.Dx()*b.Dy() > s.opts.MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrIterator, b.Dx(), b.Dy(), s.opts.MaxPixels)
	}
	return NewImageSource(img)
}

// Dither runs the full pass in memory and returns the black and white image.
func (s *Session) Dither(img image.Image) (*image.Paletted, Stats, error) {
	src, err := s.prepare(img)
	if err != nil {
		s.failures.Add(1)
		return nil, Stats{}, err
	}

	start := time.Now()
	sink := NewPalettedSink(src.bounds)
	stats, err := Process(src, sink)
	if err != nil {
		s.failures.Add(1)
		return nil, stats, err
	}

	s.conversions.Add(1)
	logging.DebugWithComponent(logging.ComponentDither, "Dithered image",
		"width", stats.Width, "height", stats.Height, "white", stats.White,
		"duration", time.Since(start))
	return sink.Image(), stats, nil
}

// Encode writes img to w in the given format.
func (s *Session) Encode(w io.Writer, img *image.Paletted, format string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	var err error
	switch format {
	case FormatPNG:
		err = WritePalettedPNG(w, img)
	case FormatBMP:
		err = bmp.Encode(w, img)
	case FormatGIF:
		err = gif.Encode(w, img, &gif.Options{NumColors: len(MonochromePalette)})
	case FormatJPEG:
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: s.opts.JPEGQuality})
	case FormatTIFF:
		err = tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return nil
}

// ConvertFile reads input, dithers it and writes output, choosing the output
// format by extension. PNG output is streamed row by row. A partially
// written output file is removed on failure.
func (s *Session) ConvertFile(input, output string) (Stats, error) {
	format, err := FormatFromPath(output)
	if err != nil {
		s.failures.Add(1)
		return Stats{}, fmt.Errorf("%w: %w", ErrWrite, err)
	}

	img, _, err := s.ReadImage(input)
	if err != nil {
		s.failures.Add(1)
		return Stats{}, err
	}

	src, err := s.prepare(img)
	if err != nil {
		s.failures.Add(1)
		return Stats{}, err
	}

	f, err := os.Create(output)
	if err != nil {
		s.failures.Add(1)
		return Stats{}, fmt.Errorf("%w %q: %w", ErrWrite, output, err)
	}

	start := time.Now()
	stats, err := s.convertTo(f, src, format)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("%w %q: %w", ErrWrite, output, closeErr)
	}
	if err != nil {
		s.failures.Add(1)
		if rmErr := os.Remove(output); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			logging.WarnWithComponent(logging.ComponentSession, "Failed to remove partial output", "path", output, "error", rmErr)
		}
		return stats, err
	}

	s.conversions.Add(1)
	logging.InfoWithComponent(logging.ComponentDither, "Converted image",
		"input", input, "output", output, "format", format,
		"width", stats.Width, "height", stats.Height,
		"duration", time.Since(start))
	return stats, nil
}

func (s *Session) convertTo(w io.Writer, src *ImageSource, format string) (Stats, error) {
	bw := bufio.NewWriter(w)

	var (
		stats Stats
		err   error
	)
	if format == FormatPNG {
		stats, err = s.streamPNG(bw, src)
	} else {
		sink := NewPalettedSink(src.bounds)
		stats, err = Process(src, sink)
		if err == nil {
			err = s.Encode(bw, sink.Image(), format)
		}
	}
	if err != nil {
		return stats, err
	}

	if err := bw.Flush(); err != nil {
		return stats, fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return stats, nil
}

func (s *Session) streamPNG(w io.Writer, src *ImageSource) (Stats, error) {
	width, height := src.Size()
	pw, err := NewPNGWriter(w, width, height)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %w", ErrWrite, err)
	}

	stats, err := Process(src, pw)
	if err != nil {
		return stats, err
	}
	if err := pw.Close(); err != nil {
		return stats, fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return stats, nil
}

// LoadImageFromURL downloads and decodes an image from an http or https URL
// with client. Bodies over maxBytes are rejected; zero means no limit.
func (s *Session) LoadImageFromURL(ctx context.Context, client *http.Client, url string, maxBytes int64) (image.Image, string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, "", err
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, "", fmt.Errorf("%w: unsupported URL scheme", ErrRead)
	}
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrRead, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: failed to download image: %w", ErrRead, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: failed to download image: HTTP %d", ErrRead, resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if maxBytes > 0 {
		if resp.ContentLength > maxBytes {
			return nil, "", fmt.Errorf("%w: image is %d bytes, limit is %d", ErrRead, resp.ContentLength, maxBytes)
		}
		body = io.LimitReader(resp.Body, maxBytes)
	}

	img, format, err := s.decode(body)
	if err != nil {
		if errors.Is(err, ErrIterator) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("%w: failed to decode image: %w", ErrRead, err)
	}

	return img, format, nil
}
