package imageprocessing

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

func gradient(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := uint8(255 * x / max(width-1, 1))
			img.Set(x, y, color.RGBA{R: v, G: uint8(255 * y / max(height-1, 1)), B: 128, A: 255})
		}
	}
	return img
}

func writePNG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func decodeFile(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, _, err := image.Decode(f)
	require.NoError(t, err)
	return img
}

func TestFormatFromPath(t *testing.T) {
	tests := map[string]string{
		"out.png":   FormatPNG,
		"OUT.PNG":   FormatPNG,
		"a/b/c.bmp": FormatBMP,
		"x.gif":     FormatGIF,
		"x.jpg":     FormatJPEG,
		"x.jpeg":    FormatJPEG,
		"x.tif":     FormatTIFF,
		"x.tiff":    FormatTIFF,
	}
	for path, want := range tests {
		got, err := FormatFromPath(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, got, path)
	}

	_, err := FormatFromPath("x.webp")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	_, err = FormatFromPath("noext")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	assert.Equal(t, "image/png", ContentType(FormatPNG))
	assert.Equal(t, "application/octet-stream", ContentType("raw"))
}

func TestConvertFileStreamsPNG(t *testing.T) {
	dir := t.TempDir()
	src := gradient(37, 19)
	in := writePNG(t, dir, "in.png", src)
	out := filepath.Join(dir, "out.png")

	s := NewSession(DefaultProcessingOptions())
	defer s.Close()

	stats, err := s.ConvertFile(in, out)
	require.NoError(t, err)
	assert.Equal(t, Stats{Width: 37, Height: 19, White: stats.White, Black: 37*19 - stats.White}, stats)

	assertSameBits(t, mustDither(t, src), decodeFile(t, out))
}

func TestConvertFileOtherFormats(t *testing.T) {
	dir := t.TempDir()
	src := gradient(20, 10)
	in := writePNG(t, dir, "in.png", src)
	want := mustDither(t, src)

	s := NewSession(DefaultProcessingOptions())
	defer s.Close()

	for _, name := range []string{"out.bmp", "out.gif", "out.tiff"} {
		t.Run(name, func(t *testing.T) {
			out := filepath.Join(dir, name)
			_, err := s.ConvertFile(in, out)
			require.NoError(t, err)
			assertSameBits(t, want, decodeFile(t, out))
		})
	}

	t.Run("out.jpg", func(t *testing.T) {
		out := filepath.Join(dir, "out.jpg")
		_, err := s.ConvertFile(in, out)
		require.NoError(t, err)
		got := decodeFile(t, out)
		assert.Equal(t, src.Bounds().Size(), got.Bounds().Size())
	})
}

func TestConvertFileFailureStages(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, "in.png", gradient(4, 4))

	s := NewSession(DefaultProcessingOptions())
	defer s.Close()

	t.Run("missing input", func(t *testing.T) {
		_, err := s.ConvertFile(filepath.Join(dir, "absent.png"), filepath.Join(dir, "o.png"))
		assert.ErrorIs(t, err, ErrRead)
	})

	t.Run("undecodable input", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.png")
		require.NoError(t, os.WriteFile(bad, []byte("not an image"), 0644))
		_, err := s.ConvertFile(bad, filepath.Join(dir, "o.png"))
		assert.ErrorIs(t, err, ErrRead)
	})

	t.Run("unknown output extension", func(t *testing.T) {
		_, err := s.ConvertFile(in, filepath.Join(dir, "o.xyz"))
		assert.ErrorIs(t, err, ErrWrite)
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("unwritable output", func(t *testing.T) {
		out := filepath.Join(dir, "missing-dir", "o.png")
		_, err := s.ConvertFile(in, out)
		assert.ErrorIs(t, err, ErrWrite)
		assert.NoFileExists(t, out)
	})

	t.Run("too many pixels", func(t *testing.T) {
		small := NewSession(ProcessingOptions{MaxPixels: 10})
		defer small.Close()
		out := filepath.Join(dir, "big.png")
		_, err := small.ConvertFile(in, out)
		assert.ErrorIs(t, err, ErrIterator)
		assert.NoFileExists(t, out)
	})
}

func TestSessionResizesBeforeDithering(t *testing.T) {
	s := NewSession(ProcessingOptions{MaxWidth: 10, MaxHeight: 10})
	defer s.Close()

	out, stats, err := s.Dither(gradient(40, 20))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 10, 5), out.Bounds())
	assert.Equal(t, 10, stats.Width)
	assert.Equal(t, 5, stats.Height)
}

func TestSessionLifecycle(t *testing.T) {
	s := NewSession(DefaultProcessingOptions())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Close(), ErrSessionClosed)

	_, _, err := s.Dither(gradient(2, 2))
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, _, err = s.ReadImage("whatever.png")
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, s.Encode(&bytes.Buffer{}, checkerboard(2, 2), FormatPNG), ErrSessionClosed)
}

func TestEncodeFormats(t *testing.T) {
	s := NewSession(DefaultProcessingOptions())
	defer s.Close()
	img := checkerboard(9, 4)

	decoders := map[string]func(*bytes.Reader) (image.Image, error){
		FormatPNG:  func(r *bytes.Reader) (image.Image, error) { return png.Decode(r) },
		FormatBMP:  func(r *bytes.Reader) (image.Image, error) { return bmp.Decode(r) },
		FormatGIF:  func(r *bytes.Reader) (image.Image, error) { return gif.Decode(r) },
		FormatTIFF: func(r *bytes.Reader) (image.Image, error) { return tiff.Decode(r) },
		FormatJPEG: func(r *bytes.Reader) (image.Image, error) { return jpeg.Decode(r) },
	}

	for format, decode := range decoders {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, s.Encode(&buf, img, format))
			got, err := decode(bytes.NewReader(buf.Bytes()))
			require.NoError(t, err)
			assert.Equal(t, img.Bounds().Size(), got.Bounds().Size())
			if format != FormatJPEG {
				assertSameBits(t, img, got)
			}
		})
	}

	err := s.Encode(&bytes.Buffer{}, img, "ppm")
	assert.ErrorIs(t, err, ErrWrite)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestDecodeImage(t *testing.T) {
	s := NewSession(DefaultProcessingOptions())
	defer s.Close()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, gradient(3, 3)))
	img, format, err := s.DecodeImage(&buf)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 3, img.Bounds().Dx())

	_, _, err = s.DecodeImage(bytes.NewReader([]byte("garbage")))
	assert.ErrorIs(t, err, ErrRead)
}

func TestLoadImageFromURL(t *testing.T) {
	var body bytes.Buffer
	require.NoError(t, png.Encode(&body, gradient(5, 4)))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(body.Bytes())
	}))
	defer srv.Close()

	s := NewSession(DefaultProcessingOptions())
	defer s.Close()
	client := &http.Client{Timeout: time.Second}

	img, format, err := s.LoadImageFromURL(context.Background(), client, srv.URL+"/img.png", 1<<20)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, image.Pt(5, 4), img.Bounds().Size())

	_, _, err = s.LoadImageFromURL(context.Background(), client, srv.URL+"/missing", 1<<20)
	assert.ErrorIs(t, err, ErrRead)

	_, _, err = s.LoadImageFromURL(context.Background(), client, "file:///etc/passwd", 1<<20)
	assert.ErrorIs(t, err, ErrRead)

	_, _, err = s.LoadImageFromURL(context.Background(), client, srv.URL+"/img.png", 16)
	assert.ErrorIs(t, err, ErrRead)
}

func TestLoadImageFromURLCapsChunkedBody(t *testing.T) {
	var body bytes.Buffer
	require.NoError(t, png.Encode(&body, gradient(64, 64)))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// no Content-Length, so only the read limit applies
		w.Write(body.Bytes()[:body.Len()/2])
		w.(http.Flusher).Flush()
		w.Write(body.Bytes()[body.Len()/2:])
	}))
	defer srv.Close()

	s := NewSession(DefaultProcessingOptions())
	defer s.Close()

	_, _, err := s.LoadImageFromURL(context.Background(), srv.Client(), srv.URL, int64(body.Len()/2))
	assert.ErrorIs(t, err, ErrRead)

	img, _, err := s.LoadImageFromURL(context.Background(), srv.Client(), srv.URL, int64(body.Len()))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(64, 64), img.Bounds().Size())
}

// hugePNGHeader is a PNG signature and IHDR declaring a 100000x100000
// grayscale image with no pixel data behind it.
func hugePNGHeader(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	ihdr := []byte{
		0x00, 0x01, 0x86, 0xa0, // width 100000
		0x00, 0x01, 0x86, 0xa0, // height 100000
		8, 0, 0, 0, 0,
	}
	require.NoError(t, writeChunk(&buf, "IHDR", ihdr))
	return buf.Bytes()
}

func TestDecodeRejectsDeclaredSizeBeforeAllocating(t *testing.T) {
	header := hugePNGHeader(t)

	s := NewSession(ProcessingOptions{MaxPixels: 1_000_000})
	defer s.Close()

	_, _, err := s.DecodeImage(bytes.NewReader(header))
	assert.ErrorIs(t, err, ErrIterator)
	assert.NotErrorIs(t, err, ErrRead)

	dir := t.TempDir()
	in := filepath.Join(dir, "huge.png")
	require.NoError(t, os.WriteFile(in, header, 0644))

	_, _, err = s.ReadImage(in)
	assert.ErrorIs(t, err, ErrIterator)

	out := filepath.Join(dir, "out.png")
	_, err = s.ConvertFile(in, out)
	assert.ErrorIs(t, err, ErrIterator)
	assert.NoFileExists(t, out)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(header)
	}))
	defer srv.Close()
	_, _, err = s.LoadImageFromURL(context.Background(), srv.Client(), srv.URL, 1<<20)
	assert.ErrorIs(t, err, ErrIterator)
}
