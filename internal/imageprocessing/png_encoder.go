package imageprocessing

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"image"
	"io"
)

// idatChunkSize caps the payload of each IDAT chunk.
const idatChunkSize = 32 * 1024

var pngSignature = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// PNGWriter streams a 1-bit grayscale PNG (color type 0) one row at a time.
// It implements BinarySink, so the dithering pass can write straight into it
// without keeping the output image in memory.
type PNGWriter struct {
	w      io.Writer
	width  int
	height int

	row  []byte // filter byte + packed pixels
	idat *idatWriter
	zw   *zlib.Writer
	rows int
	err  error
}

// NewPNGWriter writes the PNG signature and IHDR chunk to w.
func NewPNGWriter(w io.Writer, width, height int) (*PNGWriter, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("cannot encode %dx%d image as PNG", width, height)
	}

	if _, err := w.Write(pngSignature); err != nil {
		return nil, fmt.Errorf("failed to write PNG signature: %w", err)
	}

	var ihdr [13]byte
	binary.BigEndian.PutUint32(ihdr[0:4], uint32(width))
	binary.BigEndian.PutUint32(ihdr[4:8], uint32(height))
	ihdr[8] = 1  // Bit depth
	ihdr[9] = 0  // Color type: grayscale
	ihdr[10] = 0 // Compression method
	ihdr[11] = 0 // Filter method
	ihdr[12] = 0 // Interlace method
	if err := writeChunk(w, "IHDR", ihdr[:]); err != nil {
		return nil, err
	}

	idat := &idatWriter{w: w}
	zw, err := zlib.NewWriterLevel(idat, zlib.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("failed to create zlib writer: %w", err)
	}

	return &PNGWriter{
		w:      w,
		width:  width,
		height: height,
		row:    make([]byte, 1+(width+7)/8),
		idat:   idat,
		zw:     zw,
	}, nil
}

// SetBit stores bit for column x of the row being built. y must be the row
// that will be flushed next.
func (p *PNGWriter) SetBit(x, y int, bit uint8) {
	if y != p.rows || x < 0 || x >= p.width {
		p.setErr(fmt.Errorf("pixel (%d,%d) outside current row %d", x, y, p.rows))
		return
	}
	mask := byte(0x80) >> (x % 8)
	if bit != 0 {
		p.row[1+x/8] |= mask
	} else {
		p.row[1+x/8] &^= mask
	}
}

// FlushRow compresses the current row. Rows must be flushed in order.
func (p *PNGWriter) FlushRow(y int) error {
	if p.err != nil {
		return p.err
	}
	if y != p.rows || y >= p.height {
		return fmt.Errorf("row %d flushed out of order, expected %d", y, p.rows)
	}

	p.row[0] = 0 // Filter type: None
	if _, err := p.zw.Write(p.row); err != nil {
		p.setErr(fmt.Errorf("failed to compress row %d: %w", y, err))
		return p.err
	}
	clear(p.row)
	p.rows++
	return nil
}

// Close finishes the image data and writes IEND. It fails if fewer rows
// were flushed than the header promised.
func (p *PNGWriter) Close() error {
	if p.err != nil {
		return p.err
	}
	if p.rows != p.height {
		return fmt.Errorf("PNG incomplete: %d of %d rows written", p.rows, p.height)
	}
	if err := p.zw.Close(); err != nil {
		return fmt.Errorf("failed to close zlib writer: %w", err)
	}
	if err := p.idat.flush(); err != nil {
		return err
	}
	return writeChunk(p.w, "IEND", nil)
}

func (p *PNGWriter) setErr(err error) {
	if p.err == nil {
		p.err = err
	}
}

// EncodePalettedPNG encodes a monochrome image as a 1-bit grayscale PNG.
func EncodePalettedPNG(img *image.Paletted) ([]byte, error) {
	var buf bytes.Buffer
	if err := WritePalettedPNG(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WritePalettedPNG writes img to w as a 1-bit grayscale PNG. Palette index 0
// is written as black and any other index as white.
func WritePalettedPNG(w io.Writer, img *image.Paletted) error {
	if img == nil {
		return errors.New("image is nil")
	}

	bounds := img.Bounds()
	pw, err := NewPNGWriter(w, bounds.Dx(), bounds.Dy())
	if err != nil {
		return err
	}

	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			var bit uint8
			if img.ColorIndexAt(bounds.Min.X+x, bounds.Min.Y+y) != 0 {
				bit = 1
			}
			pw.SetBit(x, y, bit)
		}
		if err := pw.FlushRow(y); err != nil {
			return err
		}
	}

	return pw.Close()
}

// idatWriter buffers compressed data and emits it as IDAT chunks.
type idatWriter struct {
	w   io.Writer
	buf []byte
}

func (iw *idatWriter) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		room := idatChunkSize - len(iw.buf)
		take := min(room, len(p))
		iw.buf = append(iw.buf, p[:take]...)
		p = p[take:]
		if len(iw.buf) == idatChunkSize {
			if err := iw.flush(); err != nil {
				return n - len(p), err
			}
		}
	}
	return n, nil
}

func (iw *idatWriter) flush() error {
	if len(iw.buf) == 0 {
		return nil
	}
	if err := writeChunk(iw.w, "IDAT", iw.buf); err != nil {
		return err
	}
	iw.buf = iw.buf[:0]
	return nil
}

// writeChunk writes a PNG chunk with proper CRC
func writeChunk(w io.Writer, chunkType string, data []byte) error {
	var header [8]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(len(data)))
	copy(header[4:8], chunkType)

	crc := crc32.NewIEEE()
	crc.Write(header[4:8])
	crc.Write(data)
	var footer [4]byte
	binary.BigEndian.PutUint32(footer[:], crc.Sum32())

	for _, part := range [][]byte{header[:], data, footer[:]} {
		if len(part) == 0 {
			continue
		}
		if _, err := w.Write(part); err != nil {
			return fmt.Errorf("failed to write %s chunk: %w", chunkType, err)
		}
	}
	return nil
}
