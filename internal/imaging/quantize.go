// Package imaging re-encodes statement screenshots into compact paletted PNGs.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	_ "image/jpeg" // screenshots may arrive as JPEG
	"image/png"
)

// Palette is the fixed 256-colour palette every stored image uses.
var Palette color.Palette = palette.Plan9

// Quantize decodes raw and maps every pixel to its nearest Palette colour
// without dithering, returning the PNG encoding.
func Quantize(raw []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	bounds := src.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("decode screenshot: empty image")
	}
	dst := image.NewPaletted(bounds, Palette)
	// draw.Src onto a Paletted destination picks the nearest colour; only
	// draw.FloydSteinberg would dither.
	draw.Draw(dst, bounds, src, bounds.Min, draw.Src)

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
