package cover

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
)

// compose overlays a darkened title band across the lower quarter of
// the generated image and re-encodes it to PNG. No font-rendering
// library is available anywhere in the dependency set this project
// draws from, so the band itself carries the typographic weight: a
// flat scrim a downstream cover template lays rendered title/author
// text on top of, rather than this package burning text into pixels
// directly.
func compose(data []byte, title, voice string) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}

	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Src)

	bandHeight := bounds.Dy() / 4
	band := image.Rect(bounds.Min.X, bounds.Max.Y-bandHeight, bounds.Max.X, bounds.Max.Y)
	scrim := image.NewUniform(color.NRGBA{R: 0, G: 0, B: 0, A: 140})
	draw.Draw(dst, band, scrim, image.Point{}, draw.Over)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode composed image: %w", err)
	}
	return buf.Bytes(), nil
}
