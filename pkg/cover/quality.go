package cover

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"

	"github.com/inkforge/orchestrator/pkg/config"
	"github.com/inkforge/orchestrator/pkg/providers"
)

// rejectionReason returns a human-readable reason the candidate image
// fails one of the cover subsystem's quality gates, or "" if it passes
// all of them.
func rejectionReason(verdict providers.VisionResult, data []byte, cfg config.CoverConfig) string {
	if verdict.HasText {
		return "rendered text, letters or digits detected"
	}
	if len(verdict.SlopPatterns) > 0 {
		return fmt.Sprintf("matched slop pattern(s): %v", verdict.SlopPatterns)
	}
	ratio, err := subjectAreaRatio(data)
	if err != nil {
		return fmt.Sprintf("could not measure subject size: %v", err)
	}
	if ratio < cfg.MinSubjectAreaRatio {
		return fmt.Sprintf("subject occupies %.0f%% of frame, below the %.0f%% minimum", ratio*100, cfg.MinSubjectAreaRatio*100)
	}
	return ""
}

// subjectAreaRatio estimates how much of the frame is occupied by a
// foreground subject rather than flat background, by counting sampled
// pixels that differ from the image's averaged corner color by more
// than a fixed threshold. This is a coarse heuristic, not segmentation:
// it exists only to reject covers where the generated subject is too
// small or absent, such as a blank gradient.
func subjectAreaRatio(data []byte) (float64, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("decode image: %w", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return 0, fmt.Errorf("zero-sized image")
	}

	bg := averageCornerColor(img)

	const (
		sampleStride   = 4 // every 4th pixel per axis; a threshold check needs no exhaustive scan
		distThresholdSq = 60 * 60
	)
	var sampled, foreground int
	for y := bounds.Min.Y; y < bounds.Max.Y; y += sampleStride {
		for x := bounds.Min.X; x < bounds.Max.X; x += sampleStride {
			sampled++
			if colorDistanceSq(img.At(x, y), bg) > distThresholdSq {
				foreground++
			}
		}
	}
	if sampled == 0 {
		return 0, fmt.Errorf("no pixels sampled")
	}
	return float64(foreground) / float64(sampled), nil
}

func averageCornerColor(img image.Image) color.Color {
	b := img.Bounds()
	corners := []image.Point{
		{b.Min.X, b.Min.Y},
		{b.Max.X - 1, b.Min.Y},
		{b.Min.X, b.Max.Y - 1},
		{b.Max.X - 1, b.Max.Y - 1},
	}
	var r, g, bl, a uint32
	for _, p := range corners {
		cr, cg, cb, ca := img.At(p.X, p.Y).RGBA()
		r += cr
		g += cg
		bl += cb
		a += ca
	}
	n := uint32(len(corners))
	return color.RGBA64{R: uint16(r / n), G: uint16(g / n), B: uint16(bl / n), A: uint16(a / n)}
}

func colorDistanceSq(a, b color.Color) float64 {
	ar, ag, ab, _ := a.RGBA()
	br, bg, bb, _ := b.RGBA()
	dr := float64(int32(ar>>8) - int32(br>>8))
	dg := float64(int32(ag>>8) - int32(bg>>8))
	db := float64(int32(ab>>8) - int32(bb>>8))
	return dr*dr + dg*dg + db*db
}
