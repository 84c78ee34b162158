package classifier

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"math"

	"github.com/stone-age-io/fieldnode/internal/camera"
)

// darkOffset is how far below the frame's mean luma a pixel must be to count
// as part of a subject
const darkOffset = 60

// Contrast is a cheap on-device heuristic: the score grows with the share of
// pixels that are much darker than the frame average, saturating when a
// tenth of the frame is covered.
type Contrast struct {
	saturation float64
}

// NewContrast creates the contrast classifier
func NewContrast() *Contrast {
	return &Contrast{saturation: 0.10}
}

func (c *Contrast) Name() string {
	return "contrast"
}

func (c *Contrast) Score(ctx context.Context, frame *camera.Frame) (float64, error) {
	if frame == nil || len(frame.Data) == 0 {
		return 0, fmt.Errorf("empty frame")
	}
	img, _, err := image.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return 0, fmt.Errorf("failed to decode frame: %w", err)
	}

	bounds := img.Bounds()
	total := bounds.Dx() * bounds.Dy()
	if total == 0 {
		return 0, fmt.Errorf("frame has no pixels")
	}

	lumas := make([]uint8, 0, total)
	var sum float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			l := uint8((19595*r + 38470*g + 7471*b + 1<<15) >> 24)
			lumas = append(lumas, l)
			sum += float64(l)
		}
	}
	mean := sum / float64(total)

	dark := 0
	for _, l := range lumas {
		if float64(l) < mean-darkOffset {
			dark++
		}
	}

	share := float64(dark) / float64(total)
	score := clamp01(share / c.saturation)
	return math.Round(score*1000) / 1000, nil
}
