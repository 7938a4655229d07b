package placement

import (
	"context"
	"image"

	"github.com/ironsheep/qr-stamp/internal/detection"
)

// WordLocator finds printed words on a page raster.
type WordLocator interface {
	Words(ctx context.Context, img image.Image) ([]image.Rectangle, error)
}

// FilterText drops zones whose pixel bounds overlap any word box. Word boxes
// are half-open rectangles in the same raster space as the zones. The input
// order of the remaining zones is preserved.
func FilterText(zones []detection.Zone, words []image.Rectangle) []detection.Zone {
	if len(words) == 0 {
		return zones
	}

	kept := make([]detection.Zone, 0, len(zones))
	for _, z := range zones {
		zr := image.Rect(z.Bounds.X1, z.Bounds.Y1, z.Bounds.X2+1, z.Bounds.Y2+1)
		clear := true
		for _, w := range words {
			if zr.Overlaps(w) {
				clear = false
				break
			}
		}
		if clear {
			kept = append(kept, z)
		}
	}
	return kept
}
