package detection

import (
	"fmt"
	"image"

	"github.com/ironsheep/qr-stamp/internal/imaging"
)

// DefaultWhiteThreshold is the brightness a pixel must exceed to count as white.
const DefaultWhiteThreshold = 245

// Mask is a boolean grid marking pixels brighter than a threshold.
//
// Cells are stored row-major in a flat slice; use At and Set rather than
// indexing Cells directly unless iterating the whole grid.
type Mask struct {
	Width  int
	Height int
	Cells  []bool
}

// NewEmptyMask returns a mask of the given size with every cell false.
func NewEmptyMask(width, height int) *Mask {
	return &Mask{
		Width:  width,
		Height: height,
		Cells:  make([]bool, width*height),
	}
}

// At reports whether (x, y) is set. Out-of-range coordinates are false.
func (m *Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Cells[y*m.Width+x]
}

// Set marks (x, y). Out-of-range coordinates are ignored.
func (m *Mask) Set(x, y int, v bool) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	m.Cells[y*m.Width+x] = v
}

// Count returns the number of set cells.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Cells {
		if v {
			n++
		}
	}
	return n
}

// NewMask thresholds a brightness plane. A cell is true when its value is
// strictly greater than threshold.
func NewMask(plane *imaging.GrayPlane, threshold float64) *Mask {
	m := NewEmptyMask(plane.Width, plane.Height)
	for i, v := range plane.Values {
		m.Cells[i] = v > threshold
	}
	return m
}

// MaskFromImage computes the brightness plane of img with the given mode and
// thresholds it.
func MaskFromImage(img image.Image, threshold int, mode imaging.BrightnessMode) (*Mask, error) {
	if threshold < 0 || threshold > 255 {
		return nil, fmt.Errorf("white threshold %d outside 0-255", threshold)
	}
	plane, err := imaging.NewGrayPlane(img, mode)
	if err != nil {
		return nil, err
	}
	return NewMask(plane, float64(threshold)), nil
}
