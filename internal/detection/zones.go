package detection

import (
	"errors"
	"fmt"
	"image"
	"sort"

	"github.com/ironsheep/qr-stamp/internal/imaging"
)

// Bounds is an inclusive bounding box in pixel coordinates.
type Bounds struct {
	X1 int `json:"x1"` // Left edge (inclusive)
	Y1 int `json:"y1"` // Top edge (inclusive)
	X2 int `json:"x2"` // Right edge (inclusive)
	Y2 int `json:"y2"` // Bottom edge (inclusive)
}

// Width is the number of pixel columns covered.
func (b Bounds) Width() int { return b.X2 - b.X1 + 1 }

// Height is the number of pixel rows covered.
func (b Bounds) Height() int { return b.Y2 - b.Y1 + 1 }

// Area is the bounding-box area in square pixels.
func (b Bounds) Area() int { return b.Width() * b.Height() }

// Overlaps reports whether two inclusive boxes share at least one pixel.
func (b Bounds) Overlaps(o Bounds) bool {
	return b.X1 <= o.X2 && o.X1 <= b.X2 && b.Y1 <= o.Y2 && o.Y1 <= b.Y2
}

// Point is a pixel coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Component is a 4-connected region of set mask cells.
type Component struct {
	// Bounds encloses every pixel of the component.
	Bounds Bounds `json:"bounds"`

	// Pixels is the number of mask cells in the component.
	Pixels int `json:"pixels"`

	// Seed is the first pixel of the component in row-major scan order.
	Seed Point `json:"seed"`
}

// Zone is an accepted white region expressed in both pixel and page units.
type Zone struct {
	// Bounds is the inclusive pixel bounding box on the raster.
	Bounds Bounds `json:"bounds"`

	// Area is the bounding-box area in square pixels.
	Area int `json:"area"`

	// Pixels is the number of white pixels inside the component.
	Pixels int `json:"pixels"`

	// AreaRatio is Area divided by the raster area.
	AreaRatio float64 `json:"area_ratio"`

	// Aspect is pixel width divided by pixel height.
	Aspect float64 `json:"aspect"`

	// X0, Y0, X1, Y1 is the zone in page points, top-left origin.
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// WidthPt is the zone width in page points.
func (z Zone) WidthPt() float64 { return z.X1 - z.X0 }

// HeightPt is the zone height in page points.
func (z Zone) HeightPt() float64 { return z.Y1 - z.Y0 }

// Options controls which components are accepted as zones.
type Options struct {
	// WhiteThreshold is the brightness (0-255) a pixel must exceed.
	WhiteThreshold int `json:"white_threshold" yaml:"white_threshold"`

	// MinAreaRatio and MaxAreaRatio bound the bbox area as a fraction of the raster.
	MinAreaRatio float64 `json:"min_area_ratio" yaml:"min_area_ratio"`
	MaxAreaRatio float64 `json:"max_area_ratio" yaml:"max_area_ratio"`

	// MinAspect and MaxAspect bound width/height of the bbox.
	MinAspect float64 `json:"min_aspect" yaml:"min_aspect"`
	MaxAspect float64 `json:"max_aspect" yaml:"max_aspect"`
}

// DefaultOptions returns the thresholds used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		WhiteThreshold: DefaultWhiteThreshold,
		MinAreaRatio:   0.001,
		MaxAreaRatio:   0.9,
		MinAspect:      0.5,
		MaxAspect:      2.0,
	}
}

// Validate checks that the filter bands are well formed.
func (o Options) Validate() error {
	if o.WhiteThreshold < 0 || o.WhiteThreshold > 255 {
		return fmt.Errorf("white threshold %d outside 0-255", o.WhiteThreshold)
	}
	if o.MinAreaRatio < 0 || o.MaxAreaRatio > 1 || o.MinAreaRatio > o.MaxAreaRatio {
		return fmt.Errorf("invalid area ratio band [%g, %g]", o.MinAreaRatio, o.MaxAreaRatio)
	}
	if o.MinAspect <= 0 || o.MaxAspect <= 0 || o.MinAspect > o.MaxAspect {
		return fmt.Errorf("invalid aspect band [%g, %g]", o.MinAspect, o.MaxAspect)
	}
	return nil
}

// ErrEmptyGrid is returned when the mask or page has no extent.
var ErrEmptyGrid = errors.New("empty grid")

// Components labels the 4-connected regions of set cells in mask.
//
// Seeds are taken in row-major order, so the returned slice is ordered by the
// position of each component's first pixel. Every cell is pushed onto the
// flood-fill stack at most once.
func Components(mask *Mask) []Component {
	visited := make([]bool, len(mask.Cells))
	components := make([]Component, 0)

	for y := 0; y < mask.Height; y++ {
		for x := 0; x < mask.Width; x++ {
			i := y*mask.Width + x
			if mask.Cells[i] && !visited[i] {
				components = append(components, floodFill(mask, visited, x, y))
			}
		}
	}

	return components
}

// floodFill grows one component from (startX, startY).
//
// Stack-based to avoid recursion depth limits on page-sized regions. Cells are
// marked visited when pushed, not when popped, so no cell enters the stack twice.
func floodFill(mask *Mask, visited []bool, startX, startY int) Component {
	width, height := mask.Width, mask.Height
	stack := []Point{{X: startX, Y: startY}}
	visited[startY*width+startX] = true

	b := Bounds{X1: startX, Y1: startY, X2: startX, Y2: startY}
	pixels := 0

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		pixels++

		if p.X < b.X1 {
			b.X1 = p.X
		}
		if p.X > b.X2 {
			b.X2 = p.X
		}
		if p.Y < b.Y1 {
			b.Y1 = p.Y
		}
		if p.Y > b.Y2 {
			b.Y2 = p.Y
		}

		// 4-connected neighbors
		for _, n := range [4]Point{{p.X + 1, p.Y}, {p.X - 1, p.Y}, {p.X, p.Y + 1}, {p.X, p.Y - 1}} {
			if n.X < 0 || n.X >= width || n.Y < 0 || n.Y >= height {
				continue
			}
			j := n.Y*width + n.X
			if mask.Cells[j] && !visited[j] {
				visited[j] = true
				stack = append(stack, n)
			}
		}
	}

	return Component{
		Bounds: b,
		Pixels: pixels,
		Seed:   Point{X: startX, Y: startY},
	}
}

// FindZones labels mask, filters the components by area ratio and aspect,
// sorts them by area (largest first) and converts them to page points.
//
// pageWidth and pageHeight are the physical page size; the X and Y scale
// factors are computed independently from the mask dimensions.
func FindZones(mask *Mask, pageWidth, pageHeight float64, opts Options) ([]Zone, error) {
	if mask == nil || mask.Width <= 0 || mask.Height <= 0 {
		return nil, ErrEmptyGrid
	}
	if pageWidth <= 0 || pageHeight <= 0 {
		return nil, fmt.Errorf("page size %gx%g: %w", pageWidth, pageHeight, ErrEmptyGrid)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	gridArea := float64(mask.Width * mask.Height)
	scaleX := pageWidth / float64(mask.Width)
	scaleY := pageHeight / float64(mask.Height)

	zones := make([]Zone, 0)
	for _, c := range Components(mask) {
		area := c.Bounds.Area()
		ratio := float64(area) / gridArea
		if ratio < opts.MinAreaRatio || ratio > opts.MaxAreaRatio {
			continue
		}

		aspect := float64(c.Bounds.Width()) / float64(c.Bounds.Height())
		if aspect < opts.MinAspect || aspect > opts.MaxAspect {
			continue
		}

		zones = append(zones, Zone{
			Bounds:    c.Bounds,
			Area:      area,
			Pixels:    c.Pixels,
			AreaRatio: ratio,
			Aspect:    aspect,
			X0:        float64(c.Bounds.X1) * scaleX,
			Y0:        float64(c.Bounds.Y1) * scaleY,
			X1:        float64(c.Bounds.X2+1) * scaleX,
			Y1:        float64(c.Bounds.Y2+1) * scaleY,
		})
	}

	// Stable so equal areas keep scan order
	sort.SliceStable(zones, func(i, j int) bool {
		return zones[i].Area > zones[j].Area
	})

	return zones, nil
}

// Result is the outcome of running detection on one page raster.
type Result struct {
	RasterWidth  int     `json:"raster_width"`
	RasterHeight int     `json:"raster_height"`
	PageWidth    float64 `json:"page_width"`
	PageHeight   float64 `json:"page_height"`
	WhitePixels  int     `json:"white_pixels"`
	Zones        []Zone  `json:"zones"`
	Count        int     `json:"count"`
}

// DetectZones masks img with the configured threshold and brightness mode and
// returns the accepted zones in page points.
func DetectZones(img image.Image, pageWidth, pageHeight float64, opts Options, mode imaging.BrightnessMode) (*Result, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, ErrEmptyGrid
	}

	mask, err := MaskFromImage(img, opts.WhiteThreshold, mode)
	if err != nil {
		return nil, err
	}

	zones, err := FindZones(mask, pageWidth, pageHeight, opts)
	if err != nil {
		return nil, err
	}

	return &Result{
		RasterWidth:  mask.Width,
		RasterHeight: mask.Height,
		PageWidth:    pageWidth,
		PageHeight:   pageHeight,
		WhitePixels:  mask.Count(),
		Zones:        zones,
		Count:        len(zones),
	}, nil
}
