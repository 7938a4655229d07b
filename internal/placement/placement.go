// Package placement decides where a QR code goes on a template page.
//
// Inputs are the page size and the candidate zones produced by the detection
// package; the output is a square rectangle in page points. All coordinates
// use a top-left origin.
package placement

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ironsheep/qr-stamp/internal/detection"
)

// Mode selects how the target zone is chosen.
type Mode string

const (
	// ModeAuto uses the largest zone that fits the QR code.
	ModeAuto Mode = "auto"

	// ModeZone uses the zone at Options.ZoneIndex.
	ModeZone Mode = "zone"

	// ModeManual ignores zones and uses Options.X, Options.Y and Options.Size.
	ModeManual Mode = "manual"
)

// Align positions the QR code inside its zone.
type Align string

const (
	AlignCenter      Align = "center"
	AlignTopLeft     Align = "top-left"
	AlignTopRight    Align = "top-right"
	AlignBottomLeft  Align = "bottom-left"
	AlignBottomRight Align = "bottom-right"
)

// Fallback controls what happens when no zone can hold the QR code.
type Fallback string

const (
	// FallbackCorner places the code in the bottom-right page corner.
	FallbackCorner Fallback = "corner"

	// FallbackNone reports ErrNoZone.
	FallbackNone Fallback = "none"
)

// ErrNoZone is returned when no zone fits and the fallback is disabled.
var ErrNoZone = errors.New("no zone can hold the QR code")

// Options controls placement.
type Options struct {
	Mode Mode `yaml:"mode" json:"mode" form:"mode"`

	// Size is the preferred QR edge length in points.
	Size float64 `yaml:"size" json:"size" form:"size"`

	// MinSize is the smallest acceptable edge length after shrinking to fit.
	MinSize float64 `yaml:"min_size" json:"min_size" form:"min_size"`

	// Margin is the clearance kept between the code and the zone edges.
	Margin float64 `yaml:"margin" json:"margin" form:"margin"`

	Align     Align    `yaml:"align" json:"align" form:"align"`
	ZoneIndex int      `yaml:"zone_index" json:"zone_index" form:"zone_index"`
	Fallback  Fallback `yaml:"fallback" json:"fallback" form:"fallback"`

	// X and Y are the top-left corner used in manual mode.
	X float64 `yaml:"x" json:"x" form:"x"`
	Y float64 `yaml:"y" json:"y" form:"y"`
}

// DefaultOptions places a 100pt code centered in the largest zone.
func DefaultOptions() Options {
	return Options{
		Mode:     ModeAuto,
		Size:     100,
		MinSize:  40,
		Margin:   8,
		Align:    AlignCenter,
		Fallback: FallbackCorner,
	}
}

// Normalize fills zero fields from DefaultOptions and lower-cases enums.
func (o Options) Normalize() Options {
	def := DefaultOptions()
	o.Mode = Mode(strings.ToLower(strings.TrimSpace(string(o.Mode))))
	o.Align = Align(strings.ToLower(strings.TrimSpace(string(o.Align))))
	o.Fallback = Fallback(strings.ToLower(strings.TrimSpace(string(o.Fallback))))
	if o.Mode == "" {
		o.Mode = def.Mode
	}
	if o.Size <= 0 {
		o.Size = def.Size
	}
	if o.MinSize <= 0 {
		o.MinSize = math.Min(def.MinSize, o.Size)
	}
	if o.Margin < 0 {
		o.Margin = 0
	}
	if o.Align == "" {
		o.Align = def.Align
	}
	if o.Fallback == "" {
		o.Fallback = def.Fallback
	}
	return o
}

// Validate checks enum values and size relations.
func (o Options) Validate() error {
	switch o.Mode {
	case ModeAuto, ModeZone, ModeManual:
	default:
		return fmt.Errorf("unknown placement mode: %q", o.Mode)
	}
	switch o.Align {
	case AlignCenter, AlignTopLeft, AlignTopRight, AlignBottomLeft, AlignBottomRight:
	default:
		return fmt.Errorf("unknown alignment: %q", o.Align)
	}
	switch o.Fallback {
	case FallbackCorner, FallbackNone:
	default:
		return fmt.Errorf("unknown fallback: %q", o.Fallback)
	}
	if o.MinSize > o.Size {
		return fmt.Errorf("min size %g exceeds size %g", o.MinSize, o.Size)
	}
	if o.Mode == ModeZone && o.ZoneIndex < 0 {
		return fmt.Errorf("zone index %d is negative", o.ZoneIndex)
	}
	return nil
}

// Rect is a square placement in page points.
type Rect struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Size float64 `json:"size"`
}

// Decision describes how a Rect was chosen.
type Decision struct {
	Rect Rect `json:"rect"`

	// ZoneIndex is the index of the zone used, or -1 for manual and fallback placement.
	ZoneIndex int `json:"zone_index"`

	// Source is "zone", "manual" or "fallback".
	Source string `json:"source"`

	// Shrunk is true when the code is smaller than the requested size.
	Shrunk bool `json:"shrunk"`
}

// Place computes where the QR code goes on a page of the given size.
func Place(pageWidth, pageHeight float64, zones []detection.Zone, opts Options) (*Decision, error) {
	opts = opts.Normalize()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if pageWidth <= 0 || pageHeight <= 0 {
		return nil, fmt.Errorf("invalid page size %gx%g", pageWidth, pageHeight)
	}

	switch opts.Mode {
	case ModeManual:
		return placeManual(pageWidth, pageHeight, opts), nil

	case ModeZone:
		if opts.ZoneIndex < len(zones) {
			if d, ok := fitZone(zones[opts.ZoneIndex], opts); ok {
				d.ZoneIndex = opts.ZoneIndex
				return d, nil
			}
		}

	case ModeAuto:
		for i, z := range zones {
			if d, ok := fitZone(z, opts); ok {
				d.ZoneIndex = i
				return d, nil
			}
		}
	}

	if opts.Fallback == FallbackNone {
		return nil, ErrNoZone
	}
	return placeCorner(pageWidth, pageHeight, opts), nil
}

// fitZone shrinks the code to fit inside z minus margins and aligns it.
func fitZone(z detection.Zone, opts Options) (*Decision, bool) {
	innerW := z.WidthPt() - 2*opts.Margin
	innerH := z.HeightPt() - 2*opts.Margin
	size := math.Min(opts.Size, math.Min(innerW, innerH))
	if size < opts.MinSize || size <= 0 {
		return nil, false
	}

	left := z.X0 + opts.Margin
	top := z.Y0 + opts.Margin
	right := z.X1 - opts.Margin - size
	bottom := z.Y1 - opts.Margin - size

	var x, y float64
	switch opts.Align {
	case AlignTopLeft:
		x, y = left, top
	case AlignTopRight:
		x, y = right, top
	case AlignBottomLeft:
		x, y = left, bottom
	case AlignBottomRight:
		x, y = right, bottom
	default:
		x = z.X0 + (z.WidthPt()-size)/2
		y = z.Y0 + (z.HeightPt()-size)/2
	}

	return &Decision{
		Rect:   Rect{X: x, Y: y, Size: size},
		Source: "zone",
		Shrunk: size < opts.Size,
	}, true
}

func placeManual(pageWidth, pageHeight float64, opts Options) *Decision {
	size := math.Min(opts.Size, math.Min(pageWidth, pageHeight))
	x := clamp(opts.X, 0, pageWidth-size)
	y := clamp(opts.Y, 0, pageHeight-size)
	return &Decision{
		Rect:      Rect{X: x, Y: y, Size: size},
		ZoneIndex: -1,
		Source:    "manual",
		Shrunk:    size < opts.Size,
	}
}

func placeCorner(pageWidth, pageHeight float64, opts Options) *Decision {
	size := math.Min(opts.Size, math.Min(pageWidth, pageHeight)-2*opts.Margin)
	if size <= 0 {
		size = math.Min(pageWidth, pageHeight)
	}
	return &Decision{
		Rect: Rect{
			X:    clamp(pageWidth-opts.Margin-size, 0, pageWidth-size),
			Y:    clamp(pageHeight-opts.Margin-size, 0, pageHeight-size),
			Size: size,
		},
		ZoneIndex: -1,
		Source:    "fallback",
		Shrunk:    size < opts.Size,
	}
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		return lo
	}
	return math.Max(lo, math.Min(v, hi))
}
