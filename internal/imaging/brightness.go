package imaging

import (
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"

	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/effect"
	"github.com/lucasb-eyer/go-colorful"
)

// BrightnessMode selects how a pixel's brightness is measured.
type BrightnessMode string

const (
	// BrightnessMean averages the 8-bit R, G and B components.
	BrightnessMean BrightnessMode = "mean"

	// BrightnessLuma uses bild's weighted grayscale conversion.
	BrightnessLuma BrightnessMode = "luma"

	// BrightnessLightness uses CIE L* scaled to 0-255.
	BrightnessLightness BrightnessMode = "lightness"
)

// ParseBrightnessMode converts a config string to a BrightnessMode.
// An empty string selects BrightnessMean.
func ParseBrightnessMode(s string) (BrightnessMode, error) {
	switch BrightnessMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", BrightnessMean:
		return BrightnessMean, nil
	case BrightnessLuma:
		return BrightnessLuma, nil
	case BrightnessLightness:
		return BrightnessLightness, nil
	default:
		return "", fmt.Errorf("unknown brightness mode: %q", s)
	}
}

// GrayPlane is a row-major brightness plane with values in 0-255.
type GrayPlane struct {
	Width  int
	Height int
	Values []float64
}

// At returns the brightness at (x, y) relative to the plane origin.
func (p *GrayPlane) At(x, y int) float64 {
	return p.Values[y*p.Width+x]
}

// NewGrayPlane measures every pixel of img with the given mode.
//
// The plane is indexed from (0,0) regardless of img.Bounds().Min.
func NewGrayPlane(img image.Image, mode BrightnessMode) (*GrayPlane, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("empty image")
	}

	plane := &GrayPlane{
		Width:  width,
		Height: height,
		Values: make([]float64, width*height),
	}

	switch mode {
	case "", BrightnessMean:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				r, g, b, _ := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
				plane.Values[y*width+x] = float64((r>>8)+(g>>8)+(b>>8)) / 3.0
			}
		}

	case BrightnessLuma:
		gray := effect.Grayscale(img)
		gb := gray.Bounds()
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				plane.Values[y*width+x] = float64(gray.RGBAAt(x+gb.Min.X, y+gb.Min.Y).R)
			}
		}

	case BrightnessLightness:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				c, ok := colorful.MakeColor(img.At(x+bounds.Min.X, y+bounds.Min.Y))
				if !ok {
					// Fully transparent pixels render as the white page beneath
					plane.Values[y*width+x] = 255
					continue
				}
				l, _, _ := c.Lab()
				plane.Values[y*width+x] = clampUnit(l) * 255
			}
		}

	default:
		return nil, fmt.Errorf("unknown brightness mode: %q", mode)
	}

	return plane, nil
}

// Smooth applies a Gaussian blur of the given radius. A radius of zero or
// less returns img unchanged.
func Smooth(img image.Image, radius float64) image.Image {
	if radius <= 0 {
		return img
	}
	return blur.Gaussian(img, radius)
}

// ParseHexColor parses a hex color string like "#FF0000" or "#FF000080".
func ParseHexColor(hex string) (color.RGBA, error) {
	hex = strings.TrimSpace(hex)
	if len(hex) == 0 {
		return color.RGBA{}, fmt.Errorf("empty color string")
	}
	if hex[0] == '#' {
		hex = hex[1:]
	}

	var r, g, b, a uint8 = 0, 0, 0, 255

	switch len(hex) {
	case 6:
		val, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return color.RGBA{}, err
		}
		r = uint8(val >> 16)
		g = uint8(val >> 8)
		b = uint8(val)
	case 8:
		val, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return color.RGBA{}, err
		}
		r = uint8(val >> 24)
		g = uint8(val >> 16)
		b = uint8(val >> 8)
		a = uint8(val)
	default:
		return color.RGBA{}, fmt.Errorf("invalid hex color length")
	}

	return color.RGBA{R: r, G: g, B: b, A: a}, nil
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
