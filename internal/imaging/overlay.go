package imaging

import (
	"image"
	"image/color"
	"image/draw"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// OverlayStyle controls the colors used by DrawZones.
type OverlayStyle struct {
	ZoneColor      color.RGBA
	HighlightColor color.RGBA
	LabelColor     color.RGBA
	LabelBg        color.RGBA
	Thickness      int
}

// DefaultOverlayStyle draws zones in blue and the highlight in red.
func DefaultOverlayStyle() OverlayStyle {
	return OverlayStyle{
		ZoneColor:      color.RGBA{0, 102, 255, 255},
		HighlightColor: color.RGBA{230, 0, 0, 255},
		LabelColor:     color.RGBA{255, 255, 255, 255},
		LabelBg:        color.RGBA{0, 0, 0, 200},
		Thickness:      2,
	}
}

// DrawZones returns a copy of img with each zone outlined and labelled by its
// index. Zones are half-open pixel rectangles in img's coordinate space. When
// highlight is non-nil it is drawn filled with a translucent highlight color on
// top of the zones.
func DrawZones(img image.Image, zones []image.Rectangle, highlight *image.Rectangle, style OverlayStyle) *image.RGBA {
	bounds := img.Bounds()
	result := image.NewRGBA(bounds)
	draw.Draw(result, bounds, img, bounds.Min, draw.Src)

	for i, z := range zones {
		drawOutline(result, z, style.ZoneColor, style.Thickness)
		drawLabel(result, z.Min.X+style.Thickness+1, z.Min.Y+style.Thickness+1, strconv.Itoa(i), style.LabelColor, style.LabelBg)
	}

	if highlight != nil {
		hc := style.HighlightColor
		fill := color.NRGBA{R: hc.R, G: hc.G, B: hc.B, A: 90}
		draw.Draw(result, highlight.Intersect(bounds), &image.Uniform{C: fill}, image.Point{}, draw.Over)
		drawOutline(result, *highlight, style.HighlightColor, style.Thickness)
	}

	return result
}

// drawOutline strokes the inside edge of r, clipped to the image.
func drawOutline(img *image.RGBA, r image.Rectangle, c color.RGBA, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	src := &image.Uniform{C: c}
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(img.Bounds()), src, image.Point{}, draw.Src)
	}
}

// drawLabel draws text on a solid background box with its top-left at (x, y).
func drawLabel(img *image.RGBA, x, y int, text string, fg, bg color.RGBA) {
	if text == "" {
		return
	}
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{C: fg},
		Face: face,
	}
	width := d.MeasureString(text).Ceil()
	height := face.Metrics().Height.Ceil()

	box := image.Rect(x-1, y-1, x+width+1, y+height+1).Intersect(img.Bounds())
	draw.Draw(img, box, &image.Uniform{C: bg}, image.Point{}, draw.Over)

	d.Dot = fixed.P(x, y+face.Metrics().Ascent.Ceil())
	d.DrawString(text)
}
