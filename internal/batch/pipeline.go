// Package batch turns a template and a list of links into a zip archive of
// QR-stamped documents.
//
// A Pipeline analyzes the template once (rasterize, detect zones, optionally
// drop zones with text) and then renders one document per link. A Runner
// fans rendering out over a bounded worker pool and streams the results into
// the archive in link order. A Manager runs jobs in the background and
// records them in the job store.
package batch

import (
	"context"
	"fmt"
	"image"
	"io"

	"go.uber.org/zap"

	"github.com/ironsheep/qr-stamp/internal/compose"
	"github.com/ironsheep/qr-stamp/internal/detection"
	"github.com/ironsheep/qr-stamp/internal/imaging"
	"github.com/ironsheep/qr-stamp/internal/placement"
	"github.com/ironsheep/qr-stamp/internal/qr"
	"github.com/ironsheep/qr-stamp/internal/raster"
)

// Pipeline holds the components used to produce one document.
type Pipeline struct {
	Rasterizer   raster.Rasterizer
	Detection    detection.Options
	Brightness   imaging.BrightnessMode
	SmoothRadius float64

	// Words is optional; when set, zones overlapping recognised words are dropped.
	Words placement.WordLocator

	QR       qr.Source
	Composer *compose.Composer
	Logger   *zap.Logger
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// Analysis is a rasterized template and its candidate zones.
type Analysis struct {
	Page      *raster.Page
	Detection *detection.Result

	// TextFiltered is the number of zones removed because they contain text.
	TextFiltered int
}

// Zones returns the accepted zones, largest first.
func (a *Analysis) Zones() []detection.Zone {
	return a.Detection.Zones
}

// Analyze rasterizes data and finds white zones on it.
func (p *Pipeline) Analyze(ctx context.Context, data []byte) (*Analysis, error) {
	page, err := p.Rasterizer.Rasterize(ctx, data)
	if err != nil {
		return nil, err
	}
	if page.Format == raster.FormatPDF {
		if err := compose.CheckPDF(page.Source); err != nil {
			return nil, err
		}
	}

	img := page.Image
	if p.SmoothRadius > 0 {
		img = imaging.Smooth(img, p.SmoothRadius)
	}

	res, err := detection.DetectZones(img, page.WidthPt, page.HeightPt, p.Detection, p.Brightness)
	if err != nil {
		return nil, fmt.Errorf("zone detection failed: %w", err)
	}

	a := &Analysis{Page: page, Detection: res}

	if p.Words != nil && len(res.Zones) > 0 {
		boxes, err := p.Words.Words(ctx, page.Image)
		if err != nil {
			p.logger().Warn("text detection unavailable, keeping all zones", zap.Error(err))
		} else {
			kept := placement.FilterText(res.Zones, boxes)
			a.TextFiltered = len(res.Zones) - len(kept)
			res.Zones = kept
			res.Count = len(kept)
		}
	}

	p.logger().Debug("analyzed template",
		zap.String("format", string(page.Format)),
		zap.Float64("width_pt", page.WidthPt),
		zap.Float64("height_pt", page.HeightPt),
		zap.Int("zones", res.Count),
		zap.Int("text_filtered", a.TextFiltered))
	return a, nil
}

// Place decides the QR rectangle for this template.
func (a *Analysis) Place(opts placement.Options) (*placement.Decision, error) {
	return placement.Place(a.Page.WidthPt, a.Page.HeightPt, a.Zones(), opts)
}

// Overlay draws the zones on the page raster and highlights the chosen
// placement when decision is non-nil.
func (a *Analysis) Overlay(decision *placement.Decision) *image.RGBA {
	rects := make([]image.Rectangle, len(a.Detection.Zones))
	for i, z := range a.Detection.Zones {
		rects[i] = image.Rect(z.Bounds.X1, z.Bounds.Y1, z.Bounds.X2+1, z.Bounds.Y2+1)
	}

	var highlight *image.Rectangle
	if decision != nil {
		r := decision.Rect
		hr := a.Page.PixelRect(r.X, r.Y, r.X+r.Size, r.Y+r.Size)
		highlight = &hr
	}
	return imaging.DrawZones(a.Page.Image, rects, highlight, imaging.DefaultOverlayStyle())
}

// ZoneCrops returns a PNG crop of every zone, scaled by scale.
func (a *Analysis) ZoneCrops(scale float64) ([]*imaging.CropResult, error) {
	crops := make([]*imaging.CropResult, len(a.Detection.Zones))
	for i, z := range a.Detection.Zones {
		r := image.Rect(z.Bounds.X1, z.Bounds.Y1, z.Bounds.X2+1, z.Bounds.Y2+1)
		crop, err := imaging.Crop(a.Page.Image, r.Add(a.Page.Image.Bounds().Min), scale)
		if err != nil {
			return nil, fmt.Errorf("zone %d: %w", i, err)
		}
		crops[i] = crop
	}
	return crops, nil
}

// Render writes one document for content to w.
func (p *Pipeline) Render(ctx context.Context, a *Analysis, rect placement.Rect, content string, w io.Writer) error {
	code, err := p.QR.Image(ctx, content, p.Composer.QRPixels(rect.Size))
	if err != nil {
		return err
	}
	return p.Composer.Compose(w, a.Page, code, rect)
}
