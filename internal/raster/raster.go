// Package raster turns uploaded templates into page rasters with a known
// physical size.
//
// PDF templates are rendered with poppler's pdftoppm and measured with
// pdfinfo. Image templates (PNG, JPEG, GIF) are decoded in-process and sized
// from a nominal DPI. Only the first page of a PDF is used.
package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // Register GIF format decoder

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	qimaging "github.com/ironsheep/qr-stamp/internal/imaging"
)

// Format identifies the kind of template that was uploaded.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatGIF  Format = "gif"
)

// PointsPerInch is the PDF user-space unit density.
const PointsPerInch = 72.0

var (
	// ErrEmptyTemplate is returned for zero-length uploads.
	ErrEmptyTemplate = errors.New("template is empty")

	// ErrUnsupportedFormat is returned when the upload is neither PDF nor a supported image.
	ErrUnsupportedFormat = errors.New("unsupported template format")

	// ErrToolMissing is returned when a poppler binary cannot be found.
	ErrToolMissing = errors.New("pdf rendering tool not found")
)

// Page is the rasterized first page of a template.
type Page struct {
	// Image is the page raster.
	Image image.Image

	// WidthPt and HeightPt are the physical page size in points.
	WidthPt  float64
	HeightPt float64

	// Format is the template's source format.
	Format Format

	// DPI is the resolution the raster was produced at.
	DPI float64

	// Source holds the original template bytes, needed to import PDF pages.
	Source []byte
}

// ScaleX returns points per raster pixel horizontally.
func (p *Page) ScaleX() float64 { return p.WidthPt / float64(p.Image.Bounds().Dx()) }

// ScaleY returns points per raster pixel vertically.
func (p *Page) ScaleY() float64 { return p.HeightPt / float64(p.Image.Bounds().Dy()) }

// PixelRect converts a rectangle in points to the raster's pixel space.
func (p *Page) PixelRect(x0, y0, x1, y1 float64) image.Rectangle {
	sx, sy := p.ScaleX(), p.ScaleY()
	b := p.Image.Bounds()
	return image.Rect(
		b.Min.X+int(x0/sx),
		b.Min.Y+int(y0/sy),
		b.Min.X+int(x1/sx+0.5),
		b.Min.Y+int(y1/sy+0.5),
	)
}

// Rasterizer renders the first page of a template.
type Rasterizer interface {
	Rasterize(ctx context.Context, data []byte) (*Page, error)
}

// Options configures template rendering.
type Options struct {
	// DPI is the render resolution for PDF pages. 72 yields one pixel per point.
	DPI float64 `yaml:"dpi"`

	// ImageDPI is the nominal resolution of image templates, used to derive
	// their physical size.
	ImageDPI float64 `yaml:"image_dpi"`

	// PdftoppmPath and PdfinfoPath override the poppler binaries looked up on PATH.
	PdftoppmPath string `yaml:"pdftoppm_path"`
	PdfinfoPath  string `yaml:"pdfinfo_path"`
}

// DefaultOptions renders at 72 DPI and treats image pixels as points.
func DefaultOptions() Options {
	return Options{
		DPI:          72,
		ImageDPI:     72,
		PdftoppmPath: "pdftoppm",
		PdfinfoPath:  "pdfinfo",
	}
}

// Sniff detects the template format from its content.
func Sniff(data []byte) (Format, error) {
	if len(data) == 0 {
		return "", ErrEmptyTemplate
	}
	mt := mimetype.Detect(data)
	switch {
	case mt.Is("application/pdf"):
		return FormatPDF, nil
	case mt.Is("image/png"):
		return FormatPNG, nil
	case mt.Is("image/jpeg"):
		return FormatJPEG, nil
	case mt.Is("image/gif"):
		return FormatGIF, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, mt.String())
	}
}

// Renderer is the default Rasterizer.
type Renderer struct {
	opts   Options
	logger *zap.Logger
}

// New creates a Renderer. Zero option fields take their defaults.
func New(opts Options, logger *zap.Logger) *Renderer {
	def := DefaultOptions()
	if opts.DPI <= 0 {
		opts.DPI = def.DPI
	}
	if opts.ImageDPI <= 0 {
		opts.ImageDPI = def.ImageDPI
	}
	if opts.PdftoppmPath == "" {
		opts.PdftoppmPath = def.PdftoppmPath
	}
	if opts.PdfinfoPath == "" {
		opts.PdfinfoPath = def.PdfinfoPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{opts: opts, logger: logger.Named("raster")}
}

// Rasterize renders the first page of data.
func (r *Renderer) Rasterize(ctx context.Context, data []byte) (*Page, error) {
	format, err := Sniff(data)
	if err != nil {
		return nil, err
	}

	if format == FormatPDF {
		return r.rasterizePDF(ctx, data)
	}
	return r.decodeImage(data, format)
}

func (r *Renderer) decodeImage(data []byte, format Format) (*Page, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, ErrEmptyTemplate
	}

	scale := PointsPerInch / r.opts.ImageDPI
	r.logger.Debug("decoded image template",
		zap.String("format", string(format)),
		zap.Int("width", b.Dx()),
		zap.Int("height", b.Dy()))

	return &Page{
		Image:    img,
		WidthPt:  float64(b.Dx()) * scale,
		HeightPt: float64(b.Dy()) * scale,
		Format:   format,
		DPI:      r.opts.ImageDPI,
		Source:   data,
	}, nil
}

// Cached wraps a Rasterizer with a content-addressed page cache.
type Cached struct {
	next  Rasterizer
	cache *qimaging.TemplateCache[*Page]
}

// NewCached caches up to maxEntries pages rendered by next.
func NewCached(next Rasterizer, maxEntries int) *Cached {
	return &Cached{
		next:  next,
		cache: qimaging.NewTemplateCache[*Page](maxEntries),
	}
}

// Rasterize returns the cached page for identical bytes or renders it.
func (c *Cached) Rasterize(ctx context.Context, data []byte) (*Page, error) {
	key := qimaging.Key(data)
	if page, ok := c.cache.Get(key); ok {
		return page, nil
	}
	page, err := c.next.Rasterize(ctx, data)
	if err != nil {
		return nil, err
	}
	c.cache.Put(key, page)
	return page, nil
}

// Len reports the number of cached pages.
func (c *Cached) Len() int { return c.cache.Len() }
