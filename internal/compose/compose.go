// Package compose writes the finished document: the template page with a QR
// code drawn on top.
package compose

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/signintech/gopdf"
	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/ironsheep/qr-stamp/internal/placement"
	"github.com/ironsheep/qr-stamp/internal/raster"
)

// DefaultQRDPI is the resolution the QR bitmap is embedded at.
const DefaultQRDPI = 300

// ErrUnreadablePDF means the PDF importer could not parse a template that
// the rasterizer accepted.
var ErrUnreadablePDF = errors.New("template PDF cannot be imported")

// Composer writes one-page PDFs.
type Composer struct {
	// QRDPI sets the pixel density of the embedded QR bitmap.
	QRDPI  float64
	logger *zap.Logger
}

// New returns a Composer. A nil logger disables logging.
func New(qrDPI float64, logger *zap.Logger) *Composer {
	if qrDPI <= 0 {
		qrDPI = DefaultQRDPI
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{QRDPI: qrDPI, logger: logger}
}

// QRPixels is the bitmap edge length used for a code size points wide.
func (c *Composer) QRPixels(size float64) int {
	px := int(size / raster.PointsPerInch * c.QRDPI)
	if px < 1 {
		px = 1
	}
	return px
}

// Compose writes page with qr drawn at rect to w. PDF templates are
// imported as vector pages; image templates become the page background.
func (c *Composer) Compose(w io.Writer, page *raster.Page, qr image.Image, rect placement.Rect) error {
	if page == nil || page.WidthPt <= 0 || page.HeightPt <= 0 {
		return errors.New("compose: page has no size")
	}
	if qr == nil {
		return errors.New("compose: missing QR image")
	}
	if rect.Size <= 0 {
		return fmt.Errorf("compose: invalid QR size %g", rect.Size)
	}

	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: gopdf.Rect{W: page.WidthPt, H: page.HeightPt}})
	pdf.AddPage()

	switch page.Format {
	case raster.FormatPDF:
		tpl, err := importPage(&pdf, page.Source)
		if err != nil {
			return fmt.Errorf("compose: %w", err)
		}
		pdf.UseImportedTemplate(tpl, 0, 0, page.WidthPt, page.HeightPt)
	default:
		if err := pdf.ImageFrom(page.Image, 0, 0, &gopdf.Rect{W: page.WidthPt, H: page.HeightPt}); err != nil {
			return fmt.Errorf("compose: failed to draw template: %w", err)
		}
	}

	scaled := ScaleQR(qr, c.QRPixels(rect.Size))
	if err := pdf.ImageFrom(scaled, rect.X, rect.Y, &gopdf.Rect{W: rect.Size, H: rect.Size}); err != nil {
		return fmt.Errorf("compose: failed to draw QR code: %w", err)
	}

	cw := &countingWriter{w: w}
	if err := pdf.Write(cw); err != nil {
		return fmt.Errorf("compose: failed to write pdf: %w", err)
	}
	if cw.err != nil {
		return fmt.Errorf("compose: failed to write pdf: %w", cw.err)
	}

	c.logger.Debug("composed document",
		zap.String("template", string(page.Format)),
		zap.Float64("qr_x", rect.X),
		zap.Float64("qr_y", rect.Y),
		zap.Float64("qr_size", rect.Size),
		zap.Int64("bytes", cw.n))
	return nil
}

// CheckPDF reports whether the first page of data can be imported as a
// vector template.
func CheckPDF(data []byte) error {
	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()
	_, err := importPage(&pdf, data)
	return err
}

// importPage imports page 1 of src. The importer panics on malformed
// input, so the panic is turned into ErrUnreadablePDF.
func importPage(pdf *gopdf.GoPdf, src []byte) (tpl int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrUnreadablePDF, r)
		}
	}()
	var rs io.ReadSeeker = bytes.NewReader(src)
	tpl = pdf.ImportPageStream(&rs, 1, "/MediaBox")
	return tpl, nil
}

// countingWriter counts bytes and keeps the first write error, which the
// PDF writer does not return.
type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}

// ScaleQR resizes img to px square with nearest-neighbour sampling so module
// edges stay sharp.
func ScaleQR(img image.Image, px int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, px, px))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}
