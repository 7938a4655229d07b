package raster

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"

	"go.uber.org/zap"
)

var (
	pageSizeRe = regexp.MustCompile(`(?m)^Page size:\s+([0-9.]+) x ([0-9.]+) pts`)
	pageRotRe  = regexp.MustCompile(`(?m)^Page rot:\s+(-?[0-9]+)`)
)

// rasterizePDF renders page 1 with pdftoppm and measures it with pdfinfo.
func (r *Renderer) rasterizePDF(ctx context.Context, data []byte) (*Page, error) {
	pdftoppm, err := exec.LookPath(r.opts.PdftoppmPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrToolMissing, r.opts.PdftoppmPath, err)
	}

	dir, err := os.MkdirTemp("", "qrstamp-raster-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "template.pdf")
	if err := os.WriteFile(input, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write template: %w", err)
	}

	prefix := filepath.Join(dir, "page")
	dpi := strconv.FormatFloat(r.opts.DPI, 'f', -1, 64)
	cmd := exec.CommandContext(ctx, pdftoppm,
		"-f", "1", "-l", "1",
		"-r", dpi,
		"-png", "-singlefile",
		input, prefix)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("pdftoppm failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}

	f, err := os.Open(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("failed to open rendered page: %w", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode rendered page: %w", err)
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, ErrEmptyTemplate
	}

	// Pixel-derived size is the fallback when pdfinfo is unavailable
	widthPt := float64(b.Dx()) * PointsPerInch / r.opts.DPI
	heightPt := float64(b.Dy()) * PointsPerInch / r.opts.DPI

	if w, h, err := r.pageSize(ctx, input); err == nil {
		widthPt, heightPt = w, h
	} else {
		r.logger.Warn("pdfinfo unavailable, deriving page size from raster", zap.Error(err))
	}

	r.logger.Debug("rendered pdf template",
		zap.Int("width_px", b.Dx()),
		zap.Int("height_px", b.Dy()),
		zap.Float64("width_pt", widthPt),
		zap.Float64("height_pt", heightPt))

	return &Page{
		Image:    img,
		WidthPt:  widthPt,
		HeightPt: heightPt,
		Format:   FormatPDF,
		DPI:      r.opts.DPI,
		Source:   data,
	}, nil
}

// pageSize runs pdfinfo on path and returns the displayed page size.
func (r *Renderer) pageSize(ctx context.Context, path string) (float64, float64, error) {
	pdfinfo, err := exec.LookPath(r.opts.PdfinfoPath)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %s", ErrToolMissing, r.opts.PdfinfoPath)
	}
	out, err := exec.CommandContext(ctx, pdfinfo, path).Output()
	if err != nil {
		return 0, 0, fmt.Errorf("pdfinfo failed: %w", err)
	}
	return parsePdfinfo(out)
}

// parsePdfinfo extracts the page size in points from pdfinfo output,
// swapping width and height for pages rotated by 90 or 270 degrees.
func parsePdfinfo(out []byte) (float64, float64, error) {
	m := pageSizeRe.FindSubmatch(out)
	if m == nil {
		return 0, 0, fmt.Errorf("page size not found in pdfinfo output")
	}
	w, err := strconv.ParseFloat(string(m[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid page width: %w", err)
	}
	h, err := strconv.ParseFloat(string(m[2]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid page height: %w", err)
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("invalid page size %gx%g", w, h)
	}

	if rm := pageRotRe.FindSubmatch(out); rm != nil {
		rot, _ := strconv.Atoi(string(rm[1]))
		rot = ((rot % 360) + 360) % 360
		if rot == 90 || rot == 270 {
			w, h = h, w
		}
	}

	return w, h, nil
}
