package qr

import (
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/yeqown/go-qrcode/v2"
	"github.com/yeqown/go-qrcode/writer/standard"
)

// StyledSource renders codes with yeqown/go-qrcode, which supports colours
// and a configurable border.
type StyledSource struct {
	Recovery   Recovery
	Foreground color.RGBA
	Background color.RGBA

	// Border is the quiet zone width in pixels.
	Border int

	// TempDir holds the intermediate PNG; empty means os.TempDir().
	TempDir string
}

// NewStyledSource returns a source drawing fg on bg.
func NewStyledSource(level Recovery, fg, bg color.RGBA) *StyledSource {
	return &StyledSource{Recovery: level, Foreground: fg, Background: bg, Border: 20}
}

func (s *StyledSource) level() qrcode.EncodeOption {
	switch s.Recovery {
	case RecoveryLow:
		return qrcode.WithErrorCorrectionLevel(qrcode.ErrorCorrectionLow)
	case RecoveryQuart:
		return qrcode.WithErrorCorrectionLevel(qrcode.ErrorCorrectionQuart)
	case RecoveryHighest:
		return qrcode.WithErrorCorrectionLevel(qrcode.ErrorCorrectionHighest)
	default:
		return qrcode.WithErrorCorrectionLevel(qrcode.ErrorCorrectionMedium)
	}
}

// Image implements Source. The writer only targets files, so the code is
// written to a temporary PNG and decoded. Modules get a whole number of
// pixels and the remainder pads the quiet zone; the code is only resampled
// when px is too small for one pixel per module.
func (s *StyledSource) Image(ctx context.Context, content string, px int) (image.Image, error) {
	if err := Validate(content); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	px = pixels(px)

	qrc, err := qrcode.NewWith(content, s.level())
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}

	dir := s.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	tmpFile := filepath.Join(dir, "qr-"+uuid.NewString()+".png")
	defer os.Remove(tmpFile)

	w, err := standard.New(tmpFile,
		standard.WithQRWidth(moduleWidth(px-2*s.Border, qrc.Dimension())),
		standard.WithBorderWidth(s.Border),
		standard.WithBgColor(s.Background),
		standard.WithFgColor(s.Foreground),
		standard.WithBuiltinImageEncoder(standard.PNG_FORMAT),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR writer: %w", err)
	}
	if err := qrc.Save(w); err != nil {
		return nil, fmt.Errorf("failed to write QR code: %w", err)
	}

	img, err := imaging.Open(tmpFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read QR image: %w", err)
	}
	switch size := img.Bounds().Dx(); {
	case size < px:
		img = imaging.PasteCenter(imaging.New(px, px, s.Background), img)
	case size > px:
		img = imaging.Resize(img, px, px, imaging.NearestNeighbor)
	}
	return img, nil
}

// moduleWidth picks the per-module pixel width closest to px without going
// over, within the writer's uint8 range.
func moduleWidth(px, dimension int) uint8 {
	if dimension <= 0 {
		return 1
	}
	w := px / dimension
	switch {
	case w < 1:
		return 1
	case w > 255:
		return 255
	}
	return uint8(w)
}
