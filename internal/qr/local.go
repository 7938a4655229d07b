package qr

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/skip2/go-qrcode"
)

// LocalSource renders codes in-process with skip2/go-qrcode.
type LocalSource struct {
	Recovery Recovery

	// QuietZone keeps the standard four-module white border.
	QuietZone bool

	Foreground color.Color
	Background color.Color
}

// NewLocalSource returns a black-on-white source with a quiet zone.
func NewLocalSource(level Recovery) *LocalSource {
	return &LocalSource{Recovery: level, QuietZone: true}
}

func (s *LocalSource) level() qrcode.RecoveryLevel {
	switch s.Recovery {
	case RecoveryLow:
		return qrcode.Low
	case RecoveryQuart:
		return qrcode.High
	case RecoveryHighest:
		return qrcode.Highest
	default:
		return qrcode.Medium
	}
}

// Image implements Source.
func (s *LocalSource) Image(ctx context.Context, content string, px int) (image.Image, error) {
	if err := Validate(content); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q, err := qrcode.New(content, s.level())
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code: %w", err)
	}
	q.DisableBorder = !s.QuietZone
	if s.Foreground != nil {
		q.ForegroundColor = s.Foreground
	}
	if s.Background != nil {
		q.BackgroundColor = s.Background
	}
	return q.Image(pixels(px)), nil
}
