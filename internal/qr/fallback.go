package qr

import (
	"context"
	"errors"
	"image"

	"go.uber.org/zap"
)

// FallbackSource tries Primary and uses Secondary when it fails.
type FallbackSource struct {
	Primary   Source
	Secondary Source
	Logger    *zap.Logger
}

// NewFallbackSource chains primary and secondary.
func NewFallbackSource(primary, secondary Source, logger *zap.Logger) *FallbackSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackSource{Primary: primary, Secondary: secondary, Logger: logger}
}

// Image implements Source. Content errors are returned without retrying
// because the secondary would reject them too.
func (s *FallbackSource) Image(ctx context.Context, content string, px int) (image.Image, error) {
	img, err := s.Primary.Image(ctx, content, px)
	if err == nil {
		return img, nil
	}
	if errors.Is(err, ErrEmptyContent) || errors.Is(err, ErrContentTooLong) || ctx.Err() != nil {
		return nil, err
	}

	s.Logger.Warn("primary QR source failed, falling back", zap.Error(err))
	return s.Secondary.Image(ctx, content, px)
}
