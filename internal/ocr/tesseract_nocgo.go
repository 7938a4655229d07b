//go:build !cgo

package ocr

import (
	"context"
	"image"
)

// Recognize always fails without CGO.
func (l *Locator) Recognize(ctx context.Context, img image.Image) ([]Word, error) {
	return nil, ErrUnavailable
}

// Words always fails without CGO.
func (l *Locator) Words(ctx context.Context, img image.Image) ([]image.Rectangle, error) {
	return nil, ErrUnavailable
}
