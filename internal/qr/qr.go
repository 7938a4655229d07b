// Package qr produces QR code images for links.
//
// Several sources are available: LocalSource renders with skip2/go-qrcode,
// StyledSource renders with yeqown/go-qrcode and supports colours, and
// RemoteSource downloads an image from an HTTP QR service. FallbackSource
// chains two of them so that a failing download falls back to local
// rendering.
package qr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
)

// MaxContentBytes is the byte capacity of a version 40 code at the lowest
// recovery level.
const MaxContentBytes = 2953

var (
	// ErrEmptyContent is returned for blank content.
	ErrEmptyContent = errors.New("qr content is empty")

	// ErrContentTooLong is returned when content exceeds MaxContentBytes.
	ErrContentTooLong = errors.New("qr content too long")
)

// Source renders content as a square image roughly px pixels wide.
type Source interface {
	Image(ctx context.Context, content string, px int) (image.Image, error)
}

// Recovery is an error correction level name.
type Recovery string

const (
	RecoveryLow     Recovery = "low"
	RecoveryMedium  Recovery = "medium"
	RecoveryQuart   Recovery = "quart"
	RecoveryHighest Recovery = "highest"
)

// ParseRecovery accepts the level names plus the single letters L, M, Q and H.
func ParseRecovery(s string) (Recovery, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "m", "medium":
		return RecoveryMedium, nil
	case "l", "low":
		return RecoveryLow, nil
	case "q", "quart", "high":
		return RecoveryQuart, nil
	case "h", "highest":
		return RecoveryHighest, nil
	default:
		return "", fmt.Errorf("unknown recovery level: %q", s)
	}
}

// Validate checks that content can be encoded.
func Validate(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if len(content) > MaxContentBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrContentTooLong, len(content), MaxContentBytes)
	}
	return nil
}

// DefaultPixels is used when a caller passes a non-positive size.
const DefaultPixels = 512

func pixels(px int) int {
	if px <= 0 {
		return DefaultPixels
	}
	return px
}
