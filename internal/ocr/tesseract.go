//go:build cgo

package ocr

import (
	"context"
	"fmt"
	"image"

	"github.com/otiai10/gosseract/v2"

	qrimaging "github.com/ironsheep/qr-stamp/internal/imaging"
)

// Recognize runs word-level OCR on img and returns words that pass the
// confidence filter. Boxes are in img's coordinate space.
func (l *Locator) Recognize(ctx context.Context, img image.Image) ([]Word, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := qrimaging.EncodePNG(img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image for ocr: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if l.TessdataPrefix != "" {
		if err := client.SetTessdataPrefix(l.TessdataPrefix); err != nil {
			return nil, fmt.Errorf("failed to set tessdata path: %w", err)
		}
	}
	if err := client.SetLanguage(l.Language); err != nil {
		return nil, fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("OCR failed: %w", err)
	}

	words := make([]Word, 0, len(boxes))
	for _, box := range boxes {
		words = append(words, Word{
			Text:       box.Word,
			Confidence: float64(box.Confidence) / 100.0,
			Box:        box.Box,
		})
	}
	return filterWords(words, l.MinConfidence, img.Bounds().Min), nil
}

// Words implements placement.WordLocator.
func (l *Locator) Words(ctx context.Context, img image.Image) ([]image.Rectangle, error) {
	words, err := l.Recognize(ctx, img)
	if err != nil {
		return nil, err
	}
	return Boxes(words), nil
}
