package ocr

import (
	"errors"
	"image"
)

// ErrUnavailable is returned when the binary was built without Tesseract.
var ErrUnavailable = errors.New("ocr support not compiled in")

// Word is a recognized word and its pixel bounds in the source image.
type Word struct {
	Text       string          `json:"text"`
	Confidence float64         `json:"confidence"`
	Box        image.Rectangle `json:"box"`
}

// Locator finds word boxes on page rasters.
type Locator struct {
	// Language is a Tesseract language code such as "eng" or "rus+eng".
	Language string

	// MinConfidence drops words below this score (0.0 to 1.0).
	MinConfidence float64

	// TessdataPrefix overrides the system tessdata directory when set.
	TessdataPrefix string
}

// NewLocator returns a Locator for language with a 0.5 confidence floor.
func NewLocator(language string) *Locator {
	if language == "" {
		language = "eng"
	}
	return &Locator{Language: language, MinConfidence: 0.5}
}

// filterWords keeps non-empty words at or above min confidence and offsets
// their boxes by origin.
func filterWords(words []Word, min float64, origin image.Point) []Word {
	kept := make([]Word, 0, len(words))
	for _, w := range words {
		if w.Text == "" || w.Confidence < min || w.Box.Empty() {
			continue
		}
		w.Box = w.Box.Add(origin)
		kept = append(kept, w)
	}
	return kept
}

// Boxes returns only the rectangles of words.
func Boxes(words []Word) []image.Rectangle {
	out := make([]image.Rectangle, len(words))
	for i, w := range words {
		out[i] = w.Box
	}
	return out
}
