package ocr

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// createImageWithText renders text with basicfont and scales it up so
// Tesseract has enough pixels per glyph.
func createImageWithText(text string, scale int) *image.RGBA {
	width := len(text)*7 + 40
	height := 40

	small := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(small, small.Bounds(), image.White, image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  small,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(20), Y: fixed.I(25)},
	}
	d.DrawString(text)

	big := image.NewRGBA(image.Rect(0, 0, width*scale, height*scale))
	for y := 0; y < height*scale; y++ {
		for x := 0; x < width*scale; x++ {
			big.Set(x, y, small.At(x/scale, y/scale))
		}
	}
	return big
}

func TestNewLocator(t *testing.T) {
	l := NewLocator("")
	assert.Equal(t, "eng", l.Language)
	assert.Equal(t, 0.5, l.MinConfidence)

	assert.Equal(t, "rus+eng", NewLocator("rus+eng").Language)
}

func TestFilterWords(t *testing.T) {
	words := []Word{
		{Text: "Name", Confidence: 0.9, Box: image.Rect(0, 0, 10, 5)},
		{Text: "", Confidence: 0.9, Box: image.Rect(0, 0, 10, 5)},
		{Text: "~", Confidence: 0.2, Box: image.Rect(0, 0, 10, 5)},
		{Text: "x", Confidence: 0.9, Box: image.Rectangle{}},
	}

	kept := filterWords(words, 0.5, image.Pt(100, 50))
	require.Len(t, kept, 1)
	assert.Equal(t, "Name", kept[0].Text)
	assert.Equal(t, image.Rect(100, 50, 110, 55), kept[0].Box)
}

func TestBoxes(t *testing.T) {
	words := []Word{
		{Box: image.Rect(1, 2, 3, 4)},
		{Box: image.Rect(5, 6, 7, 8)},
	}
	assert.Equal(t, []image.Rectangle{image.Rect(1, 2, 3, 4), image.Rect(5, 6, 7, 8)}, Boxes(words))
	assert.Empty(t, Boxes(nil))
}

func TestLocator_Words(t *testing.T) {
	img := createImageWithText("HELLO WORLD", 4)

	l := NewLocator("eng")
	l.MinConfidence = 0
	boxes, err := l.Words(context.Background(), img)
	if err != nil {
		t.Skipf("tesseract unavailable: %v", err)
	}
	if len(boxes) == 0 {
		t.Skip("tesseract found no words in rendered text")
	}

	for _, b := range boxes {
		assert.True(t, b.In(img.Bounds()), "box %v outside image", b)
	}
}

func TestLocator_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLocator("eng").Words(ctx, image.NewRGBA(image.Rect(0, 0, 10, 10)))
	assert.Error(t, err)
}
