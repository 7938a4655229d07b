package qr

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeqown/go-qrcode/v2"
)

func isDark(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return (r+g+b)/3 < 0x8000
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("https://example.com"))
	assert.ErrorIs(t, Validate("   "), ErrEmptyContent)
	assert.ErrorIs(t, Validate(strings.Repeat("a", MaxContentBytes+1)), ErrContentTooLong)
	assert.NoError(t, Validate(strings.Repeat("a", MaxContentBytes)))
}

func TestParseRecovery(t *testing.T) {
	tests := map[string]Recovery{
		"":        RecoveryMedium,
		"L":       RecoveryLow,
		"quart":   RecoveryQuart,
		"H":       RecoveryHighest,
		" Medium": RecoveryMedium,
	}
	for in, want := range tests {
		got, err := ParseRecovery(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseRecovery("x")
	assert.Error(t, err)
}

func TestLocalSource(t *testing.T) {
	src := NewLocalSource(RecoveryMedium)

	img, err := src.Image(context.Background(), "https://example.com/a", 256)
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())
	assert.Equal(t, 256, img.Bounds().Dy())

	// Quiet zone keeps the corner white
	assert.False(t, isDark(img.At(0, 0)))

	src.QuietZone = false
	img, err = src.Image(context.Background(), "https://example.com/a", 256)
	require.NoError(t, err)
	assert.True(t, isDark(img.At(36, 36)), "finder pattern sits near the corner without a border")
}

func TestLocalSource_DefaultSize(t *testing.T) {
	img, err := NewLocalSource(RecoveryLow).Image(context.Background(), "x", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultPixels, img.Bounds().Dx())
}

func TestLocalSource_Errors(t *testing.T) {
	_, err := NewLocalSource(RecoveryLow).Image(context.Background(), "", 100)
	assert.ErrorIs(t, err, ErrEmptyContent)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewLocalSource(RecoveryLow).Image(ctx, "x", 100)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStyledSource(t *testing.T) {
	src := NewStyledSource(RecoveryQuart,
		color.RGBA{0, 0, 128, 255},
		color.RGBA{255, 255, 255, 255})
	src.TempDir = t.TempDir()

	img, err := src.Image(context.Background(), "https://example.com/styled", 300)
	require.NoError(t, err)
	assert.Equal(t, 300, img.Bounds().Dx())
	assert.Equal(t, 300, img.Bounds().Dy())

	var dark int
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y += 3 {
		for x := b.Min.X; x < b.Max.X; x += 3 {
			if isDark(img.At(x, y)) {
				dark++
			}
		}
	}
	assert.Greater(t, dark, 0)
}

func TestStyledSource_EvenModules(t *testing.T) {
	const content = "https://example.com/styled"
	src := NewStyledSource(RecoveryQuart, color.RGBA{0, 0, 0, 255}, color.RGBA{255, 255, 255, 255})
	src.TempDir = t.TempDir()

	img, err := src.Image(context.Background(), content, 300)
	require.NoError(t, err)
	require.Equal(t, 300, img.Bounds().Dx())

	qrc, err := qrcode.NewWith(content, qrcode.WithErrorCorrectionLevel(qrcode.ErrorCorrectionQuart))
	require.NoError(t, err)
	module := (300 - 2*src.Border) / qrc.Dimension()

	// The top-left finder pattern starts at the first dark pixel on the
	// diagonal and its top edge is seven modules wide.
	b := img.Bounds()
	start := -1
	for i := 0; i < b.Dx(); i++ {
		if isDark(img.At(b.Min.X+i, b.Min.Y+i)) {
			start = i
			break
		}
	}
	require.GreaterOrEqual(t, start, src.Border)

	run := 0
	for x := start; x < b.Dx() && isDark(img.At(b.Min.X+x, b.Min.Y+start)); x++ {
		run++
	}
	assert.Equal(t, 7*module, run)
}

func TestModuleWidth(t *testing.T) {
	assert.Equal(t, uint8(10), moduleWidth(250, 25))
	assert.Equal(t, uint8(1), moduleWidth(10, 25))
	assert.Equal(t, uint8(255), moduleWidth(100000, 21))
	assert.Equal(t, uint8(1), moduleWidth(100, 0))
}

func pngBytes(t *testing.T, size int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, size, size))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestRemoteSource(t *testing.T) {
	var gotQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.RawQuery)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes(t, 64))
	}))
	defer srv.Close()

	src := NewRemoteSource(srv.URL+"/qr?size={size}&data={data}", time.Second)
	img, err := src.Image(context.Background(), "https://example.com/?a=1&b=2", 64)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())

	q := gotQuery.Load().(string)
	assert.Contains(t, q, "size=64")
	assert.Contains(t, q, "data=https%3A%2F%2Fexample.com%2F%3Fa%3D1%26b%3D2")
}

func TestRemoteSource_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusServiceUnavailable)
		}},
		{"not an image", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>rate limited</html>"))
		}},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(tt.handler)
		_, err := NewRemoteSource(srv.URL+"/?d={data}", time.Second).Image(context.Background(), "x", 10)
		assert.Error(t, err, tt.name)
		srv.Close()
	}

	_, err := NewRemoteSource("http://example.invalid/static.png", time.Second).Image(context.Background(), "x", 10)
	assert.ErrorContains(t, err, "{data}")
}

func TestRemoteSource_DefaultTemplate(t *testing.T) {
	src := NewRemoteSource("", 0)
	assert.Equal(t, "https://api.qrserver.com/v1/create-qr-code/?size=128x128&data=hi+there",
		src.RequestURL("hi there", 128))
}

type stubSource struct {
	err   error
	calls int
}

func (s *stubSource) Image(ctx context.Context, content string, px int) (image.Image, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return image.NewGray(image.Rect(0, 0, px, px)), nil
}

func TestFallbackSource(t *testing.T) {
	primary := &stubSource{err: errors.New("offline")}
	secondary := &stubSource{}
	src := NewFallbackSource(primary, secondary, nil)

	img, err := src.Image(context.Background(), "x", 12)
	require.NoError(t, err)
	assert.Equal(t, 12, img.Bounds().Dx())
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls)

	// Content errors are not retried
	primary.err = ErrContentTooLong
	_, err = src.Image(context.Background(), "x", 12)
	assert.ErrorIs(t, err, ErrContentTooLong)
	assert.Equal(t, 1, secondary.calls)

	primary.err = nil
	_, err = src.Image(context.Background(), "x", 12)
	require.NoError(t, err)
	assert.Equal(t, 1, secondary.calls)
}
