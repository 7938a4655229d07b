package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/qr-stamp/internal/batch"
	"github.com/ironsheep/qr-stamp/internal/compose"
	"github.com/ironsheep/qr-stamp/internal/config"
	"github.com/ironsheep/qr-stamp/internal/detection"
	"github.com/ironsheep/qr-stamp/internal/imaging"
	"github.com/ironsheep/qr-stamp/internal/links"
	"github.com/ironsheep/qr-stamp/internal/placement"
	"github.com/ironsheep/qr-stamp/internal/qr"
	"github.com/ironsheep/qr-stamp/internal/raster"
	"github.com/ironsheep/qr-stamp/internal/store"
)

type testEnv struct {
	server  *Server
	manager *batch.Manager
	store   *store.Store
	cfg     *config.Config
}

func newTestEnv(t *testing.T, src qr.Source, configure ...func(*config.Config)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Batch.DataDir = t.TempDir()
	for _, fn := range configure {
		fn(cfg)
	}

	st, err := store.Open(cfg.DatabasePath())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	if src == nil {
		src = qr.NewLocalSource(qr.RecoveryMedium)
	}
	p := &batch.Pipeline{
		Rasterizer: raster.New(raster.Options{}, nil),
		Detection:  detection.DefaultOptions(),
		Brightness: imaging.BrightnessMean,
		QR:         src,
		Composer:   compose.New(72, nil),
	}
	m, err := batch.NewManager(&batch.Runner{Pipeline: p, Workers: 2}, st, cfg.ArchiveDir(), nil)
	require.NoError(t, err)
	t.Cleanup(m.Wait)

	s := New(Deps{Config: cfg, Pipeline: p, Manager: m, Store: st, Version: "test"})
	return &testEnv{server: s, manager: m, store: st, cfg: cfg}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, path, nil))
}

// templatePNG is a 400x300 gray page with a 100x100 white square at (250,150).
func templatePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 400, 300))
	for y := 0; y < 300; y++ {
		for x := 0; x < 400; x++ {
			img.Set(x, y, color.RGBA{200, 200, 200, 255})
		}
	}
	for y := 150; y < 250; y++ {
		for x := 250; x < 350; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type upload struct {
	field string
	name  string
	data  []byte
}

// multipartRequest builds a POST with form fields and file uploads.
func multipartRequest(t *testing.T, path string, fields map[string]string, files ...upload) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = fw.Write(f.data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.get("/healthz")
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeJSON(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, float64(0), body["running_jobs"])
}

func TestIndex(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.get("/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")

	html := w.Body.String()
	assert.Contains(t, html, `name="template"`)
	assert.Contains(t, html, `name="links_file"`)
	assert.Contains(t, html, `value="245"`)
	assert.Contains(t, html, `<option value="auto" selected>`)
}

func TestEndpointsCoverRoutes(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.get("/api")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Endpoints []Endpoint `json:"endpoints"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	catalog := make(map[string]bool)
	for _, e := range body.Endpoints {
		catalog[e.Method+" "+e.Path] = true
		assert.NotEmpty(t, e.Description, e.Path)
	}

	for _, r := range env.server.engine.Routes() {
		if r.Path == "/" || r.Path == "/api" {
			continue
		}
		assert.True(t, catalog[r.Method+" "+r.Path], "route %s %s missing from catalog", r.Method, r.Path)
	}
}

func TestUploadTooLarge(t *testing.T) {
	env := newTestEnv(t, nil, func(c *config.Config) { c.Server.MaxUploadMB = 1 })

	big := bytes.Repeat([]byte{0}, 2<<20)
	w := env.do(multipartRequest(t, "/api/detect", nil, upload{"template", "big.png", big}))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())
	assert.Contains(t, decodeJSON(t, w), "error")
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{badRequest("bad"), http.StatusBadRequest},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
		{fmt.Errorf("wrapped: %w", store.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("template: %w", placement.ErrNoZone), http.StatusUnprocessableEntity},
		{raster.ErrToolMissing, http.StatusServiceUnavailable},
		{batch.ErrShuttingDown, http.StatusServiceUnavailable},
		{raster.ErrUnsupportedFormat, http.StatusBadRequest},
		{raster.ErrEmptyTemplate, http.StatusBadRequest},
		{fmt.Errorf("compose: %w", compose.ErrUnreadablePDF), http.StatusBadRequest},
		{links.ErrNoLinks, http.StatusBadRequest},
		{qr.ErrContentTooLong, http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorStatus(tt.err), tt.err.Error())
	}
}

func TestErrorBodyShape(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.get("/api/jobs/does-not-exist")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "application/json"))
	assert.Contains(t, decodeJSON(t, w)["error"], store.ErrNotFound.Error())
}
