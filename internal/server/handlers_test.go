package server

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/qr-stamp/internal/batch"
	"github.com/ironsheep/qr-stamp/internal/config"
	"github.com/ironsheep/qr-stamp/internal/placement"
	"github.com/ironsheep/qr-stamp/internal/store"
)

// blockingSource blocks until the context ends.
type blockingSource struct {
	started chan struct{}
	once    sync.Once
}

func (s *blockingSource) Image(ctx context.Context, content string, px int) (image.Image, error) {
	s.once.Do(func() { close(s.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

// brokenSource fails every render.
type brokenSource struct{}

func (brokenSource) Image(ctx context.Context, content string, px int) (image.Image, error) {
	return nil, errors.New("QR service returned 503 Service Unavailable")
}

func TestDetect(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(multipartRequest(t, "/api/detect", nil, upload{"template", "page.png", templatePNG(t)}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Format     string              `json:"format"`
		PageWidth  float64             `json:"page_width"`
		PageHeight float64             `json:"page_height"`
		Count      int                 `json:"count"`
		Placement  *placement.Decision `json:"placement"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	assert.Equal(t, "png", body.Format)
	assert.Equal(t, 400.0, body.PageWidth)
	assert.Equal(t, 300.0, body.PageHeight)
	assert.Equal(t, 1, body.Count)
	require.NotNil(t, body.Placement)
	assert.Equal(t, "zone", body.Placement.Source)
	assert.Equal(t, placement.Rect{X: 258, Y: 158, Size: 84}, body.Placement.Rect)
}

func TestDetect_Crops(t *testing.T) {
	env := newTestEnv(t, nil)

	fields := map[string]string{"crops": "true", "crop_scale": "0.5"}
	w := env.do(multipartRequest(t, "/api/detect", fields, upload{"template", "page.png", templatePNG(t)}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	crops := decodeJSON(t, w)["crops"].([]any)
	require.Len(t, crops, 1)
	crop := crops[0].(map[string]any)
	assert.Equal(t, float64(50), crop["width"])
	assert.Equal(t, "image/png", crop["mime_type"])

	fields["crop_scale"] = "0"
	w = env.do(multipartRequest(t, "/api/detect", fields, upload{"template", "page.png", templatePNG(t)}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDetect_Overrides(t *testing.T) {
	env := newTestEnv(t, nil)

	fields := map[string]string{"min_area_ratio": "0.5", "size": "50", "margin": "0"}
	w := env.do(multipartRequest(t, "/api/detect", fields, upload{"template", "page.png", templatePNG(t)}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeJSON(t, w)
	assert.Equal(t, float64(0), body["count"])
	p := body["placement"].(map[string]any)
	assert.Equal(t, "fallback", p["source"])
	assert.Equal(t, map[string]any{"x": 350.0, "y": 250.0, "size": 50.0}, p["rect"])
}

func TestDetect_NoZoneWithoutFallback(t *testing.T) {
	env := newTestEnv(t, nil)

	fields := map[string]string{"min_area_ratio": "0.5", "fallback": "none"}
	w := env.do(multipartRequest(t, "/api/detect", fields, upload{"template", "page.png", templatePNG(t)}))
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeJSON(t, w)
	assert.NotContains(t, body, "placement")
	assert.Equal(t, placement.ErrNoZone.Error(), body["placement_error"])
}

func TestDetect_BadRequests(t *testing.T) {
	env := newTestEnv(t, nil)
	tpl := upload{"template", "page.png", templatePNG(t)}

	tests := []struct {
		name   string
		fields map[string]string
		files  []upload
	}{
		{"missing template", nil, nil},
		{"empty template", nil, []upload{{"template", "empty.png", nil}}},
		{"unsupported template", nil, []upload{{"template", "notes.txt", []byte("hello there")}}},
		{"bad threshold", map[string]string{"white_threshold": "300"}, []upload{tpl}},
		{"threshold not a number", map[string]string{"white_threshold": "bright"}, []upload{tpl}},
		{"bad mode", map[string]string{"mode": "diagonal"}, []upload{tpl}},
		{"bad size", map[string]string{"size": "big"}, []upload{tpl}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(multipartRequest(t, "/api/detect", tt.fields, tt.files...))
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.NotEmpty(t, decodeJSON(t, w)["error"])
		})
	}
}

func TestPreview(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(multipartRequest(t, "/api/preview", nil, upload{"template", "page.png", templatePNG(t)}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "1", w.Header().Get("X-Zone-Count"))

	img, err := png.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, 400, img.Bounds().Dx())

	w = env.do(multipartRequest(t, "/api/preview", map[string]string{"max_width": "200"}, upload{"template", "page.png", templatePNG(t)}))
	require.Equal(t, http.StatusOK, w.Code)
	img, err = png.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 150, img.Bounds().Dy())

	w = env.do(multipartRequest(t, "/api/preview", map[string]string{"max_width": "-1"}, upload{"template", "page.png", templatePNG(t)}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQR(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.get("/api/qr?url=example.com/menu&size=128")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	img, err := png.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds().Dx(), img.Bounds().Dy())
	assert.GreaterOrEqual(t, img.Bounds().Dx(), 128)

	for _, path := range []string{
		"/api/qr",
		"/api/qr?url=ftp://example.com",
		"/api/qr?url=example.com&size=abc",
		"/api/qr?url=example.com&size=0",
	} {
		w := env.get(path)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func submitJob(t *testing.T, env *testEnv, fields map[string]string, files ...upload) map[string]any {
	t.Helper()
	w := env.do(multipartRequest(t, "/api/jobs", fields, files...))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	body := decodeJSON(t, w)
	assert.Equal(t, "/api/jobs/"+body["id"].(string), w.Header().Get("Location"))
	return body
}

func TestJobLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	csvLinks := upload{"links_file", "links.csv", []byte("name,url\nmenu,example.com/menu\nbroken,\n")}
	fields := map[string]string{"links": "https://example.org/a\nnot a link\n"}

	body := submitJob(t, env, fields, upload{"template", "page.png", templatePNG(t)}, csvLinks)
	id := body["id"].(string)
	assert.Equal(t, string(store.StatusQueued), body["status"])
	assert.Equal(t, float64(2), body["links"])
	assert.Len(t, body["skipped"], 2)

	env.manager.Wait()

	w := env.get("/api/jobs/" + id)
	require.Equal(t, http.StatusOK, w.Code)
	var job store.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, store.StatusDone, job.Status)
	assert.Equal(t, "page.png", job.TemplateName)
	assert.Equal(t, 2, job.LinkCount)
	assert.Equal(t, 2, job.Succeeded)
	assert.Equal(t, 0, job.Failed)

	w = env.get("/api/jobs/" + id + "/archive")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "qrstamp-"+id+".zip")

	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	require.Len(t, names, 3)
	assert.Equal(t, batch.ReportName, names[2])
	assert.True(t, strings.HasPrefix(names[0], "001_"), names[0])
	assert.True(t, strings.HasPrefix(names[1], "002_"), names[1])

	w = env.get("/api/jobs?limit=10")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeJSON(t, w)["count"])

	w = env.do(httptest.NewRequest(http.MethodDelete, "/api/jobs/"+id, nil))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateJob_Rejects(t *testing.T) {
	env := newTestEnv(t, nil, func(c *config.Config) { c.Batch.MaxLinks = 2 })
	tpl := upload{"template", "page.png", templatePNG(t)}

	w := env.do(multipartRequest(t, "/api/jobs", map[string]string{"links": "nope\n"}, tpl))
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeJSON(t, w)
	assert.Contains(t, body["error"], "no valid links")
	assert.Len(t, body["skipped"], 1)

	w = env.do(multipartRequest(t, "/api/jobs", map[string]string{"links": "a.com\nb.com\nc.com\n"}, tpl))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeJSON(t, w)["error"], "exceed the limit")

	w = env.do(multipartRequest(t, "/api/jobs", map[string]string{"links": "a.com\n"},
		upload{"template", "t.txt", []byte("plain text")}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(multipartRequest(t, "/api/jobs", map[string]string{"links": "a.com\n"},
		upload{"template", "broken.pdf", []byte("%PDF-1.4\n1 0 obj <<>> endobj\ntrailer <<>>\n%%EOF")}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeJSON(t, w)["error"], "cannot be imported")

	w = env.do(multipartRequest(t, "/api/jobs", map[string]string{"links": "a.com\n", "align": "middle"}, tpl))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.get("/api/jobs")
	assert.Equal(t, float64(0), decodeJSON(t, w)["count"])
}

func TestCancelJob(t *testing.T) {
	src := &blockingSource{started: make(chan struct{})}
	env := newTestEnv(t, src)

	body := submitJob(t, env, map[string]string{"links": "a.com\nb.com\n"}, upload{"template", "page.png", templatePNG(t)})
	id := body["id"].(string)

	select {
	case <-src.started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started rendering")
	}

	w := env.get("/api/jobs/" + id + "/archive")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(httptest.NewRequest(http.MethodDelete, "/api/jobs/"+id, nil))
	require.Equal(t, http.StatusAccepted, w.Code)
	env.manager.Wait()

	job, err := env.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCancelled, job.Status)

	w = env.get("/api/jobs/" + id + "/archive")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestArchive_AllLinksFailed(t *testing.T) {
	env := newTestEnv(t, brokenSource{})

	body := submitJob(t, env, map[string]string{"links": "a.com\nb.com\n"}, upload{"template", "page.png", templatePNG(t)})
	id := body["id"].(string)
	env.manager.Wait()

	job, err := env.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, job.Status)
	assert.Equal(t, 2, job.Failed)

	w := env.get("/api/jobs/" + id + "/archive")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, batch.ReportName, zr.File[0].Name)
}

func TestUnknownJob(t *testing.T) {
	env := newTestEnv(t, nil)

	assert.Equal(t, http.StatusNotFound, env.get("/api/jobs/nope").Code)
	assert.Equal(t, http.StatusNotFound, env.get("/api/jobs/nope/archive").Code)
	w := env.do(httptest.NewRequest(http.MethodDelete, "/api/jobs/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
