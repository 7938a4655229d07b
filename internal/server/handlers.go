package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ironsheep/qr-stamp/internal/batch"
	"github.com/ironsheep/qr-stamp/internal/compose"
	"github.com/ironsheep/qr-stamp/internal/detection"
	"github.com/ironsheep/qr-stamp/internal/imaging"
	"github.com/ironsheep/qr-stamp/internal/links"
	"github.com/ironsheep/qr-stamp/internal/placement"
	"github.com/ironsheep/qr-stamp/internal/qr"
	"github.com/ironsheep/qr-stamp/internal/raster"
	"github.com/ironsheep/qr-stamp/internal/store"
)

const (
	defaultQRPixels  = 256
	maxQRPixels      = 2048
	defaultPreviewPx = 1200
)

// requestError marks client mistakes that map to 400.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// errorStatus maps an error to its HTTP status code.
func errorStatus(err error) int {
	var maxErr *http.MaxBytesError
	var reqErr *requestError
	switch {
	case errors.As(err, &maxErr), strings.Contains(err.Error(), "request body too large"):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, placement.ErrNoZone):
		return http.StatusUnprocessableEntity
	case errors.Is(err, raster.ErrToolMissing), errors.Is(err, batch.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, raster.ErrEmptyTemplate),
		errors.Is(err, raster.ErrUnsupportedFormat),
		errors.Is(err, compose.ErrUnreadablePDF),
		errors.Is(err, detection.ErrEmptyGrid),
		errors.Is(err, links.ErrNoLinks),
		errors.Is(err, qr.ErrEmptyContent),
		errors.Is(err, qr.ErrContentTooLong):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error body.
func (s *Server) fail(c *gin.Context, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// readUpload returns the name and contents of a multipart file field. ok is
// false when the field is absent.
func readUpload(c *gin.Context, field string) (name string, data []byte, ok bool, err error) {
	fh, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil, false, nil
		}
		return "", nil, false, err
	}
	f, err := fh.Open()
	if err != nil {
		return "", nil, false, fmt.Errorf("failed to open upload %s: %w", field, err)
	}
	defer f.Close()

	data, err = io.ReadAll(f)
	if err != nil {
		return "", nil, false, fmt.Errorf("failed to read upload %s: %w", field, err)
	}
	return fh.Filename, data, true, nil
}

// readTemplate reads the required template upload.
func readTemplate(c *gin.Context) (string, []byte, error) {
	name, data, ok, err := readUpload(c, "template")
	if err != nil {
		return "", nil, err
	}
	if !ok {
		return "", nil, badRequest("template file is required")
	}
	if len(data) == 0 {
		return "", nil, raster.ErrEmptyTemplate
	}
	return name, data, nil
}

// detectionOptions applies non-empty form overrides to the configured
// detection options. ok is false when no override was given.
func (s *Server) detectionOptions(c *gin.Context) (opts detection.Options, ok bool, err error) {
	opts = s.pipeline.Detection

	if v := strings.TrimSpace(c.PostForm("white_threshold")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, false, badRequest("white_threshold: %v", err)
		}
		opts.WhiteThreshold = n
		ok = true
	}

	floats := []struct {
		name string
		dst  *float64
	}{
		{"min_area_ratio", &opts.MinAreaRatio},
		{"max_area_ratio", &opts.MaxAreaRatio},
		{"min_aspect", &opts.MinAspect},
		{"max_aspect", &opts.MaxAspect},
	}
	for _, f := range floats {
		v := strings.TrimSpace(c.PostForm(f.name))
		if v == "" {
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, false, badRequest("%s: %v", f.name, err)
		}
		*f.dst = n
		ok = true
	}

	if err := opts.Validate(); err != nil {
		return opts, false, badRequest("%v", err)
	}
	return opts, ok, nil
}

// placementOptions binds placement form fields over the configured defaults.
func (s *Server) placementOptions(c *gin.Context) (placement.Options, error) {
	opts := s.cfg.Placement
	if err := c.ShouldBind(&opts); err != nil {
		return opts, badRequest("invalid placement: %v", err)
	}
	opts = opts.Normalize()
	if err := opts.Validate(); err != nil {
		return opts, badRequest("%v", err)
	}
	return opts, nil
}

// analyze reads the template and form options and runs zone detection.
func (s *Server) analyze(c *gin.Context) (*batch.Analysis, placement.Options, error) {
	_, data, err := readTemplate(c)
	if err != nil {
		return nil, placement.Options{}, err
	}
	det, custom, err := s.detectionOptions(c)
	if err != nil {
		return nil, placement.Options{}, err
	}
	opts, err := s.placementOptions(c)
	if err != nil {
		return nil, placement.Options{}, err
	}

	p := s.pipeline
	if custom {
		cp := *s.pipeline
		cp.Detection = det
		p = &cp
	}
	a, err := p.Analyze(c.Request.Context(), data)
	if err != nil {
		return nil, opts, err
	}
	return a, opts, nil
}

// handleIndex serves the upload form.
func (s *Server) handleIndex(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"Version":   s.version,
		"Placement": s.cfg.Placement.Normalize(),
		"Detection": s.pipeline.Detection,
		"MaxLinks":  s.cfg.Batch.MaxLinks,
	})
}

// handleHealth reports liveness and the number of running jobs.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"version":      s.version,
		"running_jobs": s.manager.Running(),
	})
}

// handleEndpoints returns the API catalog.
func (s *Server) handleEndpoints(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"endpoints": Endpoints()})
}

// handleDetect reports the page size, the zones and the placement decision.
func (s *Server) handleDetect(c *gin.Context) {
	a, opts, err := s.analyze(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := gin.H{
		"format":        a.Page.Format,
		"page_width":    a.Page.WidthPt,
		"page_height":   a.Page.HeightPt,
		"raster_width":  a.Detection.RasterWidth,
		"raster_height": a.Detection.RasterHeight,
		"white_pixels":  a.Detection.WhitePixels,
		"zones":         a.Zones(),
		"count":         len(a.Zones()),
		"text_filtered": a.TextFiltered,
	}
	decision, err := a.Place(opts)
	if err != nil {
		resp["placement_error"] = err.Error()
	} else {
		resp["placement"] = decision
	}

	if v, _ := strconv.ParseBool(c.PostForm("crops")); v {
		scale := 1.0
		if sv := c.PostForm("crop_scale"); sv != "" {
			scale, err = strconv.ParseFloat(sv, 64)
			if err != nil || scale <= 0 {
				s.fail(c, badRequest("crop_scale must be a positive number"))
				return
			}
		}
		crops, err := a.ZoneCrops(scale)
		if err != nil {
			s.fail(c, err)
			return
		}
		resp["crops"] = crops
	}
	c.JSON(http.StatusOK, resp)
}

// handlePreview renders the zone overlay as PNG.
func (s *Server) handlePreview(c *gin.Context) {
	a, opts, err := s.analyze(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	maxWidth := defaultPreviewPx
	if v := c.PostForm("max_width"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.fail(c, badRequest("max_width must be a positive integer"))
			return
		}
		maxWidth = n
	}

	decision, err := a.Place(opts)
	if err != nil {
		s.logger.Debug("preview without placement", zap.Error(err))
		decision = nil
	}

	data, err := imaging.EncodePNG(imaging.FitWidth(a.Overlay(decision), maxWidth))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("X-Zone-Count", strconv.Itoa(len(a.Zones())))
	c.Data(http.StatusOK, "image/png", data)
}

// handleQR renders a QR code for the url query parameter.
func (s *Server) handleQR(c *gin.Context) {
	link, err := links.Normalize(c.Query("url"))
	if err != nil {
		s.fail(c, badRequest("url: %v", err))
		return
	}

	size := defaultQRPixels
	if v := c.Query("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.fail(c, badRequest("size must be a positive integer"))
			return
		}
		size = min(n, maxQRPixels)
	}

	img, err := s.pipeline.QR.Image(c.Request.Context(), link, size)
	if err != nil {
		s.fail(c, err)
		return
	}
	data, err := imaging.EncodePNG(img)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/png", data)
}

// collectLinks merges the links file and the pasted links, renumbering the
// entries in submission order.
func (s *Server) collectLinks(c *gin.Context) (*links.Result, error) {
	merged := &links.Result{}
	appendResult := func(r *links.Result) {
		if r == nil {
			return
		}
		for _, e := range r.Links {
			e.Index = len(merged.Links) + 1
			merged.Links = append(merged.Links, e)
		}
		merged.Skipped = append(merged.Skipped, r.Skipped...)
	}

	name, data, ok, err := readUpload(c, "links_file")
	if err != nil {
		return nil, err
	}
	if ok {
		r, err := links.Parse(name, data)
		if err != nil && !errors.Is(err, links.ErrNoLinks) {
			return nil, badRequest("links file: %v", err)
		}
		appendResult(r)
	}

	if text := c.PostForm("links"); strings.TrimSpace(text) != "" {
		r, err := links.ParseText(strings.NewReader(text))
		if err != nil && !errors.Is(err, links.ErrNoLinks) {
			return nil, badRequest("links: %v", err)
		}
		appendResult(r)
	}

	if len(merged.Links) == 0 {
		return merged, links.ErrNoLinks
	}
	if limit := s.cfg.Batch.MaxLinks; limit > 0 && len(merged.Links) > limit {
		return merged, badRequest("%d links exceed the limit of %d", len(merged.Links), limit)
	}
	return merged, nil
}

// handleCreateJob validates the upload and starts a background job.
func (s *Server) handleCreateJob(c *gin.Context) {
	name, data, err := readTemplate(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	format, err := raster.Sniff(data)
	if err != nil {
		s.fail(c, err)
		return
	}
	if format == raster.FormatPDF {
		if err := compose.CheckPDF(data); err != nil {
			s.fail(c, err)
			return
		}
	}
	det, custom, err := s.detectionOptions(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	opts, err := s.placementOptions(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	parsed, err := s.collectLinks(c)
	if err != nil {
		if errors.Is(err, links.ErrNoLinks) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error(), "skipped": parsed.Skipped})
			return
		}
		s.fail(c, err)
		return
	}

	job := &batch.Job{
		TemplateName: name,
		Template:     data,
		Links:        parsed.Links,
		Skipped:      parsed.Skipped,
		Placement:    opts,
	}
	if custom {
		job.Detection = &det
	}

	rec, err := s.manager.Submit(job)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.Header("Location", "/api/jobs/"+rec.ID)
	c.JSON(http.StatusAccepted, gin.H{
		"id":      rec.ID,
		"status":  store.StatusQueued,
		"links":   len(parsed.Links),
		"skipped": parsed.Skipped,
	})
}

// handleListJobs returns recent jobs, newest first.
func (s *Server) handleListJobs(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.fail(c, badRequest("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	jobs, err := s.store.List(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

// handleGetJob returns one job.
func (s *Server) handleGetJob(c *gin.Context) {
	job, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// handleCancelJob cancels a running job.
func (s *Server) handleCancelJob(c *gin.Context) {
	id := c.Param("id")
	if s.manager.Cancel(id) {
		c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "cancelling"})
		return
	}

	job, err := s.store.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusConflict, gin.H{"error": "job is not running", "status": job.Status})
}

// handleArchive streams the zip archive of a finished job.
func (s *Server) handleArchive(c *gin.Context) {
	job, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	// Jobs where every link failed keep their archive for report.csv
	if !job.Status.Finished() || job.ArchivePath == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "archive not ready", "status": job.Status})
		return
	}
	if _, err := os.Stat(job.ArchivePath); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "archive no longer available"})
		return
	}
	c.FileAttachment(job.ArchivePath, "qrstamp-"+job.ID+".zip")
}
