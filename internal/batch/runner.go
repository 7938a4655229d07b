package batch

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ironsheep/qr-stamp/internal/detection"
	"github.com/ironsheep/qr-stamp/internal/links"
	"github.com/ironsheep/qr-stamp/internal/placement"
)

// ReportName is the name of the CSV summary inside each archive.
const ReportName = "report.csv"

// Job is one batch request.
type Job struct {
	ID           string
	TemplateName string
	Template     []byte
	Links        []links.Entry
	Skipped      []links.Skipped
	Placement    placement.Options

	// Detection overrides the pipeline's detection options when set.
	Detection *detection.Options
}

// Result is the outcome for one link.
type Result struct {
	Index    int    `json:"index"`
	Link     string `json:"link"`
	FileName string `json:"file_name"`
	Error    string `json:"error,omitempty"`
}

// OK reports whether the document was written.
func (r Result) OK() bool { return r.Error == "" }

// Report summarizes a finished run.
type Report struct {
	JobID     string              `json:"job_id"`
	Placement *placement.Decision `json:"placement"`
	Zones     int                 `json:"zones"`
	Results   []Result            `json:"results"`
	Skipped   []links.Skipped     `json:"skipped"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
	Duration  time.Duration       `json:"duration"`
}

// ProgressFunc is called once per link, in link order, from a single
// goroutine.
type ProgressFunc func(done, total int, last Result)

// Runner renders jobs with a bounded number of workers.
type Runner struct {
	Pipeline *Pipeline
	Workers  int

	// Window caps rendered documents held ahead of the archive writer.
	// Zero means twice the worker count.
	Window int

	Logger *zap.Logger
}

// window is how many documents may be in flight or buffered at once.
func (r *Runner) window(workers int) int {
	if r.Window > 0 {
		return max(r.Window, workers)
	}
	return 2 * workers
}

type slot struct {
	buf  bytes.Buffer
	err  error
	done chan struct{}
}

// Run renders every link of job and writes the documents plus report.csv to
// archive as a zip. Template and placement errors abort the job; per-link
// errors are recorded in the report. Cancelling ctx aborts the job.
func (r *Runner) Run(ctx context.Context, job *Job, archive io.Writer, progress ProgressFunc) (*Report, error) {
	start := time.Now()
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("job", job.ID))

	if len(job.Links) == 0 {
		return nil, links.ErrNoLinks
	}

	pipeline := r.Pipeline
	if job.Detection != nil {
		p := *r.Pipeline
		p.Detection = *job.Detection
		pipeline = &p
	}

	analysis, err := pipeline.Analyze(ctx, job.Template)
	if err != nil {
		return nil, fmt.Errorf("template %q: %w", job.TemplateName, err)
	}
	decision, err := analysis.Place(job.Placement)
	if err != nil {
		return nil, fmt.Errorf("template %q: %w", job.TemplateName, err)
	}
	logger.Info("placement decided",
		zap.String("source", decision.Source),
		zap.Int("zone", decision.ZoneIndex),
		zap.Float64("x", decision.Rect.X),
		zap.Float64("y", decision.Rect.Y),
		zap.Float64("size", decision.Rect.Size))

	slots := make([]*slot, len(job.Links))
	for i := range slots {
		slots[i] = &slot{done: make(chan struct{})}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := r.Workers
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(workers)

	// Finished documents wait in memory until the writer reaches them, so
	// launches stay within a fixed window ahead of the writer.
	window := make(chan struct{}, r.window(workers))

	launched := make(chan struct{})
	go func() {
		defer close(launched)
		for i, entry := range job.Links {
			select {
			case window <- struct{}{}:
			case <-gctx.Done():
				return
			}
			s := slots[i]
			g.Go(func() error {
				defer close(s.done)
				s.err = pipeline.Render(gctx, analysis, decision.Rect, entry.URL, &s.buf)
				return gctx.Err()
			})
		}
	}()

	abort := func(err error) (*Report, error) {
		cancel()
		<-launched
		_ = g.Wait()
		return nil, err
	}

	zw := zip.NewWriter(archive)
	report := &Report{
		JobID:     job.ID,
		Placement: decision,
		Zones:     len(analysis.Zones()),
		Results:   make([]Result, 0, len(job.Links)),
		Skipped:   job.Skipped,
	}

	for i, entry := range job.Links {
		s := slots[i]
		select {
		case <-s.done:
		case <-gctx.Done():
			return abort(fmt.Errorf("job cancelled: %w", context.Cause(gctx)))
		}

		res := Result{Index: entry.Index, Link: entry.URL, FileName: links.FileName(entry.Index, entry.URL)}
		if s.err != nil {
			if ctx.Err() != nil {
				return abort(fmt.Errorf("job cancelled: %w", ctx.Err()))
			}
			res.Error = s.err.Error()
			report.Failed++
			logger.Warn("link failed", zap.Int("index", entry.Index), zap.String("link", entry.URL), zap.Error(s.err))
		} else {
			if err := writeEntry(zw, res.FileName, s.buf.Bytes()); err != nil {
				return abort(err)
			}
			report.Succeeded++
		}
		s.buf = bytes.Buffer{}
		<-window

		report.Results = append(report.Results, res)
		if progress != nil {
			progress(i+1, len(job.Links), res)
		}
	}

	<-launched
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("job cancelled: %w", err)
	}

	var csvBuf bytes.Buffer
	if err := WriteCSV(&csvBuf, report); err != nil {
		return nil, err
	}
	if err := writeEntry(zw, ReportName, csvBuf.Bytes()); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}

	report.Duration = time.Since(start)
	logger.Info("job finished",
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", len(report.Skipped)),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to add %s to archive: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write %s to archive: %w", name, err)
	}
	return nil
}

// WriteCSV writes one row per link and per skipped input row.
func WriteCSV(w io.Writer, report *Report) error {
	cw := csv.NewWriter(w)
	rows := [][]string{{"index", "link", "file", "status", "error"}}
	for _, r := range report.Results {
		status, file := "ok", r.FileName
		if !r.OK() {
			status, file = "failed", ""
		}
		rows = append(rows, []string{strconv.Itoa(r.Index), r.Link, file, status, r.Error})
	}
	for _, s := range report.Skipped {
		rows = append(rows, []string{"", s.Raw, "", "skipped", fmt.Sprintf("line %d: %s", s.Line, s.Reason)})
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
