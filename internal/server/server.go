package server

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ironsheep/qr-stamp/internal/batch"
	"github.com/ironsheep/qr-stamp/internal/config"
	"github.com/ironsheep/qr-stamp/internal/logging"
	"github.com/ironsheep/qr-stamp/internal/store"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Deps are the components the server is built from.
type Deps struct {
	Config   *config.Config
	Pipeline *batch.Pipeline
	Manager  *batch.Manager
	Store    *store.Store
	Logger   *zap.Logger
	Version  string
}

// Server handles HTTP requests.
type Server struct {
	cfg      *config.Config
	pipeline *batch.Pipeline
	manager  *batch.Manager
	store    *store.Store
	logger   *zap.Logger
	version  string
	engine   *gin.Engine
}

// New creates a server and registers its routes.
func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:      d.Config,
		pipeline: d.Pipeline,
		manager:  d.Manager,
		store:    d.Store,
		logger:   logger.Named("http"),
		version:  d.Version,
	}

	r := gin.New()
	r.Use(logging.Recovery(s.logger), logging.Gin(s.logger))
	r.MaxMultipartMemory = 8 << 20
	r.SetHTMLTemplate(template.Must(template.ParseFS(templatesFS, "templates/*.html")))

	r.GET("/", s.handleIndex)
	r.GET("/healthz", s.handleHealth)

	api := r.Group("/api")
	api.GET("", s.handleEndpoints)
	api.GET("/qr", s.handleQR)

	uploads := api.Group("", s.limitBody)
	uploads.POST("/detect", s.handleDetect)
	uploads.POST("/preview", s.handlePreview)
	uploads.POST("/jobs", s.handleCreateJob)

	api.GET("/jobs", s.handleListJobs)
	api.GET("/jobs/:id", s.handleGetJob)
	api.DELETE("/jobs/:id", s.handleCancelJob)
	api.GET("/jobs/:id/archive", s.handleArchive)

	s.engine = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on the configured port until ctx is cancelled, then shuts down
// the listener and the job manager.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	go s.pruneLoop(ctx)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	s.logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return s.manager.Shutdown(shutdownCtx)
}

// pruneLoop removes expired jobs once at start and then hourly.
func (s *Server) pruneLoop(ctx context.Context) {
	prune := func() {
		cutoff := time.Now().Add(-s.cfg.GetRetention())
		n, err := s.manager.Prune(ctx, cutoff)
		if err != nil {
			s.logger.Warn("job pruning failed", zap.Error(err))
			return
		}
		if n > 0 {
			s.logger.Info("pruned expired jobs", zap.Int("count", n))
		}
	}

	prune()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// limitBody caps request bodies at the configured upload size.
func (s *Server) limitBody(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes())
	c.Next()
}
