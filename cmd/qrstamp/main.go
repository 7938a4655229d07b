package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ironsheep/qr-stamp/internal/batch"
	"github.com/ironsheep/qr-stamp/internal/config"
	"github.com/ironsheep/qr-stamp/internal/imaging"
	"github.com/ironsheep/qr-stamp/internal/links"
	"github.com/ironsheep/qr-stamp/internal/logging"
	"github.com/ironsheep/qr-stamp/internal/server"
	"github.com/ironsheep/qr-stamp/internal/store"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "qrstamp",
	Short: "Stamp QR codes into the white space of a document template",
	Long: `qrstamp finds white areas on a template page (PDF or image), places a
QR code in the largest one and produces one document per link.

Run "qrstamp serve" for the web interface or "qrstamp generate" to build an
archive from the command line.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.Logging.Format)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web interface and job API",
	RunE:  runServe,
}

var detectCmd = &cobra.Command{
	Use:   "detect [template]",
	Short: "Print the white zones and the QR placement for a template",
	Args:  cobra.ExactArgs(1),
	RunE:  runDetect,
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Render one document per link into a zip archive",
	Long: `Renders the template once per link and writes the documents plus
report.csv into a zip archive.

Example:
  qrstamp generate --template flyer.pdf --links links.xlsx --out flyers.zip`,
	RunE: runGenerate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("qrstamp %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Git commit: %s\n", GitCommit)
	},
}

var (
	templatePath string
	linksPath    string
	outPath      string
	previewPath  string
	withCrops    bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "qrstamp.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	detectCmd.Flags().StringVar(&previewPath, "preview", "", "Write a PNG with the zones drawn to this path")
	detectCmd.Flags().BoolVar(&withCrops, "crops", false, "Include a base64 PNG crop of every zone")

	generateCmd.Flags().StringVarP(&templatePath, "template", "t", "", "Template PDF or image (required)")
	generateCmd.Flags().StringVarP(&linksPath, "links", "l", "", "Links file: .txt, .csv or .xlsx (required)")
	generateCmd.Flags().StringVarP(&outPath, "out", "o", "qrstamp.zip", "Output zip archive")
	_ = generateCmd.MarkFlagRequired("template")
	_ = generateCmd.MarkFlagRequired("links")

	rootCmd.AddCommand(serveCmd, detectCmd, generateCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	pipeline, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer st.Close()

	// Jobs interrupted by a previous shutdown will never finish
	if n, err := st.FailUnfinished(ctx, "interrupted by server restart"); err != nil {
		return err
	} else if n > 0 {
		logger.Warn("marked interrupted jobs as failed", zap.Int64("count", n))
	}

	runner := &batch.Runner{Pipeline: pipeline, Workers: cfg.Batch.Workers, Logger: logger}
	manager, err := batch.NewManager(runner, st, cfg.ArchiveDir(), logger)
	if err != nil {
		return err
	}

	logger.Info("starting qrstamp",
		zap.String("version", Version),
		zap.String("commit", GitCommit),
		zap.String("qr_source", cfg.QR.Source),
		zap.Bool("ocr", cfg.OCR.Enabled),
		zap.String("data_dir", cfg.Batch.DataDir))

	srv := server.New(server.Deps{
		Config:   cfg,
		Pipeline: pipeline,
		Manager:  manager,
		Store:    st,
		Logger:   logger,
		Version:  Version,
	})
	return srv.Run(ctx)
}

func runDetect(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read template: %w", err)
	}
	pipeline, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}

	a, err := pipeline.Analyze(ctx, data)
	if err != nil {
		return err
	}

	out := map[string]any{
		"template":      args[0],
		"page_width":    a.Page.WidthPt,
		"page_height":   a.Page.HeightPt,
		"zones":         a.Zones(),
		"count":         len(a.Zones()),
		"text_filtered": a.TextFiltered,
	}
	decision, err := a.Place(cfg.Placement)
	if err != nil {
		out["placement_error"] = err.Error()
	} else {
		out["placement"] = decision
	}

	if withCrops {
		crops, err := a.ZoneCrops(1)
		if err != nil {
			return err
		}
		out["crops"] = crops
	}

	if previewPath != "" {
		png, err := imaging.EncodePNG(a.Overlay(decision))
		if err != nil {
			return err
		}
		if err := os.WriteFile(previewPath, png, 0644); err != nil {
			return fmt.Errorf("failed to write preview: %w", err)
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	tpl, err := os.ReadFile(templatePath)
	if err != nil {
		return fmt.Errorf("failed to read template: %w", err)
	}
	linkData, err := os.ReadFile(linksPath)
	if err != nil {
		return fmt.Errorf("failed to read links: %w", err)
	}
	parsed, err := links.Parse(linksPath, linkData)
	if err != nil {
		return fmt.Errorf("%s: %w", linksPath, err)
	}
	for _, s := range parsed.Skipped {
		logger.Warn("skipped row", zap.Int("line", s.Line), zap.String("raw", s.Raw), zap.String("reason", s.Reason))
	}

	pipeline, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}
	runner := &batch.Runner{Pipeline: pipeline, Workers: cfg.Batch.Workers, Logger: logger}

	if dir := filepath.Dir(outPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	partial := outPath + ".part"
	f, err := os.Create(partial)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	job := &batch.Job{
		ID:           filepath.Base(outPath),
		TemplateName: filepath.Base(templatePath),
		Template:     tpl,
		Links:        parsed.Links,
		Skipped:      parsed.Skipped,
		Placement:    cfg.Placement,
	}
	report, err := runner.Run(ctx, job, f, func(done, total int, last batch.Result) {
		logger.Debug("rendered", zap.Int("done", done), zap.Int("total", total), zap.String("file", last.FileName))
	})
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close archive: %w", cerr)
	}
	if err != nil {
		os.Remove(partial)
		return err
	}
	if err := os.Rename(partial, outPath); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d ok, %d failed, %d skipped in %s\n",
		outPath, report.Succeeded, report.Failed, len(report.Skipped), report.Duration.Round(time.Millisecond))
	if report.Succeeded == 0 {
		return fmt.Errorf("all %d links failed", report.Failed)
	}
	return nil
}
