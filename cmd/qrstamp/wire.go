package main

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ironsheep/qr-stamp/internal/batch"
	"github.com/ironsheep/qr-stamp/internal/compose"
	"github.com/ironsheep/qr-stamp/internal/config"
	"github.com/ironsheep/qr-stamp/internal/imaging"
	"github.com/ironsheep/qr-stamp/internal/ocr"
	"github.com/ironsheep/qr-stamp/internal/qr"
	"github.com/ironsheep/qr-stamp/internal/raster"
)

// newQRSource builds the QR source selected by cfg.QR.Source.
func newQRSource(cfg *config.Config, logger *zap.Logger) (qr.Source, error) {
	level, err := qr.ParseRecovery(cfg.QR.Recovery)
	if err != nil {
		return nil, err
	}
	fg, err := imaging.ParseHexColor(cfg.QR.Foreground)
	if err != nil {
		return nil, fmt.Errorf("qr.foreground: %w", err)
	}
	bg, err := imaging.ParseHexColor(cfg.QR.Background)
	if err != nil {
		return nil, fmt.Errorf("qr.background: %w", err)
	}

	local := qr.NewLocalSource(level)
	local.QuietZone = cfg.QR.QuietZone
	local.Foreground = fg
	local.Background = bg

	switch strings.ToLower(cfg.QR.Source) {
	case "", "local":
		return local, nil
	case "styled":
		styled := qr.NewStyledSource(level, fg, bg)
		if !cfg.QR.QuietZone {
			styled.Border = 0
		}
		return styled, nil
	case "remote":
		remote := qr.NewRemoteSource(cfg.QR.RemoteURL, cfg.GetRemoteTimeout())
		if !cfg.QR.Fallback {
			return remote, nil
		}
		return qr.NewFallbackSource(remote, local, logger), nil
	default:
		return nil, fmt.Errorf("unknown qr source %q", cfg.QR.Source)
	}
}

// newPipeline assembles the rendering pipeline from cfg.
func newPipeline(cfg *config.Config, logger *zap.Logger) (*batch.Pipeline, error) {
	mode, err := imaging.ParseBrightnessMode(cfg.Detection.Brightness)
	if err != nil {
		return nil, err
	}
	source, err := newQRSource(cfg, logger)
	if err != nil {
		return nil, err
	}

	var rasterizer raster.Rasterizer = raster.New(cfg.Raster, logger)
	if cfg.Server.TemplateCacheSize > 0 {
		rasterizer = raster.NewCached(rasterizer, cfg.Server.TemplateCacheSize)
	}

	p := &batch.Pipeline{
		Rasterizer:   rasterizer,
		Detection:    cfg.Detection.Options,
		Brightness:   mode,
		SmoothRadius: cfg.Detection.SmoothRadius,
		QR:           source,
		Composer:     compose.New(cfg.QR.DPI, logger.Named("compose")),
		Logger:       logger.Named("pipeline"),
	}
	if cfg.OCR.Enabled {
		loc := ocr.NewLocator(cfg.OCR.Language)
		if cfg.OCR.MinConfidence > 0 {
			loc.MinConfidence = cfg.OCR.MinConfidence
		}
		p.Words = loc
	}
	return p, nil
}
