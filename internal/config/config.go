// Package config loads qr-stamp settings from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ironsheep/qr-stamp/internal/detection"
	"github.com/ironsheep/qr-stamp/internal/imaging"
	"github.com/ironsheep/qr-stamp/internal/placement"
	"github.com/ironsheep/qr-stamp/internal/qr"
	"github.com/ironsheep/qr-stamp/internal/raster"
)

// Config holds all qr-stamp configuration.
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Detection DetectionConfig   `yaml:"detection"`
	Raster    raster.Options    `yaml:"raster"`
	Placement placement.Options `yaml:"placement"`
	QR        QRConfig          `yaml:"qr"`
	OCR       OCRConfig         `yaml:"ocr"`
	Batch     BatchConfig       `yaml:"batch"`
	Logging   LoggingConfig     `yaml:"logging"`
}

// ServerConfig configures the HTTP front end.
type ServerConfig struct {
	Port int `yaml:"port"`

	// MaxUploadMB caps multipart request bodies.
	MaxUploadMB int `yaml:"max_upload_mb"`

	// TemplateCacheSize is the number of rasterized templates kept in memory.
	TemplateCacheSize int `yaml:"template_cache_size"`
}

// DetectionConfig wraps detection.Options with brightness pre-processing.
type DetectionConfig struct {
	detection.Options `yaml:",inline"`

	// Brightness is mean, luma or lightness.
	Brightness string `yaml:"brightness"`

	// SmoothRadius applies a Gaussian blur before thresholding; 0 disables.
	SmoothRadius float64 `yaml:"smooth_radius"`
}

// QRConfig selects and styles the QR source.
type QRConfig struct {
	// Source is local, styled or remote.
	Source     string `yaml:"source"`
	Recovery   string `yaml:"recovery"`
	Foreground string `yaml:"foreground"`
	Background string `yaml:"background"`
	QuietZone  bool   `yaml:"quiet_zone"`

	// RemoteURL is a template with {data} and {size} placeholders.
	RemoteURL     string `yaml:"remote_url"`
	RemoteTimeout string `yaml:"remote_timeout"`

	// Fallback renders locally when the remote service fails.
	Fallback bool `yaml:"fallback"`

	// DPI is the embedded bitmap resolution.
	DPI float64 `yaml:"dpi"`
}

// OCRConfig configures word detection used to skip zones with faint text.
type OCRConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Language      string  `yaml:"language"`
	MinConfidence float64 `yaml:"min_confidence"`
}

// BatchConfig configures job execution.
type BatchConfig struct {
	Workers int `yaml:"workers"`

	// DataDir holds the job database and finished archives.
	DataDir string `yaml:"data_dir"`

	// Retention is how long finished jobs are kept, e.g. "168h".
	Retention string `yaml:"retention"`

	// MaxLinks caps the links accepted in one job.
	MaxLinks int `yaml:"max_links"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              8080,
			MaxUploadMB:       32,
			TemplateCacheSize: 16,
		},
		Detection: DetectionConfig{
			Options:    detection.DefaultOptions(),
			Brightness: string(imaging.BrightnessMean),
		},
		Raster:    raster.DefaultOptions(),
		Placement: placement.DefaultOptions(),
		QR: QRConfig{
			Source:        "local",
			Recovery:      string(qr.RecoveryMedium),
			Foreground:    "#000000",
			Background:    "#ffffff",
			QuietZone:     true,
			RemoteURL:     qr.DefaultRemoteTemplate,
			RemoteTimeout: "10s",
			Fallback:      true,
			DPI:           300,
		},
		OCR: OCRConfig{
			Enabled:       false,
			Language:      "eng",
			MinConfidence: 0.5,
		},
		Batch: BatchConfig{
			Workers:   4,
			DataDir:   "data",
			Retention: "168h",
			MaxLinks:  5000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file yields the defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("QRSTAMP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("QRSTAMP_DATA_DIR"); v != "" {
		c.Batch.DataDir = v
	}
	if v := os.Getenv("QRSTAMP_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid QRSTAMP_WORKERS %q: %w", v, err)
		}
		c.Batch.Workers = n
	}
	if v := os.Getenv("QRSTAMP_QR_REMOTE_URL"); v != "" {
		c.QR.RemoteURL = v
	}
	return nil
}

// Validate checks the configuration for values the rest of the program
// cannot work with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("server.max_upload_mb must be positive")
	}
	if err := c.Detection.Options.Validate(); err != nil {
		return fmt.Errorf("detection: %w", err)
	}
	if _, err := imaging.ParseBrightnessMode(c.Detection.Brightness); err != nil {
		return fmt.Errorf("detection: %w", err)
	}
	if err := c.Placement.Normalize().Validate(); err != nil {
		return fmt.Errorf("placement: %w", err)
	}

	switch strings.ToLower(c.QR.Source) {
	case "local", "styled", "remote":
	default:
		return fmt.Errorf("qr.source must be local, styled or remote, got %q", c.QR.Source)
	}
	if _, err := qr.ParseRecovery(c.QR.Recovery); err != nil {
		return fmt.Errorf("qr: %w", err)
	}
	if _, err := imaging.ParseHexColor(c.QR.Foreground); err != nil {
		return fmt.Errorf("qr.foreground: %w", err)
	}
	if _, err := imaging.ParseHexColor(c.QR.Background); err != nil {
		return fmt.Errorf("qr.background: %w", err)
	}
	if _, err := time.ParseDuration(c.QR.RemoteTimeout); err != nil {
		return fmt.Errorf("qr.remote_timeout: %w", err)
	}

	if c.Batch.Workers < 1 {
		return fmt.Errorf("batch.workers must be at least 1")
	}
	if c.Batch.DataDir == "" {
		return fmt.Errorf("batch.data_dir is required")
	}
	if _, err := time.ParseDuration(c.Batch.Retention); err != nil {
		return fmt.Errorf("batch.retention: %w", err)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// MaxUploadBytes returns the upload cap in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}

// GetRemoteTimeout returns the QR download timeout as a duration.
func (c *Config) GetRemoteTimeout() time.Duration {
	d, err := time.ParseDuration(c.QR.RemoteTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetRetention returns the job retention as a duration.
func (c *Config) GetRetention() time.Duration {
	d, err := time.ParseDuration(c.Batch.Retention)
	if err != nil {
		return 7 * 24 * time.Hour
	}
	return d
}

// DatabasePath is the job history database inside DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Batch.DataDir, "jobs.db")
}

// ArchiveDir is where finished job archives are written.
func (c *Config) ArchiveDir() string {
	return filepath.Join(c.Batch.DataDir, "archives")
}
