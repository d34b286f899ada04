package convert

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/docconv/retry"
)

// Config holds the full converter configuration.
type Config struct {
	MaxWorkers    int `yaml:"max_workers"`
	PagesPerBatch int `yaml:"pages_per_batch"`

	// PageTimeoutSec is the first attempt's timeout per page; retries
	// shrink it.
	PageTimeoutSec int `yaml:"page_timeout_sec"`

	// TablePageCap bounds table-extraction planning. 0 = no cap.
	TablePageCap int `yaml:"table_page_cap"`

	Retry RetryConfig `yaml:"retry"`
	OCR   OCRConfig   `yaml:"ocr"`

	// CachePath is the SQLite page-cache location. Empty disables the
	// cache (and with it job resumption).
	CachePath string `yaml:"cache_path"`

	// SofficeBin is the LibreOffice binary used to pre-convert legacy
	// office formats. Empty disables legacy conversion.
	SofficeBin string `yaml:"soffice_bin"`
}

// RetryConfig tunes the per-page retry handler.
type RetryConfig struct {
	MaxRetries  int    `yaml:"max_retries"`
	Strategy    string `yaml:"strategy"` // immediate | linear_backoff | exponential_backoff | adaptive
	BaseDelayMS int    `yaml:"base_delay_ms"`
}

// OCRConfig tunes the Tesseract engine for scanned documents.
type OCRConfig struct {
	Languages   []string `yaml:"languages"`
	DPI         int      `yaml:"dpi"`
	MaxImageDim int      `yaml:"max_image_dim"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxWorkers:     4,
		PagesPerBatch:  10,
		PageTimeoutSec: 120,
		TablePageCap:   20,
		Retry: RetryConfig{
			MaxRetries:  2,
			Strategy:    string(retry.Linear),
			BaseDelayMS: 500,
		},
		OCR: OCRConfig{
			Languages: []string{"eng"},
			DPI:       300,
		},
	}
}

// LoadConfig reads and parses a YAML config file. Returns DefaultConfig
// merged with the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that values are sane.
func (c *Config) Validate() error {
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("max_workers must be > 0")
	}
	if c.PagesPerBatch <= 0 {
		return fmt.Errorf("pages_per_batch must be > 0")
	}
	if c.PageTimeoutSec <= 0 {
		return fmt.Errorf("page_timeout_sec must be > 0")
	}
	switch retry.Strategy(c.Retry.Strategy) {
	case retry.Immediate, retry.Linear, retry.Exponential, retry.Adaptive:
	default:
		return fmt.Errorf("unknown retry strategy %q", c.Retry.Strategy)
	}
	return nil
}

func (c *Config) retryOptions() retry.Options {
	return retry.Options{
		MaxRetries: c.Retry.MaxRetries,
		Strategy:   retry.Strategy(c.Retry.Strategy),
		BaseDelay:  time.Duration(c.Retry.BaseDelayMS) * time.Millisecond,
	}
}
