package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// SofficeOptions configure the LibreOffice pre-converter.
type SofficeOptions struct {
	// Bin is the soffice binary. Defaults to "soffice" on PATH.
	Bin string

	// OutDir receives converted files. Defaults to the OS temp dir.
	OutDir string

	// Timeout bounds one conversion run.
	Timeout time.Duration

	Logger *slog.Logger
}

func (o *SofficeOptions) defaults() {
	if o.Bin == "" {
		o.Bin = "soffice"
	}
	if o.OutDir == "" {
		o.OutDir = os.TempDir()
	}
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Minute
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Soffice normalizes legacy office formats (doc, ppt, xls, rtf, odt...)
// into PDF by shelling out to LibreOffice in headless mode. The converter
// itself is a black box; only its exit status and output file matter.
type Soffice struct {
	opts SofficeOptions
}

// NewSoffice creates the LibreOffice pre-converter.
func NewSoffice(opts SofficeOptions) *Soffice {
	opts.defaults()
	return &Soffice{opts: opts}
}

// Convert produces a PDF next to OutDir and returns its path.
func (s *Soffice) Convert(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.opts.Bin,
		"--headless", "--convert-to", "pdf", "--outdir", s.opts.OutDir, path)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("soffice convert %s: %w: %s", path, err, strings.TrimSpace(string(out)))
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	converted := filepath.Join(s.opts.OutDir, base+".pdf")
	if _, err := os.Stat(converted); err != nil {
		return "", fmt.Errorf("soffice convert %s: output missing: %w", path, err)
	}

	s.opts.Logger.Debug("legacy format converted", "input", path, "output", converted)
	return converted, nil
}
