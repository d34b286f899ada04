package engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"
	"golang.org/x/image/draw"

	"github.com/hazyhaar/docconv/model"
)

// Rasterizer renders one page to an image. Rendering is an external
// collaborator: any renderer producing an image.Image at the requested DPI
// can back the OCR engine.
type Rasterizer interface {
	Rasterize(ctx context.Context, path string, page int, dpi int) (image.Image, error)
}

// OCROptions configure the OCR page extractor.
type OCROptions struct {
	// Languages in Tesseract notation, e.g. ["spa", "eng"].
	Languages []string

	// DPI used when rasterizing pages.
	DPI int

	// MaxImageDim caps the longer image side; larger renders are
	// downscaled before recognition to bound Tesseract memory and time.
	MaxImageDim int

	Logger *slog.Logger
}

func (o *OCROptions) defaults() {
	if len(o.Languages) == 0 {
		o.Languages = []string{"eng"}
	}
	if o.DPI <= 0 {
		o.DPI = 300
	}
	if o.MaxImageDim <= 0 {
		o.MaxImageDim = 4000
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// OCR extracts page text via Tesseract for documents whose text layer is
// absent or unusable. Safe to invoke repeatedly with a shrinking timeout.
type OCR struct {
	rasterizer Rasterizer
	opts       OCROptions
}

// NewOCR creates the OCR page extractor.
func NewOCR(rasterizer Rasterizer, opts OCROptions) *OCR {
	opts.defaults()
	return &OCR{rasterizer: rasterizer, opts: opts}
}

// WarmUp verifies the Tesseract installation and the configured language
// packs before any page is processed, so a bad setup fails the job instead
// of burning retries page by page.
func (o *OCR) WarmUp(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetLanguage(o.opts.Languages...); err != nil {
		return fmt.Errorf("ocr warm-up: %w", err)
	}
	o.opts.Logger.Debug("ocr engine ready",
		"languages", strings.Join(o.opts.Languages, "+"))
	return nil
}

// ExtractPage rasterizes the page, downscales oversized renders, and runs
// Tesseract. The timeout bounds the whole call including recognition.
func (o *OCR) ExtractPage(ctx context.Context, path string, page int, timeout time.Duration) (*model.PageResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	img, err := o.rasterizer.Rasterize(ctx, path, page, o.opts.DPI)
	if err != nil {
		return nil, fmt.Errorf("rasterize page %d: %w", page, err)
	}

	img = downscale(img, o.opts.MaxImageDim)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode page %d: %w", page, err)
	}

	text, err := o.recognize(ctx, buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("ocr page %d: %w", page, err)
	}

	return &model.PageResult{
		Text:  text,
		Forms: DetectForms(text),
	}, nil
}

// recognize runs Tesseract in a goroutine so context cancellation bounds
// the blocking recognition call.
func (o *OCR) recognize(ctx context.Context, imageData []byte) (string, error) {
	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		client := gosseract.NewClient()
		defer client.Close()

		if err := client.SetLanguage(o.opts.Languages...); err != nil {
			ch <- result{err: fmt.Errorf("set language: %w", err)}
			return
		}
		if err := client.SetImageFromBytes(imageData); err != nil {
			ch <- result{err: fmt.Errorf("set image: %w", err)}
			return
		}
		text, err := client.Text()
		ch <- result{text: strings.TrimSpace(text), err: err}
	}()

	select {
	case <-ctx.Done():
		// The goroutine finishes on its own and the buffered channel
		// lets it exit; its result is discarded.
		return "", ctx.Err()
	case r := <-ch:
		return r.text, r.err
	}
}

// downscale shrinks an image so its longer side fits maxDim, preserving
// aspect ratio. Images already within bounds pass through untouched.
func downscale(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longer := w
	if h > longer {
		longer = h
	}
	if longer <= maxDim {
		return img
	}

	scale := float64(maxDim) / float64(longer)
	dst := image.NewRGBA(image.Rect(0, 0, int(float64(w)*scale), int(float64(h)*scale)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
