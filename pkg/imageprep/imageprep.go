// Package imageprep shrinks receipt photos before they are uploaded for extraction.
package imageprep

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // register GIF decoder
	"image/jpeg"
	_ "image/png" // register PNG decoder
	"log/slog"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/ArionMiles/receiptcal/pkg/api"
	"github.com/ArionMiles/receiptcal/pkg/logging"
)

const (
	// DefaultMaxDimension bounds the longer side of the output, in pixels.
	DefaultMaxDimension = 1024
	// DefaultMaxBytes bounds the encoded output size.
	DefaultMaxBytes = 1 << 20

	// maxPixels rejects images whose header claims an absurd size before decoding.
	maxPixels = 80_000_000

	startQuality = 90
	minQuality   = 40
	qualityStep  = 10
)

// ErrTooLarge is returned internally when no quality setting meets the byte bound.
var ErrTooLarge = errors.New("cannot encode image within byte bound")

// Options configures a Preprocessor. Zero values use the defaults.
type Options struct {
	MaxDimension int
	MaxBytes     int
	Logger       *slog.Logger
}

// Preprocessor downscales and re-encodes images as JPEG.
type Preprocessor struct {
	maxDimension int
	maxBytes     int
	logger       *slog.Logger
}

var _ api.Preprocessor = (*Preprocessor)(nil)

// New creates a Preprocessor.
func New(opts Options) *Preprocessor {
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = DefaultMaxDimension
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	return &Preprocessor{
		maxDimension: opts.MaxDimension,
		maxBytes:     opts.MaxBytes,
		logger:       logging.OrDefault(opts.Logger).With("component", "imageprep"),
	}
}

type result struct {
	img api.Image
	err error
}

// Process returns a JPEG whose longer side is at most MaxDimension and whose
// size is at most MaxBytes. On any failure, including ctx being done, the
// input is returned unchanged.
func (p *Preprocessor) Process(ctx context.Context, img api.Image) api.Image {
	if err := ctx.Err(); err != nil {
		p.logger.Warn("skipping preprocessing", "error", err)
		return img
	}

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("decoder panic: %v", r)}
			}
		}()
		out, err := p.process(img)
		done <- result{img: out, err: err}
	}()

	select {
	case <-ctx.Done():
		p.logger.Warn("preprocessing abandoned, using original image", "error", ctx.Err())
		return img
	case r := <-done:
		if r.err != nil {
			p.logger.Warn("preprocessing failed, using original image", "name", img.Name, "error", r.err)
			return img
		}
		p.logger.Debug("image preprocessed",
			"name", img.Name,
			"original_bytes", len(img.Data),
			"bytes", len(r.img.Data))
		return r.img
	}
}

func (p *Preprocessor) process(img api.Image) (api.Image, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil {
		return api.Image{}, fmt.Errorf("reading image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxPixels {
		return api.Image{}, fmt.Errorf("unsupported %s dimensions %dx%d", format, cfg.Width, cfg.Height)
	}

	src, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return api.Image{}, fmt.Errorf("decoding %s image: %w", format, err)
	}

	dst := p.resize(src)

	var buf bytes.Buffer
	for q := startQuality; q >= minQuality; q -= qualityStep {
		buf.Reset()
		if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: q}); err != nil {
			return api.Image{}, fmt.Errorf("encoding jpeg: %w", err)
		}
		if buf.Len() <= p.maxBytes {
			return api.Image{
				Data:     bytes.Clone(buf.Bytes()),
				MimeType: "image/jpeg",
				Name:     jpegName(img.Name),
			}, nil
		}
	}

	return api.Image{}, fmt.Errorf("%w: %d bytes at quality %d", ErrTooLarge, buf.Len(), minQuality)
}

// resize scales src so that its longer side fits maxDimension and flattens
// any transparency onto white.
func (p *Preprocessor) resize(src image.Image) *image.RGBA {
	b := src.Bounds()
	w, h := targetSize(b.Dx(), b.Dy(), p.maxDimension)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

func targetSize(w, h, limit int) (int, int) {
	longer := max(w, h)
	if longer <= limit {
		return w, h
	}
	scale := float64(limit) / float64(longer)
	return max(1, int(float64(w)*scale+0.5)), max(1, int(float64(h)*scale+0.5))
}

func jpegName(name string) string {
	if name == "" {
		return ""
	}
	return strings.TrimSuffix(name, filepath.Ext(name)) + ".jpg"
}
