// Package raster renders pages to RGBA buffers. It interprets the operators that
// matter for previews: paths, colours and alpha, text in the built-in faces,
// image XObjects and Form XObjects. Everything else is skipped.
package raster

import (
	"context"
	"image"
	"math"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/wudi/pdfcompose/coords"
	"github.com/wudi/pdfcompose/filters"
	"github.com/wudi/pdfcompose/ir/raw"
	"github.com/wudi/pdfcompose/observability"
	"github.com/wudi/pdfcompose/pagetree"
	"github.com/wudi/pdfcompose/pdferr"
	"github.com/wudi/pdfcompose/security"
)

const (
	// DefaultScale renders at twice the page size, for downloads.
	DefaultScale = 2.0
	// ThumbnailScale renders previews.
	ThumbnailScale = 0.5
)

// RenderOptions adjust the output geometry.
type RenderOptions struct {
	// HonorRotate turns the output by the page's /Rotate.
	HonorRotate bool
}

type Config struct {
	// Workers bounds concurrent page renders. Zero means runtime.NumCPU().
	Workers int
	Limits  security.Limits
	Logger  observability.Logger
	Render  RenderOptions
}

// Buffer is one rendered page: RGBA, row-major, top-left origin.
type Buffer struct {
	// Page is the 1-based page number.
	Page   int
	Width  int
	Height int
	Pix    []byte
}

// Image wraps the pixels without copying.
func (b Buffer) Image() *image.RGBA {
	return &image.RGBA{Pix: b.Pix, Stride: 4 * b.Width, Rect: image.Rect(0, 0, b.Width, b.Height)}
}

// Rasterizer owns a bounded worker pool. It holds no per-document state and can
// be shared.
type Rasterizer struct {
	cfg    Config
	logger observability.Logger
}

func New(cfg Config) *Rasterizer {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Limits.MaxXObjectDepth == 0 {
		cfg.Limits.MaxXObjectDepth = security.DefaultLimits().MaxXObjectDepth
	}
	return &Rasterizer{cfg: cfg, logger: observability.OrNop(cfg.Logger)}
}

// RenderPage renders one page at scale device pixels per point.
func (r *Rasterizer) RenderPage(ctx context.Context, doc *raw.Document, page pagetree.Page, scale float64) (Buffer, error) {
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return Buffer{}, errors.Errorf("invalid scale %v", scale)
	}
	if err := pdferr.CheckContext(ctx); err != nil {
		return Buffer{}, err
	}
	start := time.Now()
	box := page.MediaBox
	w := int(math.Ceil(box.Width()*scale - 1e-9))
	h := int(math.Ceil(box.Height()*scale - 1e-9))
	if err := filters.ValidateImageBounds(w, h); err != nil {
		return Buffer{}, errors.Wrapf(err, "page %d", page.Index+1)
	}

	// User space to device space: scale, then flip y so the origin is top-left.
	ctm := coords.Matrix{scale, 0, 0, -scale, -box.LLX * scale, box.URY * scale}
	rotate := 0
	if r.cfg.Render.HonorRotate {
		rotate = page.Rotate
	}
	ctm, w, h = rotateDevice(ctm, w, h, rotate)

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	logger := r.logger.With(observability.Int("page", page.Index+1))
	p := newPainter(ctx, doc, img, r.cfg.Limits, logger)
	data, err := pageContent(ctx, doc, page, logger)
	if err != nil {
		return Buffer{}, err
	}
	resources, _ := doc.Dict(page.Resources)
	if err := p.run(data, resources, ctm, 0); err != nil {
		return Buffer{}, err
	}
	r.logger.Debug("page rendered",
		observability.Int("page", page.Index+1),
		observability.Int("width", w),
		observability.Int("height", h),
		observability.Duration(observability.KeyDuration, time.Since(start)))
	return Buffer{Page: page.Index + 1, Width: w, Height: h, Pix: img.Pix}, nil
}

// RenderPages renders pages concurrently on the pool. The result is ordered like
// pages; on error or cancellation no buffers are returned.
func (r *Rasterizer) RenderPages(ctx context.Context, doc *raw.Document, pages []pagetree.Page, scale float64) ([]Buffer, error) {
	out := make([]Buffer, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i, page := range pages {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			buf, err := r.RenderPage(gctx, doc, page, scale)
			if err != nil {
				return err
			}
			out[i] = buf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, pdferr.Cancelled(ctxErr)
		}
		return nil, err
	}
	if err := pdferr.CheckContext(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// rotateDevice appends a clockwise turn of the device space.
func rotateDevice(ctm coords.Matrix, w, h, rotate int) (coords.Matrix, int, int) {
	fw, fh := float64(w), float64(h)
	switch rotate {
	case 90:
		return ctm.Multiply(coords.Matrix{0, 1, -1, 0, fh, 0}), h, w
	case 180:
		return ctm.Multiply(coords.Matrix{-1, 0, 0, -1, fw, fh}), w, h
	case 270:
		return ctm.Multiply(coords.Matrix{0, -1, 1, 0, 0, fw}), h, w
	}
	return ctm, w, h
}

// pageContent concatenates the decoded content streams of a page. A stream that
// cannot be decoded is left out and the rest still render.
func pageContent(ctx context.Context, doc *raw.Document, page pagetree.Page, logger observability.Logger) ([]byte, error) {
	var data []byte
	for _, ref := range page.Contents {
		s, ok := doc.Stream(raw.RefObj{R: ref})
		if !ok {
			continue
		}
		body, err := s.Decoded(ctx)
		if err != nil {
			if cerr := pdferr.CheckContext(ctx); cerr != nil {
				return nil, cerr
			}
			logger.Debug("skipping undecodable content stream",
				observability.String("ref", ref.String()),
				observability.Error("error", err))
			continue
		}
		data = append(data, body...)
		data = append(data, '\n')
	}
	return data, nil
}
