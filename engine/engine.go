// Package engine exposes the document operations over bytes: load a file, edit
// it, and get a serialized file back.
//
// An Engine holds configuration and the rasterizer pool. Documents it returns
// are values; no call changes a Document passed to it.
package engine

import (
	"context"
	"runtime"
	"time"

	"github.com/wudi/pdfcompose/coords"
	"github.com/wudi/pdfcompose/ir/raw"
	"github.com/wudi/pdfcompose/observability"
	"github.com/wudi/pdfcompose/ops"
	"github.com/wudi/pdfcompose/pagetree"
	"github.com/wudi/pdfcompose/parser"
	"github.com/wudi/pdfcompose/raster"
	"github.com/wudi/pdfcompose/recovery"
	"github.com/wudi/pdfcompose/security"
	"github.com/wudi/pdfcompose/writer"
)

type Config struct {
	// Lenient repairs malformed input where possible instead of failing.
	Lenient bool
	// Password is tried when a loaded file is encrypted.
	Password string
	Limits   security.Limits
	Writer   writer.Config
	// Workers bounds concurrent page renders.
	Workers int
	Render  raster.RenderOptions
	// Algorithm is the cipher Protect uses.
	Algorithm raw.Algorithm
	Logger    observability.Logger
	Tracer    observability.Tracer
}

// DefaultConfig is lenient parsing, compressed output that keeps the input's
// cross-reference style, AES-128 protection and one render worker per CPU.
func DefaultConfig() Config {
	return Config{
		Lenient:   true,
		Limits:    security.DefaultLimits(),
		Writer:    writer.Config{Compress: true, XRefStream: writer.XRefAuto},
		Workers:   runtime.NumCPU(),
		Algorithm: raw.AlgorithmAES_128,
	}
}

type Engine struct {
	cfg    Config
	editor *ops.Editor
	raster *raster.Rasterizer
	writer *writer.Writer
	logger observability.Logger
	tracer observability.Tracer
}

func New(cfg Config) *Engine {
	if cfg.Limits == (security.Limits{}) {
		cfg.Limits = security.DefaultLimits()
	}
	logger := observability.OrNop(cfg.Logger)
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	return &Engine{
		cfg:    cfg,
		editor: ops.New(ops.Config{Limits: cfg.Limits, Logger: logger}),
		raster: raster.New(raster.Config{
			Workers: cfg.Workers,
			Limits:  cfg.Limits,
			Logger:  logger,
			Render:  cfg.Render,
		}),
		writer: writer.New(cfg.Writer),
		logger: logger,
		tracer: tracer,
	}
}

// PageInfo describes one page for display.
type PageInfo struct {
	// Index is 0-based.
	Index    int
	Ref      raw.ObjectRef
	MediaBox coords.Rect
	Rotation int
}

// ImagesResult is the output of ImagesToPdf. Skipped lists the inputs that were
// left out; the PDF holds the others in order.
type ImagesResult struct {
	PDF     []byte
	Skipped []ops.SkippedImage
}

// Load parses data with the configured password.
func (e *Engine) Load(ctx context.Context, data []byte) (*raw.Document, error) {
	return e.LoadWithPassword(ctx, data, e.cfg.Password)
}

// LoadWithPassword parses data, authenticating an encrypted file with password
// as either the user or the owner password.
func (e *Engine) LoadWithPassword(ctx context.Context, data []byte, password string) (*raw.Document, error) {
	var doc *raw.Document
	err := e.trace(ctx, "load", func(ctx context.Context, span observability.Span) error {
		cfg := parser.Config{Password: password, Limits: e.cfg.Limits, Logger: e.logger}
		if e.cfg.Lenient {
			cfg.Recovery = recovery.NewLenientStrategy(e.logger)
		}
		var err error
		doc, err = parser.NewDocumentParser(cfg).ParseBytes(ctx, data)
		if err != nil {
			return err
		}
		span.SetTag(observability.KeyObjects, len(doc.Objects))
		span.SetTag(observability.KeyBytes, len(data))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Pages lists the pages of doc in order.
func (e *Engine) Pages(ctx context.Context, doc *raw.Document) ([]PageInfo, error) {
	var out []PageInfo
	err := e.trace(ctx, "pages", func(ctx context.Context, span observability.Span) error {
		pages, err := pagetree.Resolve(doc)
		if err != nil {
			return err
		}
		out = make([]PageInfo, len(pages))
		for i, p := range pages {
			out[i] = PageInfo{Index: p.Index, Ref: p.Ref, MediaBox: p.MediaBox, Rotation: p.Rotate}
		}
		span.SetTag(observability.KeyPages, len(out))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) Merge(ctx context.Context, docs []*raw.Document) ([]byte, error) {
	return e.edit(ctx, "merge", func(ctx context.Context) (*raw.Document, error) {
		return e.editor.Merge(ctx, docs)
	})
}

// Split builds a file from the pages of doc named by plan, in plan order.
func (e *Engine) Split(ctx context.Context, doc *raw.Document, plan ops.PagePlan) ([]byte, error) {
	return e.edit(ctx, "split", func(ctx context.Context) (*raw.Document, error) {
		return e.editor.Split(ctx, doc, plan)
	})
}

// Extract is Split driven by page-range text such as "1,3,5-6".
func (e *Engine) Extract(ctx context.Context, doc *raw.Document, rangeText string) ([]byte, error) {
	return e.edit(ctx, "extract", func(ctx context.Context) (*raw.Document, error) {
		return e.editor.Extract(ctx, doc, rangeText)
	})
}

// Organize writes doc with its pages in the given order; pages not listed are
// removed.
func (e *Engine) Organize(ctx context.Context, doc *raw.Document, order []raw.ObjectRef) ([]byte, error) {
	return e.edit(ctx, "organize", func(ctx context.Context) (*raw.Document, error) {
		return e.editor.Organize(ctx, doc, order)
	})
}

// Rotate turns the given 0-based pages, or all pages, by delta degrees.
func (e *Engine) Rotate(ctx context.Context, doc *raw.Document, delta int, pages ...int) ([]byte, error) {
	return e.edit(ctx, "rotate", func(ctx context.Context) (*raw.Document, error) {
		return e.editor.Rotate(ctx, doc, delta, pages...)
	})
}

func (e *Engine) Watermark(ctx context.Context, doc *raw.Document, spec ops.WatermarkSpec, pages ...int) ([]byte, error) {
	return e.edit(ctx, "watermark", func(ctx context.Context) (*raw.Document, error) {
		return e.editor.Watermark(ctx, doc, spec, pages...)
	})
}

// Protect encrypts doc with password as both user and owner password.
func (e *Engine) Protect(ctx context.Context, doc *raw.Document, password string, perms raw.Permissions) ([]byte, error) {
	return e.edit(ctx, "protect", func(ctx context.Context) (*raw.Document, error) {
		return e.editor.Protect(ctx, doc, password, ops.ProtectOptions{Algorithm: e.cfg.Algorithm, Permissions: &perms})
	})
}

// ImagesToPdf makes one page per image. It fails only when no image could be
// used.
func (e *Engine) ImagesToPdf(ctx context.Context, images []ops.ImageInput) (ImagesResult, error) {
	var res ImagesResult
	err := e.trace(ctx, "images_to_pdf", func(ctx context.Context, span observability.Span) error {
		doc, skipped, err := e.editor.ImagesToPdf(ctx, images)
		res.Skipped = skipped
		if err != nil {
			return err
		}
		data, err := e.writer.Write(ctx, doc)
		if err != nil {
			return err
		}
		res.PDF = data
		span.SetTag("skipped", len(skipped))
		span.SetTag(observability.KeyBytes, len(data))
		return nil
	})
	if err != nil {
		return ImagesResult{Skipped: res.Skipped}, err
	}
	return res, nil
}

// PdfToImages renders every page at scale on the engine's rasterizer.
func (e *Engine) PdfToImages(ctx context.Context, doc *raw.Document, scale float64) ([]raster.Buffer, error) {
	var out []raster.Buffer
	err := e.trace(ctx, "pdf_to_images", func(ctx context.Context, span observability.Span) error {
		var err error
		out, err = e.editor.PdfToImages(ctx, doc, e.raster, scale)
		span.SetTag(observability.KeyPages, len(out))
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Write serializes doc with the engine's writer configuration.
func (e *Engine) Write(ctx context.Context, doc *raw.Document) ([]byte, error) {
	var out []byte
	err := e.trace(ctx, "write", func(ctx context.Context, span observability.Span) error {
		var err error
		out, err = e.writer.Write(ctx, doc)
		span.SetTag(observability.KeyBytes, len(out))
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// edit runs an operation and serializes its result. No bytes are returned when
// either step fails.
func (e *Engine) edit(ctx context.Context, name string, op func(context.Context) (*raw.Document, error)) ([]byte, error) {
	var out []byte
	err := e.trace(ctx, name, func(ctx context.Context, span observability.Span) error {
		doc, err := op(ctx)
		if err != nil {
			return err
		}
		data, err := e.writer.Write(ctx, doc)
		if err != nil {
			return err
		}
		out = data
		span.SetTag(observability.KeyBytes, len(data))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) trace(ctx context.Context, name string, fn func(context.Context, observability.Span) error) error {
	start := time.Now()
	ctx, span := e.tracer.StartSpan(ctx, name)
	defer span.Finish()
	span.SetTag(observability.KeyOperation, name)
	err := fn(ctx, span)
	elapsed := time.Since(start)
	if err != nil {
		span.SetError(err)
		e.logger.Debug("operation failed",
			observability.String(observability.KeyOperation, name),
			observability.Duration(observability.KeyDuration, elapsed),
			observability.Error("error", err))
		return err
	}
	e.logger.Debug("operation done",
		observability.String(observability.KeyOperation, name),
		observability.Duration(observability.KeyDuration, elapsed))
	return nil
}
