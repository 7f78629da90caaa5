package ops

import (
	"bytes"
	"context"
	"image/color"
	"image/jpeg"
	"image/png"
	"time"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcompose/builder"
	"github.com/wudi/pdfcompose/coords"
	"github.com/wudi/pdfcompose/filters"
	"github.com/wudi/pdfcompose/ir/raw"
	"github.com/wudi/pdfcompose/observability"
	"github.com/wudi/pdfcompose/pagetree"
	"github.com/wudi/pdfcompose/pdferr"
	"github.com/wudi/pdfcompose/raster"
)

const (
	FormatJPEG = "image/jpeg"
	FormatPNG  = "image/png"
)

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte("\x89PNG\r\n\x1a\n")
)

// ImageInput is one raster image. Format is a MIME type; when empty it is
// detected from the data.
type ImageInput struct {
	Name   string
	Format string
	Data   []byte
}

// SkippedImage reports an input ImagesToPdf could not embed.
type SkippedImage struct {
	Index int
	Name  string
	Err   error
}

// ImagesToPdf makes one page per image, sized to the image's pixel dimensions
// and filled by it. Inputs that cannot be embedded are skipped and reported;
// when nothing is left the result is ErrUnsupportedImageFormat.
func (e *Editor) ImagesToPdf(ctx context.Context, images []ImageInput) (*raw.Document, []SkippedImage, error) {
	start := time.Now()
	b := builder.New(e.pipeline)
	var skipped []SkippedImage
	for i, in := range images {
		if err := pdferr.CheckContext(ctx); err != nil {
			return nil, nil, err
		}
		img, err := decodeInput(in)
		if err == nil {
			err = addImagePage(b, img)
		}
		if err != nil {
			e.logger.Warn("image skipped",
				observability.Int("index", i),
				observability.String("name", in.Name),
				observability.Error("error", err))
			skipped = append(skipped, SkippedImage{Index: i, Name: in.Name, Err: err})
		}
	}
	if b.PageCount() == 0 {
		return nil, skipped, errors.Wrapf(pdferr.ErrUnsupportedImageFormat, "none of %d images could be embedded", len(images))
	}
	doc, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	e.logger.Debug("images converted",
		observability.Int(observability.KeyPages, b.PageCount()),
		observability.Int("skipped", len(skipped)),
		observability.Duration(observability.KeyDuration, time.Since(start)))
	return doc, skipped, nil
}

func addImagePage(b *builder.Builder, img *builder.Image) error {
	ref, err := b.AddImage(img)
	if err != nil {
		return errors.Wrap(pdferr.ErrUnsupportedImageFormat, err.Error())
	}
	w, h := float64(img.Width), float64(img.Height)
	b.NewPage(w, h).
		Resource("XObject", "Im1", ref).
		DrawImage("Im1", coords.Rect{URX: w, URY: h}).
		Finish()
	return nil
}

// SniffFormat detects JPEG and PNG from their signatures.
func SniffFormat(data []byte) string {
	switch {
	case bytes.HasPrefix(data, jpegMagic):
		return FormatJPEG
	case bytes.HasPrefix(data, pngMagic):
		return FormatPNG
	}
	return ""
}

func decodeInput(in ImageInput) (*builder.Image, error) {
	format := in.Format
	if format == "" {
		format = SniffFormat(in.Data)
	}
	switch format {
	case FormatJPEG, "image/jpg":
		return decodeJPEG(in.Data)
	case FormatPNG:
		return decodePNG(in.Data)
	case "":
		return nil, errors.Wrap(pdferr.ErrUnsupportedImageFormat, "unrecognised data")
	}
	return nil, errors.Wrapf(pdferr.ErrUnsupportedImageFormat, "format %q", format)
}

// decodeJPEG embeds the file as is once a full decode has proven it sound.
func decodeJPEG(data []byte) (*builder.Image, error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(pdferr.ErrUnsupportedImageFormat, err.Error())
	}
	if err := filters.ValidateImageBounds(cfg.Width, cfg.Height); err != nil {
		return nil, errors.Wrap(pdferr.ErrUnsupportedImageFormat, err.Error())
	}
	if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
		return nil, errors.Wrap(pdferr.ErrUnsupportedImageFormat, err.Error())
	}
	cs := "DeviceRGB"
	switch cfg.ColorModel {
	case color.GrayModel:
		cs = "DeviceGray"
	case color.CMYKModel:
		cs = "DeviceCMYK"
	}
	return builder.JPEG(data, cfg, cs), nil
}

// decodePNG rejects interlaced files, then re-encodes the pixels.
func decodePNG(data []byte) (*builder.Image, error) {
	if !bytes.HasPrefix(data, pngMagic) {
		return nil, errors.Wrap(pdferr.ErrUnsupportedImageFormat, "missing PNG signature")
	}
	// IHDR comes first; its last byte is the interlace method.
	if len(data) > 28 && data[28] != 0 {
		return nil, errors.Wrap(pdferr.ErrUnsupportedImageFormat, "interlaced PNG")
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(pdferr.ErrUnsupportedImageFormat, err.Error())
	}
	if err := filters.ValidateImageBounds(cfg.Width, cfg.Height); err != nil {
		return nil, errors.Wrap(pdferr.ErrUnsupportedImageFormat, err.Error())
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(pdferr.ErrUnsupportedImageFormat, err.Error())
	}
	return builder.FromImage(img), nil
}

// PdfToImages renders every page of doc at scale on r's worker pool. Buffers are
// numbered from 1 in page order.
func (e *Editor) PdfToImages(ctx context.Context, doc *raw.Document, r *raster.Rasterizer, scale float64) ([]raster.Buffer, error) {
	pages, err := pagetree.Resolve(doc)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	bufs, err := r.RenderPages(ctx, doc, pages, scale)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("pages rasterized",
		observability.Int(observability.KeyPages, len(bufs)),
		observability.Float("scale", scale),
		observability.Duration(observability.KeyDuration, time.Since(start)))
	return bufs, nil
}
