package main

import (
	"context"
	"flag"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcompose/engine"
	"github.com/wudi/pdfcompose/ir/raw"
	"github.com/wudi/pdfcompose/ops"
	"github.com/wudi/pdfcompose/pagerange"
	"github.com/wudi/pdfcompose/raster"
	"github.com/wudi/pdfcompose/security"
)

var errArgs = errors.New("wrong number of arguments")

var (
	outPath   string
	selection pagerange.Selection
)

func outputFlag(fs *flag.FlagSet) {
	fs.StringVar(&outPath, "o", "out.pdf", "Output file (- for stdout)")
}

func rangeFlag(fs *flag.FlagSet) {
	fs.Var(&selection, "pages", "Pages to act on, e.g. 1,3,5-6 (default all)")
}

// single loads the one input file a command takes.
func single(ctx context.Context, eng *engine.Engine, args []string) (*raw.Document, []engine.PageInfo, error) {
	if len(args) != 1 {
		return nil, nil, errArgs
	}
	doc, err := load(ctx, eng, args[0])
	if err != nil {
		return nil, nil, err
	}
	pages, err := eng.Pages(ctx, doc)
	if err != nil {
		return nil, nil, err
	}
	return doc, pages, nil
}

var mergeCommand = command{
	name:  "merge",
	usage: "-o out.pdf in1.pdf in2.pdf...",
	flags: outputFlag,
	run: func(ctx context.Context, eng *engine.Engine, _ *flag.FlagSet, args []string) error {
		if len(args) < 1 {
			return errArgs
		}
		docs := make([]*raw.Document, 0, len(args))
		for _, path := range args {
			doc, err := load(ctx, eng, path)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		data, err := eng.Merge(ctx, docs)
		if err != nil {
			return err
		}
		return output(outPath, data)
	},
}

var splitCommand = command{
	name:  "split",
	usage: "-o out.pdf -pages 2-4 in.pdf",
	flags: func(fs *flag.FlagSet) {
		outputFlag(fs)
		rangeFlag(fs)
	},
	run: func(ctx context.Context, eng *engine.Engine, _ *flag.FlagSet, args []string) error {
		doc, pages, err := single(ctx, eng, args)
		if err != nil {
			return err
		}
		indices, err := selection.Indices(len(pages))
		if err != nil {
			return err
		}
		data, err := eng.Split(ctx, doc, ops.SinglePlan(indices...))
		if err != nil {
			return err
		}
		return output(outPath, data)
	},
}

var extractText string

var extractCommand = command{
	name:  "extract",
	usage: "-o out.pdf -list 1,3,5-6 in.pdf",
	flags: func(fs *flag.FlagSet) {
		outputFlag(fs)
		fs.StringVar(&extractText, "list", "", "Pages to copy in order, e.g. 1,3,5-6")
	},
	run: func(ctx context.Context, eng *engine.Engine, _ *flag.FlagSet, args []string) error {
		if extractText == "" {
			return errors.New("-list is required")
		}
		doc, _, err := single(ctx, eng, args)
		if err != nil {
			return err
		}
		data, err := eng.Extract(ctx, doc, extractText)
		if err != nil {
			return err
		}
		return output(outPath, data)
	},
}

var orderText string

var organizeCommand = command{
	name:  "organize",
	usage: "-o out.pdf -order 3,1,2 in.pdf",
	flags: func(fs *flag.FlagSet) {
		outputFlag(fs)
		fs.StringVar(&orderText, "order", "", "New page order; pages left out are removed")
	},
	run: func(ctx context.Context, eng *engine.Engine, _ *flag.FlagSet, args []string) error {
		if orderText == "" {
			return errors.New("-order is required")
		}
		doc, pages, err := single(ctx, eng, args)
		if err != nil {
			return err
		}
		indices, err := pagerange.Parse(orderText, len(pages))
		if err != nil {
			return err
		}
		order := make([]raw.ObjectRef, len(indices))
		for i, idx := range indices {
			order[i] = pages[idx].Ref
		}
		data, err := eng.Organize(ctx, doc, order)
		if err != nil {
			return err
		}
		return output(outPath, data)
	},
}

var angle int

var rotateCommand = command{
	name:  "rotate",
	usage: "-o out.pdf -angle 90 [-pages 1-2] in.pdf",
	flags: func(fs *flag.FlagSet) {
		outputFlag(fs)
		rangeFlag(fs)
		fs.IntVar(&angle, "angle", 90, "Clockwise rotation in degrees, a multiple of 90")
	},
	run: func(ctx context.Context, eng *engine.Engine, _ *flag.FlagSet, args []string) error {
		doc, pages, err := single(ctx, eng, args)
		if err != nil {
			return err
		}
		indices, err := selection.Indices(len(pages))
		if err != nil {
			return err
		}
		data, err := eng.Rotate(ctx, doc, angle, indices...)
		if err != nil {
			return err
		}
		return output(outPath, data)
	},
}

var (
	mark      = ops.DefaultWatermark()
	markColor string
)

var watermarkCommand = command{
	name:  "watermark",
	usage: "-o out.pdf [-text DRAFT] [-pages 1-2] in.pdf",
	flags: func(fs *flag.FlagSet) {
		outputFlag(fs)
		rangeFlag(fs)
		fs.StringVar(&mark.Text, "text", mark.Text, "Watermark text")
		fs.Float64Var(&mark.FontSize, "size", mark.FontSize, "Font size in points (10-200)")
		fs.Float64Var(&mark.Opacity, "opacity", mark.Opacity, "Opacity between 0 and 1")
		fs.Float64Var(&mark.Rotation, "rotation", mark.Rotation, "Counter-clockwise text angle in degrees")
		fs.StringVar(&markColor, "color", "#ff0000", "Text color as hex RGB")
	},
	run: func(ctx context.Context, eng *engine.Engine, _ *flag.FlagSet, args []string) error {
		c, err := ops.ParseHexColor(markColor)
		if err != nil {
			return err
		}
		mark.Color = c
		doc, pages, err := single(ctx, eng, args)
		if err != nil {
			return err
		}
		indices, err := selection.Indices(len(pages))
		if err != nil {
			return err
		}
		data, err := eng.Watermark(ctx, doc, mark, indices...)
		if err != nil {
			return err
		}
		return output(outPath, data)
	},
}

var (
	newPassword string
	allowCopy   bool
	allowModify bool
	denyPrint   bool
)

var protectCommand = command{
	name:  "protect",
	usage: "-o out.pdf -secret pw in.pdf",
	flags: func(fs *flag.FlagSet) {
		outputFlag(fs)
		fs.StringVar(&newPassword, "secret", "", "Password to protect the output with")
		fs.BoolVar(&allowCopy, "allow-copy", false, "Allow copying text and graphics")
		fs.BoolVar(&allowModify, "allow-modify", false, "Allow modifying the document")
		fs.BoolVar(&denyPrint, "deny-print", false, "Disallow printing")
	},
	run: func(ctx context.Context, eng *engine.Engine, _ *flag.FlagSet, args []string) error {
		doc, _, err := single(ctx, eng, args)
		if err != nil {
			return err
		}
		perms := security.PrintOnly()
		perms.Copy = allowCopy
		perms.Modify = allowModify
		if denyPrint {
			perms.Print = false
			perms.PrintHighQuality = false
		}
		data, err := eng.Protect(ctx, doc, newPassword, perms)
		if err != nil {
			return err
		}
		return output(outPath, data)
	},
}

var img2pdfCommand = command{
	name:  "img2pdf",
	usage: "-o out.pdf a.jpg b.png...",
	flags: outputFlag,
	run: func(ctx context.Context, eng *engine.Engine, _ *flag.FlagSet, args []string) error {
		if len(args) == 0 {
			return errArgs
		}
		inputs := make([]ops.ImageInput, 0, len(args))
		for _, path := range args {
			data, err := readCopy(path)
			if err != nil {
				return err
			}
			inputs = append(inputs, ops.ImageInput{Name: filepath.Base(path), Format: formatOf(path), Data: data})
		}
		res, err := eng.ImagesToPdf(ctx, inputs)
		for _, s := range res.Skipped {
			fmt.Fprintf(os.Stderr, "skipped %s: %v\n", s.Name, s.Err)
		}
		if err != nil {
			return err
		}
		return output(outPath, res.PDF)
	},
}

// formatOf guesses the media type from the extension; unknown extensions are
// left for content sniffing.
func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return ops.FormatJPEG
	case ".png":
		return ops.FormatPNG
	}
	return ""
}

var (
	scale       float64
	imagePrefix string
)

var pdf2imgCommand = command{
	name:  "pdf2img",
	usage: "[-scale 2] [-prefix page] in.pdf",
	flags: func(fs *flag.FlagSet) {
		fs.Float64Var(&scale, "scale", raster.DefaultScale, "Device pixels per point")
		fs.StringVar(&imagePrefix, "prefix", "page", "Output file prefix; pages are written as <prefix>-N.png")
	},
	run: func(ctx context.Context, eng *engine.Engine, _ *flag.FlagSet, args []string) error {
		doc, _, err := single(ctx, eng, args)
		if err != nil {
			return err
		}
		bufs, err := eng.PdfToImages(ctx, doc, scale)
		if err != nil {
			return err
		}
		for _, b := range bufs {
			if err := writePNG(fmt.Sprintf("%s-%d.png", imagePrefix, b.Page), b); err != nil {
				return err
			}
		}
		return nil
	},
}

func writePNG(path string, b raster.Buffer) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, b.Image()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

var pagesCommand = command{
	name:  "pages",
	usage: "in.pdf",
	run: func(ctx context.Context, eng *engine.Engine, _ *flag.FlagSet, args []string) error {
		_, pages, err := single(ctx, eng, args)
		if err != nil {
			return err
		}
		for _, p := range pages {
			fmt.Printf("%d\t%s\t%gx%g\t%d\n", p.Index+1, p.Ref, p.MediaBox.Width(), p.MediaBox.Height(), p.Rotation)
		}
		return nil
	},
}
