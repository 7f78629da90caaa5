package ops

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcompose/contentstream"
	"github.com/wudi/pdfcompose/coords"
	"github.com/wudi/pdfcompose/fonts"
	"github.com/wudi/pdfcompose/ir/raw"
	"github.com/wudi/pdfcompose/observability"
	"github.com/wudi/pdfcompose/pagetree"
	"github.com/wudi/pdfcompose/pdferr"
)

// RGB is a colour with components in [0, 1].
type RGB struct {
	R, G, B float64
}

// ParseHexColor reads "#rrggbb" (the # is optional).
func ParseHexColor(s string) (RGB, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return RGB{}, errors.Errorf("colour %q: want 6 hex digits", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return RGB{}, errors.Wrapf(err, "colour %q", s)
	}
	return RGB{
		R: float64(v>>16&0xff) / 255,
		G: float64(v>>8&0xff) / 255,
		B: float64(v&0xff) / 255,
	}, nil
}

// WatermarkSpec describes a text overlay centred on the page.
type WatermarkSpec struct {
	Text     string
	FontSize float64 // points, 10 to 200
	Opacity  float64 // 0 to 1
	Rotation float64 // degrees, counter-clockwise
	Color    RGB
}

// DefaultWatermark is a red, half transparent CONFIDENTIAL at 45 degrees.
func DefaultWatermark() WatermarkSpec {
	return WatermarkSpec{
		Text:     "CONFIDENTIAL",
		FontSize: 50,
		Opacity:  0.5,
		Rotation: 45,
		Color:    RGB{R: 1},
	}
}

// Validate checks the ranges and normalises Rotation into [0, 360).
func (s *WatermarkSpec) Validate() error {
	if strings.TrimSpace(s.Text) == "" {
		return errors.New("watermark text is empty")
	}
	if s.FontSize < 10 || s.FontSize > 200 {
		return errors.Errorf("watermark font size %v outside [10, 200]", s.FontSize)
	}
	if s.Opacity < 0 || s.Opacity > 1 || math.IsNaN(s.Opacity) {
		return errors.Errorf("watermark opacity %v outside [0, 1]", s.Opacity)
	}
	for _, c := range []float64{s.Color.R, s.Color.G, s.Color.B} {
		if c < 0 || c > 1 || math.IsNaN(c) {
			return errors.Errorf("watermark colour component %v outside [0, 1]", c)
		}
	}
	if math.IsNaN(s.Rotation) || math.IsInf(s.Rotation, 0) {
		return errors.Errorf("watermark rotation %v", s.Rotation)
	}
	s.Rotation = math.Mod(s.Rotation, 360)
	if s.Rotation < 0 {
		s.Rotation += 360
	}
	return nil
}

// Watermark overlays spec on the pages with the given 0-based indices, or on
// every page when none are given. Page boxes are left alone.
func (e *Editor) Watermark(ctx context.Context, doc *raw.Document, spec WatermarkSpec, pages ...int) (*raw.Document, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if err := pdferr.CheckContext(ctx); err != nil {
		return nil, err
	}
	out := doc.Clone()
	all, err := pagetree.Resolve(out)
	if err != nil {
		return nil, err
	}
	sel, err := targets(all, pages)
	if err != nil {
		return nil, err
	}

	font := raw.Dict()
	font.Set("Type", raw.NameLiteral("Font"))
	font.Set("Subtype", raw.NameLiteral("Type1"))
	font.Set("BaseFont", raw.NameLiteral("Helvetica-Bold"))
	font.Set("Encoding", raw.NameLiteral("WinAnsiEncoding"))
	fontRef := out.Add(font)
	gs := raw.Dict()
	gs.Set("Type", raw.NameLiteral("ExtGState"))
	gs.Set("ca", raw.NumberFloat(spec.Opacity))
	gs.Set("CA", raw.NumberFloat(spec.Opacity))
	gsRef := out.Add(gs)
	save := out.Add(raw.NewStream(nil, contentstream.Write([]contentstream.Operation{contentstream.Op(contentstream.OpSave)})))

	for _, p := range sel {
		if err := pdferr.CheckContext(ctx); err != nil {
			return nil, err
		}
		if err := pagetree.Materialize(out, p); err != nil {
			return nil, err
		}
		dict, _ := out.Dict(raw.RefObj{R: p.Ref})
		res := ownResources(out, dict)
		fontName := addResource(out, res, "Font", "WmF", fontRef)
		gsName := addResource(out, res, "ExtGState", "WmGS", gsRef)

		// The leading newline keeps the page's last token apart from our Q.
		body := append([]byte{'\n'}, watermarkContent(spec, p.MediaBox.Center(), fontName, gsName)...)
		overlay := out.Add(raw.NewStream(nil, body))
		contents := raw.NewArray(raw.RefObj{R: save})
		for _, c := range p.Contents {
			contents.Append(raw.RefObj{R: c})
		}
		contents.Append(raw.RefObj{R: overlay})
		dict.Set("Contents", contents)
	}
	e.logger.Debug("watermark applied",
		observability.Int(observability.KeyPages, len(sel)),
		observability.String("text", spec.Text))
	return out, nil
}

// watermarkContent closes the page's graphics state with Q, then draws the
// text centred on c and rotated about it.
func watermarkContent(spec WatermarkSpec, c coords.Point, fontName, gsName string) []byte {
	rad := spec.Rotation * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	width := fonts.Bold().Measure(spec.Text, spec.FontSize)
	ops := []contentstream.Operation{
		contentstream.Op(contentstream.OpRestore),
		contentstream.Op(contentstream.OpSave),
		contentstream.Op(contentstream.OpSetExtGState, raw.NameLiteral(gsName)),
		contentstream.Op(contentstream.OpFillRGB, num(spec.Color.R), num(spec.Color.G), num(spec.Color.B)),
		contentstream.Op(contentstream.OpConcat, num(1), num(0), num(0), num(1), num(c.X), num(c.Y)),
		contentstream.Op(contentstream.OpConcat, num(cos), num(sin), num(-sin), num(cos), num(0), num(0)),
		contentstream.Op(contentstream.OpBeginText),
		contentstream.Op(contentstream.OpFont, raw.NameLiteral(fontName), num(spec.FontSize)),
		contentstream.Op(contentstream.OpTextMove, num(-width/2), num(-0.35*spec.FontSize)),
		contentstream.Op(contentstream.OpShowText, raw.Str(fonts.EncodeWinAnsi(spec.Text))),
		contentstream.Op(contentstream.OpEndText),
		contentstream.Op(contentstream.OpRestore),
	}
	return contentstream.Write(ops)
}

// ownResources gives the page a direct resources dictionary of its own, with
// shallow copies of the Font and ExtGState subdictionaries, so shared
// resources are not changed.
func ownResources(doc *raw.Document, page *raw.DictObj) *raw.DictObj {
	res := raw.Dict()
	if src, ok := doc.Dict(page.KV["Resources"]); ok {
		for k, v := range src.KV {
			res.KV[k] = v
		}
	}
	for _, cat := range []string{"Font", "ExtGState"} {
		sub := raw.Dict()
		if src, ok := doc.Dict(res.KV[cat]); ok {
			for k, v := range src.KV {
				sub.KV[k] = v
			}
		}
		res.Set(cat, sub)
	}
	page.Set("Resources", res)
	return res
}

// addResource registers ref in res under category with a name derived from base
// that is not yet taken, and returns the name.
func addResource(doc *raw.Document, res *raw.DictObj, category, base string, ref raw.ObjectRef) string {
	sub, _ := doc.Dict(res.KV[category])
	name := base
	for i := 1; ; i++ {
		if _, taken := sub.Get(name); !taken {
			break
		}
		name = fmt.Sprintf("%s%d", base, i)
	}
	sub.Set(name, raw.RefObj{R: ref})
	return name
}

func num(f float64) raw.NumberObj {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return raw.NumberInt(int64(f))
	}
	return raw.NumberFloat(f)
}
