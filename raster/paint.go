package raster

import (
	"context"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/vector"

	"github.com/wudi/pdfcompose/contentstream"
	"github.com/wudi/pdfcompose/coords"
	"github.com/wudi/pdfcompose/filters"
	"github.com/wudi/pdfcompose/ir/raw"
	"github.com/wudi/pdfcompose/observability"
	"github.com/wudi/pdfcompose/pdferr"
	"github.com/wudi/pdfcompose/security"
)

type segOp int

const (
	segMove segOp = iota
	segLine
	segCube
	segClose
)

// segment points are in device space.
type segment struct {
	op  segOp
	pts [3]coords.Point
}

// painter renders one page. It is not shared between goroutines.
type painter struct {
	ctx      context.Context
	doc      *raw.Document
	img      *image.RGBA
	ras      *vector.Rasterizer
	pipeline *filters.Pipeline
	limits   security.Limits
	logger   observability.Logger
	skipped  map[string]bool
	fonts    map[*raw.DictObj]*fontInfo
	// forms being run, to stop self-referencing forms.
	forms []raw.ObjectRef

	path    []segment
	start   coords.Point
	current coords.Point
}

func newPainter(ctx context.Context, doc *raw.Document, img *image.RGBA, limits security.Limits, logger observability.Logger) *painter {
	b := img.Bounds()
	return &painter{
		ctx: ctx,
		doc: doc,
		img: img,
		ras: vector.NewRasterizer(b.Dx(), b.Dy()),
		pipeline: filters.NewStandardPipeline(filters.Limits{
			MaxDecompressedSize: limits.MaxDecompressedSize,
			MaxDecodeTime:       limits.MaxDecodeTime,
		}),
		limits:  limits,
		logger:  logger,
		skipped: make(map[string]bool),
		fonts:   make(map[*raw.DictObj]*fontInfo),
	}
}

// skip records an operator the renderer does not implement, once per operator.
func (p *painter) skip(what string) {
	if p.skipped[what] {
		return
	}
	p.skipped[what] = true
	p.logger.Debug("operator skipped", observability.String("op", what))
}

// run interprets a content stream. A malformed stream renders the operations
// parsed before the error.
func (p *painter) run(data []byte, resources *raw.DictObj, ctm coords.Matrix, depth int) error {
	return p.runWith(data, resources, contentstream.NewGraphicsState(ctm), depth)
}

func (p *painter) runWith(data []byte, resources *raw.DictObj, gs *contentstream.GraphicsState, depth int) error {
	ops, err := contentstream.Parse(data)
	if err != nil {
		p.logger.Debug("content stream truncated", observability.Error("err", err), observability.Int("ops", len(ops)))
	}
	for i, op := range ops {
		if i%256 == 0 {
			if err := pdferr.CheckContext(p.ctx); err != nil {
				return err
			}
		}
		if gs.Apply(op) {
			continue
		}
		if err := p.exec(op, resources, gs, depth); err != nil {
			return err
		}
	}
	return nil
}

func (p *painter) exec(op contentstream.Operation, resources *raw.DictObj, gs *contentstream.GraphicsState, depth int) error {
	switch op.Op {
	case contentstream.OpMoveTo:
		if v, ok := op.Numbers(2); ok {
			pt := gs.CTM.Transform(coords.Point{X: v[0], Y: v[1]})
			p.path = append(p.path, segment{op: segMove, pts: [3]coords.Point{pt}})
			p.start, p.current = pt, pt
		}
	case contentstream.OpLineTo:
		if v, ok := op.Numbers(2); ok {
			p.lineTo(gs.CTM.Transform(coords.Point{X: v[0], Y: v[1]}))
		}
	case contentstream.OpCurveTo:
		if v, ok := op.Numbers(6); ok {
			p.cubeTo(gs.CTM, coords.Point{X: v[0], Y: v[1]}, coords.Point{X: v[2], Y: v[3]}, coords.Point{X: v[4], Y: v[5]})
		}
	case contentstream.OpCurveToV:
		if v, ok := op.Numbers(4); ok {
			inv, err := gs.CTM.Inverse()
			if err != nil {
				return nil
			}
			p.cubeTo(gs.CTM, inv.Transform(p.current), coords.Point{X: v[0], Y: v[1]}, coords.Point{X: v[2], Y: v[3]})
		}
	case contentstream.OpCurveToY:
		if v, ok := op.Numbers(4); ok {
			end := coords.Point{X: v[2], Y: v[3]}
			p.cubeTo(gs.CTM, coords.Point{X: v[0], Y: v[1]}, end, end)
		}
	case contentstream.OpClosePath:
		p.closePath()
	case contentstream.OpRect:
		if v, ok := op.Numbers(4); ok {
			x, y, w, h := v[0], v[1], v[2], v[3]
			m := gs.CTM
			first := m.Transform(coords.Point{X: x, Y: y})
			p.path = append(p.path, segment{op: segMove, pts: [3]coords.Point{first}})
			p.start, p.current = first, first
			p.lineTo(m.Transform(coords.Point{X: x + w, Y: y}))
			p.lineTo(m.Transform(coords.Point{X: x + w, Y: y + h}))
			p.lineTo(m.Transform(coords.Point{X: x, Y: y + h}))
			p.closePath()
		}
	case contentstream.OpFill, contentstream.OpFillCompat, contentstream.OpFillEvenOdd:
		p.fill(gs)
		p.endPath()
	case contentstream.OpStroke:
		p.stroke(gs)
		p.endPath()
	case contentstream.OpCloseStroke:
		p.closePath()
		p.stroke(gs)
		p.endPath()
	case contentstream.OpFillStroke, contentstream.OpFillStrokeEvenOdd:
		p.fill(gs)
		p.stroke(gs)
		p.endPath()
	case contentstream.OpCloseFillStroke, contentstream.OpCloseFillStrokeEO:
		p.closePath()
		p.fill(gs)
		p.stroke(gs)
		p.endPath()
	case contentstream.OpEndPath:
		p.endPath()
	case contentstream.OpSetExtGState:
		if name, ok := op.Name(0); ok {
			p.extGState(resources, name, gs)
		}
	case contentstream.OpShowText:
		p.showText(op.Operands, resources, gs)
	case contentstream.OpNextLineShow:
		gs.Text.NextLine()
		p.showText(op.Operands, resources, gs)
	case contentstream.OpNextLineShowS:
		if len(op.Operands) == 3 {
			if aw, ok := raw.Number(op.Operands[0]); ok {
				gs.Text.WordSpacing = aw
			}
			if ac, ok := raw.Number(op.Operands[1]); ok {
				gs.Text.CharSpacing = ac
			}
		}
		gs.Text.NextLine()
		p.showText(op.Operands, resources, gs)
	case contentstream.OpShowArray:
		p.showArray(op.Operands, resources, gs)
	case contentstream.OpXObject:
		if name, ok := op.Name(0); ok {
			return p.xobject(resources, name, gs, depth)
		}
	case contentstream.OpInlineImage:
		p.inlineImage(op, resources, gs)
	default:
		p.skip(op.Op.String())
	}
	return nil
}

func (p *painter) lineTo(pt coords.Point) {
	if len(p.path) == 0 {
		p.path = append(p.path, segment{op: segMove, pts: [3]coords.Point{pt}})
		p.start = pt
	} else {
		p.path = append(p.path, segment{op: segLine, pts: [3]coords.Point{pt}})
	}
	p.current = pt
}

func (p *painter) cubeTo(m coords.Matrix, c1, c2, end coords.Point) {
	if len(p.path) == 0 {
		return
	}
	seg := segment{op: segCube, pts: [3]coords.Point{m.Transform(c1), m.Transform(c2), m.Transform(end)}}
	p.path = append(p.path, seg)
	p.current = seg.pts[2]
}

func (p *painter) closePath() {
	if len(p.path) == 0 {
		return
	}
	p.path = append(p.path, segment{op: segClose})
	p.current = p.start
}

func (p *painter) endPath() { p.path = p.path[:0] }

func (p *painter) fill(gs *contentstream.GraphicsState) {
	if len(p.path) == 0 {
		return
	}
	p.resetRas()
	for i, s := range p.path {
		switch s.op {
		case segMove:
			// Fills close every subpath.
			if i > 0 {
				p.ras.ClosePath()
			}
			p.ras.MoveTo(f32(s.pts[0].X), f32(s.pts[0].Y))
		case segLine:
			p.ras.LineTo(f32(s.pts[0].X), f32(s.pts[0].Y))
		case segCube:
			p.ras.CubeTo(f32(s.pts[0].X), f32(s.pts[0].Y), f32(s.pts[1].X), f32(s.pts[1].Y), f32(s.pts[2].X), f32(s.pts[2].Y))
		case segClose:
			p.ras.ClosePath()
		}
	}
	p.ras.ClosePath()
	p.paint(gs.Fill, gs.FillAlpha)
}

// stroke approximates the outline by one quad per segment at the device line
// width. Curves are flattened first.
func (p *painter) stroke(gs *contentstream.GraphicsState) {
	if len(p.path) == 0 {
		return
	}
	half := gs.LineWidth * gs.CTM.ScaleFactor() / 2
	if half < 0.5 {
		half = 0.5
	}
	p.resetRas()
	var start, cur coords.Point
	for _, s := range p.path {
		switch s.op {
		case segMove:
			start, cur = s.pts[0], s.pts[0]
		case segLine:
			p.quad(cur, s.pts[0], half)
			cur = s.pts[0]
		case segCube:
			prev := cur
			for i := 1; i <= curveSteps; i++ {
				pt := cubicAt(cur, s.pts[0], s.pts[1], s.pts[2], float64(i)/curveSteps)
				p.quad(prev, pt, half)
				prev = pt
			}
			cur = s.pts[2]
		case segClose:
			p.quad(cur, start, half)
			cur = start
		}
	}
	p.paint(gs.Stroke, gs.StrokeAlpha)
}

const curveSteps = 16

func cubicAt(p0, p1, p2, p3 coords.Point, t float64) coords.Point {
	u := 1 - t
	a, b, c, d := u*u*u, 3*u*u*t, 3*u*t*t, t*t*t
	return coords.Point{
		X: a*p0.X + b*p1.X + c*p2.X + d*p3.X,
		Y: a*p0.Y + b*p1.Y + c*p2.Y + d*p3.Y,
	}
}

// quad adds the rectangle around from→to. All quads share one orientation so
// overlapping segments do not cancel.
func (p *painter) quad(from, to coords.Point, half float64) {
	vx, vy := to.X-from.X, to.Y-from.Y
	l := math.Hypot(vx, vy)
	if l == 0 {
		return
	}
	nx, ny := -vy/l*half, vx/l*half
	p.ras.MoveTo(f32(from.X+nx), f32(from.Y+ny))
	p.ras.LineTo(f32(to.X+nx), f32(to.Y+ny))
	p.ras.LineTo(f32(to.X-nx), f32(to.Y-ny))
	p.ras.LineTo(f32(from.X-nx), f32(from.Y-ny))
	p.ras.ClosePath()
}

func (p *painter) resetRas() {
	b := p.img.Bounds()
	p.ras.Reset(b.Dx(), b.Dy())
}

// paint composites the accumulated coverage in c over the page.
func (p *painter) paint(c contentstream.Color, alpha float64) {
	if alpha <= 0 {
		return
	}
	src := image.NewUniform(nrgba(c, alpha))
	p.ras.Draw(p.img, p.img.Bounds(), src, image.Point{})
}

func nrgba(c contentstream.Color, alpha float64) color.NRGBA {
	return color.NRGBA{R: unit8(c.R), G: unit8(c.G), B: unit8(c.B), A: unit8(alpha)}
}

func unit8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	}
	return uint8(v*255 + 0.5)
}

func f32(v float64) float32 { return float32(v) }

// resource looks up /category /name in a resource dictionary.
func (p *painter) resource(resources *raw.DictObj, category, name string) (raw.Object, bool) {
	if resources == nil {
		return nil, false
	}
	cat, ok := p.doc.Dict(resources.KV[category])
	if !ok {
		return nil, false
	}
	v, ok := cat.Get(name)
	if !ok {
		return nil, false
	}
	return v, true
}

func (p *painter) extGState(resources *raw.DictObj, name string, gs *contentstream.GraphicsState) {
	obj, ok := p.resource(resources, "ExtGState", name)
	if !ok {
		return
	}
	d, ok := p.doc.Dict(obj)
	if !ok {
		return
	}
	if v, ok := raw.Number(p.doc.Resolve(d.KV["ca"])); ok {
		gs.FillAlpha = clampUnit(v)
	}
	if v, ok := raw.Number(p.doc.Resolve(d.KV["CA"])); ok {
		gs.StrokeAlpha = clampUnit(v)
	}
	if v, ok := raw.Number(p.doc.Resolve(d.KV["LW"])); ok {
		gs.LineWidth = v
	}
}

func clampUnit(v float64) float64 { return math.Max(0, math.Min(1, v)) }

// xobject paints an image or runs a form with its own matrix and resources.
func (p *painter) xobject(resources *raw.DictObj, name string, gs *contentstream.GraphicsState, depth int) error {
	obj, ok := p.resource(resources, "XObject", name)
	if !ok {
		return nil
	}
	s, ok := p.doc.Stream(obj)
	if !ok {
		return nil
	}
	switch sub, _ := s.Dict.Name("Subtype"); sub {
	case "Image":
		p.drawImageXObject(s, resources, gs)
	case "Form":
		if depth+1 > p.limits.MaxXObjectDepth {
			p.logger.Debug("form nesting too deep", observability.String("name", name), observability.Int("depth", depth+1))
			return nil
		}
		if r, ok := obj.(raw.RefObj); ok && p.onStack(r.R) {
			return nil
		}
		data, err := s.Decoded(p.ctx)
		if err != nil {
			if cerr := pdferr.CheckContext(p.ctx); cerr != nil {
				return cerr
			}
			p.logger.Debug("form undecodable", observability.String("name", name), observability.Error("err", err))
			return nil
		}
		m := coords.Identity()
		if arr, ok := p.doc.Array(s.Dict.KV["Matrix"]); ok && arr.Len() == 6 {
			for i, it := range arr.Items {
				if v, ok := raw.Number(p.doc.Resolve(it)); ok {
					m[i] = v
				}
			}
		}
		formRes := resources
		if d, ok := p.doc.Dict(s.Dict.KV["Resources"]); ok {
			formRes = d
		}
		inner := contentstream.NewGraphicsState(m.Multiply(gs.CTM))
		inner.Fill, inner.Stroke = gs.Fill, gs.Stroke
		inner.FillAlpha, inner.StrokeAlpha = gs.FillAlpha, gs.StrokeAlpha
		inner.LineWidth = gs.LineWidth
		saved := p.path
		p.path = nil
		if r, ok := obj.(raw.RefObj); ok {
			p.forms = append(p.forms, r.R)
			defer func() { p.forms = p.forms[:len(p.forms)-1] }()
		}
		err = p.runWith(data, formRes, inner, depth+1)
		p.path = saved
		return err
	default:
		p.skip("Do /" + sub)
	}
	return nil
}

func (p *painter) onStack(ref raw.ObjectRef) bool {
	for _, r := range p.forms {
		if r == ref {
			return true
		}
	}
	return false
}
