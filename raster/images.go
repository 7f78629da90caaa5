package raster

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"math"

	"github.com/pkg/errors"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/wudi/pdfcompose/contentstream"
	"github.com/wudi/pdfcompose/coords"
	"github.com/wudi/pdfcompose/filters"
	"github.com/wudi/pdfcompose/ir/raw"
	"github.com/wudi/pdfcompose/observability"
)

func (p *painter) drawImageXObject(s *raw.StreamObj, resources *raw.DictObj, gs *contentstream.GraphicsState) {
	img, err := p.decodeImage(s.Dict, s.Data, resources, gs.Fill)
	if err != nil {
		p.logger.Debug("image skipped", observability.Error("err", err))
		return
	}
	p.drawImage(img, gs)
}

var inlineKeys = map[string]string{
	"W":   "Width",
	"H":   "Height",
	"BPC": "BitsPerComponent",
	"CS":  "ColorSpace",
	"F":   "Filter",
	"DP":  "DecodeParms",
	"IM":  "ImageMask",
	"D":   "Decode",
	"I":   "Interpolate",
}

func (p *painter) inlineImage(op contentstream.Operation, resources *raw.DictObj, gs *contentstream.GraphicsState) {
	if len(op.Operands) == 0 {
		return
	}
	params, ok := op.Operands[0].(*raw.DictObj)
	if !ok {
		return
	}
	dict := raw.Dict()
	for k, v := range params.KV {
		if full, ok := inlineKeys[k]; ok {
			k = full
		}
		dict.Set(k, v)
	}
	img, err := p.decodeImage(dict, op.ImageData, resources, gs.Fill)
	if err != nil {
		p.logger.Debug("inline image skipped", observability.Error("err", err))
		return
	}
	p.drawImage(img, gs)
}

// drawImage maps the image onto the unit square of the current matrix, first
// row at the top.
func (p *painter) drawImage(img image.Image, gs *contentstream.GraphicsState) {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	m := coords.Matrix{1 / w, 0, 0, -1 / h, -float64(b.Min.X) / w, 1 + float64(b.Min.Y)/h}.Multiply(gs.CTM)
	if math.Abs(m[0]*m[3]-m[1]*m[2]) < 1e-9 {
		return
	}
	s2d := f64.Aff3{m[0], m[2], m[4], m[1], m[3], m[5]}
	var opts *xdraw.Options
	if gs.FillAlpha < 1 {
		opts = &xdraw.Options{SrcMask: image.NewUniform(color.Alpha{A: unit8(gs.FillAlpha)})}
	}
	xdraw.ApproxBiLinear.Transform(p.img, s2d, img, b, xdraw.Over, opts)
}

// decodeImage turns an image dictionary and its encoded body into pixels. JPEG
// is decoded natively; raw samples may be 1 to 16 bits per component.
func (p *painter) decodeImage(dict *raw.DictObj, data []byte, resources *raw.DictObj, fill contentstream.Color) (image.Image, error) {
	w, _ := p.intValue(dict, "Width")
	h, _ := p.intValue(dict, "Height")
	if err := filters.ValidateImageBounds(w, h); err != nil {
		return nil, err
	}
	body, codec, err := p.pipeline.DecodeUntilImage(p.ctx, dict, data)
	if err != nil {
		return nil, err
	}

	var img image.Image
	switch codec {
	case "DCTDecode":
		img, err = jpeg.Decode(bytes.NewReader(body))
		if err != nil {
			return nil, errors.Wrap(err, "jpeg")
		}
	case "":
		if mask, _ := p.doc.Resolve(dict.KV["ImageMask"]).(raw.BoolObj); mask.V {
			return p.stencil(dict, body, w, h, fill)
		}
		img, err = p.samples(dict, body, w, h, resources)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.Errorf("unsupported image codec %s", codec)
	}

	if s, ok := p.doc.Stream(dict.KV["SMask"]); ok {
		if alpha, err := p.softMask(s, img.Bounds()); err == nil {
			return withAlpha(img, alpha), nil
		}
	}
	return img, nil
}

func (p *painter) intValue(d *raw.DictObj, key string) (int, bool) {
	v, ok := raw.Number(p.doc.Resolve(d.KV[key]))
	return int(v), ok
}

// colorSpace is a resolved image colour space. Indexed spaces carry their
// palette expanded to base components in [0,1].
type colorSpace struct {
	n       int
	palette [][]float64
}

func (p *painter) colorSpace(o raw.Object, resources *raw.DictObj, depth int) (colorSpace, error) {
	if depth > 4 {
		return colorSpace{}, errors.New("colour space nesting too deep")
	}
	switch v := p.doc.Resolve(o).(type) {
	case raw.NameObj:
		switch v.Val {
		case "DeviceGray", "G", "CalGray":
			return colorSpace{n: 1}, nil
		case "DeviceRGB", "RGB", "CalRGB":
			return colorSpace{n: 3}, nil
		case "DeviceCMYK", "CMYK":
			return colorSpace{n: 4}, nil
		}
		if named, ok := p.resource(resources, "ColorSpace", v.Val); ok {
			return p.colorSpace(named, resources, depth+1)
		}
		return colorSpace{}, errors.Errorf("unknown colour space %s", v.Val)
	case *raw.ArrayObj:
		if v.Len() == 0 {
			break
		}
		family, _ := v.Items[0].(raw.NameObj)
		switch family.Val {
		case "CalGray":
			return colorSpace{n: 1}, nil
		case "CalRGB", "Lab":
			return colorSpace{n: 3}, nil
		case "ICCBased":
			if v.Len() > 1 {
				if s, ok := p.doc.Stream(v.Items[1]); ok {
					if n, ok := p.intValue(s.Dict, "N"); ok && (n == 1 || n == 3 || n == 4) {
						return colorSpace{n: n}, nil
					}
				}
			}
		case "Indexed", "I":
			if v.Len() == 4 {
				return p.indexed(v, resources, depth)
			}
		}
		return colorSpace{}, errors.Errorf("unsupported colour space %s", family.Val)
	}
	return colorSpace{}, errors.New("missing colour space")
}

func (p *painter) indexed(arr *raw.ArrayObj, resources *raw.DictObj, depth int) (colorSpace, error) {
	base, err := p.colorSpace(arr.Items[1], resources, depth+1)
	if err != nil || base.palette != nil {
		return colorSpace{}, errors.New("unsupported indexed base")
	}
	hival, ok := raw.Number(p.doc.Resolve(arr.Items[2]))
	if !ok || hival < 0 || hival > 255 {
		return colorSpace{}, errors.New("indexed hival out of range")
	}
	var lookup []byte
	switch l := p.doc.Resolve(arr.Items[3]).(type) {
	case raw.StringObj:
		lookup = l.Bytes
	case *raw.StreamObj:
		if lookup, err = l.Decoded(p.ctx); err != nil {
			return colorSpace{}, err
		}
	}
	palette := make([][]float64, int(hival)+1)
	for i := range palette {
		entry := make([]float64, base.n)
		for c := range entry {
			if j := i*base.n + c; j < len(lookup) {
				entry[c] = float64(lookup[j]) / 255
			}
		}
		palette[i] = entry
	}
	return colorSpace{n: 1, palette: palette}, nil
}

// bitReader reads big-endian samples of up to 16 bits from byte-aligned rows.
type bitReader struct {
	data []byte
	pos  int // in bits
}

func (r *bitReader) read(bits int) uint32 {
	var v uint32
	for i := 0; i < bits; i++ {
		byteIdx := r.pos >> 3
		bit := (r.data[byteIdx] >> (7 - uint(r.pos&7))) & 1
		v = v<<1 | uint32(bit)
		r.pos++
	}
	return v
}

func (p *painter) samples(dict *raw.DictObj, body []byte, w, h int, resources *raw.DictObj) (image.Image, error) {
	cs, err := p.colorSpace(dict.KV["ColorSpace"], resources, 0)
	if err != nil {
		return nil, err
	}
	bpc, ok := p.intValue(dict, "BitsPerComponent")
	if !ok {
		bpc = 8
	}
	switch bpc {
	case 1, 2, 4, 8, 16:
	default:
		return nil, errors.Errorf("unsupported bits per component %d", bpc)
	}
	rowBytes := (w*cs.n*bpc + 7) / 8
	if len(body) < rowBytes*h {
		return nil, errors.Errorf("image data too short: %d < %d", len(body), rowBytes*h)
	}
	decode := p.decodeArray(dict, cs.n)
	maxVal := float64(uint32(1)<<uint(bpc) - 1)

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	comps := make([]float64, cs.n)
	for y := 0; y < h; y++ {
		r := bitReader{data: body[y*rowBytes : (y+1)*rowBytes]}
		for x := 0; x < w; x++ {
			var c contentstream.Color
			if cs.palette != nil {
				idx := int(r.read(bpc))
				if idx >= len(cs.palette) {
					idx = len(cs.palette) - 1
				}
				c = contentstream.ColorFromComponents(cs.palette[idx])
			} else {
				for i := range comps {
					v := float64(r.read(bpc)) / maxVal
					if decode != nil {
						v = decode[2*i] + v*(decode[2*i+1]-decode[2*i])
					}
					comps[i] = v
				}
				c = contentstream.ColorFromComponents(comps)
			}
			out.SetNRGBA(x, y, nrgba(c, 1))
		}
	}
	return out, nil
}

func (p *painter) decodeArray(dict *raw.DictObj, n int) []float64 {
	arr, ok := p.doc.Array(dict.KV["Decode"])
	if !ok || arr.Len() != 2*n {
		return nil
	}
	out := make([]float64, 2*n)
	for i, it := range arr.Items {
		out[i], _ = raw.Number(p.doc.Resolve(it))
	}
	return out
}

// stencil paints the fill colour where the mask sample is 0 (or 1 with
// Decode [1 0]).
func (p *painter) stencil(dict *raw.DictObj, body []byte, w, h int, fill contentstream.Color) (image.Image, error) {
	rowBytes := (w + 7) / 8
	if len(body) < rowBytes*h {
		return nil, errors.Errorf("stencil data too short: %d < %d", len(body), rowBytes*h)
	}
	paintBit := uint32(0)
	if d := p.decodeArray(dict, 1); d != nil && d[0] > d[1] {
		paintBit = 1
	}
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	c := nrgba(fill, 1)
	for y := 0; y < h; y++ {
		r := bitReader{data: body[y*rowBytes : (y+1)*rowBytes]}
		for x := 0; x < w; x++ {
			if r.read(1) == paintBit {
				out.SetNRGBA(x, y, c)
			}
		}
	}
	return out, nil
}

// softMask decodes an 8-bit DeviceGray /SMask of the same size as the image.
func (p *painter) softMask(s *raw.StreamObj, bounds image.Rectangle) (*image.Gray, error) {
	w, _ := p.intValue(s.Dict, "Width")
	h, _ := p.intValue(s.Dict, "Height")
	if w != bounds.Dx() || h != bounds.Dy() {
		return nil, errors.Errorf("soft mask %dx%d does not match image %dx%d", w, h, bounds.Dx(), bounds.Dy())
	}
	if bpc, ok := p.intValue(s.Dict, "BitsPerComponent"); ok && bpc != 8 {
		return nil, errors.Errorf("soft mask with %d bits per component", bpc)
	}
	body, codec, err := p.pipeline.DecodeUntilImage(p.ctx, s.Dict, s.Data)
	if err != nil {
		return nil, err
	}
	if codec == "DCTDecode" {
		img, err := jpeg.Decode(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		g := image.NewGray(bounds)
		xdraw.Draw(g, bounds, img, img.Bounds().Min, xdraw.Src)
		return g, nil
	}
	if codec != "" || len(body) < w*h {
		return nil, errors.New("unsupported soft mask")
	}
	return &image.Gray{Pix: body[:w*h], Stride: w, Rect: image.Rect(0, 0, w, h)}, nil
}

func withAlpha(img image.Image, alpha *image.Gray) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(out, out.Bounds(), img, b.Min, xdraw.Src)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			a := alpha.GrayAt(x, y).Y
			i := out.PixOffset(x, y)
			out.Pix[i+3] = uint8(uint16(out.Pix[i+3]) * uint16(a) / 255)
		}
	}
	return out
}
