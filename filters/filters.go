package filters

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcompose/ir/raw"
)

// Decoder removes one PDF stream filter.
type Decoder interface {
	Name() string
	Decode(ctx context.Context, input []byte, params *raw.DictObj) ([]byte, error)
}

type Limits struct {
	MaxDecompressedSize int64
	MaxDecodeTime       time.Duration
}

// Pipeline applies a chain of decoders in the order a stream declares them.
type Pipeline struct {
	decoders map[string]Decoder
	limits   Limits
}

// NewPipeline constructs a pipeline with provided decoders and limits.
func NewPipeline(decoders []Decoder, limits Limits) *Pipeline {
	p := &Pipeline{decoders: make(map[string]Decoder, len(decoders)), limits: limits}
	for _, d := range decoders {
		p.decoders[d.Name()] = d
	}
	return p
}

// NewStandardPipeline returns a pipeline with every built-in decoder registered.
func NewStandardPipeline(limits Limits) *Pipeline {
	return NewPipeline([]Decoder{
		NewFlateDecoder(limits.MaxDecompressedSize),
		NewLZWDecoder(limits.MaxDecompressedSize),
		NewASCII85Decoder(),
		NewASCIIHexDecoder(),
		NewRunLengthDecoder(),
		NewCCITTFaxDecoder(),
		passthrough("DCTDecode"),
		passthrough("JPXDecode"),
		passthrough("JBIG2Decode"),
		// Decryption happens while loading; the Crypt filter is a no-op afterwards.
		passthrough("Crypt"),
	}, limits)
}

var abbreviations = map[string]string{
	"Fl":  "FlateDecode",
	"LZW": "LZWDecode",
	"A85": "ASCII85Decode",
	"AHx": "ASCIIHexDecode",
	"RL":  "RunLengthDecode",
	"CCF": "CCITTFaxDecode",
	"DCT": "DCTDecode",
}

// Decode runs data through the named filters.
func (p *Pipeline) Decode(ctx context.Context, input []byte, filterNames []string, params []*raw.DictObj) ([]byte, error) {
	if p.limits.MaxDecodeTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.limits.MaxDecodeTime)
		defer cancel()
	}
	data := input
	for i, name := range filterNames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if full, ok := abbreviations[name]; ok {
			name = full
		}
		dec, ok := p.decoders[name]
		if !ok {
			return nil, errors.Errorf("unknown filter: %s", name)
		}
		var param *raw.DictObj
		if i < len(params) {
			param = params[i]
		}
		out, err := dec.Decode(ctx, data, param)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", name)
		}
		if p.limits.MaxDecompressedSize > 0 && int64(len(out)) > p.limits.MaxDecompressedSize {
			return nil, errors.Errorf("%s: decompressed size %d exceeds limit %d", name, len(out), p.limits.MaxDecompressedSize)
		}
		data = out
	}
	return data, nil
}

// DecodeStream implements raw.StreamDecoder.
func (p *Pipeline) DecodeStream(ctx context.Context, dict *raw.DictObj, data []byte) ([]byte, error) {
	names, params := ExtractFilters(dict)
	return p.Decode(ctx, data, names, params)
}

// DecodeUntilImage strips filters up to the first image codec (DCT, JPX, JBIG2,
// CCITT is decoded) and returns the remaining codec name, if any.
func (p *Pipeline) DecodeUntilImage(ctx context.Context, dict *raw.DictObj, data []byte) ([]byte, string, error) {
	names, params := ExtractFilters(dict)
	for i, n := range names {
		if full, ok := abbreviations[n]; ok {
			n = full
		}
		switch n {
		case "DCTDecode", "JPXDecode", "JBIG2Decode":
			out, err := p.Decode(ctx, data, names[:i], params)
			return out, n, err
		}
	}
	out, err := p.Decode(ctx, data, names, params)
	return out, "", err
}

type passthrough string

func (p passthrough) Name() string { return string(p) }
func (p passthrough) Decode(_ context.Context, in []byte, _ *raw.DictObj) ([]byte, error) {
	return in, nil
}

func intParam(params *raw.DictObj, key string, def int) int {
	if params == nil {
		return def
	}
	if v, ok := params.Int(key); ok {
		return int(v)
	}
	if b, ok := params.Get(key); ok {
		if bv, ok := b.(raw.BoolObj); ok {
			if bv.V {
				return 1
			}
			return 0
		}
	}
	return def
}
