package filters

import (
	"bytes"
	"context"
	"io"

	"github.com/hhrutter/lzw"

	"github.com/wudi/pdfcompose/ir/raw"
)

type lzwDecoder struct{ maxSize int64 }

func NewLZWDecoder(maxSize int64) Decoder { return lzwDecoder{maxSize: maxSize} }

func (lzwDecoder) Name() string { return "LZWDecode" }

func (l lzwDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	rc := lzw.NewReader(bytes.NewReader(in), intParam(params, "EarlyChange", 1) == 1)
	defer rc.Close()
	out, err := readLimited(rc, l.maxSize)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return applyPredictor(out, params)
}

// LZWEncode compresses data the way LZWDecode with the default EarlyChange reads it.
func LZWEncode(data []byte) ([]byte, error) {
	var b bytes.Buffer
	wc := lzw.NewWriter(&b, true)
	if _, err := wc.Write(data); err != nil {
		return nil, err
	}
	if err := wc.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}
