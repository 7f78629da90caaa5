package filters

import (
	"bytes"
	"context"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/image/ccitt"

	"github.com/wudi/pdfcompose/ir/raw"
)

type ccittDecoder struct{}

func NewCCITTFaxDecoder() Decoder { return ccittDecoder{} }

func (ccittDecoder) Name() string { return "CCITTFaxDecode" }

// Decode expands Group 3 (1-D) and Group 4 fax data to 1-bit rows.
func (ccittDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	k := intParam(params, "K", 0)
	if k > 0 {
		return nil, errors.New("CCITTFax mixed 1-D/2-D encoding (K > 0) unsupported")
	}
	cols := intParam(params, "Columns", 1728)
	rows := intParam(params, "Rows", 0)
	if rows <= 0 {
		rows = ccitt.AutoDetectHeight
	}
	opts := &ccitt.Options{
		Invert: intParam(params, "BlackIs1", 0) == 1,
		Align:  intParam(params, "EncodedByteAlign", 0) == 1,
	}
	mode := ccitt.Group3
	if k < 0 {
		mode = ccitt.Group4
	}
	rd := ccitt.NewReader(bytes.NewReader(in), ccitt.MSB, mode, cols, rows, opts)
	var b bytes.Buffer
	if _, err := io.Copy(&b, rd); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}
