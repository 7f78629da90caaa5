package filters

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcompose/ir/raw"
)

type flateDecoder struct{ maxSize int64 }

func NewFlateDecoder(maxSize int64) Decoder { return flateDecoder{maxSize: maxSize} }

func (flateDecoder) Name() string { return "FlateDecode" }

// Decode inflates zlib data. Raw deflate data without the zlib header and streams
// truncated before the checksum are accepted; many producers emit both.
func (f flateDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	var r io.ReadCloser
	zr, err := zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		r = flate.NewReader(bytes.NewReader(in))
	} else {
		r = zr
	}
	defer r.Close()

	out, err := readLimited(r, f.maxSize)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, zlib.ErrChecksum) {
		if len(out) == 0 {
			return nil, err
		}
	}
	return applyPredictor(out, params)
}

func readLimited(r io.Reader, max int64) ([]byte, error) {
	var buf bytes.Buffer
	if max > 0 {
		n, err := io.Copy(&buf, io.LimitReader(r, max+1))
		if n > max {
			return nil, errors.Errorf("decompressed size exceeds limit %d", max)
		}
		return buf.Bytes(), err
	}
	_, err := io.Copy(&buf, r)
	return buf.Bytes(), err
}

// FlateEncode compresses data with zlib framing.
func FlateEncode(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// applyPredictor undoes PNG (10-15) and TIFF (2) predictors.
func applyPredictor(data []byte, params *raw.DictObj) ([]byte, error) {
	predictor := intParam(params, "Predictor", 1)
	if predictor <= 1 {
		return data, nil
	}
	colors := intParam(params, "Colors", 1)
	bpc := intParam(params, "BitsPerComponent", 8)
	columns := intParam(params, "Columns", 1)
	if colors < 1 || bpc < 1 || columns < 1 {
		return nil, errors.Errorf("invalid predictor parameters colors=%d bpc=%d columns=%d", colors, bpc, columns)
	}
	bytesPerPixel := (colors*bpc + 7) / 8
	rowSize := (colors*bpc*columns + 7) / 8

	switch {
	case predictor == 2:
		return tiffPredictor(data, rowSize, bytesPerPixel, bpc), nil
	case predictor >= 10:
		return pngPredictor(data, rowSize, bytesPerPixel)
	}
	return nil, errors.Errorf("unsupported predictor %d", predictor)
}

func pngPredictor(data []byte, rowSize, bpp int) ([]byte, error) {
	stride := rowSize + 1
	rows := len(data) / stride
	out := make([]byte, 0, rows*rowSize)
	prev := make([]byte, rowSize)
	cur := make([]byte, rowSize)
	for r := 0; r < rows; r++ {
		line := data[r*stride : (r+1)*stride]
		copy(cur, line[1:])
		if err := unfilterRow(line[0], cur, prev, bpp); err != nil {
			return nil, err
		}
		out = append(out, cur...)
		prev, cur = cur, prev
	}
	return out, nil
}

func unfilterRow(filter byte, cur, prev []byte, bpp int) error {
	switch filter {
	case 0: // None
	case 1: // Sub
		for i := bpp; i < len(cur); i++ {
			cur[i] += cur[i-bpp]
		}
	case 2: // Up
		for i := range cur {
			cur[i] += prev[i]
		}
	case 3: // Average
		for i := range cur {
			var left int
			if i >= bpp {
				left = int(cur[i-bpp])
			}
			cur[i] += byte((left + int(prev[i])) / 2)
		}
	case 4: // Paeth
		for i := range cur {
			var a, c int
			if i >= bpp {
				a = int(cur[i-bpp])
				c = int(prev[i-bpp])
			}
			cur[i] += paeth(a, int(prev[i]), c)
		}
	default:
		return errors.Errorf("invalid PNG filter type %d", filter)
	}
	return nil
}

func paeth(a, b, c int) byte {
	p := a + b - c
	pa, pb, pc := abs(p-a), abs(p-b), abs(p-c)
	if pa <= pb && pa <= pc {
		return byte(a)
	}
	if pb <= pc {
		return byte(b)
	}
	return byte(c)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func tiffPredictor(data []byte, rowSize, bpp, bpc int) []byte {
	out := append([]byte(nil), data...)
	if bpc != 8 {
		return out
	}
	for r := 0; r+rowSize <= len(out); r += rowSize {
		row := out[r : r+rowSize]
		for i := bpp; i < len(row); i++ {
			row[i] += row[i-bpp]
		}
	}
	return out
}
