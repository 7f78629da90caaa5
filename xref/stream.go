package xref

import (
	"context"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcompose/ir/raw"
	"github.com/wudi/pdfcompose/pdferr"
	"github.com/wudi/pdfcompose/scanner"
)

// parseStream reads a cross-reference stream object at offset.
func (r *Resolver) parseStream(ctx context.Context, data []byte, offset int64) (*Table, error) {
	num, _, ok := headerAt(data, offset)
	if !ok {
		return nil, &pdferr.ParseError{Offset: offset, Component: "xref", Err: errors.New("expected xref table or stream")}
	}
	s := scanner.New(data, scanner.Config{})
	if err := s.Seek(offset); err != nil {
		return nil, &pdferr.ParseError{Offset: offset, Component: "xref", Err: err}
	}
	rd := scanner.NewObjectReader(s)
	for i := 0; i < 3; i++ { // num gen obj
		if _, err := rd.Next(); err != nil {
			return nil, &pdferr.ParseError{Offset: offset, Component: "xref", Err: err}
		}
	}
	obj, err := rd.ReadObject()
	if err != nil {
		return nil, &pdferr.ParseError{Offset: offset, Component: "xref", Err: err}
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, &pdferr.ParseError{Offset: offset, Component: "xref", Err: errors.Errorf("object %d is not a stream dictionary", num)}
	}
	if typ, _ := dict.Name("Type"); typ != "XRef" {
		return nil, &pdferr.ParseError{Offset: offset, Component: "xref", Err: errors.Errorf("object %d is not an xref stream", num)}
	}
	if n, ok := dict.Int("Length"); ok {
		s.SetNextStreamLength(n)
	}
	tok, err := rd.Next()
	if err != nil || tok.Type != scanner.TokenStream {
		return nil, &pdferr.ParseError{Offset: offset, Component: "xref", Err: errors.New("xref stream has no data")}
	}
	decoded, err := r.cfg.Filters.DecodeStream(ctx, dict, tok.Bytes)
	if err != nil {
		return nil, &pdferr.ParseError{Offset: offset, Component: "xref", Err: errors.Wrap(err, "decode xref stream")}
	}
	t, err := decodeStreamEntries(dict, decoded)
	if err != nil {
		return nil, &pdferr.ParseError{Offset: offset, Component: "xref", Err: err}
	}
	t.trailer = trailerFromStream(dict)
	return t, nil
}

func decodeStreamEntries(dict *raw.DictObj, data []byte) (*Table, error) {
	t := newTable("stream")
	t.Stream = true
	wObj, _ := dict.Get("W")
	wArr, ok := wObj.(*raw.ArrayObj)
	if !ok || wArr.Len() != 3 {
		return nil, errors.New("xref stream /W must have three entries")
	}
	var w [3]int
	rowSize := 0
	for i := range w {
		v, ok := raw.Number(wArr.Items[i])
		if !ok || v < 0 || v > 8 {
			return nil, errors.New("invalid /W entry")
		}
		w[i] = int(v)
		rowSize += w[i]
	}
	if rowSize == 0 {
		return nil, errors.New("empty /W")
	}
	size, _ := dict.Int("Size")
	index := []int64{0, size}
	if idxObj, ok := dict.Get("Index"); ok {
		if arr, ok := idxObj.(*raw.ArrayObj); ok && arr.Len()%2 == 0 {
			index = index[:0]
			for _, it := range arr.Items {
				v, _ := raw.Number(it)
				index = append(index, int64(v))
			}
		}
	}
	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		start, count := int(index[i]), int(index[i+1])
		for k := 0; k < count; k++ {
			if pos+rowSize > len(data) {
				return t, nil
			}
			row := data[pos : pos+rowSize]
			pos += rowSize
			typ := int64(1)
			if w[0] > 0 {
				typ = field(row[:w[0]])
			}
			f2 := field(row[w[0] : w[0]+w[1]])
			f3 := field(row[w[0]+w[1]:])
			num := start + k
			if _, dup := t.entries[num]; dup {
				continue
			}
			switch typ {
			case 0:
				t.entries[num] = Entry{Kind: EntryFree, Gen: int(f3)}
			case 1:
				t.entries[num] = Entry{Kind: EntryInUse, Offset: f2, Gen: int(f3)}
			case 2:
				t.entries[num] = Entry{Kind: EntryCompressed, Stream: int(f2), Index: int(f3)}
			}
		}
	}
	return t, nil
}

func field(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

// trailerFromStream keeps the trailer keys of an xref stream dictionary.
func trailerFromStream(dict *raw.DictObj) *raw.DictObj {
	tr := raw.Dict()
	for _, k := range []string{"Size", "Root", "Info", "ID", "Encrypt", "Prev"} {
		if v, ok := dict.Get(k); ok {
			tr.Set(k, v)
		}
	}
	return tr
}
