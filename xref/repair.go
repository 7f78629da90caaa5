package xref

import (
	"bytes"
	"context"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcompose/ir/raw"
	"github.com/wudi/pdfcompose/pdferr"
	"github.com/wudi/pdfcompose/scanner"
)

var objKeyword = []byte("obj")

// Repair rebuilds the table by scanning for "num gen obj" headers. A later header
// for the same number replaces an earlier one. The trailer is the last 'trailer'
// dictionary, falling back to the last xref stream dictionary; it may lack /Root,
// which the caller then locates by content.
func Repair(ctx context.Context, data []byte) (*Table, error) {
	t := newTable("repair")
	t.Repaired = true
	for p, n := 0, 0; p < len(data); n++ {
		if n%1024 == 0 {
			if err := pdferr.CheckContext(ctx); err != nil {
				return nil, err
			}
		}
		idx := bytes.Index(data[p:], objKeyword)
		if idx < 0 {
			break
		}
		at := p + idx
		p = at + len(objKeyword)
		if at+3 < len(data) && !scanner.IsDelimiter(data[at+3]) {
			continue
		}
		start, ok := headerStart(data, at)
		if !ok {
			continue
		}
		num, gen, ok := headerAt(data, int64(start))
		if !ok || num == 0 {
			continue
		}
		t.entries[num] = Entry{Kind: EntryInUse, Offset: int64(start), Gen: gen}
	}
	if len(t.entries) == 0 {
		return nil, errors.Wrap(pdferr.ErrInvalidDocument, "repair found no objects")
	}
	if tr := lastTrailer(data); tr != nil {
		t.trailer = tr
	} else if tr := lastXRefStreamDict(data, t); tr != nil {
		t.trailer = tr
	}
	t.trailer.Delete("Prev")
	t.trailer.Delete("XRefStm")
	return t, nil
}

// headerStart walks back from the obj keyword over "gen" and "num" and returns
// the offset of the first digit, which must sit at a token boundary.
func headerStart(data []byte, objAt int) (int, bool) {
	p := objAt
	for k := 0; k < 2; k++ {
		q := p - 1
		for q >= 0 && scanner.IsWhitespace(data[q]) {
			q--
		}
		if q == p-1 {
			return 0, false
		}
		end := q
		for q >= 0 && data[q] >= '0' && data[q] <= '9' {
			q--
		}
		if q == end {
			return 0, false
		}
		p = q + 1
	}
	if p > 0 && !scanner.IsDelimiter(data[p-1]) {
		return 0, false
	}
	return p, true
}

func lastTrailer(data []byte) *raw.DictObj {
	end := len(data)
	for end > 0 {
		idx := bytes.LastIndex(data[:end], []byte("trailer"))
		if idx < 0 {
			return nil
		}
		end = idx
		s := scanner.New(data, scanner.Config{})
		if err := s.Seek(int64(idx + len("trailer"))); err != nil {
			continue
		}
		obj, err := scanner.NewObjectReader(s).ReadObject()
		if err != nil {
			continue
		}
		if d, ok := obj.(*raw.DictObj); ok {
			return d
		}
	}
	return nil
}

func lastXRefStreamDict(data []byte, t *Table) *raw.DictObj {
	var best *raw.DictObj
	var bestOff int64 = -1
	for _, e := range t.entries {
		if e.Offset < bestOff {
			continue
		}
		s := scanner.New(data, scanner.Config{})
		if err := s.Seek(e.Offset); err != nil {
			continue
		}
		rd := scanner.NewObjectReader(s)
		ok := true
		for i := 0; i < 3 && ok; i++ {
			_, err := rd.Next()
			ok = err == nil
		}
		if !ok {
			continue
		}
		obj, err := rd.ReadObject()
		if err != nil {
			continue
		}
		if d, isDict := obj.(*raw.DictObj); isDict {
			if typ, _ := d.Name("Type"); typ == "XRef" {
				best, bestOff = trailerFromStream(d), e.Offset
			}
		}
	}
	return best
}
