// Package writer serializes a raw.Document: live objects in ascending order, a
// cross-reference table or stream, and a trailer. Encrypted documents are encrypted
// on the way out; the Document itself is never modified.
package writer

import (
	"bytes"
	"compress/flate"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"strconv"

	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"

	"github.com/wudi/pdfcompose/filters"
	"github.com/wudi/pdfcompose/ir/raw"
	"github.com/wudi/pdfcompose/pdferr"
	"github.com/wudi/pdfcompose/security"
)

// XRefStyle selects the cross-reference format.
type XRefStyle int

const (
	// XRefAuto keeps the style the document was parsed with.
	XRefAuto XRefStyle = iota
	XRefTable
	XRefStream
)

type Config struct {
	// Compress Flate-encodes streams that carry no filter.
	Compress   bool
	XRefStream XRefStyle
	// Deterministic derives a missing file identifier from the content instead of
	// drawing it at random.
	Deterministic bool
}

// Writer is safe for concurrent use; it holds only configuration.
type Writer struct {
	cfg Config
}

func New(cfg Config) *Writer { return &Writer{cfg: cfg} }

// Write returns the serialized document.
func (w *Writer) Write(ctx context.Context, doc *raw.Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := w.WriteTo(ctx, doc, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo serializes doc into out. Nothing is written when an error is returned.
func (w *Writer) WriteTo(ctx context.Context, doc *raw.Document, out io.Writer) error {
	if _, ok := doc.Catalog(); !ok {
		return &pdferr.ParseError{Offset: -1, Component: "catalog", Err: errors.Errorf("root %v is not a dictionary", doc.Root)}
	}
	live := Reachable(doc)

	var handler security.Handler
	if doc.Encryption != nil {
		h, err := security.NewHandler(doc.Encryption)
		if err != nil {
			return err
		}
		handler = h
	}

	bodies := make([][]byte, len(live))
	for i, ref := range live {
		if err := pdferr.CheckContext(ctx); err != nil {
			return err
		}
		obj, err := w.prepare(doc.Objects[ref], ref, handler, doc.Encryption)
		if err != nil {
			return errors.Wrapf(err, "object %v", ref)
		}
		bodies[i] = serializeObject(ref, obj)
	}

	ids := w.fileID(doc, bodies)
	useStream := w.cfg.XRefStream == XRefStream || (w.cfg.XRefStream == XRefAuto && doc.XRefStream)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%%PDF-%s\n%%\xE2\xE3\xCF\xD3\n", outputVersion(doc, useStream))
	offsets := make(map[int]int64, len(live)+2)
	gens := make(map[int]int, len(live)+2)
	next := 1
	for i, ref := range live {
		offsets[ref.Num] = int64(buf.Len())
		gens[ref.Num] = ref.Gen
		buf.Write(bodies[i])
		if ref.Num >= next {
			next = ref.Num + 1
		}
	}

	var encryptRef *raw.ObjectRef
	if doc.Encryption != nil {
		ref := raw.ObjectRef{Num: next}
		next++
		encryptRef = &ref
		offsets[ref.Num] = int64(buf.Len())
		buf.Write(serializeObject(ref, security.EncryptDict(doc.Encryption)))
	}

	trailer := buildTrailer(doc, encryptRef, ids)
	if useStream {
		ref := raw.ObjectRef{Num: next}
		next++
		if err := writeXRefStream(&buf, ref, offsets, gens, trailer, next); err != nil {
			return err
		}
	} else {
		writeXRefTable(&buf, offsets, gens, trailer, next)
	}
	if err := pdferr.CheckContext(ctx); err != nil {
		return err
	}
	_, err := out.Write(buf.Bytes())
	return errors.Wrap(err, "write output")
}

// SerializeObject renders "num gen obj ... endobj" without encryption.
func (w *Writer) SerializeObject(ref raw.ObjectRef, obj raw.Object) []byte {
	if s, ok := obj.(*raw.StreamObj); ok {
		obj = withLength(s.Dict, s.Data)
	}
	return serializeObject(ref, obj)
}

func serializeObject(ref raw.ObjectRef, obj raw.Object) []byte {
	buf := make([]byte, 0, 64)
	buf = strconv.AppendInt(buf, int64(ref.Num), 10)
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, int64(ref.Gen), 10)
	buf = append(buf, " obj\n"...)
	buf = AppendObject(buf, obj)
	return append(buf, "\nendobj\n"...)
}

// prepare returns the object as it goes on the wire: compressed if configured,
// encrypted if the document is protected, with a direct /Length.
func (w *Writer) prepare(obj raw.Object, ref raw.ObjectRef, handler security.Handler, state *raw.EncryptionState) (raw.Object, error) {
	if s, ok := obj.(*raw.StreamObj); ok {
		data := s.Data
		dict := shallowDict(s.Dict)
		if w.cfg.Compress && len(s.Filters()) == 0 && len(data) > 0 {
			enc, err := filters.FlateEncode(data, flate.DefaultCompression)
			if err != nil {
				return nil, err
			}
			data = enc
			dict.Set("Filter", raw.NameLiteral("FlateDecode"))
		}
		obj = &raw.StreamObj{Dict: dict, Data: data}
	}
	if handler != nil {
		var err error
		if obj, err = encryptObject(obj, ref, handler, state.EncryptMetadata); err != nil {
			return nil, err
		}
	}
	if s, ok := obj.(*raw.StreamObj); ok {
		obj = withLength(s.Dict, s.Data)
	}
	return obj, nil
}

func withLength(dict *raw.DictObj, data []byte) *raw.StreamObj {
	d := shallowDict(dict)
	d.Set("Length", raw.NumberInt(int64(len(data))))
	return &raw.StreamObj{Dict: d, Data: data}
}

func shallowDict(d *raw.DictObj) *raw.DictObj {
	c := raw.Dict()
	if d == nil {
		return c
	}
	for k, v := range d.KV {
		c.KV[k] = v
	}
	return c
}

// encryptObject returns an encrypted copy of every string and stream body in obj.
// Metadata streams stay in the clear when the handler leaves metadata unencrypted.
func encryptObject(obj raw.Object, ref raw.ObjectRef, handler security.Handler, encryptMetadata bool) (raw.Object, error) {
	switch v := obj.(type) {
	case raw.StringObj:
		encrypted, err := handler.Encrypt(ref.Num, ref.Gen, v.Bytes, security.DataClassString)
		if err != nil {
			return nil, err
		}
		return raw.StringObj{Bytes: encrypted, Hex: v.Hex}, nil
	case *raw.ArrayObj:
		arr := raw.NewArray()
		for _, item := range v.Items {
			enc, err := encryptObject(item, ref, handler, encryptMetadata)
			if err != nil {
				return nil, err
			}
			arr.Append(enc)
		}
		return arr, nil
	case *raw.DictObj:
		d := raw.Dict()
		for k, val := range v.KV {
			enc, err := encryptObject(val, ref, handler, encryptMetadata)
			if err != nil {
				return nil, err
			}
			d.Set(k, enc)
		}
		return d, nil
	case *raw.StreamObj:
		dict, err := encryptObject(v.Dict, ref, handler, encryptMetadata)
		if err != nil {
			return nil, err
		}
		if t, _ := v.Dict.Name("Type"); t == "Metadata" && !encryptMetadata {
			return &raw.StreamObj{Dict: dict.(*raw.DictObj), Data: v.Data}, nil
		}
		data, err := handler.Encrypt(ref.Num, ref.Gen, v.Data, security.DataClassStream)
		if err != nil {
			return nil, err
		}
		return &raw.StreamObj{Dict: dict.(*raw.DictObj), Data: data}, nil
	}
	return obj, nil
}

// Reachable lists, in ascending order, the objects reachable from the catalog, the
// info dictionary and the remaining trailer entries. Stream /Length references are
// not followed because lengths are written directly.
func Reachable(doc *raw.Document) []raw.ObjectRef {
	var seen bitset.BitSet
	byNum := make(map[int]raw.ObjectRef, len(doc.Objects))
	for ref := range doc.Objects {
		if cur, ok := byNum[ref.Num]; !ok || ref.Gen > cur.Gen {
			byNum[ref.Num] = ref
		}
	}

	var stack []raw.Object
	visit := func(o raw.Object) {
		r, ok := o.(raw.RefObj)
		if !ok {
			stack = append(stack, o)
			return
		}
		if r.R.Num < 0 || seen.Test(uint(r.R.Num)) {
			return
		}
		target, ok := doc.Objects[r.R]
		if !ok {
			return
		}
		seen.Set(uint(r.R.Num))
		stack = append(stack, target)
	}

	visit(raw.RefObj{R: doc.Root})
	if doc.Info != nil {
		visit(raw.RefObj{R: *doc.Info})
	}
	if doc.Trailer != nil {
		visit(doc.Trailer)
	}
	for len(stack) > 0 {
		o := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		switch v := o.(type) {
		case *raw.ArrayObj:
			for _, it := range v.Items {
				visit(it)
			}
		case *raw.DictObj:
			for _, val := range v.KV {
				visit(val)
			}
		case *raw.StreamObj:
			for k, val := range v.Dict.KV {
				if k != "Length" {
					visit(val)
				}
			}
		}
	}

	refs := make([]raw.ObjectRef, 0, seen.Count())
	for i, ok := seen.NextSet(0); ok; i, ok = seen.NextSet(i + 1) {
		if ref, found := byNum[int(i)]; found {
			refs = append(refs, ref)
		}
	}
	return refs
}

func outputVersion(doc *raw.Document, xrefStream bool) string {
	v := doc.Version
	if v == "" {
		v = "1.7"
	}
	need := "1.0"
	if xrefStream {
		need = "1.5"
	}
	if doc.Encryption != nil {
		switch doc.Encryption.Algorithm {
		case raw.AlgorithmRC4_128:
			need = maxVersion(need, "1.4")
		case raw.AlgorithmAES_128:
			need = maxVersion(need, "1.6")
		}
	}
	return maxVersion(v, need)
}

func maxVersion(a, b string) string {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA != nil || (errB == nil && fb > fa) {
		return b
	}
	return a
}

// fileID keeps the document's identifier; encrypted documents must keep the one
// their keys were derived from.
func (w *Writer) fileID(doc *raw.Document, bodies [][]byte) [2][]byte {
	var first []byte
	switch {
	case doc.Encryption != nil && len(doc.Encryption.ID) > 0:
		first = doc.Encryption.ID
	case len(doc.ID) > 0 && len(doc.ID[0]) > 0:
		first = doc.ID[0]
	}
	if first != nil {
		second := first
		if len(doc.ID) > 1 && len(doc.ID[1]) > 0 {
			second = doc.ID[1]
		}
		return [2][]byte{first, second}
	}
	if w.cfg.Deterministic {
		h := sha256.New()
		h.Write([]byte(doc.Version))
		for _, b := range bodies {
			h.Write(b)
		}
		seed := h.Sum(nil)[:16]
		return [2][]byte{seed, seed}
	}
	id := NewFileID()
	return [2][]byte{id, id}
}

// NewFileID returns 16 random bytes for a trailer /ID.
func NewFileID() []byte {
	id := make([]byte, 16)
	if _, err := rand.Read(id); err != nil {
		sum := sha256.Sum256([]byte(fmt.Sprint(err)))
		copy(id, sum[:])
	}
	return id
}

var reservedTrailerKeys = map[string]bool{
	"Size": true, "Prev": true, "XRefStm": true, "Encrypt": true, "Root": true, "Info": true, "ID": true,
	"Type": true, "W": true, "Index": true, "Filter": true, "DecodeParms": true, "Length": true,
}

// buildTrailer returns the trailer entries except /Size.
func buildTrailer(doc *raw.Document, encryptRef *raw.ObjectRef, ids [2][]byte) *raw.DictObj {
	trailer := raw.Dict()
	if doc.Trailer != nil {
		for k, v := range doc.Trailer.KV {
			if !reservedTrailerKeys[k] {
				trailer.Set(k, v)
			}
		}
	}
	trailer.Set("Root", raw.RefObj{R: doc.Root})
	if doc.Info != nil {
		trailer.Set("Info", raw.RefObj{R: *doc.Info})
	}
	if encryptRef != nil {
		trailer.Set("Encrypt", raw.RefObj{R: *encryptRef})
	}
	trailer.Set("ID", raw.NewArray(raw.HexStr(ids[0]), raw.HexStr(ids[1])))
	return trailer
}

func writeXRefTable(buf *bytes.Buffer, offsets map[int]int64, gens map[int]int, trailer *raw.DictObj, size int) {
	xrefAt := buf.Len()
	fmt.Fprintf(buf, "xref\n0 %d\n0000000000 65535 f \n", size)
	for i := 1; i < size; i++ {
		if off, ok := offsets[i]; ok {
			fmt.Fprintf(buf, "%010d %05d n \n", off, gens[i])
		} else {
			buf.WriteString("0000000000 00000 f \n")
		}
	}
	trailer.Set("Size", raw.NumberInt(int64(size)))
	buf.WriteString("trailer\n")
	buf.Write(AppendObject(nil, trailer))
	fmt.Fprintf(buf, "\nstartxref\n%d\n%%%%EOF\n", xrefAt)
}

// writeXRefStream writes the cross-reference stream as object ref. It covers
// itself, so its own offset is recorded before the entries are built.
func writeXRefStream(buf *bytes.Buffer, ref raw.ObjectRef, offsets map[int]int64, gens map[int]int, trailer *raw.DictObj, size int) error {
	xrefAt := int64(buf.Len())
	offsets[ref.Num] = xrefAt
	index, entries := xrefStreamIndexAndEntries(offsets, gens)
	data, err := filters.FlateEncode(entries, flate.BestCompression)
	if err != nil {
		return errors.Wrap(err, "compress xref stream")
	}
	dict := trailer
	dict.Set("Type", raw.NameLiteral("XRef"))
	dict.Set("Size", raw.NumberInt(int64(size)))
	dict.Set("W", raw.NewArray(raw.NumberInt(1), raw.NumberInt(4), raw.NumberInt(2)))
	dict.Set("Index", index)
	dict.Set("Filter", raw.NameLiteral("FlateDecode"))
	dict.Set("Length", raw.NumberInt(int64(len(data))))
	buf.Write(serializeObject(ref, &raw.StreamObj{Dict: dict, Data: data}))
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefAt)
	return nil
}

// xrefStreamIndexAndEntries groups object numbers into contiguous /Index runs.
// Object 0 is always present as the head of the free list.
func xrefStreamIndexAndEntries(offsets map[int]int64, gens map[int]int) (*raw.ArrayObj, []byte) {
	maxNum := 0
	for k := range offsets {
		if k > maxNum {
			maxNum = k
		}
	}
	index := raw.NewArray()
	var entries []byte
	segStart, prev := -1, -1
	for k := 0; k <= maxNum; k++ {
		off, ok := offsets[k]
		if !ok && k != 0 {
			continue
		}
		if segStart == -1 {
			segStart = k
		} else if k != prev+1 {
			index.Append(raw.NumberInt(int64(segStart)))
			index.Append(raw.NumberInt(int64(prev - segStart + 1)))
			segStart = k
		}
		prev = k
		if k == 0 {
			entries = appendXRefStreamEntry(entries, 0, 0, 65535)
			continue
		}
		entries = appendXRefStreamEntry(entries, 1, off, gens[k])
	}
	index.Append(raw.NumberInt(int64(segStart)))
	index.Append(raw.NumberInt(int64(prev - segStart + 1)))
	return index, entries
}

// appendXRefStreamEntry writes one entry with field widths 1, 4 and 2.
func appendXRefStreamEntry(buf []byte, typ int, field2 int64, gen int) []byte {
	buf = append(buf, byte(typ))
	offset := uint32(field2)
	buf = append(buf, byte(offset>>24), byte(offset>>16), byte(offset>>8), byte(offset))
	return append(buf, byte(gen>>8), byte(gen))
}
