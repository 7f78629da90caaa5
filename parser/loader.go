package parser

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcompose/filters"
	"github.com/wudi/pdfcompose/ir/raw"
	"github.com/wudi/pdfcompose/recovery"
	"github.com/wudi/pdfcompose/scanner"
	"github.com/wudi/pdfcompose/security"
	"github.com/wudi/pdfcompose/xref"
)

// objectLoader reads indirect objects from an in-memory file through a resolved
// cross-reference table.
type objectLoader struct {
	data     []byte
	table    *xref.Table
	scanCfg  scanner.Config
	recovery recovery.Strategy
	pipeline *filters.Pipeline
	limits   security.Limits

	// handler is nil for unencrypted files.
	handler security.Handler
	// skip lists objects that are never decrypted (the encryption dictionary).
	skip map[int]bool

	objstm  map[int]map[int]raw.Object
	pending map[int]bool
}

func newObjectLoader(data []byte, table *xref.Table, cfg Config, pipeline *filters.Pipeline) *objectLoader {
	return &objectLoader{
		data:  data,
		table: table,
		scanCfg: scanner.Config{
			Recovery:        cfg.Recovery,
			MaxStringLength: cfg.Limits.MaxStringLength,
			MaxArrayDepth:   cfg.Limits.MaxNestingDepth,
			MaxDictDepth:    cfg.Limits.MaxNestingDepth,
			MaxStreamLength: cfg.Limits.MaxStreamLength,
		},
		recovery: cfg.Recovery,
		pipeline: pipeline,
		limits:   cfg.Limits,
		skip:     make(map[int]bool),
		objstm:   make(map[int]map[int]raw.Object),
		pending:  make(map[int]bool),
	}
}

// Load returns the object stored under num, decrypted when a handler is set.
func (o *objectLoader) Load(ctx context.Context, num int) (raw.Object, int, error) {
	e, ok := o.table.Lookup(num)
	if !ok {
		return nil, 0, errors.Errorf("object %d not in xref", num)
	}
	switch e.Kind {
	case xref.EntryCompressed:
		obj, err := o.fromObjectStream(ctx, num, e.Stream)
		return obj, 0, err
	default:
		obj, err := o.loadAt(ctx, num, e.Gen, e.Offset)
		return obj, e.Gen, err
	}
}

func (o *objectLoader) loadAt(ctx context.Context, num, gen int, offset int64) (raw.Object, error) {
	if o.pending[num] {
		return nil, errors.Errorf("object %d refers to itself while loading", num)
	}
	o.pending[num] = true
	defer delete(o.pending, num)

	s := scanner.New(o.data, o.scanCfg)
	if err := s.Seek(offset); err != nil {
		return nil, err
	}
	s.SetRecoveryLocation(recovery.Location{ByteOffset: offset, ObjectNum: num, ObjectGen: gen, Component: "object"})
	rd := scanner.NewObjectReader(s)
	if o.limits.MaxNestingDepth > 0 {
		rd.MaxDepth = o.limits.MaxNestingDepth
	}
	if err := expectHeader(rd, num); err != nil {
		return nil, err
	}
	obj, err := rd.ReadObject()
	if err != nil {
		return nil, err
	}
	if dict, ok := obj.(*raw.DictObj); ok {
		length, err := o.streamLength(ctx, dict)
		if err != nil {
			return nil, err
		}
		s.SetNextStreamLength(length)
		tok, err := rd.Next()
		if err == nil && tok.Type == scanner.TokenStream {
			data := append([]byte(nil), tok.Bytes...)
			obj = raw.NewStream(dict, data)
		}
		s.SetNextStreamLength(-1)
	}
	if o.handler != nil && !o.skip[num] {
		if obj, err = o.decrypt(num, gen, obj); err != nil {
			return nil, errors.Wrapf(err, "decrypt object %d", num)
		}
	}
	if st, ok := obj.(*raw.StreamObj); ok {
		st.SetDecoder(o.pipeline)
		if typ, _ := st.Dict.Name("Type"); typ != "XRef" && typ != "ObjStm" {
			// The body length is implied by the data from now on.
			st.Dict.Set("Length", raw.NumberInt(int64(len(st.Data))))
		}
	}
	return obj, nil
}

func expectHeader(rd *scanner.ObjectReader, num int) error {
	tokNum, err := rd.Next()
	if err != nil {
		return err
	}
	if tokNum.Type != scanner.TokenNumber || !tokNum.IsInt || int(tokNum.Int) != num {
		return errors.Errorf("object header number mismatch: want %d", num)
	}
	tokGen, err := rd.Next()
	if err != nil {
		return err
	}
	if tokGen.Type != scanner.TokenNumber || !tokGen.IsInt {
		return errors.New("object header generation missing")
	}
	tokObj, err := rd.Next()
	if err != nil {
		return err
	}
	if !tokObj.IsKeyword("obj") {
		return errors.New("expected obj keyword")
	}
	return nil
}

// streamLength returns the declared /Length, following one indirect reference.
// -1 lets the scanner search for endstream.
func (o *objectLoader) streamLength(ctx context.Context, dict *raw.DictObj) (int64, error) {
	val, ok := dict.Get("Length")
	if !ok {
		return -1, nil
	}
	switch v := val.(type) {
	case raw.NumberObj:
		return v.Int(), nil
	case raw.RefObj:
		obj, _, err := o.Load(ctx, v.R.Num)
		if err != nil {
			// A dangling length is recoverable by searching for endstream.
			return -1, nil
		}
		if n, ok := obj.(raw.NumberObj); ok {
			return n.Int(), nil
		}
	}
	return -1, nil
}

// fromObjectStream returns member num of object stream stmNum, expanding the
// stream on first use.
func (o *objectLoader) fromObjectStream(ctx context.Context, num, stmNum int) (raw.Object, error) {
	members, ok := o.objstm[stmNum]
	if !ok {
		e, found := o.table.Lookup(stmNum)
		if !found || e.Kind != xref.EntryInUse {
			return nil, errors.Errorf("object stream %d missing", stmNum)
		}
		obj, err := o.loadAt(ctx, stmNum, e.Gen, e.Offset)
		if err != nil {
			return nil, errors.Wrapf(err, "object stream %d", stmNum)
		}
		st, isStream := obj.(*raw.StreamObj)
		if !isStream {
			return nil, errors.Errorf("object %d is not an object stream", stmNum)
		}
		if members, err = o.expandObjectStream(ctx, st); err != nil {
			return nil, errors.Wrapf(err, "object stream %d", stmNum)
		}
		o.objstm[stmNum] = members
	}
	obj, ok := members[num]
	if !ok {
		return nil, errors.Errorf("object %d not found in object stream %d", num, stmNum)
	}
	return obj, nil
}

// expandObjectStream parses every member of an object stream. Members are never
// encrypted individually.
func (o *objectLoader) expandObjectStream(ctx context.Context, st *raw.StreamObj) (map[int]raw.Object, error) {
	data, err := st.Decoded(ctx)
	if err != nil {
		return nil, err
	}
	n, _ := st.Dict.Int("N")
	first, _ := st.Dict.Int("First")
	if first < 0 || first > int64(len(data)) {
		return nil, errors.New("object stream /First exceeds data")
	}
	cfg := o.scanCfg
	hs := scanner.New(data[:first], cfg)
	var pairs []int64
	for int64(len(pairs)/2) < n {
		tok, err := hs.Next()
		if err != nil {
			break
		}
		if tok.Type == scanner.TokenNumber && tok.IsInt {
			pairs = append(pairs, tok.Int)
		}
	}
	body := data[first:]
	out := make(map[int]raw.Object, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		num, off := int(pairs[i]), pairs[i+1]
		if off < 0 || off >= int64(len(body)) {
			if err := o.report(ctx, fmt.Errorf("member %d offset %d outside object stream", num, off), num); err != nil {
				return nil, err
			}
			continue
		}
		bs := scanner.New(body, cfg)
		_ = bs.Seek(off)
		obj, err := scanner.NewObjectReader(bs).ReadObject()
		if err != nil {
			if rerr := o.report(ctx, errors.Wrapf(err, "member %d", num), num); rerr != nil {
				return nil, rerr
			}
			continue
		}
		if _, dup := out[num]; !dup {
			out[num] = obj
		}
	}
	return out, nil
}

// report consults the recovery strategy; a nil return means the caller may skip
// the failing item.
func (o *objectLoader) report(ctx context.Context, err error, num int) error {
	if o.recovery == nil {
		return err
	}
	if o.recovery.OnError(ctx, err, recovery.Location{ObjectNum: num, ByteOffset: -1, Component: "object"}) == recovery.ActionFail {
		return err
	}
	return nil
}

// decrypt replaces every string and stream body of obj with its plaintext.
func (o *objectLoader) decrypt(num, gen int, obj raw.Object) (raw.Object, error) {
	switch v := obj.(type) {
	case raw.StringObj:
		dec, err := o.handler.Decrypt(num, gen, v.Bytes, security.DataClassString)
		if err != nil {
			return nil, err
		}
		return raw.StringObj{Bytes: dec, Hex: v.Hex}, nil
	case *raw.ArrayObj:
		for i, item := range v.Items {
			dec, err := o.decrypt(num, gen, item)
			if err != nil {
				return nil, err
			}
			v.Items[i] = dec
		}
		return v, nil
	case *raw.DictObj:
		for key, item := range v.KV {
			dec, err := o.decrypt(num, gen, item)
			if err != nil {
				return nil, err
			}
			v.KV[key] = dec
		}
		return v, nil
	case *raw.StreamObj:
		if typ, _ := v.Dict.Name("Type"); typ == "XRef" {
			return v, nil
		}
		if _, err := o.decrypt(num, gen, v.Dict); err != nil {
			return nil, err
		}
		if !o.streamEncrypted(v.Dict) {
			return v, nil
		}
		dec, err := o.handler.Decrypt(num, gen, v.Data, security.DataClassStream)
		if err != nil {
			return nil, err
		}
		v.Data = dec
		return v, nil
	default:
		return obj, nil
	}
}

func (o *objectLoader) streamEncrypted(dict *raw.DictObj) bool {
	if typ, _ := dict.Name("Type"); typ == "Metadata" && !o.handler.State().EncryptMetadata {
		return false
	}
	names, params := filters.ExtractFilters(dict)
	for i, name := range names {
		if name != "Crypt" {
			continue
		}
		if cf, ok := params[i].Name("Name"); !ok || cf == "Identity" {
			return false
		}
	}
	return true
}
