package parser

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcompose/filters"
	"github.com/wudi/pdfcompose/ir/raw"
	"github.com/wudi/pdfcompose/observability"
	"github.com/wudi/pdfcompose/pdferr"
	"github.com/wudi/pdfcompose/recovery"
	"github.com/wudi/pdfcompose/security"
	"github.com/wudi/pdfcompose/xref"
)

// Config controls high-level PDF parsing (xref resolution + object loading).
type Config struct {
	// Recovery decides whether malformed input is repaired or fatal. Nil is strict.
	Recovery recovery.Strategy
	// Password authenticates encrypted files as user or owner.
	Password string
	Limits   security.Limits
	Logger   observability.Logger
}

// DocumentParser builds a raw.Document using xref tables/streams and the object loader.
type DocumentParser struct {
	cfg      Config
	pipeline *filters.Pipeline
}

func NewDocumentParser(cfg Config) *DocumentParser {
	def := security.DefaultLimits()
	if cfg.Limits.MaxXRefDepth == 0 {
		cfg.Limits.MaxXRefDepth = def.MaxXRefDepth
	}
	if cfg.Limits.MaxNestingDepth == 0 {
		cfg.Limits.MaxNestingDepth = def.MaxNestingDepth
	}
	cfg.Logger = observability.OrNop(cfg.Logger)
	return &DocumentParser{
		cfg: cfg,
		pipeline: filters.NewStandardPipeline(filters.Limits{
			MaxDecompressedSize: cfg.Limits.MaxDecompressedSize,
			MaxDecodeTime:       cfg.Limits.MaxDecodeTime,
		}),
	}
}

// SetPassword updates the password for decryption when parsing encrypted PDFs.
func (p *DocumentParser) SetPassword(pwd string) {
	p.cfg.Password = pwd
}

func (p *DocumentParser) Parse(ctx context.Context, r io.ReaderAt) (*raw.Document, error) {
	data, err := readAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read input")
	}
	return p.ParseBytes(ctx, data)
}

// ParseBytes parses an in-memory file. The returned document does not alias data.
func (p *DocumentParser) ParseBytes(ctx context.Context, data []byte) (*raw.Document, error) {
	if err := pdferr.CheckContext(ctx); err != nil {
		return nil, err
	}
	if p.cfg.Limits.MaxParseTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Limits.MaxParseTime)
		defer cancel()
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &pdferr.ParseError{Offset: 0, Component: "header", Err: errors.New("empty input")}
	}
	resolver := xref.NewResolver(xref.ResolverConfig{
		MaxDepth: p.cfg.Limits.MaxXRefDepth,
		Filters:  p.pipeline,
		Recovery: p.cfg.Recovery,
	})
	table, err := resolver.Resolve(ctx, data)
	if err != nil {
		return nil, err
	}
	if table.Repaired {
		p.cfg.Logger.Warn("cross-reference table rebuilt by scanning", observability.Int(observability.KeyObjects, len(table.Objects())))
	}
	doc, err := p.build(ctx, data, table)
	if err == nil || table.Repaired || errors.Is(err, pdferr.ErrEncryption) || pdferr.CheckContext(ctx) != nil {
		return doc, err
	}
	// The table looked fine but the objects behind it did not.
	if p.cfg.Recovery == nil || p.cfg.Recovery.OnError(ctx, err, recovery.Location{ByteOffset: -1, Component: "document"}) == recovery.ActionFail {
		return nil, err
	}
	repaired, rerr := xref.Repair(ctx, data)
	if rerr != nil {
		return nil, err
	}
	p.cfg.Logger.Warn("reloading document from scanned object headers", observability.Error("err", err))
	return p.build(ctx, data, repaired)
}

func (p *DocumentParser) build(ctx context.Context, data []byte, table *xref.Table) (*raw.Document, error) {
	trailer := raw.Clone(table.Trailer()).(*raw.DictObj)
	loader := newObjectLoader(data, table, p.cfg, p.pipeline)

	doc := raw.NewDocument()
	doc.Version = headerVersion(data)
	doc.XRefStream = table.Stream
	doc.ID = fileID(trailer)
	doc.Permissions = security.AllPermissions()

	if err := p.setupSecurity(ctx, loader, trailer, doc); err != nil {
		return nil, err
	}

	for _, num := range table.Objects() {
		if num == 0 {
			continue
		}
		if err := pdferr.CheckContext(ctx); err != nil {
			return nil, err
		}
		obj, gen, err := loader.Load(ctx, num)
		if err != nil {
			if rerr := loader.report(ctx, err, num); rerr != nil {
				return nil, &pdferr.ParseError{Offset: -1, Component: "object", Err: rerr}
			}
			p.cfg.Logger.Debug("skipping unreadable object", observability.Int("num", num), observability.Error("err", err))
			continue
		}
		doc.Objects[raw.ObjectRef{Num: num, Gen: gen}] = obj
	}
	if table.Repaired {
		p.expandScannedObjectStreams(ctx, loader, doc)
	}
	dropContainers(doc, loader.skip)

	root, err := findRoot(doc, trailer)
	if err != nil {
		return nil, err
	}
	doc.Root = root
	if info, ok := trailer.Get("Info"); ok {
		if ref, ok := info.(raw.RefObj); ok {
			if _, exists := doc.Objects[ref.R]; exists {
				r := ref.R
				doc.Info = &r
			}
		}
	}
	for _, k := range []string{"Size", "Prev", "XRefStm", "Encrypt", "Root", "Info", "ID"} {
		trailer.Delete(k)
	}
	doc.Trailer = trailer
	p.cfg.Logger.Debug("document parsed",
		observability.Int(observability.KeyObjects, len(doc.Objects)),
		observability.String("version", doc.Version))
	return doc, nil
}

// setupSecurity authenticates the standard handler when the trailer names one.
func (p *DocumentParser) setupSecurity(ctx context.Context, loader *objectLoader, trailer *raw.DictObj, doc *raw.Document) error {
	encObj, ok := trailer.Get("Encrypt")
	if !ok {
		return nil
	}
	var encDict *raw.DictObj
	switch v := encObj.(type) {
	case *raw.DictObj:
		encDict = v
	case raw.RefObj:
		loader.skip[v.R.Num] = true
		obj, _, err := loader.Load(ctx, v.R.Num)
		if err != nil {
			return &pdferr.EncryptionError{Reason: "encryption dictionary unreadable", Err: err}
		}
		encDict, _ = obj.(*raw.DictObj)
	}
	if encDict == nil {
		return &pdferr.EncryptionError{Reason: "encryption dictionary is not a dictionary"}
	}
	var id []byte
	if len(doc.ID) > 0 {
		id = doc.ID[0]
	}
	state, err := security.Authenticate(encDict, id, p.cfg.Password)
	if err != nil {
		return err
	}
	handler, err := security.NewHandler(state)
	if err != nil {
		return err
	}
	loader.handler = handler
	doc.Encryption = state
	doc.Permissions = handler.Permissions()
	return nil
}

// expandScannedObjectStreams adds members of object streams found by a repair scan.
func (p *DocumentParser) expandScannedObjectStreams(ctx context.Context, loader *objectLoader, doc *raw.Document) {
	for _, ref := range doc.Refs() {
		st, ok := doc.Objects[ref].(*raw.StreamObj)
		if !ok {
			continue
		}
		if typ, _ := st.Dict.Name("Type"); typ != "ObjStm" {
			continue
		}
		members, err := loader.expandObjectStream(ctx, st)
		if err != nil {
			p.cfg.Logger.Debug("object stream unreadable", observability.Int("num", ref.Num), observability.Error("err", err))
			continue
		}
		for num, obj := range members {
			mref := raw.ObjectRef{Num: num}
			if _, exists := doc.Objects[mref]; !exists {
				doc.Objects[mref] = obj
			}
		}
	}
}

// dropContainers removes file-structure objects the serializer regenerates.
func dropContainers(doc *raw.Document, skip map[int]bool) {
	for ref, obj := range doc.Objects {
		if skip[ref.Num] {
			delete(doc.Objects, ref)
			continue
		}
		if st, ok := obj.(*raw.StreamObj); ok {
			if typ, _ := st.Dict.Name("Type"); typ == "XRef" || typ == "ObjStm" {
				delete(doc.Objects, ref)
			}
		}
	}
}

// findRoot returns the catalog named by the trailer, falling back to the
// highest-numbered /Type /Catalog dictionary.
func findRoot(doc *raw.Document, trailer *raw.DictObj) (raw.ObjectRef, error) {
	if rootObj, ok := trailer.Get("Root"); ok {
		if ref, ok := rootObj.(raw.RefObj); ok {
			if d, ok := doc.Dict(ref); ok {
				if typ, _ := d.Name("Type"); typ == "Catalog" || typ == "" {
					return ref.R, nil
				}
			}
		}
	}
	refs := doc.Refs()
	sort.Slice(refs, func(i, j int) bool { return refs[i].Num > refs[j].Num })
	for _, ref := range refs {
		if d, ok := doc.Objects[ref].(*raw.DictObj); ok {
			if typ, _ := d.Name("Type"); typ == "Catalog" {
				return ref, nil
			}
		}
	}
	return raw.ObjectRef{}, &pdferr.ParseError{Offset: -1, Component: "trailer", Err: errors.New("document catalog not found")}
}

func fileID(trailer *raw.DictObj) [][]byte {
	obj, ok := trailer.Get("ID")
	if !ok {
		return nil
	}
	arr, ok := obj.(*raw.ArrayObj)
	if !ok {
		return nil
	}
	var out [][]byte
	for _, it := range arr.Items {
		if s, ok := it.(raw.StringObj); ok {
			out = append(out, append([]byte(nil), s.Bytes...))
		}
	}
	return out
}

// headerVersion reads "%PDF-x.y" from the first kilobyte; 1.7 when absent.
func headerVersion(data []byte) string {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	idx := bytes.Index(head, []byte("%PDF-"))
	if idx < 0 {
		return "1.7"
	}
	line := head[idx+5:]
	end := 0
	for end < len(line) && (line[end] == '.' || (line[end] >= '0' && line[end] <= '9')) {
		end++
	}
	v := strings.Trim(string(line[:end]), ".")
	if v == "" {
		return "1.7"
	}
	return v
}

func readAll(r io.ReaderAt) ([]byte, error) {
	if b, ok := r.(*bytes.Reader); ok {
		out := make([]byte, b.Size())
		_, err := b.ReadAt(out, 0)
		if err == io.EOF {
			err = nil
		}
		return out, err
	}
	var buf bytes.Buffer
	chunk := make([]byte, 64*1024)
	var off int64
	for {
		n, err := r.ReadAt(chunk, off)
		buf.Write(chunk[:n])
		off += int64(n)
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return buf.Bytes(), nil
		}
	}
}
