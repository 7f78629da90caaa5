package raw

import (
	"fmt"
	"sort"
)

// ObjectRef uniquely identifies an indirect PDF object.
type ObjectRef struct {
	Num int
	Gen int
}

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Object is the base interface for all raw PDF objects.
type Object interface {
	Type() string
	IsIndirect() bool
}

// Algorithm names the cipher of a standard security handler.
type Algorithm int

const (
	AlgorithmNone Algorithm = iota
	AlgorithmRC4_40
	AlgorithmRC4_128
	AlgorithmAES_128
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmRC4_40:
		return "RC4-40"
	case AlgorithmRC4_128:
		return "RC4-128"
	case AlgorithmAES_128:
		return "AES-128"
	default:
		return "none"
	}
}

// Permissions describes allowed actions of an encrypted document.
type Permissions struct {
	Print, Modify, Copy, Annotate, FillForms, Accessibility, Assemble, PrintHighQuality bool
}

// EncryptionState is the standard security handler state of a protected document.
// It is created when a document is protected (or opened with a password) and consumed
// when the document is serialized.
type EncryptionState struct {
	Algorithm       Algorithm
	Revision        int
	KeyLength       int // bytes
	FileKey         []byte
	O, U            []byte
	P               int32
	ID              []byte
	EncryptMetadata bool
}

// Clone returns a copy that shares no byte slices with s.
func (s *EncryptionState) Clone() *EncryptionState {
	if s == nil {
		return nil
	}
	c := *s
	c.FileKey = append([]byte(nil), s.FileKey...)
	c.O = append([]byte(nil), s.O...)
	c.U = append([]byte(nil), s.U...)
	c.ID = append([]byte(nil), s.ID...)
	return &c
}

// Document is an arena of indirect objects keyed by reference. Objects point at each
// other only through RefObj values; Resolve performs the lookup.
type Document struct {
	Objects    map[ObjectRef]Object
	Trailer    *DictObj
	Root       ObjectRef
	Info       *ObjectRef
	ID         [][]byte
	Version    string // e.g. "1.7"
	XRefStream bool

	Encryption  *EncryptionState
	Permissions Permissions
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{Objects: make(map[ObjectRef]Object), Version: "1.7"}
}

// Get returns the object stored under ref.
func (d *Document) Get(ref ObjectRef) (Object, bool) {
	o, ok := d.Objects[ref]
	return o, ok
}

// Resolve follows indirect references until a direct object is reached. Dangling
// references resolve to NullObj, as readers are required to treat them.
func (d *Document) Resolve(o Object) Object {
	for i := 0; i < 32; i++ {
		r, ok := o.(RefObj)
		if !ok {
			return o
		}
		next, found := d.Objects[r.R]
		if !found {
			return NullObj{}
		}
		o = next
	}
	return NullObj{}
}

// Dict resolves o and returns it as a dictionary. Streams yield their dictionary.
func (d *Document) Dict(o Object) (*DictObj, bool) {
	switch v := d.Resolve(o).(type) {
	case *DictObj:
		return v, true
	case *StreamObj:
		return v.Dict, true
	}
	return nil, false
}

// Array resolves o and returns it as an array.
func (d *Document) Array(o Object) (*ArrayObj, bool) {
	a, ok := d.Resolve(o).(*ArrayObj)
	return a, ok
}

// Stream resolves o and returns it as a stream.
func (d *Document) Stream(o Object) (*StreamObj, bool) {
	s, ok := d.Resolve(o).(*StreamObj)
	return s, ok
}

// Catalog returns the document catalog.
func (d *Document) Catalog() (*DictObj, bool) {
	o, ok := d.Objects[d.Root]
	if !ok {
		return nil, false
	}
	c, ok := o.(*DictObj)
	return c, ok
}

// MaxNum returns the highest object number in use.
func (d *Document) MaxNum() int {
	max := 0
	for ref := range d.Objects {
		if ref.Num > max {
			max = ref.Num
		}
	}
	return max
}

// Add stores o under a fresh object number and returns its reference.
func (d *Document) Add(o Object) ObjectRef {
	ref := ObjectRef{Num: d.MaxNum() + 1}
	d.Objects[ref] = o
	return ref
}

// Refs returns all object references in ascending order.
func (d *Document) Refs() []ObjectRef {
	refs := make([]ObjectRef, 0, len(d.Objects))
	for ref := range d.Objects {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Num != refs[j].Num {
			return refs[i].Num < refs[j].Num
		}
		return refs[i].Gen < refs[j].Gen
	})
	return refs
}

// Clone deep-copies the document. The copy shares no mutable state with d.
func (d *Document) Clone() *Document {
	c := &Document{
		Objects:     make(map[ObjectRef]Object, len(d.Objects)),
		Root:        d.Root,
		Version:     d.Version,
		XRefStream:  d.XRefStream,
		Encryption:  d.Encryption.Clone(),
		Permissions: d.Permissions,
	}
	for ref, o := range d.Objects {
		c.Objects[ref] = Clone(o)
	}
	if d.Trailer != nil {
		c.Trailer = Clone(d.Trailer).(*DictObj)
	}
	if d.Info != nil {
		info := *d.Info
		c.Info = &info
	}
	for _, id := range d.ID {
		c.ID = append(c.ID, append([]byte(nil), id...))
	}
	return c
}
