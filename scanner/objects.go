package scanner

import (
	"fmt"

	"github.com/wudi/pdfcompose/ir/raw"
)

// ObjectReader assembles tokens into raw objects. It keeps a small pushback buffer
// so callers can look ahead for 'stream' or 'endobj'.
type ObjectReader struct {
	S        *Scanner
	MaxDepth int

	pending []Token
}

func NewObjectReader(s *Scanner) *ObjectReader {
	return &ObjectReader{S: s, MaxDepth: 64}
}

func (r *ObjectReader) Next() (Token, error) {
	if n := len(r.pending); n > 0 {
		tok := r.pending[n-1]
		r.pending = r.pending[:n-1]
		return tok, nil
	}
	return r.S.Next()
}

func (r *ObjectReader) Unread(tok Token) { r.pending = append(r.pending, tok) }

// Reset drops pushed-back tokens, e.g. after a Seek.
func (r *ObjectReader) Reset() { r.pending = r.pending[:0] }

// ReadObject reads one direct object (or reference).
func (r *ObjectReader) ReadObject() (raw.Object, error) {
	return r.readObject(0)
}

func (r *ObjectReader) readObject(depth int) (raw.Object, error) {
	if r.MaxDepth > 0 && depth > r.MaxDepth {
		return nil, fmt.Errorf("object nesting exceeds %d", r.MaxDepth)
	}
	tok, err := r.Next()
	if err != nil {
		return nil, err
	}
	switch tok.Type {
	case TokenName:
		return raw.NameObj{Val: tok.Str}, nil
	case TokenNumber:
		if tok.IsInt {
			return raw.NumberInt(tok.Int), nil
		}
		return raw.NumberFloat(tok.Float), nil
	case TokenBoolean:
		return raw.Bool(tok.Bool), nil
	case TokenNull:
		return raw.NullObj{}, nil
	case TokenString:
		return raw.StringObj{Bytes: tok.Bytes, Hex: tok.Hex}, nil
	case TokenRef:
		return raw.Ref(tok.Num, tok.Gen), nil
	case TokenArray:
		return r.readArray(depth)
	case TokenDict:
		return r.readDict(depth)
	}
	return nil, fmt.Errorf("unexpected %s token %q at offset %d", tok.Type, tok.Str, tok.Pos)
}

func (r *ObjectReader) readArray(depth int) (raw.Object, error) {
	arr := &raw.ArrayObj{}
	for {
		tok, err := r.Next()
		if err != nil {
			return nil, err
		}
		if tok.IsKeyword("]") {
			return arr, nil
		}
		r.Unread(tok)
		item, err := r.readObject(depth + 1)
		if err != nil {
			return nil, err
		}
		arr.Append(item)
	}
}

func (r *ObjectReader) readDict(depth int) (raw.Object, error) {
	dict := raw.Dict()
	for {
		tok, err := r.Next()
		if err != nil {
			return nil, err
		}
		if tok.IsKeyword(">>") {
			return dict, nil
		}
		if tok.Type != TokenName {
			// Producers occasionally leave stray tokens between entries.
			if tok.Type == TokenKeyword && (tok.Str == "endobj" || tok.Str == "stream") {
				return nil, fmt.Errorf("unterminated dictionary at offset %d", tok.Pos)
			}
			continue
		}
		val, err := r.readObject(depth + 1)
		if err != nil {
			return nil, err
		}
		if _, isNull := val.(raw.NullObj); isNull {
			// A null value is equivalent to an absent entry.
			continue
		}
		dict.Set(tok.Str, val)
	}
}
