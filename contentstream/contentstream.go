// Package contentstream parses page content into operations, writes operations
// back to bytes and tracks the graphics state while they run.
package contentstream

import (
	"io"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcompose/ir/raw"
	"github.com/wudi/pdfcompose/scanner"
	"github.com/wudi/pdfcompose/writer"
)

// MaxOperands bounds the operand stack between two operators.
const MaxOperands = 1 << 12

// Parse splits a decoded content stream into operations. On malformed input it
// returns the operations read so far together with the error, so renderers can
// draw what precedes the damage.
func Parse(data []byte) ([]Operation, error) {
	r := scanner.NewObjectReader(scanner.New(data, scanner.Config{}))
	var ops []Operation
	var operands []raw.Object
	for {
		tok, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return ops, errors.Wrap(err, "content stream")
		}
		if tok.Type == scanner.TokenKeyword && !isClosing(tok.Str) {
			if tok.Str == "BI" {
				op, err := readInlineImage(r)
				if err != nil {
					return ops, err
				}
				ops = append(ops, op)
				operands = operands[:0]
				continue
			}
			ops = append(ops, Operation{
				Op:       Lookup(tok.Str),
				Operands: append([]raw.Object(nil), operands...),
				Raw:      tok.Str,
			})
			operands = operands[:0]
			continue
		}
		if tok.Type == scanner.TokenKeyword {
			// Unbalanced ] or >> between operators.
			continue
		}
		r.Unread(tok)
		obj, err := r.ReadObject()
		if err != nil {
			return ops, errors.Wrap(err, "content stream operand")
		}
		if len(operands) >= MaxOperands {
			return ops, errors.Errorf("content stream: more than %d operands", MaxOperands)
		}
		operands = append(operands, obj)
	}
	return ops, nil
}

func isClosing(kw string) bool {
	switch kw {
	case "]", ">>", ">", ")", "{", "}":
		return true
	}
	return false
}

// readInlineImage reads the key/value pairs after BI up to the image data that
// the scanner returns for ID.
func readInlineImage(r *scanner.ObjectReader) (Operation, error) {
	params := raw.Dict()
	for {
		tok, err := r.Next()
		if err != nil {
			return Operation{}, errors.Wrap(err, "inline image")
		}
		if tok.Type == scanner.TokenInlineImage {
			return Operation{
				Op:        OpInlineImage,
				Operands:  []raw.Object{params},
				Raw:       "BI",
				ImageData: append([]byte(nil), tok.Bytes...),
			}, nil
		}
		if tok.Type != scanner.TokenName {
			return Operation{}, errors.Errorf("inline image: unexpected %s token at %d", tok.Type, tok.Pos)
		}
		val, err := r.ReadObject()
		if err != nil {
			return Operation{}, errors.Wrap(err, "inline image")
		}
		params.Set(tok.Str, val)
	}
}

// Write serialises operations, one per line.
func Write(ops []Operation) []byte {
	var buf []byte
	for _, op := range ops {
		buf = AppendOperation(buf, op)
		buf = append(buf, '\n')
	}
	return buf
}

// AppendOperation appends one operation without a trailing newline.
func AppendOperation(buf []byte, op Operation) []byte {
	if op.Op == OpInlineImage {
		buf = append(buf, "BI"...)
		if len(op.Operands) == 1 {
			if d, ok := op.Operands[0].(*raw.DictObj); ok {
				for _, k := range d.Keys() {
					buf = append(buf, ' ')
					buf = writer.AppendName(buf, k)
					buf = append(buf, ' ')
					buf = writer.AppendObject(buf, d.KV[k])
				}
			}
		}
		buf = append(buf, " ID "...)
		buf = append(buf, op.ImageData...)
		return append(buf, "\nEI"...)
	}
	for _, operand := range op.Operands {
		buf = writer.AppendObject(buf, operand)
		buf = append(buf, ' ')
	}
	name := op.Raw
	if op.Op != OpUnknown {
		name = op.Op.String()
	}
	return append(buf, name...)
}
