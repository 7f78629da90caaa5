package contentstream

import (
	"github.com/wudi/pdfcompose/ir/raw"
)

// OpKind identifies a content stream operator. The set is closed; operators that
// are not listed parse as OpUnknown and keep their text in Operation.Raw.
type OpKind int

const (
	OpUnknown OpKind = iota

	// General graphics state.
	OpSave         // q
	OpRestore      // Q
	OpConcat       // cm
	OpLineWidth    // w
	OpLineCap      // J
	OpLineJoin     // j
	OpMiterLimit   // M
	OpDash         // d
	OpIntent       // ri
	OpFlatness     // i
	OpSetExtGState // gs

	// Path construction.
	OpMoveTo    // m
	OpLineTo    // l
	OpCurveTo   // c
	OpCurveToV  // v
	OpCurveToY  // y
	OpClosePath // h
	OpRect      // re

	// Path painting.
	OpStroke            // S
	OpCloseStroke       // s
	OpFill              // f
	OpFillCompat        // F
	OpFillEvenOdd       // f*
	OpFillStroke        // B
	OpFillStrokeEvenOdd // B*
	OpCloseFillStroke   // b
	OpCloseFillStrokeEO // b*
	OpEndPath           // n

	// Clipping.
	OpClip        // W
	OpClipEvenOdd // W*

	// Text objects, state, positioning and showing.
	OpBeginText     // BT
	OpEndText       // ET
	OpCharSpacing   // Tc
	OpWordSpacing   // Tw
	OpHScale        // Tz
	OpLeading       // TL
	OpFont          // Tf
	OpRenderMode    // Tr
	OpRise          // Ts
	OpTextMove      // Td
	OpTextMoveSet   // TD
	OpTextMatrix    // Tm
	OpNextLine      // T*
	OpShowText      // Tj
	OpShowArray     // TJ
	OpNextLineShow  // '
	OpNextLineShowS // "

	// Color.
	OpFillGray         // g
	OpStrokeGray       // G
	OpFillRGB          // rg
	OpStrokeRGB        // RG
	OpFillCMYK         // k
	OpStrokeCMYK       // K
	OpFillColorSpace   // cs
	OpStrokeColorSpace // CS
	OpFillColor        // sc
	OpStrokeColor      // SC
	OpFillColorN       // scn
	OpStrokeColorN     // SCN

	OpShading     // sh
	OpXObject     // Do
	OpInlineImage // BI ... ID ... EI

	// Marked content.
	OpMarkPoint        // MP
	OpMarkPointProps   // DP
	OpBeginMarked      // BMC
	OpBeginMarkedProps // BDC
	OpEndMarked        // EMC

	// Compatibility and Type 3 glyph metrics.
	OpBeginCompat // BX
	OpEndCompat   // EX
	OpGlyphWidth  // d0
	OpGlyphBBox   // d1
)

var opNames = [...]string{
	OpUnknown:           "",
	OpSave:              "q",
	OpRestore:           "Q",
	OpConcat:            "cm",
	OpLineWidth:         "w",
	OpLineCap:           "J",
	OpLineJoin:          "j",
	OpMiterLimit:        "M",
	OpDash:              "d",
	OpIntent:            "ri",
	OpFlatness:          "i",
	OpSetExtGState:      "gs",
	OpMoveTo:            "m",
	OpLineTo:            "l",
	OpCurveTo:           "c",
	OpCurveToV:          "v",
	OpCurveToY:          "y",
	OpClosePath:         "h",
	OpRect:              "re",
	OpStroke:            "S",
	OpCloseStroke:       "s",
	OpFill:              "f",
	OpFillCompat:        "F",
	OpFillEvenOdd:       "f*",
	OpFillStroke:        "B",
	OpFillStrokeEvenOdd: "B*",
	OpCloseFillStroke:   "b",
	OpCloseFillStrokeEO: "b*",
	OpEndPath:           "n",
	OpClip:              "W",
	OpClipEvenOdd:       "W*",
	OpBeginText:         "BT",
	OpEndText:           "ET",
	OpCharSpacing:       "Tc",
	OpWordSpacing:       "Tw",
	OpHScale:            "Tz",
	OpLeading:           "TL",
	OpFont:              "Tf",
	OpRenderMode:        "Tr",
	OpRise:              "Ts",
	OpTextMove:          "Td",
	OpTextMoveSet:       "TD",
	OpTextMatrix:        "Tm",
	OpNextLine:          "T*",
	OpShowText:          "Tj",
	OpShowArray:         "TJ",
	OpNextLineShow:      "'",
	OpNextLineShowS:     `"`,
	OpFillGray:          "g",
	OpStrokeGray:        "G",
	OpFillRGB:           "rg",
	OpStrokeRGB:         "RG",
	OpFillCMYK:          "k",
	OpStrokeCMYK:        "K",
	OpFillColorSpace:    "cs",
	OpStrokeColorSpace:  "CS",
	OpFillColor:         "sc",
	OpStrokeColor:       "SC",
	OpFillColorN:        "scn",
	OpStrokeColorN:      "SCN",
	OpShading:           "sh",
	OpXObject:           "Do",
	OpInlineImage:       "BI",
	OpMarkPoint:         "MP",
	OpMarkPointProps:    "DP",
	OpBeginMarked:       "BMC",
	OpBeginMarkedProps:  "BDC",
	OpEndMarked:         "EMC",
	OpBeginCompat:       "BX",
	OpEndCompat:         "EX",
	OpGlyphWidth:        "d0",
	OpGlyphBBox:         "d1",
}

var opByName map[string]OpKind

func init() {
	opByName = make(map[string]OpKind, len(opNames))
	for k, name := range opNames {
		if name != "" {
			opByName[name] = OpKind(k)
		}
	}
}

// Lookup returns the kind for an operator keyword.
func Lookup(operator string) OpKind {
	return opByName[operator]
}

func (k OpKind) String() string {
	if k <= OpUnknown || int(k) >= len(opNames) {
		return "unknown"
	}
	return opNames[k]
}

// Operation is one operator with its operands. Raw holds the operator text as it
// appeared in the stream. Inline images carry their parameter dictionary as the
// single operand and the sample bytes in ImageData.
type Operation struct {
	Op        OpKind
	Operands  []raw.Object
	Raw       string
	ImageData []byte
}

// Op builds an operation for a known operator.
func Op(kind OpKind, operands ...raw.Object) Operation {
	return Operation{Op: kind, Operands: operands, Raw: kind.String()}
}

// Number returns operand i as a float.
func (o Operation) Number(i int) (float64, bool) {
	if i < 0 || i >= len(o.Operands) {
		return 0, false
	}
	return raw.Number(o.Operands[i])
}

// Numbers returns the last n operands as floats. Extra leading operands are
// ignored.
func (o Operation) Numbers(n int) ([]float64, bool) {
	if len(o.Operands) < n {
		return nil, false
	}
	out := make([]float64, n)
	for i, it := range o.Operands[len(o.Operands)-n:] {
		v, ok := raw.Number(it)
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// Name returns operand i as a name.
func (o Operation) Name(i int) (string, bool) {
	if i < 0 || i >= len(o.Operands) {
		return "", false
	}
	n, ok := o.Operands[i].(raw.NameObj)
	return n.Val, ok
}

// Text returns operand i as a byte string.
func (o Operation) Text(i int) ([]byte, bool) {
	if i < 0 || i >= len(o.Operands) {
		return nil, false
	}
	s, ok := o.Operands[i].(raw.StringObj)
	return s.Bytes, ok
}
