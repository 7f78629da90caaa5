package security

import "github.com/wudi/pdfcompose/ir/raw"

// Permission bits of the P entry, 1-based as in the file format.
const (
	bitPrint         = 3
	bitModify        = 4
	bitCopy          = 5
	bitAnnotate      = 6
	bitFillForms     = 9
	bitAccessibility = 10
	bitAssemble      = 11
	bitPrintHigh     = 12
)

func bit(n uint) int32 { return int32(1) << (n - 1) }

// PermissionsValue encodes p as a P value. Bits 1-2 are clear, every reserved bit is set.
func PermissionsValue(p raw.Permissions) int32 {
	val := int32(-4)
	unset := func(on bool, n uint) {
		if !on {
			val &^= bit(n)
		}
	}
	unset(p.Print, bitPrint)
	unset(p.Modify, bitModify)
	unset(p.Copy, bitCopy)
	unset(p.Annotate, bitAnnotate)
	unset(p.FillForms, bitFillForms)
	unset(p.Accessibility, bitAccessibility)
	unset(p.Assemble, bitAssemble)
	unset(p.PrintHighQuality, bitPrintHigh)
	return val
}

// PermissionsFromValue decodes a P value.
func PermissionsFromValue(p int32) raw.Permissions {
	return raw.Permissions{
		Print:            p&bit(bitPrint) != 0,
		Modify:           p&bit(bitModify) != 0,
		Copy:             p&bit(bitCopy) != 0,
		Annotate:         p&bit(bitAnnotate) != 0,
		FillForms:        p&bit(bitFillForms) != 0,
		Accessibility:    p&bit(bitAccessibility) != 0,
		Assemble:         p&bit(bitAssemble) != 0,
		PrintHighQuality: p&bit(bitPrintHigh) != 0,
	}
}

// AllPermissions grants every capability.
func AllPermissions() raw.Permissions {
	return raw.Permissions{Print: true, Modify: true, Copy: true, Annotate: true, FillForms: true,
		Accessibility: true, Assemble: true, PrintHighQuality: true}
}

// PrintOnly allows printing at full resolution and nothing else.
func PrintOnly() raw.Permissions {
	return raw.Permissions{Print: true, PrintHighQuality: true}
}
