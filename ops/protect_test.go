package ops

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wudi/pdfcompose/internal/testpdf"
	"github.com/wudi/pdfcompose/ir/raw"
	"github.com/wudi/pdfcompose/parser"
	"github.com/wudi/pdfcompose/pdferr"
	"github.com/wudi/pdfcompose/security"
	"github.com/wudi/pdfcompose/writer"
)

func TestProtect(t *testing.T) {
	doc := load(t, testpdf.Pages(2))
	tests := []struct {
		name string
		opts ProtectOptions
		alg  raw.Algorithm
	}{
		{"default", ProtectOptions{}, raw.AlgorithmAES_128},
		{"rc4 40", ProtectOptions{Algorithm: raw.AlgorithmRC4_40}, raw.AlgorithmRC4_40},
		{"rc4 128", ProtectOptions{Algorithm: raw.AlgorithmRC4_128}, raw.AlgorithmRC4_128},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := newEditor().Protect(context.Background(), doc, "secret", tc.opts)
			if err != nil {
				t.Fatalf("protect: %v", err)
			}
			if doc.Encryption != nil {
				t.Fatalf("source document was changed")
			}
			if out.Encryption == nil || out.Encryption.Algorithm != tc.alg {
				t.Fatalf("encryption state %+v", out.Encryption)
			}
			data, err := writer.New(writer.Config{}).Write(context.Background(), out)
			if err != nil {
				t.Fatalf("write: %v", err)
			}

			p := parser.NewDocumentParser(parser.Config{})
			p.SetPassword("secret")
			opened, err := p.ParseBytes(context.Background(), data)
			if err != nil {
				t.Fatalf("open with password: %v", err)
			}
			if diff := cmp.Diff(labels(1, 2), contents(t, opened)); diff != "" {
				t.Fatalf("plaintext not recovered (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(security.PrintOnly(), opened.Permissions); diff != "" {
				t.Fatalf("permissions (-want +got):\n%s", diff)
			}

			wrong := parser.NewDocumentParser(parser.Config{})
			wrong.SetPassword("wrong")
			if _, err := wrong.ParseBytes(context.Background(), data); !errors.Is(err, pdferr.ErrEncryption) {
				t.Fatalf("wrong password: %v", err)
			}
		})
	}
}

func TestProtectPermissions(t *testing.T) {
	doc := load(t, testpdf.Pages(1))
	perms := raw.Permissions{Copy: true, Accessibility: true}
	out, err := newEditor().Protect(context.Background(), doc, "pw", ProtectOptions{Permissions: &perms})
	if err != nil {
		t.Fatalf("protect: %v", err)
	}
	if got := security.PermissionsFromValue(out.Encryption.P); got != perms {
		t.Fatalf("P decodes to %+v, want %+v", got, perms)
	}
	if len(out.ID) != 2 || len(out.ID[0]) != 16 {
		t.Fatalf("file ID %x", out.ID)
	}
}

func TestProtectEmptyPassword(t *testing.T) {
	doc := load(t, testpdf.Pages(1))
	var ee *pdferr.EncryptionError
	if _, err := newEditor().Protect(context.Background(), doc, "", ProtectOptions{}); !errors.As(err, &ee) {
		t.Fatalf("expected EncryptionError, got %v", err)
	}
}
