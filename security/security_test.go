package security

import (
	"bytes"
	"errors"
	"testing"

	"github.com/wudi/pdfcompose/ir/raw"
	"github.com/wudi/pdfcompose/pdferr"
)

var testID = []byte("0123456789abcdef")

func TestStandardRoundTrip(t *testing.T) {
	for _, alg := range []raw.Algorithm{raw.AlgorithmRC4_40, raw.AlgorithmRC4_128, raw.AlgorithmAES_128} {
		t.Run(alg.String(), func(t *testing.T) {
			state, err := Build(alg, "secret", "owner", PrintOnly(), testID)
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			h, err := NewHandler(state)
			if err != nil {
				t.Fatalf("handler: %v", err)
			}
			plain := []byte("BT /F1 12 Tf (hello) Tj ET")
			enc, err := h.Encrypt(5, 0, plain, DataClassStream)
			if err != nil {
				t.Fatalf("encrypt: %v", err)
			}
			if bytes.Contains(enc, []byte("hello")) {
				t.Fatalf("ciphertext leaks plaintext")
			}

			dict := EncryptDict(state)
			for _, pwd := range []string{"secret", "owner"} {
				opened, err := Authenticate(dict, testID, pwd)
				if err != nil {
					t.Fatalf("open with %q: %v", pwd, err)
				}
				if !bytes.Equal(opened.FileKey, state.FileKey) {
					t.Fatalf("file key mismatch for %q", pwd)
				}
				oh, _ := NewHandler(opened)
				dec, err := oh.Decrypt(5, 0, enc, DataClassStream)
				if err != nil {
					t.Fatalf("decrypt: %v", err)
				}
				if !bytes.Equal(dec, plain) {
					t.Fatalf("round trip mismatch: %q", dec)
				}
			}

			_, err = Authenticate(dict, testID, "wrong")
			if !errors.Is(err, ErrPasswordMismatch) || !errors.Is(err, pdferr.ErrEncryption) {
				t.Fatalf("expected password mismatch, got %v", err)
			}
		})
	}
}

func TestAESFreshIV(t *testing.T) {
	state, err := Build(raw.AlgorithmAES_128, "pw", "", AllPermissions(), testID)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	h, _ := NewHandler(state)
	a, _ := h.Encrypt(1, 0, []byte("same"), DataClassString)
	b, _ := h.Encrypt(1, 0, []byte("same"), DataClassString)
	if bytes.Equal(a, b) {
		t.Fatalf("expected distinct ciphertexts for repeated encryption")
	}
	if len(a) != 32 {
		t.Fatalf("expected IV + one block, got %d bytes", len(a))
	}
}

func TestEmptyOwnerFallsBackToUser(t *testing.T) {
	state, err := Build(raw.AlgorithmRC4_128, "same", "", PrintOnly(), testID)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := authenticateOwner(state, []byte("same")); !ok {
		t.Fatalf("owner password should equal user password")
	}
}

func TestUnsupportedHandler(t *testing.T) {
	dict := raw.Dict()
	dict.Set("Filter", raw.NameLiteral("Standard"))
	dict.Set("V", raw.NumberInt(5))
	dict.Set("R", raw.NumberInt(6))
	dict.Set("O", raw.Str(make([]byte, 48)))
	dict.Set("U", raw.Str(make([]byte, 48)))
	if _, err := Authenticate(dict, testID, ""); !errors.Is(err, pdferr.ErrEncryption) {
		t.Fatalf("expected encryption error, got %v", err)
	}
	dict.Set("Filter", raw.NameLiteral("Adobe.PubSec"))
	if _, err := Authenticate(dict, testID, ""); !errors.Is(err, pdferr.ErrEncryption) {
		t.Fatalf("expected encryption error, got %v", err)
	}
}

func TestPermissionsValue(t *testing.T) {
	tests := []struct {
		name  string
		perms raw.Permissions
		want  uint32
	}{
		{"none", raw.Permissions{}, 0xFFFFF0C0},
		{"print only", PrintOnly(), 0xFFFFF8C4},
		{"all", AllPermissions(), 0xFFFFFFFC},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PermissionsValue(tt.perms)
			if uint32(got) != tt.want {
				t.Fatalf("P = %#x, want %#x", uint32(got), tt.want)
			}
			if back := PermissionsFromValue(got); back != tt.perms {
				t.Fatalf("decode mismatch: %+v", back)
			}
		})
	}
}
