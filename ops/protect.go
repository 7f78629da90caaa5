package ops

import (
	"context"

	"github.com/wudi/pdfcompose/ir/raw"
	"github.com/wudi/pdfcompose/observability"
	"github.com/wudi/pdfcompose/pdferr"
	"github.com/wudi/pdfcompose/security"
	"github.com/wudi/pdfcompose/writer"
)

// ProtectOptions select the cipher and the permissions granted to users who
// open the file with the password. The zero value means AES-128, print only.
type ProtectOptions struct {
	Algorithm   raw.Algorithm
	Permissions *raw.Permissions
}

// Protect returns a copy of doc that the writer will encrypt. The password opens
// the document as both user and owner. Objects stay in plaintext until they are
// serialized.
func (e *Editor) Protect(ctx context.Context, doc *raw.Document, password string, opts ProtectOptions) (*raw.Document, error) {
	if err := pdferr.CheckContext(ctx); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, &pdferr.EncryptionError{Reason: "empty password"}
	}
	alg := opts.Algorithm
	if alg == raw.AlgorithmNone {
		alg = raw.AlgorithmAES_128
	}
	perms := security.PrintOnly()
	if opts.Permissions != nil {
		perms = *opts.Permissions
	}
	id := writer.NewFileID()
	state, err := security.Build(alg, password, password, perms, id)
	if err != nil {
		return nil, err
	}
	out := doc.Clone()
	out.Encryption = state
	out.Permissions = perms
	out.ID = [][]byte{id, append([]byte(nil), id...)}
	e.logger.Debug("document protected",
		observability.String("algorithm", alg.String()),
		observability.Int("p", int(state.P)))
	return out, nil
}
