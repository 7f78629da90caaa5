package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"crypto/rc4"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcompose/ir/raw"
	"github.com/wudi/pdfcompose/pdferr"
)

// DataClass identifies the kind of payload being encrypted or decrypted.
type DataClass int

const (
	DataClassStream DataClass = iota
	DataClassString
)

// ErrPasswordMismatch is returned when neither the user nor the owner password matches.
var ErrPasswordMismatch = &pdferr.EncryptionError{Reason: "password mismatch"}

// Handler encrypts and decrypts strings and streams of one document.
type Handler interface {
	Encrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error)
	Decrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error)
	Permissions() raw.Permissions
	State() *raw.EncryptionState
}

type standardHandler struct {
	state *raw.EncryptionState
	aes   bool
}

// NewHandler returns the standard security handler for an authenticated state.
func NewHandler(state *raw.EncryptionState) (Handler, error) {
	if state == nil || len(state.FileKey) == 0 {
		return nil, &pdferr.EncryptionError{Reason: "missing file key"}
	}
	switch state.Algorithm {
	case raw.AlgorithmRC4_40, raw.AlgorithmRC4_128:
		return &standardHandler{state: state}, nil
	case raw.AlgorithmAES_128:
		return &standardHandler{state: state, aes: true}, nil
	}
	return nil, &pdferr.EncryptionError{Reason: fmt.Sprintf("unsupported algorithm %s", state.Algorithm)}
}

func (h *standardHandler) State() *raw.EncryptionState { return h.state }

func (h *standardHandler) Permissions() raw.Permissions {
	return PermissionsFromValue(h.state.P)
}

func (h *standardHandler) Encrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error) {
	key := objectKey(h.state.FileKey, objNum, gen, h.aes)
	if h.aes {
		return aesEncrypt(key, data)
	}
	return rc4Crypt(key, data)
}

func (h *standardHandler) Decrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	key := objectKey(h.state.FileKey, objNum, gen, h.aes)
	if h.aes {
		return aesDecrypt(key, data)
	}
	return rc4Crypt(key, data)
}

// Authenticate reads an /Encrypt dictionary of the standard security handler and
// authenticates password as either the user or the owner password.
func Authenticate(encryptDict *raw.DictObj, fileID []byte, password string) (*raw.EncryptionState, error) {
	state, err := parseEncryptDict(encryptDict, fileID)
	if err != nil {
		return nil, err
	}
	pwd := []byte(password)
	if key, ok := authenticateUser(state, pwd); ok {
		state.FileKey = key
		return state, nil
	}
	if key, ok := authenticateOwner(state, pwd); ok {
		state.FileKey = key
		return state, nil
	}
	return nil, ErrPasswordMismatch
}

func parseEncryptDict(d *raw.DictObj, fileID []byte) (*raw.EncryptionState, error) {
	if d == nil {
		return nil, &pdferr.EncryptionError{Reason: "missing encryption dictionary"}
	}
	if f, _ := d.Name("Filter"); f != "Standard" {
		return nil, &pdferr.EncryptionError{Reason: fmt.Sprintf("unsupported security handler %q", f)}
	}
	v, _ := d.Int("V")
	r, _ := d.Int("R")
	state := &raw.EncryptionState{
		Revision:        int(r),
		ID:              append([]byte(nil), fileID...),
		EncryptMetadata: true,
	}
	if p, ok := d.Int("P"); ok {
		state.P = int32(p)
	}
	if o, ok := d.Get("O"); ok {
		if s, ok := o.(raw.StringObj); ok {
			state.O = append([]byte(nil), s.Bytes...)
		}
	}
	if u, ok := d.Get("U"); ok {
		if s, ok := u.(raw.StringObj); ok {
			state.U = append([]byte(nil), s.Bytes...)
		}
	}
	if len(state.O) < 32 || len(state.U) < 32 {
		return nil, &pdferr.EncryptionError{Reason: "O and U entries must be at least 32 bytes"}
	}
	if em, ok := d.Get("EncryptMetadata"); ok {
		if b, ok := em.(raw.BoolObj); ok {
			state.EncryptMetadata = b.V
		}
	}

	switch {
	case v == 1 && r == 2:
		state.Algorithm, state.KeyLength = raw.AlgorithmRC4_40, 5
	case v == 2 && (r == 2 || r == 3):
		length, ok := d.Int("Length")
		if !ok {
			length = 40
		}
		if length < 40 || length > 128 || length%8 != 0 {
			return nil, &pdferr.EncryptionError{Reason: fmt.Sprintf("invalid key length %d", length)}
		}
		state.KeyLength = int(length / 8)
		state.Algorithm = raw.AlgorithmRC4_128
		if state.KeyLength == 5 {
			state.Algorithm = raw.AlgorithmRC4_40
		}
	case v == 4 && r == 4:
		method, err := cryptFilterMethod(d)
		if err != nil {
			return nil, err
		}
		state.KeyLength = 16
		switch method {
		case "AESV2":
			state.Algorithm = raw.AlgorithmAES_128
		case "V2":
			state.Algorithm = raw.AlgorithmRC4_128
		default:
			return nil, &pdferr.EncryptionError{Reason: fmt.Sprintf("unsupported crypt filter method %q", method)}
		}
	default:
		return nil, &pdferr.EncryptionError{Reason: fmt.Sprintf("unsupported revision V=%d R=%d", v, r)}
	}
	return state, nil
}

// cryptFilterMethod returns the CFM of the crypt filter named by /StmF.
func cryptFilterMethod(d *raw.DictObj) (string, error) {
	name, ok := d.Name("StmF")
	if !ok || name == "Identity" {
		return "", &pdferr.EncryptionError{Reason: "identity crypt filters are not supported"}
	}
	cfObj, _ := d.Get("CF")
	cf, ok := cfObj.(*raw.DictObj)
	if !ok {
		return "", &pdferr.EncryptionError{Reason: "missing /CF dictionary"}
	}
	entryObj, _ := cf.Get(name)
	entry, ok := entryObj.(*raw.DictObj)
	if !ok {
		return "", &pdferr.EncryptionError{Reason: fmt.Sprintf("crypt filter %s not defined", name)}
	}
	method, _ := entry.Name("CFM")
	return method, nil
}

// Build creates the state for protecting a document with the given passwords.
// An empty owner password falls back to the user password.
func Build(alg raw.Algorithm, userPwd, ownerPwd string, perms raw.Permissions, fileID []byte) (*raw.EncryptionState, error) {
	if ownerPwd == "" {
		ownerPwd = userPwd
	}
	state := &raw.EncryptionState{
		Algorithm:       alg,
		P:               PermissionsValue(perms),
		ID:              append([]byte(nil), fileID...),
		EncryptMetadata: true,
	}
	switch alg {
	case raw.AlgorithmRC4_40:
		state.Revision, state.KeyLength = 2, 5
	case raw.AlgorithmRC4_128:
		state.Revision, state.KeyLength = 3, 16
	case raw.AlgorithmAES_128:
		state.Revision, state.KeyLength = 4, 16
	default:
		return nil, &pdferr.EncryptionError{Reason: fmt.Sprintf("unsupported algorithm %s", alg)}
	}
	if len(fileID) == 0 {
		return nil, &pdferr.EncryptionError{Reason: "file identifier required"}
	}
	state.O = computeO(state, []byte(userPwd), []byte(ownerPwd))
	state.FileKey = deriveKey(state, []byte(userPwd))
	state.U = computeU(state, state.FileKey)
	return state, nil
}

// EncryptDict renders the /Encrypt dictionary for state.
func EncryptDict(state *raw.EncryptionState) *raw.DictObj {
	enc := raw.Dict()
	enc.Set("Filter", raw.NameLiteral("Standard"))
	enc.Set("R", raw.NumberInt(int64(state.Revision)))
	enc.Set("O", raw.HexStr(state.O))
	enc.Set("U", raw.HexStr(state.U))
	enc.Set("P", raw.NumberInt(int64(state.P)))
	switch state.Algorithm {
	case raw.AlgorithmRC4_40:
		enc.Set("V", raw.NumberInt(1))
		enc.Set("Length", raw.NumberInt(40))
	case raw.AlgorithmRC4_128:
		if state.Revision == 4 {
			setCryptFilter(enc, "V2")
		} else {
			enc.Set("V", raw.NumberInt(2))
			enc.Set("Length", raw.NumberInt(128))
		}
	case raw.AlgorithmAES_128:
		setCryptFilter(enc, "AESV2")
	}
	if !state.EncryptMetadata {
		enc.Set("EncryptMetadata", raw.Bool(false))
	}
	return enc
}

func setCryptFilter(enc *raw.DictObj, method string) {
	enc.Set("V", raw.NumberInt(4))
	enc.Set("Length", raw.NumberInt(128))
	std := raw.Dict()
	std.Set("Type", raw.NameLiteral("CryptFilter"))
	std.Set("CFM", raw.NameLiteral(method))
	std.Set("AuthEvent", raw.NameLiteral("DocOpen"))
	std.Set("Length", raw.NumberInt(16))
	cf := raw.Dict()
	cf.Set("StdCF", std)
	enc.Set("CF", cf)
	enc.Set("StmF", raw.NameLiteral("StdCF"))
	enc.Set("StrF", raw.NameLiteral("StdCF"))
}

// Helpers
var passwordPadding = []byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41,
	0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80,
	0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

func padPassword(pwd []byte) []byte {
	padded := make([]byte, 32)
	n := copy(padded, pwd)
	copy(padded[n:], passwordPadding)
	return padded
}

// deriveKey computes the file key from a user password (algorithm 2).
func deriveKey(state *raw.EncryptionState, pwd []byte) []byte {
	n := state.KeyLength
	data := make([]byte, 0, 32+len(state.O)+8+len(state.ID))
	data = append(data, padPassword(pwd)...)
	data = append(data, state.O[:32]...)
	var pBuf [4]byte
	binary.LittleEndian.PutUint32(pBuf[:], uint32(state.P))
	data = append(data, pBuf[:]...)
	data = append(data, state.ID...)
	if state.Revision >= 4 && !state.EncryptMetadata {
		data = append(data, 0xFF, 0xFF, 0xFF, 0xFF)
	}
	sum := md5.Sum(data)
	key := sum[:]
	if state.Revision >= 3 {
		for i := 0; i < 50; i++ {
			sum = md5.Sum(key[:n])
			key = sum[:]
		}
	}
	return append([]byte(nil), key[:n]...)
}

// ownerKey is the RC4 key protecting the O entry (algorithm 3, steps a-d).
func ownerKey(state *raw.EncryptionState, ownerPwd []byte) []byte {
	sum := md5.Sum(padPassword(ownerPwd))
	key := sum[:]
	if state.Revision >= 3 {
		for i := 0; i < 50; i++ {
			sum = md5.Sum(key)
			key = sum[:]
		}
	}
	return key[:state.KeyLength]
}

func computeO(state *raw.EncryptionState, userPwd, ownerPwd []byte) []byte {
	key := ownerKey(state, ownerPwd)
	out := rc4Simple(key, padPassword(userPwd))
	if state.Revision >= 3 {
		for i := 1; i <= 19; i++ {
			out = rc4Simple(xorKey(key, byte(i)), out)
		}
	}
	return out
}

func computeU(state *raw.EncryptionState, fileKey []byte) []byte {
	if state.Revision == 2 {
		return rc4Simple(fileKey, passwordPadding)
	}
	sum := md5.Sum(append(append([]byte(nil), passwordPadding...), state.ID...))
	out := rc4Simple(fileKey, sum[:])
	for i := 1; i <= 19; i++ {
		out = rc4Simple(xorKey(fileKey, byte(i)), out)
	}
	return append(out, make([]byte, 16)...)
}

func authenticateUser(state *raw.EncryptionState, pwd []byte) ([]byte, bool) {
	key := deriveKey(state, pwd)
	u := computeU(state, key)
	n := 32
	if state.Revision >= 3 {
		n = 16
	}
	if bytes.Equal(u[:n], state.U[:n]) {
		return key, true
	}
	return nil, false
}

// authenticateOwner recovers the user password from O (algorithm 7) and checks it.
func authenticateOwner(state *raw.EncryptionState, pwd []byte) ([]byte, bool) {
	key := ownerKey(state, pwd)
	userPad := append([]byte(nil), state.O[:32]...)
	if state.Revision == 2 {
		userPad = rc4Simple(key, userPad)
	} else {
		for i := 19; i >= 0; i-- {
			userPad = rc4Simple(xorKey(key, byte(i)), userPad)
		}
	}
	return authenticateUser(state, userPad)
}

func xorKey(key []byte, v byte) []byte {
	out := make([]byte, len(key))
	for i := range key {
		out[i] = key[i] ^ v
	}
	return out
}

// objectKey derives the per-object key (algorithm 1).
func objectKey(fileKey []byte, objNum, gen int, useAES bool) []byte {
	key := make([]byte, 0, len(fileKey)+9)
	key = append(key, fileKey...)
	key = append(key, byte(objNum), byte(objNum>>8), byte(objNum>>16))
	key = append(key, byte(gen), byte(gen>>8))
	if useAES {
		key = append(key, 0x73, 0x41, 0x6C, 0x54) // "sAlT"
	}
	hashLen := len(fileKey) + 5
	if hashLen > 16 {
		hashLen = 16
	}
	hash := md5.Sum(key)
	return hash[:hashLen]
}

func rc4Simple(key []byte, data []byte) []byte {
	out := make([]byte, len(data))
	c, _ := rc4.NewCipher(key)
	c.XORKeyStream(out, data)
	return out
}

func rc4Crypt(key []byte, data []byte) ([]byte, error) {
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out, nil
}

// aesEncrypt prefixes a fresh random IV and pads with PKCS#5.
func aesEncrypt(key []byte, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, errors.Wrap(err, "generate iv")
	}
	padLen := aes.BlockSize - len(data)%aes.BlockSize
	plain := make([]byte, len(data)+padLen)
	copy(plain, data)
	copy(plain[len(data):], bytes.Repeat([]byte{byte(padLen)}, padLen))
	out := make([]byte, aes.BlockSize+len(plain))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], plain)
	return out, nil
}

func aesDecrypt(key []byte, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data) < aes.BlockSize {
		return nil, errors.New("aes ciphertext too short")
	}
	iv := data[:aes.BlockSize]
	ct := data[aes.BlockSize:]
	if len(ct)%aes.BlockSize != 0 {
		return nil, errors.New("aes ciphertext not multiple of blocksize")
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)
	if len(out) == 0 {
		return out, nil
	}
	pad := int(out[len(out)-1])
	if pad <= 0 || pad > aes.BlockSize || pad > len(out) {
		return nil, errors.New("invalid aes padding")
	}
	return out[:len(out)-pad], nil
}
