// Package cryptoutil seals small secrets with a passphrase. It is a generic
// primitive wrapper: key derivation with PBKDF2, authenticated encryption
// with AES-256-GCM or SM4-GCM.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/tjfoc/gmsm/sm3"
	"github.com/tjfoc/gmsm/sm4"
	"golang.org/x/crypto/pbkdf2"
)

type Algorithm string

const (
	AES256GCM Algorithm = "aes-256-gcm"
	SM4GCM    Algorithm = "sm4-gcm"
)

const (
	envelopeVersion = 1
	saltLen         = 16
	headerLen       = 2 + saltLen
	// DefaultIterations is the PBKDF2 work factor for new envelopes.
	DefaultIterations = 210_000
)

var (
	ErrDecrypt   = errors.New("cryptoutil: wrong passphrase or corrupted data")
	ErrMalformed = errors.New("cryptoutil: malformed envelope")
)

// suite binds an algorithm to its envelope id, KDF hash and block cipher.
type suite struct {
	id     byte
	keyLen int
	hash   func() hash.Hash
	block  func(key []byte) (cipher.Block, error)
}

var suites = map[Algorithm]suite{
	AES256GCM: {id: 1, keyLen: 32, hash: sha256.New, block: aes.NewCipher},
	SM4GCM:    {id: 2, keyLen: sm4.BlockSize, hash: sm3.New, block: sm4.NewCipher},
}

func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(s)
	if s == "" {
		return AES256GCM, nil
	}
	if _, ok := suites[a]; !ok {
		return "", fmt.Errorf("cryptoutil: unknown algorithm %q (want %s or %s)", s, AES256GCM, SM4GCM)
	}
	return a, nil
}

type Sealer struct {
	alg        Algorithm
	iterations int
}

// New returns a sealer for alg. iterations <= 0 selects DefaultIterations.
func New(alg Algorithm, iterations int) (*Sealer, error) {
	if _, ok := suites[alg]; !ok {
		return nil, fmt.Errorf("cryptoutil: unknown algorithm %q", alg)
	}
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return &Sealer{alg: alg, iterations: iterations}, nil
}

// Seal encrypts plaintext. The envelope is base64 of
// version | suite | salt | nonce | ciphertext+tag.
func (s *Sealer) Seal(passphrase, plaintext []byte) (string, error) {
	st := suites[s.alg]
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	aead, err := newAEAD(st, passphrase, salt, s.iterations)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, headerLen+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, envelopeVersion, st.id)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, out[:headerLen])
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts an envelope produced by Seal with any supported suite. The
// work factor must match the one used to seal.
func (s *Sealer) Open(passphrase []byte, envelope string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return nil, ErrMalformed
	}
	if len(raw) < headerLen || raw[0] != envelopeVersion {
		return nil, ErrMalformed
	}
	st, ok := suiteByID(raw[1])
	if !ok {
		return nil, ErrMalformed
	}
	aead, err := newAEAD(st, passphrase, raw[2:headerLen], s.iterations)
	if err != nil {
		return nil, err
	}
	rest := raw[headerLen:]
	if len(rest) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrMalformed
	}
	nonce, sealed := rest[:aead.NonceSize()], rest[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, raw[:headerLen])
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}

func newAEAD(st suite, passphrase, salt []byte, iterations int) (cipher.AEAD, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("cryptoutil: empty passphrase")
	}
	key := pbkdf2.Key(passphrase, salt, iterations, st.keyLen, st.hash)
	block, err := st.block(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return aead, nil
}

func suiteByID(id byte) (suite, bool) {
	for _, st := range suites {
		if st.id == id {
			return st, true
		}
	}
	return suite{}, false
}
