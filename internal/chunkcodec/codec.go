// Package chunkcodec implements symmetric authenticated encryption over
// fixed-size chunks, exactly spec.md §4.1: a fresh nonce per Encrypt call,
// failure only on nonce-generation failure, and an on-wire format of
// nonce‖ciphertext‖tag with a 12-byte AEAD nonce.
//
// Grounded on the teacher's internal/crypto/chunked.go (AEAD Seal/Open
// usage, per-chunk IV derivation) and internal/crypto/keymanager.go (the
// KeyManager abstraction, narrowed here to a single process-wide key since
// key storage is an out-of-scope external collaborator per spec.md §1).
package chunkcodec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/kenneth/bae-engine/internal/errs"
)

// NonceSize is the AEAD nonce length mandated by spec.md §4.1.
const NonceSize = 12

// TagSize is the GCM authentication tag length appended by Seal.
const TagSize = 16

// KeySource abstracts the out-of-scope external key-storage collaborator
// (spec.md §1). The engine loads the process-wide key exactly once at
// startup from whatever KeySource the host wires in (OS keychain, file,
// environment — unspecified here).
type KeySource interface {
	// Load returns the raw 32-byte AES-256 key.
	Load() ([]byte, error)
}

// StaticKeySource is the simplest KeySource: a key already resident in
// memory. Used by tests and by hosts that resolve the key themselves
// before constructing the Codec.
type StaticKeySource struct {
	Key []byte
}

func (s StaticKeySource) Load() ([]byte, error) {
	return s.Key, nil
}

// Sealed is the result of Encrypt: the ciphertext+tag, and the nonce used.
type Sealed struct {
	Ciphertext []byte // includes the appended GCM tag
	Nonce      []byte
}

// Codec provides Encrypt/Decrypt for one process-wide key. It is safe for
// concurrent use; the underlying cipher.AEAD is stateless across calls.
type Codec struct {
	mu   sync.RWMutex
	aead cipher.AEAD
}

// New loads the key from source once and constructs a ready Codec.
func New(source KeySource) (*Codec, error) {
	key, err := source.Load()
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, "chunkcodec", "failed to load encryption key", err)
	}
	if len(key) != 32 {
		return nil, errs.New(errs.KindConfig, "chunkcodec", fmt.Sprintf("key must be 32 bytes for AES-256, got %d", len(key)))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, "chunkcodec", "failed to construct AES cipher", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, "chunkcodec", "failed to construct AEAD", err)
	}

	return &Codec{aead: aead}, nil
}

// Encrypt generates a fresh nonce and seals plaintext, per spec.md §4.1.
// It fails only on nonce-generation failure.
func (c *Codec) Encrypt(plaintext []byte) (*Sealed, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errs.Wrap(errs.KindCrypto, "chunkcodec", "failed to generate nonce", err)
	}

	c.mu.RLock()
	ciphertext := c.aead.Seal(nil, nonce, plaintext, nil)
	c.mu.RUnlock()

	return &Sealed{Ciphertext: ciphertext, Nonce: nonce}, nil
}

// Decrypt authenticates and decrypts ciphertext (which includes the
// trailing tag) using nonce. Fails on tag mismatch, truncation, or wrong
// key (spec.md §4.1).
func (c *Codec) Decrypt(ciphertext, nonce []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, errs.New(errs.KindCrypto, "chunkcodec", fmt.Sprintf("invalid nonce size %d", len(nonce)))
	}
	if len(ciphertext) < TagSize {
		return nil, errs.New(errs.KindCrypto, "chunkcodec", "ciphertext truncated")
	}

	c.mu.RLock()
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	c.mu.RUnlock()
	if err != nil {
		return nil, errs.Wrap(errs.KindCrypto, "chunkcodec", "decryption failed", err)
	}
	return plaintext, nil
}

// Serialize produces the on-wire/on-disk byte layout of spec.md §6:
// nonce ‖ ciphertext ‖ tag. Since Seal already appends the tag to
// ciphertext, this is just nonce‖sealed.Ciphertext.
func Serialize(sealed *Sealed) []byte {
	out := make([]byte, 0, len(sealed.Nonce)+len(sealed.Ciphertext))
	out = append(out, sealed.Nonce...)
	out = append(out, sealed.Ciphertext...)
	return out
}

// Deserialize splits a stored blob back into nonce and ciphertext+tag.
func Deserialize(blob []byte) (ciphertext, nonce []byte, err error) {
	if len(blob) < NonceSize+TagSize {
		return nil, nil, errs.New(errs.KindCrypto, "chunkcodec", "blob too short to contain nonce and tag")
	}
	nonce = blob[:NonceSize]
	ciphertext = blob[NonceSize:]
	return ciphertext, nonce, nil
}

// EncryptBlob is the convenience path the import pipeline's encrypt stage
// uses: encrypt plaintext and return the full on-wire blob directly.
func (c *Codec) EncryptBlob(plaintext []byte) ([]byte, error) {
	sealed, err := c.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	return Serialize(sealed), nil
}

// DecryptBlob is the convenience path chunk cache/buffer readers use:
// decrypt a full on-wire blob in one call.
func (c *Codec) DecryptBlob(blob []byte) ([]byte, error) {
	ciphertext, nonce, err := Deserialize(blob)
	if err != nil {
		return nil, err
	}
	return c.Decrypt(ciphertext, nonce)
}
