package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// Algorithm is the only envelope algorithm this codec produces and accepts.
const Algorithm = "aes-256-gcm"

const (
	keySize   = 32
	nonceSize = 12
	// Envelopes written by older clients carry 16-byte IVs.
	legacyNonceSize = 16
	tagSize         = 16
)

var (
	// ErrDecrypt is returned for any envelope that fails authentication or is malformed.
	ErrDecrypt = errors.New("message body cannot be decrypted")
	// ErrInvalidKey is returned when the configured key is not 32 bytes of hex.
	ErrInvalidKey = errors.New("encryption key must be 64 hex characters (AES-256)")
)

// Envelope is the at-rest form of a message body. All binary fields are hex encoded.
type Envelope struct {
	Ciphertext string `json:"encrypted"`
	IV         string `json:"iv"`
	Tag        string `json:"authTag"`
	Algorithm  string `json:"algorithm"`
}

// Codec encrypts and decrypts message bodies with a fixed AES-256-GCM key.
type Codec struct {
	key  []byte
	rand io.Reader
}

// New builds a Codec from a hex encoded 32-byte key.
func New(hexKey string) (*Codec, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil || len(key) != keySize {
		return nil, ErrInvalidKey
	}
	return &Codec{key: key, rand: rand.Reader}, nil
}

// GenerateKey returns a fresh random key in the hex form accepted by New.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// Encrypt seals plaintext under a fresh random nonce. Empty plaintext yields a nil
// envelope: image-only messages have no body.
func (c *Codec) Encrypt(plaintext string) (*Envelope, error) {
	if plaintext == "" {
		return nil, nil
	}
	aead, err := c.aead(nonceSize)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]
	return &Envelope{
		Ciphertext: hex.EncodeToString(ct),
		IV:         hex.EncodeToString(nonce),
		Tag:        hex.EncodeToString(tag),
		Algorithm:  Algorithm,
	}, nil
}

// Decrypt opens an envelope. Any tampering, a foreign key, or a malformed envelope
// returns ErrDecrypt and never partial plaintext.
func (c *Codec) Decrypt(env *Envelope) (string, error) {
	if env == nil || env.Algorithm != Algorithm {
		return "", ErrDecrypt
	}
	ct, err := hex.DecodeString(env.Ciphertext)
	if err != nil {
		return "", ErrDecrypt
	}
	nonce, err := hex.DecodeString(env.IV)
	if err != nil || (len(nonce) != nonceSize && len(nonce) != legacyNonceSize) {
		return "", ErrDecrypt
	}
	tag, err := hex.DecodeString(env.Tag)
	if err != nil || len(tag) != tagSize {
		return "", ErrDecrypt
	}

	aead, err := c.aead(len(nonce))
	if err != nil {
		return "", ErrDecrypt
	}
	plain, err := aead.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

func (c *Codec) aead(nonceLen int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	if nonceLen == nonceSize {
		return cipher.NewGCM(block)
	}
	return cipher.NewGCMWithNonceSize(block, nonceLen)
}
