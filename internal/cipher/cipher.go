// Package cipher wraps every chat payload after the credential check.
//
// A Codec holds the key derived once from the server password.  Payloads
// are encrypted with AES-128 in CBC mode with PKCS#5 padding and carried
// on the wire as standard base64 text.
//
// Two IV policies exist.  IVRandom draws a fresh IV per message and sends
// it in front of the ciphertext.  IVZero reuses an all-zero IV for every
// message, which is what original clients speak; it leaks equality of
// identical plaintexts and is kept only for compatibility.
package cipher

import (
	"bytes"
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/pbkdf2"

	chaterr "sockchat/internal/errors"
)

// Key-derivation parameters shared with every client.
const (
	KDFSalt       = "PBKDF2WithHmacSHA256"
	KDFIterations = 65536
	KeySize       = 16 // AES-128
)

// IVMode selects how initialisation vectors are chosen.
type IVMode int

const (
	// IVRandom prefixes each ciphertext with a fresh random IV.
	IVRandom IVMode = iota
	// IVZero uses a fixed all-zero IV (legacy wire format).
	IVZero
)

func (m IVMode) String() string {
	switch m {
	case IVRandom:
		return "random"
	case IVZero:
		return "zero"
	default:
		return "unknown"
	}
}

// Codec encrypts and decrypts payloads under one derived key.  It is
// immutable after construction and safe for concurrent use.
type Codec struct {
	block gocipher.Block
	hash  string
	mode  IVMode
}

// DeriveKey runs PBKDF2-HMAC-SHA256 over password with the fixed salt and
// iteration count, producing a 128-bit key.
func DeriveKey(password string) ([]byte, error) {
	if password == "" {
		return nil, fmt.Errorf("%w: empty password", chaterr.ErrSetup)
	}
	return pbkdf2.Key([]byte(password), []byte(KDFSalt), KDFIterations, KeySize, sha256.New), nil
}

// Hash returns the lowercase hex SHA-256 of password.  Clients send it to
// prove they know the password without sending the password itself.
func Hash(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// New derives the key for password and prepares the block cipher.  Any
// failure is a setup error and should abort startup.
func New(password string, mode IVMode) (*Codec, error) {
	key, err := DeriveKey(password)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chaterr.ErrSetup, err)
	}
	return &Codec{block: block, hash: Hash(password), mode: mode}, nil
}

// Mode reports the codec's IV policy.
func (c *Codec) Mode() IVMode { return c.mode }

// VerifyHash reports whether candidate equals the password hash, in
// constant time.
func (c *Codec) VerifyHash(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(c.hash), []byte(candidate)) == 1
}

// PasswordHash returns the verification hash clients must present.
func (c *Codec) PasswordHash() string { return c.hash }

// Encrypt returns the base64 ciphertext of plaintext.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	bs := c.block.BlockSize()
	padded := pad([]byte(plaintext), bs)

	var out, iv []byte
	switch c.mode {
	case IVZero:
		out = make([]byte, len(padded))
		iv = make([]byte, bs)
		gocipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out, padded)
	default:
		out = make([]byte, bs+len(padded))
		iv = out[:bs]
		if _, err := rand.Read(iv); err != nil {
			return "", fmt.Errorf("generating IV: %w", err)
		}
		gocipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out[bs:], padded)
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt.  Every failure wraps ErrDecode; callers treat
// it as a corrupt or hostile message, never as fatal.
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: base64: %v", chaterr.ErrDecode, err)
	}

	bs := c.block.BlockSize()
	iv := make([]byte, bs)
	if c.mode == IVRandom {
		if len(raw) < bs {
			return "", fmt.Errorf("%w: missing IV", chaterr.ErrDecode)
		}
		copy(iv, raw[:bs])
		raw = raw[bs:]
	}
	if len(raw) == 0 || len(raw)%bs != 0 {
		return "", fmt.Errorf("%w: length %d is not a positive multiple of %d", chaterr.ErrDecode, len(raw), bs)
	}

	plain := make([]byte, len(raw))
	gocipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plain, raw)

	plain, err = unpad(plain, bs)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(plain) {
		return "", fmt.Errorf("%w: plaintext is not UTF-8", chaterr.ErrDecode)
	}
	return string(plain), nil
}

func pad(b []byte, bs int) []byte {
	n := bs - len(b)%bs
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, bs int) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > bs || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", chaterr.ErrDecode)
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, fmt.Errorf("%w: bad padding", chaterr.ErrDecode)
		}
	}
	return b[:len(b)-n], nil
}
