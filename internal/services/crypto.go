package services

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"github.com/xmlangel/testcasecraft-sub009/internal/syncerr"
	"golang.org/x/crypto/hkdf"
)

const encryptionKeyInfo = "testcasecraft/connection-config/v1"

// Encryptor seals tracker secrets at rest with AES-256-CBC. The stored form is
// base64(iv || ciphertext) with PKCS#7 padding.
type Encryptor struct {
	key []byte
}

// NewEncryptor accepts a base64 encoded 32 byte key, or any other non-empty
// string as a passphrase that is stretched with HKDF-SHA256.
func NewEncryptor(secret string) (*Encryptor, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, syncerr.New(syncerr.KindEncryptionError, "crypto.NewEncryptor", "encryption key is not configured")
	}

	if raw, err := base64.StdEncoding.DecodeString(secret); err == nil && len(raw) == 32 {
		return &Encryptor{key: raw}, nil
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(encryptionKeyInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, syncerr.Wrap(syncerr.KindEncryptionError, "crypto.NewEncryptor", err)
	}
	return &Encryptor{key: key}, nil
}

func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	const op = "crypto.Encrypt"
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", syncerr.Wrap(syncerr.KindEncryptionError, op, err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	iv := out[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", syncerr.Wrap(syncerr.KindEncryptionError, op, err)
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (e *Encryptor) Decrypt(encoded string) (string, error) {
	const op = "crypto.Decrypt"
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", syncerr.Wrap(syncerr.KindEncryptionError, op, err)
	}
	if len(data) < 2*aes.BlockSize || len(data)%aes.BlockSize != 0 {
		return "", syncerr.Newf(syncerr.KindEncryptionError, op, "ciphertext has invalid length %d", len(data))
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", syncerr.Wrap(syncerr.KindEncryptionError, op, err)
	}
	iv, body := data[:aes.BlockSize], data[aes.BlockSize:]
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)

	plain, err = pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return "", syncerr.Wrap(syncerr.KindEncryptionError, op, err)
	}
	return string(plain), nil
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

var errBadPadding = errors.New("invalid padding (wrong key?)")

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, errBadPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errBadPadding
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errBadPadding
		}
	}
	return b[:len(b)-n], nil
}
