package cryptox

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// SymmetricKeySize is the size of a per-message access key.
const SymmetricKeySize = chacha20poly1305.KeySize

// GenerateAccessKey returns a random 32-byte symmetric key.
func GenerateAccessKey() ([]byte, error) {
	key := make([]byte, SymmetricKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRandomGenerator, err)
	}
	return key, nil
}

// EncryptXChaCha20Poly1305 encrypts data under key. The random 24-byte
// nonce is prepended to the returned ciphertext.
func EncryptXChaCha20Poly1305(data, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(data)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRandomGenerator, err)
	}

	return aead.Seal(nonce, nonce, data, nil), nil
}

// DecryptXChaCha20Poly1305 reverses EncryptXChaCha20Poly1305. A wrong key or
// any modification of the ciphertext yields ErrDecryption.
func DecryptXChaCha20Poly1305(cipherText, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	if len(cipherText) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrBadCipherText
	}

	nonce, sealed := cipherText[:aead.NonceSize()], cipherText[aead.NonceSize():]
	out, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return out, nil
}
