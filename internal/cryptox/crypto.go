// Package cryptox holds the cryptographic primitives of the OpenEmail client:
// key generation, anonymous (sealed box) encryption, XChaCha20-Poly1305 for
// message bodies and headers, a chunked secretstream cipher for large files,
// ed25519 signatures and SHA-256 checksums.
//
// Every function either returns a result or one of the sentinel errors below,
// wrapped with detail. Nothing in this package retries.
package cryptox

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/openemail/internal/common"
	"golang.org/x/crypto/nacl/box"
)

// Algorithm names as they appear on the wire.
const (
	AnonymousEncryptionCipher = "curve25519xsalsa20poly1305"
	SymmetricCipher           = "xchacha20poly1305"
	SymmetricFileCipher       = "secretstream_xchacha20poly1305"
	SigningAlgorithm          = "ed25519"
	ChecksumAlgorithm         = "sha256"
)

var (
	ErrEncryption          = errors.New("encryption error")
	ErrDecryption          = errors.New("decryption error")
	ErrBadCipherText       = errors.New("bad cipher text")
	ErrSignatureMismatch   = errors.New("signature mismatch")
	ErrRandomGenerator     = errors.New("random generator failure")
	ErrFingerprintMismatch = errors.New("fingerprint mismatch")
	ErrBadChunkSize        = errors.New("bad chunk size")
	ErrFileRead            = errors.New("file read error")
	ErrBadKey              = errors.New("bad key")
)

// KeyIDLength is the length of the random id attached to encryption keys.
const KeyIDLength = 4

// EncryptionKeys is a curve25519 keypair used for anonymous encryption.
// ID lets readers pick the right key after a rotation.
type EncryptionKeys struct {
	PrivateKey []byte
	PublicKey  []byte
	ID         string
}

func (k *EncryptionKeys) PrivateKeyBase64() string {
	return base64.StdEncoding.EncodeToString(k.PrivateKey)
}

func (k *EncryptionKeys) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(k.PublicKey)
}

// SigningKeys is an ed25519 keypair.
type SigningKeys struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
}

func (k *SigningKeys) PrivateKeyBase64() string {
	return base64.StdEncoding.EncodeToString(k.PrivateKey)
}

func (k *SigningKeys) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(k.PublicKey)
}

// GenerateEncryptionKeys creates a fresh curve25519 keypair with a random key id.
func GenerateEncryptionKeys() (*EncryptionKeys, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRandomGenerator, err)
	}
	id, err := common.RandomAlphanumeric(KeyIDLength)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRandomGenerator, err)
	}
	return &EncryptionKeys{PrivateKey: priv[:], PublicKey: pub[:], ID: id}, nil
}

// GenerateSigningKeys creates a fresh ed25519 keypair.
func GenerateSigningKeys() (*SigningKeys, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRandomGenerator, err)
	}
	return &SigningKeys{PrivateKey: priv, PublicKey: pub}, nil
}

// SigningPrivateKey accepts either a 32-byte seed or a 64-byte expanded
// ed25519 private key.
func SigningPrivateKey(b []byte) (ed25519.PrivateKey, error) {
	switch len(b) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(b), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(b), nil
	default:
		return nil, fmt.Errorf("%w: signing key length %d", ErrBadKey, len(b))
	}
}

// Sign returns the ed25519 signature of data.
func Sign(privateKey ed25519.PrivateKey, data []byte) ([]byte, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: signing key length %d", ErrBadKey, len(privateKey))
	}
	return ed25519.Sign(privateKey, data), nil
}

// Verify checks sig over data with the raw ed25519 public key.
func Verify(publicKey, data, sig []byte) error {
	if len(publicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: public key length %d", ErrBadKey, len(publicKey))
	}
	if !ed25519.Verify(ed25519.PublicKey(publicKey), data, sig) {
		return ErrSignatureMismatch
	}
	return nil
}

// PublicKeyFingerprint is the hex SHA-256 of the raw public key bytes.
func PublicKeyFingerprint(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	return hex.EncodeToString(sum[:])
}
