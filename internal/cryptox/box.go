package cryptox

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

const curve25519KeySize = 32

func toKey(b []byte) (*[curve25519KeySize]byte, bool) {
	if len(b) != curve25519KeySize {
		return nil, false
	}
	var k [curve25519KeySize]byte
	copy(k[:], b)
	return &k, true
}

// EncryptAnonymous seals data to the recipient public key. The sender needs
// no keypair of its own.
func EncryptAnonymous(data, publicKey []byte) ([]byte, error) {
	pk, ok := toKey(publicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key length %d", ErrEncryption, len(publicKey))
	}
	out, err := box.SealAnonymous(nil, data, pk, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	return out, nil
}

// DecryptAnonymous opens a sealed box addressed to the given keypair.
func DecryptAnonymous(cipherText, privateKey, publicKey []byte) ([]byte, error) {
	if len(cipherText) < box.AnonymousOverhead {
		return nil, ErrBadCipherText
	}
	sk, ok := toKey(privateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private key length %d", ErrDecryption, len(privateKey))
	}
	pk, ok := toKey(publicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key length %d", ErrDecryption, len(publicKey))
	}
	out, ok := box.OpenAnonymous(nil, cipherText, pk, sk)
	if !ok {
		return nil, ErrDecryption
	}
	return out, nil
}
