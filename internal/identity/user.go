package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dmitrijs2005/openemail/internal/cryptox"
)

var ErrBadKeyEncoding = errors.New("bad key encoding")

// Credentials is the serializable form of a LocalUser, with base64 keys.
type Credentials struct {
	Address               string `json:"address"`
	Name                  string `json:"name,omitempty"`
	PrivateEncryptionKey  string `json:"private_encryption_key"`
	PublicEncryptionKey   string `json:"public_encryption_key"`
	PublicEncryptionKeyID string `json:"public_encryption_key_id"`
	PrivateSigningKey     string `json:"private_signing_key"`
	PublicSigningKey      string `json:"public_signing_key"`
}

// LocalUser is the authenticated identity. It is built once at login and
// passed explicitly to every component that signs or decrypts.
type LocalUser struct {
	Address EmailAddress
	Name    string

	PrivateEncryptionKey  []byte
	PublicEncryptionKey   []byte
	PublicEncryptionKeyID string

	PrivateSigningKey ed25519.PrivateKey
	PublicSigningKey  ed25519.PublicKey

	SigningKeyFingerprint string
}

// NewLocalUser decodes credentials. All four keys must decode from base64.
func NewLocalUser(c Credentials) (*LocalUser, error) {
	addr, err := ParseEmailAddress(c.Address)
	if err != nil {
		return nil, err
	}

	decode := func(name, v string) ([]byte, error) {
		b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(v))
		if err != nil || len(b) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrBadKeyEncoding, name)
		}
		return b, nil
	}

	privEnc, err := decode("private encryption key", c.PrivateEncryptionKey)
	if err != nil {
		return nil, err
	}
	pubEnc, err := decode("public encryption key", c.PublicEncryptionKey)
	if err != nil {
		return nil, err
	}
	privSignRaw, err := decode("private signing key", c.PrivateSigningKey)
	if err != nil {
		return nil, err
	}
	pubSign, err := decode("public signing key", c.PublicSigningKey)
	if err != nil {
		return nil, err
	}

	privSign, err := cryptox.SigningPrivateKey(privSignRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKeyEncoding, err)
	}

	return &LocalUser{
		Address:               addr,
		Name:                  c.Name,
		PrivateEncryptionKey:  privEnc,
		PublicEncryptionKey:   pubEnc,
		PublicEncryptionKeyID: c.PublicEncryptionKeyID,
		PrivateSigningKey:     privSign,
		PublicSigningKey:      ed25519.PublicKey(pubSign),
		SigningKeyFingerprint: cryptox.PublicKeyFingerprint(pubSign),
	}, nil
}

// GenerateLocalUser creates a new identity with fresh keys, as done at
// registration.
func GenerateLocalUser(addr EmailAddress, name string) (*LocalUser, error) {
	enc, err := cryptox.GenerateEncryptionKeys()
	if err != nil {
		return nil, err
	}
	sign, err := cryptox.GenerateSigningKeys()
	if err != nil {
		return nil, err
	}
	return &LocalUser{
		Address:               addr,
		Name:                  name,
		PrivateEncryptionKey:  enc.PrivateKey,
		PublicEncryptionKey:   enc.PublicKey,
		PublicEncryptionKeyID: enc.ID,
		PrivateSigningKey:     sign.PrivateKey,
		PublicSigningKey:      sign.PublicKey,
		SigningKeyFingerprint: cryptox.PublicKeyFingerprint(sign.PublicKey),
	}, nil
}

func (u *LocalUser) Credentials() Credentials {
	enc := base64.StdEncoding.EncodeToString
	return Credentials{
		Address:               u.Address.String(),
		Name:                  u.Name,
		PrivateEncryptionKey:  enc(u.PrivateEncryptionKey),
		PublicEncryptionKey:   enc(u.PublicEncryptionKey),
		PublicEncryptionKeyID: u.PublicEncryptionKeyID,
		PrivateSigningKey:     enc(u.PrivateSigningKey),
		PublicSigningKey:      enc(u.PublicSigningKey),
	}
}

func (u *LocalUser) PublicEncryptionKeyBase64() string {
	return base64.StdEncoding.EncodeToString(u.PublicEncryptionKey)
}

func (u *LocalUser) PublicSigningKeyBase64() string {
	return base64.StdEncoding.EncodeToString(u.PublicSigningKey)
}

// Sign signs data with the user's signing key.
func (u *LocalUser) Sign(data []byte) ([]byte, error) {
	return cryptox.Sign(u.PrivateSigningKey, data)
}

// DecryptAnonymous opens a sealed box addressed to this user.
func (u *LocalUser) DecryptAnonymous(cipherText []byte) ([]byte, error) {
	return cryptox.DecryptAnonymous(cipherText, u.PrivateEncryptionKey, u.PublicEncryptionKey)
}

// ConnectionLink returns the link between this user and remote.
func (u *LocalUser) ConnectionLink(remote EmailAddress) string {
	return ConnectionLink(u.Address, remote)
}

// ConnectionLink is the hex SHA-256 of both addresses, lowercased, trimmed,
// sorted and concatenated. It is symmetric in its arguments.
func ConnectionLink(a, b EmailAddress) string {
	pair := []string{
		strings.ToLower(strings.TrimSpace(a.String())),
		strings.ToLower(strings.TrimSpace(b.String())),
	}
	sort.Strings(pair)
	sum := sha256.Sum256([]byte(pair[0] + pair[1]))
	return hex.EncodeToString(sum[:])
}
