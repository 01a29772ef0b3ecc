// Package sotn builds and verifies the self-signed nonce carried in the
// Authorization header of authenticated requests:
//
//	SOTN value=<token>; host=<host>; algorithm=ed25519; signature=<sig>; key=<pub>
//
// The signature covers host followed by token. No server-issued session
// state is involved.
package sotn

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/openemail/internal/attrs"
	"github.com/dmitrijs2005/openemail/internal/common"
	"github.com/dmitrijs2005/openemail/internal/cryptox"
	"github.com/dmitrijs2005/openemail/internal/identity"
)

const tokenLength = 32

var ErrBadAuthorization = errors.New("bad authorization header")

// Nonce is a parsed Authorization value.
type Nonce struct {
	Token     string
	Host      string
	Signature []byte
	Key       []byte
}

// Header signs a fresh token for host with the user's signing key.
func Header(user *identity.LocalUser, host string) (string, error) {
	token, err := common.RandomAlphanumeric(tokenLength)
	if err != nil {
		return "", err
	}
	sig, err := user.Sign([]byte(host + token))
	if err != nil {
		return "", err
	}
	return common.AuthorizationScheme + " " + attrs.Format(
		attrs.Pair{Key: "value", Value: token},
		attrs.Pair{Key: "host", Value: host},
		attrs.Pair{Key: "algorithm", Value: cryptox.SigningAlgorithm},
		attrs.Pair{Key: "signature", Value: base64.StdEncoding.EncodeToString(sig)},
		attrs.Pair{Key: "key", Value: user.PublicSigningKeyBase64()},
	), nil
}

// Parse decodes an Authorization header value without verifying it.
func Parse(header string) (*Nonce, error) {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, common.AuthorizationScheme) {
		return nil, fmt.Errorf("%w: scheme", ErrBadAuthorization)
	}
	a, err := attrs.Parse(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadAuthorization, err)
	}
	if !strings.EqualFold(a.Get("algorithm"), cryptox.SigningAlgorithm) {
		return nil, fmt.Errorf("%w: algorithm %q", ErrBadAuthorization, a.Get("algorithm"))
	}

	n := &Nonce{Token: a.Get("value"), Host: a.Get("host")}
	if n.Token == "" || n.Host == "" {
		return nil, fmt.Errorf("%w: missing token or host", ErrBadAuthorization)
	}
	if n.Signature, err = base64.StdEncoding.DecodeString(a.Get("signature")); err != nil {
		return nil, fmt.Errorf("%w: signature", ErrBadAuthorization)
	}
	if n.Key, err = base64.StdEncoding.DecodeString(a.Get("key")); err != nil {
		return nil, fmt.Errorf("%w: key", ErrBadAuthorization)
	}
	return n, nil
}

// Verify parses header and checks it was signed for host. It returns the
// signer's public key.
func Verify(header, host string) ([]byte, error) {
	n, err := Parse(header)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(n.Host, host) {
		return nil, fmt.Errorf("%w: signed for %q", ErrBadAuthorization, n.Host)
	}
	if err := cryptox.Verify(n.Key, []byte(n.Host+n.Token), n.Signature); err != nil {
		return nil, err
	}
	return n.Key, nil
}
