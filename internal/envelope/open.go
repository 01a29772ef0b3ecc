package envelope

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/openemail/internal/client/models"
	"github.com/dmitrijs2005/openemail/internal/cryptox"
	"github.com/dmitrijs2005/openemail/internal/identity"
)

// AssertAuthenticity recomputes the envelope checksum and verifies its
// signature against the author's signing key, falling back to the previous
// key. Content headers can only be opened after it succeeds.
func (e *Envelope) AssertAuthenticity(author *models.Profile) error {
	e.authenticated = false

	if err := e.checkOrderCoverage(); err != nil {
		return err
	}

	sum, err := e.digest(e.checksumOrder)
	if err != nil {
		return err
	}
	if !bytes.Equal(sum, e.checksum) {
		return ErrChecksumMismatch
	}

	if author == nil {
		return cryptox.ErrSignatureMismatch
	}
	keys := author.SigningKeys()
	if len(keys) == 0 {
		return fmt.Errorf("%w: %s", ErrBadReaderProfile, author.Address)
	}
	for _, k := range keys {
		if err := cryptox.Verify(k.Key, e.checksum, e.signature); err == nil {
			e.authenticated = true
			return nil
		}
	}
	return cryptox.ErrSignatureMismatch
}

// checkOrderCoverage requires every header the envelope was parsed from to
// be covered by the checksum.
func (e *Envelope) checkOrderCoverage() error {
	covered := make(map[string]bool, len(e.checksumOrder))
	for _, name := range e.checksumOrder {
		covered[name] = true
	}
	for name := range e.headers {
		if checksummed(name) && !covered[name] {
			return fmt.Errorf("%w: header %q not covered", ErrChecksumMismatch, name)
		}
	}
	return nil
}

// AccessKey recovers the access key granted to user by author. Broadcasts
// have no access key and return nil.
func (e *Envelope) AccessKey(user *identity.LocalUser, author identity.EmailAddress) ([]byte, error) {
	if e.IsBroadcast() {
		return nil, nil
	}

	link := user.ConnectionLink(author)
	for _, l := range e.AccessLinks {
		if l.Link != link {
			continue
		}
		if l.Fingerprint == "" || !strings.HasPrefix(user.SigningKeyFingerprint, l.Fingerprint) {
			return nil, cryptox.ErrFingerprintMismatch
		}
		ct, err := base64.StdEncoding.DecodeString(l.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: access value", ErrBadAccessLinks)
		}
		return user.DecryptAnonymous(ct)
	}
	return nil, ErrNoAccessLink
}

// OpenContentHeaders decrypts (private) or decodes (broadcast) the content
// headers. The envelope must be authenticated first.
func (e *Envelope) OpenContentHeaders(accessKey []byte) (*ContentHeaders, error) {
	if !e.authenticated {
		return nil, ErrNotAuthenticated
	}

	data := e.contentData
	if !e.IsBroadcast() {
		if accessKey == nil {
			return nil, ErrNoAccessLink
		}
		plain, err := cryptox.DecryptXChaCha20Poly1305(e.contentData, accessKey)
		if err != nil {
			return nil, err
		}
		data = plain
	}

	h, err := ParseContentHeaders(string(data))
	if err != nil {
		return nil, err
	}
	if h.MessageID != e.MessageID {
		return nil, fmt.Errorf("%w: message id %q differs from envelope %q", ErrBadContentHeaders, h.MessageID, e.MessageID)
	}
	return h, nil
}

// IsIntegrityError reports errors that mean an envelope cannot be trusted.
// They are never retried.
func IsIntegrityError(err error) bool {
	for _, target := range []error{
		ErrChecksumMismatch, ErrNotAuthenticated, ErrNoAccessLink, ErrBadHeaderFormat,
		ErrBadContentHeaders, ErrBadAccessLinks, ErrTooLargeEnvelope, ErrBadReaderProfile,
		cryptox.ErrSignatureMismatch, cryptox.ErrFingerprintMismatch, cryptox.ErrDecryption,
		cryptox.ErrBadCipherText, cryptox.ErrBadChunkSize,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
