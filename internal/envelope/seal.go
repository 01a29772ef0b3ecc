package envelope

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/openemail/internal/attrs"
	"github.com/dmitrijs2005/openemail/internal/client/models"
	"github.com/dmitrijs2005/openemail/internal/common"
	"github.com/dmitrijs2005/openemail/internal/cryptox"
	"github.com/dmitrijs2005/openemail/internal/identity"
)

// Sealed is a signed envelope together with the access key that encrypts
// its payload. AccessKey is nil for broadcasts.
type Sealed struct {
	Envelope  *Envelope
	AccessKey []byte
}

// Seal builds and signs the envelope for one message segment. Private
// content headers are encrypted under a fresh access key granted to every
// reader profile and to the author; broadcasts carry them in plaintext.
// payload describes the payload cipher and is ignored for broadcasts.
func Seal(author *identity.LocalUser, content *ContentHeaders, readers []*models.Profile, payload PayloadCipher) (*Sealed, error) {
	if !common.IsValidMessageID(content.MessageID) {
		return nil, fmt.Errorf("%w: message id %q", ErrBadContentHeaders, content.MessageID)
	}
	if content.Author.IsZero() {
		content.Author = author.Address
	}

	e := &Envelope{
		MessageID: content.MessageID,
		StreamID:  content.SubjectID,
		headers:   make(map[string]string),
	}
	if e.StreamID == "" {
		e.StreamID = content.defaultSubjectID()
	}

	plain := []byte(content.Serialize())
	var accessKey []byte

	if content.IsBroadcast() {
		e.contentData = plain
	} else {
		if err := payload.validate(); err != nil {
			return nil, err
		}
		key, err := cryptox.GenerateAccessKey()
		if err != nil {
			return nil, err
		}
		ct, err := cryptox.EncryptXChaCha20Poly1305(plain, key)
		if err != nil {
			return nil, err
		}
		links, err := accessLinks(author, readers, key)
		if err != nil {
			return nil, err
		}

		accessKey = key
		e.contentAlgorithm = cryptox.SymmetricCipher
		e.contentData = ct
		e.AccessLinks = links
		e.Payload = &payload
	}

	e.headers[lower(common.HeaderMessageID)] = e.MessageID
	e.headers[lower(common.HeaderStreamID)] = e.StreamID
	e.headers[lower(common.HeaderContentHeaders)] = attrs.Format(
		attrs.Pair{Key: "algorithm", Value: e.contentAlgorithm},
		attrs.Pair{Key: "value", Value: base64.StdEncoding.EncodeToString(e.contentData)},
	)
	if len(e.AccessLinks) > 0 {
		groups := make([]string, 0, len(e.AccessLinks))
		for _, l := range e.AccessLinks {
			groups = append(groups, l.format())
		}
		e.headers[lower(common.HeaderAccess)] = attrs.FormatGroups(groups)
	}
	if e.Payload != nil {
		e.headers[lower(common.HeaderEncryption)] = e.Payload.format()
	}

	if err := e.sign(author); err != nil {
		return nil, err
	}
	return &Sealed{Envelope: e, AccessKey: accessKey}, nil
}

func accessLinks(author *identity.LocalUser, readers []*models.Profile, key []byte) ([]AccessLink, error) {
	self, err := cryptox.EncryptAnonymous(key, author.PublicEncryptionKey)
	if err != nil {
		return nil, err
	}
	links := []AccessLink{{
		Link:        author.ConnectionLink(author.Address),
		Fingerprint: author.SigningKeyFingerprint,
		Value:       base64.StdEncoding.EncodeToString(self),
		KeyID:       author.PublicEncryptionKeyID,
	}}

	seen := map[string]bool{author.Address.String(): true}
	for _, p := range readers {
		if p == nil || seen[p.Address.String()] {
			continue
		}
		seen[p.Address.String()] = true

		if p.EncryptionKey == nil || p.SigningKey == nil {
			return nil, fmt.Errorf("%w: %s", ErrBadReaderProfile, p.Address)
		}
		ct, err := cryptox.EncryptAnonymous(key, p.EncryptionKey.Key)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Address, err)
		}
		links = append(links, AccessLink{
			Link:        author.ConnectionLink(p.Address),
			Fingerprint: p.SigningKey.Fingerprint(),
			Value:       base64.StdEncoding.EncodeToString(ct),
			KeyID:       p.EncryptionKey.ID,
		})
	}
	return links, nil
}

// sign computes the checksum over every checksummed header value in sorted
// name order and signs the raw digest.
func (e *Envelope) sign(author *identity.LocalUser) error {
	var order []string
	for _, name := range sortedKeys(e.headers) {
		if checksummed(name) {
			order = append(order, name)
		}
	}

	sum, err := e.digest(order)
	if err != nil {
		return err
	}
	sig, err := author.Sign(sum)
	if err != nil {
		return err
	}

	e.checksumOrder = order
	e.checksum = sum
	e.signature = sig
	e.signatureKey = author.PublicEncryptionKeyID

	e.headers[lower(common.HeaderEnvelopeChecksum)] = attrs.Format(
		attrs.Pair{Key: "algorithm", Value: cryptox.ChecksumAlgorithm},
		attrs.Pair{Key: "order", Value: strings.Join(order, ":")},
		attrs.Pair{Key: "value", Value: hex.EncodeToString(sum)},
	)
	e.headers[lower(common.HeaderEnvelopeSignature)] = attrs.Format(
		attrs.Pair{Key: "algorithm", Value: cryptox.SigningAlgorithm},
		attrs.Pair{Key: "value", Value: base64.StdEncoding.EncodeToString(sig)},
		attrs.Pair{Key: "id", Value: e.signatureKey},
	)

	// A sealed envelope is trusted by its author.
	e.authenticated = true
	return nil
}

// digest hashes the values of the named headers in the given order.
func (e *Envelope) digest(order []string) ([]byte, error) {
	h := sha256.New()
	for _, name := range order {
		v, ok := e.headers[name]
		if !ok || !checksummed(name) {
			return nil, fmt.Errorf("%w: checksum order names %q", ErrBadHeaderFormat, name)
		}
		h.Write([]byte(v))
	}
	return h.Sum(nil), nil
}

func lower(s string) string {
	return strings.ToLower(s)
}

func hexDecode(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != sha256.Size {
		return nil, fmt.Errorf("digest length %d", len(b))
	}
	return b, nil
}
