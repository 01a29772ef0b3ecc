// Package envelope seals and opens the authenticated header set that wraps
// every message segment on the wire.
package envelope

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/openemail/internal/attrs"
	"github.com/dmitrijs2005/openemail/internal/common"
	"github.com/dmitrijs2005/openemail/internal/cryptox"
)

// AccessLink grants one reader the access key of a private message.
type AccessLink struct {
	Link        string
	Fingerprint string
	// Value is the base64 access key encrypted to the reader's public key.
	Value string
	KeyID string
}

func (l AccessLink) format() string {
	return attrs.Format(
		attrs.Pair{Key: "link", Value: l.Link},
		attrs.Pair{Key: "fingerprint", Value: l.Fingerprint},
		attrs.Pair{Key: "value", Value: l.Value},
		attrs.Pair{Key: "id", Value: l.KeyID},
	)
}

// PayloadCipher describes how the payload following the headers is encrypted.
type PayloadCipher struct {
	Algorithm string
	// ChunkSize is only set for the chunked file cipher.
	ChunkSize int
}

func (c PayloadCipher) format() string {
	chunk := ""
	if c.ChunkSize > 0 {
		chunk = strconv.Itoa(c.ChunkSize)
	}
	return attrs.Format(
		attrs.Pair{Key: "algorithm", Value: c.Algorithm},
		attrs.Pair{Key: "chunk-size", Value: chunk},
	)
}

func (c PayloadCipher) validate() error {
	switch c.Algorithm {
	case cryptox.SymmetricCipher:
		return nil
	case cryptox.SymmetricFileCipher:
		return cryptox.ValidateChunkSize(c.ChunkSize)
	default:
		return fmt.Errorf("%w: unsupported payload cipher %q", ErrBadHeaderFormat, c.Algorithm)
	}
}

// Envelope is the parsed set of Message-* headers of one message segment.
type Envelope struct {
	MessageID   string
	StreamID    string
	AccessLinks []AccessLink

	// Payload is nil for broadcasts, whose payload is plaintext.
	Payload *PayloadCipher

	contentAlgorithm string
	contentData      []byte

	checksumOrder []string
	checksum      []byte
	signature     []byte
	signatureKey  string

	// headers holds every prefixed header keyed by lowercased name.
	headers map[string]string

	authenticated bool
}

// IsBroadcast reports an envelope whose content headers are not encrypted.
func (e *Envelope) IsBroadcast() bool {
	return e.contentAlgorithm == ""
}

// Header renders the envelope as HTTP headers.
func (e *Envelope) Header() http.Header {
	h := make(http.Header, len(e.headers))
	for _, name := range sortedKeys(e.headers) {
		h.Set(name, e.headers[name])
	}
	return h
}

// ParseHeaders collects the Message-* headers of a response. Names are
// matched case-insensitively; accumulated size is capped.
func ParseHeaders(h http.Header) (*Envelope, error) {
	prefix := strings.ToLower(common.EnvelopeHeaderPrefix)
	headers := make(map[string]string)
	total := 0

	for name, values := range h {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, prefix) {
			continue
		}
		v := strings.TrimSpace(strings.Join(values, ", "))
		total += len(lower) + len(v)
		if total > common.MaxHeadersSize {
			return nil, ErrTooLargeEnvelope
		}
		headers[lower] = v
	}

	e := &Envelope{headers: headers}
	if err := e.parse(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Envelope) get(name string) string {
	return e.headers[strings.ToLower(name)]
}

func (e *Envelope) parse() error {
	e.MessageID = e.get(common.HeaderMessageID)
	if e.MessageID == "" {
		return fmt.Errorf("%w: missing %s", ErrBadHeaderFormat, common.HeaderMessageID)
	}
	if !common.IsValidMessageID(e.MessageID) {
		return fmt.Errorf("%w: %s %q", ErrBadHeaderFormat, common.HeaderMessageID, e.MessageID)
	}
	e.StreamID = e.get(common.HeaderStreamID)

	if err := e.parseContentHeaders(); err != nil {
		return err
	}
	if err := e.parseAccess(); err != nil {
		return err
	}
	if err := e.parseEncryption(); err != nil {
		return err
	}
	if err := e.parseChecksum(); err != nil {
		return err
	}
	return e.parseSignature()
}

func (e *Envelope) parseContentHeaders() error {
	raw := e.get(common.HeaderContentHeaders)
	if raw == "" {
		return fmt.Errorf("%w: missing %s", ErrBadHeaderFormat, common.HeaderContentHeaders)
	}
	a, err := attrs.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadHeaderFormat, common.HeaderContentHeaders, err)
	}

	e.contentAlgorithm = a.Get("algorithm")
	if e.contentAlgorithm != "" && e.contentAlgorithm != cryptox.SymmetricCipher {
		return fmt.Errorf("%w: unsupported content cipher %q", ErrBadHeaderFormat, e.contentAlgorithm)
	}
	e.contentData, err = base64.StdEncoding.DecodeString(a.Get("value"))
	if err != nil || len(e.contentData) == 0 {
		return fmt.Errorf("%w: content headers value", ErrBadHeaderFormat)
	}
	return nil
}

func (e *Envelope) parseAccess() error {
	raw := e.get(common.HeaderAccess)
	if raw == "" {
		if !e.IsBroadcast() {
			return fmt.Errorf("%w: private envelope without access links", ErrBadAccessLinks)
		}
		return nil
	}

	groups, err := attrs.ParseGroups(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadAccessLinks, err)
	}
	for _, g := range groups {
		l := AccessLink{
			Link:        g.Get("link"),
			Fingerprint: g.Get("fingerprint"),
			Value:       g.Get("value"),
			KeyID:       g.Get("id"),
		}
		if l.Link == "" || l.Value == "" {
			return fmt.Errorf("%w: group without link or value", ErrBadAccessLinks)
		}
		e.AccessLinks = append(e.AccessLinks, l)
	}
	return nil
}

func (e *Envelope) parseEncryption() error {
	raw := e.get(common.HeaderEncryption)
	if raw == "" {
		return nil
	}
	a, err := attrs.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadHeaderFormat, common.HeaderEncryption, err)
	}

	c := PayloadCipher{Algorithm: a.Get("algorithm")}
	if v := a.Get("chunk-size"); v != "" {
		if c.ChunkSize, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("%w: chunk-size %q", ErrBadHeaderFormat, v)
		}
	}
	if err := c.validate(); err != nil {
		return err
	}
	e.Payload = &c
	return nil
}

func (e *Envelope) parseChecksum() error {
	a, err := attrs.Parse(e.get(common.HeaderEnvelopeChecksum))
	if err != nil {
		return fmt.Errorf("%w: checksum: %v", ErrBadHeaderFormat, err)
	}
	if !strings.EqualFold(a.Get("algorithm"), cryptox.ChecksumAlgorithm) {
		return fmt.Errorf("%w: checksum algorithm %q", ErrBadHeaderFormat, a.Get("algorithm"))
	}

	order := a.Get("order")
	if order == "" {
		return fmt.Errorf("%w: checksum order", ErrBadHeaderFormat)
	}
	e.checksumOrder = strings.Split(strings.ToLower(order), ":")

	e.checksum, err = hexDecode(a.Get("value"))
	if err != nil {
		return fmt.Errorf("%w: checksum value", ErrBadHeaderFormat)
	}
	return nil
}

func (e *Envelope) parseSignature() error {
	a, err := attrs.Parse(e.get(common.HeaderEnvelopeSignature))
	if err != nil {
		return fmt.Errorf("%w: signature: %v", ErrBadHeaderFormat, err)
	}
	if !strings.EqualFold(a.Get("algorithm"), cryptox.SigningAlgorithm) {
		return fmt.Errorf("%w: signature algorithm %q", ErrBadHeaderFormat, a.Get("algorithm"))
	}
	e.signature, err = base64.StdEncoding.DecodeString(a.Get("value"))
	if err != nil || len(e.signature) == 0 {
		return fmt.Errorf("%w: signature value", ErrBadHeaderFormat)
	}
	e.signatureKey = a.Get("id")
	return nil
}

// checksummed reports whether a header takes part in the envelope checksum.
func checksummed(lowerName string) bool {
	return lowerName != strings.ToLower(common.HeaderEnvelopeChecksum) &&
		lowerName != strings.ToLower(common.HeaderEnvelopeSignature)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
