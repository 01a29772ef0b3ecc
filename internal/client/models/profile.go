// Package models defines the client-side data models of the OpenEmail client:
// profiles, messages with their attachments, notifications and contacts.
package models

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/openemail/internal/attrs"
	"github.com/dmitrijs2005/openemail/internal/cryptox"
	"github.com/dmitrijs2005/openemail/internal/identity"
)

var ErrBadBool = errors.New("expected yes or no")

// ProfileAttribute is a key of the published profile.
type ProfileAttribute string

const (
	ProfileName              ProfileAttribute = "Name"
	ProfileAbout             ProfileAttribute = "About"
	ProfileStatus            ProfileAttribute = "Status"
	ProfileAway              ProfileAttribute = "Away"
	ProfileAwayWarning       ProfileAttribute = "Away-Warning"
	ProfilePublicAccess      ProfileAttribute = "Public-Access"
	ProfilePublicLinks       ProfileAttribute = "Public-Links"
	ProfileLastSeenPublic    ProfileAttribute = "Last-Seen-Public"
	ProfileReceiveBroadcasts ProfileAttribute = "Receive-Broadcasts"
	ProfileEncryptionKey     ProfileAttribute = "Encryption-Key"
	ProfileSigningKey        ProfileAttribute = "Signing-Key"
	ProfileLastSigningKey    ProfileAttribute = "Last-Signing-Key"
	ProfileUpdated           ProfileAttribute = "Updated"
	ProfileLocation          ProfileAttribute = "Location"
	ProfileWebsite           ProfileAttribute = "Website"
	ProfileWork              ProfileAttribute = "Work"
	ProfileDepartment        ProfileAttribute = "Department"
	ProfileOrganization      ProfileAttribute = "Organization"
	ProfileJobTitle          ProfileAttribute = "Job-Title"
	ProfileMailingAddress    ProfileAttribute = "Mailing-Address"
	ProfilePhone             ProfileAttribute = "Phone"
	ProfileBirthday          ProfileAttribute = "Birthday"
	ProfileNotes             ProfileAttribute = "Notes"
	ProfileInterests         ProfileAttribute = "Interests"
	ProfileBooks             ProfileAttribute = "Books"
	ProfileMovies            ProfileAttribute = "Movies"
	ProfileMusic             ProfileAttribute = "Music"
	ProfileSports            ProfileAttribute = "Sports"
	ProfileGender            ProfileAttribute = "Gender"
	ProfileRelationship      ProfileAttribute = "Relationship-Status"
	ProfileEducation         ProfileAttribute = "Education"
	ProfileLanguages         ProfileAttribute = "Languages"
	ProfilePlacesLived       ProfileAttribute = "Places-Lived"
)

// profileAttributes fixes the serialization order.
var profileAttributes = []ProfileAttribute{
	ProfileName, ProfileAbout, ProfileStatus, ProfileAway, ProfileAwayWarning,
	ProfilePublicAccess, ProfilePublicLinks, ProfileLastSeenPublic, ProfileReceiveBroadcasts,
	ProfileEncryptionKey, ProfileSigningKey, ProfileLastSigningKey, ProfileUpdated,
	ProfileLocation, ProfileWebsite, ProfileWork, ProfileDepartment, ProfileOrganization,
	ProfileJobTitle, ProfileMailingAddress, ProfilePhone, ProfileBirthday, ProfileNotes,
	ProfileInterests, ProfileBooks, ProfileMovies, ProfileMusic, ProfileSports, ProfileGender,
	ProfileRelationship, ProfileEducation, ProfileLanguages, ProfilePlacesLived,
}

var profileAttributeByLower = func() map[string]ProfileAttribute {
	m := make(map[string]ProfileAttribute, len(profileAttributes))
	for _, a := range profileAttributes {
		m[strings.ToLower(string(a))] = a
	}
	return m
}()

// LookupProfileAttribute resolves a case-insensitive attribute name.
func LookupProfileAttribute(name string) (ProfileAttribute, bool) {
	a, ok := profileAttributeByLower[strings.ToLower(strings.TrimSpace(name))]
	return a, ok
}

// ProfileAttributes lists every known attribute in serialization order.
func ProfileAttributes() []ProfileAttribute {
	return append([]ProfileAttribute(nil), profileAttributes...)
}

const (
	yes = "Yes"
	no  = "No"
)

var boolAttributes = map[ProfileAttribute]bool{
	ProfileAway:              true,
	ProfilePublicAccess:      true,
	ProfilePublicLinks:       true,
	ProfileLastSeenPublic:    true,
	ProfileReceiveBroadcasts: true,
}

// IsBoolAttribute reports whether attr holds Yes or No.
func IsBoolAttribute(attr ProfileAttribute) bool {
	return boolAttributes[attr]
}

// ParseBool accepts the usual spellings of yes and no.
func ParseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "y", "true", "on", "1":
		return true, nil
	case "no", "n", "false", "off", "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q", ErrBadBool, v)
}

// PublicKey is a parsed Encryption-Key or Signing-Key attribute.
type PublicKey struct {
	Algorithm string
	ID        string
	Key       []byte
}

// Fingerprint is the hex SHA-256 of the raw key.
func (k *PublicKey) Fingerprint() string {
	return cryptox.PublicKeyFingerprint(k.Key)
}

// Profile is a user's published attribute set.
type Profile struct {
	Address    identity.EmailAddress
	Attributes map[ProfileAttribute]string

	// Parsed key fields; nil unless the algorithm is supported.
	EncryptionKey  *PublicKey
	SigningKey     *PublicKey
	LastSigningKey *PublicKey
}

// ParseProfile reads "Key: value" lines. Unknown keys and malformed lines
// are ignored.
func ParseProfile(addr identity.EmailAddress, data string) *Profile {
	p := &Profile{Address: addr, Attributes: make(map[ProfileAttribute]string)}

	sc := bufio.NewScanner(strings.NewReader(data))
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		attr, known := profileAttributeByLower[strings.ToLower(strings.TrimSpace(k))]
		if !known {
			continue
		}
		p.Attributes[attr] = strings.TrimSpace(v)
	}

	p.parseKeys()
	return p
}

func (p *Profile) parseKeys() {
	p.EncryptionKey = parsePublicKey(p.Attributes[ProfileEncryptionKey], cryptox.AnonymousEncryptionCipher)
	p.SigningKey = parsePublicKey(p.Attributes[ProfileSigningKey], cryptox.SigningAlgorithm)
	p.LastSigningKey = parsePublicKey(p.Attributes[ProfileLastSigningKey], cryptox.SigningAlgorithm)
}

func parsePublicKey(v, algorithm string) *PublicKey {
	if v == "" {
		return nil
	}
	a, err := attrs.Parse(v)
	if err != nil || !strings.EqualFold(a.Get("algorithm"), algorithm) {
		return nil
	}
	key, err := base64.StdEncoding.DecodeString(a.Get("value"))
	if err != nil || len(key) == 0 {
		return nil
	}
	return &PublicKey{Algorithm: algorithm, ID: a.Get("id"), Key: key}
}

// NewOwnProfile builds the profile a local user publishes about itself.
func NewOwnProfile(u *identity.LocalUser, updated time.Time) *Profile {
	p := &Profile{Address: u.Address, Attributes: make(map[ProfileAttribute]string)}
	if u.Name != "" {
		p.Attributes[ProfileName] = u.Name
	}
	p.Attributes[ProfileEncryptionKey] = attrs.Format(
		attrs.Pair{Key: "id", Value: u.PublicEncryptionKeyID},
		attrs.Pair{Key: "algorithm", Value: cryptox.AnonymousEncryptionCipher},
		attrs.Pair{Key: "value", Value: u.PublicEncryptionKeyBase64()},
	)
	p.Attributes[ProfileSigningKey] = attrs.Format(
		attrs.Pair{Key: "algorithm", Value: cryptox.SigningAlgorithm},
		attrs.Pair{Key: "value", Value: u.PublicSigningKeyBase64()},
	)
	p.Attributes[ProfileUpdated] = updated.UTC().Format(time.RFC3339)
	p.parseKeys()
	return p
}

func (p *Profile) Value(attr ProfileAttribute) string {
	return p.Attributes[attr]
}

// Set stores a value; key attributes are re-parsed.
func (p *Profile) Set(attr ProfileAttribute, value string) {
	if p.Attributes == nil {
		p.Attributes = make(map[ProfileAttribute]string)
	}
	value = strings.TrimSpace(strings.ReplaceAll(value, "\n", " "))
	if value == "" {
		delete(p.Attributes, attr)
	} else {
		p.Attributes[attr] = value
	}
	switch attr {
	case ProfileEncryptionKey, ProfileSigningKey, ProfileLastSigningKey:
		p.parseKeys()
	}
}

// Bool reads a Yes/No attribute.
func (p *Profile) Bool(attr ProfileAttribute) bool {
	return strings.EqualFold(p.Attributes[attr], yes)
}

func (p *Profile) SetBool(attr ProfileAttribute, v bool) {
	if v {
		p.Set(attr, yes)
	} else {
		p.Set(attr, no)
	}
}

// Name falls back to the address when the profile has no name.
func (p *Profile) Name() string {
	if n := p.Attributes[ProfileName]; n != "" {
		return n
	}
	return p.Address.String()
}

// Updated returns the parsed Updated attribute or the zero time.
func (p *Profile) Updated() time.Time {
	t, _ := time.Parse(time.RFC3339, p.Attributes[ProfileUpdated])
	return t
}

// SigningKeys returns the current signing key followed by the previous one,
// skipping whichever is absent.
func (p *Profile) SigningKeys() []*PublicKey {
	var keys []*PublicKey
	if p.SigningKey != nil {
		keys = append(keys, p.SigningKey)
	}
	if p.LastSigningKey != nil {
		keys = append(keys, p.LastSigningKey)
	}
	return keys
}

// HasSigningFingerprint reports whether fp matches the current or last
// signing key.
func (p *Profile) HasSigningFingerprint(fp string) bool {
	for _, k := range p.SigningKeys() {
		if k.Fingerprint() == fp {
			return true
		}
	}
	return false
}

// Serialize renders the profile in upload form, one "Key: value" per line.
func (p *Profile) Serialize() string {
	var sb strings.Builder
	for _, attr := range profileAttributes {
		v, ok := p.Attributes[attr]
		if !ok || v == "" {
			continue
		}
		sb.WriteString(string(attr))
		sb.WriteString(": ")
		sb.WriteString(v)
		sb.WriteString("\n")
	}
	return sb.String()
}
