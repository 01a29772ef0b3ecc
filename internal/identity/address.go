// Package identity models OpenEmail addresses and the local user's key
// material, and derives the pairwise connection links that stand in for raw
// addresses on the server side.
package identity

import (
	"errors"
	"strings"

	"github.com/dmitrijs2005/openemail/internal/netx"
)

var ErrInvalidAddress = errors.New("invalid email address")

const maxLocalPartLength = 64

// EmailAddress is a validated local@host address. It is normalized to lower
// case at parse time, so == compares addresses case-insensitively.
type EmailAddress struct {
	local string
	host  string
}

// ParseEmailAddress trims and validates s.
func ParseEmailAddress(s string) (EmailAddress, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	local, host, ok := strings.Cut(s, "@")
	if !ok || strings.Contains(host, "@") {
		return EmailAddress{}, ErrInvalidAddress
	}
	if !validLocalPart(local) || !netx.IsValidHostname(host) {
		return EmailAddress{}, ErrInvalidAddress
	}
	return EmailAddress{local: local, host: strings.TrimSuffix(host, ".")}, nil
}

// MustParseEmailAddress is ParseEmailAddress for constants and tests.
func MustParseEmailAddress(s string) EmailAddress {
	a, err := ParseEmailAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func validLocalPart(s string) bool {
	if len(s) == 0 || len(s) > maxLocalPartLength {
		return false
	}
	if s[0] == '.' || s[len(s)-1] == '.' || strings.Contains(s, "..") {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == '+', c == '-':
		default:
			return false
		}
	}
	return true
}

func (a EmailAddress) LocalPart() string { return a.local }
func (a EmailAddress) HostPart() string  { return a.host }
func (a EmailAddress) IsZero() bool      { return a.local == "" }

func (a EmailAddress) String() string {
	if a.IsZero() {
		return ""
	}
	return a.local + "@" + a.host
}

func (a EmailAddress) Equal(b EmailAddress) bool {
	return a == b
}

// Less orders addresses by their normalized string form.
func (a EmailAddress) Less(b EmailAddress) bool {
	return a.String() < b.String()
}

func (a EmailAddress) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *EmailAddress) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*a = EmailAddress{}
		return nil
	}
	parsed, err := ParseEmailAddress(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddressList parses a comma-separated list, skipping empty items and
// duplicates. Any invalid item fails the whole list.
func ParseAddressList(s string) ([]EmailAddress, error) {
	var out []EmailAddress
	seen := make(map[EmailAddress]struct{})
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		a, err := ParseEmailAddress(item)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out, nil
}

// JoinAddresses renders addresses as a comma-separated list.
func JoinAddresses(addrs []EmailAddress) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.String()
	}
	return strings.Join(parts, ",")
}
