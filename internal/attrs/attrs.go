// Package attrs parses and formats the "key=value; key=value" attribute
// lists used in envelope headers, profile key fields and the Authorization
// header. Groups of attribute lists are separated by commas.
package attrs

import (
	"errors"
	"strings"
)

var ErrMalformed = errors.New("malformed attributes")

// Pair is one attribute, kept ordered when formatting.
type Pair struct {
	Key   string
	Value string
}

// Attributes maps lowercased keys to trimmed values.
type Attributes map[string]string

func (a Attributes) Get(key string) string {
	return a[strings.ToLower(key)]
}

// Parse splits s on ';' into key=value pairs. Only the first '=' splits, so
// base64 padding survives. Empty items are skipped; an item without '=' or
// with an empty key is ErrMalformed.
func Parse(s string) (Attributes, error) {
	out := make(Attributes)
	for _, item := range strings.Split(s, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		k, v, ok := strings.Cut(item, "=")
		k = strings.ToLower(strings.TrimSpace(k))
		if !ok || k == "" {
			return nil, ErrMalformed
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

// ParseGroups splits s on ',' and parses every non-empty group.
func ParseGroups(s string) ([]Attributes, error) {
	var out []Attributes
	for _, g := range strings.Split(s, ",") {
		if strings.TrimSpace(g) == "" {
			continue
		}
		a, err := Parse(g)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Format renders pairs in order as "k=v; k=v", skipping empty values.
func Format(pairs ...Pair) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p.Value == "" {
			continue
		}
		parts = append(parts, p.Key+"="+p.Value)
	}
	return strings.Join(parts, "; ")
}

// FormatGroups joins already formatted groups with ", ".
func FormatGroups(groups []string) string {
	return strings.Join(groups, ", ")
}
