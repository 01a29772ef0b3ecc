// Package netx holds small HTTP and hostname helpers shared by discovery
// and the protocol client.
package netx

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// MaxLineResponseSize caps plain-text listing responses (ids, links, notifications).
const MaxLineResponseSize = 8 * 1024 * 1024

// IsValidHostname reports whether s is a syntactically valid DNS hostname:
// at most 253 characters, dot-separated labels of 1..63 letters, digits or
// hyphens, no label starting or ending with a hyphen, and at least two labels.
func IsValidHostname(s string) bool {
	s = strings.TrimSuffix(s, ".")
	if len(s) == 0 || len(s) > 253 {
		return false
	}
	labels := strings.Split(s, ".")
	if len(labels) < 2 {
		return false
	}
	for _, l := range labels {
		if len(l) == 0 || len(l) > 63 {
			return false
		}
		if l[0] == '-' || l[len(l)-1] == '-' {
			return false
		}
		for i := 0; i < len(l); i++ {
			c := l[i]
			switch {
			case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
			default:
				return false
			}
		}
	}
	return true
}

// ReadLines reads at most limit bytes from r and returns its trimmed,
// non-empty lines.
func ReadLines(r io.Reader, limit int64) ([]string, error) {
	sc := bufio.NewScanner(io.LimitReader(r, limit))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// StatusError drains a short prefix of a failed response body into an error.
func StatusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	body := strings.TrimSpace(string(b))
	if body == "" {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}
	return fmt.Errorf("unexpected status: %s; body: %s", resp.Status, body)
}

// IsSuccess reports a 2xx status code.
func IsSuccess(code int) bool {
	return code >= 200 && code < 300
}
