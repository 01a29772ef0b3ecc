package common

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

var messageIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// IsValidMessageID reports whether id is usable both as a URL path segment
// and as a single file name.
func IsValidMessageID(id string) bool {
	return messageIDPattern.MatchString(id)
}

// GenerateRandByteArray returns n random bytes. crypto/rand.Read never
// returns an error on supported platforms, so a failure panics.
func GenerateRandByteArray(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomAlphanumeric returns a random string of length n drawn from [a-zA-Z0-9].
func RandomAlphanumeric(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(alphanumeric)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphanumeric[idx.Int64()]
	}
	return string(out), nil
}

// WipeByteArray zeroes b. Used for private key material after use.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
