package cryptox

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// SHA256Sum returns the hex SHA-256 of data.
func SHA256Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FileChecksum streams SHA-256 over the window [offset, offset+length) of
// the file at path. A negative length means "to the end of the file".
// Returns the hex digest and the number of bytes hashed.
func FileChecksum(path string, offset, length int64) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrFileRead, err)
	}
	defer f.Close()

	if length < 0 {
		st, err := f.Stat()
		if err != nil {
			return "", 0, fmt.Errorf("%w: %v", ErrFileRead, err)
		}
		length = st.Size() - offset
	}

	h := sha256.New()
	n, err := io.Copy(h, io.NewSectionReader(f, offset, length))
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrFileRead, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
