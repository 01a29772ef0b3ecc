package envelope

import (
	"fmt"
	"os"

	"github.com/dmitrijs2005/openemail/internal/cryptox"
)

// OpenPayload writes the plaintext payload read from srcPath to dstPath.
// Broadcast payloads are copied through unchanged. srcPath is left in place.
func (e *Envelope) OpenPayload(srcPath, dstPath string, accessKey []byte) error {
	if e.Payload == nil {
		data, err := os.ReadFile(srcPath)
		if err != nil {
			return fmt.Errorf("%w: %v", cryptox.ErrFileRead, err)
		}
		return os.WriteFile(dstPath, data, 0o600)
	}
	if accessKey == nil {
		return ErrNoAccessLink
	}

	switch e.Payload.Algorithm {
	case cryptox.SymmetricFileCipher:
		return cryptox.DecryptFile(srcPath, dstPath, accessKey, e.Payload.ChunkSize)
	default:
		data, err := os.ReadFile(srcPath)
		if err != nil {
			return fmt.Errorf("%w: %v", cryptox.ErrFileRead, err)
		}
		plain, err := cryptox.DecryptXChaCha20Poly1305(data, accessKey)
		if err != nil {
			return err
		}
		return os.WriteFile(dstPath, plain, 0o600)
	}
}

// VerifyPayload compares the plaintext at path with the checksum and size
// declared in the content headers.
func VerifyPayload(h *ContentHeaders, path string) error {
	if h.Checksum == "" {
		return nil
	}
	sum, n, err := cryptox.FileChecksum(path, 0, -1)
	if err != nil {
		return err
	}
	if sum != h.Checksum || (h.Size > 0 && n != h.Size) {
		return fmt.Errorf("%w: payload of %s", ErrChecksumMismatch, h.MessageID)
	}
	return nil
}
