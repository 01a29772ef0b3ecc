package cryptox

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/openziti/secretstream"
)

const (
	MinChunkSize     = 1024
	MaxChunkSize     = 1048576
	DefaultChunkSize = 64 * 1024

	// StreamHeaderSize is the secretstream header written before the first block.
	StreamHeaderSize = 24
	// StreamBlockOverhead is the tag byte plus the Poly1305 MAC added per block.
	StreamBlockOverhead = 17
)

// ValidateChunkSize accepts chunk sizes in [MinChunkSize, MaxChunkSize).
func ValidateChunkSize(chunkSize int) error {
	if chunkSize < MinChunkSize || chunkSize >= MaxChunkSize {
		return fmt.Errorf("%w: %d", ErrBadChunkSize, chunkSize)
	}
	return nil
}

// EncryptedStreamSize is the ciphertext length for a plaintext of size bytes.
func EncryptedStreamSize(size int64, chunkSize int) int64 {
	blocks := size / int64(chunkSize)
	if size%int64(chunkSize) != 0 || size == 0 {
		blocks++
	}
	return StreamHeaderSize + size + blocks*StreamBlockOverhead
}

// EncryptStream reads src to EOF and writes a secretstream to dst: the
// header, then one block per chunkSize bytes of plaintext. The last block
// carries the FINAL tag, every other block the MESSAGE tag.
func EncryptStream(dst io.Writer, src io.Reader, key []byte, chunkSize int) error {
	if err := ValidateChunkSize(chunkSize); err != nil {
		return err
	}

	enc, header, err := secretstream.NewEncryptor(key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	if _, err := dst.Write(header); err != nil {
		return fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	cur := make([]byte, chunkSize)
	next := make([]byte, chunkSize)

	n, err := readChunk(src, cur)
	if err != nil {
		return err
	}

	for {
		final := n < chunkSize
		m := 0
		if !final {
			m, err = readChunk(src, next)
			if err != nil {
				return err
			}
			final = m == 0
		}

		tag := byte(secretstream.TagMessage)
		if final {
			tag = byte(secretstream.TagFinal)
		}

		block, err := enc.Push(cur[:n], tag)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrEncryption, err)
		}
		if _, err := dst.Write(block); err != nil {
			return fmt.Errorf("%w: %v", ErrEncryption, err)
		}

		if final {
			return nil
		}
		cur, next = next, cur
		n = m
	}
}

func readChunk(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	switch {
	case err == nil, errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return n, nil
	default:
		return n, fmt.Errorf("%w: %v", ErrFileRead, err)
	}
}

// DecryptStream reverses EncryptStream. Decryption stops at the FINAL tag;
// running out of input before it, or trailing data after it, is ErrFileRead.
func DecryptStream(dst io.Writer, src io.Reader, key []byte, chunkSize int) error {
	if err := ValidateChunkSize(chunkSize); err != nil {
		return err
	}

	header := make([]byte, StreamHeaderSize)
	if _, err := io.ReadFull(src, header); err != nil {
		return fmt.Errorf("%w: stream header: %v", ErrFileRead, err)
	}

	dec, err := secretstream.NewDecryptor(key, header)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	buf := make([]byte, chunkSize+StreamBlockOverhead)
	for {
		n, err := io.ReadFull(src, buf)
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: stream ended before final block", ErrFileRead)
		}
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: %v", ErrFileRead, err)
		}
		if n < StreamBlockOverhead {
			return fmt.Errorf("%w: truncated block", ErrFileRead)
		}

		plain, tag, err := dec.Pull(buf[:n])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDecryption, err)
		}
		if _, err := dst.Write(plain); err != nil {
			return fmt.Errorf("%w: %v", ErrFileRead, err)
		}

		if tag == byte(secretstream.TagFinal) {
			var probe [1]byte
			if k, _ := src.Read(probe[:]); k > 0 {
				return fmt.Errorf("%w: data after final block", ErrFileRead)
			}
			return nil
		}
		if n < len(buf) {
			return fmt.Errorf("%w: short block without final tag", ErrFileRead)
		}
	}
}

// EncryptFileRange encrypts length bytes of srcPath starting at offset into a
// new file at dstPath.
func EncryptFileRange(srcPath string, offset, length int64, dstPath string, key []byte, chunkSize int) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFileRead, err)
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	if err := EncryptStream(dst, io.NewSectionReader(src, offset, length), key, chunkSize); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return err
	}
	return dst.Close()
}

// DecryptFile decrypts the secretstream at srcPath into dstPath. On failure
// the partial output is removed.
func DecryptFile(srcPath, dstPath string, key []byte, chunkSize int) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFileRead, err)
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	if err := DecryptStream(dst, src, key, chunkSize); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return err
	}
	return dst.Close()
}
