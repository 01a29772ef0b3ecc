package client

import (
	"bytes"
	"io"
	"os"
)

// Payload is an upload body that can be reopened for every attempt.
type Payload interface {
	Open() (io.ReadCloser, error)
	Size() int64
}

type filePayload struct {
	path string
	size int64
}

// FilePayload streams the file at path. The size is taken at call time.
func FilePayload(path string) (Payload, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &filePayload{path: path, size: st.Size()}, nil
}

func (p *filePayload) Open() (io.ReadCloser, error) { return os.Open(p.path) }
func (p *filePayload) Size() int64                  { return p.size }

type bytesPayload []byte

// BytesPayload uploads b from memory.
func BytesPayload(b []byte) Payload { return bytesPayload(b) }

func (p bytesPayload) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(p)), nil
}
func (p bytesPayload) Size() int64 { return int64(len(p)) }

type rangePayload struct {
	path           string
	offset, length int64
}

// FileRangePayload uploads length bytes of the file at path starting at
// offset.
func FileRangePayload(path string, offset, length int64) Payload {
	return &rangePayload{path: path, offset: offset, length: length}
}

func (p *rangePayload) Open() (io.ReadCloser, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return nil, err
	}
	return &sectionCloser{SectionReader: io.NewSectionReader(f, p.offset, p.length), f: f}, nil
}

func (p *rangePayload) Size() int64 { return p.length }

type sectionCloser struct {
	*io.SectionReader
	f *os.File
}

func (s *sectionCloser) Close() error { return s.f.Close() }
