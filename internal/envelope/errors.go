package envelope

import "errors"

var (
	ErrBadHeaderFormat   = errors.New("bad envelope header format")
	ErrBadContentHeaders = errors.New("bad content headers")
	ErrBadAccessLinks    = errors.New("bad access links")
	ErrTooLargeEnvelope  = errors.New("envelope headers too large")
	ErrChecksumMismatch  = errors.New("envelope checksum mismatch")
	ErrNotAuthenticated  = errors.New("envelope authenticity not asserted")
	ErrNoAccessLink      = errors.New("no access link for reader")
	ErrBadReaderProfile  = errors.New("reader profile has no usable keys")
	ErrBadReaderAddress  = errors.New("bad reader address")
)
