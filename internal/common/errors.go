package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Transport and discovery errors.
	ErrNoHostsAvailable    = errors.New("no hosts available")
	ErrInvalidEndpoint     = errors.New("invalid endpoint")
	ErrInvalidHTTPResponse = errors.New("invalid http response")
	ErrUploadFailure       = errors.New("upload failure")
	ErrRequestFailed       = errors.New("request failed")

	// Domain errors.
	ErrAccountAlreadyExists = errors.New("account already exists")
	ErrInaccessibleReaders  = errors.New("inaccessible readers")
	ErrEmptyMessage         = errors.New("empty message")
	ErrNoValidReaders       = errors.New("no valid readers")
	ErrInvalidParentMessage = errors.New("invalid parent message")
	ErrMissingAuthor        = errors.New("missing author")
	ErrUnauthorized         = errors.New("unauthorized")
)
