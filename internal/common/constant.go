// Package common contains protocol constants, shared sentinel errors and
// small random helpers used across the OpenEmail client packages.
package common

import "time"

// AuthorizationScheme prefixes the self-signed nonce carried in the
// Authorization header of every authenticated request.
const AuthorizationScheme = "SOTN"

// Envelope header names. Every envelope header starts with EnvelopeHeaderPrefix.
const (
	EnvelopeHeaderPrefix = "Message-"

	HeaderMessageID         = "Message-Id"
	HeaderStreamID          = "Message-Stream-Id"
	HeaderAccess            = "Message-Access"
	HeaderContentHeaders    = "Message-Headers"
	HeaderEnvelopeChecksum  = "Message-Envelope-Checksum"
	HeaderEnvelopeSignature = "Message-Envelope-Signature"
	HeaderEncryption        = "Message-Encryption"
)

const (
	// MaxMessageSize bounds a single message segment; larger attachments
	// are split into file-part messages of at most this size.
	MaxMessageSize int64 = 64 * 1024 * 1024

	// MaxHeadersSize caps the accumulated envelope header bytes accepted
	// from a response.
	MaxHeadersSize = 256 * 1024

	// MaxDelegatedHosts caps the number of hosts taken from a well-known file.
	MaxDelegatedHosts = 3

	// NotificationExpiry is the lifetime of a stored notification.
	NotificationExpiry = 7 * 24 * time.Hour

	// MaxConcurrentFetches bounds in-flight remote message fetches per pipeline.
	MaxConcurrentFetches = 5

	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 2 * time.Second

	DelegationCacheTTL = time.Hour
	ProfileCacheTTL    = time.Hour
)

// WellKnownDelegationPath is where a domain lists its delegated mail agents.
const WellKnownDelegationPath = "/.well-known/mail.txt"
