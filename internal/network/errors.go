package network

import (
	"errors"
)

// Common network errors
var (
	ErrNotStarted     = errors.New("network manager is not started")
	ErrAlreadyStarted = errors.New("network manager is already started")

	// ErrUnknownSender is reported when an envelope names a certificate
	// that is not in the trusted registry. Unknown senders are dropped,
	// never errored back to the wire.
	ErrUnknownSender = errors.New("sender certificate is not trusted")

	// ErrBadSignature is reported when an envelope signature does not
	// verify against the sender's certificate.
	ErrBadSignature = errors.New("envelope signature verification failed")

	ErrEnvelopeTooLarge  = errors.New("envelope exceeds size limit")
	ErrEnvelopeTruncated = errors.New("envelope is truncated")
	ErrEnvelopeTrailing  = errors.New("envelope has trailing bytes")
)
