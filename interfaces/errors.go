package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is returned for rejected configuration: bad domain
	// registrations, MITM downgrades, malformed URLs or double initialization.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrAlreadyInitialized is returned when initialization-affecting options
	// are supplied a second time.
	ErrAlreadyInitialized = fmt.Errorf("%w: attestation client initialization must only be performed once", ErrInvalidConfig)

	// ErrNotInitialized is returned by attestation clients used before Initialize.
	ErrNotInitialized = errors.New("attestation client not initialized")

	// ErrAttestationFailed marks a fetch-and-wait call that reported failure.
	ErrAttestationFailed = errors.New("attestation failed")

	// ErrDoubleWrap is returned when a pinning verifier is installed on a
	// connection that already has one.
	ErrDoubleWrap = errors.New("there can only be one dynamic pinning verifier for a connection")

	// ErrNotSecured is returned when pinning is requested for a non-TLS connection.
	ErrNotSecured = errors.New("protected connection must be HTTPS")

	// ErrPinningRejected is the handshake error for a dynamic pinning rejection.
	ErrPinningRejected = errors.New("dynamic pinning rejected the server certificate")

	// ErrPeerCertificates signals that the peer certificate chain could not be
	// read. It is an environment or transport problem, not a trust decision.
	ErrPeerCertificates = errors.New("could not read peer certificates")
)
