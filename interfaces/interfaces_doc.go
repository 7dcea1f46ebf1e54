// Package interfaces defines the contracts between the attestation bridge and
// its collaborators, without implementation details.
//
// # Attestation Client
//
//   - TokenFetcher: blocking fetch-and-wait token retrieval for a Scope
//   - CertificateCache: per-hostname pinned certificates owned by the client
//   - AttestationClient: the full client surface (initialize once, fetch,
//     certificate cache, token payload)
//
// # Types
//
//   - AttestationResult: tagged success/failure of one fetch
//   - Scope: generic or hostname/URL bound token request
//   - ProtectedDomain: hostname with its MITM protection flag
//   - ClientConfig: initialization-affecting client options
//
// # Error Types
//
// Configuration errors wrap ErrInvalidConfig. ErrDoubleWrap and ErrNotSecured
// fail request setup, ErrPinningRejected fails a TLS handshake, and
// ErrPeerCertificates reports a transport problem distinct from a rejection.
package interfaces
