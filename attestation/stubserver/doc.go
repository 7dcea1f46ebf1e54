// Package stubserver is a development attestation service. It issues random
// tokens to the customers it knows and returns a fixed set of certificate
// pins with every token, speaking the wire format of attestation.RemoteSource.
//
// It performs no attestation and must not be used outside of development and
// tests.
//
// Endpoints:
//
//	POST /api/token   issue a token
//	GET  /livez       liveness
//	GET  /readyz      readiness
//	GET  /drain       stop issuing tokens
//	GET  /undrain     resume issuing tokens
package stubserver
