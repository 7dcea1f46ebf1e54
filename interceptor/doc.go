// Package interceptor provides an http.RoundTripper that attaches attestation
// tokens to requests for protected domains.
//
// For every request to a domain registered in a domains.Registry the
// transport fetches a token and sets the Approov-Token header, to the token
// value or to the empty string when no token could be obtained. Requests to
// MITM-protected domains use a hostname-scoped token and, when a token was
// obtained, are sent over a dedicated per-host transport whose TLS handshakes
// are checked by a pinning.Verifier.
//
// Requests to domains that are not protected go through the base transport
// unchanged.
package interceptor
