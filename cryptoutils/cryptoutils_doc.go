// Package cryptoutils provides the certificate helpers used by dynamic
// pinning and by the development tooling.
//
// # Key Functions
//
//   - ParseCertificate decodes a certificate given as a PEM "CERTIFICATE"
//     block or as raw DER, the two encodings accepted for pinned certificates
//   - EncodeCertificatePEM and Fingerprint render certificates for files and logs
//   - RandomCert generates a self-signed certificate for local servers and tests
//
// Pinned certificates are compared by their DER encoding. Fingerprint is only
// used to identify certificates in log messages.
package cryptoutils
