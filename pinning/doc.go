// Package pinning implements dynamic certificate pinning, where the trusted
// leaf certificate for a hostname comes from the attestation client's
// certificate cache rather than from the application.
//
// A Verifier wraps the hostname verifier that was in effect before it and runs
// it first. Only when the delegate accepts does it compare the connection's
// leaf certificate against the cached one:
//
//   - on a cache miss the hostname is attested once with a blocking fetch; a
//     failed fetch rejects the connection (fail-closed)
//   - a cached entry that cannot be decoded, or that differs from the leaf,
//     invalidates the whole certificate cache and rejects the connection, so
//     every later connection to any host has to re-attest
//
// A Connection carries exactly one hostname verifier. Install puts a Verifier
// on it and refuses to wrap a Verifier a second time. Connection.TLSConfig
// exposes the verifier to crypto/tls through tls.Config.VerifyConnection.
//
//	conn := pinning.NewConnection(u, pinning.StandardHostnameVerifier{})
//	if _, err := pinning.Install(conn, client, client, logger); err != nil {
//		return err
//	}
//	transport.TLSClientConfig = conn.TLSConfig(transport.TLSClientConfig)
package pinning
