// Package attestation adapts an attestation client to request code.
//
// FetchToken is the token fetch adapter: it asks a TokenFetcher for a generic
// or domain-scoped token and returns a Token, which is NoToken whenever the
// fetch did not succeed. It never returns an error, so a missing token
// degrades to an unauthenticated request instead of aborting it.
//
// MemoryClient is a reference interfaces.AttestationClient. It can be
// initialized once, keeps the per-hostname certificate cache used for dynamic
// pinning, and obtains tokens from a TokenSource. RemoteSource is the HTTP
// TokenSource, talking to the attestation URL and falling back to the
// failover URL.
//
//	client := attestation.NewMemoryClient(attestation.NewRemoteSource, logger)
//	err := client.Initialize(interfaces.ClientConfig{
//		CustomerName:   "me",
//		AttestationURL: "https://attestation.example.com",
//		NetworkTimeout: 10 * time.Second,
//	})
//
//	token := attestation.FetchToken(ctx, client, interfaces.GenericScope, logger)
//	req.Header.Set("Approov-Token", token.HeaderValue())
package attestation
