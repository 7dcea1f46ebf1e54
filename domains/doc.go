// Package domains implements the process-wide protected-domain registry.
//
// The registry maps hostnames to their MITM protection flag and answers, for
// every outgoing request, whether it is in scope for attestation and whether
// its connection must be dynamically pinned.
//
// Only HTTPS URLs can be registered or matched. Once a hostname is registered
// as MITM protected it cannot be downgraded; such a registration fails with
// interfaces.ErrInvalidConfig and leaves the stored flag unchanged.
//
//	registry := domains.NewRegistry(logger)
//	err := registry.RegisterURL("https://api.example.com/v1", true)
//
//	u, _ := url.Parse("https://api.example.com/v1/items")
//	registry.IsProtected(u)     // true
//	registry.IsMITMProtected(u) // true
package domains
