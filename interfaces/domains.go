package interfaces

// ProtectedDomain marks a hostname whose requests carry an attestation token.
// MITMProtected additionally requires dynamic certificate pinning.
type ProtectedDomain struct {
	Hostname      string `json:"hostname"`
	MITMProtected bool   `json:"mitmProtected"`
}
