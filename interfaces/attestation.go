package interfaces

import (
	"context"
	"net/url"
	"time"
)

// AttestationStatus is the outcome of a single token fetch.
type AttestationStatus int

const (
	AttestationFailure AttestationStatus = iota
	AttestationSuccess
)

func (s AttestationStatus) String() string {
	switch s {
	case AttestationSuccess:
		return "success"
	default:
		return "failure"
	}
}

// AttestationResult is produced by every fetch-and-wait call and consumed immediately.
// Token is only meaningful on success. Err optionally explains a failure.
type AttestationResult struct {
	Status AttestationStatus
	Token  string
	Err    error
}

// AttestationSucceeded builds a successful result carrying token.
func AttestationSucceeded(token string) AttestationResult {
	return AttestationResult{Status: AttestationSuccess, Token: token}
}

// AttestationFailed builds a failed result. err may be nil.
func AttestationFailed(err error) AttestationResult {
	return AttestationResult{Status: AttestationFailure, Err: err}
}

// Succeeded reports whether the fetch produced a token.
func (r AttestationResult) Succeeded() bool {
	return r.Status == AttestationSuccess
}

// Scope selects which token is requested from the attestation client: a generic
// token, or one bound to a specific hostname or URL.
type Scope struct {
	target string
}

// GenericScope requests a token that is not bound to any domain.
var GenericScope = Scope{}

// ScopeFor returns a scope bound to a hostname or URL string.
func ScopeFor(target string) Scope {
	return Scope{target: target}
}

// ScopeForURL returns a scope bound to u.
func ScopeForURL(u *url.URL) Scope {
	if u == nil {
		return GenericScope
	}
	return Scope{target: u.String()}
}

// IsGeneric reports whether the scope is not bound to a domain.
func (s Scope) IsGeneric() bool {
	return s.target == ""
}

// Target returns the hostname or URL the scope is bound to, empty for GenericScope.
func (s Scope) Target() string {
	return s.target
}

// Hostname returns the hostname the scope is bound to. Targets that do not
// parse as absolute URLs are treated as bare hostnames.
func (s Scope) Hostname() string {
	if s.target == "" {
		return ""
	}
	if u, err := url.Parse(s.target); err == nil && u.Host != "" {
		return u.Hostname()
	}
	return s.target
}

func (s Scope) String() string {
	if s.IsGeneric() {
		return "generic"
	}
	return s.target
}

// TokenFetcher obtains attestation tokens. FetchTokenAndWait blocks until the
// attestation service answered or the client's own timeout elapsed.
// A returned error signals an unexpected client failure, a failed result an
// expected one (e.g. the service refused to attest).
type TokenFetcher interface {
	FetchTokenAndWait(ctx context.Context, scope Scope) (AttestationResult, error)
}

// CertificateCache is the narrow view of the attestation client's per-hostname
// certificate cache. Its storage and refresh policy belong to the client.
type CertificateCache interface {
	// Certificate returns the encoded certificate the attestation service
	// currently trusts for hostname, if cached.
	Certificate(hostname string) ([]byte, bool)

	// InvalidateAll drops every cached certificate. Lookups that happen after
	// InvalidateAll returns, on any goroutine, must observe the empty cache.
	InvalidateAll()
}

// ClientConfig holds the options that affect attestation client initialization.
type ClientConfig struct {
	CustomerName   string
	NetworkTimeout time.Duration
	AttestationURL string
	FailoverURL    string
}

// AttestationClient is the attestation SDK as seen from this module.
type AttestationClient interface {
	TokenFetcher
	CertificateCache

	// Initialize configures the client. It may succeed at most once per
	// client; later calls return ErrAlreadyInitialized.
	Initialize(cfg ClientConfig) error

	// SetTokenPayload sets the user-defined value bound into subsequent tokens.
	SetTokenPayload(value string) error
}
