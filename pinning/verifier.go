package pinning

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"

	"github.com/ruteri/attested-http/cryptoutils"
	"github.com/ruteri/attested-http/interfaces"
)

// HostnameVerifier decides whether the server behind a completed TLS handshake
// is acceptable for hostname. A false result is a trust decision; an error
// reports a condition that prevented the decision from being made.
type HostnameVerifier interface {
	Verify(hostname string, state tls.ConnectionState) (bool, error)
}

// HostnameVerifierFunc adapts a function to HostnameVerifier.
type HostnameVerifierFunc func(hostname string, state tls.ConnectionState) (bool, error)

func (f HostnameVerifierFunc) Verify(hostname string, state tls.ConnectionState) (bool, error) {
	return f(hostname, state)
}

// StandardHostnameVerifier accepts a connection whose leaf certificate is
// valid for hostname. Chain validation is left to crypto/tls.
type StandardHostnameVerifier struct{}

func (StandardHostnameVerifier) Verify(hostname string, state tls.ConnectionState) (bool, error) {
	leaf, err := leafCertificate(state)
	if err != nil {
		return false, err
	}
	return leaf.VerifyHostname(hostname) == nil, nil
}

// Verifier applies dynamic pinning on top of a delegate HostnameVerifier. After
// the delegate accepts, the connection's leaf certificate must equal the
// certificate the attestation client currently trusts for the hostname.
type Verifier struct {
	delegate HostnameVerifier
	certs    interfaces.CertificateCache
	fetcher  interfaces.TokenFetcher

	log *slog.Logger
}

// NewVerifier wraps delegate with dynamic pinning against certs. fetcher is
// used to attest the hostname when its certificate is not cached.
func NewVerifier(delegate HostnameVerifier, certs interfaces.CertificateCache, fetcher interfaces.TokenFetcher, log *slog.Logger) *Verifier {
	if delegate == nil {
		delegate = StandardHostnameVerifier{}
	}
	return &Verifier{
		delegate: delegate,
		certs:    certs,
		fetcher:  fetcher,
		log:      log,
	}
}

// Delegate returns the verifier that runs before dynamic pinning.
func (v *Verifier) Delegate() HostnameVerifier {
	return v.delegate
}

// Verify implements HostnameVerifier. A delegate rejection is final. Errors
// from the delegate or from reading the peer certificates are returned as
// errors, never folded into a plain rejection.
func (v *Verifier) Verify(hostname string, state tls.ConnectionState) (bool, error) {
	accepted, err := v.delegate.Verify(hostname, state)
	if err != nil {
		return false, err
	}
	if !accepted {
		v.log.Debug("Delegate verifier rejected connection", "hostname", hostname)
		return false, nil
	}

	leaf, err := leafCertificate(state)
	if err != nil {
		return false, err
	}

	return v.checkDynamicPinning(hostname, leaf), nil
}

// VerifyConnection runs Verify for a handshake, in the shape expected by
// tls.Config.VerifyConnection.
func (v *Verifier) VerifyConnection(hostname string, state tls.ConnectionState) error {
	accepted, err := v.Verify(hostname, state)
	if err != nil {
		return fmt.Errorf("verifying %s: %w", hostname, err)
	}
	if !accepted {
		return fmt.Errorf("%w for %s", interfaces.ErrPinningRejected, hostname)
	}
	return nil
}

func (v *Verifier) checkDynamicPinning(hostname string, leaf *x509.Certificate) bool {
	if _, found := v.certs.Certificate(hostname); !found {
		// Attest the hostname now; this refreshes the certificate cache
		result, err := v.fetcher.FetchTokenAndWait(context.Background(), interfaces.ScopeFor(hostname))
		if err != nil || !result.Succeeded() {
			if err == nil {
				err = result.Err
			}
			v.log.Warn("Attestation failed on certificate cache miss", "hostname", hostname, "err", err)
			return false
		}
	}

	certBytes, found := v.certs.Certificate(hostname)
	if !found {
		v.log.Warn("No pinned certificate after attestation", "hostname", hostname)
		return false
	}

	pinned, err := cryptoutils.ParseCertificate(certBytes)
	if err != nil {
		// A corrupt entry must not survive, and no other entry is trusted alongside it
		v.certs.InvalidateAll()
		v.log.Warn("Could not decode pinned certificate, certificate cache invalidated", "hostname", hostname, "err", err)
		return false
	}

	if !pinned.Equal(leaf) {
		v.certs.InvalidateAll()
		v.log.Warn("Server certificate does not match pinned certificate, certificate cache invalidated",
			"hostname", hostname,
			"pinned", cryptoutils.Fingerprint(pinned),
			"presented", cryptoutils.Fingerprint(leaf))
		return false
	}

	return true
}

func leafCertificate(state tls.ConnectionState) (*x509.Certificate, error) {
	if len(state.PeerCertificates) == 0 || state.PeerCertificates[0] == nil {
		return nil, interfaces.ErrPeerCertificates
	}
	return state.PeerCertificates[0], nil
}
