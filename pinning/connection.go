package pinning

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/ruteri/attested-http/interfaces"
)

// ErrHostnameRejected is the handshake error when a non-pinning hostname
// verifier rejects the server.
var ErrHostnameRejected = errors.New("hostname verification rejected the server")

// Connection is the verification state of an outgoing connection to one URL.
// It holds the hostname verifier that runs once the TLS handshake completed.
type Connection struct {
	url *url.URL

	mu       sync.RWMutex
	verifier HostnameVerifier
}

// NewConnection creates a connection to u verified by verifier. A nil verifier
// means StandardHostnameVerifier.
func NewConnection(u *url.URL, verifier HostnameVerifier) *Connection {
	if verifier == nil {
		verifier = StandardHostnameVerifier{}
	}
	return &Connection{url: u, verifier: verifier}
}

// URL returns the target of the connection.
func (c *Connection) URL() *url.URL {
	return c.url
}

// Hostname returns the lower-cased host the connection must be verified for.
func (c *Connection) Hostname() string {
	return strings.ToLower(c.url.Hostname())
}

// Secure reports whether the connection uses TLS.
func (c *Connection) Secure() bool {
	return c.url != nil && c.url.Scheme == "https"
}

// HostnameVerifier returns the verifier currently in effect.
func (c *Connection) HostnameVerifier() HostnameVerifier {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.verifier
}

// SetHostnameVerifier replaces the verifier in effect.
func (c *Connection) SetHostnameVerifier(verifier HostnameVerifier) {
	c.mu.Lock()
	c.verifier = verifier
	c.mu.Unlock()
}

// VerifyConnection runs the current hostname verifier against a completed
// handshake. It has the signature of tls.Config.VerifyConnection.
func (c *Connection) VerifyConnection(state tls.ConnectionState) error {
	verifier := c.HostnameVerifier()

	if pinning, ok := verifier.(*Verifier); ok {
		return pinning.VerifyConnection(c.Hostname(), state)
	}

	accepted, err := verifier.Verify(c.Hostname(), state)
	if err != nil {
		return fmt.Errorf("verifying %s: %w", c.Hostname(), err)
	}
	if !accepted {
		return fmt.Errorf("%w for %s", ErrHostnameRejected, c.Hostname())
	}
	return nil
}

// TLSConfig returns a copy of base whose VerifyConnection hook runs the
// connection's hostname verifier. Standard chain verification stays enabled.
func (c *Connection) TLSConfig(base *tls.Config) *tls.Config {
	var cfg *tls.Config
	if base != nil {
		cfg = base.Clone()
	} else {
		cfg = &tls.Config{}
	}
	cfg.VerifyConnection = c.VerifyConnection
	return cfg
}

// Install wraps the connection's current hostname verifier with a dynamic
// pinning Verifier. It fails with interfaces.ErrNotSecured for non-HTTPS
// connections and with interfaces.ErrDoubleWrap if a pinning verifier is
// already installed.
func Install(conn *Connection, certs interfaces.CertificateCache, fetcher interfaces.TokenFetcher, log *slog.Logger) (*Verifier, error) {
	if !conn.Secure() {
		return nil, interfaces.ErrNotSecured
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()

	if _, ok := conn.verifier.(*Verifier); ok {
		return nil, interfaces.ErrDoubleWrap
	}

	verifier := NewVerifier(conn.verifier, certs, fetcher, log)
	conn.verifier = verifier
	return verifier, nil
}
