package attestation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ruteri/attested-http/interfaces"
	"go.uber.org/atomic"
)

// DefaultNetworkTimeout bounds a single fetch when the configuration does not set one.
const DefaultNetworkTimeout = 30 * time.Second

// TokenRequest is what the client asks a TokenSource for.
type TokenRequest struct {
	CustomerName string
	Scope        interfaces.Scope
	Payload      string
}

// TokenResponse is a token issued by the attestation service, together with
// the certificates it currently trusts, keyed by hostname.
type TokenResponse struct {
	Token        string
	Certificates map[string][]byte
}

// TokenSource performs the actual exchange with the attestation service.
type TokenSource interface {
	FetchToken(ctx context.Context, req TokenRequest) (*TokenResponse, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context, req TokenRequest) (*TokenResponse, error)

func (f TokenSourceFunc) FetchToken(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	return f(ctx, req)
}

// SourceFactory builds the TokenSource for an initialized client.
type SourceFactory func(cfg interfaces.ClientConfig) (TokenSource, error)

// DefaultClientConfig returns the configuration used when the client is
// initialized implicitly.
func DefaultClientConfig() interfaces.ClientConfig {
	return interfaces.ClientConfig{NetworkTimeout: DefaultNetworkTimeout}
}

// ClientStats counts fetches performed by a MemoryClient.
type ClientStats struct {
	Fetches       int64
	Failures      int64
	Invalidations int64
}

// MemoryClient is an in-process attestation client. It keeps the per-hostname
// certificate cache in memory and delegates token issuance to a TokenSource
// built at initialization time.
type MemoryClient struct {
	newSource   SourceFactory
	initialized atomic.Bool

	// mu guards the fields set by Initialize and SetTokenPayload
	mu      sync.RWMutex
	cfg     interfaces.ClientConfig
	source  TokenSource
	payload string

	certsLock sync.RWMutex
	certs     map[string][]byte

	fetches       atomic.Int64
	failures      atomic.Int64
	invalidations atomic.Int64

	log *slog.Logger
}

var _ interfaces.AttestationClient = (*MemoryClient)(nil)

// NewMemoryClient creates an uninitialized client. newSource is called once,
// from Initialize.
func NewMemoryClient(newSource SourceFactory, log *slog.Logger) *MemoryClient {
	return &MemoryClient{
		newSource: newSource,
		certs:     make(map[string][]byte),
		log:       log,
	}
}

// Initialize configures the client. Only the first call may succeed.
func (c *MemoryClient) Initialize(cfg interfaces.ClientConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized.Load() {
		return interfaces.ErrAlreadyInitialized
	}

	if cfg.NetworkTimeout <= 0 {
		cfg.NetworkTimeout = DefaultNetworkTimeout
	}

	source, err := c.newSource(cfg)
	if err != nil {
		return fmt.Errorf("%w: could not create token source: %v", interfaces.ErrInvalidConfig, err)
	}

	c.cfg = cfg
	c.source = source
	c.initialized.Store(true)

	c.log.Info("Attestation client initialized",
		"customer", cfg.CustomerName,
		"attestationURL", cfg.AttestationURL,
		"failoverURL", cfg.FailoverURL,
		"networkTimeout", cfg.NetworkTimeout)
	return nil
}

// Initialized reports whether Initialize succeeded.
func (c *MemoryClient) Initialized() bool {
	return c.initialized.Load()
}

// SetTokenPayload sets the value bound into subsequently issued tokens.
func (c *MemoryClient) SetTokenPayload(value string) error {
	if !c.initialized.Load() {
		return interfaces.ErrNotInitialized
	}

	c.mu.Lock()
	c.payload = value
	c.mu.Unlock()
	return nil
}

// FetchTokenAndWait fetches a token for scope and refreshes the certificate
// cache with whatever certificates the service returned. It blocks for at
// most the configured network timeout.
func (c *MemoryClient) FetchTokenAndWait(ctx context.Context, scope interfaces.Scope) (interfaces.AttestationResult, error) {
	if !c.initialized.Load() {
		return interfaces.AttestationResult{}, interfaces.ErrNotInitialized
	}

	c.mu.RLock()
	source := c.source
	req := TokenRequest{
		CustomerName: c.cfg.CustomerName,
		Scope:        scope,
		Payload:      c.payload,
	}
	timeout := c.cfg.NetworkTimeout
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.fetches.Inc()
	resp, err := source.FetchToken(ctx, req)
	if err == nil && resp == nil {
		err = errors.New("token source returned no response")
	}
	if err != nil {
		c.failures.Inc()
		c.log.Debug("Token source failed", "scope", scope.String(), "err", err)
		return interfaces.AttestationFailed(fmt.Errorf("%w: %v", interfaces.ErrAttestationFailed, err)), nil
	}

	if len(resp.Certificates) > 0 {
		c.certsLock.Lock()
		for hostname, cert := range resp.Certificates {
			c.certs[strings.ToLower(hostname)] = cert
		}
		c.certsLock.Unlock()
	}

	return interfaces.AttestationSucceeded(resp.Token), nil
}

// Certificate returns the cached certificate for hostname.
func (c *MemoryClient) Certificate(hostname string) ([]byte, bool) {
	c.certsLock.RLock()
	defer c.certsLock.RUnlock()

	cert, found := c.certs[strings.ToLower(hostname)]
	return cert, found
}

// InvalidateAll clears the certificate cache.
func (c *MemoryClient) InvalidateAll() {
	c.certsLock.Lock()
	c.certs = make(map[string][]byte)
	c.certsLock.Unlock()

	c.invalidations.Inc()
	c.log.Debug("Certificate cache invalidated")
}

// Stats returns counters accumulated since the client was created.
func (c *MemoryClient) Stats() ClientStats {
	return ClientStats{
		Fetches:       c.fetches.Load(),
		Failures:      c.failures.Load(),
		Invalidations: c.invalidations.Load(),
	}
}
