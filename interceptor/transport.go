package interceptor

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/ruteri/attested-http/attestation"
	"github.com/ruteri/attested-http/domains"
	"github.com/ruteri/attested-http/interfaces"
	"github.com/ruteri/attested-http/pinning"
)

// TokenHeader carries the attestation token on requests to protected domains.
const TokenHeader = "Approov-Token"

// Config contains the collaborators of a Transport.
type Config struct {
	// Registry of protected domains. Requests to other URLs are passed
	// through untouched.
	Registry *domains.Registry

	// Attestation client used for tokens and pinned certificates
	Attestation interfaces.AttestationClient

	// Base transport. Pinned transports are cloned from it.
	// Defaults to a clone of http.DefaultTransport.
	Base *http.Transport

	// HostnameVerifier runs before dynamic pinning on pinned connections.
	// Defaults to pinning.StandardHostnameVerifier.
	HostnameVerifier pinning.HostnameVerifier

	Log *slog.Logger
}

// Transport is an http.RoundTripper adding attestation tokens to requests for
// protected domains and pinning the server certificate of MITM-protected ones.
type Transport struct {
	config Config
	base   *http.Transport

	// Pinned transports per host
	pinnedCache     map[string]*http.Transport
	pinnedCacheLock sync.RWMutex
}

var _ http.RoundTripper = (*Transport)(nil)

// New creates an interceptor transport.
func New(config Config) (*Transport, error) {
	if config.Registry == nil {
		return nil, errors.New("interceptor requires a domain registry")
	}
	if config.Attestation == nil {
		return nil, errors.New("interceptor requires an attestation client")
	}
	if config.Log == nil {
		config.Log = slog.Default()
	}

	base := config.Base
	if base == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
	}
	if config.HostnameVerifier == nil {
		config.HostnameVerifier = pinning.StandardHostnameVerifier{}
	}

	return &Transport{
		config:      config,
		base:        base,
		pinnedCache: make(map[string]*http.Transport),
	}, nil
}

// Client returns an http.Client sending every request through t.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.config.Registry.IsProtected(req.URL) {
		return t.base.RoundTrip(req)
	}

	mitmProtected := t.config.Registry.IsMITMProtected(req.URL)

	scope := interfaces.GenericScope
	if mitmProtected {
		scope = interfaces.ScopeForURL(req.URL)
	}
	token := attestation.FetchToken(req.Context(), t.config.Attestation, scope, t.config.Log)

	next := t.base
	if mitmProtected && token.Present() {
		pinned, err := t.getOrCreatePinnedTransport(req.URL)
		if err != nil {
			t.config.Log.Error("Could not set up dynamic pinning", "host", req.URL.Host, "err", err)
			if req.Body != nil {
				req.Body.Close()
			}
			return nil, err
		}
		next = pinned
	}

	// RoundTrippers must not modify the caller's request
	out := req.Clone(req.Context())
	out.Header.Set(TokenHeader, token.HeaderValue())

	t.config.Log.Debug("Forwarding protected request",
		"host", req.URL.Host,
		"mitmProtected", mitmProtected,
		"token", token.Present())

	return next.RoundTrip(out)
}

// CloseIdleConnections closes idle connections of the base transport and of
// every pinned transport.
func (t *Transport) CloseIdleConnections() {
	t.base.CloseIdleConnections()

	t.pinnedCacheLock.RLock()
	defer t.pinnedCacheLock.RUnlock()
	for _, transport := range t.pinnedCache {
		transport.CloseIdleConnections()
	}
}

// getOrCreatePinnedTransport returns the transport whose connections to the
// host of u are verified by dynamic pinning. Pinned and unpinned connections
// never share a pool.
func (t *Transport) getOrCreatePinnedTransport(u *url.URL) (*http.Transport, error) {
	cacheKey := strings.ToLower(u.Host)

	t.pinnedCacheLock.RLock()
	transport, exists := t.pinnedCache[cacheKey]
	t.pinnedCacheLock.RUnlock()

	if exists {
		return transport, nil
	}

	t.pinnedCacheLock.Lock()
	defer t.pinnedCacheLock.Unlock()

	// Check again in case another goroutine created it while we were waiting
	transport, exists = t.pinnedCache[cacheKey]
	if exists {
		return transport, nil
	}

	conn := pinning.NewConnection(&url.URL{Scheme: u.Scheme, Host: u.Host}, t.config.HostnameVerifier)
	if _, err := pinning.Install(conn, t.config.Attestation, t.config.Attestation, t.config.Log); err != nil {
		return nil, fmt.Errorf("installing pinning verifier for %s: %w", u.Host, err)
	}

	transport = t.base.Clone()
	transport.TLSClientConfig = conn.TLSConfig(transport.TLSClientConfig)

	t.pinnedCache[cacheKey] = transport
	t.config.Log.Info("Created pinned transport", "host", u.Host)

	return transport, nil
}
