package interceptor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ruteri/attested-http/attestation"
	"github.com/ruteri/attested-http/cryptoutils"
	"github.com/ruteri/attested-http/domains"
	"github.com/ruteri/attested-http/interfaces"
	"github.com/ruteri/attested-http/pinning"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingServer remembers the token header of every request it served.
type recordingServer struct {
	*httptest.Server

	mu      sync.Mutex
	headers [][]string
}

func newRecordingServer(t *testing.T) *recordingServer {
	t.Helper()
	rs := &recordingServer{}
	rs.Server = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		rs.headers = append(rs.headers, r.Header.Values(TokenHeader))
		rs.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *recordingServer) lastHeader(t *testing.T) []string {
	t.Helper()
	rs.mu.Lock()
	defer rs.mu.Unlock()
	require.NotEmpty(t, rs.headers)
	return rs.headers[len(rs.headers)-1]
}

// scriptedSource answers token requests with respond and records their scopes.
type scriptedSource struct {
	mu      sync.Mutex
	scopes  []interfaces.Scope
	respond func(req attestation.TokenRequest) (*attestation.TokenResponse, error)
}

func (s *scriptedSource) factory(interfaces.ClientConfig) (attestation.TokenSource, error) {
	return attestation.TokenSourceFunc(func(_ context.Context, req attestation.TokenRequest) (*attestation.TokenResponse, error) {
		s.mu.Lock()
		s.scopes = append(s.scopes, req.Scope)
		s.mu.Unlock()
		return s.respond(req)
	}), nil
}

func (s *scriptedSource) recordedScopes() []interfaces.Scope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]interfaces.Scope(nil), s.scopes...)
}

type testSetup struct {
	server   *recordingServer
	source   *scriptedSource
	client   *attestation.MemoryClient
	registry *domains.Registry
	rt       *Transport
}

func newTestSetup(t *testing.T, respond func(attestation.TokenRequest) (*attestation.TokenResponse, error), verifier pinning.HostnameVerifier) *testSetup {
	t.Helper()

	server := newRecordingServer(t)
	source := &scriptedSource{respond: respond}

	client := attestation.NewMemoryClient(source.factory, discardLogger())
	require.NoError(t, client.Initialize(attestation.DefaultClientConfig()))

	registry := domains.NewRegistry(discardLogger())

	base := server.Client().Transport.(*http.Transport).Clone()
	rt, err := New(Config{
		Registry:         registry,
		Attestation:      client,
		Base:             base,
		HostnameVerifier: verifier,
		Log:              discardLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(rt.CloseIdleConnections)

	return &testSetup{
		server:   server,
		source:   source,
		client:   client,
		registry: registry,
		rt:       rt,
	}
}

func (s *testSetup) get(t *testing.T) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.server.URL+"/api/data", nil)
	require.NoError(t, err)
	resp, err := s.rt.Client().Do(req)
	if err == nil {
		resp.Body.Close()
	}
	return resp, err
}

func tokenOnly(token string) func(attestation.TokenRequest) (*attestation.TokenResponse, error) {
	return func(attestation.TokenRequest) (*attestation.TokenResponse, error) {
		return &attestation.TokenResponse{Token: token}, nil
	}
}

func TestNew(t *testing.T) {
	_, err := New(Config{Attestation: attestation.NewMemoryClient(nil, discardLogger())})
	require.Error(t, err)

	_, err = New(Config{Registry: domains.NewRegistry(discardLogger())})
	require.Error(t, err)
}

func TestUnprotectedRequestPassesThrough(t *testing.T) {
	s := newTestSetup(t, tokenOnly("t1"), nil)

	resp, err := s.get(t)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, s.server.lastHeader(t))
	assert.Empty(t, s.source.recordedScopes())
}

func TestProtectedRequestCarriesGenericToken(t *testing.T) {
	s := newTestSetup(t, tokenOnly("t1"), nil)
	require.NoError(t, s.registry.RegisterURL("https://127.0.0.1", false))

	req, err := http.NewRequest(http.MethodGet, s.server.URL+"/api/data", nil)
	require.NoError(t, err)
	resp, err := s.rt.RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []string{"t1"}, s.server.lastHeader(t))
	assert.Empty(t, req.Header.Get(TokenHeader), "caller's request must not be modified")

	scopes := s.source.recordedScopes()
	require.Len(t, scopes, 1)
	assert.True(t, scopes[0].IsGeneric())
}

func TestProtectedRequestWithoutTokenSendsEmptyHeader(t *testing.T) {
	s := newTestSetup(t, func(attestation.TokenRequest) (*attestation.TokenResponse, error) {
		return nil, errors.New("service unavailable")
	}, nil)
	require.NoError(t, s.registry.RegisterURL("https://127.0.0.1", false))

	resp, err := s.get(t)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{""}, s.server.lastHeader(t))
}

func TestPinnedRequestAccepted(t *testing.T) {
	var s *testSetup
	s = newTestSetup(t, func(attestation.TokenRequest) (*attestation.TokenResponse, error) {
		return &attestation.TokenResponse{
			Token:        "t2",
			Certificates: map[string][]byte{"127.0.0.1": s.server.Certificate().Raw},
		}, nil
	}, nil)
	require.NoError(t, s.registry.RegisterURL("https://127.0.0.1", true))

	resp, err := s.get(t)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"t2"}, s.server.lastHeader(t))

	scopes := s.source.recordedScopes()
	require.Len(t, scopes, 1)
	assert.Equal(t, "127.0.0.1", scopes[0].Hostname())
	assert.False(t, scopes[0].IsGeneric())

	// Second request reuses the pinned transport
	_, err = s.get(t)
	require.NoError(t, err)
	s.rt.pinnedCacheLock.RLock()
	assert.Len(t, s.rt.pinnedCache, 1)
	s.rt.pinnedCacheLock.RUnlock()
	assert.Equal(t, int64(0), s.client.Stats().Invalidations)
}

func TestPinnedRequestRejectedOnMismatch(t *testing.T) {
	other, err := cryptoutils.RandomCert("127.0.0.1")
	require.NoError(t, err)

	s := newTestSetup(t, func(attestation.TokenRequest) (*attestation.TokenResponse, error) {
		return &attestation.TokenResponse{
			Token: "t3",
			Certificates: map[string][]byte{
				"127.0.0.1":   other.Leaf.Raw,
				"unrelated.a": other.Leaf.Raw,
			},
		}, nil
	}, nil)
	require.NoError(t, s.registry.RegisterURL("https://127.0.0.1", true))

	_, err = s.get(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), interfaces.ErrPinningRejected.Error())

	assert.Equal(t, int64(1), s.client.Stats().Invalidations)
	_, found := s.client.Certificate("127.0.0.1")
	assert.False(t, found)
	_, found = s.client.Certificate("unrelated.a")
	assert.False(t, found)

	s.server.mu.Lock()
	assert.Empty(t, s.server.headers, "no request reaches a server that failed pinning")
	s.server.mu.Unlock()
}

func TestPinnedRequestAttestsHostnameOnCacheMiss(t *testing.T) {
	var s *testSetup
	s = newTestSetup(t, func(req attestation.TokenRequest) (*attestation.TokenResponse, error) {
		resp := &attestation.TokenResponse{Token: "t4"}
		// Only a hostname-scoped attestation returns the pin
		if req.Scope.Target() == "127.0.0.1" {
			resp.Certificates = map[string][]byte{"127.0.0.1": s.server.Certificate().Raw}
		}
		return resp, nil
	}, nil)
	require.NoError(t, s.registry.RegisterURL("https://127.0.0.1", true))

	resp, err := s.get(t)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	scopes := s.source.recordedScopes()
	require.Len(t, scopes, 2)
	assert.Equal(t, interfaces.ScopeFor("127.0.0.1"), scopes[1])
}

func TestMITMProtectedWithoutTokenIsNotPinned(t *testing.T) {
	s := newTestSetup(t, func(attestation.TokenRequest) (*attestation.TokenResponse, error) {
		return nil, errors.New("service unavailable")
	}, nil)
	require.NoError(t, s.registry.RegisterURL("https://127.0.0.1", true))

	resp, err := s.get(t)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{""}, s.server.lastHeader(t))

	s.rt.pinnedCacheLock.RLock()
	assert.Empty(t, s.rt.pinnedCache)
	s.rt.pinnedCacheLock.RUnlock()
}

func TestDoubleWrapFailsRequest(t *testing.T) {
	client := attestation.NewMemoryClient(nil, discardLogger())
	alreadyPinning := pinning.NewVerifier(nil, client, client, discardLogger())

	var s *testSetup
	s = newTestSetup(t, func(attestation.TokenRequest) (*attestation.TokenResponse, error) {
		return &attestation.TokenResponse{
			Token:        "t5",
			Certificates: map[string][]byte{"127.0.0.1": s.server.Certificate().Raw},
		}, nil
	}, alreadyPinning)
	require.NoError(t, s.registry.RegisterURL("https://127.0.0.1", true))

	req, err := http.NewRequest(http.MethodGet, s.server.URL, nil)
	require.NoError(t, err)
	_, err = s.rt.RoundTrip(req)
	require.ErrorIs(t, err, interfaces.ErrDoubleWrap)
}
