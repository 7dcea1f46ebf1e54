package attestation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ruteri/attested-http/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticSource(resp *TokenResponse, err error) SourceFactory {
	return func(interfaces.ClientConfig) (TokenSource, error) {
		return TokenSourceFunc(func(context.Context, TokenRequest) (*TokenResponse, error) {
			return resp, err
		}), nil
	}
}

func TestMemoryClient_InitializeOnce(t *testing.T) {
	client := NewMemoryClient(staticSource(&TokenResponse{Token: "t"}, nil), discardLogger())
	assert.False(t, client.Initialized())

	require.NoError(t, client.Initialize(interfaces.ClientConfig{CustomerName: "me"}))
	assert.True(t, client.Initialized())

	err := client.Initialize(interfaces.ClientConfig{CustomerName: "someone-else"})
	require.ErrorIs(t, err, interfaces.ErrAlreadyInitialized)
	require.ErrorIs(t, err, interfaces.ErrInvalidConfig)
}

func TestMemoryClient_ConcurrentInitialize(t *testing.T) {
	client := NewMemoryClient(staticSource(&TokenResponse{Token: "t"}, nil), discardLogger())

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- client.Initialize(DefaultClientConfig())
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, interfaces.ErrAlreadyInitialized)
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestMemoryClient_SourceFactoryError(t *testing.T) {
	client := NewMemoryClient(func(interfaces.ClientConfig) (TokenSource, error) {
		return nil, errors.New("bad url")
	}, discardLogger())

	err := client.Initialize(interfaces.ClientConfig{})
	require.ErrorIs(t, err, interfaces.ErrInvalidConfig)
	assert.False(t, client.Initialized())

	// A failed initialization does not consume the single allowed one
	client.newSource = staticSource(&TokenResponse{Token: "t"}, nil)
	require.NoError(t, client.Initialize(interfaces.ClientConfig{}))
}

func TestMemoryClient_NotInitialized(t *testing.T) {
	client := NewMemoryClient(staticSource(&TokenResponse{Token: "t"}, nil), discardLogger())

	_, err := client.FetchTokenAndWait(context.Background(), interfaces.GenericScope)
	require.ErrorIs(t, err, interfaces.ErrNotInitialized)

	require.ErrorIs(t, client.SetTokenPayload("x"), interfaces.ErrNotInitialized)
}

func TestMemoryClient_FetchStoresCertificates(t *testing.T) {
	client := NewMemoryClient(staticSource(&TokenResponse{
		Token: "token",
		Certificates: map[string][]byte{
			"A.com": []byte("cert-a"),
			"b.com": []byte("cert-b"),
		},
	}, nil), discardLogger())
	require.NoError(t, client.Initialize(DefaultClientConfig()))

	_, found := client.Certificate("a.com")
	assert.False(t, found)

	result, err := client.FetchTokenAndWait(context.Background(), interfaces.ScopeFor("a.com"))
	require.NoError(t, err)
	require.True(t, result.Succeeded())
	assert.Equal(t, "token", result.Token)

	cert, found := client.Certificate("a.com")
	require.True(t, found)
	assert.Equal(t, []byte("cert-a"), cert)

	cert, found = client.Certificate("B.COM")
	require.True(t, found)
	assert.Equal(t, []byte("cert-b"), cert)

	client.InvalidateAll()
	_, found = client.Certificate("a.com")
	assert.False(t, found)
	_, found = client.Certificate("b.com")
	assert.False(t, found)

	stats := client.Stats()
	assert.Equal(t, int64(1), stats.Fetches)
	assert.Equal(t, int64(0), stats.Failures)
	assert.Equal(t, int64(1), stats.Invalidations)
}

func TestMemoryClient_FetchFailure(t *testing.T) {
	client := NewMemoryClient(staticSource(nil, errors.New("unreachable")), discardLogger())
	require.NoError(t, client.Initialize(DefaultClientConfig()))

	result, err := client.FetchTokenAndWait(context.Background(), interfaces.ScopeFor("a.com"))
	require.NoError(t, err)
	assert.False(t, result.Succeeded())
	assert.ErrorIs(t, result.Err, interfaces.ErrAttestationFailed)
	assert.Equal(t, int64(1), client.Stats().Failures)
}

func TestMemoryClient_RequestCarriesConfiguration(t *testing.T) {
	var seen TokenRequest
	var deadline time.Time
	client := NewMemoryClient(func(cfg interfaces.ClientConfig) (TokenSource, error) {
		return TokenSourceFunc(func(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
			seen = req
			deadline, _ = ctx.Deadline()
			return &TokenResponse{Token: "t"}, nil
		}), nil
	}, discardLogger())

	require.NoError(t, client.Initialize(interfaces.ClientConfig{CustomerName: "me", NetworkTimeout: 5 * time.Second}))
	require.NoError(t, client.SetTokenPayload("user-defined"))

	start := time.Now()
	_, err := client.FetchTokenAndWait(context.Background(), interfaces.ScopeFor("https://a.com/p"))
	require.NoError(t, err)

	assert.Equal(t, "me", seen.CustomerName)
	assert.Equal(t, "user-defined", seen.Payload)
	assert.Equal(t, "https://a.com/p", seen.Scope.Target())
	assert.Equal(t, "a.com", seen.Scope.Hostname())
	assert.WithinDuration(t, start.Add(5*time.Second), deadline, time.Second)
}
