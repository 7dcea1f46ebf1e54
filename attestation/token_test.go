package attestation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/attested-http/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockTokenFetcher implements interfaces.TokenFetcher for testing
type MockTokenFetcher struct {
	mock.Mock
}

func (m *MockTokenFetcher) FetchTokenAndWait(ctx context.Context, scope interfaces.Scope) (interfaces.AttestationResult, error) {
	args := m.Called(ctx, scope)
	return args.Get(0).(interfaces.AttestationResult), args.Error(1)
}

type panickingFetcher struct{}

func (panickingFetcher) FetchTokenAndWait(context.Context, interfaces.Scope) (interfaces.AttestationResult, error) {
	panic("attestation SDK exploded")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestToken(t *testing.T) {
	assert.False(t, NoToken.Present())
	assert.Equal(t, "", NoToken.HeaderValue())

	token := NewToken("abc")
	assert.True(t, token.Present())
	assert.Equal(t, "abc", token.HeaderValue())
	value, ok := token.Value()
	assert.True(t, ok)
	assert.Equal(t, "abc", value)

	// An empty token issued by the client is still distinguishable from NoToken
	empty := NewToken("")
	assert.True(t, empty.Present())
	assert.NotEqual(t, NoToken, empty)
}

func TestFetchToken(t *testing.T) {
	ctx := context.Background()
	scope := interfaces.ScopeFor("https://a.com/p")

	testCases := []struct {
		name      string
		result    interfaces.AttestationResult
		err       error
		wantToken Token
	}{
		{
			name:      "success",
			result:    interfaces.AttestationSucceeded("token-value"),
			wantToken: NewToken("token-value"),
		},
		{
			name:      "explicit failure",
			result:    interfaces.AttestationFailed(errors.New("service refused")),
			wantToken: NoToken,
		},
		{
			name:      "client error",
			result:    interfaces.AttestationResult{},
			err:       interfaces.ErrNotInitialized,
			wantToken: NoToken,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fetcher := new(MockTokenFetcher)
			fetcher.On("FetchTokenAndWait", ctx, scope).Return(tc.result, tc.err)

			token := FetchToken(ctx, fetcher, scope, discardLogger())
			assert.Equal(t, tc.wantToken, token)
			fetcher.AssertExpectations(t)
		})
	}
}

func TestFetchToken_GenericScope(t *testing.T) {
	ctx := context.Background()
	fetcher := new(MockTokenFetcher)
	fetcher.On("FetchTokenAndWait", ctx, interfaces.GenericScope).Return(interfaces.AttestationSucceeded("generic"), nil)

	token := FetchToken(ctx, fetcher, interfaces.GenericScope, discardLogger())
	require.True(t, token.Present())
	assert.Equal(t, "generic", token.HeaderValue())
}

func TestFetchToken_RecoversPanic(t *testing.T) {
	var token Token
	require.NotPanics(t, func() {
		token = FetchToken(context.Background(), panickingFetcher{}, interfaces.GenericScope, discardLogger())
	})
	assert.Equal(t, NoToken, token)
}
