package attestation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ruteri/attested-http/interfaces"
)

// Token is the outcome of a token fetch as seen by request code: either a
// token value or NoToken.
type Token struct {
	value   string
	present bool
}

// NoToken signals that no token could be obtained.
var NoToken = Token{}

// NewToken wraps a token value obtained from the attestation client.
func NewToken(value string) Token {
	return Token{value: value, present: true}
}

// Present reports whether t carries a token obtained from the client.
func (t Token) Present() bool {
	return t.present
}

// Value returns the token value and whether it is present.
func (t Token) Value() (string, bool) {
	return t.value, t.present
}

// HeaderValue renders the token for the request header: the token value, or
// the empty string for NoToken.
func (t Token) HeaderValue() string {
	if !t.present {
		return ""
	}
	return t.value
}

// FetchToken obtains a token for scope from fetcher. It never fails: an
// explicit failure, an error or a panic inside the client all degrade to
// NoToken so that the request proceeds unauthenticated.
func FetchToken(ctx context.Context, fetcher interfaces.TokenFetcher, scope interfaces.Scope, log *slog.Logger) (token Token) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Attestation client panicked during token fetch", "scope", scope.String(), "panic", fmt.Sprint(r))
			token = NoToken
		}
	}()

	result, err := fetcher.FetchTokenAndWait(ctx, scope)
	if err != nil {
		log.Warn("Token fetch failed", "scope", scope.String(), "err", err)
		return NoToken
	}

	if !result.Succeeded() {
		log.Warn("Token fetch reported failure", "scope", scope.String(), "err", result.Err)
		return NoToken
	}

	return NewToken(result.Token)
}
