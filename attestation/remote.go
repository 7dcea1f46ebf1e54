package attestation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/ruteri/attested-http/interfaces"
)

// TokenPath is the path, relative to the attestation or failover URL, that
// RemoteSource posts token requests to.
const TokenPath = "/api/token"

// maxResponseSize bounds the attestation service response body.
const maxResponseSize = 1 << 20

// TokenRequestBody is the JSON body of a token request.
type TokenRequestBody struct {
	Customer string `json:"customer"`
	Scope    string `json:"scope,omitempty"`
	Payload  string `json:"payload,omitempty"`
}

// TokenResponseBody is the JSON body returned by the attestation service.
// Certificates maps hostnames to DER encoded certificates (base64 in JSON).
type TokenResponseBody struct {
	Token        string            `json:"token"`
	Certificates map[string][]byte `json:"certificates,omitempty"`
}

// RemoteSource fetches tokens from an attestation service over HTTP. When the
// primary endpoint fails the failover endpoint, if configured, is tried.
type RemoteSource struct {
	AttestationURL string
	FailoverURL    string
	Client         *http.Client
}

// NewRemoteSource is a SourceFactory building a RemoteSource from client configuration.
func NewRemoteSource(cfg interfaces.ClientConfig) (TokenSource, error) {
	for _, endpoint := range []string{cfg.AttestationURL, cfg.FailoverURL} {
		if endpoint == "" {
			continue
		}
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("malformed attestation endpoint %q: %w", endpoint, err)
		}
		if u.Scheme != "https" && u.Scheme != "http" {
			return nil, fmt.Errorf("attestation endpoint %q must be an http(s) URL", endpoint)
		}
	}

	return &RemoteSource{
		AttestationURL: cfg.AttestationURL,
		FailoverURL:    cfg.FailoverURL,
		Client:         &http.Client{Timeout: cfg.NetworkTimeout},
	}, nil
}

// FetchToken implements TokenSource.
func (s *RemoteSource) FetchToken(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if s.AttestationURL == "" && s.FailoverURL == "" {
		return nil, errors.New("no attestation endpoint configured")
	}

	var errs []error
	for _, endpoint := range []string{s.AttestationURL, s.FailoverURL} {
		if endpoint == "" {
			continue
		}

		resp, err := s.fetchFrom(ctx, endpoint, req)
		if err == nil {
			return resp, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", endpoint, err))

		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

func (s *RemoteSource) fetchFrom(ctx context.Context, endpoint string, req TokenRequest) (*TokenResponse, error) {
	tokenURL, err := url.JoinPath(endpoint, TokenPath)
	if err != nil {
		return nil, fmt.Errorf("could not build token URL: %w", err)
	}

	body, err := json.Marshal(TokenRequestBody{
		Customer: req.CustomerName,
		Scope:    req.Scope.Target(),
		Payload:  req.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("could not encode token request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not initialize request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("could not request token: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("could not read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("attestation service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var tokenResp TokenResponseBody
	if err := json.Unmarshal(respBody, &tokenResp); err != nil {
		return nil, fmt.Errorf("could not parse token response: %w", err)
	}
	if tokenResp.Token == "" {
		return nil, errors.New("attestation service returned an empty token")
	}

	return &TokenResponse{
		Token:        tokenResp.Token,
		Certificates: tokenResp.Certificates,
	}, nil
}
