package stubserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/ruteri/attested-http/attestation"
	"go.uber.org/atomic"
)

// maxBodySize is the maximum allowed request body size (64KB).
const maxBodySize = 64 * 1024

// RequestError provides structured error information for HTTP responses.
type RequestError struct {
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

// Handler issues development tokens and serves the configured certificate pins.
type Handler struct {
	// Allowed customers. Empty allows every customer.
	customers map[string]struct{}

	pinsLock sync.RWMutex
	pins     map[string][]byte

	issued atomic.Int64
	log    *slog.Logger
}

// NewHandler creates a token handler accepting the given customers.
func NewHandler(customers []string, log *slog.Logger) *Handler {
	h := &Handler{
		customers: make(map[string]struct{}, len(customers)),
		pins:      make(map[string][]byte),
		log:       log,
	}
	for _, customer := range customers {
		h.customers[customer] = struct{}{}
	}
	return h
}

// SetPin sets the DER certificate returned for hostname.
func (h *Handler) SetPin(hostname string, der []byte) {
	h.pinsLock.Lock()
	defer h.pinsLock.Unlock()
	h.pins[strings.ToLower(hostname)] = der
}

// RemovePin stops serving a certificate for hostname.
func (h *Handler) RemovePin(hostname string) {
	h.pinsLock.Lock()
	defer h.pinsLock.Unlock()
	delete(h.pins, strings.ToLower(hostname))
}

// Issued returns the number of tokens issued so far.
func (h *Handler) Issued() int64 {
	return h.issued.Load()
}

// HandleToken issues a token.
//
// URL format: POST /api/token
// Request body: attestation.TokenRequestBody as JSON
// Response: attestation.TokenResponseBody carrying every configured pin
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseTokenRequest(r)
	if err != nil {
		var reqErr *RequestError
		if errors.As(err, &reqErr) {
			http.Error(w, reqErr.Error(), reqErr.StatusCode)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	resp := attestation.TokenResponseBody{
		Token:        "stub." + uuid.NewString(),
		Certificates: h.currentPins(),
	}
	h.issued.Inc()

	h.log.Info("Issued token",
		"customer", req.Customer,
		"scope", req.Scope,
		"pins", len(resp.Certificates))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("Failed to encode token response", "err", err)
	}
}

func (h *Handler) parseTokenRequest(r *http.Request) (*attestation.TokenRequestBody, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, &RequestError{StatusCode: http.StatusBadRequest, Err: errors.New("failed to read request body")}
	}

	var req attestation.TokenRequestBody
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &RequestError{StatusCode: http.StatusBadRequest, Err: errors.New("invalid token request")}
	}

	if len(h.customers) > 0 {
		if _, allowed := h.customers[req.Customer]; !allowed {
			h.log.Warn("Token requested by unknown customer", "customer", req.Customer)
			return nil, &RequestError{StatusCode: http.StatusForbidden, Err: errors.New("unknown customer")}
		}
	}

	return &req, nil
}

func (h *Handler) currentPins() map[string][]byte {
	h.pinsLock.RLock()
	defer h.pinsLock.RUnlock()

	if len(h.pins) == 0 {
		return nil
	}
	pins := make(map[string][]byte, len(h.pins))
	for hostname, der := range h.pins {
		pins[hostname] = der
	}
	return pins
}
