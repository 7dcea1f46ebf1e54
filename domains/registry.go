package domains

import (
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/ruteri/attested-http/interfaces"
)

const secureScheme = "https"

// Registry is the table of protected domains. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	domains map[string]bool

	log *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		domains: make(map[string]bool),
		log:     log,
	}
}

// RegisterURL parses rawURL and registers its host. A malformed URL is a
// configuration error.
func (r *Registry) RegisterURL(rawURL string, mitmProtected bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: malformed protected domain URL %q: %v", interfaces.ErrInvalidConfig, rawURL, err)
	}
	return r.Register(u, mitmProtected)
}

// Register adds the host of u to the protected domains or updates its MITM
// protection flag. It fails if u is not an HTTPS URL, has no host, or would
// downgrade an existing MITM protected entry.
func (r *Registry) Register(u *url.URL, mitmProtected bool) error {
	if u == nil || u.Scheme != secureScheme {
		return fmt.Errorf("%w: protected domain's URL does not specify HTTPS protocol", interfaces.ErrInvalidConfig)
	}

	hostname := normalizeHostname(u)
	if hostname == "" {
		return fmt.Errorf("%w: protected domain's URL does not specify domain", interfaces.ErrInvalidConfig)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if current, found := r.domains[hostname]; found && current && !mitmProtected {
		return fmt.Errorf("%w: MITM protection of %s cannot be downgraded", interfaces.ErrInvalidConfig, hostname)
	}

	r.domains[hostname] = mitmProtected
	r.log.Debug("Registered protected domain", "hostname", hostname, "mitmProtected", mitmProtected)
	return nil
}

// IsProtected reports whether requests to u carry an attestation token.
func (r *Registry) IsProtected(u *url.URL) bool {
	_, found := r.lookupURL(u)
	return found
}

// IsMITMProtected reports whether u is protected and its connection must be
// dynamically pinned.
func (r *Registry) IsMITMProtected(u *url.URL) bool {
	mitmProtected, found := r.lookupURL(u)
	return found && mitmProtected
}

// Lookup returns the registered entry for hostname.
func (r *Registry) Lookup(hostname string) (interfaces.ProtectedDomain, bool) {
	hostname = strings.ToLower(hostname)

	r.mu.RLock()
	defer r.mu.RUnlock()

	mitmProtected, found := r.domains[hostname]
	if !found {
		return interfaces.ProtectedDomain{}, false
	}
	return interfaces.ProtectedDomain{Hostname: hostname, MITMProtected: mitmProtected}, true
}

// Domains returns a snapshot of all entries, sorted by hostname.
func (r *Registry) Domains() []interfaces.ProtectedDomain {
	r.mu.RLock()
	result := make([]interfaces.ProtectedDomain, 0, len(r.domains))
	for hostname, mitmProtected := range r.domains {
		result = append(result, interfaces.ProtectedDomain{Hostname: hostname, MITMProtected: mitmProtected})
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Hostname < result[j].Hostname })
	return result
}

func (r *Registry) lookupURL(u *url.URL) (mitmProtected bool, found bool) {
	// Only HTTPS URLs are ever protected
	if u == nil || u.Scheme != secureScheme {
		return false, false
	}

	hostname := normalizeHostname(u)

	r.mu.RLock()
	defer r.mu.RUnlock()

	mitmProtected, found = r.domains[hostname]
	return mitmProtected, found
}

func normalizeHostname(u *url.URL) string {
	return strings.ToLower(u.Hostname())
}
