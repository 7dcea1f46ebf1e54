package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ruteri/attested-http/domains"
	"github.com/ruteri/attested-http/interceptor"
	"github.com/ruteri/attested-http/interfaces"
	"github.com/ruteri/attested-http/pinning"
)

// ErrInitOptionsRepeated is returned when initialization options are supplied
// after the attestation client was initialized.
var ErrInitOptionsRepeated = fmt.Errorf(`%w for "customerName", "networkTimeout", "attestationURL" and "failoverURL"`, interfaces.ErrAlreadyInitialized)

// Bridge owns the attestation client lifecycle and the protected domain
// registry of an application.
type Bridge struct {
	// mu serializes configuration calls
	mu          sync.Mutex
	initialized bool

	client   interfaces.AttestationClient
	registry *domains.Registry

	log *slog.Logger
}

// New creates a bridge in the uninitialized state.
func New(client interfaces.AttestationClient, registry *domains.Registry, log *slog.Logger) *Bridge {
	return &Bridge{
		client:   client,
		registry: registry,
		log:      log,
	}
}

// Registry returns the protected domain registry.
func (b *Bridge) Registry() *domains.Registry {
	return b.registry
}

// Initialized reports whether the attestation client was initialized through
// the bridge.
func (b *Bridge) Initialized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initialized
}

// ConfigureJSON parses data as a JSON host configuration and applies it.
func (b *Bridge) ConfigureJSON(data []byte) error {
	cfg, err := ParseConfig(data)
	if err != nil {
		return err
	}
	return b.Configure(cfg)
}

// Configure applies cfg. Initialization options initialize the attestation
// client and may only be supplied once. A token payload or protected domains
// supplied before initialization initialize the client with defaults.
// Options are applied in order and a failure stops at the failing option.
func (b *Bridge) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if cfg.HasInitOptions() {
		if b.initialized {
			return ErrInitOptionsRepeated
		}
		if err := b.initialize(cfg.ClientConfig()); err != nil {
			return err
		}
	}

	if cfg.TokenPayloadValue != nil {
		if err := b.ensureInitialized(); err != nil {
			return err
		}
		if err := b.client.SetTokenPayload(*cfg.TokenPayloadValue); err != nil {
			return fmt.Errorf("setting token payload: %w", err)
		}
	}

	if cfg.ProtectedDomains != nil {
		if err := b.ensureInitialized(); err != nil {
			return err
		}
		for i, domain := range cfg.ProtectedDomains {
			if err := b.registry.RegisterURL(domain.URL, bool(domain.MITMProtected)); err != nil {
				return fmt.Errorf("protected domain %d: %w", i, err)
			}
		}
	}

	return nil
}

func (b *Bridge) initialize(cfg interfaces.ClientConfig) error {
	if err := b.client.Initialize(cfg); err != nil {
		if errors.Is(err, interfaces.ErrAlreadyInitialized) {
			b.initialized = true
			return ErrInitOptionsRepeated
		}
		return fmt.Errorf("initializing attestation client: %w", err)
	}
	b.initialized = true
	b.log.Info("Attestation client initialized through host configuration", "customer", cfg.CustomerName)
	return nil
}

func (b *Bridge) ensureInitialized() error {
	if b.initialized {
		return nil
	}

	err := b.client.Initialize(DefaultConfig().ClientConfig())
	if err != nil && !errors.Is(err, interfaces.ErrAlreadyInitialized) {
		return fmt.Errorf("initializing attestation client with defaults: %w", err)
	}
	b.initialized = true
	return nil
}

// DefaultConfig is the configuration used for implicit initialization.
func DefaultConfig() Config {
	return Config{}
}

// Transport returns an interceptor sending requests through base. A nil base
// means a clone of http.DefaultTransport, a nil verifier means
// pinning.StandardHostnameVerifier.
func (b *Bridge) Transport(base *http.Transport, verifier pinning.HostnameVerifier) (*interceptor.Transport, error) {
	return interceptor.New(interceptor.Config{
		Registry:         b.registry,
		Attestation:      b.client,
		Base:             base,
		HostnameVerifier: verifier,
		Log:              b.log,
	})
}

// Client returns an http.Client using an interceptor over the default transport.
func (b *Bridge) Client() (*http.Client, error) {
	transport, err := b.Transport(nil, nil)
	if err != nil {
		return nil, err
	}
	return transport.Client(), nil
}
