package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ruteri/attested-http/attestation"
	"github.com/ruteri/attested-http/interfaces"
)

var (
	validate = validator.New()
)

// Config is the host configuration. Nil fields are absent options. The JSON
// encoding uses the option names applications already configure with.
type Config struct {
	CustomerName *string `json:"customerName,omitempty" validate:"omitempty,min=1"`

	// NetworkTimeout in seconds, at most one day
	NetworkTimeout *float64 `json:"networkTimeout,omitempty" validate:"omitempty,gt=0,lte=86400"`

	AttestationURL *string `json:"attestationURL,omitempty" validate:"omitempty,url"`
	FailoverURL    *string `json:"failoverURL,omitempty"    validate:"omitempty,url"`

	TokenPayloadValue *string `json:"tokenPayloadValue,omitempty"`

	// A present but empty list still counts as supplied
	ProtectedDomains []ProtectedDomainConfig `json:"protectedDomains,omitempty" validate:"omitempty,dive"`
}

// ProtectedDomainConfig registers one protected domain.
type ProtectedDomainConfig struct {
	URL           string   `json:"protectedDomainURL"    validate:"required"`
	MITMProtected FlexBool `json:"isMITMProtectedDomain"`
}

// FlexBool decodes from a JSON boolean or from the strings "true" and "false".
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	var value bool
	if err := json.Unmarshal(data, &value); err == nil {
		*b = FlexBool(value)
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("expected boolean, got %s", data)
	}
	switch strings.ToLower(strings.TrimSpace(str)) {
	case "true":
		*b = true
	case "false":
		*b = false
	default:
		return fmt.Errorf("expected boolean, got %q", str)
	}
	return nil
}

// ParseConfig decodes and validates a JSON host configuration.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: invalid JSON: %v", interfaces.ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks option values. It does not check the lifecycle.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrInvalidConfig, err)
	}
	return nil
}

// HasInitOptions reports whether c sets options that initialize the
// attestation client.
func (c Config) HasInitOptions() bool {
	return c.CustomerName != nil || c.NetworkTimeout != nil || c.AttestationURL != nil || c.FailoverURL != nil
}

// ClientConfig returns the attestation client configuration for c, using
// defaults for absent options.
func (c Config) ClientConfig() interfaces.ClientConfig {
	cfg := attestation.DefaultClientConfig()
	if c.CustomerName != nil {
		cfg.CustomerName = *c.CustomerName
	}
	if c.NetworkTimeout != nil {
		cfg.NetworkTimeout = time.Duration(*c.NetworkTimeout * float64(time.Second))
	}
	if c.AttestationURL != nil {
		cfg.AttestationURL = *c.AttestationURL
	}
	if c.FailoverURL != nil {
		cfg.FailoverURL = *c.FailoverURL
	}
	return cfg
}
