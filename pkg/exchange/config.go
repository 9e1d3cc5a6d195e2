package exchange

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tradelink/pkg/confkit"
)

// Config captures the credentials the process may connect with, keyed by
// credential ID.
type Config struct {
	Default     string                       `yaml:"default"`
	Credentials map[string]*CredentialConfig `yaml:"credentials"`
}

// CredentialConfig describes one venue account and how to talk to it.
type CredentialConfig struct {
	Venue      string `yaml:"venue"`
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	Passphrase string `yaml:"passphrase"`
	Sandbox    bool   `yaml:"sandbox"`
	BaseURL    string `yaml:"base_url"`
	// AutoConnect makes the process initialize this credential on start.
	AutoConnect    bool             `yaml:"auto_connect"`
	DefaultSegment MarketSegment    `yaml:"default_segment"`
	RateLimit      *RateLimitConfig `yaml:"rate_limit"`

	TimeoutRaw string        `yaml:"timeout"`
	Timeout    time.Duration `yaml:"-"`
}

// RateLimitConfig overrides the venue's declared request budget.
type RateLimitConfig struct {
	Requests  int           `yaml:"requests"`
	WindowRaw string        `yaml:"window"`
	Window    time.Duration `yaml:"-"`
}

// LoadConfig reads configuration from disk.
func LoadConfig(path string) (*Config, error) {
	return confkit.Open("exchange", path, LoadConfigFromReader)
}

// LoadConfigFromReader constructs a Config from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	var cfg Config
	if err := confkit.Decode("exchange", r, func(data []byte) error { return yaml.Unmarshal(data, &cfg) }); err != nil {
		return nil, err
	}
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalise() error {
	if c.Credentials == nil {
		c.Credentials = make(map[string]*CredentialConfig)
	}
	c.Default = strings.TrimSpace(os.ExpandEnv(c.Default))
	for id, cred := range c.Credentials {
		if cred == nil {
			cred = &CredentialConfig{}
			c.Credentials[id] = cred
		}
		cred.expandEnv()
		if err := cred.parseDurations(id); err != nil {
			return err
		}
	}
	return nil
}

func (p *CredentialConfig) expandEnv() {
	p.Venue = strings.ToLower(strings.TrimSpace(os.ExpandEnv(p.Venue)))
	p.APIKey = strings.TrimSpace(os.ExpandEnv(p.APIKey))
	p.APISecret = strings.TrimSpace(os.ExpandEnv(p.APISecret))
	p.Passphrase = strings.TrimSpace(os.ExpandEnv(p.Passphrase))
	p.BaseURL = strings.TrimSpace(os.ExpandEnv(p.BaseURL))
	p.DefaultSegment = MarketSegment(strings.ToLower(strings.TrimSpace(string(p.DefaultSegment))))
	p.TimeoutRaw = strings.TrimSpace(os.ExpandEnv(p.TimeoutRaw))
	if p.RateLimit != nil {
		p.RateLimit.WindowRaw = strings.TrimSpace(os.ExpandEnv(p.RateLimit.WindowRaw))
	}
}

func (p *CredentialConfig) parseDurations(id string) error {
	p.Timeout = 0
	if p.TimeoutRaw != "" {
		d, err := time.ParseDuration(p.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("exchange credential %s: invalid timeout %q: %w", id, p.TimeoutRaw, err)
		}
		if d <= 0 {
			return fmt.Errorf("exchange credential %s: timeout must be positive, got %s", id, d)
		}
		p.Timeout = d
	}
	if p.RateLimit != nil {
		if p.RateLimit.WindowRaw == "" {
			return fmt.Errorf("exchange credential %s: rate_limit.window is required", id)
		}
		d, err := time.ParseDuration(p.RateLimit.WindowRaw)
		if err != nil {
			return fmt.Errorf("exchange credential %s: invalid rate_limit.window %q: %w", id, p.RateLimit.WindowRaw, err)
		}
		if d <= 0 {
			return fmt.Errorf("exchange credential %s: rate_limit.window must be positive, got %s", id, d)
		}
		p.RateLimit.Window = d
	}
	return nil
}

// Validate ensures all credentials have sane configuration.
func (c *Config) Validate() error {
	if len(c.Credentials) == 0 {
		return fmt.Errorf("exchange config: credentials cannot be empty")
	}
	if c.Default != "" {
		if _, ok := c.Credentials[c.Default]; !ok {
			return fmt.Errorf("exchange config: default credential %q not defined", c.Default)
		}
	}
	for id, cred := range c.Credentials {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("exchange config: credential id cannot be empty")
		}
		if err := cred.validate(id); err != nil {
			return err
		}
	}
	return nil
}

func (p *CredentialConfig) validate(id string) error {
	if p == nil {
		return fmt.Errorf("exchange config: credential %s is nil", id)
	}
	if p.Venue == "" {
		return fmt.Errorf("exchange config: credential %s must specify venue", id)
	}
	if _, ok := lookupVenueBuilder(p.Venue); !ok {
		return fmt.Errorf("exchange config: credential %s has unsupported venue %q", id, p.Venue)
	}
	if p.Venue == "hyperliquid" && p.APISecret == "" {
		return fmt.Errorf("exchange config: credential %s requires api_secret (signing key)", id)
	}
	if p.DefaultSegment != "" && !p.DefaultSegment.Valid() {
		return fmt.Errorf("exchange config: credential %s has invalid default_segment %q", id, p.DefaultSegment)
	}
	if p.RateLimit != nil && p.RateLimit.Requests <= 0 {
		return fmt.Errorf("exchange config: credential %s rate_limit.requests must be positive", id)
	}
	return nil
}

// IDs returns the credential IDs in a stable order, default first.
func (c *Config) IDs() []string {
	ids := make([]string, 0, len(c.Credentials))
	for id := range c.Credentials {
		if id != c.Default {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if c.Default != "" {
		ids = append([]string{c.Default}, ids...)
	}
	return ids
}

// Credential materialises the credential with the given ID.
func (c *Config) Credential(id string) (Credential, error) {
	p, ok := c.Credentials[id]
	if !ok || p == nil {
		return Credential{}, fmt.Errorf("exchange config: credential %q not defined", id)
	}
	return NewCredential(p.Venue, id, p.APIKey, p.APISecret, p.Passphrase, p.Sandbox), nil
}

// BuildAdapter constructs an unconnected adapter for cred, applying the
// per-credential settings when cred's ID is configured here.
func (c *Config) BuildAdapter(cred Credential, opts ...AdapterOption) (*Adapter, error) {
	var venueOpts VenueOptions
	var adapterOpts []AdapterOption
	if p, ok := c.Credentials[cred.ID()]; ok && p != nil && p.Venue == cred.Venue() {
		venueOpts = VenueOptions{Timeout: p.Timeout, BaseURL: p.BaseURL}
		adapterOpts = append(adapterOpts, WithCallTimeout(p.Timeout), WithDefaultSegment(p.DefaultSegment))
		if p.RateLimit != nil {
			adapterOpts = append(adapterOpts, withDeclaredLimit(p.RateLimit.Requests, p.RateLimit.Window))
		}
	}
	venue, err := NewVenue(cred, venueOpts)
	if err != nil {
		return nil, err
	}
	// Caller options win over file settings.
	adapterOpts = append(adapterOpts, opts...)
	return NewAdapter(venue, cred, adapterOpts...), nil
}
