package config

import (
	"errors"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"property-collector/providers"
	"property-collector/quota"
	"property-collector/ratelimit"
)

// ProviderConfig is one entry of the provider catalogue.
type ProviderConfig struct {
	ID        string `yaml:"id"`
	Kind      string `yaml:"kind"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	// APIKey is resolved from APIKeyEnv at load time.
	APIKey string `yaml:"-"`

	// MonthlyLimit is the request budget; nil with Unlimited false means
	// the quota manager's default.
	MonthlyLimit *int `yaml:"monthly_limit"`
	Unlimited    bool `yaml:"unlimited"`

	RequestsPerMinute int     `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
	Confidence        float64 `yaml:"confidence"`
	PageSize          int     `yaml:"page_size"`
	MaxPages          int     `yaml:"max_pages"`
}

type catalogue struct {
	Providers []ProviderConfig `yaml:"providers"`
}

func intPtr(v int) *int { return &v }

// DefaultProviders is the catalogue used when no providers file exists.
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{ID: "rentcast", Kind: "rentcast", APIKeyEnv: "RENTCAST_API_KEY", MonthlyLimit: intPtr(50),
			RequestsPerMinute: 60, Burst: 1, Confidence: 0.9, PageSize: 100, MaxPages: 2},
		{ID: "zillow", Kind: "zillow", MonthlyLimit: intPtr(100),
			RequestsPerMinute: 10, Burst: 1, Confidence: 0.8, MaxPages: 2},
		{ID: "rentspider", Kind: "rentspider", APIKeyEnv: "RENTSPIDER_API_KEY", MonthlyLimit: intPtr(1000),
			RequestsPerMinute: 60, Burst: 1, Confidence: 0.7, PageSize: 50},
		{ID: "demo", Kind: "demo", Unlimited: true, Confidence: 0.3},
	}
}

// LoadProviders reads the YAML catalogue at path. A missing file yields the
// default catalogue.
func LoadProviders(path string) ([]ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("[config] No providers file at %s, using built-in catalogue", path)
		return resolveKeys(DefaultProviders()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read providers: %w", err)
	}

	var cat catalogue
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("config: parse providers %s: %w", path, err)
	}
	if err := validateProviders(cat.Providers); err != nil {
		return nil, fmt.Errorf("config: invalid providers %s: %w", path, err)
	}
	return resolveKeys(cat.Providers), nil
}

func validateProviders(list []ProviderConfig) error {
	if len(list) == 0 {
		return errors.New("no providers defined")
	}
	seen := make(map[string]bool, len(list))
	for _, p := range list {
		if p.ID == "" {
			return errors.New("provider id is required")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
		if _, err := providers.ParseKind(p.Kind); err != nil {
			return fmt.Errorf("provider %q: %w", p.ID, err)
		}
		if p.MonthlyLimit != nil && *p.MonthlyLimit < 0 {
			return fmt.Errorf("provider %q: monthly limit must be non-negative", p.ID)
		}
		if p.Confidence < 0 || p.Confidence > 1 {
			return fmt.Errorf("provider %q: confidence must be within [0,1]", p.ID)
		}
		if p.RequestsPerMinute < 0 || p.Burst < 0 {
			return fmt.Errorf("provider %q: rate limit must be non-negative", p.ID)
		}
	}
	return nil
}

func resolveKeys(list []ProviderConfig) []ProviderConfig {
	out := make([]ProviderConfig, len(list))
	for i, p := range list {
		if p.APIKeyEnv != "" {
			p.APIKey = os.Getenv(p.APIKeyEnv)
		}
		out[i] = p
	}
	return out
}

// ProviderSettings converts the catalogue to provider settings.
func (c *Config) ProviderSettings() []providers.Settings {
	out := make([]providers.Settings, 0, len(c.Providers))
	for _, p := range c.Providers {
		kind, _ := providers.ParseKind(p.Kind)
		out = append(out, providers.Settings{
			ID:         p.ID,
			Kind:       kind,
			BaseURL:    p.BaseURL,
			APIKey:     p.APIKey,
			PageSize:   p.PageSize,
			MaxPages:   p.MaxPages,
			Confidence: p.Confidence,
		})
	}
	return out
}

// QuotaLimits returns the monthly budgets the catalogue sets. Sources with
// neither a limit nor Unlimited are left to the manager's default.
func (c *Config) QuotaLimits() quota.Limits {
	limits := make(quota.Limits, len(c.Providers))
	for _, p := range c.Providers {
		switch {
		case p.Unlimited:
			limits[p.ID] = nil
		case p.MonthlyLimit != nil:
			limits[p.ID] = intPtr(*p.MonthlyLimit)
		}
	}
	return limits
}

// RateRules returns the pacing rules the catalogue sets.
func (c *Config) RateRules() map[string]ratelimit.Rule {
	rules := make(map[string]ratelimit.Rule, len(c.Providers))
	for _, p := range c.Providers {
		if p.RequestsPerMinute > 0 {
			rules[p.ID] = ratelimit.Rule{RequestsPerMinute: p.RequestsPerMinute, Burst: p.Burst}
		}
	}
	return rules
}
