// Package providers fetches raw listings from property data sources.
package providers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"property-collector/models"
	"property-collector/utils"
)

// Provider fetches raw listings for a location.
type Provider interface {
	ID() string
	Kind() Kind
	Fetch(ctx context.Context, loc models.Location) ([]models.RawRecord, error)
}

// Settings configures one provider instance.
type Settings struct {
	ID         string
	Kind       Kind
	BaseURL    string
	APIKey     string
	PageSize   int
	MaxPages   int
	Confidence float64
}

func (s Settings) pageSize(loc models.Location) int {
	if loc.Limit > 0 {
		return loc.Limit
	}
	if s.PageSize > 0 {
		return s.PageSize
	}
	return 100
}

func (s Settings) maxPages() int {
	if s.MaxPages > 0 {
		return s.MaxPages
	}
	return 1
}

// Registry resolves source ids to providers.
type Registry struct {
	providers map[string]Provider
	settings  map[string]Settings
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		settings:  make(map[string]Settings),
	}
}

// Register adds p under its ID. Registering the same id twice is an error.
func (r *Registry) Register(p Provider, s Settings) error {
	if _, dup := r.providers[p.ID()]; dup {
		return fmt.Errorf("providers: duplicate source %q", p.ID())
	}
	s.ID = p.ID()
	s.Kind = p.Kind()
	r.providers[p.ID()] = p
	r.settings[p.ID()] = s
	return nil
}

// Get returns the provider registered as id.
func (r *Registry) Get(id string) (Provider, error) {
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("providers: %q: %w", id, ErrUnknownSource)
	}
	return p, nil
}

// Settings returns the configuration id was registered with.
func (r *Registry) Settings(id string) (Settings, bool) {
	s, ok := r.settings[id]
	return s, ok
}

// IDs returns all registered source ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Deps are the shared collaborators used to build providers.
type Deps struct {
	Gate       *Gate
	HTTPClient *http.Client
	Renderer   PageRenderer
	Logger     *utils.Logger
	Now        func() time.Time
}

// Build creates a Registry from settings. HTTP providers without an API key
// are skipped with a warning, so requesting them later fails as unknown.
func Build(settings []Settings, deps Deps) (*Registry, error) {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	reg := NewRegistry()
	for _, s := range settings {
		var p Provider
		switch s.Kind {
		case KindRentCast:
			if s.APIKey == "" {
				deps.Logger.Warn("[providers] No API key, source disabled", "source", s.ID)
				continue
			}
			p = NewRentCast(s, deps.HTTPClient, deps.Gate)
		case KindRentSpider:
			if s.APIKey == "" {
				deps.Logger.Warn("[providers] No API key, source disabled", "source", s.ID)
				continue
			}
			p = NewRentSpider(s, deps.HTTPClient, deps.Gate)
		case KindZillow:
			if deps.Renderer == nil {
				deps.Logger.Warn("[providers] No page renderer, source disabled", "source", s.ID)
				continue
			}
			p = NewZillow(s, deps.Renderer, deps.Gate)
		case KindDemo:
			p = NewDemo(s.ID, deps.Now)
		default:
			return nil, fmt.Errorf("providers: source %q has unsupported kind %s", s.ID, s.Kind)
		}
		if err := reg.Register(p, s); err != nil {
			return nil, err
		}
		deps.Logger.Info("[providers] Registered source", "source", s.ID, "kind", s.Kind.String())
	}
	return reg, nil
}
