package federation

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Registry builds providers from configuration on first use and keeps them.
type Registry struct {
	mu         sync.Mutex
	building   singleflight.Group
	configs    map[string]*domain.IdentityProvider
	providers  map[string]Provider
	overrides  map[string]domain.ProviderEndpoints
	httpClient *http.Client
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithHTTPClient sets the client used for discovery and provider calls.
func WithHTTPClient(c *http.Client) RegistryOption {
	return func(r *Registry) { r.httpClient = c }
}

// WithEndpointOverrides sets endpoints that win over both configuration and
// discovery, keyed by provider name.
func WithEndpointOverrides(overrides map[string]domain.ProviderEndpoints) RegistryOption {
	return func(r *Registry) { r.overrides = overrides }
}

// NewRegistry creates a registry over the configured providers.
func NewRegistry(configs []*domain.IdentityProvider, opts ...RegistryOption) *Registry {
	r := &Registry{
		configs:    make(map[string]*domain.IdentityProvider, len(configs)),
		providers:  make(map[string]Provider),
		overrides:  map[string]domain.ProviderEndpoints{},
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
	}
	for _, c := range configs {
		r.configs[c.Name] = c
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a ready provider, replacing any configured one of that name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Names lists the known providers.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	for n := range r.configs {
		seen[n] = true
	}
	for n := range r.providers {
		seen[n] = true
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Config returns the configuration of a provider.
func (r *Registry) Config(name string) (*domain.IdentityProvider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return cfg, nil
}

// Get returns the provider called name, building it on first use. Concurrent
// first uses share one build, which runs without holding the registry lock.
// A provider whose discovery failed is handed out but built again next time.
func (r *Registry) Get(ctx context.Context, name string) (Provider, error) {
	r.mu.Lock()
	p, ok := r.providers[name]
	cfg, known := r.configs[name]
	r.mu.Unlock()
	if ok {
		return p, nil
	}
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}

	v, err, _ := r.building.Do(name, func() (any, error) {
		p, complete, err := r.build(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if complete {
			r.mu.Lock()
			if existing, ok := r.providers[name]; ok {
				p = existing
			} else {
				r.providers[name] = p
			}
			r.mu.Unlock()
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Provider), nil
}

// build creates the provider of cfg. complete is false when discovery failed
// and the provider only carries the configured endpoints.
func (r *Registry) build(ctx context.Context, cfg *domain.IdentityProvider) (p Provider, complete bool, err error) {
	switch cfg.Kind {
	case domain.ProviderKindCertificate:
		return NewCertificateProvider(cfg), true, nil
	case domain.ProviderKindOAuth2, "":
		resolved := *cfg
		complete = true
		var discovered domain.ProviderEndpoints
		if cfg.Endpoints.Issuer != "" {
			d, err := Discover(ctx, r.httpClient, cfg.Endpoints.Issuer)
			if err != nil {
				log.Warn().Ctx(ctx).Err(err).Str("provider", cfg.Name).Msg("OIDC discovery failed, using configured endpoints only")
				complete = false
			} else {
				discovered = d
			}
		}
		resolved.Kind = domain.ProviderKindOAuth2
		resolved.Endpoints = Resolve(r.overrides[cfg.Name], discovered, cfg.Endpoints)
		p, err := NewOAuth2Provider(&resolved, r.httpClient)
		if err != nil {
			return nil, false, err
		}
		return p, complete, nil
	default:
		return nil, false, fmt.Errorf("%w: %s has unknown kind %q", ErrProviderMisconfigured, cfg.Name, cfg.Kind)
	}
}
