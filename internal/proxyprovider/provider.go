// Package proxyprovider obtains X.509 proxies from an OAuth protected proxy
// issuing endpoint using the standing sessions of a user.
package proxyprovider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pilab-dev/oauthdirac/cache"
	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/pilab-dev/oauthdirac/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	DefaultProxyLifetime      = 24 * time.Hour
	DefaultFreshnessThreshold = 12 * time.Hour
	DefaultHTTPTimeout        = 30 * time.Second
)

// Config describes one proxy provider.
type Config struct {
	Name             string        `mapstructure:"name"`
	IdProviders      []string      `mapstructure:"id_providers"`
	GetProxyEndpoint string        `mapstructure:"get_proxy_endpoint"`
	MaxProxyLifetime time.Duration `mapstructure:"max_proxy_lifetime"`
}

// Sessions is what the provider needs from the session manager.
type Sessions interface {
	// ReadySessions returns the reserved sessions that may be used to
	// request a proxy for dn at one of the given identity providers.
	ReadySessions(ctx context.Context, dn string, idProviders []string) ([]*domain.Session, error)
	// RefreshSession refreshes the tokens of a session and returns it.
	RefreshSession(ctx context.Context, id string) (*domain.Session, error)
	// LogOutSession revokes the tokens of a session and deletes it.
	LogOutSession(ctx context.Context, id string) error
}

// IdPConfigs resolves the identity provider configuration whose client
// credentials accompany a proxy request.
type IdPConfigs interface {
	Config(name string) (*domain.IdentityProvider, error)
}

// Provider requests proxies from one proxy issuing endpoint.
type Provider struct {
	cfg        Config
	idps       IdPConfigs
	proxies    cache.ProxyCache
	httpClient *http.Client
	freshness  time.Duration
	now        func() time.Time
}

// Option configures a Provider.
type Option func(*Provider)

func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithFreshnessThreshold sets the remaining lifetime a cached proxy needs to
// be handed out again.
func WithFreshnessThreshold(d time.Duration) Option {
	return func(p *Provider) { p.freshness = d }
}

func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// New creates a provider. proxies may be nil to disable caching.
func New(cfg Config, idps IdPConfigs, proxies cache.ProxyCache, opts ...Option) (*Provider, error) {
	if cfg.Name == "" || cfg.GetProxyEndpoint == "" {
		return nil, fmt.Errorf("%w: name and get_proxy_endpoint are required", ErrMisconfigured)
	}
	if cfg.MaxProxyLifetime <= 0 {
		cfg.MaxProxyLifetime = DefaultProxyLifetime
	}
	p := &Provider{
		cfg:        cfg,
		idps:       idps,
		proxies:    proxies,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		freshness:  DefaultFreshnessThreshold,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Provider) Name() string { return p.cfg.Name }

// IdProviders lists the identity providers whose sessions this provider uses.
func (p *Provider) IdProviders() []string { return p.cfg.IdProviders }

// CheckStatus tells whether a session can be used for proxy requests as is.
func (p *Provider) CheckStatus(s *domain.Session) domain.SessionStatus {
	if s == nil || !s.Reserved || s.Tokens.Expired(p.now()) {
		return domain.StatusNeedToAuth
	}
	return domain.StatusReady
}

// StatusForDN reports ready when at least one session for dn is usable.
func (p *Provider) StatusForDN(ctx context.Context, sessions Sessions, dn string) (domain.SessionStatus, error) {
	ready, err := sessions.ReadySessions(ctx, dn, p.cfg.IdProviders)
	if err != nil {
		return domain.StatusUnknown, err
	}
	for _, s := range ready {
		if p.CheckStatus(s) == domain.StatusReady {
			return domain.StatusReady, nil
		}
	}
	return domain.StatusNeedToAuth, nil
}

// GetProxy returns a proxy for dn. A cached proxy with more than the
// freshness threshold left is reused; otherwise the ready sessions are tried
// in turn. A failing session gets one refresh and one more request before it
// is logged out and the next one is tried.
func (p *Provider) GetProxy(ctx context.Context, sessions Sessions, dn string, lifetime time.Duration) (*domain.Proxy, error) {
	if cached := p.cached(ctx, dn); cached != nil {
		metrics.ProxyRequestsTotal.WithLabelValues(p.cfg.Name, "cached").Inc()
		return cached, nil
	}

	ready, err := sessions.ReadySessions(ctx, dn, p.cfg.IdProviders)
	if err != nil {
		return nil, err
	}

	var text string
	var errs []error
	for _, s := range ready {
		logger := log.With().Str("proxy_provider", p.cfg.Name).Str("session", s.ID).Logger()

		text, err = p.request(ctx, s.Provider, s.Tokens, lifetime)
		if err == nil {
			break
		}
		logger.Warn().Err(err).Msg("Proxy request failed, refreshing session")
		errs = append(errs, err)

		refreshed, rerr := sessions.RefreshSession(ctx, s.ID)
		if rerr != nil {
			logger.Error().Err(rerr).Msg("Session refresh failed")
			errs = append(errs, rerr)
			continue
		}
		text, err = p.request(ctx, refreshed.Provider, refreshed.Tokens, lifetime)
		if err == nil {
			break
		}
		logger.Error().Err(err).Msg("Proxy request failed after refresh, logging session out")
		errs = append(errs, err)
		if lerr := sessions.LogOutSession(ctx, s.ID); lerr != nil {
			logger.Error().Err(lerr).Msg("Failed to log out session")
		}
	}
	if text == "" {
		metrics.ProxyRequestsTotal.WithLabelValues(p.cfg.Name, "no_session").Inc()
		return nil, errors.Join(append([]error{ErrNoReadySession}, errs...)...)
	}

	proxy, err := ParseProxy(text)
	if err != nil {
		metrics.ProxyRequestsTotal.WithLabelValues(p.cfg.Name, "malformed").Inc()
		return nil, err
	}
	if proxy.DN != dn {
		metrics.ProxyRequestsTotal.WithLabelValues(p.cfg.Name, "dn_mismatch").Inc()
		return nil, fmt.Errorf("%w: got %q, want %q", ErrDNMismatch, proxy.DN, dn)
	}
	p.store(ctx, proxy)
	metrics.ProxyRequestsTotal.WithLabelValues(p.cfg.Name, "issued").Inc()
	log.Info().Ctx(ctx).Str("proxy_provider", p.cfg.Name).Str("dn", dn).Time("expires_at", proxy.ExpiresAt).Msg("Proxy issued")
	return proxy, nil
}

// GetUserDN requests a proxy with the tokens of an identity provider session
// and returns the identity DN it was issued for.
func (p *Provider) GetUserDN(ctx context.Context, provider string, tokens domain.TokenSet) (string, error) {
	text, err := p.request(ctx, provider, tokens, p.cfg.MaxProxyLifetime)
	if err != nil {
		metrics.ProxyRequestsTotal.WithLabelValues(p.cfg.Name, "failed").Inc()
		return "", err
	}
	proxy, err := ParseProxy(text)
	if err != nil {
		return "", err
	}
	p.store(ctx, proxy)
	metrics.ProxyRequestsTotal.WithLabelValues(p.cfg.Name, "issued").Inc()
	return proxy.DN, nil
}

func (p *Provider) cached(ctx context.Context, dn string) *domain.Proxy {
	if p.proxies == nil {
		return nil
	}
	proxy, ok, err := p.proxies.GetProxy(ctx, dn)
	if err != nil {
		log.Warn().Ctx(ctx).Err(err).Str("dn", dn).Msg("Proxy cache lookup failed")
		return nil
	}
	if !ok || proxy.Remaining(p.now()) <= p.freshness {
		return nil
	}
	return proxy
}

func (p *Provider) store(ctx context.Context, proxy *domain.Proxy) {
	if p.proxies == nil {
		return
	}
	if err := p.proxies.SetProxy(ctx, proxy); err != nil {
		log.Warn().Ctx(ctx).Err(err).Str("dn", proxy.DN).Msg("Failed to cache proxy")
	}
}

func (p *Provider) request(ctx context.Context, provider string, tokens domain.TokenSet, lifetime time.Duration) (string, error) {
	if tokens.AccessToken == "" {
		return "", fmt.Errorf("%w: session has no access token", ErrProxyRequestFailed)
	}
	if lifetime <= 0 || lifetime > p.cfg.MaxProxyLifetime {
		lifetime = p.cfg.MaxProxyLifetime
	}

	query := url.Values{}
	query.Set("access_token", tokens.AccessToken)
	query.Set("access_type", "offline")
	query.Set("proxylifetime", strconv.FormatInt(int64(lifetime/time.Second), 10))
	if p.idps != nil {
		idp, err := p.idps.Config(provider)
		if err != nil {
			return "", err
		}
		query.Set("client_id", idp.ClientID)
		query.Set("client_secret", idp.ClientSecret)
	}

	endpoint := p.cfg.GetProxyEndpoint
	if strings.Contains(endpoint, "?") {
		endpoint += "&" + query.Encode()
	} else {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMisconfigured, err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProxyRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrProxyRequestFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d: %s", ErrProxyRequestFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if len(body) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrMalformedProxy)
	}
	return string(body), nil
}
