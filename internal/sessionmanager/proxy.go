package sessionmanager

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/pilab-dev/oauthdirac/internal/audit"
	"github.com/pilab-dev/oauthdirac/internal/proxyprovider"
	"github.com/pilab-dev/oauthdirac/tracing"
	"go.opentelemetry.io/otel/attribute"
)

var ErrUnknownProxyProvider = errors.New("unknown proxy provider")

// ProxyProviders lists the registered proxy provider names.
func (m *Manager) ProxyProviders() []string {
	names := make([]string, 0, len(m.proxies))
	for n := range m.proxies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// GetProxy issues a proxy for dn through the named proxy provider. With an
// empty name the only registered provider is used. Callers other than
// trusted hosts can only obtain proxies for their own DN.
func (m *Manager) GetProxy(ctx context.Context, caller *domain.Caller, provider, dn string, lifetime time.Duration) (*domain.Proxy, error) {
	ctx, span := tracing.Tracer.Start(ctx, "sessionmanager.GetProxy")
	defer span.End()

	if caller == nil || (!caller.TrustedHost && caller.DN != dn) {
		return nil, domain.ErrForbidden
	}
	pp, err := m.proxyProvider(provider)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("proxy_provider", pp.Name()))
	proxy, err := pp.GetProxy(ctx, proxySessions{m}, dn, lifetime)
	m.audit.Record(ctx, audit.Event{Action: audit.ActionProxy, Caller: caller, Provider: pp.Name(), Target: dn, Err: err})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return proxy, nil
}

// ProxyStatus reports whether a proxy can be issued for dn without a new
// authorization.
func (m *Manager) ProxyStatus(ctx context.Context, provider, dn string) (domain.SessionStatus, error) {
	pp, err := m.proxyProvider(provider)
	if err != nil {
		return domain.StatusUnknown, err
	}
	return pp.StatusForDN(ctx, proxySessions{m}, dn)
}

func (m *Manager) proxyProvider(name string) (*proxyprovider.Provider, error) {
	if name == "" && len(m.proxies) == 1 {
		for _, pp := range m.proxies {
			return pp, nil
		}
	}
	pp, ok := m.proxies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProxyProvider, name)
	}
	return pp, nil
}

// readySessions finds the standing sessions usable for dn: the directory
// user owning dn, its identities at the given providers and their reserved
// sessions. Reserved sessions that carry dn themselves are the fallback.
func (m *Manager) readySessions(ctx context.Context, dn string, idProviders []string) ([]*domain.Session, error) {
	var out []*domain.Session
	user, err := m.directory.FindByDN(ctx, dn)
	switch {
	case err == nil:
		for _, idp := range idProviders {
			s, err := m.findReserved(ctx, idp, user, &domain.UserProfile{})
			if err != nil {
				return nil, err
			}
			if s != nil {
				out = append(out, s)
			}
		}
	case !errors.Is(err, domain.ErrUserNotFound):
		return nil, err
	}

	if len(out) == 0 {
		reserved := true
		found, err := m.store.FindSessions(ctx, domain.SessionFilter{UserDN: dn, Reserved: &reserved})
		if err != nil {
			return nil, err
		}
		for _, s := range found {
			if len(idProviders) == 0 || slices.Contains(idProviders, s.Provider) {
				out = append(out, s)
			}
		}
	}

	usable := out[:0]
	for _, s := range out {
		if s.Status == domain.StatusReserved && (s.Tokens.AccessToken != "" || s.Tokens.RefreshToken != "") {
			usable = append(usable, s)
		}
	}
	return usable, nil
}

// proxySessions lets a proxy provider drive sessions without a caller.
type proxySessions struct{ m *Manager }

func (p proxySessions) ReadySessions(ctx context.Context, dn string, idProviders []string) ([]*domain.Session, error) {
	return p.m.readySessions(ctx, dn, idProviders)
}

func (p proxySessions) RefreshSession(ctx context.Context, id string) (*domain.Session, error) {
	return p.m.refresh(ctx, id)
}

func (p proxySessions) LogOutSession(ctx context.Context, id string) error {
	return p.m.logOut(ctx, id)
}

var _ proxyprovider.Sessions = proxySessions{}
