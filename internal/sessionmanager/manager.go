// Package sessionmanager drives authentication sessions from the first
// authorization URL to a reconciled local identity.
package sessionmanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pilab-dev/oauthdirac/cache"
	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/pilab-dev/oauthdirac/internal/audit"
	"github.com/pilab-dev/oauthdirac/internal/federation"
	"github.com/pilab-dev/oauthdirac/internal/metrics"
	"github.com/pilab-dev/oauthdirac/internal/notify"
	"github.com/pilab-dev/oauthdirac/internal/proxyprovider"
	"github.com/pilab-dev/oauthdirac/internal/store"
	"github.com/rs/zerolog/log"
)

// Config holds the timing knobs of the manager.
type Config struct {
	// LinkLifetime is how long a prepared session's authorization link is
	// handed out.
	LinkLifetime time.Duration `mapstructure:"link_lifetime"`
	// ZombieThreshold is the idle time after which non-reserved sessions
	// are swept.
	ZombieThreshold time.Duration `mapstructure:"zombie_threshold"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	ProfileTTL      time.Duration `mapstructure:"profile_ttl"`
	// AutoMerge writes profile additions of known users to the directory
	// instead of only reporting them.
	AutoMerge bool `mapstructure:"auto_merge"`
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		LinkLifetime:    300 * time.Second,
		ZombieThreshold: 12 * time.Hour,
		SweepInterval:   time.Hour,
		RefreshInterval: 15 * time.Minute,
		ProfileTTL:      cache.DefaultProfileTTL,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LinkLifetime <= 0 {
		c.LinkLifetime = d.LinkLifetime
	}
	if c.ZombieThreshold <= 0 {
		c.ZombieThreshold = d.ZombieThreshold
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = d.RefreshInterval
	}
	if c.ProfileTTL <= 0 {
		c.ProfileTTL = d.ProfileTTL
	}
	return c
}

// Providers resolves identity providers by name. *federation.Registry
// implements it.
type Providers interface {
	Get(ctx context.Context, name string) (federation.Provider, error)
	Config(name string) (*domain.IdentityProvider, error)
}

// Manager is the session manager service.
type Manager struct {
	cfg       Config
	store     *store.Store
	providers Providers
	directory domain.UserDirectory
	notifier  notify.Notifier
	proxies   map[string]*proxyprovider.Provider
	profiles  *cache.ProfileCache
	audit     *audit.Logger
}

// Option configures a Manager.
type Option func(*Manager)

func WithConfig(cfg Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// WithAuditLog sets where session and proxy events are audited.
func WithAuditLog(l *audit.Logger) Option {
	return func(m *Manager) { m.audit = l }
}

// WithProxyProvider registers a proxy provider under its name.
func WithProxyProvider(p *proxyprovider.Provider) Option {
	return func(m *Manager) { m.proxies[p.Name()] = p }
}

// New creates a manager. A nil notifier logs notifications.
func New(st *store.Store, providers Providers, directory domain.UserDirectory, notifier notify.Notifier, opts ...Option) *Manager {
	m := &Manager{
		cfg:       DefaultConfig(),
		store:     st,
		providers: providers,
		directory: directory,
		notifier:  notifier,
		proxies:   make(map[string]*proxyprovider.Provider),
		audit:     audit.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cfg = m.cfg.withDefaults()
	if m.notifier == nil {
		m.notifier = notify.LogNotifier{}
	}
	m.profiles = cache.NewProfileCache(st, m.cfg.ProfileTTL)
	return m
}

// Close releases the caches.
func (m *Manager) Close() {
	m.profiles.Close()
}

// CreateNewSession creates an empty prepared session for provider, with the
// given ID when one is passed.
func (m *Manager) CreateNewSession(ctx context.Context, caller *domain.Caller, provider, sessionID string) (string, error) {
	if caller == nil {
		return "", domain.ErrForbidden
	}
	if _, err := m.providers.Config(provider); err != nil {
		return "", err
	}
	return m.store.CreateSession(ctx, provider, sessionID)
}

// UpdateSession applies a partial update on behalf of the session owner.
// Fields binding the session to an identity, or exempting it from the sweep,
// can only be changed by trusted hosts.
func (m *Manager) UpdateSession(ctx context.Context, caller *domain.Caller, id string, upd domain.SessionUpdate) (*domain.Session, error) {
	if err := m.checkAuth(ctx, caller, id, true); err != nil {
		return nil, err
	}
	if !caller.TrustedHost && upd.BindsIdentity() {
		log.Warn().Ctx(ctx).Str("session", id).Str("caller", caller.UserName).
			Msg("Refusing identity update from an untrusted caller")
		return nil, fmt.Errorf("%w: only trusted hosts may change the identity or reservation of a session", domain.ErrForbidden)
	}
	sess, err := m.store.UpdateSession(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	m.updateProfile(ctx, sess.ExternalUserID)
	return sess, nil
}

// KillSession deletes a session without revoking its tokens.
func (m *Manager) KillSession(ctx context.Context, caller *domain.Caller, id string) error {
	if err := m.checkAuth(ctx, caller, id, false); err != nil {
		return err
	}
	err := m.kill(ctx, id)
	m.audit.Record(ctx, audit.Event{Action: audit.ActionKill, Caller: caller, Session: id, Err: err})
	return err
}

// LogOutSession revokes the tokens of a session and deletes it.
func (m *Manager) LogOutSession(ctx context.Context, caller *domain.Caller, id string) error {
	if err := m.checkAuth(ctx, caller, id, true); err != nil {
		return err
	}
	err := m.logOut(ctx, id)
	m.audit.Record(ctx, audit.Event{Action: audit.ActionLogout, Caller: caller, Session: id, Err: err})
	return err
}

// GetSessionAuthLink returns the authorization URL of a session that is still
// prepared and younger than the link lifetime.
func (m *Manager) GetSessionAuthLink(ctx context.Context, caller *domain.Caller, id string) (string, error) {
	if err := m.checkAuth(ctx, caller, id, false); err != nil {
		return "", err
	}
	sess, err := m.authLink(ctx, id)
	if err != nil {
		return "", err
	}
	return sess.Comment, nil
}

// OpenSessionAuthLink is called when the browser follows the bridge's own
// link: the URL is returned once and the session moves to in progress.
func (m *Manager) OpenSessionAuthLink(ctx context.Context, id string) (string, error) {
	sess, err := m.authLink(ctx, id)
	if err != nil {
		return "", err
	}
	if _, err := m.store.TransitionStatus(ctx, id, []domain.SessionStatus{domain.StatusPrepared}, domain.StatusInProgress); err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			return "", domain.ErrLinkExpired
		}
		return "", err
	}
	return sess.Comment, nil
}

func (m *Manager) authLink(ctx context.Context, id string) (*domain.Session, error) {
	sess, err := m.store.GetFields(ctx, id, domain.FieldStatus, domain.FieldComment, domain.FieldCreatedAt)
	if err != nil {
		return nil, err
	}
	if sess.Status != domain.StatusPrepared || m.store.Now().Sub(sess.CreatedAt) > m.cfg.LinkLifetime || sess.Comment == "" {
		return nil, domain.ErrLinkExpired
	}
	return sess, nil
}

// GetSessionStatus returns the public part of a session.
func (m *Manager) GetSessionStatus(ctx context.Context, caller *domain.Caller, id string) (*domain.Session, error) {
	if err := m.checkAuth(ctx, caller, id, false); err != nil {
		return nil, err
	}
	return m.store.GetFields(ctx, id,
		domain.FieldProvider, domain.FieldStatus, domain.FieldComment, domain.FieldUserName,
		domain.FieldUserDN, domain.FieldReserved, domain.FieldParentSessionID,
		domain.FieldCreatedAt, domain.FieldLastAccess)
}

// GetSessionTokens returns the tokens of a session, refreshing them first
// when the access token expired and a refresh token is available.
func (m *Manager) GetSessionTokens(ctx context.Context, caller *domain.Caller, id string) (domain.TokenSet, error) {
	if err := m.checkAuth(ctx, caller, id, true); err != nil {
		return domain.TokenSet{}, err
	}
	sess, err := m.store.GetFields(ctx, id, domain.FieldProvider, domain.FieldTokens)
	if err != nil {
		return domain.TokenSet{}, err
	}
	if sess.Tokens.Expired(m.store.Now()) && sess.Tokens.RefreshToken != "" {
		refreshed, err := m.refresh(ctx, id)
		if err != nil {
			return domain.TokenSet{}, err
		}
		return refreshed.Tokens, nil
	}
	return sess.Tokens, nil
}

// GetUserNameForSession returns the local user name resolved for a session.
func (m *Manager) GetUserNameForSession(ctx context.Context, caller *domain.Caller, id string) (string, error) {
	if err := m.checkAuth(ctx, caller, id, false); err != nil {
		return "", err
	}
	sess, err := m.store.GetFields(ctx, id, domain.FieldUserName)
	if err != nil {
		return "", err
	}
	return sess.UserName, nil
}

// GetIdProfiles returns the cached profiles keyed by external ID. Trusted
// hosts see every profile, optionally narrowed to userName; other callers see
// only their own.
func (m *Manager) GetIdProfiles(ctx context.Context, caller *domain.Caller, userName string) (map[string]*domain.Profile, error) {
	if caller == nil {
		return nil, domain.ErrForbidden
	}
	if m.profiles.Len() == 0 {
		if err := m.profiles.Refresh(ctx); err != nil {
			return nil, err
		}
	}
	out := make(map[string]*domain.Profile)
	for id, p := range m.profiles.Snapshot() {
		if !caller.TrustedHost && !p.OwnedBy(caller.UserName, caller.DN) {
			continue
		}
		if userName != "" && p.UserName != userName {
			continue
		}
		out[id] = p
	}
	return out, nil
}

// RefreshProfiles rebuilds the profile cache from the store.
func (m *Manager) RefreshProfiles(ctx context.Context) error {
	return m.profiles.Refresh(ctx)
}

func (m *Manager) refresh(ctx context.Context, id string) (*domain.Session, error) {
	sess, err := m.store.GetFields(ctx, id, domain.FieldProvider, domain.FieldTokens)
	if err != nil {
		return nil, err
	}
	if sess.Tokens.RefreshToken == "" {
		return nil, fmt.Errorf("%w: session %s has no refresh token", federation.ErrMissingGrantInput, id)
	}
	p, err := m.providers.Get(ctx, sess.Provider)
	if err != nil {
		return nil, err
	}
	bundle, err := p.RefreshTokens(ctx, sess.Tokens.RefreshToken)
	if err != nil {
		metrics.TokenRefreshTotal.WithLabelValues(sess.Provider, "failed").Inc()
		return nil, err
	}
	metrics.TokenRefreshTotal.WithLabelValues(sess.Provider, "refreshed").Inc()
	return m.store.UpdateSession(ctx, id, domain.SessionUpdate{Tokens: bundle})
}

func (m *Manager) kill(ctx context.Context, id string) error {
	sess, err := m.store.GetFields(ctx, id, domain.FieldExternalUserID)
	if err != nil {
		return err
	}
	if err := m.store.KillSession(ctx, id); err != nil {
		return err
	}
	m.updateProfile(ctx, sess.ExternalUserID)
	return nil
}

func (m *Manager) logOut(ctx context.Context, id string) error {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	m.revoke(ctx, sess)
	return m.kill(ctx, id)
}

// revoke is best effort; failures are logged and never retried.
func (m *Manager) revoke(ctx context.Context, sess *domain.Session) {
	if sess.Tokens.AccessToken == "" && sess.Tokens.RefreshToken == "" {
		return
	}
	p, err := m.providers.Get(ctx, sess.Provider)
	if err != nil {
		log.Warn().Ctx(ctx).Err(err).Str("session", sess.ID).Msg("Cannot revoke tokens, provider unavailable")
		return
	}
	if err := p.RevokeTokens(ctx, sess.Tokens); err != nil {
		if errors.Is(err, federation.ErrRevocationUnsupported) {
			log.Debug().Ctx(ctx).Str("session", sess.ID).Str("provider", sess.Provider).Msg("Provider does not support revocation")
			return
		}
		log.Warn().Ctx(ctx).Err(err).Str("session", sess.ID).Msg("Token revocation failed")
	}
}

// updateProfile rebuilds the cached profile of one external identity.
func (m *Manager) updateProfile(ctx context.Context, externalUserID string) {
	if externalUserID == "" {
		return
	}
	sessions, err := m.store.FindSessions(ctx, domain.SessionFilter{ExternalUserID: externalUserID})
	if err != nil {
		log.Warn().Ctx(ctx).Err(err).Str("external_user_id", externalUserID).Msg("Failed to rebuild profile, dropping it from the cache")
		m.profiles.Delete(externalUserID)
		return
	}
	if p, ok := domain.BuildProfiles(sessions)[externalUserID]; ok {
		m.profiles.Set(externalUserID, p)
		return
	}
	m.profiles.Delete(externalUserID)
}
