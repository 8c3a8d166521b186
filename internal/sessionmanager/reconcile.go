package sessionmanager

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/pilab-dev/oauthdirac/internal/federation"
	"github.com/pilab-dev/oauthdirac/internal/notify"
	"github.com/pilab-dev/oauthdirac/internal/proxyprovider"
	"github.com/rs/zerolog/log"
)

// reconcile maps the identity of a top level session onto the directory.
func (m *Manager) reconcile(ctx context.Context, sess *domain.Session, profile *domain.UserProfile) (*ParseResult, error) {
	user, err := m.lookupUser(ctx, profile)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return m.finishUnknown(ctx, sess, profile)
	}

	if pp := m.proxyProviderFor(profile); pp != nil {
		res, err := m.resolveDN(ctx, sess, profile, user, pp)
		if err != nil || res != nil {
			return res, err
		}
	}
	return m.finishKnown(ctx, sess, profile, user)
}

// resolveDN completes profile with the DN the proxy provider issues for the
// user. Without a usable reserved session a nested flow is started and its
// redirect returned.
func (m *Manager) resolveDN(ctx context.Context, sess *domain.Session, profile *domain.UserProfile, user *domain.LocalUser, pp *proxyprovider.Provider) (*ParseResult, error) {
	idp := proxyIdP(pp, sess.Provider)
	reserved, err := m.findReserved(ctx, idp, user, profile)
	if err != nil {
		return nil, err
	}
	if reserved != nil {
		dn, err := m.reservedDN(ctx, pp, reserved)
		if err == nil {
			profile.DNs = domain.Union(profile.DNs, []string{dn})
			_, err = m.store.UpdateSession(ctx, sess.ID, domain.SessionUpdate{UserDN: &dn, Profile: profile})
			return nil, err
		}
		log.Warn().Ctx(ctx).Err(err).Str("session", reserved.ID).Str("proxy_provider", pp.Name()).
			Msg("Reserved session cannot obtain a proxy, logging it out")
		if lerr := m.logOut(ctx, reserved.ID); lerr != nil {
			log.Error().Ctx(ctx).Err(lerr).Str("session", reserved.ID).Msg("Failed to log out reserved session")
		}
	}
	return m.redirectToChild(ctx, sess, profile, idp)
}

// reservedDN asks the proxy provider for the DN behind a reserved session.
// A failed request is retried once after refreshing the session tokens.
func (m *Manager) reservedDN(ctx context.Context, pp *proxyprovider.Provider, reserved *domain.Session) (string, error) {
	dn, err := pp.GetUserDN(ctx, reserved.Provider, reserved.Tokens)
	if err == nil {
		return dn, nil
	}
	log.Info().Ctx(ctx).Err(err).Str("session", reserved.ID).Msg("Proxy request failed, refreshing reserved session")
	refreshed, rerr := m.refresh(ctx, reserved.ID)
	if rerr != nil {
		return "", errors.Join(err, rerr)
	}
	return pp.GetUserDN(ctx, refreshed.Provider, refreshed.Tokens)
}

func (m *Manager) redirectToChild(ctx context.Context, parent *domain.Session, profile *domain.UserProfile, idp string) (*ParseResult, error) {
	p, err := m.providers.Get(ctx, idp)
	if err != nil {
		return nil, err
	}
	childID, err := m.store.CreateChildSession(ctx, idp, parent.ID)
	if err != nil {
		return nil, err
	}
	url, err := p.BuildAuthURL(childID, federation.WithPrompt("consent"))
	if err != nil {
		return nil, err
	}
	if _, err := m.store.UpdateSession(ctx, childID, domain.SessionUpdate{Comment: &url}); err != nil {
		return nil, err
	}
	redirect := domain.StatusRedirect
	if _, err := m.store.UpdateSession(ctx, parent.ID, domain.SessionUpdate{Status: &redirect, Comment: &url}); err != nil {
		return nil, err
	}
	log.Info().Ctx(ctx).Str("session", parent.ID).Str("child", childID).Str("provider", idp).
		Msg("Standing session required, redirecting to nested flow")
	return &ParseResult{Status: domain.StatusRedirect, Comment: url, URL: url, UserProfile: profile}, nil
}

// finishChild completes a nested reservation flow. The child becomes (or
// refreshes) the standing session of its identity, the DN it yields is added
// to the parent's snapshot and the parent is finalized.
func (m *Manager) finishChild(ctx context.Context, child *domain.Session, tokens *domain.TokenBundle, profile *domain.UserProfile) (*ParseResult, error) {
	parent, err := m.store.GetSession(ctx, child.ParentSessionID)
	if err != nil {
		return nil, fmt.Errorf("parent of nested flow: %w", err)
	}

	standing, err := m.reserve(ctx, child, tokens)
	if err != nil {
		return nil, err
	}

	base := parent.Profile
	if base == nil {
		base = &domain.UserProfile{ExternalUserID: parent.ExternalUserID, Provider: parent.Provider}
	}
	additions := profile.Clone()
	var dn string
	if pp := m.proxyProviderFor(base); pp != nil {
		dn, err = pp.GetUserDN(ctx, standing.Provider, standing.Tokens)
		if err != nil {
			return nil, err
		}
		additions.DNs = domain.Union(additions.DNs, []string{dn})
		if _, err := m.store.UpdateSession(ctx, standing.ID, domain.SessionUpdate{UserDN: &dn}); err != nil {
			return nil, err
		}
	}
	merged := domain.MergeProfiles(base, additions)

	upd := domain.SessionUpdate{Profile: merged}
	if dn != "" {
		upd.UserDN = &dn
	}
	if parent, err = m.store.UpdateSession(ctx, parent.ID, upd); err != nil {
		return nil, err
	}
	m.updateProfile(ctx, standing.ExternalUserID)

	user, err := m.lookupUser(ctx, merged)
	if err != nil {
		return nil, err
	}
	var res *ParseResult
	if user == nil {
		res, err = m.finishUnknown(ctx, parent, merged)
	} else {
		res, err = m.finishKnown(ctx, parent, merged, user)
	}
	if err != nil {
		return nil, err
	}
	res.Session = parent.ID
	return res, nil
}

// reserve turns child into the standing session of its identity. When one
// already exists the fresh tokens are moved onto it and child is dropped.
func (m *Manager) reserve(ctx context.Context, child *domain.Session, tokens *domain.TokenBundle) (*domain.Session, error) {
	existing, err := m.store.FindReservedSession(ctx, child.ExternalUserID, child.Provider)
	if err != nil {
		return nil, err
	}
	if existing != "" && existing != child.ID {
		standing, err := m.store.UpdateSession(ctx, existing, domain.SessionUpdate{Tokens: tokens})
		if err != nil {
			return nil, err
		}
		if err := m.store.KillSession(ctx, child.ID); err != nil {
			return nil, err
		}
		log.Info().Ctx(ctx).Str("session", existing).Str("child", child.ID).Msg("Standing session refreshed from nested flow")
		return standing, nil
	}

	status := domain.StatusReserved
	reserved := true
	return m.store.UpdateSession(ctx, child.ID, domain.SessionUpdate{Status: &status, Reserved: &reserved})
}

// finishUnknown handles identities the directory does not know. Without
// groups or a DN the user can only be a visitor; otherwise the
// administrators are asked to register them.
func (m *Manager) finishUnknown(ctx context.Context, sess *domain.Session, profile *domain.UserProfile) (*ParseResult, error) {
	status := domain.StatusVisitor
	var comment string
	switch {
	case len(profile.Groups) == 0:
		comment = "No groups found for this identity"
	case len(profile.DNs) == 0:
		comment = "No DN found for this identity"
	default:
		status = domain.StatusAuthedAndNotify
		comment = "Administrators were asked to register the user"
	}
	comment = withNoSupportNote(comment, profile)

	if _, err := m.store.UpdateSession(ctx, sess.ID, domain.SessionUpdate{Status: &status, Comment: &comment, Profile: profile}); err != nil {
		return nil, err
	}
	if status == domain.StatusAuthedAndNotify {
		m.notifyAdmins(ctx, notify.Notification{
			Kind:      notify.KindNewUser,
			SessionID: sess.ID,
			Provider:  sess.Provider,
			UserName:  profile.UserName,
			Profile:   profile,
		})
	}
	m.updateProfile(ctx, sess.ExternalUserID)
	return &ParseResult{Status: status, Comment: comment, UserProfile: profile}, nil
}

// finishKnown compares the candidate profile with the directory record, which
// stays authoritative: additions are merged when auto merge is on and
// reported otherwise.
func (m *Manager) finishKnown(ctx context.Context, sess *domain.Session, profile *domain.UserProfile, user *domain.LocalUser) (*ParseResult, error) {
	status := domain.StatusAuthed
	var comment string

	changes := user.Diff(profile)
	if !changes.Empty() {
		kind := notify.KindReported
		status = domain.StatusAuthedAndReported
		comment = "Profile differs from the registered user, administrators were notified"
		if m.cfg.AutoMerge {
			err := m.directory.MergeUser(ctx, user.Name, changes)
			switch {
			case err == nil:
				kind = notify.KindMerged
				status = domain.StatusAuthed
				comment = "Profile merged into the registered user"
			case errors.Is(err, domain.ErrDirectoryReadOnly):
				log.Info().Ctx(ctx).Str("user", user.Name).Msg("Directory is read-only, reporting profile changes")
			default:
				return nil, err
			}
		}
		m.notifyAdmins(ctx, notify.Notification{
			Kind:      kind,
			SessionID: sess.ID,
			Provider:  sess.Provider,
			UserName:  user.Name,
			Profile:   profile,
			Changes:   &changes,
		})
	}
	comment = withNoSupportNote(comment, profile)

	name := user.Name
	upd := domain.SessionUpdate{Status: &status, Comment: &comment, UserName: &name, Profile: profile}
	if _, err := m.store.UpdateSession(ctx, sess.ID, upd); err != nil {
		return nil, err
	}
	m.updateProfile(ctx, sess.ExternalUserID)
	return &ParseResult{Status: status, Comment: comment, UserProfile: profile}, nil
}

// lookupUser finds the local user by external ID, falling back to the DNs of
// the profile. A nil user without error means the identity is unknown.
func (m *Manager) lookupUser(ctx context.Context, profile *domain.UserProfile) (*domain.LocalUser, error) {
	user, err := m.directory.FindByExternalID(ctx, profile.Provider, profile.ExternalUserID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}
	for _, dn := range profile.DNs {
		user, err = m.directory.FindByDN(ctx, dn)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, domain.ErrUserNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// findReserved returns the standing session of the user at idp, if any.
func (m *Manager) findReserved(ctx context.Context, idp string, user *domain.LocalUser, profile *domain.UserProfile) (*domain.Session, error) {
	subs := user.ExternalIDs[idp]
	if profile.Provider == idp {
		subs = domain.Union([]string{profile.ExternalUserID}, subs)
	}
	for _, sub := range subs {
		id, err := m.store.FindReservedSession(ctx, sub, idp)
		if err != nil {
			return nil, err
		}
		if id == "" {
			continue
		}
		sess, err := m.store.GetSession(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrSessionNotFound) {
				continue
			}
			return nil, err
		}
		return sess, nil
	}
	return nil, nil
}

func (m *Manager) proxyProviderFor(profile *domain.UserProfile) *proxyprovider.Provider {
	for _, name := range profile.ProxyProviders {
		if pp, ok := m.proxies[name]; ok {
			return pp
		}
		log.Warn().Str("proxy_provider", name).Msg("Unknown proxy provider referenced by identity provider")
	}
	return nil
}

func proxyIdP(pp *proxyprovider.Provider, fallback string) string {
	if idps := pp.IdProviders(); len(idps) > 0 {
		return idps[0]
	}
	return fallback
}

func (m *Manager) notifyAdmins(ctx context.Context, n notify.Notification) {
	if err := m.notifier.Notify(ctx, n); err != nil {
		log.Error().Ctx(ctx).Err(err).Str("session", n.SessionID).Msg("Failed to notify administrators")
	}
}

func withNoSupportNote(comment string, profile *domain.UserProfile) string {
	if len(profile.NoSupport) == 0 {
		return comment
	}
	note := "Unsupported VOMS entries: " + strings.Join(profile.NoSupport, ", ")
	if comment == "" {
		return note
	}
	return comment + ". " + note
}
