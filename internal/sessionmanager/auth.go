package sessionmanager

import (
	"context"
	"errors"

	"github.com/pilab-dev/oauthdirac/cache"
	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/rs/zerolog/log"
)

// checkAuth decides whether caller may act on session id. Trusted hosts may
// do anything. A session without a resolved identity only allows operations
// that reveal no secrets. Otherwise the caller's name or DN must be on the
// profile of the session's identity.
func (m *Manager) checkAuth(ctx context.Context, caller *domain.Caller, id string, secret bool) error {
	if caller == nil {
		return domain.ErrForbidden
	}
	if caller.TrustedHost {
		return nil
	}

	sess, err := m.store.GetFields(ctx, id, domain.FieldExternalUserID)
	if err != nil {
		return err
	}
	if sess.ExternalUserID == "" {
		if secret {
			return domain.ErrForbidden
		}
		return nil
	}

	profile, err := m.profiles.Get(ctx, sess.ExternalUserID)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			log.Warn().Ctx(ctx).Err(err).Str("session", id).Msg("Profile lookup failed during authorization")
		}
		return domain.ErrForbidden
	}
	if !profile.OwnedBy(caller.UserName, caller.DN) {
		log.Warn().Ctx(ctx).Str("session", id).Str("caller", caller.UserName).Str("dn", caller.DN).
			Msg("Caller does not own the session")
		return domain.ErrForbidden
	}
	return nil
}
