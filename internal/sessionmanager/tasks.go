package sessionmanager

import (
	"context"
	"time"

	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/pilab-dev/oauthdirac/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Run executes the background tasks until ctx is cancelled: the zombie
// sweep, the refresh of reserved sessions and the profile cache rebuild.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return every(ctx, "sweep", m.cfg.SweepInterval, func(ctx context.Context) error {
			_, err := m.Sweep(ctx)
			return err
		})
	})
	g.Go(func() error {
		return every(ctx, "refresh reserved", m.cfg.RefreshInterval, m.RefreshReserved)
	})
	g.Go(func() error {
		return every(ctx, "rebuild profiles", m.cfg.ProfileTTL, m.RefreshProfiles)
	})
	return g.Wait()
}

func every(ctx context.Context, name string, interval time.Duration, task func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Ctx(ctx).Str("task", name).Msg("Background task stopped")
			return nil
		case <-ticker.C:
			if err := task(ctx); err != nil {
				log.Error().Ctx(ctx).Err(err).Str("task", name).Msg("Background task failed")
			}
		}
	}
}

// Sweep revokes the tokens of idle non-reserved sessions, best effort, and
// deletes them.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	stale, err := m.store.StaleSessions(ctx, m.cfg.ZombieThreshold)
	if err != nil {
		return 0, err
	}
	for _, s := range stale {
		m.revoke(ctx, s)
	}
	n, err := m.store.SweepExpired(ctx, m.cfg.ZombieThreshold)
	if err != nil {
		return 0, err
	}
	for _, s := range stale {
		m.updateProfile(ctx, s.ExternalUserID)
	}
	if n > 0 {
		log.Info().Ctx(ctx).Int64("count", n).Msg("Zombie sessions removed")
	}
	return n, nil
}

// RefreshReserved refreshes the tokens of every reserved session. Sessions
// whose refresh fails are logged out.
func (m *Manager) RefreshReserved(ctx context.Context) error {
	reserved := true
	sessions, err := m.store.FindSessions(ctx, domain.SessionFilter{Reserved: &reserved})
	if err != nil {
		return err
	}
	metrics.ReservedSessionsGauge.Set(float64(len(sessions)))

	for _, s := range sessions {
		if s.Tokens.RefreshToken == "" {
			continue
		}
		if _, err := m.refresh(ctx, s.ID); err != nil {
			log.Warn().Ctx(ctx).Err(err).Str("session", s.ID).Msg("Reserved session refresh failed, logging it out")
			if err := m.logOut(ctx, s.ID); err != nil {
				log.Error().Ctx(ctx).Err(err).Str("session", s.ID).Msg("Failed to log out reserved session")
			}
		}
	}
	return nil
}
