package sessionmanager

import (
	"context"
	"errors"
	"fmt"

	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/pilab-dev/oauthdirac/internal/audit"
	"github.com/pilab-dev/oauthdirac/internal/federation"
	"github.com/pilab-dev/oauthdirac/internal/metrics"
	"github.com/pilab-dev/oauthdirac/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// FlowResult is the answer to SubmitAuthorizeFlow.
type FlowResult struct {
	Status  domain.SessionStatus `json:"status"`
	Session string               `json:"session"`
	URL     string               `json:"url,omitempty"`
}

// ParseResult is the outcome of an authorization response.
type ParseResult struct {
	Session     string               `json:"session"`
	Status      domain.SessionStatus `json:"status"`
	Comment     string               `json:"comment,omitempty"`
	URL         string               `json:"url,omitempty"`
	UserProfile *domain.UserProfile  `json:"user_profile,omitempty"`
}

// SubmitAuthorizeFlow starts an authorization with provider. An existing
// session of the caller at that provider that still holds a refresh token is
// refreshed and reported ready; otherwise a new session is prepared and its
// authorization URL returned.
func (m *Manager) SubmitAuthorizeFlow(ctx context.Context, caller *domain.Caller, provider, sessionID string) (*FlowResult, error) {
	ctx, span := tracing.Tracer.Start(ctx, "sessionmanager.SubmitAuthorizeFlow")
	defer span.End()
	span.SetAttributes(attribute.String("provider", provider))

	if caller == nil {
		return nil, domain.ErrForbidden
	}

	if sessionID != "" {
		if res, ok := m.reuseSession(ctx, caller, provider, sessionID); ok {
			return res, nil
		}
	}

	p, err := m.providers.Get(ctx, provider)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	id, err := m.store.CreateSession(ctx, provider, "")
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	url, err := p.BuildAuthURL(id)
	if err != nil {
		if kerr := m.store.KillSession(ctx, id); kerr != nil {
			log.Warn().Ctx(ctx).Err(kerr).Str("session", id).Msg("Failed to remove session after URL error")
		}
		span.RecordError(err)
		return nil, err
	}
	if _, err := m.store.UpdateSession(ctx, id, domain.SessionUpdate{Comment: &url}); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("session", id))
	log.Info().Ctx(ctx).Str("session", id).Str("provider", provider).Msg("Authorization flow prepared")
	return &FlowResult{Status: domain.StatusNeedToAuth, Session: id, URL: url}, nil
}

func (m *Manager) reuseSession(ctx context.Context, caller *domain.Caller, provider, id string) (*FlowResult, bool) {
	sess, err := m.store.GetFields(ctx, id, domain.FieldProvider, domain.FieldTokens)
	if err != nil || sess.Provider != provider || sess.Tokens.RefreshToken == "" {
		return nil, false
	}
	if err := m.checkAuth(ctx, caller, id, true); err != nil {
		return nil, false
	}
	if _, err := m.refresh(ctx, id); err != nil {
		log.Warn().Ctx(ctx).Err(err).Str("session", id).Msg("Existing session could not be refreshed, starting a new flow")
		return nil, false
	}
	return &FlowResult{Status: domain.StatusReady, Session: id}, true
}

// ParseAuthResponse completes the flow of session with the response the
// browser brought back. When session is empty the response state names it.
// Only one response per session is ever processed; later ones fail with
// ErrSessionAlreadySubmitted. Any failure marks the session, and the parent
// of a nested flow, failed.
func (m *Manager) ParseAuthResponse(ctx context.Context, resp federation.AuthResponse, session string) (*ParseResult, error) {
	if session == "" {
		session = resp.State
	}
	ctx, span := tracing.Tracer.Start(ctx, "sessionmanager.ParseAuthResponse")
	defer span.End()
	span.SetAttributes(attribute.String("session", session))

	sess, err := m.store.TransitionStatus(ctx, session,
		[]domain.SessionStatus{domain.StatusPrepared, domain.StatusInProgress}, domain.StatusFinishing)
	if err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			return nil, fmt.Errorf("%w: %v", domain.ErrSessionAlreadySubmitted, err)
		}
		return nil, err
	}

	res, err := m.parse(ctx, sess, resp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.fail(ctx, sess, err)
		metrics.AuthResponsesTotal.WithLabelValues(sess.Provider, domain.StatusFailed.String()).Inc()
		m.audit.Record(ctx, audit.Event{Action: audit.ActionLogin, Session: session, Provider: sess.Provider, Err: err})
		return nil, err
	}
	if res.Session == "" {
		res.Session = session
	}
	loginEvent := audit.Event{Action: audit.ActionLogin, Session: res.Session, Provider: sess.Provider, Status: res.Status}
	if res.UserProfile != nil {
		loginEvent.User = res.UserProfile.UserName
	}
	m.audit.Record(ctx, loginEvent)
	span.SetAttributes(attribute.String("status", res.Status.String()))
	metrics.AuthResponsesTotal.WithLabelValues(sess.Provider, res.Status.String()).Inc()
	log.Info().Ctx(ctx).Str("session", session).Str("provider", sess.Provider).Str("status", res.Status.String()).
		Msg("Authorization response parsed")
	return res, nil
}

func (m *Manager) parse(ctx context.Context, sess *domain.Session, resp federation.AuthResponse) (*ParseResult, error) {
	p, err := m.providers.Get(ctx, sess.Provider)
	if err != nil {
		return nil, err
	}
	tokens, profile, err := federation.Authenticate(ctx, p, resp)
	if err != nil {
		return nil, err
	}

	sess, err = m.store.UpdateSession(ctx, sess.ID, domain.SessionUpdate{
		Tokens:         tokens,
		ExternalUserID: &profile.ExternalUserID,
		UserName:       &profile.UserName,
		Profile:        profile,
	})
	if err != nil {
		return nil, err
	}

	if sess.ParentSessionID != "" {
		return m.finishChild(ctx, sess, tokens, profile)
	}
	return m.reconcile(ctx, sess, profile)
}

// fail marks sess and its parent failed with cause in the comment. A failed
// session never keeps its reservation.
func (m *Manager) fail(ctx context.Context, sess *domain.Session, cause error) {
	ids := []string{sess.ID}
	if sess.ParentSessionID != "" {
		ids = append(ids, sess.ParentSessionID)
	}
	failed := domain.StatusFailed
	comment := cause.Error()
	notReserved := false
	for _, id := range ids {
		_, err := m.store.UpdateSession(ctx, id, domain.SessionUpdate{
			Status:   &failed,
			Comment:  &comment,
			Reserved: &notReserved,
		})
		if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			log.Error().Ctx(ctx).Err(err).Str("session", id).Msg("Failed to mark session failed")
		}
	}
	log.Warn().Ctx(ctx).Err(cause).Str("session", sess.ID).Msg("Authorization failed")
}
