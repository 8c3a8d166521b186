package sessionclient

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/pilab-dev/oauthdirac/dto"
	"github.com/rs/zerolog/log"
)

var (
	// ErrWaitTimeout is returned when a session did not reach the wanted
	// status in time. The session is killed before returning.
	ErrWaitTimeout = errors.New("timed out waiting for session status")
	// ErrSessionFailed is returned when the session failed while waiting.
	ErrSessionFailed = errors.New("session failed")

	errStatusPending = errors.New("session status pending")
)

var resolvedStatuses = []domain.SessionStatus{
	domain.StatusAuthed,
	domain.StatusAuthedAndNotify,
	domain.StatusAuthedAndReported,
	domain.StatusVisitor,
	domain.StatusReserved,
}

// WaitForSessionStatus polls the session until its status is one of until,
// or until it is resolved when until is empty. A failed session ends the wait
// early unless failed is one of the wanted statuses. When the wait times out,
// through the client limit or the deadline of ctx, the session is killed.
func (c *Client) WaitForSessionStatus(
	ctx context.Context, session string, until ...domain.SessionStatus,
) (*dto.SessionResponse, error) {
	if len(until) == 0 {
		until = resolvedStatuses
	}

	poll := func() (*dto.SessionResponse, error) {
		sess, err := c.GetSessionStatus(ctx, session)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrForbidden):
			return nil, backoff.Permanent(err)
		default:
			log.Debug().Err(err).Str("session", session).Msg("Polling session status failed")
			return nil, err
		}

		if slices.Contains(until, sess.Status) {
			return sess, nil
		}
		if sess.Status == domain.StatusFailed {
			return sess, backoff.Permanent(fmt.Errorf("%w: %s", ErrSessionFailed, sess.Comment))
		}
		return nil, errStatusPending
	}

	sess, err := backoff.Retry(ctx, poll,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.pollInterval)),
		backoff.WithMaxElapsedTime(c.waitTimeout),
	)
	if err == nil {
		return sess, nil
	}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		c.killAbandoned(ctx, session)
		return nil, fmt.Errorf("%w: %s: %w", ErrWaitTimeout, session, ctx.Err())
	case ctx.Err() != nil, !errors.Is(err, errStatusPending):
		return sess, err
	}

	c.killAbandoned(ctx, session)
	return nil, fmt.Errorf("%w: %s after %s", ErrWaitTimeout, session, c.waitTimeout)
}

func (c *Client) killAbandoned(ctx context.Context, session string) {
	timeout := c.httpClient.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := c.KillSession(ctx, session); err != nil && !IsNotFound(err) {
		log.Warn().Err(err).Str("session", session).Msg("Failed to kill timed out session")
	}
}
