// Package middleware resolves who is calling the bridge API.
package middleware

import (
	"context"
	"errors"
	"slices"

	"github.com/labstack/echo/v4"
	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/pilab-dev/oauthdirac/internal/federation"
	"github.com/rs/zerolog/log"
)

const callerKey = "caller"

// UserFinder looks up local users by certificate DN.
type UserFinder interface {
	FindByDN(ctx context.Context, dn string) (*domain.LocalUser, error)
}

// Caller identifies the client from the certificate headers set by the TLS
// terminating proxy. Requests without a verified certificate get an anonymous
// caller. DNs listed in trustedHosts act on behalf of any user.
func Caller(users UserFinder, trustedHosts []string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			caller := resolve(req.Context(), users, trustedHosts, c)
			c.Set(callerKey, caller)
			c.SetRequest(req.WithContext(domain.WithCaller(req.Context(), caller)))
			return next(c)
		}
	}
}

func resolve(ctx context.Context, users UserFinder, trustedHosts []string, c echo.Context) *domain.Caller {
	dn, err := federation.DNFromHeaders(c.Request().Header)
	if err != nil {
		return &domain.Caller{}
	}
	caller := &domain.Caller{DN: dn, TrustedHost: slices.Contains(trustedHosts, dn)}
	if caller.TrustedHost || users == nil {
		return caller
	}

	user, err := users.FindByDN(ctx, dn)
	switch {
	case err == nil:
		caller.UserName = user.Name
		caller.Groups = user.Groups
	case errors.Is(err, domain.ErrUserNotFound):
	default:
		log.Warn().Err(err).Str("dn", dn).Msg("Directory lookup for caller failed")
	}
	return caller
}

// CallerFrom returns the caller stored by the Caller middleware, or an
// anonymous one.
func CallerFrom(c echo.Context) *domain.Caller {
	if caller, ok := c.Get(callerKey).(*domain.Caller); ok && caller != nil {
		return caller
	}
	if caller, ok := domain.CallerFromContext(c.Request().Context()); ok {
		return caller
	}
	return &domain.Caller{}
}
