package federation

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pilab-dev/oauthdirac/domain"
)

// AuthResponse is what the browser brings back to the redirect endpoint.
type AuthResponse struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
	// Headers carries the request headers; the certificate provider reads the
	// verified client certificate from them.
	Headers http.Header
}

// AuthURLOptions are the optional parts of an authorization URL.
type AuthURLOptions struct {
	Prompt string
}

// AuthURLOption sets an optional authorization URL parameter.
type AuthURLOption func(*AuthURLOptions)

// WithPrompt overrides the configured prompt, e.g. "consent" to force a
// refresh token for a reserved session.
func WithPrompt(prompt string) AuthURLOption {
	return func(o *AuthURLOptions) { o.Prompt = prompt }
}

// Provider is the capability set every identity provider offers to the
// session manager.
//
//go:generate go run go.uber.org/mock/mockgen -source=$GOFILE -destination=mock/mock_$GOFILE -package=mock_$GOPACKAGE Provider
type Provider interface {
	// Name returns the configured name of the provider.
	Name() string

	// Kind tells token based providers from the certificate one.
	Kind() domain.ProviderKind

	// BuildAuthURL returns the URL the browser is sent to. The state is the
	// session ID.
	BuildAuthURL(state string, opts ...AuthURLOption) (string, error)

	// ExchangeCode turns the callback into a token bundle.
	ExchangeCode(ctx context.Context, resp AuthResponse) (*domain.TokenBundle, error)

	// RefreshTokens exchanges a refresh token for a new bundle.
	RefreshTokens(ctx context.Context, refreshToken string) (*domain.TokenBundle, error)

	// FetchUserProfile reads the identity behind the tokens.
	FetchUserProfile(ctx context.Context, tokens *domain.TokenBundle) (*domain.UserProfile, error)

	// RevokeTokens invalidates the tokens at the provider.
	RevokeTokens(ctx context.Context, tokens domain.TokenSet) error
}

// Authenticate runs the callback part of a flow: provider error check, code
// exchange and profile fetch.
func Authenticate(ctx context.Context, p Provider, resp AuthResponse) (*domain.TokenBundle, *domain.UserProfile, error) {
	if resp.Error != "" {
		return nil, nil, fmt.Errorf("%w: %s: %s", ErrProviderRejected, resp.Error, resp.ErrorDescription)
	}

	tokens, err := p.ExchangeCode(ctx, resp)
	if err != nil {
		return nil, nil, err
	}

	profile, err := p.FetchUserProfile(ctx, tokens)
	if err != nil {
		return tokens, nil, err
	}
	profile.Provider = p.Name()
	return tokens, profile, nil
}
