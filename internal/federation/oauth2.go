package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// DefaultHTTPTimeout bounds every request to an identity provider.
const DefaultHTTPTimeout = 30 * time.Second

// OAuth2Provider talks to an OAuth2/OIDC identity provider.
type OAuth2Provider struct {
	Config     *domain.IdentityProvider
	httpClient *http.Client
}

var _ Provider = (*OAuth2Provider)(nil)

// NewOAuth2Provider creates a provider from a resolved configuration. A nil
// client gets one with DefaultHTTPTimeout.
func NewOAuth2Provider(cfg *domain.IdentityProvider, client *http.Client) (*OAuth2Provider, error) {
	if cfg.ClientID == "" || cfg.Endpoints.AuthorizationEndpoint == "" || cfg.Endpoints.TokenEndpoint == "" {
		return nil, fmt.Errorf("%w: %s needs client_id, authorization_endpoint and token_endpoint", ErrProviderMisconfigured, cfg.Name)
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &OAuth2Provider{Config: cfg, httpClient: client}, nil
}

func (p *OAuth2Provider) Name() string { return p.Config.Name }

func (p *OAuth2Provider) Kind() domain.ProviderKind { return domain.ProviderKindOAuth2 }

// BuildAuthURL writes the query by hand; some providers are sensitive to the
// parameter order, which url.Values would sort.
func (p *OAuth2Provider) BuildAuthURL(state string, opts ...AuthURLOption) (string, error) {
	o := AuthURLOptions{Prompt: p.Config.Prompt}
	for _, opt := range opts {
		opt(&o)
	}

	var b strings.Builder
	b.WriteString(p.Config.Endpoints.AuthorizationEndpoint)
	if strings.Contains(p.Config.Endpoints.AuthorizationEndpoint, "?") {
		b.WriteByte('&')
	} else {
		b.WriteByte('?')
	}
	b.WriteString("state=" + url.QueryEscape(state))
	b.WriteString("&response_type=code")
	b.WriteString("&client_id=" + url.QueryEscape(p.Config.ClientID))
	b.WriteString("&access_type=offline")
	if o.Prompt != "" {
		b.WriteString("&prompt=" + url.QueryEscape(o.Prompt))
	}
	b.WriteString("&redirect_uri=" + url.QueryEscape(p.Config.RedirectURI))

	scopes := make([]string, 0, len(p.Config.Scopes))
	for _, s := range p.Config.Scopes {
		scopes = append(scopes, url.QueryEscape(s))
	}
	b.WriteString("&scope=" + strings.Join(scopes, "+"))
	return b.String(), nil
}

func (p *OAuth2Provider) ExchangeCode(ctx context.Context, resp AuthResponse) (*domain.TokenBundle, error) {
	return p.FetchToken(ctx, resp.Code, p.Config.RedirectURI, "")
}

func (p *OAuth2Provider) RefreshTokens(ctx context.Context, refreshToken string) (*domain.TokenBundle, error) {
	return p.FetchToken(ctx, "", "", refreshToken)
}

type tokenResponse struct {
	AccessToken      string      `json:"access_token"`
	TokenType        string      `json:"token_type"`
	RefreshToken     string      `json:"refresh_token"`
	IDToken          string      `json:"id_token"`
	ExpiresIn        json.Number `json:"expires_in"`
	Scope            string      `json:"scope"`
	Error            string      `json:"error"`
	ErrorDescription string      `json:"error_description"`
}

// FetchToken posts a token request with either an authorization code or a
// refresh token. A response without access_token is malformed whatever its
// HTTP status says.
func (p *OAuth2Provider) FetchToken(ctx context.Context, code, redirectURI, refreshToken string) (*domain.TokenBundle, error) {
	form := url.Values{}
	switch {
	case code != "":
		if redirectURI == "" {
			return nil, ErrMissingRedirectURI
		}
		form.Set("grant_type", "authorization_code")
		form.Set("code", code)
		form.Set("redirect_uri", redirectURI)
	case refreshToken != "":
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", refreshToken)
	default:
		return nil, ErrMissingGrantInput
	}
	form.Set("client_id", p.Config.ClientID)
	if p.Config.ClientSecret != "" {
		form.Set("client_secret", p.Config.ClientSecret)
	}

	body, status, err := p.postForm(ctx, p.Config.Endpoints.TokenEndpoint, form)
	if err != nil {
		return nil, err
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("%w: status %d: %v", ErrMalformedProviderResponse, status, err)
	}
	if tr.AccessToken == "" {
		if tr.Error != "" {
			return nil, fmt.Errorf("%w: status %d: %s: %s", ErrMalformedProviderResponse, status, tr.Error, tr.ErrorDescription)
		}
		return nil, fmt.Errorf("%w: status %d: no access_token", ErrMalformedProviderResponse, status)
	}

	bundle := &domain.TokenBundle{
		TokenType:    tr.TokenType,
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		IDToken:      tr.IDToken,
		Scope:        tr.Scope,
	}
	if bundle.TokenType == "" {
		bundle.TokenType = domain.DefaultTokenType
	}
	if tr.ExpiresIn != "" {
		if n, err := tr.ExpiresIn.Int64(); err == nil {
			bundle.ExpiresIn = n
		}
	}
	return bundle, nil
}

// FetchUserProfile reads the userinfo endpoint through go-oidc.
func (p *OAuth2Provider) FetchUserProfile(ctx context.Context, tokens *domain.TokenBundle) (*domain.UserProfile, error) {
	if p.Config.Endpoints.UserInfoEndpoint == "" {
		return nil, fmt.Errorf("%w: %s has no userinfo endpoint", ErrProviderMisconfigured, p.Config.Name)
	}
	ctx = oidc.ClientContext(ctx, p.httpClient)

	providerConfig := &oidc.ProviderConfig{
		IssuerURL:   p.Config.Endpoints.Issuer,
		AuthURL:     p.Config.Endpoints.AuthorizationEndpoint,
		TokenURL:    p.Config.Endpoints.TokenEndpoint,
		UserInfoURL: p.Config.Endpoints.UserInfoEndpoint,
		JWKSURL:     p.Config.Endpoints.JWKSURI,
	}
	oidcProvider := providerConfig.NewProvider(ctx)

	info, err := oidcProvider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: tokens.AccessToken,
		TokenType:   tokens.TokenType,
	}))
	if err != nil {
		return nil, fmt.Errorf("%w: userinfo: %v", ErrProviderUnavailable, err)
	}

	claims := make(map[string]any)
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: userinfo claims: %v", ErrMalformedProviderResponse, err)
	}
	return ParseProfile(p.Config, claims)
}

// RevokeTokens revokes the refresh token first and then the access token.
func (p *OAuth2Provider) RevokeTokens(ctx context.Context, tokens domain.TokenSet) error {
	endpoint := p.Config.Endpoints.RevocationEndpoint
	if endpoint == "" {
		return ErrRevocationUnsupported
	}

	var errs []error
	for _, t := range []struct{ value, hint string }{
		{tokens.RefreshToken, "refresh_token"},
		{tokens.AccessToken, "access_token"},
	} {
		if t.value == "" {
			continue
		}
		form := url.Values{}
		form.Set("token", t.value)
		form.Set("token_type_hint", t.hint)
		form.Set("client_id", p.Config.ClientID)
		if p.Config.ClientSecret != "" {
			form.Set("client_secret", p.Config.ClientSecret)
		}
		_, status, err := p.postForm(ctx, endpoint, form)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if status >= http.StatusBadRequest {
			errs = append(errs, fmt.Errorf("%w: revoking %s: status %d", ErrProviderRejected, t.hint, status))
		}
	}
	return errors.Join(errs...)
}

func (p *OAuth2Provider) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrProviderMisconfigured, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		log.Warn().Ctx(ctx).Err(err).Str("provider", p.Config.Name).Str("endpoint", endpoint).Msg("Identity provider request failed")
		return nil, 0, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: reading response: %v", ErrProviderUnavailable, err)
	}
	return body, resp.StatusCode, nil
}
