package federation_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/pilab-dev/oauthdirac/internal/federation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOAuth2Provider_BuildAuthURL(t *testing.T) {
	cfg := &domain.IdentityProvider{
		Name:        "demoIdP",
		ClientID:    "client 1",
		RedirectURI: "https://bridge.example.org/auth/redirect",
		Scopes:      []string{"openid", "profile"},
		Endpoints: domain.ProviderEndpoints{
			AuthorizationEndpoint: "https://idp.example.org/authorize",
			TokenEndpoint:         "https://idp.example.org/token",
		},
	}
	p, err := federation.NewOAuth2Provider(cfg, nil)
	require.NoError(t, err)

	u, err := p.BuildAuthURL("abc123")
	require.NoError(t, err)
	assert.Equal(t, "https://idp.example.org/authorize?state=abc123&response_type=code&client_id=client+1"+
		"&access_type=offline&redirect_uri=https%3A%2F%2Fbridge.example.org%2Fauth%2Fredirect&scope=openid+profile", u)

	u, err = p.BuildAuthURL("abc123", federation.WithPrompt("consent"))
	require.NoError(t, err)
	assert.Contains(t, u, "&access_type=offline&prompt=consent&redirect_uri=")
}

func TestNewOAuth2Provider_Misconfigured(t *testing.T) {
	_, err := federation.NewOAuth2Provider(&domain.IdentityProvider{Name: "x"}, nil)
	assert.ErrorIs(t, err, federation.ErrProviderMisconfigured)
}

func TestOAuth2Provider_ExchangeCode(t *testing.T) {
	idp := newFakeIdP(t)
	idp.tokenBody["expires_in"] = "1800"
	p, err := federation.NewOAuth2Provider(idp.config(), idp.Client())
	require.NoError(t, err)

	tokens, err := p.ExchangeCode(context.Background(), federation.AuthResponse{Code: "code-1", State: "s"})
	require.NoError(t, err)
	assert.Equal(t, "at-1", tokens.AccessToken)
	assert.Equal(t, "rt-1", tokens.RefreshToken)
	assert.Equal(t, "Bearer", tokens.TokenType)
	assert.EqualValues(t, 1800, tokens.ExpiresIn)

	form := idp.lastTokenForm()
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "code-1", form.Get("code"))
	assert.Equal(t, "https://bridge.example.org/auth/redirect", form.Get("redirect_uri"))
	assert.Equal(t, "client-1", form.Get("client_id"))
	assert.Equal(t, "secret-1", form.Get("client_secret"))
}

func TestOAuth2Provider_RefreshTokens(t *testing.T) {
	idp := newFakeIdP(t)
	delete(idp.tokenBody, "refresh_token")
	delete(idp.tokenBody, "token_type")
	p, err := federation.NewOAuth2Provider(idp.config(), idp.Client())
	require.NoError(t, err)

	tokens, err := p.RefreshTokens(context.Background(), "rt-0")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultTokenType, tokens.TokenType)
	assert.Empty(t, tokens.RefreshToken)

	form := idp.lastTokenForm()
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "rt-0", form.Get("refresh_token"))
}

func TestOAuth2Provider_FetchTokenErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("no grant input", func(t *testing.T) {
		idp := newFakeIdP(t)
		p, _ := federation.NewOAuth2Provider(idp.config(), idp.Client())
		_, err := p.FetchToken(ctx, "", "", "")
		assert.ErrorIs(t, err, federation.ErrMissingGrantInput)
	})

	t.Run("code without redirect", func(t *testing.T) {
		idp := newFakeIdP(t)
		p, _ := federation.NewOAuth2Provider(idp.config(), idp.Client())
		_, err := p.FetchToken(ctx, "code", "", "")
		assert.ErrorIs(t, err, federation.ErrMissingRedirectURI)
	})

	t.Run("success status without access token", func(t *testing.T) {
		idp := newFakeIdP(t)
		idp.tokenBody = map[string]any{"token_type": "bearer"}
		p, _ := federation.NewOAuth2Provider(idp.config(), idp.Client())
		_, err := p.RefreshTokens(ctx, "rt")
		assert.ErrorIs(t, err, federation.ErrMalformedProviderResponse)
	})

	t.Run("error status with error body", func(t *testing.T) {
		idp := newFakeIdP(t)
		idp.tokenStatus = http.StatusBadRequest
		idp.tokenBody = map[string]any{"error": "invalid_grant", "error_description": "expired"}
		p, _ := federation.NewOAuth2Provider(idp.config(), idp.Client())
		_, err := p.RefreshTokens(ctx, "rt")
		assert.ErrorIs(t, err, federation.ErrMalformedProviderResponse)
		assert.Contains(t, err.Error(), "invalid_grant")
	})

	t.Run("provider down", func(t *testing.T) {
		idp := newFakeIdP(t)
		cfg := idp.config()
		idp.Close()
		p, _ := federation.NewOAuth2Provider(cfg, nil)
		_, err := p.RefreshTokens(ctx, "rt")
		assert.ErrorIs(t, err, federation.ErrProviderUnavailable)
	})
}

func TestOAuth2Provider_FetchUserProfile(t *testing.T) {
	idp := newFakeIdP(t)
	idp.userinfo = map[string]any{
		"sub":         "ext-123",
		"given_name":  "Jane",
		"family_name": "Doe-Smith",
		"email":       "jane@example.org",
		"dn":          "/O=Grid/CN=Jane Doe",
		"eduperson_entitlement": []any{
			"urn:mace:egi.eu:group:biomed:role=member",
			"urn:mace:egi.eu:group:biomed:role=pilot",
			"urn:mace:egi.eu:group:unknownvo:role=member",
			"something else",
		},
	}
	cfg := idp.config()
	cfg.VOMSClaim = "eduperson_entitlement"
	cfg.VOMSPattern = `^urn:mace:egi\.eu:group:(?P<VO>[\w\-]+):role=(?P<ROLE>[\w\-]+)`
	cfg.VOMSGroups = map[string][]string{
		"/biomed":             {"biomed_user"},
		"/biomed/Role=pilot":  {"biomed_pilot"},
		"/biomed/Role=admin":  {"biomed_admin"},
		"/other/Role=member":  {"other_user"},
	}
	cfg.DefaultGroups = []string{"visitors"}
	p, err := federation.NewOAuth2Provider(cfg, idp.Client())
	require.NoError(t, err)

	profile, err := p.FetchUserProfile(context.Background(), &domain.TokenBundle{AccessToken: "at-1", TokenType: "bearer"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer at-1", idp.userinfoAuthz)

	assert.Equal(t, "ext-123", profile.ExternalUserID)
	assert.Equal(t, "demoIdP", profile.Provider)
	assert.Equal(t, "jdoesmith", profile.UserName)
	assert.Equal(t, "Jane Doe-Smith", profile.FullName)
	assert.Equal(t, []string{"/O=Grid/CN=Jane Doe"}, profile.DNs)
	assert.Equal(t, []string{"visitors", "biomed_user", "biomed_pilot"}, profile.Groups)
	assert.Equal(t, []string{"/biomed/Role=pilot"}, profile.VOMSRoles)
	assert.ElementsMatch(t, []string{"/biomed/Role=member", "/unknownvo/Role=member", "something else"}, profile.NoSupport)
}

func TestOAuth2Provider_FetchUserProfileMissingSub(t *testing.T) {
	idp := newFakeIdP(t)
	idp.userinfo = map[string]any{"name": "Jane Doe"}
	p, err := federation.NewOAuth2Provider(idp.config(), idp.Client())
	require.NoError(t, err)

	_, err = p.FetchUserProfile(context.Background(), &domain.TokenBundle{AccessToken: "at"})
	assert.ErrorIs(t, err, federation.ErrMissingSubjectClaim)
}

func TestOAuth2Provider_RevokeTokens(t *testing.T) {
	idp := newFakeIdP(t)
	p, err := federation.NewOAuth2Provider(idp.config(), idp.Client())
	require.NoError(t, err)

	require.NoError(t, p.RevokeTokens(context.Background(), domain.TokenSet{AccessToken: "at", RefreshToken: "rt"}))
	require.Len(t, idp.revokeForms, 2)
	assert.Equal(t, "rt", idp.revokeForms[0].Get("token"))
	assert.Equal(t, "refresh_token", idp.revokeForms[0].Get("token_type_hint"))
	assert.Equal(t, "at", idp.revokeForms[1].Get("token"))
	assert.Equal(t, "access_token", idp.revokeForms[1].Get("token_type_hint"))

	cfg := idp.config()
	cfg.Endpoints.RevocationEndpoint = ""
	p, err = federation.NewOAuth2Provider(cfg, idp.Client())
	require.NoError(t, err)
	assert.ErrorIs(t, p.RevokeTokens(context.Background(), domain.TokenSet{AccessToken: "at"}), federation.ErrRevocationUnsupported)
}
