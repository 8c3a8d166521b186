package federation

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/pilab-dev/oauthdirac/domain"
)

// Headers set by the TLS terminating proxy in front of the bridge.
const (
	HeaderScheme         = "X-Scheme"
	HeaderClientVerify   = "X-Ssl_client_verify"
	HeaderClientSubject  = "X-Ssl_client_s_dn"
	HeaderClientIssuer   = "X-Ssl_client_i_dn"
	CertificateTokenType = "x509"
)

// CertificateProvider derives the identity from the verified client
// certificate. There is no network round trip: the DN is the credential.
type CertificateProvider struct {
	Config *domain.IdentityProvider
}

var _ Provider = (*CertificateProvider)(nil)

func NewCertificateProvider(cfg *domain.IdentityProvider) *CertificateProvider {
	return &CertificateProvider{Config: cfg}
}

func (p *CertificateProvider) Name() string { return p.Config.Name }

func (p *CertificateProvider) Kind() domain.ProviderKind { return domain.ProviderKindCertificate }

func (p *CertificateProvider) BuildAuthURL(state string, _ ...AuthURLOption) (string, error) {
	if p.Config.LoginURL == "" {
		return "", ErrProviderMisconfigured
	}
	sep := "?"
	if strings.Contains(p.Config.LoginURL, "?") {
		sep = "&"
	}
	return p.Config.LoginURL + sep + "state=" + url.QueryEscape(state), nil
}

func (p *CertificateProvider) ExchangeCode(_ context.Context, resp AuthResponse) (*domain.TokenBundle, error) {
	dn, err := DNFromHeaders(resp.Headers)
	if err != nil {
		return nil, err
	}
	return &domain.TokenBundle{TokenType: CertificateTokenType, AccessToken: dn}, nil
}

// RefreshTokens returns the same credential; a certificate does not refresh.
func (p *CertificateProvider) RefreshTokens(_ context.Context, refreshToken string) (*domain.TokenBundle, error) {
	if refreshToken == "" {
		return nil, ErrMissingGrantInput
	}
	return &domain.TokenBundle{TokenType: CertificateTokenType, AccessToken: refreshToken, RefreshToken: refreshToken}, nil
}

func (p *CertificateProvider) FetchUserProfile(_ context.Context, tokens *domain.TokenBundle) (*domain.UserProfile, error) {
	dn := tokens.AccessToken
	if dn == "" {
		return nil, ErrMissingSubjectClaim
	}
	cn := CommonName(dn)
	userName := NormalizeUserName(map[string]any{"name": cn})
	if userName == "" {
		userName = NormalizeUserName(map[string]any{"preferred_username": cn})
	}
	return &domain.UserProfile{
		ExternalUserID: dn,
		Provider:       p.Config.Name,
		UserName:       userName,
		FullName:       cn,
		DNs:            []string{dn},
		Groups:         domain.Union(nil, p.Config.DefaultGroups),
	}, nil
}

// RevokeTokens is a no-op.
func (p *CertificateProvider) RevokeTokens(context.Context, domain.TokenSet) error {
	return nil
}

// DNFromHeaders returns the slash form subject DN of a client certificate the
// proxy verified.
func DNFromHeaders(h http.Header) (string, error) {
	if h == nil || h.Get(HeaderScheme) != "https" || h.Get(HeaderClientVerify) != "SUCCESS" {
		return "", ErrCertificateNotVerified
	}
	dn := strings.TrimSpace(h.Get(HeaderClientSubject))
	if dn == "" {
		return "", ErrCertificateNotVerified
	}
	return SlashDN(dn), nil
}

// SlashDN converts an RFC 2253 style "CN=a,O=b" DN into the "/O=b/CN=a" form
// used by the grid. DNs already in slash form are returned unchanged.
func SlashDN(dn string) string {
	if strings.HasPrefix(dn, "/") {
		return dn
	}
	items := strings.Split(dn, ",")
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	for i := range items {
		items[i] = strings.TrimSpace(items[i])
	}
	return "/" + strings.Join(items, "/")
}

// CommonName returns the last CN component of a slash form DN.
func CommonName(dn string) string {
	parts := strings.Split(dn, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if v, ok := strings.CutPrefix(parts[i], "CN="); ok {
			return v
		}
	}
	return ""
}
