package domain

// ProviderKind distinguishes token based identity providers from the local
// certificate based one.
type ProviderKind string

const (
	ProviderKindOAuth2      ProviderKind = "oauth2"
	ProviderKindCertificate ProviderKind = "certificate"
)

// ProviderEndpoints are the OAuth2/OIDC endpoints of an identity provider.
type ProviderEndpoints struct {
	Issuer                string `json:"issuer,omitempty"`
	AuthorizationEndpoint string `json:"authorization_endpoint,omitempty"`
	TokenEndpoint         string `json:"token_endpoint,omitempty"`
	UserInfoEndpoint      string `json:"userinfo_endpoint,omitempty"`
	RevocationEndpoint    string `json:"revocation_endpoint,omitempty"`
	JWKSURI               string `json:"jwks_uri,omitempty"`
}

// IdentityProvider is the resolved configuration of one identity provider.
type IdentityProvider struct {
	Name         string
	Kind         ProviderKind
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	Prompt       string
	Endpoints    ProviderEndpoints

	// ProxyProvider names the proxy provider that needs a standing session
	// for users of this IdP. Empty means no reservation is needed.
	ProxyProvider string

	// VOMSClaim is the userinfo claim holding VO membership entries and
	// VOMSPattern the regular expression with named groups VO and ROLE that
	// picks them apart.
	VOMSClaim   string
	VOMSPattern string
	// VOMSGroups maps a "/VO/Role=ROLE" string to local group names.
	VOMSGroups map[string][]string
	// DefaultGroups are always granted to users of this provider.
	DefaultGroups []string
	// DNClaim optionally names a claim that carries the user's certificate DN.
	DNClaim string

	// LoginURL is where the certificate provider sends the browser.
	LoginURL string
}
