package federation

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pilab-dev/oauthdirac/domain"
)

// Resolve merges the three sources of endpoint settings field by field. A
// value passed explicitly wins over configuration, which wins over what the
// provider publishes in its discovery document.
func Resolve(explicit, discovered, configured domain.ProviderEndpoints) domain.ProviderEndpoints {
	pick := func(e, d, c string) string {
		switch {
		case e != "":
			return e
		case c != "":
			return c
		default:
			return d
		}
	}
	return domain.ProviderEndpoints{
		Issuer:                pick(explicit.Issuer, discovered.Issuer, configured.Issuer),
		AuthorizationEndpoint: pick(explicit.AuthorizationEndpoint, discovered.AuthorizationEndpoint, configured.AuthorizationEndpoint),
		TokenEndpoint:         pick(explicit.TokenEndpoint, discovered.TokenEndpoint, configured.TokenEndpoint),
		UserInfoEndpoint:      pick(explicit.UserInfoEndpoint, discovered.UserInfoEndpoint, configured.UserInfoEndpoint),
		RevocationEndpoint:    pick(explicit.RevocationEndpoint, discovered.RevocationEndpoint, configured.RevocationEndpoint),
		JWKSURI:               pick(explicit.JWKSURI, discovered.JWKSURI, configured.JWKSURI),
	}
}

// Discover reads the OpenID configuration published under issuer.
func Discover(ctx context.Context, client *http.Client, issuer string) (domain.ProviderEndpoints, error) {
	if client != nil {
		ctx = oidc.ClientContext(ctx, client)
	}
	p, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return domain.ProviderEndpoints{}, fmt.Errorf("%w: discovery for %s: %v", ErrProviderUnavailable, issuer, err)
	}

	var doc domain.ProviderEndpoints
	if err := p.Claims(&doc); err != nil {
		return domain.ProviderEndpoints{}, fmt.Errorf("%w: discovery document of %s: %v", ErrMalformedProviderResponse, issuer, err)
	}
	return doc, nil
}
