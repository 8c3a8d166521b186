package federation

import "errors"

var (
	ErrProviderNotFound          = errors.New("provider not found or not enabled")
	ErrProviderMisconfigured     = errors.New("provider is misconfigured")
	ErrProviderRejected          = errors.New("identity provider rejected the request")
	ErrProviderUnavailable       = errors.New("identity provider is unavailable")
	ErrMalformedProviderResponse = errors.New("malformed identity provider response")
	ErrMissingGrantInput         = errors.New("either an authorization code or a refresh token is required")
	ErrMissingRedirectURI        = errors.New("redirect URI is required with an authorization code")
	ErrMissingSubjectClaim       = errors.New("user profile has no subject claim")
	ErrRevocationUnsupported     = errors.New("identity provider does not support token revocation")
	ErrCertificateNotVerified    = errors.New("client certificate was not presented or not verified")
)
