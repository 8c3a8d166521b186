package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/pilab-dev/oauthdirac/internal/federation"
	"github.com/pilab-dev/oauthdirac/internal/proxyprovider"
	"github.com/pilab-dev/oauthdirac/internal/sessionmanager"
)

// APIError is the JSON error body of the bridge API.
type APIError struct {
	Status      int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Unwrap maps the code back onto the domain error it was produced from, so
// API clients can match with errors.Is.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case SessionNotFound:
		return domain.ErrSessionNotFound
	case Forbidden:
		return domain.ErrForbidden
	case SessionAlreadySubmitted:
		return domain.ErrSessionAlreadySubmitted
	case LinkExpired:
		return domain.ErrLinkExpired
	}
	return nil
}

// Error codes
const (
	SessionNotFound         = "session_not_found"
	Forbidden               = "forbidden"
	SessionAlreadySubmitted = "session_already_submitted"
	LinkExpired             = "link_expired"
	InvalidRequest          = "invalid_request"
	ProviderError           = "provider_error"
	ServerError             = "server_error"
)

func NewInvalidRequest(description string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: InvalidRequest, Description: description}
}

func NewForbidden(description string) *APIError {
	return &APIError{Status: http.StatusForbidden, Code: Forbidden, Description: description}
}

func NewServerError(description string) *APIError {
	return &APIError{Status: http.StatusInternalServerError, Code: ServerError, Description: description}
}

// FromError maps an error returned by the session manager onto its API
// representation. Unknown errors become server_error without leaking the
// cause.
func FromError(err error) *APIError {
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case stderrors.Is(err, domain.ErrSessionNotFound):
		return &APIError{Status: http.StatusNotFound, Code: SessionNotFound, Description: err.Error()}
	case stderrors.Is(err, domain.ErrForbidden):
		return NewForbidden(err.Error())
	case stderrors.Is(err, domain.ErrSessionAlreadySubmitted):
		return &APIError{Status: http.StatusConflict, Code: SessionAlreadySubmitted, Description: err.Error()}
	case stderrors.Is(err, domain.ErrLinkExpired):
		return &APIError{Status: http.StatusGone, Code: LinkExpired, Description: err.Error()}
	case stderrors.Is(err, domain.ErrSessionExists),
		stderrors.Is(err, domain.ErrInvalidTransition),
		stderrors.Is(err, domain.ErrUnknownStatus),
		stderrors.Is(err, domain.ErrUnknownField),
		stderrors.Is(err, federation.ErrProviderNotFound),
		stderrors.Is(err, sessionmanager.ErrUnknownProxyProvider),
		stderrors.Is(err, federation.ErrMissingGrantInput):
		return NewInvalidRequest(err.Error())
	case stderrors.Is(err, federation.ErrProviderRejected),
		stderrors.Is(err, federation.ErrProviderUnavailable),
		stderrors.Is(err, federation.ErrMalformedProviderResponse),
		stderrors.Is(err, federation.ErrMissingSubjectClaim),
		stderrors.Is(err, federation.ErrCertificateNotVerified),
		stderrors.Is(err, proxyprovider.ErrNoReadySession),
		stderrors.Is(err, proxyprovider.ErrProxyRequestFailed),
		stderrors.Is(err, proxyprovider.ErrMalformedProxy),
		stderrors.Is(err, proxyprovider.ErrDNMismatch):
		return &APIError{Status: http.StatusBadGateway, Code: ProviderError, Description: err.Error()}
	default:
		return NewServerError("internal error")
	}
}
