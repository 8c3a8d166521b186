package proxyprovider

import "errors"

var (
	ErrNoReadySession     = errors.New("no ready session to request a proxy with")
	ErrDNMismatch         = errors.New("proxy DN does not match the requested DN")
	ErrProxyRequestFailed = errors.New("proxy request failed")
	ErrMalformedProxy     = errors.New("malformed proxy returned")
	ErrMisconfigured      = errors.New("proxy provider misconfigured")
)
