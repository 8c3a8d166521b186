package domain

import "time"

// Proxy is a PEM encoded proxy certificate chain issued for DN.
type Proxy struct {
	DN        string    `json:"dn"`
	PEM       string    `json:"pem"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Remaining returns how long the proxy is still valid at now.
func (p *Proxy) Remaining(now time.Time) time.Duration {
	return p.ExpiresAt.Sub(now)
}
