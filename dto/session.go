package dto

import (
	"time"

	"github.com/pilab-dev/oauthdirac/domain"
)

// SubmitFlowRequest starts an authorization flow. Session optionally names a
// previous session of the caller that may be reused.
type SubmitFlowRequest struct {
	Provider string `json:"provider"`
	Session  string `json:"session,omitempty"`
}

// FlowResponse answers a submitted flow.
type FlowResponse struct {
	Status  domain.SessionStatus `json:"status"`
	Session string               `json:"session"`
	URL     string               `json:"url,omitempty"`
}

// CreateSessionRequest creates an empty session.
type CreateSessionRequest struct {
	Provider string `json:"provider"`
	Session  string `json:"session,omitempty"`
}

// CreateSessionResponse carries the ID of a created session.
type CreateSessionResponse struct {
	Session string `json:"session"`
}

// SessionUpdateRequest is a partial session update. Absent fields are left
// alone.
type SessionUpdateRequest struct {
	Status   *string             `json:"status,omitempty"`
	Comment  *string             `json:"comment,omitempty"`
	UserName *string             `json:"user_name,omitempty"`
	UserDN   *string             `json:"user_dn,omitempty"`
	Tokens   *domain.TokenBundle `json:"tokens,omitempty"`
	Reserved *bool               `json:"reserved,omitempty"`
}

// ToDomain converts the request into a domain update.
func (r SessionUpdateRequest) ToDomain() (domain.SessionUpdate, error) {
	upd := domain.SessionUpdate{
		Comment:  r.Comment,
		UserName: r.UserName,
		UserDN:   r.UserDN,
		Tokens:   r.Tokens,
		Reserved: r.Reserved,
	}
	if r.Status != nil {
		status, err := domain.ParseSessionStatus(*r.Status)
		if err != nil {
			return domain.SessionUpdate{}, err
		}
		upd.Status = &status
	}
	return upd, nil
}

// SessionResponse is the public view of a session. Tokens are never part of
// it.
type SessionResponse struct {
	ID              string               `json:"id"                          yaml:"id"`
	Provider        string               `json:"provider"                    yaml:"provider"`
	Status          domain.SessionStatus `json:"status"                      yaml:"status"`
	Comment         string               `json:"comment,omitempty"           yaml:"comment,omitempty"`
	UserName        string               `json:"user_name,omitempty"         yaml:"user_name,omitempty"`
	UserDN          string               `json:"user_dn,omitempty"           yaml:"user_dn,omitempty"`
	Reserved        bool                 `json:"reserved"                    yaml:"reserved"`
	ParentSessionID string               `json:"parent_session_id,omitempty" yaml:"parent_session_id,omitempty"`
	CreatedAt       time.Time            `json:"created_at"                  yaml:"created_at"`
	LastAccess      time.Time            `json:"last_access"                 yaml:"last_access"`
}

// FromDomainSession converts a session for API responses.
func FromDomainSession(s *domain.Session) SessionResponse {
	return SessionResponse{
		ID:              s.ID,
		Provider:        s.Provider,
		Status:          s.Status,
		Comment:         s.Comment,
		UserName:        s.UserName,
		UserDN:          s.UserDN,
		Reserved:        s.Reserved,
		ParentSessionID: s.ParentSessionID,
		CreatedAt:       s.CreatedAt,
		LastAccess:      s.LastAccess,
	}
}

// TokensResponse carries the tokens of a session.
type TokensResponse struct {
	TokenType    string    `json:"token_type"              yaml:"token_type"`
	AccessToken  string    `json:"access_token,omitempty"  yaml:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty" yaml:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"    yaml:"expires_at,omitempty"`
}

func FromDomainTokens(t domain.TokenSet) TokensResponse {
	return TokensResponse{
		TokenType:    t.TokenType,
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.ExpiresAt,
	}
}

// ToDomain converts the response back into a token set.
func (t TokensResponse) ToDomain() domain.TokenSet {
	return domain.TokenSet{
		TokenType:    t.TokenType,
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.ExpiresAt,
	}
}

// UserNameResponse carries the local user name resolved for a session.
type UserNameResponse struct {
	UserName string `json:"user_name" yaml:"user_name"`
}

// AuthLinkResponse carries the authorization URL of a prepared session.
type AuthLinkResponse struct {
	URL string `json:"url" yaml:"url"`
}

// ProxyResponse carries an issued proxy.
type ProxyResponse struct {
	DN        string    `json:"dn"         yaml:"dn"`
	ExpiresAt time.Time `json:"expires_at" yaml:"expires_at"`
	PEM       string    `json:"pem"        yaml:"pem"`
}

func FromDomainProxy(p *domain.Proxy) ProxyResponse {
	return ProxyResponse{DN: p.DN, ExpiresAt: p.ExpiresAt, PEM: p.PEM}
}

// ParseResponse is the outcome of an authorization callback.
type ParseResponse struct {
	Session     string               `json:"session"`
	Status      domain.SessionStatus `json:"status"`
	Comment     string               `json:"comment,omitempty"`
	UserProfile *domain.UserProfile  `json:"user_profile,omitempty"`
}
