package domain

import (
	"slices"
	"time"
)

// DefaultTokenType is used when a provider does not name the token type.
const DefaultTokenType = "bearer"

// TokenSet is the token bundle as stored on a session.
type TokenSet struct {
	TokenType    string    `bson:"token_type"              json:"token_type"`
	AccessToken  string    `bson:"access_token,omitempty"  json:"access_token,omitempty"`
	RefreshToken string    `bson:"refresh_token,omitempty" json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `bson:"expires_at,omitempty"    json:"expires_at,omitempty"`
}

// Expired reports whether the access token is absent or past its expiry.
// A zero ExpiresAt means the provider did not tell us, which we treat as valid.
func (t TokenSet) Expired(now time.Time) bool {
	if t.AccessToken == "" {
		return true
	}
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// TokenBundle is what an identity provider hands back. ExpiresIn is relative,
// in seconds, and is turned into an absolute time only by the session store.
type TokenBundle struct {
	TokenType    string `json:"token_type"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Session tracks one authentication attempt from start to resolution.
type Session struct {
	ID              string        `bson:"_id"                         json:"id"`
	Provider        string        `bson:"provider"                    json:"provider"`
	Status          SessionStatus `bson:"status"                      json:"status"`
	Comment         string        `bson:"comment,omitempty"           json:"comment,omitempty"`
	ExternalUserID  string        `bson:"external_user_id,omitempty"  json:"external_user_id,omitempty"`
	UserName        string        `bson:"user_name,omitempty"         json:"user_name,omitempty"`
	UserDN          string        `bson:"user_dn,omitempty"           json:"user_dn,omitempty"`
	Tokens          TokenSet      `bson:"tokens"                      json:"tokens"`
	Profile         *UserProfile  `bson:"profile,omitempty"           json:"profile,omitempty"`
	Reserved        bool          `bson:"reserved"                    json:"reserved"`
	ParentSessionID string        `bson:"parent_session_id,omitempty" json:"parent_session_id,omitempty"`
	CreatedAt       time.Time     `bson:"created_at"                  json:"created_at"`
	LastAccess      time.Time     `bson:"last_access"                 json:"last_access"`
}

// Clone returns a deep copy so callers can never mutate a stored record.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Profile = s.Profile.Clone()
	return &c
}

// SessionUpdate is a partial update. Nil fields are left alone.
type SessionUpdate struct {
	Status         *SessionStatus
	Comment        *string
	ExternalUserID *string
	UserName       *string
	UserDN         *string
	Tokens         *TokenBundle
	Profile        *UserProfile
	Reserved       *bool
}

// BindsIdentity reports whether u touches the fields that tie a session to an
// identity or keep it out of the sweep.
func (u SessionUpdate) BindsIdentity() bool {
	return u.ExternalUserID != nil || u.UserName != nil || u.UserDN != nil ||
		u.Profile != nil || u.Reserved != nil
}

// Apply writes the update onto s. Token expiry is converted from relative
// seconds to an absolute time using now, and LastAccess is always stamped.
func (u SessionUpdate) Apply(s *Session, now time.Time) {
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.Comment != nil {
		s.Comment = *u.Comment
	}
	if u.ExternalUserID != nil {
		s.ExternalUserID = *u.ExternalUserID
	}
	if u.UserName != nil {
		s.UserName = *u.UserName
	}
	if u.UserDN != nil {
		s.UserDN = *u.UserDN
	}
	if u.Tokens != nil {
		s.Tokens = TokenSetFromBundle(u.Tokens, s.Tokens, now)
	}
	if u.Profile != nil {
		s.Profile = u.Profile.Clone()
	}
	if u.Reserved != nil {
		s.Reserved = *u.Reserved
	}
	s.LastAccess = now
}

// TokenSetFromBundle builds the stored token set. A refresh response without a
// refresh token keeps the previous one.
func TokenSetFromBundle(b *TokenBundle, prev TokenSet, now time.Time) TokenSet {
	ts := TokenSet{
		TokenType:    b.TokenType,
		AccessToken:  b.AccessToken,
		RefreshToken: b.RefreshToken,
	}
	if ts.TokenType == "" {
		ts.TokenType = DefaultTokenType
	}
	if ts.RefreshToken == "" {
		ts.RefreshToken = prev.RefreshToken
	}
	if b.ExpiresIn > 0 {
		ts.ExpiresAt = now.Add(time.Duration(b.ExpiresIn) * time.Second).UTC()
	}
	return ts
}

// SessionFilter narrows FindSessions. Empty fields do not filter; all set
// fields must match.
type SessionFilter struct {
	Provider         string
	ExternalUserID   string
	UserName         string
	UserDN           string
	ParentSessionID  string
	Statuses         []SessionStatus
	Reserved         *bool
	LastAccessBefore time.Time
}

// Matches evaluates the filter in memory. Backends that can push the filter
// down to a query do so, the others call Matches.
func (f SessionFilter) Matches(s *Session) bool {
	if f.Provider != "" && s.Provider != f.Provider {
		return false
	}
	if f.ExternalUserID != "" && s.ExternalUserID != f.ExternalUserID {
		return false
	}
	if f.UserName != "" && s.UserName != f.UserName {
		return false
	}
	if f.UserDN != "" && s.UserDN != f.UserDN && (s.Profile == nil || !slices.Contains(s.Profile.DNs, f.UserDN)) {
		return false
	}
	if f.ParentSessionID != "" && s.ParentSessionID != f.ParentSessionID {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, s.Status) {
		return false
	}
	if f.Reserved != nil && s.Reserved != *f.Reserved {
		return false
	}
	if !f.LastAccessBefore.IsZero() && !s.LastAccess.Before(f.LastAccessBefore) {
		return false
	}
	return true
}

// Field names accepted by the store's GetFields projection.
const (
	FieldID              = "ID"
	FieldProvider        = "Provider"
	FieldStatus          = "Status"
	FieldComment         = "Comment"
	FieldExternalUserID  = "ExternalUserID"
	FieldUserName        = "UserName"
	FieldUserDN          = "UserDN"
	FieldTokens          = "Tokens"
	FieldProfile         = "Profile"
	FieldReserved        = "Reserved"
	FieldParentSessionID = "ParentSessionID"
	FieldCreatedAt       = "CreatedAt"
	FieldLastAccess      = "LastAccess"
)

// Project copies only the named fields of s into a fresh record. The ID is
// always kept.
func (s *Session) Project(fields ...string) (*Session, error) {
	if len(fields) == 0 {
		return s.Clone(), nil
	}
	out := &Session{ID: s.ID}
	for _, f := range fields {
		switch f {
		case FieldID:
		case FieldProvider:
			out.Provider = s.Provider
		case FieldStatus:
			out.Status = s.Status
		case FieldComment:
			out.Comment = s.Comment
		case FieldExternalUserID:
			out.ExternalUserID = s.ExternalUserID
		case FieldUserName:
			out.UserName = s.UserName
		case FieldUserDN:
			out.UserDN = s.UserDN
		case FieldTokens:
			out.Tokens = s.Tokens
		case FieldProfile:
			out.Profile = s.Profile.Clone()
		case FieldReserved:
			out.Reserved = s.Reserved
		case FieldParentSessionID:
			out.ParentSessionID = s.ParentSessionID
		case FieldCreatedAt:
			out.CreatedAt = s.CreatedAt
		case FieldLastAccess:
			out.LastAccess = s.LastAccess
		default:
			return nil, &UnknownFieldError{Field: f}
		}
	}
	return out, nil
}
