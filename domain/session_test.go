package domain_test

import (
	"testing"
	"time"

	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionUpdate_ApplyConvertsRelativeExpiry(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	s := &domain.Session{ID: "abc", Tokens: domain.TokenSet{RefreshToken: "old-refresh"}}

	domain.SessionUpdate{
		Tokens: &domain.TokenBundle{AccessToken: "at", ExpiresIn: 3600},
	}.Apply(s, now)

	assert.Equal(t, now, s.LastAccess)
	assert.Equal(t, "at", s.Tokens.AccessToken)
	assert.Equal(t, domain.DefaultTokenType, s.Tokens.TokenType)
	assert.Equal(t, "old-refresh", s.Tokens.RefreshToken, "refresh token must survive a refresh response without one")
	assert.Equal(t, 3600*time.Second, s.Tokens.ExpiresAt.Sub(now))
}

func TestSessionUpdate_ApplyOnlyTouchesSetFields(t *testing.T) {
	now := time.Now()
	s := &domain.Session{ID: "abc", Comment: "keep", Status: domain.StatusPrepared}
	status := domain.StatusFinishing

	domain.SessionUpdate{Status: &status}.Apply(s, now)

	assert.Equal(t, domain.StatusFinishing, s.Status)
	assert.Equal(t, "keep", s.Comment)
}

func TestTokenSet_Expired(t *testing.T) {
	now := time.Now()
	assert.True(t, domain.TokenSet{}.Expired(now))
	assert.False(t, domain.TokenSet{AccessToken: "x"}.Expired(now))
	assert.True(t, domain.TokenSet{AccessToken: "x", ExpiresAt: now.Add(-time.Second)}.Expired(now))
	assert.False(t, domain.TokenSet{AccessToken: "x", ExpiresAt: now.Add(time.Minute)}.Expired(now))
}

func TestSessionFilter_Matches(t *testing.T) {
	reserved := true
	s := &domain.Session{
		ID:             "s1",
		Provider:       "demoIdP",
		ExternalUserID: "ext-1",
		Status:         domain.StatusReserved,
		Reserved:       true,
		Profile:        &domain.UserProfile{DNs: []string{"/O=Grid/CN=Jane"}},
		LastAccess:     time.Now().Add(-2 * time.Hour),
	}

	assert.True(t, domain.SessionFilter{}.Matches(s))
	assert.True(t, domain.SessionFilter{Provider: "demoIdP", ExternalUserID: "ext-1", Reserved: &reserved}.Matches(s))
	assert.True(t, domain.SessionFilter{UserDN: "/O=Grid/CN=Jane"}.Matches(s))
	assert.True(t, domain.SessionFilter{LastAccessBefore: time.Now().Add(-time.Hour)}.Matches(s))
	assert.False(t, domain.SessionFilter{LastAccessBefore: time.Now().Add(-3 * time.Hour)}.Matches(s))
	assert.False(t, domain.SessionFilter{Statuses: []domain.SessionStatus{domain.StatusAuthed}}.Matches(s))
	assert.False(t, domain.SessionFilter{Provider: "other"}.Matches(s))
}

func TestSession_Project(t *testing.T) {
	s := &domain.Session{ID: "s1", Provider: "p", Status: domain.StatusAuthed, Comment: "hello"}

	out, err := s.Project(domain.FieldStatus, domain.FieldProvider)
	require.NoError(t, err)
	assert.Equal(t, "s1", out.ID)
	assert.Equal(t, "p", out.Provider)
	assert.Equal(t, domain.StatusAuthed, out.Status)
	assert.Empty(t, out.Comment)

	_, err = s.Project("Password")
	assert.ErrorIs(t, err, domain.ErrUnknownField)
}

func TestSessionUpdate_BindsIdentity(t *testing.T) {
	comment, name, reserved := "c", "jdoe", true
	assert.False(t, domain.SessionUpdate{}.BindsIdentity())
	assert.False(t, domain.SessionUpdate{Comment: &comment, Tokens: &domain.TokenBundle{}}.BindsIdentity())
	assert.True(t, domain.SessionUpdate{Reserved: &reserved}.BindsIdentity())
	assert.True(t, domain.SessionUpdate{UserName: &name}.BindsIdentity())
	assert.True(t, domain.SessionUpdate{Profile: &domain.UserProfile{}}.BindsIdentity())
}
