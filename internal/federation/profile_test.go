package federation_test

import (
	"testing"

	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/pilab-dev/oauthdirac/internal/federation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUserName(t *testing.T) {
	tests := []struct {
		name   string
		claims map[string]any
		want   string
	}{
		{"preferred username wins", map[string]any{"preferred_username": "J.Doe", "given_name": "Jane", "family_name": "Doe"}, "jdoe"},
		{"given and family", map[string]any{"given_name": "Jane", "family_name": "O'Brien"}, "jobrien"},
		{"full name", map[string]any{"name": "Jane  Doe Junior"}, "jdoe"},
		{"single word name", map[string]any{"name": "Jane"}, ""},
		{"nothing", map[string]any{}, ""},
		{"truncated", map[string]any{"preferred_username": "averyveryverylongusername"}, "averyveryvery"},
		{"non ascii initial", map[string]any{"given_name": "Ádám", "family_name": "Kovacs"}, "kovacs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, federation.NormalizeUserName(tt.claims))
		})
	}
}

func TestParseProfile(t *testing.T) {
	cfg := &domain.IdentityProvider{Name: "demoIdP", DNClaim: "cert_subject", ProxyProvider: "demoProxy"}

	_, err := federation.ParseProfile(cfg, map[string]any{"name": "x"})
	assert.ErrorIs(t, err, federation.ErrMissingSubjectClaim)

	p, err := federation.ParseProfile(cfg, map[string]any{
		"sub":          "ext-1",
		"name":         "Jane Doe",
		"cert_subject": "/CN=a, /CN=b",
	})
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", p.FullName)
	assert.Equal(t, []string{"/CN=a", "/CN=b"}, p.DNs)
	assert.Equal(t, []string{"demoProxy"}, p.ProxyProviders)
	assert.Empty(t, p.Groups)
}

func TestParseProfile_BadVOMSPattern(t *testing.T) {
	cfg := &domain.IdentityProvider{Name: "demoIdP", VOMSClaim: "vo", VOMSPattern: "(?P<VO>"}
	_, err := federation.ParseProfile(cfg, map[string]any{"sub": "x", "vo": "a"})
	assert.ErrorIs(t, err, federation.ErrProviderMisconfigured)

	cfg.VOMSPattern = "(?P<NAME>.*)"
	_, err = federation.ParseProfile(cfg, map[string]any{"sub": "x", "vo": "a"})
	assert.ErrorIs(t, err, federation.ErrProviderMisconfigured)
}

func TestParseProfile_VOWithoutRole(t *testing.T) {
	cfg := &domain.IdentityProvider{
		Name:        "demoIdP",
		VOMSClaim:   "vo",
		VOMSPattern: `^(?P<VO>[a-z]+)(:(?P<ROLE>[a-z]+))?$`,
		VOMSGroups:  map[string][]string{"/biomed": {"biomed_user"}},
	}
	p, err := federation.ParseProfile(cfg, map[string]any{"sub": "x", "vo": "biomed"})
	require.NoError(t, err)
	assert.Equal(t, []string{"biomed_user"}, p.Groups)
	assert.Equal(t, []string{"/biomed"}, p.VOMSRoles)
	assert.Empty(t, p.NoSupport)
}
