package federation_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/pilab-dev/oauthdirac/domain"
)

// fakeIdP is a minimal OIDC provider with programmable responses.
type fakeIdP struct {
	*httptest.Server

	mu            sync.Mutex
	tokenForms    []url.Values
	revokeForms   []url.Values
	tokenStatus   int
	tokenBody     map[string]any
	userinfo      map[string]any
	userinfoAuthz string
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	f := &fakeIdP{
		tokenStatus: http.StatusOK,
		tokenBody: map[string]any{
			"access_token":  "at-1",
			"refresh_token": "rt-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
		},
		userinfo: map[string]any{"sub": "ext-123", "preferred_username": "JDoe"},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"issuer":                 f.URL,
			"authorization_endpoint": f.URL + "/authorize",
			"token_endpoint":         f.URL + "/token",
			"userinfo_endpoint":      f.URL + "/userinfo",
			"revocation_endpoint":    f.URL + "/revoke",
			"jwks_uri":               f.URL + "/jwks",
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.mu.Lock()
		f.tokenForms = append(f.tokenForms, r.PostForm)
		status, body := f.tokenStatus, f.tokenBody
		f.mu.Unlock()
		writeJSON(w, status, body)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.userinfoAuthz = r.Header.Get("Authorization")
		body := f.userinfo
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, body)
	})
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.mu.Lock()
		f.revokeForms = append(f.revokeForms, r.PostForm)
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeIdP) config() *domain.IdentityProvider {
	return &domain.IdentityProvider{
		Name:         "demoIdP",
		Kind:         domain.ProviderKindOAuth2,
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		RedirectURI:  "https://bridge.example.org/auth/redirect",
		Scopes:       []string{"openid", "profile", "offline_access"},
		Endpoints: domain.ProviderEndpoints{
			AuthorizationEndpoint: f.URL + "/authorize",
			TokenEndpoint:         f.URL + "/token",
			UserInfoEndpoint:      f.URL + "/userinfo",
			RevocationEndpoint:    f.URL + "/revoke",
		},
	}
}

func (f *fakeIdP) lastTokenForm() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tokenForms) == 0 {
		return nil
	}
	return f.tokenForms[len(f.tokenForms)-1]
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
