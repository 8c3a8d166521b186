package echo_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	echoapi "github.com/pilab-dev/oauthdirac/api/echo"
	mock_echo "github.com/pilab-dev/oauthdirac/api/echo/mock"
	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/pilab-dev/oauthdirac/dto"
	apierrors "github.com/pilab-dev/oauthdirac/errors"
	"github.com/pilab-dev/oauthdirac/internal/federation"
	"github.com/pilab-dev/oauthdirac/internal/sessionmanager"
	"github.com/pilab-dev/oauthdirac/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const hostDN = "/O=Grid/CN=host/dirac.example.org"

func setup(t *testing.T) (*echo.Echo, *mock_echo.MockSessionManager) {
	t.Helper()
	ctrl := gomock.NewController(t)
	sessions := mock_echo.NewMockSessionManager(ctrl)
	e := echo.New()
	echoapi.NewSessionAPI(sessions).RegisterRoutes(e, middleware.Caller(nil, []string{hostDN}))
	return e, sessions
}

func do(e *echo.Echo, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func hostHeaders() http.Header {
	h := http.Header{}
	h.Set(federation.HeaderScheme, "https")
	h.Set(federation.HeaderClientVerify, "SUCCESS")
	h.Set(federation.HeaderClientSubject, hostDN)
	return h
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apierrors.APIError {
	t.Helper()
	var body apierrors.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestSubmitFlowHandler(t *testing.T) {
	e, sessions := setup(t)
	sessions.EXPECT().SubmitAuthorizeFlow(gomock.Any(), &domain.Caller{}, "checkin", "").
		Return(&sessionmanager.FlowResult{Status: domain.StatusNeedToAuth, Session: "abc", URL: "https://idp/authorize"}, nil)

	rec := do(e, http.MethodPost, "/api/v1/flows", `{"provider":"checkin"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body dto.FlowResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, domain.StatusNeedToAuth, body.Status)
	assert.Equal(t, "abc", body.Session)
	assert.Equal(t, "https://idp/authorize", body.URL)
	assert.Contains(t, rec.Body.String(), `"status":"needToAuth"`)
}

func TestSubmitFlowHandler_RequiresProvider(t *testing.T) {
	e, _ := setup(t)
	rec := do(e, http.MethodPost, "/api/v1/flows", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apierrors.InvalidRequest, decodeError(t, rec).Code)
}

func TestSubmitFlowHandler_UnknownProvider(t *testing.T) {
	e, sessions := setup(t)
	sessions.EXPECT().SubmitAuthorizeFlow(gomock.Any(), gomock.Any(), "nope", "").
		Return(nil, federation.ErrProviderNotFound)

	rec := do(e, http.MethodPost, "/api/v1/flows", `{"provider":"nope"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionStatusHandler(t *testing.T) {
	e, sessions := setup(t)
	trusted := &domain.Caller{DN: hostDN, TrustedHost: true}
	sessions.EXPECT().GetSessionStatus(gomock.Any(), trusted, "abc").Return(&domain.Session{
		ID:       "abc",
		Provider: "checkin",
		Status:   domain.StatusAuthed,
		UserName: "jane",
		Tokens:   domain.TokenSet{AccessToken: "secret"},
	}, nil)

	rec := do(e, http.MethodGet, "/api/v1/sessions/abc", "", hostHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"authed"`)
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestSessionHandlers_ErrorMapping(t *testing.T) {
	e, sessions := setup(t)
	sessions.EXPECT().GetSessionStatus(gomock.Any(), gomock.Any(), "gone").Return(nil, domain.ErrSessionNotFound)
	sessions.EXPECT().GetSessionTokens(gomock.Any(), gomock.Any(), "abc").Return(domain.TokenSet{}, domain.ErrForbidden)
	sessions.EXPECT().KillSession(gomock.Any(), gomock.Any(), "abc").Return(nil)
	sessions.EXPECT().LogOutSession(gomock.Any(), gomock.Any(), "abc").Return(nil)

	rec := do(e, http.MethodGet, "/api/v1/sessions/gone", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apierrors.SessionNotFound, decodeError(t, rec).Code)

	rec = do(e, http.MethodGet, "/api/v1/sessions/abc/tokens", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apierrors.Forbidden, decodeError(t, rec).Code)

	rec = do(e, http.MethodDelete, "/api/v1/sessions/abc", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(e, http.MethodPost, "/api/v1/sessions/abc/logout", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestUpdateSessionHandler(t *testing.T) {
	e, sessions := setup(t)
	sessions.EXPECT().UpdateSession(gomock.Any(), gomock.Any(), "abc", gomock.Cond(func(u domain.SessionUpdate) bool {
		return u.Status != nil && *u.Status == domain.StatusVisitor && u.Comment != nil && *u.Comment == "hi"
	})).Return(&domain.Session{ID: "abc", Status: domain.StatusVisitor, Comment: "hi"}, nil)

	rec := do(e, http.MethodPatch, "/api/v1/sessions/abc", `{"status":"visitor","comment":"hi"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(e, http.MethodPatch, "/api/v1/sessions/abc", `{"status":"bogus"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateSessionHandler(t *testing.T) {
	e, sessions := setup(t)
	sessions.EXPECT().CreateNewSession(gomock.Any(), gomock.Any(), "checkin", "").Return("new-id", nil)

	rec := do(e, http.MethodPost, "/api/v1/sessions", `{"provider":"checkin"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"session":"new-id"}`, rec.Body.String())
}

func TestReadHandlers(t *testing.T) {
	e, sessions := setup(t)
	sessions.EXPECT().GetSessionAuthLink(gomock.Any(), gomock.Any(), "abc").Return("https://idp/authorize?state=abc", nil)
	sessions.EXPECT().GetUserNameForSession(gomock.Any(), gomock.Any(), "abc").Return("jane", nil)
	sessions.EXPECT().GetIdProfiles(gomock.Any(), gomock.Any(), "jane").
		Return(map[string]*domain.Profile{"ext-1": {ExternalUserID: "ext-1", UserName: "jane"}}, nil)

	rec := do(e, http.MethodGet, "/api/v1/sessions/abc/link", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"url":"https://idp/authorize?state=abc"}`, rec.Body.String())

	rec = do(e, http.MethodGet, "/api/v1/sessions/abc/username", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user_name":"jane"}`, rec.Body.String())

	rec = do(e, http.MethodGet, "/api/v1/profiles?user=jane", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ext-1"`)
}

func TestProxyHandler(t *testing.T) {
	e, sessions := setup(t)
	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	sessions.EXPECT().GetProxy(gomock.Any(), gomock.Any(), "", "/O=Grid/CN=Jane Doe", 2*time.Hour).
		Return(&domain.Proxy{DN: "/O=Grid/CN=Jane Doe", PEM: "-----BEGIN CERTIFICATE-----", ExpiresAt: expires}, nil)

	rec := do(e, http.MethodGet, "/api/v1/proxy?dn=/O%3DGrid/CN%3DJane%20Doe&lifetime=7200", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body dto.ProxyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "/O=Grid/CN=Jane Doe", body.DN)
	assert.True(t, expires.Equal(body.ExpiresAt))

	rec = do(e, http.MethodGet, "/api/v1/proxy", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodGet, "/api/v1/proxy?dn=x&lifetime=soon", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOpenAuthLinkHandler(t *testing.T) {
	e, sessions := setup(t)
	sessions.EXPECT().OpenSessionAuthLink(gomock.Any(), "abc").Return("https://idp/authorize?state=abc", nil)
	sessions.EXPECT().OpenSessionAuthLink(gomock.Any(), "abc").Return("", domain.ErrLinkExpired)

	rec := do(e, http.MethodGet, "/auth/abc", "", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://idp/authorize?state=abc", rec.Header().Get(echo.HeaderLocation))

	rec = do(e, http.MethodGet, "/auth/abc", "", nil)
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Contains(t, rec.Body.String(), apierrors.LinkExpired)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestRedirectHandler(t *testing.T) {
	t.Run("completes the flow", func(t *testing.T) {
		e, sessions := setup(t)
		sessions.EXPECT().ParseAuthResponse(gomock.Any(), gomock.Cond(func(r federation.AuthResponse) bool {
			return r.Code == "c1" && r.State == "abc" && r.Headers.Get(federation.HeaderScheme) == "https"
		}), "").Return(&sessionmanager.ParseResult{Session: "abc", Status: domain.StatusAuthed}, nil)

		rec := do(e, http.MethodGet, "/auth/redirect?code=c1&state=abc", "", hostHeaders())
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "authed")
	})

	t.Run("json outcome", func(t *testing.T) {
		e, sessions := setup(t)
		sessions.EXPECT().ParseAuthResponse(gomock.Any(), gomock.Any(), "").
			Return(&sessionmanager.ParseResult{Session: "abc", Status: domain.StatusVisitor, Comment: "No groups"}, nil)

		rec := do(e, http.MethodGet, "/auth/redirect?code=c1&state=abc&format=json", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"session":"abc","status":"visitor","comment":"No groups"}`, rec.Body.String())
	})

	t.Run("nested flow redirects", func(t *testing.T) {
		e, sessions := setup(t)
		sessions.EXPECT().ParseAuthResponse(gomock.Any(), gomock.Any(), "").
			Return(&sessionmanager.ParseResult{Session: "abc", Status: domain.StatusRedirect, URL: "https://idp/authorize?prompt=consent"}, nil)

		rec := do(e, http.MethodGet, "/auth/redirect?code=c1&state=abc", "", nil)
		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "https://idp/authorize?prompt=consent", rec.Header().Get(echo.HeaderLocation))
	})

	t.Run("provider error", func(t *testing.T) {
		e, sessions := setup(t)
		sessions.EXPECT().ParseAuthResponse(gomock.Any(), gomock.Cond(func(r federation.AuthResponse) bool {
			return r.Error == "access_denied" && r.ErrorDescription == "user cancelled"
		}), "").Return(nil, federation.ErrProviderRejected)

		rec := do(e, http.MethodGet, "/auth/redirect?error=access_denied&error_description=user+cancelled&state=abc", "", nil)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Contains(t, rec.Body.String(), apierrors.ProviderError)
	})

	t.Run("second submission", func(t *testing.T) {
		e, sessions := setup(t)
		sessions.EXPECT().ParseAuthResponse(gomock.Any(), gomock.Any(), "").Return(nil, domain.ErrSessionAlreadySubmitted)

		rec := do(e, http.MethodGet, "/auth/redirect?code=c1&state=abc", "", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("missing state", func(t *testing.T) {
		e, _ := setup(t)
		rec := do(e, http.MethodGet, "/auth/redirect?code=c1", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
