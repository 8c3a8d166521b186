package sessionclient_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	echoapi "github.com/pilab-dev/oauthdirac/api/echo"
	mock_echo "github.com/pilab-dev/oauthdirac/api/echo/mock"
	"github.com/pilab-dev/oauthdirac/domain"
	apierrors "github.com/pilab-dev/oauthdirac/errors"
	"github.com/pilab-dev/oauthdirac/internal/federation"
	"github.com/pilab-dev/oauthdirac/internal/sessionmanager"
	"github.com/pilab-dev/oauthdirac/middleware"
	"github.com/pilab-dev/oauthdirac/sessionclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const hostDN = "/O=Grid/CN=host/dirac.example.org"

func host() *domain.Caller {
	return &domain.Caller{DN: hostDN, TrustedHost: true}
}

func setup(t *testing.T, opts ...sessionclient.Option) (*sessionclient.Client, *mock_echo.MockSessionManager) {
	t.Helper()
	ctrl := gomock.NewController(t)
	sessions := mock_echo.NewMockSessionManager(ctrl)

	e := echo.New()
	echoapi.NewSessionAPI(sessions).RegisterRoutes(e, middleware.Caller(nil, []string{hostDN}))
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	opts = append([]sessionclient.Option{
		sessionclient.WithHeader(federation.HeaderScheme, "https"),
		sessionclient.WithHeader(federation.HeaderClientVerify, "SUCCESS"),
		sessionclient.WithHeader(federation.HeaderClientSubject, hostDN),
	}, opts...)
	client := sessionclient.New(srv.URL+"/", opts...)
	t.Cleanup(client.Close)
	return client, sessions
}

func TestSubmitAuthorizeFlow(t *testing.T) {
	client, sessions := setup(t)
	sessions.EXPECT().SubmitAuthorizeFlow(gomock.Any(), host(), "checkin", "").
		Return(&sessionmanager.FlowResult{Status: domain.StatusNeedToAuth, Session: "s1", URL: "https://bridge/auth/s1"}, nil)

	res, err := client.SubmitAuthorizeFlow(context.Background(), "checkin", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNeedToAuth, res.Status)
	assert.Equal(t, "s1", res.Session)
	assert.Equal(t, "https://bridge/auth/s1", res.URL)

	// The provider is remembered without asking the server.
	provider, err := client.ProviderForSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "checkin", provider)
}

func TestProviderForSession_LoadsOnce(t *testing.T) {
	client, sessions := setup(t)
	sessions.EXPECT().GetSessionStatus(gomock.Any(), host(), "s2").
		Return(&domain.Session{ID: "s2", Provider: "egi", Status: domain.StatusAuthed}, nil).Times(1)
	sessions.EXPECT().GetSessionStatus(gomock.Any(), host(), "gone").
		Return(nil, domain.ErrSessionNotFound).Times(2)

	for i := 0; i < 3; i++ {
		provider, err := client.ProviderForSession(context.Background(), "s2")
		require.NoError(t, err)
		assert.Equal(t, "egi", provider)
	}

	// Misses are not cached.
	for i := 0; i < 2; i++ {
		_, err := client.ProviderForSession(context.Background(), "gone")
		assert.True(t, sessionclient.IsNotFound(err))
	}
}

func TestErrorsMapToDomain(t *testing.T) {
	client, sessions := setup(t)
	sessions.EXPECT().GetSessionStatus(gomock.Any(), host(), "gone").
		Return(nil, domain.ErrSessionNotFound)
	sessions.EXPECT().GetSessionTokens(gomock.Any(), host(), "s1").
		Return(domain.TokenSet{}, domain.ErrForbidden)

	_, err := client.GetSessionStatus(context.Background(), "gone")
	require.Error(t, err)
	assert.True(t, sessionclient.IsNotFound(err))

	var apiErr *apierrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.Status)

	_, err = client.GetSessionTokens(context.Background(), "s1")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestSessionOperations(t *testing.T) {
	client, sessions := setup(t)
	ctx := context.Background()
	expires := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	sessions.EXPECT().CreateNewSession(gomock.Any(), host(), "checkin", "").Return("s2", nil)
	sessions.EXPECT().GetSessionAuthLink(gomock.Any(), host(), "s2").Return("https://idp/authorize?state=s2", nil)
	sessions.EXPECT().GetSessionTokens(gomock.Any(), host(), "s2").
		Return(domain.TokenSet{TokenType: "bearer", AccessToken: "at", ExpiresAt: expires}, nil)
	sessions.EXPECT().GetUserNameForSession(gomock.Any(), host(), "s2").Return("jane", nil)
	sessions.EXPECT().LogOutSession(gomock.Any(), host(), "s2").Return(nil)

	id, err := client.CreateNewSession(ctx, "checkin", "")
	require.NoError(t, err)
	assert.Equal(t, "s2", id)

	link, err := client.GetSessionAuthLink(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "https://idp/authorize?state=s2", link)

	tokens, err := client.GetSessionTokens(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "at", tokens.AccessToken)
	assert.True(t, tokens.ExpiresAt.Equal(expires))

	name, err := client.GetUserNameForSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "jane", name)

	require.NoError(t, client.LogOutSession(ctx, id))
}

func TestGetIdProfiles_Cached(t *testing.T) {
	client, sessions := setup(t)
	profiles := map[string]*domain.Profile{
		"ext-jane": {ExternalUserID: "ext-jane", Provider: "checkin", UserName: "jane"},
	}
	sessions.EXPECT().GetIdProfiles(gomock.Any(), host(), "jane").Return(profiles, nil).Times(2)

	for range 3 {
		got, err := client.GetIdProfiles(context.Background(), "jane")
		require.NoError(t, err)
		require.Contains(t, got, "ext-jane")
		assert.Equal(t, "checkin", got["ext-jane"].Provider)
	}

	client.InvalidateProfiles()
	_, err := client.GetIdProfiles(context.Background(), "jane")
	require.NoError(t, err)
}

func TestGetProxy(t *testing.T) {
	client, sessions := setup(t)
	expires := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	sessions.EXPECT().GetProxy(gomock.Any(), host(), "MyProxy", "/O=Grid/CN=Jane", 12*time.Hour).
		Return(&domain.Proxy{DN: "/O=Grid/CN=Jane", PEM: "-----BEGIN CERTIFICATE-----", ExpiresAt: expires}, nil)

	proxy, err := client.GetProxy(context.Background(), "MyProxy", "/O=Grid/CN=Jane", 12*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "/O=Grid/CN=Jane", proxy.DN)
	assert.True(t, proxy.ExpiresAt.Equal(expires))
}

func TestWaitForSessionStatus(t *testing.T) {
	t.Run("returns once resolved", func(t *testing.T) {
		client, sessions := setup(t, sessionclient.WithPolling(5*time.Millisecond, time.Second))
		gomock.InOrder(
			sessions.EXPECT().GetSessionStatus(gomock.Any(), host(), "s1").
				Return(&domain.Session{ID: "s1", Provider: "checkin", Status: domain.StatusPrepared}, nil).Times(2),
			sessions.EXPECT().GetSessionStatus(gomock.Any(), host(), "s1").
				Return(&domain.Session{ID: "s1", Provider: "checkin", Status: domain.StatusAuthed, UserName: "jane"}, nil),
		)

		sess, err := client.WaitForSessionStatus(context.Background(), "s1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusAuthed, sess.Status)
		assert.Equal(t, "jane", sess.UserName)
	})

	t.Run("stops on failure", func(t *testing.T) {
		client, sessions := setup(t, sessionclient.WithPolling(5*time.Millisecond, time.Second))
		sessions.EXPECT().GetSessionStatus(gomock.Any(), host(), "s1").
			Return(&domain.Session{ID: "s1", Status: domain.StatusFailed, Comment: "access_denied"}, nil)

		_, err := client.WaitForSessionStatus(context.Background(), "s1")
		require.ErrorIs(t, err, sessionclient.ErrSessionFailed)
		assert.Contains(t, err.Error(), "access_denied")
	})

	t.Run("kills the session on timeout", func(t *testing.T) {
		client, sessions := setup(t, sessionclient.WithPolling(5*time.Millisecond, 30*time.Millisecond))
		sessions.EXPECT().GetSessionStatus(gomock.Any(), host(), "s1").
			Return(&domain.Session{ID: "s1", Status: domain.StatusInProgress}, nil).AnyTimes()
		sessions.EXPECT().KillSession(gomock.Any(), host(), "s1").Return(nil)

		_, err := client.WaitForSessionStatus(context.Background(), "s1", domain.StatusAuthed)
		require.ErrorIs(t, err, sessionclient.ErrWaitTimeout)
	})

	t.Run("kills the session when the caller deadline passes", func(t *testing.T) {
		client, sessions := setup(t, sessionclient.WithPolling(5*time.Millisecond, time.Minute))
		sessions.EXPECT().GetSessionStatus(gomock.Any(), host(), "s1").
			Return(&domain.Session{ID: "s1", Status: domain.StatusInProgress}, nil).AnyTimes()
		sessions.EXPECT().KillSession(gomock.Any(), host(), "s1").Return(nil)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		_, err := client.WaitForSessionStatus(ctx, "s1", domain.StatusAuthed)
		require.ErrorIs(t, err, sessionclient.ErrWaitTimeout)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("timeout is capped", func(t *testing.T) {
		client := sessionclient.New("http://bridge", sessionclient.WithPolling(time.Second, time.Hour))
		defer client.Close()
		assert.Equal(t, sessionclient.MaxWaitTimeout, client.WaitTimeout())

		client = sessionclient.New("http://bridge", sessionclient.WithPolling(time.Second, time.Minute))
		defer client.Close()
		assert.Equal(t, time.Minute, client.WaitTimeout())
	})

	t.Run("unknown session ends the wait", func(t *testing.T) {
		client, sessions := setup(t, sessionclient.WithPolling(5*time.Millisecond, time.Second))
		sessions.EXPECT().GetSessionStatus(gomock.Any(), host(), "s1").Return(nil, domain.ErrSessionNotFound)

		_, err := client.WaitForSessionStatus(context.Background(), "s1")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})
}
