//nolint:varnamelen
package echo

import (
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/pilab-dev/oauthdirac/dto"
	apierrors "github.com/pilab-dev/oauthdirac/errors"
	"github.com/pilab-dev/oauthdirac/internal/federation"
	"github.com/pilab-dev/oauthdirac/middleware"
	"github.com/rs/zerolog/log"
)

// SessionAPI serves the session manager over HTTP.
type SessionAPI struct {
	sessions SessionManager
}

// NewSessionAPI creates the API handlers.
func NewSessionAPI(sessions SessionManager) *SessionAPI {
	return &SessionAPI{sessions: sessions}
}

// RegisterRoutes registers the API and browser routes. The caller middleware
// applies to the API group only; the browser endpoints need no identity.
func (a *SessionAPI) RegisterRoutes(e *echo.Echo, caller echo.MiddlewareFunc) {
	v1 := e.Group("/api/v1", caller)
	v1.POST("/flows", a.SubmitFlowHandler)
	v1.POST("/sessions", a.CreateSessionHandler)
	v1.GET("/sessions/:id", a.SessionStatusHandler)
	v1.PATCH("/sessions/:id", a.UpdateSessionHandler)
	v1.DELETE("/sessions/:id", a.KillSessionHandler)
	v1.POST("/sessions/:id/logout", a.LogOutSessionHandler)
	v1.GET("/sessions/:id/link", a.AuthLinkHandler)
	v1.GET("/sessions/:id/tokens", a.TokensHandler)
	v1.GET("/sessions/:id/username", a.UserNameHandler)
	v1.GET("/profiles", a.ProfilesHandler)
	v1.GET("/proxy", a.ProxyHandler)

	browser := e.Group("/auth", middleware.SecurityHeaders())
	browser.GET("/redirect", a.RedirectHandler)
	browser.GET("/:id", a.OpenAuthLinkHandler)
}

// SubmitFlowHandler starts an authorization flow and answers with the
// session and, when the user has to log in, the URL to send them to.
func (a *SessionAPI) SubmitFlowHandler(c echo.Context) error {
	var req dto.SubmitFlowRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, apierrors.NewInvalidRequest("malformed request body"))
	}
	if req.Provider == "" {
		return respondError(c, apierrors.NewInvalidRequest("provider is required"))
	}

	res, err := a.sessions.SubmitAuthorizeFlow(c.Request().Context(), middleware.CallerFrom(c), req.Provider, req.Session)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, dto.FlowResponse{Status: res.Status, Session: res.Session, URL: res.URL})
}

func (a *SessionAPI) CreateSessionHandler(c echo.Context) error {
	var req dto.CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, apierrors.NewInvalidRequest("malformed request body"))
	}
	if req.Provider == "" {
		return respondError(c, apierrors.NewInvalidRequest("provider is required"))
	}

	id, err := a.sessions.CreateNewSession(c.Request().Context(), middleware.CallerFrom(c), req.Provider, req.Session)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, dto.CreateSessionResponse{Session: id})
}

func (a *SessionAPI) SessionStatusHandler(c echo.Context) error {
	sess, err := a.sessions.GetSessionStatus(c.Request().Context(), middleware.CallerFrom(c), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, dto.FromDomainSession(sess))
}

func (a *SessionAPI) UpdateSessionHandler(c echo.Context) error {
	var req dto.SessionUpdateRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, apierrors.NewInvalidRequest("malformed request body"))
	}
	upd, err := req.ToDomain()
	if err != nil {
		return respondError(c, err)
	}

	sess, err := a.sessions.UpdateSession(c.Request().Context(), middleware.CallerFrom(c), c.Param("id"), upd)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, dto.FromDomainSession(sess))
}

func (a *SessionAPI) KillSessionHandler(c echo.Context) error {
	if err := a.sessions.KillSession(c.Request().Context(), middleware.CallerFrom(c), c.Param("id")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *SessionAPI) LogOutSessionHandler(c echo.Context) error {
	if err := a.sessions.LogOutSession(c.Request().Context(), middleware.CallerFrom(c), c.Param("id")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *SessionAPI) AuthLinkHandler(c echo.Context) error {
	url, err := a.sessions.GetSessionAuthLink(c.Request().Context(), middleware.CallerFrom(c), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, dto.AuthLinkResponse{URL: url})
}

func (a *SessionAPI) TokensHandler(c echo.Context) error {
	tokens, err := a.sessions.GetSessionTokens(c.Request().Context(), middleware.CallerFrom(c), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, dto.FromDomainTokens(tokens))
}

func (a *SessionAPI) UserNameHandler(c echo.Context) error {
	name, err := a.sessions.GetUserNameForSession(c.Request().Context(), middleware.CallerFrom(c), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, dto.UserNameResponse{UserName: name})
}

func (a *SessionAPI) ProfilesHandler(c echo.Context) error {
	profiles, err := a.sessions.GetIdProfiles(c.Request().Context(), middleware.CallerFrom(c), c.QueryParam("user"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, profiles)
}

// ProxyHandler issues a proxy for the dn query parameter. lifetime is in
// seconds; zero or absent means the provider maximum.
func (a *SessionAPI) ProxyHandler(c echo.Context) error {
	dn := c.QueryParam("dn")
	if dn == "" {
		return respondError(c, apierrors.NewInvalidRequest("dn is required"))
	}
	var lifetime time.Duration
	if v := c.QueryParam("lifetime"); v != "" {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil || secs < 0 {
			return respondError(c, apierrors.NewInvalidRequest("lifetime must be a number of seconds"))
		}
		lifetime = time.Duration(secs) * time.Second
	}

	proxy, err := a.sessions.GetProxy(c.Request().Context(), middleware.CallerFrom(c), c.QueryParam("provider"), dn, lifetime)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, dto.FromDomainProxy(proxy))
}

// OpenAuthLinkHandler sends the browser to the identity provider. The link
// works once and only while the session is fresh.
func (a *SessionAPI) OpenAuthLinkHandler(c echo.Context) error {
	url, err := a.sessions.OpenSessionAuthLink(c.Request().Context(), c.Param("id"))
	if err != nil {
		return renderError(c, err)
	}
	return c.Redirect(http.StatusFound, url)
}

// RedirectHandler is the callback the identity providers send the browser
// back to. A nested flow continues with another redirect; anything else ends
// on a page showing the outcome.
func (a *SessionAPI) RedirectHandler(c echo.Context) error {
	resp := federation.AuthResponse{
		Code:             c.QueryParam("code"),
		State:            c.QueryParam("state"),
		Error:            c.QueryParam("error"),
		ErrorDescription: c.QueryParam("error_description"),
		Headers:          c.Request().Header.Clone(),
	}
	if resp.State == "" {
		return renderError(c, apierrors.NewInvalidRequest("state is required"))
	}

	res, err := a.sessions.ParseAuthResponse(c.Request().Context(), resp, "")
	if err != nil {
		return renderError(c, err)
	}
	if res.Status == domain.StatusRedirect && res.URL != "" {
		return c.Redirect(http.StatusFound, res.URL)
	}
	if c.QueryParam("format") == "json" {
		return c.JSON(http.StatusOK, dto.ParseResponse{
			Session:     res.Session,
			Status:      res.Status,
			Comment:     res.Comment,
			UserProfile: res.UserProfile,
		})
	}
	return c.HTML(http.StatusOK, renderPage("Authorization complete", res.Status.String(), res.Comment))
}

func respondError(c echo.Context, err error) error {
	apiErr := apierrors.FromError(err)
	logRequestError(c, err, apiErr)
	return c.JSON(apiErr.Status, apiErr)
}

func renderError(c echo.Context, err error) error {
	apiErr := apierrors.FromError(err)
	logRequestError(c, err, apiErr)
	return c.HTML(apiErr.Status, renderPage("Authorization failed", apiErr.Code, apiErr.Description))
}

func logRequestError(c echo.Context, err error, apiErr *apierrors.APIError) {
	event := log.Debug()
	if apiErr.Status >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.Err(err).Str("path", c.Path()).Str("code", apiErr.Code).Msg("Request failed")
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html><head><title>{{.Title}}</title></head>
<body><h1>{{.Title}}</h1><p><b>{{.Status}}</b></p>{{if .Message}}<p>{{.Message}}</p>{{end}}
<p>You can close this window.</p></body></html>
`))

func renderPage(title, status, message string) string {
	var b strings.Builder
	_ = pageTemplate.Execute(&b, struct{ Title, Status, Message string }{title, status, message})
	return b.String()
}
