// Package sessionclient talks to a remote OAuthDIRAC bridge over its HTTP API.
package sessionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pilab-dev/oauthdirac/cache"
	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/pilab-dev/oauthdirac/dto"
	apierrors "github.com/pilab-dev/oauthdirac/errors"
)

const (
	defaultProfileTTL   = 24 * time.Hour
	defaultProviderTTL  = 24 * time.Hour
	defaultPollInterval = 5 * time.Second

	// MaxWaitTimeout caps how long WaitForSessionStatus waits for a session.
	MaxWaitTimeout = 300 * time.Second
)

// Client is a session manager client. It is safe for concurrent use.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	headers      http.Header
	pollInterval time.Duration
	waitTimeout  time.Duration

	profiles  *ttlcache.Cache[string, map[string]*domain.Profile]
	providers *cache.SessionCache[string]
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client, e.g. one presenting a host certificate.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers.Add(key, value) }
}

// WithPolling sets how often WaitForSessionStatus polls and when it gives up.
// Timeouts above MaxWaitTimeout, or not positive, are set to MaxWaitTimeout.
func WithPolling(interval, timeout time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
		if timeout <= 0 || timeout > MaxWaitTimeout {
			timeout = MaxWaitTimeout
		}
		c.waitTimeout = timeout
	}
}

// WaitTimeout returns how long WaitForSessionStatus waits at most.
func (c *Client) WaitTimeout() time.Duration { return c.waitTimeout }

// WithProfileTTL sets how long identity profiles are cached.
func WithProfileTTL(ttl time.Duration) Option {
	return func(c *Client) {
		c.profiles = ttlcache.New(ttlcache.WithTTL[string, map[string]*domain.Profile](ttl))
	}
}

// New creates a client for the bridge at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		headers:      http.Header{},
		pollInterval: defaultPollInterval,
		waitTimeout:  MaxWaitTimeout,
		profiles: ttlcache.New(
			ttlcache.WithTTL[string, map[string]*domain.Profile](defaultProfileTTL),
		),
	}
	c.providers = cache.NewSessionCache(defaultProviderTTL, func(ctx context.Context, session string) (string, error) {
		var out dto.SessionResponse
		if err := c.do(ctx, http.MethodGet, sessionPath(session, ""), nil, nil, &out); err != nil {
			return "", err
		}
		return out.Provider, nil
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close stops the session cache expiry goroutine.
func (c *Client) Close() {
	c.providers.Close()
}

// SubmitAuthorizeFlow starts or resumes an authorization flow.
func (c *Client) SubmitAuthorizeFlow(ctx context.Context, provider, session string) (*dto.FlowResponse, error) {
	var out dto.FlowResponse
	req := dto.SubmitFlowRequest{Provider: provider, Session: session}
	if err := c.do(ctx, http.MethodPost, "/api/v1/flows", nil, req, &out); err != nil {
		return nil, err
	}
	c.providers.Set(out.Session, provider)
	return &out, nil
}

// CreateNewSession creates an empty session for provider.
func (c *Client) CreateNewSession(ctx context.Context, provider, session string) (string, error) {
	var out dto.CreateSessionResponse
	req := dto.CreateSessionRequest{Provider: provider, Session: session}
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions", nil, req, &out); err != nil {
		return "", err
	}
	c.providers.Set(out.Session, provider)
	return out.Session, nil
}

// GetSessionStatus returns the public view of a session.
func (c *Client) GetSessionStatus(ctx context.Context, session string) (*dto.SessionResponse, error) {
	var out dto.SessionResponse
	if err := c.do(ctx, http.MethodGet, sessionPath(session, ""), nil, nil, &out); err != nil {
		return nil, err
	}
	if out.Provider != "" {
		c.providers.Set(session, out.Provider)
	}
	return &out, nil
}

// UpdateSession applies a partial update to a session.
func (c *Client) UpdateSession(ctx context.Context, session string, upd dto.SessionUpdateRequest) (*dto.SessionResponse, error) {
	var out dto.SessionResponse
	if err := c.do(ctx, http.MethodPatch, sessionPath(session, ""), nil, upd, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// KillSession deletes a session without telling the provider.
func (c *Client) KillSession(ctx context.Context, session string) error {
	if err := c.do(ctx, http.MethodDelete, sessionPath(session, ""), nil, nil, nil); err != nil {
		return err
	}
	c.providers.Delete(session)
	return nil
}

// LogOutSession revokes the session tokens and deletes the session.
func (c *Client) LogOutSession(ctx context.Context, session string) error {
	if err := c.do(ctx, http.MethodPost, sessionPath(session, "logout"), nil, nil, nil); err != nil {
		return err
	}
	c.providers.Delete(session)
	return nil
}

// GetSessionAuthLink returns the URL the user has to open to log in.
func (c *Client) GetSessionAuthLink(ctx context.Context, session string) (string, error) {
	var out dto.AuthLinkResponse
	if err := c.do(ctx, http.MethodGet, sessionPath(session, "link"), nil, nil, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// GetSessionTokens returns the tokens of a session the caller owns.
func (c *Client) GetSessionTokens(ctx context.Context, session string) (domain.TokenSet, error) {
	var out dto.TokensResponse
	if err := c.do(ctx, http.MethodGet, sessionPath(session, "tokens"), nil, nil, &out); err != nil {
		return domain.TokenSet{}, err
	}
	return out.ToDomain(), nil
}

// GetUserNameForSession returns the local user name resolved for a session.
func (c *Client) GetUserNameForSession(ctx context.Context, session string) (string, error) {
	var out dto.UserNameResponse
	if err := c.do(ctx, http.MethodGet, sessionPath(session, "username"), nil, nil, &out); err != nil {
		return "", err
	}
	return out.UserName, nil
}

// GetIdProfiles returns the identity profiles known for user, or all of them
// when user is empty. Answers are cached.
func (c *Client) GetIdProfiles(ctx context.Context, user string) (map[string]*domain.Profile, error) {
	if item := c.profiles.Get(user); item != nil {
		return item.Value(), nil
	}

	var query url.Values
	if user != "" {
		query = url.Values{"user": {user}}
	}
	out := map[string]*domain.Profile{}
	if err := c.do(ctx, http.MethodGet, "/api/v1/profiles", query, nil, &out); err != nil {
		return nil, err
	}
	c.profiles.Set(user, out, ttlcache.DefaultTTL)
	return out, nil
}

// InvalidateProfiles drops the cached profiles.
func (c *Client) InvalidateProfiles() {
	c.profiles.DeleteAll()
}

// GetProxy requests a proxy for dn. A zero lifetime asks for the provider
// maximum; an empty provider lets the server choose.
func (c *Client) GetProxy(ctx context.Context, provider, dn string, lifetime time.Duration) (*domain.Proxy, error) {
	query := url.Values{"dn": {dn}}
	if provider != "" {
		query.Set("provider", provider)
	}
	if lifetime > 0 {
		query.Set("lifetime", strconv.FormatInt(int64(lifetime/time.Second), 10))
	}
	var out dto.ProxyResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/proxy", query, nil, &out); err != nil {
		return nil, err
	}
	return &domain.Proxy{DN: out.DN, PEM: out.PEM, ExpiresAt: out.ExpiresAt}, nil
}

// ProviderForSession returns the provider a session belongs to, asking the
// server only when the session is not cached.
func (c *Client) ProviderForSession(ctx context.Context, session string) (string, error) {
	return c.providers.Get(ctx, session)
}

func sessionPath(session, sub string) string {
	p := "/api/v1/sessions/" + url.PathEscape(session)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &apierrors.APIError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = apierrors.ServerError
		apiErr.Description = strings.TrimSpace(string(raw))
		if apiErr.Description == "" {
			apiErr.Description = http.StatusText(resp.StatusCode)
		}
	}
	return apiErr
}

// IsNotFound reports whether err says the session does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrSessionNotFound)
}
