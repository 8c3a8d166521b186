package echo

import (
	"context"
	"time"

	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/pilab-dev/oauthdirac/internal/federation"
	"github.com/pilab-dev/oauthdirac/internal/sessionmanager"
)

// SessionManager is the part of the session manager served over HTTP.
//
//go:generate go run go.uber.org/mock/mockgen -source=$GOFILE -destination=mock/mock_$GOFILE -package=mock_$GOPACKAGE SessionManager
type SessionManager interface {
	SubmitAuthorizeFlow(ctx context.Context, caller *domain.Caller, provider, sessionID string) (*sessionmanager.FlowResult, error)
	ParseAuthResponse(ctx context.Context, resp federation.AuthResponse, session string) (*sessionmanager.ParseResult, error)
	CreateNewSession(ctx context.Context, caller *domain.Caller, provider, sessionID string) (string, error)
	UpdateSession(ctx context.Context, caller *domain.Caller, id string, upd domain.SessionUpdate) (*domain.Session, error)
	KillSession(ctx context.Context, caller *domain.Caller, id string) error
	LogOutSession(ctx context.Context, caller *domain.Caller, id string) error
	GetSessionAuthLink(ctx context.Context, caller *domain.Caller, id string) (string, error)
	OpenSessionAuthLink(ctx context.Context, id string) (string, error)
	GetSessionStatus(ctx context.Context, caller *domain.Caller, id string) (*domain.Session, error)
	GetSessionTokens(ctx context.Context, caller *domain.Caller, id string) (domain.TokenSet, error)
	GetUserNameForSession(ctx context.Context, caller *domain.Caller, id string) (string, error)
	GetIdProfiles(ctx context.Context, caller *domain.Caller, userName string) (map[string]*domain.Profile, error)
	GetProxy(ctx context.Context, caller *domain.Caller, provider, dn string, lifetime time.Duration) (*domain.Proxy, error)
}

var _ SessionManager = (*sessionmanager.Manager)(nil)
