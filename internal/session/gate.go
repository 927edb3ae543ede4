package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"erp-session-core/internal/apiclient"
	"erp-session-core/internal/auth"
	"erp-session-core/internal/branch"
	"erp-session-core/internal/model"
)

const (
	loginPath    = "/auth/login"
	logoutPath   = "/auth/logout"
	validatePath = "/auth/validate"
	refreshPath  = "/auth/refresh"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRemoteUnreachable  = errors.New("remote unreachable")
	ErrBadResponse        = errors.New("malformed auth response")
	ErrNotAuthenticated   = errors.New("not authenticated")
)

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string            `json:"accessToken"`
	User        model.UserProfile `json:"user"`
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

type GateOptions struct {
	// TTL bounds every new or refreshed session; 0 means DefaultTTL.
	TTL    time.Duration
	Now    func() time.Time
	Logger *zap.Logger
}

// Gate is the only component that declares a user authenticated or logs
// them out. Remote calls it makes are advisory except login and refresh.
type Gate struct {
	sessions  *Store
	selection *branch.Selection
	client    *apiclient.Client
	ttl       time.Duration
	now       func() time.Time
	log       *zap.Logger
}

func NewGate(sessions *Store, selection *branch.Selection, client *apiclient.Client, opts GateOptions) *Gate {
	g := &Gate{
		sessions:  sessions,
		selection: selection,
		client:    client,
		ttl:       opts.TTL,
		now:       opts.Now,
		log:       opts.Logger,
	}
	if g.ttl <= 0 {
		g.ttl = DefaultTTL
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.log == nil {
		g.log = zap.NewNop()
	}
	return g
}

func (g *Gate) IsAuthenticated(ctx context.Context) bool {
	return g.sessions.IsAuthenticated(ctx)
}

func (g *Gate) Token(ctx context.Context) string {
	return g.sessions.Token(ctx)
}

func (g *Gate) CurrentUser(ctx context.Context) *model.UserProfile {
	if sess := g.sessions.Read(ctx); sess != nil {
		return &sess.User
	}
	return nil
}

// Login exchanges credentials at the resolved origin and stores the session.
// The session never outlives the token's own exp claim.
func (g *Gate) Login(ctx context.Context, creds Credentials) (*model.Session, error) {
	req, err := g.client.NewRequestWithToken(ctx, http.MethodPost, loginPath, "", creds)
	if err != nil {
		return nil, err
	}

	var resp loginResponse
	if err := g.client.Do(req, &resp); err != nil {
		if apiclient.IsStatus(err, http.StatusUnauthorized) || apiclient.IsStatus(err, http.StatusBadRequest) {
			return nil, ErrInvalidCredentials
		}
		return nil, remoteError(err)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("%w: missing access token", ErrBadResponse)
	}

	user := resp.User
	if user.PrimaryRole.ID == "" {
		user.PrimaryRole = primaryRole(user.Roles)
	}

	ttl, err := g.ttlFor(resp.AccessToken)
	if err != nil {
		return nil, err
	}
	sess, err := g.sessions.Save(ctx, resp.AccessToken, user, ttl)
	if err != nil {
		if errors.Is(err, ErrCorrupt) {
			return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
		return nil, fmt.Errorf("persist session: %w", err)
	}
	g.log.Info("logged in", zap.String("user", user.ID), zap.Time("expiresAt", sess.ExpiresAt))
	return sess, nil
}

// Refresh trades the current token for a new one and keeps the user.
func (g *Gate) Refresh(ctx context.Context) error {
	token := g.sessions.Token(ctx)
	if token == "" {
		return ErrNotAuthenticated
	}
	req, err := g.client.NewRequestWithToken(ctx, http.MethodPost, refreshPath, token, nil)
	if err != nil {
		return err
	}

	var resp refreshResponse
	if err := g.client.Do(req, &resp); err != nil {
		if apiclient.IsStatus(err, http.StatusUnauthorized) {
			return ErrNotAuthenticated
		}
		return remoteError(err)
	}
	if resp.AccessToken == "" {
		return fmt.Errorf("%w: missing access token", ErrBadResponse)
	}

	ttl, err := g.ttlFor(resp.AccessToken)
	if err != nil {
		return err
	}
	if !g.sessions.RefreshToken(ctx, resp.AccessToken, ttl) {
		return ErrNotAuthenticated
	}
	return nil
}

// RefreshToken stores a token obtained by a refresh exchange done elsewhere.
func (g *Gate) RefreshToken(ctx context.Context, newToken string, ttl time.Duration) bool {
	return g.sessions.RefreshToken(ctx, newToken, ttl)
}

// Logout notifies the backend, then always clears the session, then clears
// the branch selection when asked. The remote result never changes that order.
func (g *Gate) Logout(ctx context.Context, alsoForgetBranch bool) {
	if token := g.sessions.Token(ctx); token != "" {
		g.notifyLogout(ctx, token)
	}
	g.sessions.Clear(ctx)
	if alsoForgetBranch {
		g.selection.Clear(ctx)
	}
}

func (g *Gate) notifyLogout(ctx context.Context, token string) {
	req, err := g.client.NewRequestWithToken(ctx, http.MethodPost, logoutPath, token, nil)
	if err != nil {
		g.log.Warn("logout notification not sent", zap.Error(err))
		return
	}
	if err := g.client.Do(req, nil); err != nil {
		g.log.Warn("logout notification failed", zap.Error(err))
		return
	}
	g.log.Debug("logout notification delivered")
}

// ValidateRemotely asks the backend whether the token is still accepted. It
// never mutates local state.
func (g *Gate) ValidateRemotely(ctx context.Context) bool {
	token := g.sessions.Token(ctx)
	if token == "" {
		return false
	}
	req, err := g.client.NewRequestWithToken(ctx, http.MethodGet, validatePath, token, nil)
	if err != nil {
		return false
	}
	if err := g.client.Do(req, nil); err != nil {
		g.log.Debug("remote validation rejected", zap.Error(err))
		return false
	}
	return true
}

// SwitchBranch logs out (keeping nothing of the old session) and selects
// branchID. An unknown id leaves both session and selection untouched.
func (g *Gate) SwitchBranch(ctx context.Context, branchID string) (*model.SelectedBranchRecord, error) {
	if _, ok := g.selection.Registry().ByID(branchID); !ok {
		return nil, fmt.Errorf("%w: %q", branch.ErrUnknownBranch, branchID)
	}
	g.Logout(ctx, false)
	return g.selection.ChangeTo(ctx, branchID)
}

// remoteError keeps ErrRemoteUnreachable for transport failures and 5xx;
// any other failed exchange is a bad response.
func remoteError(err error) error {
	var se *apiclient.StatusError
	if errors.Is(err, apiclient.ErrUnreachable) || (errors.As(err, &se) && se.Code >= http.StatusInternalServerError) {
		return fmt.Errorf("%w: %v", ErrRemoteUnreachable, err)
	}
	return fmt.Errorf("%w: %v", ErrBadResponse, err)
}

func (g *Gate) ttlFor(token string) (time.Duration, error) {
	ttl := g.ttl
	if exp, ok := auth.TokenExpiry(token); ok {
		remaining := exp.Sub(g.now())
		if remaining <= 0 {
			return 0, fmt.Errorf("%w: token already expired", ErrBadResponse)
		}
		if remaining < ttl {
			ttl = remaining
		}
	}
	return ttl, nil
}

func primaryRole(roles []model.Role) model.Role {
	var best model.Role
	for i, r := range roles {
		if i == 0 || r.Priority > best.Priority {
			best = r
		}
	}
	return best
}
