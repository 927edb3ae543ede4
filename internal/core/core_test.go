package core

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"erp-session-core/internal/auth"
	"erp-session-core/internal/branch"
	"erp-session-core/internal/config"
	"erp-session-core/internal/endpoint"
	"erp-session-core/internal/model"
	"erp-session-core/internal/server"
	"erp-session-core/internal/session"
	"erp-session-core/internal/store"
)

func newBackend(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := store.NewWithOptions(store.Options{HashCost: bcrypt.MinCost})
	require.NoError(t, store.SeedDemo(st, time.Now().UnixMilli()))
	srv := httptest.NewServer(server.NewRouter(server.Deps{
		Store:       st,
		TokenConfig: auth.DefaultTokenConfig("dev-secret"),
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestOpen_DefaultOriginWithoutSelection(t *testing.T) {
	c, err := Open(context.Background(), config.Config{Store: config.StoreMemory}, zaptest.NewLogger(t), Options{})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, branch.DefaultRegistry().Default().OriginURL, c.Resolver.CurrentOrigin(context.Background()))
	assert.False(t, c.Gate.IsAuthenticated(context.Background()))
}

func TestOpen_FileStoreSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{Store: config.StoreFile, StateFile: filepath.Join(t.TempDir(), "state.json")}

	c1, err := Open(ctx, cfg, zaptest.NewLogger(t), Options{})
	require.NoError(t, err)
	_, err = c1.Selection.ChangeTo(ctx, "zagazig")
	require.NoError(t, err)
	require.NoError(t, c1.Close())

	c2, err := Open(ctx, cfg, zaptest.NewLogger(t), Options{})
	require.NoError(t, err)
	defer c2.Close()
	assert.Equal(t, "https://zagazig.erp-training.app", c2.Resolver.CurrentOrigin(ctx))
}

func TestOpen_RedisStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cfg := config.Config{Store: config.StoreRedis, RedisAddr: mr.Addr(), RedisPrefix: "center:"}

	c, err := Open(ctx, cfg, zaptest.NewLogger(t), Options{})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Selection.ChangeTo(ctx, "mansoura")
	require.NoError(t, err)
	assert.True(t, mr.Exists("center:"+branch.SelectedBranchKey))

	res := c.Resolver.Resolve(ctx)
	assert.Equal(t, endpoint.TierSelected, res.Tier)
	assert.Equal(t, "mansoura", res.BranchID)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.Config{Store: "sqlite"}, nil, Options{})
	assert.Error(t, err)
}

// Select a branch, log in, log out keeping the branch, log in again and log
// out forgetting it.
func TestBranchSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	cairo := newBackend(t)
	zagazig := newBackend(t)
	registry := branch.NewRegistry("cairo",
		model.Branch{ID: "cairo", DisplayName: "Cairo", OriginURL: cairo},
		model.Branch{ID: "zagazig", DisplayName: "Zagazig", OriginURL: zagazig},
	)

	c, err := Open(ctx, config.Config{Store: config.StoreMemory, HTTPTimeout: 2 * time.Second}, zaptest.NewLogger(t), Options{Registry: registry})
	require.NoError(t, err)
	defer c.Close()

	creds := session.Credentials{Email: "accounts@erp-training.app", Password: store.DemoPassword}

	_, err = c.Gate.SwitchBranch(ctx, "zagazig")
	require.NoError(t, err)
	sess, err := c.Gate.Login(ctx, creds)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(session.DefaultTTL), sess.ExpiresAt, time.Minute)

	assert.Equal(t, zagazig, c.Resolver.CurrentOrigin(ctx))
	assert.True(t, c.Gate.IsAuthenticated(ctx))

	req, err := c.Client.NewRequest(ctx, "GET", "/auth/validate", nil)
	require.NoError(t, err)
	assert.Equal(t, zagazig+"/auth/validate", req.URL.String())

	c.Gate.Logout(ctx, false)
	assert.False(t, c.Gate.IsAuthenticated(ctx))
	rec, err := c.Selection.GetSelected(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "zagazig", rec.ID)

	_, err = c.Gate.Login(ctx, creds)
	require.NoError(t, err)
	c.Gate.Logout(ctx, true)
	rec, err = c.Selection.GetSelected(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, cairo, c.Resolver.CurrentOrigin(ctx))
}

// A request built before a logout keeps the token it captured.
func TestInFlightRequestKeepsCapturedState(t *testing.T) {
	ctx := context.Background()
	origin := newBackend(t)
	registry := branch.NewRegistry("cairo", model.Branch{ID: "cairo", OriginURL: origin})

	c, err := Open(ctx, config.Config{Store: config.StoreMemory}, zaptest.NewLogger(t), Options{Registry: registry})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Gate.Login(ctx, session.Credentials{Email: "instructor@erp-training.app", Password: store.DemoPassword})
	require.NoError(t, err)
	token := c.Gate.Token(ctx)

	req, err := c.Client.NewRequest(ctx, "GET", "/auth/validate", nil)
	require.NoError(t, err)

	c.Sessions.Clear(ctx)
	assert.Equal(t, "Bearer "+token, req.Header.Get("Authorization"))
	require.NoError(t, c.Client.Do(req, nil))
}

type mapEnv map[string]string

func (m mapEnv) Getenv(key string) string { return m[key] }

func TestOpenFromEnv(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	c, err := OpenFromEnv(ctx, mapEnv{
		"ERP_STATE_FILE": path,
		"ERP_LOG_LEVEL":  "debug",
		"ERP_DEV":        "1",
	}, Options{})
	require.NoError(t, err)
	defer c.Close()

	assert.True(t, c.Logger.Core().Enabled(zapcore.DebugLevel))
	_, err = c.Selection.ChangeTo(ctx, "alexandria")
	require.NoError(t, err)
	_, err = os.Stat(path)
	assert.NoError(t, err, "file store is the default backend")
}

func TestOpenFromEnv_InvalidSettings(t *testing.T) {
	ctx := context.Background()
	_, err := OpenFromEnv(ctx, mapEnv{"ERP_STORE": "memory", "ERP_LOG_LEVEL": "loud"}, Options{})
	assert.Error(t, err)

	_, err = OpenFromEnv(ctx, mapEnv{"ERP_STORE": "tape"}, Options{})
	assert.Error(t, err)
}

func TestOpen_RecoversFromCorruptStateFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0o600))

	c, err := Open(ctx, config.Config{Store: config.StoreFile, StateFile: path}, zaptest.NewLogger(t), Options{})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, endpoint.TierDefault, c.Resolver.Resolve(ctx).Tier)
	_, err = c.Selection.ChangeTo(ctx, "zagazig")
	require.NoError(t, err)
	res := c.Resolver.Resolve(ctx)
	assert.Equal(t, endpoint.TierSelected, res.Tier)
	assert.Equal(t, "https://zagazig.erp-training.app", res.Origin)
}
