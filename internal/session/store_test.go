package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"erp-session-core/internal/kv"
	"erp-session-core/internal/model"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func strPtr(s string) *string { return &s }

func testUser() model.UserProfile {
	admin := model.Role{ID: "r1", Name: "admin", DisplayName: "Administrator", Priority: 100, Color: strPtr("#C0392B")}
	return model.UserProfile{
		ID:          "u-17",
		Name:        "Nour Hassan",
		Email:       "nour@erp-training.app",
		Roles:       []model.Role{admin, {ID: "r2", Name: "accountant", DisplayName: "Accountant", Priority: 50}},
		PrimaryRole: admin,
	}
}

func newTestStore(t *testing.T) (*Store, *kv.Memory, *fakeClock) {
	t.Helper()
	mem := kv.NewMemory()
	clock := &fakeClock{now: time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)}
	return NewStore(mem, Options{Now: clock.Now, Logger: zaptest.NewLogger(t)}), mem, clock
}

func TestStore_SaveAndRead(t *testing.T) {
	ctx := context.Background()
	s, mem, clock := newTestStore(t)

	saved, err := s.Save(ctx, "T1", testUser(), 0)
	require.NoError(t, err)
	assert.Equal(t, clock.now.Add(DefaultTTL).UnixMilli(), saved.ExpiresAtMillis())

	snap := mem.Snapshot()
	assert.Equal(t, "T1", snap[TokenKey])
	assert.Equal(t, strconv.FormatInt(saved.ExpiresAtMillis(), 10), snap[ExpiresKey])

	got := s.Read(ctx)
	require.NotNil(t, got)
	assert.Equal(t, "T1", got.Token)
	assert.Equal(t, testUser(), got.User)
	assert.True(t, s.IsAuthenticated(ctx))
	assert.Equal(t, "T1", s.Token(ctx))
}

func TestStore_SaveRejectsIncompleteInput(t *testing.T) {
	ctx := context.Background()
	s, mem, _ := newTestStore(t)

	_, err := s.Save(ctx, "", testUser(), time.Hour)
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = s.Save(ctx, "T1", model.UserProfile{Name: "nobody"}, time.Hour)
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.Empty(t, mem.Snapshot())
}

func TestStore_LazyExpiryClearsKeys(t *testing.T) {
	ctx := context.Background()
	s, mem, clock := newTestStore(t)

	_, err := s.Save(ctx, "T1", testUser(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, s.IsAuthenticated(ctx))

	clock.Advance(100 * time.Millisecond)
	assert.True(t, s.IsAuthenticated(ctx), "expiry is exclusive of the exact instant")

	clock.Advance(time.Millisecond)
	assert.False(t, s.IsAuthenticated(ctx))
	assert.Nil(t, s.Read(ctx))
	assert.Empty(t, mem.Snapshot())
}

func TestStore_LazyExpiryWallClock(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	s := NewStore(mem, Options{})

	_, err := s.Save(ctx, "T1", testUser(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, s.IsAuthenticated(ctx))

	time.Sleep(150 * time.Millisecond)
	assert.False(t, s.IsAuthenticated(ctx))
	assert.Nil(t, s.Read(ctx))
	for _, k := range []string{TokenKey, UserKey, ExpiresKey} {
		_, ok, err := mem.Get(ctx, k)
		require.NoError(t, err)
		assert.False(t, ok, k)
	}
}

func TestStore_PartialStateIsAbsence(t *testing.T) {
	for _, missing := range []string{TokenKey, UserKey, ExpiresKey} {
		t.Run(missing, func(t *testing.T) {
			ctx := context.Background()
			s, mem, _ := newTestStore(t)
			_, err := s.Save(ctx, "T1", testUser(), time.Hour)
			require.NoError(t, err)

			require.NoError(t, mem.Delete(ctx, missing))
			assert.Nil(t, s.Read(ctx))
			assert.Empty(t, mem.Snapshot(), "partial state is cleared")
		})
	}
}

func TestStore_CorruptValuesAreAbsence(t *testing.T) {
	cases := map[string]map[string]string{
		"bad json":      {TokenKey: "T", UserKey: "{", ExpiresKey: "9999999999999"},
		"user no id":    {TokenKey: "T", UserKey: `{"name":"x"}`, ExpiresKey: "9999999999999"},
		"bad role":      {TokenKey: "T", UserKey: `{"id":"u","roles":[{"id":"","name":""}]}`, ExpiresKey: "9999999999999"},
		"bad expiry":    {TokenKey: "T", UserKey: `{"id":"u"}`, ExpiresKey: "soon"},
		"empty token":   {TokenKey: "", UserKey: `{"id":"u"}`, ExpiresKey: "9999999999999"},
		"number as ids": {TokenKey: "T", UserKey: `{"id":17}`, ExpiresKey: "9999999999999"},
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s, mem, _ := newTestStore(t)
			require.NoError(t, mem.SetMany(ctx, raw))
			assert.Nil(t, s.Read(ctx))
		})
	}
}

func TestParse(t *testing.T) {
	sess, err := Parse(map[string]string{TokenKey: "T", UserKey: `{"id":"u","name":"N"}`, ExpiresKey: "1700000000000"})
	require.NoError(t, err)
	assert.Equal(t, "u", sess.User.ID)
	assert.Equal(t, int64(1700000000000), sess.ExpiresAtMillis())

	_, err = Parse(map[string]string{TokenKey: "T", UserKey: `{"id":"u"}`})
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestStore_RefreshPreservesUser(t *testing.T) {
	ctx := context.Background()
	s, _, clock := newTestStore(t)
	before, err := s.Save(ctx, "T1", testUser(), time.Hour)
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)
	require.True(t, s.RefreshToken(ctx, "T2", 0))

	after := s.Read(ctx)
	require.NotNil(t, after)
	assert.Equal(t, "T2", after.Token)
	assert.Equal(t, before.User, after.User)
	assert.True(t, after.ExpiresAt.After(before.ExpiresAt))
	assert.Equal(t, clock.now.Add(DefaultTTL).UnixMilli(), after.ExpiresAtMillis())
}

func TestStore_RefreshWithoutSessionWritesNothing(t *testing.T) {
	ctx := context.Background()
	s, mem, _ := newTestStore(t)

	assert.False(t, s.RefreshToken(ctx, "T2", time.Hour))
	assert.Empty(t, mem.Snapshot())

	_, err := s.Save(ctx, "T1", testUser(), time.Hour)
	require.NoError(t, err)
	assert.False(t, s.RefreshToken(ctx, "", time.Hour))
}

func TestStore_StorageFailureReadsAsLoggedOut(t *testing.T) {
	ctx := context.Background()
	s, mem, _ := newTestStore(t)
	_, err := s.Save(ctx, "T1", testUser(), time.Hour)
	require.NoError(t, err)

	mem.SetFailure(errors.New("keystore locked"))
	assert.Nil(t, s.Read(ctx))
	assert.False(t, s.IsAuthenticated(ctx))
	assert.False(t, s.RefreshToken(ctx, "T2", time.Hour))
	s.Clear(ctx)

	_, err = s.Save(ctx, "T3", testUser(), time.Hour)
	assert.ErrorIs(t, err, kv.ErrUnavailable)

	mem.SetFailure(nil)
	got := s.Read(ctx)
	require.NotNil(t, got)
	assert.Equal(t, "T1", got.Token, "failed writes leave the previous session intact")
}

func TestStore_ClearIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, mem, _ := newTestStore(t)
	_, err := s.Save(ctx, "T1", testUser(), time.Hour)
	require.NoError(t, err)
	require.NoError(t, mem.Delete(ctx, UserKey))

	s.Clear(ctx)
	s.Clear(ctx)
	assert.Empty(t, mem.Snapshot())
}

// racingKV lets another writer run just before a guarded delete.
type racingKV struct {
	*kv.Memory
	beforeDelete func()
}

func (r *racingKV) DeleteIf(ctx context.Context, guardKey, guardValue string, keys ...string) (bool, error) {
	if fn := r.beforeDelete; fn != nil {
		r.beforeDelete = nil
		fn()
	}
	return r.Memory.DeleteIf(ctx, guardKey, guardValue, keys...)
}

func TestStore_ExpiryCleanupSparesConcurrentSave(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	clock := &fakeClock{now: time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)}
	shared := &racingKV{Memory: mem}
	stale := NewStore(shared, Options{Now: clock.Now, Logger: zaptest.NewLogger(t)})
	fresh := NewStore(mem, Options{Now: clock.Now, Logger: zaptest.NewLogger(t)})

	_, err := stale.Save(ctx, "T1", testUser(), time.Hour)
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)

	shared.beforeDelete = func() {
		_, err := fresh.Save(ctx, "T2", testUser(), time.Hour)
		require.NoError(t, err)
	}
	assert.Nil(t, stale.Read(ctx))

	got := fresh.Read(ctx)
	require.NotNil(t, got)
	assert.Equal(t, "T2", got.Token)
	assert.Equal(t, "T2", stale.Token(ctx))
}

func TestStore_RecoversFromCorruptStateFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0o600))

	log := zaptest.NewLogger(t)
	s := NewStore(kv.NewFileWithOptions(path, kv.FileOptions{Logger: log}), Options{Logger: log})
	assert.False(t, s.IsAuthenticated(ctx))

	_, err := s.Save(ctx, "T1", testUser(), time.Hour)
	require.NoError(t, err)

	reopened := NewStore(kv.NewFile(path), Options{})
	got := reopened.Read(ctx)
	require.NotNil(t, got)
	assert.Equal(t, "T1", got.Token)
}
