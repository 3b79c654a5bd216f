package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("sess-%d", g.n), nil
}

func newTestManager() (*Manager, *MemoryStore, *fakeClock) {
	store := NewMemoryStore()
	clock := &fakeClock{now: time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)}
	return NewManager(store, &seqIDs{}, clock, Options{}, nil), store, clock
}

func TestMiddlewareCreatesSessionAndCookie(t *testing.T) {
	t.Parallel()

	m, store, clock := newTestManager()
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := FromContext(r.Context())
		sess.Data.UserID = "user-1"
		sess.Flash("Signed in.", "success")
		http.Redirect(w, r, "/dashboard/properties", http.StatusSeeOther)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusSeeOther, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	require.Equal(t, DefaultCookieName, c.Name)
	require.Equal(t, "sess-1", c.Value)
	require.True(t, c.HttpOnly)
	require.Equal(t, http.SameSiteLaxMode, c.SameSite)
	require.Equal(t, int(DefaultLifetime/time.Second), c.MaxAge)

	saved, err := store.Load(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Equal(t, "user-1", saved.Data.UserID)
	require.Len(t, saved.Data.Flashes, 1)
	require.Equal(t, clock.Now().Add(DefaultLifetime), saved.ExpiresAt)
}

func TestMiddlewareReusesSessionWithoutNewCookie(t *testing.T) {
	t.Parallel()

	m, store, _ := newTestManager()
	require.NoError(t, store.Save(context.Background(), Record{
		ID:        "existing",
		Data:      Data{UserID: "user-1", Flashes: []tracker.FlashMessage{{Message: "hi", Category: "info"}}},
		ExpiresAt: time.Date(2024, time.June, 5, 0, 0, 0, 0, time.UTC),
	}))

	var seen []tracker.FlashMessage
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := FromContext(r.Context())
		require.Equal(t, "existing", sess.ID())
		require.True(t, sess.Authenticated())
		seen = sess.Flashes()
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/clusters", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "existing"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Empty(t, rec.Result().Cookies())
	require.Equal(t, []tracker.FlashMessage{{Message: "hi", Category: "info"}}, seen)
	saved, err := store.Load(context.Background(), "existing")
	require.NoError(t, err)
	require.Empty(t, saved.Data.Flashes)
}

func TestLoadDeletesExpiredSession(t *testing.T) {
	t.Parallel()

	m, store, clock := newTestManager()
	require.NoError(t, store.Save(context.Background(), Record{ID: "old", ExpiresAt: clock.Now().Add(time.Hour)}))
	clock.advance(2 * time.Hour)

	sess, fresh, err := m.Load(context.Background(), "old")
	require.NoError(t, err)
	require.True(t, fresh)
	require.NotEqual(t, "old", sess.ID())
	_, err = store.Load(context.Background(), "old")
	require.ErrorIs(t, err, tracker.ErrNotFound)
}

func TestMiddlewareSavesWhenHandlerWritesNothing(t *testing.T) {
	t.Parallel()

	m, store, _ := newTestManager()
	h := m.Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Data.SelectedSite = "sc-domain:example.com"
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	rec, err := store.Load(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Equal(t, "sc-domain:example.com", rec.Data.SelectedSite)
}

func TestSessionHelpers(t *testing.T) {
	t.Parallel()

	s := FromContext(context.Background())
	require.False(t, s.Authenticated())
	s.Flash("a", "info")
	s.Flash("b", "danger")
	require.Len(t, s.Flashes(), 2)
	require.Empty(t, s.Flashes())

	s.Data.UserID = "u"
	s.Clear()
	require.False(t, s.Authenticated())
}

func TestRedisStoreReportsConnectionErrors(t *testing.T) {
	t.Parallel()

	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	clock := &fakeClock{now: time.Now()}
	s := NewRedisStore(rdb, clock)

	_, err := s.Load(context.Background(), "id")
	require.Error(t, err)
	require.NotErrorIs(t, err, tracker.ErrNotFound)
	require.Error(t, s.Save(context.Background(), Record{ID: "id", ExpiresAt: clock.Now().Add(time.Hour)}))
	require.Equal(t, "session:abc", key("abc"))
}
