package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/gsc-tracker/internal/auth"
	"github.com/JakeFAU/gsc-tracker/internal/session"
	"github.com/JakeFAU/gsc-tracker/internal/storage/memory"
	"github.com/JakeFAU/gsc-tracker/internal/store"
	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

const (
	testSite = "https://example.com/"
	testUser = "user-1"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type seqIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n), nil
}

type fakeOAuth struct {
	creds      *tracker.Credentials
	exchErr    error
	profile    auth.Profile
	profileErr error
}

func (f *fakeOAuth) AuthCodeURL(state, redirectURL string) string {
	return "https://accounts.example/auth?state=" + url.QueryEscape(state) + "&redirect_uri=" + url.QueryEscape(redirectURL)
}

func (f *fakeOAuth) Exchange(_ context.Context, code, _ string) (*tracker.Credentials, error) {
	if f.exchErr != nil {
		return nil, f.exchErr
	}
	if code == "" {
		return nil, errors.New("missing code")
	}
	return f.creds, nil
}

func (f *fakeOAuth) UserInfo(context.Context, *tracker.Credentials) (auth.Profile, error) {
	return f.profile, f.profileErr
}

type fakeGSC struct {
	sites []tracker.Site
	err   error
}

func (f *fakeGSC) ListSites(context.Context, *tracker.Credentials) ([]tracker.Site, error) {
	return f.sites, f.err
}

func (f *fakeGSC) QueryByDate(context.Context, *tracker.Credentials, tracker.AnalyticsQuery) ([]tracker.AnalyticsRow, error) {
	return nil, nil
}

type recordingJobs struct {
	mu   sync.Mutex
	jobs []tracker.FetchJob
	err  error
}

func (r *recordingJobs) Enqueue(ctx context.Context, job tracker.FetchJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *recordingJobs) recorded() []tracker.FetchJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tracker.FetchJob(nil), r.jobs...)
}

type fakeRuns struct {
	runs      []store.FetchRun
	lastLimit int
}

func (f *fakeRuns) StartRun(context.Context, uuid.UUID, string, string, time.Time) error { return nil }

func (f *fakeRuns) AddQueries(context.Context, uuid.UUID, store.QueryDelta) error { return nil }

func (f *fakeRuns) CompleteRun(context.Context, uuid.UUID, time.Time, store.RunStatus, int64, *string) error {
	return nil
}

func (f *fakeRuns) GetRun(context.Context, uuid.UUID) (store.FetchRun, error) {
	return store.FetchRun{}, store.ErrNotFound
}

func (f *fakeRuns) ListRuns(_ context.Context, linkID string, limit, _ int) ([]store.FetchRun, error) {
	f.lastLimit = limit
	var out []store.FetchRun
	for _, run := range f.runs {
		if run.LinkID == linkID {
			out = append(out, run)
		}
	}
	return out, nil
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type harness struct {
	srv      *Server
	store    *memory.Store
	sessions *session.MemoryStore
	oauth    *fakeOAuth
	gsc      *fakeGSC
	jobs     *recordingJobs
	runs     *fakeRuns
	clock    fakeClock
}

type harnessOption func(*Deps)

func withoutRuns() harnessOption {
	return func(d *Deps) { d.Runs = nil }
}

func withChecks(checks map[string]Pinger) harnessOption {
	return func(d *Deps) { d.Checks = checks }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		store:    memory.NewStore(nil),
		sessions: session.NewMemoryStore(),
		oauth: &fakeOAuth{
			creds:   &tracker.Credentials{Token: "tok", RefreshToken: "refresh", Scopes: []string{"scope"}},
			profile: auth.Profile{Email: "ada@example.com", Name: "Ada"},
		},
		gsc:   &fakeGSC{},
		jobs:  &recordingJobs{},
		runs:  &fakeRuns{},
		clock: fakeClock{now: time.Date(2024, time.June, 10, 12, 0, 0, 0, time.UTC)},
	}
	deps := Deps{
		Store:    h.store,
		Sessions: session.NewManager(h.sessions, &seqIDs{prefix: "sess"}, h.clock, session.Options{}, zap.NewNop()),
		OAuth:    h.oauth,
		GSC:      h.gsc,
		Jobs:     h.jobs,
		Runs:     h.runs,
		IDs:      &seqIDs{prefix: "state"},
		Clock:    h.clock,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	srv, err := NewServer(deps, Options{RetentionDays: 30}, zap.NewNop())
	require.NoError(t, err)
	h.srv = srv
	return h
}

// signIn stores a session and returns its id.
func (h *harness) signIn(t *testing.T, data session.Data) string {
	t.Helper()
	id := "sid-" + uuid.NewString()
	require.NoError(t, h.sessions.Save(context.Background(), session.Record{
		ID:        id,
		Data:      data,
		ExpiresAt: h.clock.now.Add(time.Hour),
	}))
	return id
}

func (h *harness) signedInUser(t *testing.T) string {
	t.Helper()
	return h.signIn(t, session.Data{
		UserID:       testUser,
		UserEmail:    "ada@example.com",
		Credentials:  &tracker.Credentials{Token: "tok", RefreshToken: "refresh"},
		SelectedSite: testSite,
	})
}

func (h *harness) sessionData(t *testing.T, id string) session.Data {
	t.Helper()
	rec, err := h.sessions.Load(context.Background(), id)
	require.NoError(t, err)
	return rec.Data
}

type requestOption func(*http.Request)

func asHTML() requestOption {
	return func(r *http.Request) { r.Header.Set("Accept", "text/html") }
}

func withForm(values url.Values) requestOption {
	return func(r *http.Request) {
		r.Body = io.NopCloser(strings.NewReader(values.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
}

func withJSON(body string) requestOption {
	return func(r *http.Request) {
		r.Body = io.NopCloser(strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
}

func (h *harness) do(t *testing.T, method, target, sid string, opts ...requestOption) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if sid != "" {
		req.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: sid})
	}
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (h *harness) cluster(t *testing.T, userID, name string) tracker.Cluster {
	t.Helper()
	c, err := h.store.CreateCluster(context.Background(), tracker.Cluster{
		UserID:        userID,
		Domain:        testSite,
		Name:          name,
		DeviceFilter:  tracker.FilterAll,
		CountryFilter: tracker.FilterAll,
	})
	require.NoError(t, err)
	return c
}

func (h *harness) link(t *testing.T, clusterID, rawURL string) tracker.Link {
	t.Helper()
	l, err := h.store.CreateLink(context.Background(), tracker.Link{
		ClusterID: clusterID,
		URL:       rawURL,
		Status:    tracker.LinkComplete,
	})
	require.NoError(t, err)
	return l
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) detailBody {
	t.Helper()
	var body detailBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func flashMessages(data session.Data) []string {
	out := make([]string, 0, len(data.Flashes))
	for _, f := range data.Flashes {
		out = append(out, f.Message)
	}
	return out
}

func TestNewServer_RequiresDeps(t *testing.T) {
	t.Parallel()

	_, err := NewServer(Deps{}, Options{}, nil)
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	for _, path := range []string{"/health", "/healthz"} {
		rec := h.do(t, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
		require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withChecks(map[string]Pinger{
		"store": memoryPinger(),
		"redis": pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	}))
	rec := h.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body readyBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "unavailable", body.Status)
	require.Equal(t, "ok", body.Checks["store"])
	require.Equal(t, "connection refused", body.Checks["redis"])

	healthy := newHarness(t, withChecks(map[string]Pinger{"store": memoryPinger()}))
	rec = healthy.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ready"`)
}

func memoryPinger() Pinger { return memory.NewStore(nil) }

func TestNotFound_JSONAndHTML(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.JSONEq(t, `{"message":"An error occurred.","detail":"Not Found"}`, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/nope", "", asHTML())
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	require.Contains(t, rec.Body.String(), "Oops! Something went wrong.")
}

func TestIndex_RendersAndSetsCookie(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Sign in with Google")
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, session.DefaultCookieName, cookies[0].Name)
}

func TestProtectedRoutes_RedirectToAuthorize(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	for _, path := range []string{"/clusters", "/dashboard/properties", "/trash/x", "/links/l-1/performance"} {
		rec := h.do(t, http.MethodGet, path, "")
		require.Equal(t, http.StatusSeeOther, rec.Code, path)
		require.Equal(t, "/auth/authorize", rec.Header().Get("Location"), path)
	}
}

func TestAuthorize_StoresStateAndRedirects(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sid := h.signIn(t, session.Data{})
	rec := h.do(t, http.MethodGet, "/auth/authorize", sid, func(r *http.Request) {
		r.Header.Set("X-Forwarded-Proto", "https")
		r.Host = "tracker.example"
	})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	loc := rec.Header().Get("Location")
	require.Contains(t, loc, "state=state-1")
	require.Contains(t, loc, url.QueryEscape("https://tracker.example/auth/oauth2callback"))
	require.Equal(t, "state-1", h.sessionData(t, sid).State)
}

func TestOAuthCallback_StateMismatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sid := h.signIn(t, session.Data{State: "expected"})
	rec := h.do(t, http.MethodGet, "/auth/oauth2callback?state=other&code=abc", sid)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "Session state missing. Please try again.")
}

func TestOAuthCallback_SignsIn(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sid := h.signIn(t, session.Data{State: "st"})
	rec := h.do(t, http.MethodGet, "/auth/oauth2callback?state=st&code=abc", sid)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/dashboard/properties", rec.Header().Get("Location"))

	data := h.sessionData(t, sid)
	require.NotEmpty(t, data.UserID)
	require.Equal(t, "ada@example.com", data.UserEmail)
	require.Equal(t, "Ada", data.UserName)
	require.Empty(t, data.State)
	require.Equal(t, "tok", data.Credentials.Token)
	require.Contains(t, flashMessages(data), "Login successful! Welcome back.")
}

func TestOAuthCallback_ExchangeFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.oauth.exchErr = errors.New("bad code")
	sid := h.signIn(t, session.Data{State: "st"})
	rec := h.do(t, http.MethodGet, "/auth/oauth2callback?state=st&code=abc", sid)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/", rec.Header().Get("Location"))
	data := h.sessionData(t, sid)
	require.Empty(t, data.UserID)
	require.Contains(t, flashMessages(data), "Authentication failed. Please try again.")
}

func TestLogout_ClearsSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sid := h.signedInUser(t)
	rec := h.do(t, http.MethodGet, "/auth/logout", sid)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	data := h.sessionData(t, sid)
	require.Empty(t, data.UserID)
	require.Nil(t, data.Credentials)
	require.Equal(t, []string{"You have been logged out successfully."}, flashMessages(data))
}

func TestListProperties_SyncsSites(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gsc.sites = []tracker.Site{{URL: testSite, PermissionLevel: "siteOwner"}}
	sid := h.signedInUser(t)

	rec := h.do(t, http.MethodGet, "/dashboard/properties", sid)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), testSite)
	require.Contains(t, rec.Body.String(), "siteOwner")
}

func TestListProperties_GSCFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gsc.err = errors.New("quota")
	sid := h.signedInUser(t)

	rec := h.do(t, http.MethodGet, "/dashboard/properties", sid)
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestSelectProperty(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sid := h.signIn(t, session.Data{UserID: testUser})

	rec := h.do(t, http.MethodPost, "/dashboard/properties/select", sid, withForm(url.Values{"site_url": {testSite}}))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/clusters", rec.Header().Get("Location"))
	require.Equal(t, testSite, h.sessionData(t, sid).SelectedSite)

	rec = h.do(t, http.MethodPost, "/dashboard/properties/select", sid, withForm(url.Values{}))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/dashboard/properties", rec.Header().Get("Location"))
}

func TestCreateClustersJSON(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sid := h.signedInUser(t)

	rec := h.do(t, http.MethodPost, "/clusters/new-json", sid,
		withJSON(`{"clusters":[{"clusterName":"Blog","deviceFilter":"MOBILE"},{"clusterName":"  "},{"clusterName":"Docs"}]}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "Created 2 cluster(s).", decodeDetail(t, rec).Detail)

	clusters, err := h.store.ListClusters(context.Background(), testUser, testSite, false)
	require.NoError(t, err)
	require.Len(t, clusters, 2)

	rec = h.do(t, http.MethodPost, "/clusters/new-json", sid, withJSON(`{"clusters":[{"clusterName":"Blog"}]}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Cluster 'Blog' already exists for domain 'https://example.com/'.", decodeDetail(t, rec).Detail)

	rec = h.do(t, http.MethodPost, "/clusters/new-json", sid, withJSON(`{"clusters":[{"clusterName":""}]}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "All cluster names were empty or invalid.", decodeDetail(t, rec).Detail)

	rec = h.do(t, http.MethodPost, "/clusters/new-json", sid, withJSON(`{not json`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Invalid JSON payload.", decodeDetail(t, rec).Detail)
}

func TestCreateClustersJSON_TrashedName(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sid := h.signedInUser(t)
	c := h.cluster(t, testUser, "Blog")
	require.NoError(t, h.store.TrashCluster(context.Background(), c.ID, h.clock.now))

	rec := h.do(t, http.MethodPost, "/clusters/new-json", sid, withJSON(`{"clusters":[{"clusterName":"Blog"}]}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeDetail(t, rec).Detail, "is in trash")
}

func TestListAndShowCluster(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sid := h.signedInUser(t)
	c := h.cluster(t, testUser, "Blog")
	h.link(t, c.ID, "https://example.com/post")

	rec := h.do(t, http.MethodGet, "/clusters", sid)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Blog")

	rec = h.do(t, http.MethodGet, clusterPath(c.ID), sid)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "https://example.com/post")
}

func TestShowCluster_OtherUserForbidden(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sid := h.signedInUser(t)
	c := h.cluster(t, "someone-else", "Theirs")

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, clusterPath(c.ID)},
		{http.MethodPost, clusterPath(c.ID) + "/trash"},
		{http.MethodPost, clusterPath(c.ID) + "/edit"},
	} {
		rec := h.do(t, tc.method, tc.path, sid)
		require.Equal(t, http.StatusForbidden, rec.Code, tc.path)
	}
	got, err := h.store.GetCluster(context.Background(), c.ID)
	require.NoError(t, err)
	require.False(t, got.Deleted)
}

func TestEditCluster(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sid := h.signedInUser(t)
	c := h.cluster(t, testUser, "Blog")
	h.cluster(t, testUser, "Docs")

	rec := h.do(t, http.MethodPost, clusterPath(c.ID)+"/edit", sid,
		withForm(url.Values{"clusterName": {"Docs"}}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "A cluster named 'Docs' already exists for this domain.")

	rec = h.do(t, http.MethodPost, clusterPath(c.ID)+"/edit", sid,
		withForm(url.Values{"clusterName": {"Articles"}, "deviceFilter": {"DESKTOP"}, "countryFilter": {"usa,gbr"}}))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, clusterPath(c.ID), rec.Header().Get("Location"))

	got, err := h.store.GetCluster(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, "Articles", got.Name)
	require.Equal(t, "DESKTOP", got.DeviceFilter)
	require.Equal(t, "usa,gbr", got.CountryFilter)
}

func TestClusterTrashRestorePurge(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sid := h.signedInUser(t)
	c := h.cluster(t, testUser, "Blog")
	l := h.link(t, c.ID, "https://example.com/post")
	ctx := context.Background()

	rec := h.do(t, http.MethodPost, clusterPath(c.ID)+"/restore", sid)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodPost, clusterPath(c.ID)+"/trash", sid)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/clusters", rec.Header().Get("Location"))
	got, err := h.store.GetLink(ctx, l.ID)
	require.NoError(t, err)
	require.True(t, got.Deleted)

	rec = h.do(t, http.MethodPost, clusterPath(c.ID)+"/trash", sid)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Contains(t, flashMessages(h.sessionData(t, sid)), "Cluster not found or already trashed.")

	rec = h.do(t, http.MethodGet, clusterPath(c.ID), sid)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodPost, clusterPath(c.ID)+"/restore", sid)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, clusterPath(c.ID), rec.Header().Get("Location"))
	got, err = h.store.GetLink(ctx, l.ID)
	require.NoError(t, err)
	require.False(t, got.Deleted)

	rec = h.do(t, http.MethodPost, clusterPath(c.ID)+"/delete-permanently", sid)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodPost, clusterPath(c.ID)+"/delete", sid)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	rec = h.do(t, http.MethodPost, clusterPath(c.ID)+"/delete-permanently", sid)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	_, err = h.store.GetCluster(ctx, c.ID)
	require.ErrorIs(t, err, tracker.ErrNotFound)
	_, err = h.store.GetLink(ctx, l.ID)
	require.ErrorIs(t, err, tracker.ErrNotFound)
}

func TestAddLinksJSON_PartialSuccess(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sid := h.signedInUser(t)
	c := h.cluster(t, testUser, "Blog")
	h.link(t, c.ID, "https://example.com/existing")

	rec := h.do(t, http.MethodPost, clusterPath(c.ID)+"/links/add-json", sid, withJSON(`{"links":[
		"https://example.com/a",
		"  ",
		"https://other.org/b",
		"https://example.com/existing"
	]}`))
	require.Equal(t, http.StatusMultiStatus, rec.Code)
	body := decodeDetail(t, rec)
	require.Equal(t, "Added 1 link(s).", body.Detail)
	require.Equal(t, []string{
		"Link 'https://other.org/b' does not match domain 'https://example.com/'.",
		"Link 'https://example.com/existing' already exists in this cluster.",
	}, body.Errors)

	jobs := h.jobs.recorded()
	require.Len(t, jobs, 1)
	require.Equal(t, tracker.FetchReasonCreate, jobs[0].Reason)
	require.Equal(t, c.ID, jobs[0].ClusterID)
	require.Equal(t, "tok", jobs[0].Credentials.Token)

	link, err := h.store.GetLink(context.Background(), jobs[0].LinkID)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/a", link.URL)
	require.Equal(t, tracker.LinkProcessing, link.Status)
}

func TestAddLinksJSON_AllCreated(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sid := h.signedInUser(t)
	c := h.cluster(t, testUser, "Blog")

	rec := h.do(t, http.MethodPost, clusterPath(c.ID)+"/links/add-json", sid,
		withJSON(`{"links":["https://example.com/a","https://example.com/b"]}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, detailBody{Detail: "Added 2 link(s)."}, decodeDetail(t, rec))
	require.Len(t, h.jobs.recorded(), 2)
}

func TestAddLinksJSON_Rejections(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sid := h.signedInUser(t)
	c := h.cluster(t, testUser, "Blog")

	rec := h.do(t, http.MethodPost, clusterPath(c.ID)+"/links/add-json", sid, withJSON(`{"links":[]}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "No links provided.", decodeDetail(t, rec).Detail)

	rec = h.do(t, http.MethodPost, clusterPath("missing")+"/links/add-json", sid, withJSON(`{"links":["https://example.com/a"]}`))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodPost, clusterPath(c.ID)+"/links/add-json", "", withJSON(`{"links":["https://example.com/a"]}`))
	require.Equal(t, http.StatusSeeOther, rec.Code)
}

func TestAddLinksJSON_EnqueueFailureMarksError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.jobs.err = tracker.ErrQueueClosed
	sid := h.signedInUser(t)
	c := h.cluster(t, testUser, "Blog")

	rec := h.do(t, http.MethodPost, clusterPath(c.ID)+"/links/add-json", sid, withJSON(`{"links":["https://example.com/a"]}`))
	require.Equal(t, http.StatusMultiStatus, rec.Code)
	body := decodeDetail(t, rec)
	require.Equal(t, "Added 1 link(s).", body.Detail)
	require.Equal(t, []string{"Could not schedule data fetch for link 'https://example.com/a'."}, body.Errors)

	links, err := h.store.ListLinks(context.Background(), c.ID, false)
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.Equal(t, tracker.LinkError, links[0].Status)
}

func TestAddLinksForm_RequiresCredentials(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sid := h.signIn(t, session.Data{UserID: testUser, SelectedSite: testSite})
	c := h.cluster(t, testUser, "Blog")

	rec := h.do(t, http.MethodGet, clusterPath(c.ID)+"/links/add-json", sid)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Contains(t, flashMessages(h.sessionData(t, sid)), "Google OAuth credentials not found. Please log in.")

	sid = h.signedInUser(t)
	rec = h.do(t, http.MethodGet, clusterPath(c.ID)+"/links/add-json", sid)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Add links to Blog")
}

func TestRefreshLink(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sid := h.signedInUser(t)
	c := h.cluster(t, testUser, "Blog")
	l := h.link(t, c.ID, "https://example.com/post")

	rec := h.do(t, http.MethodPost, clusterPath(c.ID)+"/links/"+l.ID+"/refresh", sid)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, clusterPath(c.ID), rec.Header().Get("Location"))

	jobs := h.jobs.recorded()
	require.Len(t, jobs, 1)
	require.Equal(t, tracker.FetchReasonRefresh, jobs[0].Reason)
	got, err := h.store.GetLink(context.Background(), l.ID)
	require.NoError(t, err)
	require.Equal(t, tracker.LinkProcessing, got.Status)

	other := h.cluster(t, testUser, "Docs")
	rec = h.do(t, http.MethodPost, clusterPath(other.ID)+"/links/"+l.ID+"/refresh", sid)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "Link not found or deleted")
}

func TestEditLink(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sid := h.signedInUser(t)
	c := h.cluster(t, testUser, "Blog")
	l := h.link(t, c.ID, "https://example.com/post")
	h.link(t, c.ID, "https://example.com/taken")

	rec := h.do(t, http.MethodGet, "/links/"+l.ID+"/edit", sid)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "https://example.com/post")

	rec = h.do(t, http.MethodPost, "/links/"+l.ID+"/edit", sid, withForm(url.Values{"url": {"https://other.org/x"}}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "Link 'https://other.org/x' does not match domain 'https://example.com/'")

	rec = h.do(t, http.MethodPost, "/links/"+l.ID+"/edit", sid, withForm(url.Values{"url": {""}}))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/links/"+l.ID+"/edit", sid, withForm(url.Values{"url": {"https://example.com/taken"}}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "already exists in this cluster")

	rec = h.do(t, http.MethodPost, "/links/"+l.ID+"/edit", sid, withForm(url.Values{"url": {"https://example.com/new"}}))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	got, err := h.store.GetLink(context.Background(), l.ID)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/new", got.URL)
}

func TestLinkTrashRestorePurge(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sid := h.signedInUser(t)
	c := h.cluster(t, testUser, "Blog")
	l := h.link(t, c.ID, "https://example.com/post")
	ctx := context.Background()

	rec := h.do(t, http.MethodPost, "/links/"+l.ID+"/delete-permanently", sid)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodPost, "/links/"+l.ID+"/trash", sid)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, clusterPath(c.ID), rec.Header().Get("Location"))

	rec = h.do(t, http.MethodPost, "/links/"+l.ID+"/trash", sid)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "Link not found or already trashed.")

	rec = h.do(t, http.MethodGet, "/trash/"+url.PathEscape(testSite), sid)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "https://example.com/post")
	require.Contains(t, rec.Body.String(), "30 days")

	rec = h.do(t, http.MethodPost, "/links/"+l.ID+"/restore", sid)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	got, err := h.store.GetLink(ctx, l.ID)
	require.NoError(t, err)
	require.False(t, got.Deleted)

	rec = h.do(t, http.MethodPost, "/links/"+l.ID+"/delete", sid)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	rec = h.do(t, http.MethodPost, "/links/"+l.ID+"/delete-permanently", sid)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/clusters", rec.Header().Get("Location"))
	_, err = h.store.GetLink(ctx, l.ID)
	require.ErrorIs(t, err, tracker.ErrNotFound)
}

func TestLinkTrash_OtherUserForbidden(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sid := h.signedInUser(t)
	c := h.cluster(t, "someone-else", "Theirs")
	l := h.link(t, c.ID, "https://example.com/post")

	rec := h.do(t, http.MethodPost, "/links/"+l.ID+"/trash", sid)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), forbiddenLink)
	require.Contains(t, flashMessages(h.sessionData(t, sid)), "You do not have permission to trash this link.")
}

func TestViewTrash_ListsTrashedClusters(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sid := h.signedInUser(t)
	c := h.cluster(t, testUser, "Old blog")
	require.NoError(t, h.store.TrashCluster(context.Background(), c.ID, h.clock.now))

	rec := h.do(t, http.MethodGet, "/trash/"+testSite, sid)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Old blog")
	require.Contains(t, rec.Body.String(), "2024-06-10 12:00")
}

func seedPerformance(t *testing.T, h *harness, linkID string, rows ...tracker.PerformanceRow) {
	t.Helper()
	_, err := h.store.UpsertPerformance(context.Background(), linkID, rows, h.clock.now)
	require.NoError(t, err)
}

func TestClusterPerformance_MergesLinks(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sid := h.signedInUser(t)
	c := h.cluster(t, testUser, "Blog")
	a := h.link(t, c.ID, "https://example.com/a")
	b := h.link(t, c.ID, "https://example.com/b")
	seedPerformance(t, h, a.ID, tracker.PerformanceRow{Date: "2024-05-01", Clicks: 3, Impressions: 100, Position: 2})
	seedPerformance(t, h, b.ID, tracker.PerformanceRow{Date: "2024-05-01", Clicks: 5, Impressions: 300, Position: 6})

	rec := h.do(t, http.MethodGet, clusterPath(c.ID)+"/performance?start=2024-04-01&end=2024-05-31", sid)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "<td>2024-05-01</td><td>8</td><td>400</td><td>2.00%</td><td>5.00</td>")
	require.Contains(t, body, "1 days")
}

func TestClusterPerformance_NoLinks(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sid := h.signedInUser(t)
	c := h.cluster(t, testUser, "Empty")

	rec := h.do(t, http.MethodGet, clusterPath(c.ID)+"/performance", sid)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "No links found in this cluster.")
}

func TestLinkPerformance(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sid := h.signedInUser(t)
	c := h.cluster(t, testUser, "Blog")
	l := h.link(t, c.ID, "https://example.com/a")
	seedPerformance(t, h, l.ID,
		tracker.PerformanceRow{Date: "2024-05-01", Clicks: 1, Impressions: 10, CTR: 0.1, Position: 3},
		tracker.PerformanceRow{Date: "2024-05-02", Clicks: 2, Impressions: 10, CTR: 0.2, Position: 4},
	)

	rec := h.do(t, http.MethodGet, "/links/"+l.ID+"/performance?start=2024-05-01&end=2024-05-31", sid)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	newer := strings.Index(body, "<td>2024-05-02</td>")
	older := strings.Index(body, "<td>2024-05-01</td>")
	require.Positive(t, newer)
	require.Less(t, newer, older)

	rec = h.do(t, http.MethodGet, "/links/"+l.ID+"/performance?start=2024-01-01&end=2024-01-31", sid)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "No performance data available for the selected date range.")
}

func TestPerformance_InvalidDateRange(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sid := h.signedInUser(t)
	c := h.cluster(t, testUser, "Blog")
	l := h.link(t, c.ID, "https://example.com/a")

	for _, path := range []string{
		"/links/" + l.ID + "/performance?start=2024-05-31&end=2024-05-01",
		clusterPath(c.ID) + "/performance?start=yesterday&end=2024-05-01",
	} {
		rec := h.do(t, http.MethodGet, path, sid)
		require.Equal(t, http.StatusBadRequest, rec.Code, path)
		require.Contains(t, rec.Body.String(), "Invalid date range parameters")
	}
}

func TestLinkPerformance_MissingLink(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sid := h.signedInUser(t)

	rec := h.do(t, http.MethodGet, "/links/nope/performance", sid, asHTML())
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "Link not found")
	require.Contains(t, flashMessages(h.sessionData(t, sid)), "The requested link was not found.")
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sid := h.signedInUser(t)
	c := h.cluster(t, testUser, "Blog")
	l := h.link(t, c.ID, "https://example.com/a")
	h.runs.runs = []store.FetchRun{{ID: uuid.New(), LinkID: l.ID, Status: store.RunComplete, Dates: 4}}

	rec := h.do(t, http.MethodGet, "/links/"+l.ID+"/runs?limit=1000", sid)
	require.Equal(t, http.StatusOK, rec.Code)
	var body runsBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	require.Equal(t, store.RunComplete, body.Runs[0].Status)
	require.Equal(t, maxRunLimit, h.runs.lastLimit)

	rec = h.do(t, http.MethodGet, "/links/"+l.ID+"/runs?offset=-1", sid)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/links/"+l.ID+"/runs", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	stranger := h.signIn(t, session.Data{UserID: "someone-else"})
	rec = h.do(t, http.MethodGet, "/links/"+l.ID+"/runs", stranger)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListRuns_Unavailable(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withoutRuns())
	sid := h.signedInUser(t)
	rec := h.do(t, http.MethodGet, "/links/any/runs", sid)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestFlashesRenderOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sid := h.signIn(t, session.Data{
		UserID:  testUser,
		Flashes: []tracker.FlashMessage{{Message: "Hello there", Category: flashInfo}},
	})

	rec := h.do(t, http.MethodGet, "/", sid)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `class="flash flash-info">Hello there`)
	require.Empty(t, h.sessionData(t, sid).Flashes)

	rec = h.do(t, http.MethodGet, "/", sid)
	require.NotContains(t, rec.Body.String(), "Hello there")
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.srv.router.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := h.do(t, http.MethodGet, "/boom", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "Internal Server Error")
}
