package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-tracker/internal/discovery"
	"github.com/JakeFAU/article-tracker/internal/id/uuid"
	"github.com/JakeFAU/article-tracker/internal/scheduler"
	"github.com/JakeFAU/article-tracker/internal/storage/memory"
	"github.com/JakeFAU/article-tracker/internal/tracker"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeDiscoverer struct {
	ran chan struct{}
}

func (d *fakeDiscoverer) RunOnce(context.Context) (discovery.Result, error) {
	d.ran <- struct{}{}
	return discovery.Result{Found: 1, Added: 1}, nil
}

type testEnv struct {
	server   *Server
	sched    *scheduler.Scheduler
	versions *memory.VersionStore
	clock    *fakeClock
}

func newTestEnv(t *testing.T, opts Options) testEnv {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)}
	sched := scheduler.New(scheduler.Config{DefaultInterval: 10 * time.Minute}, memory.NewArticleStore(),
		clock, uuid.New(), zap.NewNop())
	versions := memory.NewVersionStore()
	return testEnv{
		server:   NewServer(sched, versions, opts, zap.NewNop()),
		sched:    sched,
		versions: versions,
		clock:    clock,
	}
}

func (e testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e testEnv) add(t *testing.T, url string) tracker.Article {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/articles", fmt.Sprintf(`{"url":%q,"interval_seconds":60}`, url))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var a tracker.Article
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	return a
}

func TestServer_Health(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "").Code)

	rec := env.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	failing := newTestEnv(t, Options{Readiness: func(context.Context) error { return errors.New("db down") }})
	rec = failing.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "db down")
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	env.do(t, http.MethodGet, "/healthz", "")
	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_AddArticle(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	a := env.add(t, "https://news.example/a")
	require.Equal(t, "https://news.example/a", a.URL)
	require.Equal(t, time.Minute, a.Interval)
	require.Equal(t, tracker.StatusActive, a.Status)

	rec := env.do(t, http.MethodPost, "/v1/articles", `{"url":"https://news.example/a"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	cases := map[string]string{
		"invalid json": `{"url":`,
		"missing url":  `{}`,
		"bad scheme":   `{"url":"ftp://news.example/a"}`,
		"negative":     `{"url":"https://news.example/b","interval_seconds":-1}`,
	}
	for name, body := range cases {
		rec := env.do(t, http.MethodPost, "/v1/articles", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

func TestServer_GetAndList(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	a := env.add(t, "https://news.example/a")
	env.clock.now = env.clock.now.Add(time.Second)
	env.add(t, "https://news.example/b")

	rec := env.do(t, http.MethodGet, "/v1/articles/"+a.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"next_due_at"`)

	rec = env.do(t, http.MethodGet, "/v1/articles", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Articles []tracker.Article `json:"articles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Articles, 2)
	require.Equal(t, a.ID, list.Articles[0].ID)

	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/articles/missing", "").Code)
}

func TestServer_ScheduleControls(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	a := env.add(t, "https://news.example/a")
	base := "/v1/articles/" + a.ID

	rec := env.do(t, http.MethodPut, base+"/frequency", `{"interval_seconds":30}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got, err := env.sched.Get(a.ID)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, got.Interval)

	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, base+"/frequency", `{"interval_seconds":0}`).Code)
	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodPut, "/v1/articles/nope/frequency", `{"interval_seconds":5}`).Code)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, base+"/pause", "").Code)
	got, err = env.sched.Get(a.ID)
	require.NoError(t, err)
	require.Equal(t, tracker.StatusPaused, got.Status)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, base+"/resume", "").Code)
	got, err = env.sched.Get(a.ID)
	require.NoError(t, err)
	require.Equal(t, tracker.StatusActive, got.Status)

	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/v1/articles/nope/pause", "").Code)
}

func TestServer_TriggerCrawl(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	a := env.add(t, "https://news.example/a")

	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/v1/articles/"+a.ID+"/crawl", "").Code)

	// hand the article to a worker
	for range env.sched.Due(env.clock.Now()) {
		break
	}
	require.True(t, env.sched.InFlight(a.ID))
	require.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/v1/articles/"+a.ID+"/crawl", "").Code)
	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/v1/articles/nope/crawl", "").Code)
}

func TestServer_Versions(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	a := env.add(t, "https://news.example/a")
	base := "/v1/articles/" + a.ID

	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, base+"/versions/latest", "").Code)

	ctx := context.Background()
	bodies := []string{"Erste Fassung", "Zweite Fassung", "Dritte Fassung mit Rabatt"}
	for i, body := range bodies {
		_, err := env.versions.Append(ctx, tracker.VersionDraft{
			ArticleID:    a.ID,
			PrevSequence: i,
			Hash:         fmt.Sprintf("h%d", i+1),
			Content:      tracker.Content{Title: "Titel", Body: body},
			FetchedAt:    env.clock.Now(),
		})
		require.NoError(t, err)
	}

	rec := env.do(t, http.MethodGet, base+"/versions/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var latest tracker.Version
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &latest))
	require.Equal(t, 3, latest.Sequence)

	rec = env.do(t, http.MethodGet, base+"/versions?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page historyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Versions, 2)
	require.NotNil(t, page.NextAfter)
	require.Equal(t, 2, *page.NextAfter)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("%s/versions?after=%d&limit=2", base, *page.NextAfter), "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Versions, 1)
	require.Nil(t, page.NextAfter)

	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, base+"/versions?after=x", "").Code)
	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/articles/nope/versions", "").Code)

	rec = env.do(t, http.MethodGet, "/v1/search?q=rabatt", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Dritte Fassung")
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/search", "").Code)
}

func TestServer_Discovery(t *testing.T) {
	t.Parallel()

	disabled := newTestEnv(t, Options{})
	require.Equal(t, http.StatusNotFound, disabled.do(t, http.MethodPost, "/v1/discovery/run", "").Code)

	d := &fakeDiscoverer{ran: make(chan struct{}, 1)}
	env := newTestEnv(t, Options{Discoverer: d})
	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/v1/discovery/run", "").Code)

	select {
	case <-d.ran:
	case <-time.After(time.Second):
		t.Fatal("discovery was not started")
	}
}

func TestServer_RecoversFromPanic(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	h := env.server.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
