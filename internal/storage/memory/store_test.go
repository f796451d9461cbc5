package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-tracker/internal/tracker"
)

func TestArticleStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewArticleStore()
	ctx := context.Background()
	now := time.Unix(1000, 0).UTC()
	article := tracker.Article{ID: "a1", URL: "https://example.com/a", Status: tracker.StatusActive, CreatedAt: now}

	if err := store.CreateArticle(ctx, article); err != nil {
		t.Fatalf("CreateArticle() error = %v", err)
	}
	dup := article
	dup.ID = "a2"
	if err := store.CreateArticle(ctx, dup); !errors.Is(err, tracker.ErrDuplicateArticle) {
		t.Fatalf("expected duplicate article error, got %v", err)
	}

	schedule := tracker.Schedule{Interval: time.Minute, NextDue: now.Add(time.Minute), Status: tracker.StatusError}
	if err := store.UpdateSchedule(ctx, "a1", schedule); err != nil {
		t.Fatalf("UpdateSchedule() error = %v", err)
	}
	if err := store.RecordCrawl(ctx, "a1", tracker.CrawlRecord{LastHash: "h1", CrawledAt: now}); err != nil {
		t.Fatalf("RecordCrawl() error = %v", err)
	}

	got, err := store.GetArticle(ctx, "a1")
	if err != nil {
		t.Fatalf("GetArticle() error = %v", err)
	}
	if got.Status != tracker.StatusError || got.LastHash != "h1" || got.Interval != time.Minute {
		t.Fatalf("unexpected article %+v", got)
	}
	if got.URL != article.URL {
		t.Fatalf("schedule update must not touch url, got %q", got.URL)
	}

	if _, err := store.GetArticle(ctx, "missing"); !errors.Is(err, tracker.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.UpdateSchedule(ctx, "missing", schedule); !errors.Is(err, tracker.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.RecordCrawl(ctx, "missing", tracker.CrawlRecord{}); !errors.Is(err, tracker.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestArticleStoreListOrdering(t *testing.T) {
	t.Parallel()

	store := NewArticleStore()
	ctx := context.Background()
	base := time.Unix(0, 0)
	require.NoError(t, store.CreateArticle(ctx, tracker.Article{ID: "b", URL: "u2", CreatedAt: base}))
	require.NoError(t, store.CreateArticle(ctx, tracker.Article{ID: "a", URL: "u1", CreatedAt: base}))
	require.NoError(t, store.CreateArticle(ctx, tracker.Article{ID: "c", URL: "u3", CreatedAt: base.Add(-time.Second)}))

	list, err := store.ListArticles(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "a", "b"}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestVersionStoreAppendAssignsSequences(t *testing.T) {
	t.Parallel()

	store := NewVersionStore()
	ctx := context.Background()

	_, err := store.Latest(ctx, "a1")
	require.ErrorIs(t, err, tracker.ErrNotFound)

	v1, err := store.Append(ctx, tracker.VersionDraft{ArticleID: "a1", PrevSequence: 0, Hash: "h1"})
	require.NoError(t, err)
	require.Equal(t, 1, v1.Sequence)

	v2, err := store.Append(ctx, tracker.VersionDraft{ArticleID: "a1", PrevSequence: 1, Hash: "h2"})
	require.NoError(t, err)
	require.Equal(t, 2, v2.Sequence)

	latest, err := store.Latest(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, v2, latest)
}

func TestVersionStoreRejectsConflicts(t *testing.T) {
	t.Parallel()

	store := NewVersionStore()
	ctx := context.Background()
	_, err := store.Append(ctx, tracker.VersionDraft{ArticleID: "a1", Hash: "h1"})
	require.NoError(t, err)

	_, err = store.Append(ctx, tracker.VersionDraft{ArticleID: "a1", PrevSequence: 0, Hash: "h2"})
	require.ErrorIs(t, err, tracker.ErrConcurrentWriteConflict)

	_, err = store.Append(ctx, tracker.VersionDraft{ArticleID: "a1", PrevSequence: 1, Hash: "h1"})
	require.ErrorIs(t, err, tracker.ErrConcurrentWriteConflict)

	_, err = store.Append(ctx, tracker.VersionDraft{Hash: "h1"})
	require.Error(t, err)
}

func TestVersionStoreRacingAppendsProduceOneVersion(t *testing.T) {
	t.Parallel()

	store := NewVersionStore()
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := range 16 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Append(ctx, tracker.VersionDraft{ArticleID: "a1", Hash: fmt.Sprintf("h%d", i)})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 1, successes)

	history, err := store.History(ctx, "a1", tracker.Page{})
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestVersionStoreHistoryPaginationUnderConcurrency(t *testing.T) {
	t.Parallel()

	store := NewVersionStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for seq := range 10 {
				_, err := store.Append(ctx, tracker.VersionDraft{
					ArticleID:    id,
					PrevSequence: seq,
					Hash:         fmt.Sprintf("%s-%d", id, seq),
				})
				require.NoError(t, err)
			}
		}(id)
	}
	wg.Wait()

	var collected []tracker.Version
	after := 0
	for {
		page, err := store.History(ctx, "b", tracker.Page{AfterSequence: after, Limit: 3})
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		collected = append(collected, page...)
		after = page[len(page)-1].Sequence
	}
	require.Len(t, collected, 10)
	for i, v := range collected {
		require.Equal(t, i+1, v.Sequence)
		require.Equal(t, "b", v.ArticleID)
		if i > 0 {
			require.NotEqual(t, collected[i-1].Hash, v.Hash)
		}
	}

	empty, err := store.History(ctx, "missing", tracker.Page{})
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestVersionStoreHistoryHugeLimit(t *testing.T) {
	t.Parallel()

	store := NewVersionStore()
	ctx := context.Background()
	for seq := range 2 {
		_, err := store.Append(ctx, tracker.VersionDraft{ArticleID: "a", PrevSequence: seq, Hash: fmt.Sprintf("h%d", seq)})
		require.NoError(t, err)
	}

	page, err := store.History(ctx, "a", tracker.Page{AfterSequence: 1, Limit: math.MaxInt})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, 2, page[0].Sequence)

	page, err = store.History(ctx, "a", tracker.Page{AfterSequence: math.MaxInt, Limit: math.MaxInt})
	require.NoError(t, err)
	require.Empty(t, page)
}

func TestVersionStoreSearchReturnsLatestMatchPerArticle(t *testing.T) {
	t.Parallel()

	store := NewVersionStore()
	ctx := context.Background()
	appendContent := func(id string, prev int, hash string, c tracker.Content) {
		_, err := store.Append(ctx, tracker.VersionDraft{ArticleID: id, PrevSequence: prev, Hash: hash, Content: c})
		require.NoError(t, err)
	}
	appendContent("a", 0, "a1", tracker.Content{Title: "Budget talks", Body: "first"})
	appendContent("a", 1, "a2", tracker.Content{Title: "Budget passed", Body: "second"})
	appendContent("a", 2, "a3", tracker.Content{Title: "Weather", Body: "sunny"})
	appendContent("b", 0, "b1", tracker.Content{Title: "Sports", Body: "The BUDGET for stadiums"})

	results, err := store.Search(ctx, "budget")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "a", results[0].ArticleID)
	require.Equal(t, 2, results[0].Sequence)
	require.Equal(t, "b", results[1].ArticleID)

	none, err := store.Search(ctx, "  ")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestRecordCrawlFailureKeepsLastHash(t *testing.T) {
	t.Parallel()

	store := NewArticleStore()
	ctx := context.Background()
	now := time.Unix(2000, 0).UTC()
	require.NoError(t, store.CreateArticle(ctx, tracker.Article{ID: "a1", URL: "u1"}))
	require.NoError(t, store.RecordCrawl(ctx, "a1", tracker.CrawlRecord{LastHash: "h1", CrawledAt: now}))
	require.NoError(t, store.RecordCrawl(ctx, "a1", tracker.CrawlRecord{LastError: "http status 503"}))

	got, err := store.GetArticle(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, "h1", got.LastHash)
	require.Equal(t, now, got.LastCrawledAt)
	require.Equal(t, "http status 503", got.LastError)
}
