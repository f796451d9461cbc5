// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/article-tracker/internal/tracker"
)

// ArticleStore keeps tracked articles in memory.
type ArticleStore struct {
	mu       sync.RWMutex
	articles map[string]tracker.Article
	byURL    map[string]string
}

// NewArticleStore constructs an ArticleStore.
func NewArticleStore() *ArticleStore {
	return &ArticleStore{
		articles: make(map[string]tracker.Article),
		byURL:    make(map[string]string),
	}
}

// CreateArticle stores a new article; URLs are unique.
func (s *ArticleStore) CreateArticle(_ context.Context, article tracker.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byURL[article.URL]; exists {
		return fmt.Errorf("create article %s: %w", article.URL, tracker.ErrDuplicateArticle)
	}
	if _, exists := s.articles[article.ID]; exists {
		return fmt.Errorf("create article %s: %w", article.ID, tracker.ErrDuplicateArticle)
	}
	s.articles[article.ID] = article
	s.byURL[article.URL] = article.ID
	return nil
}

// GetArticle fetches an article by ID.
func (s *ArticleStore) GetArticle(_ context.Context, id string) (tracker.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	article, ok := s.articles[id]
	if !ok {
		return tracker.Article{}, fmt.Errorf("article %s: %w", id, tracker.ErrNotFound)
	}
	return article, nil
}

// ListArticles returns every article ordered by creation time then ID.
func (s *ArticleStore) ListArticles(_ context.Context) ([]tracker.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tracker.Article, 0, len(s.articles))
	for _, a := range s.articles {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateSchedule overwrites the scheduler-owned fields.
func (s *ArticleStore) UpdateSchedule(_ context.Context, id string, schedule tracker.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	article, ok := s.articles[id]
	if !ok {
		return fmt.Errorf("article %s: %w", id, tracker.ErrNotFound)
	}
	schedule.Apply(&article)
	s.articles[id] = article
	return nil
}

// RecordCrawl writes the coordinator-owned fields. Zero hash and time keep
// the stored values.
func (s *ArticleStore) RecordCrawl(_ context.Context, id string, record tracker.CrawlRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	article, ok := s.articles[id]
	if !ok {
		return fmt.Errorf("article %s: %w", id, tracker.ErrNotFound)
	}
	if record.LastHash != "" {
		article.LastHash = record.LastHash
	}
	if !record.CrawledAt.IsZero() {
		article.LastCrawledAt = record.CrawledAt
	}
	article.LastError = record.LastError
	s.articles[id] = article
	return nil
}
