package tracker

import (
	"context"
	"io"
	"time"
)

// ArticleStore persists tracked articles. Schedule fields and crawl fields
// are written through separate methods so each has a single writer.
type ArticleStore interface {
	CreateArticle(ctx context.Context, article Article) error
	GetArticle(ctx context.Context, id string) (Article, error)
	ListArticles(ctx context.Context) ([]Article, error)
	UpdateSchedule(ctx context.Context, id string, schedule Schedule) error
	RecordCrawl(ctx context.Context, id string, record CrawlRecord) error
}

// VersionStore is the append-only per-article history.
type VersionStore interface {
	Append(ctx context.Context, draft VersionDraft) (Version, error)
	Latest(ctx context.Context, articleID string) (Version, error)
	History(ctx context.Context, articleID string, page Page) ([]Version, error)
	Search(ctx context.Context, keyword string) ([]Version, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes version notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher retrieves the raw page of one article.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Normalizer turns raw HTML into canonical content for one page structure.
type Normalizer interface {
	Name() string
	Normalize(raw []byte, pageURL string) (Content, error)
}

// RetryPolicy decides whether and when a failed fetch is attempted again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces article IDs.
type IDGenerator interface {
	NewID() (string, error)
}
