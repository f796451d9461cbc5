// Package tracker defines core types shared across the crawl-and-version pipeline.
package tracker

import (
	"net/http"
	"time"
)

// ArticleStatus represents the tracking state of an article.
type ArticleStatus string

// Article status values persisted in the article store.
const (
	StatusActive ArticleStatus = "active"
	StatusPaused ArticleStatus = "paused"
	StatusError  ArticleStatus = "error"
)

// Article is a tracked source identified by URL.
type Article struct {
	ID                  string        `json:"id"`
	URL                 string        `json:"url"`
	Normalizer          string        `json:"normalizer"`
	BaseInterval        time.Duration `json:"base_interval"`
	Interval            time.Duration `json:"interval"`
	NextDue             time.Time     `json:"next_due_at"`
	Status              ArticleStatus `json:"status"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastHash            string        `json:"last_hash,omitempty"`
	LastCrawledAt       time.Time     `json:"last_crawled_at,omitzero"`
	LastError           string        `json:"last_error,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
}

// Schedule holds the scheduler-owned article fields.
type Schedule struct {
	BaseInterval        time.Duration
	Interval            time.Duration
	NextDue             time.Time
	Status              ArticleStatus
	ConsecutiveFailures int
}

// ScheduleOf extracts the scheduler-owned fields from an article.
func ScheduleOf(a Article) Schedule {
	return Schedule{
		BaseInterval:        a.BaseInterval,
		Interval:            a.Interval,
		NextDue:             a.NextDue,
		Status:              a.Status,
		ConsecutiveFailures: a.ConsecutiveFailures,
	}
}

// Apply copies the schedule onto the article.
func (s Schedule) Apply(a *Article) {
	a.BaseInterval = s.BaseInterval
	a.Interval = s.Interval
	a.NextDue = s.NextDue
	a.Status = s.Status
	a.ConsecutiveFailures = s.ConsecutiveFailures
}

// CrawlRecord holds the coordinator-owned article fields. Stores keep the
// previous LastHash and CrawledAt when the record leaves them zero, so a
// failed cycle only updates LastError.
type CrawlRecord struct {
	LastHash  string
	CrawledAt time.Time
	LastError string
}

// Content is the canonical form of an article page.
type Content struct {
	Title       string     `json:"title"`
	Topline     string     `json:"topline,omitempty"`
	Body        string     `json:"body"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// DiffOp identifies the kind of a diff span.
type DiffOp string

// Diff span operations.
const (
	DiffInsert DiffOp = "insert"
	DiffDelete DiffOp = "delete"
)

// DiffSpan is one added or removed run of text.
type DiffSpan struct {
	Op   DiffOp `json:"op"`
	Text string `json:"text"`
}

// DiffSummary describes how a version differs from its predecessor.
type DiffSummary struct {
	Changed      bool       `json:"changed"`
	TitleChanged bool       `json:"title_changed"`
	AddedLines   int        `json:"added_lines"`
	RemovedLines int        `json:"removed_lines"`
	Spans        []DiffSpan `json:"spans,omitempty"`
}

// Version is an immutable snapshot of an article.
type Version struct {
	ArticleID string      `json:"article_id"`
	Sequence  int         `json:"sequence"`
	Hash      string      `json:"content_hash"`
	Content   Content     `json:"content"`
	Diff      DiffSummary `json:"diff"`
	FetchedAt time.Time   `json:"fetched_at"`
	RawURI    string      `json:"raw_uri,omitempty"`
}

// VersionDraft is a version waiting for a sequence number.
type VersionDraft struct {
	ArticleID string
	// PrevSequence is the sequence the writer observed as latest (0 for none).
	PrevSequence int
	Hash         string
	Content      Content
	Diff         DiffSummary
	FetchedAt    time.Time
	RawURI       string
}

// Page selects a window of history.
type Page struct {
	AfterSequence int
	Limit         int
}

// Page limits: DefaultPageLimit applies when Page.Limit is not positive and
// larger limits are clamped to MaxPageLimit.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// Normalize fills defaults and clamps the limit.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	p.Limit = min(p.Limit, MaxPageLimit)
	if p.AfterSequence < 0 {
		p.AfterSequence = 0
	}
	return p
}

// FetchRequest captures everything needed to fetch an article page.
type FetchRequest struct {
	URL     string
	Timeout time.Duration
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Attempts   int
}

// CrawlResult is the outcome class reported to the scheduler.
type CrawlResult string

// Crawl results.
const (
	ResultChanged          CrawlResult = "changed"
	ResultUnchanged        CrawlResult = "unchanged"
	ResultTransientFailure CrawlResult = "transient_failure"
	ResultPermanentFailure CrawlResult = "permanent_failure"
	ResultAlreadyCrawling  CrawlResult = "already_crawling"
)

// Outcome is the coordinator's report on one crawl cycle.
type Outcome struct {
	Result  CrawlResult
	Version *Version
	Hash    string
	Err     error
}
