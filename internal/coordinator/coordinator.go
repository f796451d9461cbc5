// Package coordinator runs one fetch, normalize, compare and persist cycle
// per article, with at most one cycle in flight for any article.
package coordinator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-tracker/internal/fingerprint"
	"github.com/JakeFAU/article-tracker/internal/logging"
	"github.com/JakeFAU/article-tracker/internal/metrics"
	"github.com/JakeFAU/article-tracker/internal/tracker"
)

const tracerName = "github.com/JakeFAU/article-tracker/internal/coordinator"

// Defaults applied by New.
const (
	DefaultMaxCrawlDuration = 2 * time.Minute
	DefaultStoreTimeout     = 10 * time.Second
	DefaultContentType      = "text/html; charset=utf-8"
)

// NormalizerSource resolves an article's normalizer strategy by name.
type NormalizerSource interface {
	Get(name string) (tracker.Normalizer, error)
}

// Config controls a crawl cycle.
type Config struct {
	// MaxCrawlDuration bounds the whole cycle; exceeding it is a transient failure.
	MaxCrawlDuration time.Duration
	// StoreTimeout bounds each version or article store call.
	StoreTimeout time.Duration
	// FetchTimeout is passed to the fetcher as the per-attempt timeout.
	FetchTimeout time.Duration
	BlobPrefix   string
	ContentType  string
	// Topic receives a version-created event; empty disables publishing.
	Topic string
}

// Deps are the collaborators of a Coordinator. Blobs and Publisher are optional.
type Deps struct {
	Fetcher     tracker.Fetcher
	Normalizers NormalizerSource
	Versions    tracker.VersionStore
	Articles    tracker.ArticleStore
	Blobs       tracker.BlobStore
	Publisher   tracker.Publisher
	Clock       tracker.Clock
	Tracer      trace.Tracer
	Logger      *zap.Logger
}

// Coordinator owns the decision to write a version.
type Coordinator struct {
	cfg  Config
	deps Deps

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New constructs a Coordinator.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	if deps.Fetcher == nil || deps.Normalizers == nil || deps.Versions == nil || deps.Articles == nil {
		return nil, fmt.Errorf("coordinator requires fetcher, normalizers, version store and article store")
	}
	if deps.Clock == nil {
		return nil, fmt.Errorf("coordinator requires a clock")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	if cfg.MaxCrawlDuration <= 0 {
		cfg.MaxCrawlDuration = DefaultMaxCrawlDuration
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if cfg.ContentType == "" {
		cfg.ContentType = DefaultContentType
	}
	return &Coordinator{
		cfg:      cfg,
		deps:     deps,
		inFlight: make(map[string]struct{}),
	}, nil
}

func (c *Coordinator) tryLock(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inFlight[id]; busy {
		return false
	}
	c.inFlight[id] = struct{}{}
	return true
}

func (c *Coordinator) unlock(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, id)
}

// Crawl runs one cycle for article. The returned Outcome is always
// populated; the error is non-nil whenever the cycle did not reach Done.
// A concurrent second call for the same article returns ErrAlreadyCrawling
// without touching any state.
func (c *Coordinator) Crawl(ctx context.Context, article tracker.Article) (tracker.Outcome, error) {
	if !c.tryLock(article.ID) {
		err := fmt.Errorf("crawl %s: %w", article.ID, tracker.ErrAlreadyCrawling)
		return tracker.Outcome{Result: tracker.ResultAlreadyCrawling, Err: err}, err
	}
	defer c.unlock(article.ID)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.MaxCrawlDuration)
	defer cancel()

	ctx, span := c.deps.Tracer.Start(ctx, "crawl",
		trace.WithAttributes(
			attribute.String("article.id", article.ID),
			attribute.String("article.url", article.URL),
		),
	)
	defer span.End()

	cy := &cycle{
		c:       c,
		article: article,
		logger:  logging.Article(c.deps.Logger, article.ID, article.URL),
		state:   tracker.StatePending,
		span:    span,
		start:   time.Now(),
	}
	outcome := cy.run(ctx)

	span.SetAttributes(attribute.String("crawl.result", string(outcome.Result)))
	if outcome.Err != nil {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Err.Error())
	}
	metrics.ObserveCrawl(article.URL, string(outcome.Result), cy.bytes, time.Since(cy.start))
	return outcome, outcome.Err
}

// cycle is the state machine of one crawl.
type cycle struct {
	c       *Coordinator
	article tracker.Article
	logger  *zap.Logger
	state   tracker.CrawlState
	span    trace.Span
	start   time.Time
	bytes   int
}

func (cy *cycle) transition(to tracker.CrawlState) {
	if err := tracker.ValidateCrawlTransition(cy.state, to); err != nil {
		// Programming error; keep going so the article is still rescheduled.
		cy.logger.Error("invalid crawl transition", zap.Error(err))
	}
	cy.span.AddEvent(string(to))
	cy.logger.Debug("crawl state", zap.String("from", string(cy.state)), zap.String("to", string(to)))
	cy.state = to
}

func (cy *cycle) run(ctx context.Context) tracker.Outcome {
	c := cy.c

	cy.transition(tracker.StateFetching)
	resp, err := cy.fetch(ctx)
	if err != nil {
		return cy.fail(ctx, err)
	}
	cy.bytes = len(resp.Body)

	cy.transition(tracker.StateNormalizing)
	content, err := cy.normalize(ctx, resp)
	if err != nil {
		return cy.fail(ctx, err)
	}

	cy.transition(tracker.StateComparing)
	hash := fingerprint.Hash(content)
	prev, hasPrev, err := cy.latest(ctx)
	if err != nil {
		return cy.fail(ctx, err)
	}
	fetchedAt := c.deps.Clock.Now()

	if hasPrev && prev.Hash == hash {
		cy.transition(tracker.StateUnchanged)
		cy.record(ctx, tracker.CrawlRecord{LastHash: hash, CrawledAt: fetchedAt})
		cy.transition(tracker.StateDone)
		cy.logger.Debug("content unchanged", zap.String("hash", hash), zap.Int("sequence", prev.Sequence))
		return tracker.Outcome{Result: tracker.ResultUnchanged, Hash: hash}
	}

	cy.transition(tracker.StatePersisting)
	version, err := cy.persist(ctx, prev, hasPrev, content, hash, fetchedAt, resp.Body)
	if err != nil {
		return cy.fail(ctx, err)
	}
	// Not atomic with Append. Comparing reads Versions.Latest, so a lost
	// record only leaves LastHash stale until the next cycle.
	cy.record(ctx, tracker.CrawlRecord{LastHash: hash, CrawledAt: fetchedAt})
	cy.publish(ctx, version)
	cy.transition(tracker.StateDone)

	metrics.ObserveVersion(cy.article.URL)
	cy.logger.Info("version persisted",
		zap.Int("sequence", version.Sequence),
		zap.String("hash", hash),
		zap.Int("added_lines", version.Diff.AddedLines),
		zap.Int("removed_lines", version.Diff.RemovedLines),
	)
	return tracker.Outcome{Result: tracker.ResultChanged, Version: &version, Hash: hash}
}

func (cy *cycle) fetch(ctx context.Context) (tracker.FetchResponse, error) {
	ctx, span := cy.c.deps.Tracer.Start(ctx, "fetch")
	defer span.End()

	resp, err := cy.c.deps.Fetcher.Fetch(ctx, tracker.FetchRequest{
		URL:     cy.article.URL,
		Timeout: cy.c.cfg.FetchTimeout,
	})
	span.SetAttributes(
		attribute.Int("http.status_code", resp.StatusCode),
		attribute.Int("fetch.attempts", resp.Attempts),
	)
	if err != nil {
		span.RecordError(err)
		return resp, fmt.Errorf("fetch: %w", err)
	}
	return resp, nil
}

func (cy *cycle) normalize(ctx context.Context, resp tracker.FetchResponse) (tracker.Content, error) {
	_, span := cy.c.deps.Tracer.Start(ctx, "normalize")
	defer span.End()

	n, err := cy.c.deps.Normalizers.Get(cy.article.Normalizer)
	if err != nil {
		return tracker.Content{}, fmt.Errorf("select normalizer: %w", err)
	}
	span.SetAttributes(attribute.String("normalizer", n.Name()))
	pageURL := resp.URL
	if pageURL == "" {
		pageURL = cy.article.URL
	}
	content, err := n.Normalize(resp.Body, pageURL)
	if err != nil {
		span.RecordError(err)
		return tracker.Content{}, err
	}
	return content, nil
}

func (cy *cycle) latest(ctx context.Context) (tracker.Version, bool, error) {
	storeCtx, cancel := context.WithTimeout(ctx, cy.c.cfg.StoreTimeout)
	defer cancel()
	prev, err := cy.c.deps.Versions.Latest(storeCtx, cy.article.ID)
	switch {
	case err == nil:
		return prev, true, nil
	case errors.Is(err, tracker.ErrNotFound):
		return tracker.Version{}, false, nil
	default:
		return tracker.Version{}, false, fmt.Errorf("read latest version: %w", err)
	}
}

func (cy *cycle) persist(
	ctx context.Context,
	prev tracker.Version,
	hasPrev bool,
	content tracker.Content,
	hash string,
	fetchedAt time.Time,
	raw []byte,
) (tracker.Version, error) {
	ctx, span := cy.c.deps.Tracer.Start(ctx, "persist")
	defer span.End()

	diff := fingerprint.Initial(content)
	if hasPrev {
		diff = fingerprint.Diff(prev.Content, content)
	}
	draft := tracker.VersionDraft{
		ArticleID:    cy.article.ID,
		PrevSequence: prev.Sequence,
		Hash:         hash,
		Content:      content,
		Diff:         diff,
		FetchedAt:    fetchedAt,
		RawURI:       cy.archive(ctx, prev.Sequence+1, raw),
	}

	storeCtx, cancel := context.WithTimeout(ctx, cy.c.cfg.StoreTimeout)
	defer cancel()
	version, err := cy.c.deps.Versions.Append(storeCtx, draft)
	if err != nil {
		if errors.Is(err, tracker.ErrConcurrentWriteConflict) {
			// The per-article lock should make this unreachable.
			cy.logger.Error("version write conflict", zap.Int("prev_sequence", prev.Sequence), zap.Error(err))
		}
		span.RecordError(err)
		return tracker.Version{}, fmt.Errorf("append version: %w", err)
	}
	span.SetAttributes(attribute.Int("version.sequence", version.Sequence))
	return version, nil
}

// archive stores the raw page next to the version. Archive failures only
// cost the raw copy, never the version.
func (cy *cycle) archive(ctx context.Context, sequence int, raw []byte) string {
	if cy.c.deps.Blobs == nil {
		return ""
	}
	objectPath := path.Join(strings.Trim(cy.c.cfg.BlobPrefix, "/"), cy.article.ID, fmt.Sprintf("%06d.html", sequence))
	storeCtx, cancel := context.WithTimeout(ctx, cy.c.cfg.StoreTimeout)
	defer cancel()
	uri, err := cy.c.deps.Blobs.PutObject(storeCtx, objectPath, cy.c.cfg.ContentType, bytes.NewReader(raw))
	if err != nil {
		cy.logger.Warn("archive raw page failed", zap.String("path", objectPath), zap.Error(err))
		return ""
	}
	return uri
}

func (cy *cycle) record(ctx context.Context, rec tracker.CrawlRecord) {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cy.c.cfg.StoreTimeout)
	defer cancel()
	if err := cy.c.deps.Articles.RecordCrawl(storeCtx, cy.article.ID, rec); err != nil {
		cy.logger.Warn("record crawl failed", zap.Error(err))
	}
}

// VersionEvent is the payload published for each new version.
type VersionEvent struct {
	ArticleID    string    `json:"article_id"`
	URL          string    `json:"url"`
	Sequence     int       `json:"sequence"`
	Hash         string    `json:"hash"`
	Title        string    `json:"title"`
	TitleChanged bool      `json:"title_changed"`
	AddedLines   int       `json:"added_lines"`
	RemovedLines int       `json:"removed_lines"`
	RawURI       string    `json:"raw_uri,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

func (cy *cycle) publish(ctx context.Context, v tracker.Version) {
	if cy.c.deps.Publisher == nil || cy.c.cfg.Topic == "" {
		return
	}
	event := VersionEvent{
		ArticleID:    v.ArticleID,
		URL:          cy.article.URL,
		Sequence:     v.Sequence,
		Hash:         v.Hash,
		Title:        v.Content.Title,
		TitleChanged: v.Diff.TitleChanged,
		AddedLines:   v.Diff.AddedLines,
		RemovedLines: v.Diff.RemovedLines,
		RawURI:       v.RawURI,
		FetchedAt:    v.FetchedAt,
	}
	storeCtx, cancel := context.WithTimeout(ctx, cy.c.cfg.StoreTimeout)
	defer cancel()
	if _, err := cy.c.deps.Publisher.Publish(storeCtx, cy.c.cfg.Topic, event); err != nil {
		cy.logger.Warn("publish version event failed", zap.Int("sequence", v.Sequence), zap.Error(err))
	}
}

func (cy *cycle) fail(ctx context.Context, err error) tracker.Outcome {
	cy.transition(tracker.StateFailed)
	result := Classify(err)
	cy.record(ctx, tracker.CrawlRecord{LastError: err.Error()})
	if result == tracker.ResultPermanentFailure {
		cy.logger.Warn("crawl failed permanently", zap.Error(err))
	} else {
		cy.logger.Info("crawl failed, will retry", zap.Error(err))
	}
	return tracker.Outcome{Result: result, Err: err}
}

// Classify maps a cycle error to the result reported to the scheduler.
// Exceeding the crawl deadline counts as transient.
func Classify(err error) tracker.CrawlResult {
	switch {
	case err == nil:
		return tracker.ResultChanged
	case errors.Is(err, tracker.ErrAlreadyCrawling):
		return tracker.ResultAlreadyCrawling
	case errors.Is(err, context.DeadlineExceeded):
		return tracker.ResultTransientFailure
	case tracker.IsTransient(err):
		return tracker.ResultTransientFailure
	default:
		return tracker.ResultPermanentFailure
	}
}
