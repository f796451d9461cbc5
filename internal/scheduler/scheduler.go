// Package scheduler owns the due-queue of tracked articles and the
// adaptive crawl-frequency policy.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-tracker/internal/tracker"
)

// Config tunes scheduling.
type Config struct {
	DefaultInterval time.Duration
	Frequency       FrequencyPolicy
	// RetryBase and RetryMax bound the jittered backoff after transient failures.
	RetryBase time.Duration
	RetryMax  time.Duration
	// MaxRetries is the number of consecutive transient failures before an
	// article is marked error and falls back to its base interval.
	MaxRetries        int
	DefaultNormalizer string
}

func (c Config) withDefaults() Config {
	if c.DefaultInterval <= 0 {
		c.DefaultInterval = DefaultInterval
	}
	c.Frequency = c.Frequency.withDefaults()
	if c.RetryBase <= 0 {
		c.RetryBase = DefaultRetryBase
	}
	if c.RetryMax <= 0 {
		c.RetryMax = DefaultRetryMax
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	return c
}

// Scheduler is the single writer of article scheduling fields.
type Scheduler struct {
	cfg    Config
	store  tracker.ArticleStore
	clock  tracker.Clock
	ids    tracker.IDGenerator
	logger *zap.Logger
	jitter func(time.Duration) time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	byURL   map[string]string
	queue   dueQueue
	wake    chan struct{}
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithJitter replaces the retry jitter source.
func WithJitter(fn func(time.Duration) time.Duration) Option {
	return func(s *Scheduler) {
		s.jitter = fn
	}
}

// New builds an empty Scheduler. Call Load to pick up persisted articles.
func New(
	cfg Config,
	store tracker.ArticleStore,
	clock tracker.Clock,
	ids tracker.IDGenerator,
	logger *zap.Logger,
	opts ...Option,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		cfg:     cfg.withDefaults(),
		store:   store,
		clock:   clock,
		ids:     ids,
		logger:  logger,
		jitter:  tracker.RandomJitter,
		entries: make(map[string]*entry),
		byURL:   make(map[string]string),
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load rebuilds the due-queue from the article store.
func (s *Scheduler) Load(ctx context.Context) error {
	articles, err := s.store.ListArticles(ctx)
	if err != nil {
		return fmt.Errorf("load articles: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range articles {
		if _, ok := s.entries[a.ID]; ok {
			continue
		}
		e := &entry{article: a, index: -1}
		s.entries[a.ID] = e
		s.byURL[a.URL] = a.ID
		if a.Status != tracker.StatusPaused {
			s.queue.enqueue(e)
		}
	}
	s.logger.Info("scheduler loaded", zap.Int("articles", len(articles)), zap.Int("queued", s.queue.Len()))
	s.notify()
	return nil
}

// Wake fires when the queue gains work that may already be due.
func (s *Scheduler) Wake() <-chan struct{} {
	return s.wake
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// AddArticle registers url for tracking with next-due = now. A non-positive
// interval selects the configured default.
func (s *Scheduler) AddArticle(
	ctx context.Context,
	rawURL string,
	interval time.Duration,
	normalizer string,
) (tracker.Article, error) {
	u, err := validateURL(rawURL)
	if err != nil {
		return tracker.Article{}, err
	}
	if interval <= 0 {
		interval = s.cfg.DefaultInterval
	}
	if normalizer == "" {
		normalizer = s.cfg.DefaultNormalizer
	}

	// The URL is reserved under the lock and persisted outside it so Due and
	// Complete never wait on the store.
	s.mu.Lock()
	if _, ok := s.byURL[u]; ok {
		s.mu.Unlock()
		return tracker.Article{}, fmt.Errorf("add %s: %w", u, tracker.ErrDuplicateArticle)
	}
	id, err := s.ids.NewID()
	if err != nil {
		s.mu.Unlock()
		return tracker.Article{}, fmt.Errorf("generate article id: %w", err)
	}
	s.byURL[u] = id
	s.mu.Unlock()

	now := s.clock.Now()
	a := tracker.Article{
		ID:           id,
		URL:          u,
		Normalizer:   normalizer,
		BaseInterval: interval,
		Interval:     interval,
		NextDue:      now,
		Status:       tracker.StatusActive,
		CreatedAt:    now,
	}
	if err := s.store.CreateArticle(ctx, a); err != nil {
		s.mu.Lock()
		delete(s.byURL, u)
		s.mu.Unlock()
		return tracker.Article{}, fmt.Errorf("persist article: %w", err)
	}

	s.mu.Lock()
	e := &entry{article: a, index: -1}
	s.entries[id] = e
	s.queue.enqueue(e)
	s.notify()
	s.mu.Unlock()

	s.logger.Info("article added", zap.String("article_id", id), zap.String("url", u), zap.Duration("interval", interval))
	return a, nil
}

func validateURL(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, tracker.ErrInvalidArgument)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("url %q must be absolute http(s): %w", rawURL, tracker.ErrInvalidArgument)
	}
	u.Fragment = ""
	return u.String(), nil
}

// SetFrequency overrides the base and current interval. A shorter interval
// pulls the next-due time forward.
func (s *Scheduler) SetFrequency(ctx context.Context, id string, interval time.Duration) (tracker.Article, error) {
	if interval <= 0 {
		return tracker.Article{}, fmt.Errorf("interval must be positive: %w", tracker.ErrInvalidArgument)
	}
	return s.mutate(ctx, id, func(e *entry, now time.Time) error {
		e.article.BaseInterval = interval
		e.article.Interval = interval
		if candidate := now.Add(interval); candidate.Before(e.article.NextDue) {
			e.article.NextDue = candidate
		}
		return nil
	})
}

// Pause stops an article from being yielded by Due. An in-flight crawl
// finishes but the article is not requeued.
func (s *Scheduler) Pause(ctx context.Context, id string) (tracker.Article, error) {
	return s.mutate(ctx, id, func(e *entry, _ time.Time) error {
		e.article.Status = tracker.StatusPaused
		return nil
	})
}

// Resume reactivates a paused article and makes it due immediately.
func (s *Scheduler) Resume(ctx context.Context, id string) (tracker.Article, error) {
	return s.mutate(ctx, id, func(e *entry, now time.Time) error {
		if e.article.Status != tracker.StatusPaused {
			return nil
		}
		e.article.Status = tracker.StatusActive
		e.article.ConsecutiveFailures = 0
		e.article.NextDue = now
		return nil
	})
}

// TriggerNow makes an article due immediately. It fails with
// ErrAlreadyCrawling while a crawl for it is in flight.
func (s *Scheduler) TriggerNow(ctx context.Context, id string) (tracker.Article, error) {
	return s.mutate(ctx, id, func(e *entry, now time.Time) error {
		if e.inFlight {
			return fmt.Errorf("trigger %s: %w", id, tracker.ErrAlreadyCrawling)
		}
		if e.article.Status == tracker.StatusPaused {
			return fmt.Errorf("trigger %s: article is paused: %w", id, tracker.ErrInvalidArgument)
		}
		e.article.NextDue = now
		return nil
	})
}

// mutate applies fn under the lock, requeues the entry and persists the
// scheduling fields. The in-memory change stands even if persisting fails.
func (s *Scheduler) mutate(ctx context.Context, id string, fn func(e *entry, now time.Time) error) (tracker.Article, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return tracker.Article{}, fmt.Errorf("article %s: %w", id, tracker.ErrNotFound)
	}
	if err := fn(e, s.clock.Now()); err != nil {
		s.mu.Unlock()
		return tracker.Article{}, err
	}
	s.requeueLocked(e)
	snapshot := e.article
	s.mu.Unlock()

	s.notify()
	if err := s.store.UpdateSchedule(ctx, id, tracker.ScheduleOf(snapshot)); err != nil {
		return snapshot, fmt.Errorf("persist schedule: %w", err)
	}
	return snapshot, nil
}

func (s *Scheduler) requeueLocked(e *entry) {
	switch {
	case e.inFlight:
	case e.article.Status == tracker.StatusPaused:
		s.queue.remove(e)
	default:
		s.queue.enqueue(e)
	}
}

// Due yields articles whose next-due time is at or before now, oldest first
// with ties broken by ID. An article leaves the queue only when it is
// yielded, so a consumer that stops early leaves the rest in place. Every
// yielded article must be handed back through Complete or Release.
func (s *Scheduler) Due(now time.Time) iter.Seq[tracker.Article] {
	return func(yield func(tracker.Article) bool) {
		for {
			a, ok := s.popDue(now)
			if !ok {
				return
			}
			if !yield(a) {
				return
			}
		}
	}
}

func (s *Scheduler) popDue(now time.Time) (tracker.Article, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue.Len() == 0 {
		return tracker.Article{}, false
	}
	head := s.queue[0]
	if head.article.NextDue.After(now) {
		return tracker.Article{}, false
	}
	s.queue.remove(head)
	head.inFlight = true
	return head.article, true
}

// DueCount reports how many queued articles are due at now.
func (s *Scheduler) DueCount(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.queue {
		if !e.article.NextDue.After(now) {
			n++
		}
	}
	return n
}

// Release returns a yielded article to the queue without changing its schedule.
func (s *Scheduler) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || !e.inFlight {
		return
	}
	e.inFlight = false
	s.requeueLocked(e)
}

// Complete applies the crawl outcome to the article's schedule and requeues it.
func (s *Scheduler) Complete(ctx context.Context, id string, outcome tracker.Outcome) (tracker.Article, error) {
	if outcome.Result == tracker.ResultAlreadyCrawling {
		s.Release(id)
		return s.Get(id)
	}

	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return tracker.Article{}, fmt.Errorf("article %s: %w", id, tracker.ErrNotFound)
	}
	e.inFlight = false
	s.apply(&e.article, outcome, s.clock.Now())
	s.requeueLocked(e)
	snapshot := e.article
	s.mu.Unlock()

	s.logger.Debug("article rescheduled",
		zap.String("article_id", id),
		zap.String("result", string(outcome.Result)),
		zap.Duration("interval", snapshot.Interval),
		zap.Time("next_due", snapshot.NextDue),
		zap.String("status", string(snapshot.Status)),
		zap.Int("consecutive_failures", snapshot.ConsecutiveFailures),
	)
	if err := s.store.UpdateSchedule(ctx, id, tracker.ScheduleOf(snapshot)); err != nil {
		return snapshot, fmt.Errorf("persist schedule: %w", err)
	}
	return snapshot, nil
}

// apply is the scheduling policy. A pause that arrived mid-crawl is kept.
// The crawl fields mirror what the coordinator records in the article store.
func (s *Scheduler) apply(a *tracker.Article, outcome tracker.Outcome, now time.Time) {
	paused := a.Status == tracker.StatusPaused
	if outcome.Err != nil {
		a.LastError = outcome.Err.Error()
	}
	switch outcome.Result {
	case tracker.ResultChanged, tracker.ResultUnchanged:
		if outcome.Hash != "" {
			a.LastHash = outcome.Hash
		}
		a.LastCrawledAt = now
		a.LastError = ""
		a.Interval = s.cfg.Frequency.Next(a.Interval, outcome.Result)
		a.ConsecutiveFailures = 0
		a.Status = tracker.StatusActive
		a.NextDue = now.Add(a.Interval)
	case tracker.ResultTransientFailure:
		a.ConsecutiveFailures++
		if a.ConsecutiveFailures >= s.cfg.MaxRetries {
			a.Status = tracker.StatusError
			a.NextDue = now.Add(a.BaseInterval)
		} else {
			backoff := tracker.ExponentialBackoff(s.cfg.RetryBase, s.cfg.RetryMax, a.ConsecutiveFailures, s.jitter)
			a.NextDue = now.Add(backoff)
		}
	default:
		a.ConsecutiveFailures++
		a.Status = tracker.StatusError
		a.NextDue = now.Add(a.BaseInterval)
	}
	if paused {
		a.Status = tracker.StatusPaused
	}
}

// Get returns the scheduler's view of one article.
func (s *Scheduler) Get(id string) (tracker.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return tracker.Article{}, fmt.Errorf("article %s: %w", id, tracker.ErrNotFound)
	}
	return e.article, nil
}

// List returns every tracked article ordered by creation time.
func (s *Scheduler) List() []tracker.Article {
	s.mu.Lock()
	out := make([]tracker.Article, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.article)
	}
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b tracker.Article) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// InFlight reports whether a yielded article has not been handed back yet.
func (s *Scheduler) InFlight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return ok && e.inFlight
}

// IsDuplicate reports whether err means the URL is already tracked.
func IsDuplicate(err error) bool {
	return errors.Is(err, tracker.ErrDuplicateArticle)
}
