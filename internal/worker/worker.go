// Package worker runs a single crawl cycle for an article and hands the
// outcome back to the scheduler.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-tracker/internal/logging"
	"github.com/JakeFAU/article-tracker/internal/tracker"
)

// Crawler runs one fetch, normalize, compare and persist cycle.
type Crawler interface {
	Crawl(ctx context.Context, article tracker.Article) (tracker.Outcome, error)
}

// Scheduler receives crawl outcomes.
type Scheduler interface {
	Complete(ctx context.Context, id string, outcome tracker.Outcome) (tracker.Article, error)
	Release(id string)
}

// Worker executes the crawl pipeline for articles handed out by the dispatcher.
type Worker struct {
	crawler   Crawler
	scheduler Scheduler
	logger    *zap.Logger
}

// New constructs a Worker.
func New(crawler Crawler, scheduler Scheduler, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{crawler: crawler, scheduler: scheduler, logger: logger}
}

// Process crawls article and reports the outcome. Every article handed to
// Process is returned to the scheduler exactly once.
func (w *Worker) Process(ctx context.Context, article tracker.Article) tracker.Outcome {
	logger := logging.Article(w.logger, article.ID, article.URL)

	outcome, err := w.crawler.Crawl(ctx, article)
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		// Shutdown interrupted the cycle; not the article's fault.
		logger.Debug("crawl interrupted by shutdown", zap.Error(err))
		w.scheduler.Release(article.ID)
		return outcome
	}

	updated, cerr := w.scheduler.Complete(context.WithoutCancel(ctx), article.ID, outcome)
	if cerr != nil {
		logger.Error("reschedule failed", zap.String("result", string(outcome.Result)), zap.Error(cerr))
		return outcome
	}
	logger.Info("crawl finished",
		zap.String("result", string(outcome.Result)),
		zap.Duration("interval", updated.Interval),
		zap.Time("next_due", updated.NextDue),
		zap.String("status", string(updated.Status)),
	)
	return outcome
}
