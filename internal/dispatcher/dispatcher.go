// Package dispatcher fans due articles out to a bounded pool of workers.
package dispatcher

import (
	"context"
	"iter"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-tracker/internal/metrics"
	"github.com/JakeFAU/article-tracker/internal/tracker"
)

// Defaults applied by New.
const (
	DefaultWorkers      = 4
	DefaultPollInterval = time.Second
)

// Source hands out due articles. Every yielded article is marked in flight
// until the processor returns it.
type Source interface {
	Due(now time.Time) iter.Seq[tracker.Article]
	DueCount(now time.Time) int
	Wake() <-chan struct{}
}

// Processor runs one article to completion.
type Processor interface {
	Process(ctx context.Context, article tracker.Article) tracker.Outcome
}

// Config bounds concurrency and polling.
type Config struct {
	Workers      int
	PollInterval time.Duration
}

// Dispatcher pulls due articles only while a worker slot is free, so a slow
// pool leaves the backlog in the schedule instead of in memory.
type Dispatcher struct {
	cfg       Config
	source    Source
	processor Processor
	clock     tracker.Clock
	logger    *zap.Logger

	slots chan struct{}
	freed chan struct{}
	wg    sync.WaitGroup
}

// New creates a Dispatcher.
func New(cfg Config, source Source, processor Processor, clock tracker.Clock, logger *zap.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:       cfg,
		source:    source,
		processor: processor,
		clock:     clock,
		logger:    logger,
		slots:     make(chan struct{}, cfg.Workers),
		freed:     make(chan struct{}, 1),
	}
}

// Run dispatches until ctx finishes, then waits for in-flight crawls.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started",
		zap.Int("workers", d.cfg.Workers),
		zap.Duration("poll_interval", d.cfg.PollInterval),
	)
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		d.DispatchDue(ctx)
		select {
		case <-ctx.Done():
			d.wg.Wait()
			d.logger.Info("dispatcher stopped")
			return
		case <-ticker.C:
		case <-d.source.Wake():
		case <-d.freed:
		}
	}
}

// DispatchDue starts a worker for each due article while slots are free and
// returns the number started.
func (d *Dispatcher) DispatchDue(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	now := d.clock.Now()
	metrics.SetDueBacklog(d.source.DueCount(now))

	next, stop := iter.Pull(d.source.Due(now))
	defer stop()

	started := 0
	for {
		select {
		case d.slots <- struct{}{}:
		default:
			return started
		}
		article, ok := next()
		if !ok {
			<-d.slots
			return started
		}
		started++
		d.wg.Add(1)
		go d.run(ctx, article)
	}
}

func (d *Dispatcher) run(ctx context.Context, article tracker.Article) {
	defer d.wg.Done()
	defer d.release()

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	d.processor.Process(ctx, article)
}

func (d *Dispatcher) release() {
	<-d.slots
	select {
	case d.freed <- struct{}{}:
	default:
	}
}

// Wait blocks until every started crawl has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
