// Package discovery finds new articles on a news overview page and registers
// them for tracking.
package discovery

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-tracker/internal/metrics"
	"github.com/JakeFAU/article-tracker/internal/scheduler"
	"github.com/JakeFAU/article-tracker/internal/tracker"
)

// Defaults for the tagesschau.de overview page.
const (
	DefaultOverviewURL    = "https://www.tagesschau.de/"
	DefaultAllowedPrefix  = "https://www.tagesschau.de/"
	DefaultTeaserSelector = ".teaser"
	DefaultSchedule       = "@every 15m"
	DefaultTimeout        = 30 * time.Second
)

var (
	// DefaultExcludedToplines are service teasers rather than news.
	DefaultExcludedToplines = []string{"Spenden", "Wettervorhersage Deutschland", "lotto"}
	// DefaultExcludedLabels mark picture galleries.
	DefaultExcludedLabels = []string{"Bilder"}
)

// Registrar adds an article to the schedule.
type Registrar interface {
	AddArticle(ctx context.Context, rawURL string, interval time.Duration, normalizer string) (tracker.Article, error)
}

// Config controls discovery.
type Config struct {
	OverviewURL      string
	AllowedPrefix    string
	TeaserSelector   string
	ExcludedToplines []string
	ExcludedLabels   []string
	// Normalizer and Interval are applied to every registered article.
	Normalizer    string
	Interval      time.Duration
	Schedule      string
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.OverviewURL == "" {
		c.OverviewURL = DefaultOverviewURL
	}
	if c.AllowedPrefix == "" {
		c.AllowedPrefix = DefaultAllowedPrefix
	}
	if c.TeaserSelector == "" {
		c.TeaserSelector = DefaultTeaserSelector
	}
	if c.ExcludedToplines == nil {
		c.ExcludedToplines = DefaultExcludedToplines
	}
	if c.ExcludedLabels == nil {
		c.ExcludedLabels = DefaultExcludedLabels
	}
	if c.Schedule == "" {
		c.Schedule = DefaultSchedule
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Teaser is one article preview on the overview page.
type Teaser struct {
	Topline   string
	Headline  string
	ShortText string
	URL       string
	Label     string
}

// Result summarizes one discovery run.
type Result struct {
	Found      int `json:"found"`
	Added      int `json:"added"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Discoverer crawls the overview page.
type Discoverer struct {
	cfg       Config
	registrar Registrar
	logger    *zap.Logger
	collector *colly.Collector

	// one run at a time; cron and the API may overlap
	runMu sync.Mutex
}

// New constructs a Discoverer.
func New(cfg Config, registrar Registrar, logger *zap.Logger) (*Discoverer, error) {
	if registrar == nil {
		return nil, fmt.Errorf("discovery requires a registrar")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("parse discovery schedule %q: %w", cfg.Schedule, err)
	}

	c := colly.NewCollector(colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &Discoverer{cfg: cfg, registrar: registrar, logger: logger, collector: c}, nil
}

// Extract fetches the overview page and returns every teaser on it.
func (d *Discoverer) Extract(ctx context.Context) ([]Teaser, error) {
	c := d.collector.Clone()
	c.Context = ctx

	var (
		teasers []Teaser
		failure error
	)
	c.OnHTML(d.cfg.TeaserSelector, func(e *colly.HTMLElement) {
		link := e.DOM.Find(".teaser__link").First()
		href, _ := link.Attr("href")
		t := Teaser{
			Topline:   text(e.DOM.Find(".teaser__topline").First()),
			Headline:  text(e.DOM.Find(".teaser__headline").First()),
			ShortText: text(e.DOM.Find(".teaser__shorttext").First()),
			Label:     text(e.DOM.Find(".teaser__label").First()),
		}
		if href != "" {
			t.URL = e.Request.AbsoluteURL(href)
		}
		teasers = append(teasers, t)
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= 300 {
			failure = tracker.NewHTTPError(d.cfg.OverviewURL, r.StatusCode)
			return
		}
		failure = tracker.ClassifyTransportError(d.cfg.OverviewURL, err)
	})

	if err := c.Visit(d.cfg.OverviewURL); err != nil && failure == nil {
		failure = tracker.ClassifyTransportError(d.cfg.OverviewURL, err)
	}
	c.Wait()
	if failure != nil {
		return nil, fmt.Errorf("fetch overview: %w", failure)
	}
	return teasers, nil
}

func text(sel *goquery.Selection) string {
	return strings.Join(strings.Fields(sel.Text()), " ")
}

// Accept reports whether a teaser should be tracked and, if not, why.
func (d *Discoverer) Accept(t Teaser) (bool, string) {
	switch {
	case t.Topline == "" || t.Headline == "" || t.ShortText == "" || t.URL == "":
		return false, "missing fields"
	case !strings.HasPrefix(t.URL, d.cfg.AllowedPrefix):
		return false, "not a news link"
	case t.Label != "" && slices.Contains(d.cfg.ExcludedLabels, t.Label):
		return false, "excluded label"
	case slices.Contains(d.cfg.ExcludedToplines, t.Topline):
		return false, "excluded topline"
	}
	return true, ""
}

// RunOnce performs one discovery pass. Registration failures of single
// teasers are counted and logged; only an unreadable overview page fails
// the run.
func (d *Discoverer) RunOnce(ctx context.Context) (Result, error) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	teasers, err := d.Extract(ctx)
	if err != nil {
		return Result{}, err
	}
	res := Result{Found: len(teasers)}
	for i, t := range teasers {
		if ok, reason := d.Accept(t); !ok {
			res.Skipped++
			d.logger.Debug("skipping teaser", zap.Int("index", i+1), zap.String("reason", reason), zap.String("url", t.URL))
			continue
		}
		a, err := d.registrar.AddArticle(ctx, t.URL, d.cfg.Interval, d.cfg.Normalizer)
		switch {
		case scheduler.IsDuplicate(err):
			res.Duplicates++
		case err != nil:
			res.Failed++
			d.logger.Warn("register teaser failed", zap.String("url", t.URL), zap.Error(err))
		default:
			res.Added++
			d.logger.Info("discovered article",
				zap.String("article_id", a.ID),
				zap.String("url", a.URL),
				zap.String("topline", t.Topline),
			)
		}
	}
	metrics.ObserveDiscovered(res.Added)
	d.logger.Info("discovery run finished",
		zap.Int("found", res.Found),
		zap.Int("added", res.Added),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// Run triggers RunOnce on the configured cron schedule until ctx finishes.
func (d *Discoverer) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(d.cfg.Schedule, func() {
		if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("discovery run failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule discovery: %w", err)
	}
	c.Start()
	d.logger.Info("discovery scheduled", zap.String("schedule", d.cfg.Schedule), zap.String("overview_url", d.cfg.OverviewURL))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
