package scheduler

import (
	"time"

	"github.com/JakeFAU/article-tracker/internal/tracker"
)

// Default policy values.
const (
	DefaultInterval    = 15 * time.Minute
	DefaultMinInterval = time.Minute
	DefaultMaxInterval = 24 * time.Hour
	DefaultHotFactor   = 0.5
	DefaultStaleFactor = 2.0
	DefaultRetryBase   = 30 * time.Second
	DefaultRetryMax    = 10 * time.Minute
	DefaultMaxRetries  = 5
)

// FrequencyPolicy adapts the content interval to the observed change rate.
type FrequencyPolicy struct {
	MinInterval time.Duration
	MaxInterval time.Duration
	// HotFactor multiplies the interval after a detected change (< 1).
	HotFactor float64
	// StaleFactor multiplies the interval after an unchanged crawl (> 1).
	StaleFactor float64
}

func (p FrequencyPolicy) withDefaults() FrequencyPolicy {
	if p.MinInterval <= 0 {
		p.MinInterval = DefaultMinInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = DefaultMaxInterval
	}
	if p.MaxInterval < p.MinInterval {
		p.MaxInterval = p.MinInterval
	}
	if p.HotFactor <= 0 || p.HotFactor >= 1 {
		p.HotFactor = DefaultHotFactor
	}
	if p.StaleFactor <= 1 {
		p.StaleFactor = DefaultStaleFactor
	}
	return p
}

// Next returns the interval to use after a crawl with the given result.
// Failures leave the content interval alone.
func (p FrequencyPolicy) Next(interval time.Duration, result tracker.CrawlResult) time.Duration {
	switch result {
	case tracker.ResultChanged:
		return p.clamp(time.Duration(float64(interval) * p.HotFactor))
	case tracker.ResultUnchanged:
		return p.clamp(time.Duration(float64(interval) * p.StaleFactor))
	default:
		return interval
	}
}

func (p FrequencyPolicy) clamp(d time.Duration) time.Duration {
	return min(max(d, p.MinInterval), p.MaxInterval)
}
