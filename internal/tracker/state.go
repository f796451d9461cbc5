package tracker

import "fmt"

// CrawlState is a step of one crawl cycle.
type CrawlState string

// Crawl cycle states.
const (
	StatePending     CrawlState = "pending"
	StateFetching    CrawlState = "fetching"
	StateNormalizing CrawlState = "normalizing"
	StateComparing   CrawlState = "comparing"
	StateUnchanged   CrawlState = "unchanged"
	StatePersisting  CrawlState = "persisting"
	StateDone        CrawlState = "done"
	StateFailed      CrawlState = "failed"
)

var crawlTransitions = map[CrawlState][]CrawlState{
	StatePending:     {StateFetching, StateFailed},
	StateFetching:    {StateNormalizing, StateFailed},
	StateNormalizing: {StateComparing, StateFailed},
	StateComparing:   {StateUnchanged, StatePersisting, StateFailed},
	StateUnchanged:   {StateDone, StateFailed},
	StatePersisting:  {StateDone, StateFailed},
	StateDone:        {},
	StateFailed:      {},
}

// ValidateCrawlTransition returns an error if from -> to is not allowed.
func ValidateCrawlTransition(from, to CrawlState) error {
	allowed, ok := crawlTransitions[from]
	if !ok {
		return fmt.Errorf("unknown crawl state: %s", from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("invalid crawl transition from %s to %s", from, to)
}

// IsTerminal reports whether no further transitions exist.
func (s CrawlState) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}
