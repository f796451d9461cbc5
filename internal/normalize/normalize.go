// Package normalize converts raw article HTML into canonical content. Each
// supported page structure is one Normalizer strategy; sources select a
// strategy by name.
package normalize

import (
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/article-tracker/internal/fingerprint"
	"github.com/JakeFAU/article-tracker/internal/tracker"
)

// DefaultStrategy is used when an article names no normalizer.
const DefaultStrategy = GenericName

// Registry resolves normalizer strategies by name.
type Registry struct {
	byName   map[string]tracker.Normalizer
	fallback string
}

// NewRegistry builds a registry. The first normalizer named fallback is used
// for articles without an explicit strategy.
func NewRegistry(fallback string, normalizers ...tracker.Normalizer) (*Registry, error) {
	r := &Registry{byName: make(map[string]tracker.Normalizer, len(normalizers)), fallback: fallback}
	for _, n := range normalizers {
		if _, dup := r.byName[n.Name()]; dup {
			return nil, fmt.Errorf("duplicate normalizer %q", n.Name())
		}
		r.byName[n.Name()] = n
	}
	if _, ok := r.byName[fallback]; !ok {
		return nil, fmt.Errorf("fallback normalizer %q is not registered", fallback)
	}
	return r, nil
}

// Default returns a registry with every built-in strategy.
func Default(fallback string) (*Registry, error) {
	if fallback == "" {
		fallback = DefaultStrategy
	}
	return NewRegistry(fallback, NewTagesschau(), NewGeneric(GenericConfig{}), NewReadability())
}

// Get returns the named strategy, or the fallback for an empty name.
func (r *Registry) Get(name string) (tracker.Normalizer, error) {
	if name == "" {
		name = r.fallback
	}
	n, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("normalizer %q: %w", name, tracker.ErrNotFound)
	}
	return n, nil
}

// Names lists registered strategies in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// nodeText returns the whitespace-collapsed text of a selection.
func nodeText(sel *goquery.Selection) string {
	return fingerprint.CollapseWhitespace(sel.Text())
}

func nodeTextString(s string) string {
	return fingerprint.CollapseWhitespace(s)
}

// joinLines collapses each line and drops blanks.
func joinLines(lines []string) string {
	return fingerprint.CanonicalText(strings.Join(lines, "\n"))
}

func parseError(strategy, format string, args ...any) error {
	return &tracker.ParseError{Strategy: strategy, Reason: fmt.Sprintf(format, args...)}
}
