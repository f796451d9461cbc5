package normalize

import (
	"bytes"
	"net/url"

	readability "github.com/go-shiori/go-readability"

	"github.com/JakeFAU/article-tracker/internal/tracker"
)

// ReadabilityName identifies the readability-based strategy.
const ReadabilityName = "readability"

// Readability extracts the main article with a Mozilla Readability port. It
// suits sources without a known layout.
type Readability struct{}

// NewReadability builds the strategy.
func NewReadability() *Readability {
	return &Readability{}
}

// Name implements tracker.Normalizer.
func (r *Readability) Name() string { return ReadabilityName }

// Normalize implements tracker.Normalizer.
func (r *Readability) Normalize(raw []byte, pageURL string) (tracker.Content, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return tracker.Content{}, parseError(ReadabilityName, "empty document")
	}
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return tracker.Content{}, parseError(ReadabilityName, "invalid page url: %v", err)
	}

	article, err := readability.FromReader(bytes.NewReader(raw), parsedURL)
	if err != nil {
		return tracker.Content{}, parseError(ReadabilityName, "extract: %v", err)
	}

	body := joinLines([]string{article.TextContent})
	if body == "" {
		return tracker.Content{}, parseError(ReadabilityName, "no readable content")
	}
	title := nodeTextString(article.Title)
	if title == "" {
		return tracker.Content{}, parseError(ReadabilityName, "missing title")
	}
	return tracker.Content{Title: title, Body: body}, nil
}
