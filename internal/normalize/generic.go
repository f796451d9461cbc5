package normalize

import (
	"bytes"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/article-tracker/internal/tracker"
)

// GenericName identifies the selector-based fallback strategy.
const GenericName = "generic"

const (
	defaultContainerSelector = "article"
	defaultBlockSelector     = "p, h2, h3, h4, li, blockquote"
	// boilerplateSelectors lists elements stripped from the container.
	boilerplateSelectors = "script, style, noscript, nav, header, footer, aside, form, iframe, figure, " +
		".ad, .ads, .advertisement, .social, .share, .related, [role='navigation']"
)

// GenericConfig tunes the generic strategy.
type GenericConfig struct {
	// ContainerSelector locates the article content; its absence is a ParseError.
	ContainerSelector string
	// BlockSelector picks the text blocks inside the container.
	BlockSelector string
}

// Generic extracts content from pages with a semantic article container.
type Generic struct {
	cfg GenericConfig
}

// NewGeneric builds the strategy.
func NewGeneric(cfg GenericConfig) *Generic {
	if cfg.ContainerSelector == "" {
		cfg.ContainerSelector = defaultContainerSelector
	}
	if cfg.BlockSelector == "" {
		cfg.BlockSelector = defaultBlockSelector
	}
	return &Generic{cfg: cfg}
}

// Name implements tracker.Normalizer.
func (g *Generic) Name() string { return GenericName }

// Normalize implements tracker.Normalizer.
func (g *Generic) Normalize(raw []byte, _ string) (tracker.Content, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return tracker.Content{}, parseError(GenericName, "parse html: %v", err)
	}

	container := doc.Find(g.cfg.ContainerSelector).First()
	if container.Length() == 0 {
		return tracker.Content{}, parseError(GenericName, "missing content container %q", g.cfg.ContainerSelector)
	}
	container.Find(boilerplateSelectors).Remove()

	title := nodeText(container.Find("h1").First())
	if title == "" {
		title = extractDocumentTitle(doc)
	}
	if title == "" {
		return tracker.Content{}, parseError(GenericName, "missing title")
	}

	var blocks []string
	container.Find(g.cfg.BlockSelector).Each(func(_ int, s *goquery.Selection) {
		// nested blocks (p inside li) are covered by their parent
		if s.ParentsFiltered(g.cfg.BlockSelector).Length() > 0 {
			return
		}
		blocks = append(blocks, nodeText(s))
	})
	body := joinLines(blocks)
	if body == "" {
		body = nodeText(container)
	}
	if body == "" {
		return tracker.Content{}, parseError(GenericName, "empty content container")
	}

	content := tracker.Content{Title: title, Body: body}
	if ts, ok := extractPublished(doc); ok {
		content.PublishedAt = &ts
	}
	return content, nil
}

// extractDocumentTitle prefers og:title then <title>.
func extractDocumentTitle(doc *goquery.Document) string {
	if og, ok := doc.Find("meta[property='og:title']").Attr("content"); ok {
		if title := nodeTextString(og); title != "" {
			return title
		}
	}
	return nodeText(doc.Find("title").First())
}

func extractPublished(doc *goquery.Document) (time.Time, bool) {
	candidates := []string{}
	if v, ok := doc.Find("meta[property='article:published_time']").Attr("content"); ok {
		candidates = append(candidates, v)
	}
	if v, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		candidates = append(candidates, v)
	}
	for _, c := range candidates {
		if ts, err := time.Parse(time.RFC3339, nodeTextString(c)); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
