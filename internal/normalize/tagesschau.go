package normalize

import (
	"bytes"
	"strings"
	"time"
	_ "time/tzdata" // Europe/Berlin must resolve on minimal images

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/article-tracker/internal/tracker"
)

// TagesschauName identifies the tagesschau.de article layout.
const TagesschauName = "tagesschau"

const (
	tsHeadlineSelector  = ".seitenkopf__headline--text"
	tsToplineSelector   = ".seitenkopf__topline"
	tsParagraphSelector = "p.textabsatz"
	tsDateSelector      = ".metatextline, .multimediahead__date"
	tsDateLayout        = "02.01.2006 15:04"
)

// Tagesschau normalizes tagesschau.de detail pages.
type Tagesschau struct {
	loc *time.Location
}

// NewTagesschau builds the strategy with publication times in Europe/Berlin.
func NewTagesschau() *Tagesschau {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		loc = time.UTC
	}
	return &Tagesschau{loc: loc}
}

// Name implements tracker.Normalizer.
func (t *Tagesschau) Name() string { return TagesschauName }

// Normalize implements tracker.Normalizer.
func (t *Tagesschau) Normalize(raw []byte, _ string) (tracker.Content, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return tracker.Content{}, parseError(TagesschauName, "parse html: %v", err)
	}

	title := nodeText(doc.Find(tsHeadlineSelector).First())
	if title == "" {
		return tracker.Content{}, parseError(TagesschauName, "missing headline %s", tsHeadlineSelector)
	}

	var paragraphs []string
	doc.Find(tsParagraphSelector).Each(func(_ int, s *goquery.Selection) {
		paragraphs = append(paragraphs, nodeText(s))
	})
	body := joinLines(paragraphs)
	if body == "" {
		return tracker.Content{}, parseError(TagesschauName, "missing body paragraphs %s", tsParagraphSelector)
	}

	content := tracker.Content{
		Title:   title,
		Topline: nodeText(doc.Find(tsToplineSelector).First()),
		Body:    body,
	}
	if ts, ok := t.parseStand(nodeText(doc.Find(tsDateSelector).First())); ok {
		content.PublishedAt = &ts
	}
	return content, nil
}

// parseStand parses "Stand: 04.04.2025 16:10 Uhr".
func (t *Tagesschau) parseStand(raw string) (time.Time, bool) {
	cleaned := strings.TrimSpace(raw)
	if i := strings.Index(cleaned, "Stand:"); i >= 0 {
		cleaned = cleaned[i+len("Stand:"):]
	}
	cleaned = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(cleaned), "Uhr"))
	if cleaned == "" {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(tsDateLayout, cleaned, t.loc)
	if err != nil {
		return time.Time{}, false
	}
	return ts.UTC(), true
}
