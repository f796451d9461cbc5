// Package fingerprint hashes normalized content and summarizes differences
// between consecutive versions.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/JakeFAU/article-tracker/internal/tracker"
)

// maxSpans bounds the number of spans kept in a summary.
const maxSpans = 64

// Hash returns the hex SHA-256 of the whitespace-normalized title and body.
func Hash(content tracker.Content) string {
	h := sha256.New()
	h.Write([]byte(CollapseWhitespace(content.Title)))
	h.Write([]byte{0})
	h.Write([]byte(CanonicalText(content.Body)))
	return hex.EncodeToString(h.Sum(nil))
}

// Diff summarizes the line-level changes from previous to current.
func Diff(previous, current tracker.Content) tracker.DiffSummary {
	summary := tracker.DiffSummary{
		Changed:      Hash(previous) != Hash(current),
		TitleChanged: CollapseWhitespace(previous.Title) != CollapseWhitespace(current.Title),
	}
	if !summary.Changed {
		return summary
	}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(lineBlock(previous.Body), lineBlock(current.Body))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	for _, d := range diffs {
		var op tracker.DiffOp
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			op = tracker.DiffInsert
			summary.AddedLines += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			op = tracker.DiffDelete
			summary.RemovedLines += countLines(d.Text)
		default:
			continue
		}
		if len(summary.Spans) < maxSpans {
			summary.Spans = append(summary.Spans, tracker.DiffSpan{
				Op:   op,
				Text: strings.TrimSuffix(d.Text, "\n"),
			})
		}
	}
	return summary
}

// Initial is the summary of a first version: every line is an insertion.
func Initial(current tracker.Content) tracker.DiffSummary {
	return Diff(tracker.Content{}, current)
}

// CollapseWhitespace trims s and folds internal whitespace runs to one space.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// CanonicalText collapses whitespace per line and drops blank lines.
func CanonicalText(s string) string {
	raw := strings.Split(s, "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		if line = CollapseWhitespace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func lineBlock(body string) string {
	text := CanonicalText(body)
	if text == "" {
		return ""
	}
	return text + "\n"
}

func countLines(text string) int {
	n := strings.Count(text, "\n")
	if n == 0 && text != "" {
		return 1
	}
	return n
}
