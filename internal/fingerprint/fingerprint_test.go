package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-tracker/internal/tracker"
)

func TestHashIgnoresWhitespaceDrift(t *testing.T) {
	t.Parallel()

	a := tracker.Content{Title: "Breaking  news", Body: "First line.\n\n  Second   line. "}
	b := tracker.Content{Title: " Breaking news", Body: "First line.\nSecond line."}
	require.Equal(t, Hash(a), Hash(b))
	require.Len(t, Hash(a), 64)
}

func TestHashSeparatesTitleAndBody(t *testing.T) {
	t.Parallel()

	a := tracker.Content{Title: "ab", Body: "c"}
	b := tracker.Content{Title: "a", Body: "bc"}
	require.NotEqual(t, Hash(a), Hash(b))
}

func TestHashIgnoresMetadata(t *testing.T) {
	t.Parallel()

	a := tracker.Content{Title: "t", Topline: "one", Body: "b"}
	b := tracker.Content{Title: "t", Topline: "two", Body: "b"}
	require.Equal(t, Hash(a), Hash(b))
}

func TestDiffSummarizesLineChanges(t *testing.T) {
	t.Parallel()

	prev := tracker.Content{Title: "Title", Body: "alpha\nbeta\ngamma"}
	cur := tracker.Content{Title: "Title", Body: "alpha\nBETA\ngamma\ndelta"}

	summary := Diff(prev, cur)
	require.True(t, summary.Changed)
	require.False(t, summary.TitleChanged)
	require.Equal(t, 2, summary.AddedLines)
	require.Equal(t, 1, summary.RemovedLines)
	require.Contains(t, summary.Spans, tracker.DiffSpan{Op: tracker.DiffDelete, Text: "beta"})
	require.Contains(t, summary.Spans, tracker.DiffSpan{Op: tracker.DiffInsert, Text: "BETA"})
}

func TestDiffUnchanged(t *testing.T) {
	t.Parallel()

	c := tracker.Content{Title: "Same", Body: "body"}
	summary := Diff(c, c)
	require.False(t, summary.Changed)
	require.Empty(t, summary.Spans)
}

func TestDiffTitleOnly(t *testing.T) {
	t.Parallel()

	summary := Diff(
		tracker.Content{Title: "Old", Body: "body"},
		tracker.Content{Title: "New", Body: "body"},
	)
	require.True(t, summary.Changed)
	require.True(t, summary.TitleChanged)
	require.Zero(t, summary.AddedLines)
	require.Zero(t, summary.RemovedLines)
}

func TestInitialCountsAllLines(t *testing.T) {
	t.Parallel()

	summary := Initial(tracker.Content{Title: "T", Body: "one\ntwo\nthree"})
	require.True(t, summary.Changed)
	require.Equal(t, 3, summary.AddedLines)
	require.Zero(t, summary.RemovedLines)
}
