package tracker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFetchErrorTransience(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		err       *FetchError
		transient bool
	}{
		{"server error", NewHTTPError("u", http.StatusServiceUnavailable), true},
		{"not found", NewHTTPError("u", http.StatusNotFound), false},
		{"forbidden", NewHTTPError("u", http.StatusForbidden), false},
		{"too many requests", NewHTTPError("u", http.StatusTooManyRequests), true},
		{"network", &FetchError{Kind: FetchErrorNetwork, URL: "u"}, true},
		{"timeout", &FetchError{Kind: FetchErrorTimeout, URL: "u"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.transient, tc.err.IsTransient())
			require.Equal(t, tc.transient, IsTransient(fmt.Errorf("wrapped: %w", tc.err)))
		})
	}
}

func TestFetchErrorMatchesKindSentinels(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("cycle: %w", NewHTTPError("https://example.com", 503))
	require.ErrorIs(t, err, ErrHTTP)
	require.NotErrorIs(t, err, ErrNetwork)

	timeout := ClassifyTransportError("https://example.com", context.DeadlineExceeded)
	require.ErrorIs(t, timeout, ErrTimeout)
	require.ErrorIs(t, timeout, context.DeadlineExceeded)

	reset := ClassifyTransportError("https://example.com", errors.New("connection reset by peer"))
	require.ErrorIs(t, reset, ErrNetwork)
}

func TestParseErrorIsPermanent(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("normalize: %w", &ParseError{Strategy: "generic", Reason: "no body"})
	require.ErrorIs(t, err, ErrParse)
	require.False(t, IsTransient(err))
}

func TestExponentialRetryPolicy(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(4, 100*time.Millisecond, time.Second).
		WithJitter(func(time.Duration) time.Duration { return 0 })

	transient := NewHTTPError("u", http.StatusBadGateway)
	require.True(t, p.ShouldRetry(transient, 1))
	require.True(t, p.ShouldRetry(transient, 3))
	require.False(t, p.ShouldRetry(transient, 4))
	require.False(t, p.ShouldRetry(NewHTTPError("u", http.StatusNotFound), 1))
	require.False(t, p.ShouldRetry(context.Canceled, 1))
	require.False(t, p.ShouldRetry(nil, 1))

	require.Equal(t, 50*time.Millisecond, p.Backoff(1))
	require.Equal(t, 100*time.Millisecond, p.Backoff(2))
	require.Equal(t, 200*time.Millisecond, p.Backoff(3))
	require.Equal(t, 500*time.Millisecond, p.Backoff(10))
}

func TestRandomJitterBounds(t *testing.T) {
	t.Parallel()

	require.Zero(t, RandomJitter(0))
	for range 100 {
		j := RandomJitter(10 * time.Millisecond)
		require.GreaterOrEqual(t, j, time.Duration(0))
		require.Less(t, j, 10*time.Millisecond)
	}
}

func TestValidateCrawlTransition(t *testing.T) {
	t.Parallel()

	path := []CrawlState{StatePending, StateFetching, StateNormalizing, StateComparing, StatePersisting, StateDone}
	for i := 1; i < len(path); i++ {
		require.NoError(t, ValidateCrawlTransition(path[i-1], path[i]))
	}
	require.NoError(t, ValidateCrawlTransition(StateComparing, StateUnchanged))
	require.NoError(t, ValidateCrawlTransition(StateFetching, StateFailed))
	require.Error(t, ValidateCrawlTransition(StatePending, StatePersisting))
	require.Error(t, ValidateCrawlTransition(StateDone, StateFetching))
	require.True(t, StateFailed.IsTerminal())
	require.False(t, StateComparing.IsTerminal())
}

func TestPageNormalize(t *testing.T) {
	t.Parallel()

	require.Equal(t, Page{Limit: DefaultPageLimit}, Page{AfterSequence: -3}.Normalize())
	require.Equal(t, Page{AfterSequence: 2, Limit: 5}, Page{AfterSequence: 2, Limit: 5}.Normalize())
	require.Equal(t, Page{Limit: MaxPageLimit}, Page{Limit: math.MaxInt}.Normalize())
}
