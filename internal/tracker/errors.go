package tracker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors shared by the scheduler, coordinator and stores.
var (
	ErrDuplicateArticle        = errors.New("article already tracked")
	ErrNotFound                = errors.New("not found")
	ErrInvalidArgument         = errors.New("invalid argument")
	ErrAlreadyCrawling         = errors.New("article is already being crawled")
	ErrConcurrentWriteConflict = errors.New("concurrent version write conflict")
	ErrNetwork                 = errors.New("network error")
	ErrTimeout                 = errors.New("timeout")
	ErrHTTP                    = errors.New("http error")
	ErrParse                   = errors.New("parse error")
)

// FetchErrorKind classifies fetch failures.
type FetchErrorKind string

// Fetch error kinds.
const (
	FetchErrorNetwork FetchErrorKind = "network"
	FetchErrorTimeout FetchErrorKind = "timeout"
	FetchErrorHTTP    FetchErrorKind = "http"
)

// FetchError is returned by Fetcher implementations.
type FetchError struct {
	Kind   FetchErrorKind
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case FetchErrorHTTP:
		return fmt.Sprintf("fetch %s: http status %d", e.URL, e.Status)
	default:
		if e.Err == nil {
			return fmt.Sprintf("fetch %s: %s error", e.URL, e.Kind)
		}
		return fmt.Sprintf("fetch %s: %s error: %v", e.URL, e.Kind, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is lets errors.Is match the kind sentinels.
func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == FetchErrorNetwork
	case ErrTimeout:
		return e.Kind == FetchErrorTimeout
	case ErrHTTP:
		return e.Kind == FetchErrorHTTP
	}
	return false
}

// IsTransient reports whether a retry may succeed. 4xx responses other than
// 408 and 429 are permanent.
func (e *FetchError) IsTransient() bool {
	if e.Kind != FetchErrorHTTP {
		return true
	}
	if e.Status == http.StatusRequestTimeout || e.Status == http.StatusTooManyRequests {
		return true
	}
	return e.Status >= http.StatusInternalServerError
}

// NewHTTPError builds a FetchError for a non-success status.
func NewHTTPError(url string, status int) *FetchError {
	return &FetchError{Kind: FetchErrorHTTP, URL: url, Status: status}
}

// ClassifyTransportError maps a transport level failure to a FetchError.
func ClassifyTransportError(url string, err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Kind: FetchErrorTimeout, URL: url, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &FetchError{Kind: FetchErrorTimeout, URL: url, Err: err}
	}
	return &FetchError{Kind: FetchErrorNetwork, URL: url, Err: err}
}

// IsTransient reports whether err is a fetch or storage failure worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.IsTransient()
	}
	if errors.Is(err, ErrParse) || errors.Is(err, ErrNotFound) {
		return false
	}
	return true
}

// ParseError reports a page that does not match the expected structure.
type ParseError struct {
	Strategy string
	Reason   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("normalize (%s): %s", e.Strategy, e.Reason)
}

// Is lets errors.Is match ErrParse.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}
