package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPoolClosed is returned by Acquire once Shutdown has started
	ErrPoolClosed = errors.New("browser pool is closed")

	// ErrSelectorNotFound means no element matched within the wait timeout
	ErrSelectorNotFound = errors.New("selector not found")
)

// Navigation error codes that are not Chrome net:: codes
const (
	CodeTimeout = "timeout"
	CodeFailed  = "navigation_failed"
)

// transientCodes are load failures worth retrying with backoff
var transientCodes = map[string]bool{
	CodeTimeout:                      true,
	CodeFailed:                       true,
	"net::ERR_CONNECTION_REFUSED":    true,
	"net::ERR_CONNECTION_RESET":      true,
	"net::ERR_CONNECTION_CLOSED":     true,
	"net::ERR_CONNECTION_ABORTED":    true,
	"net::ERR_CONNECTION_TIMED_OUT":  true,
	"net::ERR_TIMED_OUT":             true,
	"net::ERR_EMPTY_RESPONSE":        true,
	"net::ERR_NETWORK_CHANGED":       true,
	"net::ERR_INTERNET_DISCONNECTED": true,
	"net::ERR_FAILED":                true,
}

// NavigationError is a failed page load. Code is a Chrome net:: error code,
// CodeTimeout or CodeFailed.
type NavigationError struct {
	URL  string
	Code string
	Err  error
}

func (e *NavigationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("navigation to %s failed (%s): %v", e.URL, e.Code, e.Err)
	}
	return fmt.Sprintf("navigation to %s failed (%s)", e.URL, e.Code)
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the load could succeed
func (e *NavigationError) Transient() bool {
	return transientCodes[e.Code]
}

// IsTransient reports whether err is a navigation failure worth retrying
func IsTransient(err error) bool {
	var navErr *NavigationError
	if errors.As(err, &navErr) {
		return navErr.Transient()
	}
	return false
}

// newNavigationError turns Chrome's errorText (e.g. "net::ERR_NAME_NOT_RESOLVED")
// into a typed error
func newNavigationError(url, errorText string) *NavigationError {
	code := strings.TrimSpace(errorText)
	if i := strings.IndexAny(code, " \t"); i > 0 {
		code = code[:i]
	}
	if !strings.HasPrefix(code, "net::") {
		code = CodeFailed
	}
	return &NavigationError{URL: url, Code: code, Err: errors.New(errorText)}
}

// wrapNavigationError classifies a driver error raised while loading url
func wrapNavigationError(url string, err error) error {
	var navErr *NavigationError
	if errors.As(err, &navErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &NavigationError{URL: url, Code: CodeTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if i := strings.Index(err.Error(), "net::"); i >= 0 {
		return newNavigationError(url, err.Error()[i:])
	}
	return &NavigationError{URL: url, Code: CodeFailed, Err: err}
}
