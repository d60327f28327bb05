// Package browser wraps the low-level browser-driving primitives behind a
// Session interface so the application driver can be tested without a real
// browser.
package browser

import (
	"context"
	"errors"
	"fmt"
)

// ErrCrashed marks a dead browser session. The owning driver surfaces it so
// the worker pool can recycle the session instead of blaming the posting.
var ErrCrashed = errors.New("browser session crashed")

// TransientError wraps failures worth retrying: timeouts, slow navigations,
// elements not settled yet.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable at the driver level.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// Element is one match of a structural query: its accessible text and the
// viewport coordinates of its center.
type Element struct {
	Selector string
	Text     string
	X        float64
	Y        float64
	Visible  bool
}

// Target is a concrete actionable location on the page. Either Selector or
// the coordinates are set, depending on which strategy produced it.
type Target struct {
	Selector string
	X        float64
	Y        float64
}

// ByCoordinates reports whether the target must be activated by position
// rather than by selector (image-matching fallback results).
func (t Target) ByCoordinates() bool { return t.Selector == "" }

// Session is one isolated browser context. Calls are strictly sequential; a
// session must never be shared across drivers.
type Session interface {
	Navigate(ctx context.Context, url string) error
	QueryElements(ctx context.Context, selector string) ([]Element, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Click(ctx context.Context, target Target) error
	TypeText(ctx context.Context, selector, value string) error
	UploadFile(ctx context.Context, selector, path string) error
	Close() error
}

// Factory creates one session per driver run.
type Factory func(ctx context.Context) (Session, error)
