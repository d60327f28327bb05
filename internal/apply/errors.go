package apply

import (
	"errors"
	"fmt"

	"github.com/spigell/autoapply/internal/browser"
	"github.com/spigell/autoapply/internal/locator"
)

var (
	// errNoForm means the application form did not appear after clicking the
	// apply control. Recoverable: forms often render late.
	errNoForm = errors.New("no application form found")

	// errNoFileInput means no upload field was present on the form.
	errNoFileInput = errors.New("no resume upload field found")

	// errNoConfirmation means Verify saw no success indicator after Submit.
	// The driver retries it once, then treats it as terminal.
	errNoConfirmation = errors.New("no submission confirmation found")

	// errValidationRejected is terminal for the posting: the form pushed back
	// on the submitted values.
	errValidationRejected = errors.New("form rejected the application")
)

// recoverable reports whether the error is worth retrying in the same state.
func recoverable(err error) bool {
	switch {
	case errors.Is(err, browser.ErrCrashed):
		return false
	case errors.Is(err, errValidationRejected):
		return false
	case browser.IsTransient(err):
		return true
	case errors.Is(err, locator.ErrNotFound):
		return true
	case errors.Is(err, errNoForm), errors.Is(err, errNoFileInput), errors.Is(err, errNoConfirmation):
		return true
	default:
		return false
	}
}

// retryBudgetExceeded converts the last recoverable error into the terminal
// error recorded on the application.
func retryBudgetExceeded(state State, attempts int, err error) error {
	return fmt.Errorf("state %s failed after %d attempts: %w", state, attempts, err)
}
