// Package apply drives one browser session through the application flow for
// a single ranked posting. The flow is an explicit state machine: every state
// performs exactly one browser interaction and may be retried independently.
package apply

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/browser"
	"github.com/spigell/autoapply/internal/job"
	"github.com/spigell/autoapply/internal/locator"
	"github.com/spigell/autoapply/internal/store"
)

// State of the application flow for one posting.
type State string

const (
	StateDiscovered   State = "discovered"
	StateNavigate     State = "navigate_posting"
	StateLocateApply  State = "locate_apply_control"
	StateOpenForm     State = "open_application_form"
	StateFillFields   State = "fill_fields"
	StateUploadResume State = "upload_resume"
	StateSubmit       State = "submit"
	StateVerify       State = "verify"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
	StateAborted      State = "aborted"
)

const (
	defaultMaxRetries  = 3
	defaultBackoffBase = 2 * time.Second
)

var (
	confirmationPattern = regexp.MustCompile(`(?i)(thank you|application (received|submitted|sent)|successfully applied|we received your application)`)
	rejectionPattern    = regexp.MustCompile(`(?i)(please correct|invalid (email|phone|field)|required field|fix the errors? below)`)
)

// Profile holds the candidate identity used to populate forms.
type Profile struct {
	FullName string `mapstructure:"name"`
	Email    string `mapstructure:"email"`
	Phone    string `mapstructure:"phone"`
	Location string `mapstructure:"location"`
}

// targetResolver is what the driver needs from the element locator.
type targetResolver interface {
	Locate(ctx context.Context, session browser.Session, intent locator.Intent) (browser.Target, error)
}

// Result is the outcome of one posting attempt.
type Result struct {
	Fingerprint string
	Status      store.Status
	Attempts    int
	Err         error
	// Crashed is set when the browser session died; the pool recycles the
	// session instead of treating it as a posting-specific failure.
	Crashed bool
	// Skipped is set when another driver already owned the fingerprint.
	Skipped bool
}

// Driver executes the state machine for one posting on one session.
type Driver struct {
	session    browser.Session
	locator    targetResolver
	records    *store.Store
	profile    Profile
	resumePath string
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger

	attempts      int
	applyTarget   browser.Target
	verifyRetried bool

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// DriverDeps aggregates the driver's collaborators.
type DriverDeps struct {
	Session    browser.Session
	Locator    targetResolver
	Records    *store.Store
	Logger     *zap.Logger
	Profile    Profile
	ResumePath string
	MaxRetries int
	Backoff    time.Duration
}

func NewDriver(deps DriverDeps) *Driver {
	maxRetries := deps.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := deps.Backoff
	if backoff <= 0 {
		backoff = defaultBackoffBase
	}

	return &Driver{
		session:    deps.Session,
		locator:    deps.Locator,
		records:    deps.Records,
		profile:    deps.Profile,
		resumePath: deps.ResumePath,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     deps.Logger,
		sleep:      waitFor,
	}
}

// Run claims the posting and walks the state machine to a terminal state.
// The record is always left consistent: completed, failed or aborted.
func (d *Driver) Run(ctx context.Context, posting *job.Posting) Result {
	fp := posting.Fingerprint()
	log := d.logger.With(
		zap.String("fingerprint", fp),
		zap.String("title", posting.Title),
		zap.String("company", posting.Company),
	)

	err := d.records.Claim(ctx, &store.Record{
		Fingerprint: fp,
		Source:      posting.Source,
		Title:       posting.Title,
		Company:     posting.Company,
		URL:         posting.URL,
	})
	if err != nil {
		if errors.Is(err, store.ErrAlreadyClaimed) {
			log.Info("skipping posting owned by another attempt")
			return Result{Fingerprint: fp, Skipped: true}
		}
		return Result{Fingerprint: fp, Status: store.StatusFailed, Err: err}
	}

	d.attempts = 1
	state := StateNavigate

	for state != StateCompleted {
		if ctx.Err() != nil {
			return d.finish(ctx, log, fp, store.StatusAborted, ctx.Err())
		}

		log.Debug("entering state", zap.String("state", string(state)))

		next, err := d.runState(ctx, state, posting)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return d.finish(ctx, log, fp, store.StatusAborted, err)
			}
			result := d.finish(ctx, log, fp, store.StatusFailed, err)
			result.Crashed = errors.Is(err, browser.ErrCrashed)
			return result
		}
		state = next
	}

	return d.finish(ctx, log, fp, store.StatusCompleted, nil)
}

// runState executes one state with the bounded retry policy: recoverable
// errors retry the same state with exponential backoff until the budget is
// spent, then convert to terminal.
func (d *Driver) runState(ctx context.Context, state State, posting *job.Posting) (State, error) {
	var lastErr error

	for try := 0; try < d.maxRetries; try++ {
		if try > 0 {
			d.attempts++
			wait := d.backoff * time.Duration(1<<(try-1))
			d.logger.Debug("retrying state",
				zap.String("state", string(state)),
				zap.Int("attempt", try+1),
				zap.Duration("backoff", wait),
			)
			if err := d.sleep(ctx, wait); err != nil {
				return "", err
			}
		}

		next, err := d.step(ctx, state, posting)
		if err == nil {
			return next, nil
		}
		lastErr = err

		if !recoverable(err) {
			return "", err
		}
	}

	return "", retryBudgetExceeded(state, d.maxRetries, lastErr)
}

func (d *Driver) step(ctx context.Context, state State, posting *job.Posting) (State, error) {
	switch state {
	case StateNavigate:
		if err := d.session.Navigate(ctx, posting.TargetURL()); err != nil {
			return "", err
		}
		return StateLocateApply, nil

	case StateLocateApply:
		target, err := d.locator.Locate(ctx, d.session, locator.IntentApply)
		if err != nil {
			return "", err
		}
		d.applyTarget = target
		return StateOpenForm, nil

	case StateOpenForm:
		if err := d.session.Click(ctx, d.applyTarget); err != nil {
			return "", err
		}
		present, err := d.anyVisible(ctx, "form, input, textarea, select")
		if err != nil {
			return "", err
		}
		if !present {
			return "", errNoForm
		}
		return StateFillFields, nil

	case StateFillFields:
		if err := d.fillContactFields(ctx); err != nil {
			return "", err
		}
		return StateUploadResume, nil

	case StateUploadResume:
		selector := "input[type='file']"
		found, err := d.anyVisible(ctx, selector)
		if err != nil {
			return "", err
		}
		if !found {
			return "", errNoFileInput
		}
		if err := d.session.UploadFile(ctx, selector, d.resumePath); err != nil {
			return "", err
		}
		return StateSubmit, nil

	case StateSubmit:
		target, err := d.locator.Locate(ctx, d.session, locator.IntentSubmit)
		if err != nil {
			return "", err
		}
		if err := d.session.Click(ctx, target); err != nil {
			return "", err
		}
		return StateVerify, nil

	case StateVerify:
		confirmed, rejected, err := d.confirmed(ctx)
		if err != nil {
			return "", err
		}
		if rejected {
			return "", errValidationRejected
		}
		if confirmed {
			return StateCompleted, nil
		}
		if d.verifyRetried {
			return "", fmt.Errorf("%v: giving up after one re-check", errNoConfirmation)
		}
		d.verifyRetried = true
		return "", errNoConfirmation

	default:
		return "", fmt.Errorf("unknown state: %s", state)
	}
}

// fillContactFields populates whatever contact inputs the form exposes.
// Missing fields are skipped; forms rarely ask for everything.
func (d *Driver) fillContactFields(ctx context.Context) error {
	fields := []struct {
		value     string
		selectors []string
	}{
		{d.profile.FullName, []string{
			"input[name*='name' i]", "input[placeholder*='name' i]", "input[aria-label*='name' i]",
		}},
		{d.profile.Email, []string{
			"input[type='email']", "input[name*='email' i]", "input[placeholder*='email' i]",
		}},
		{d.profile.Phone, []string{
			"input[type='tel']", "input[name*='phone' i]", "input[placeholder*='phone' i]",
		}},
		{d.profile.Location, []string{
			"input[name*='city' i]", "input[name*='location' i]", "input[placeholder*='location' i]",
		}},
	}

	for _, field := range fields {
		if field.value == "" {
			continue
		}
		for _, selector := range field.selectors {
			found, err := d.anyVisible(ctx, selector)
			if err != nil {
				return err
			}
			if !found {
				continue
			}
			if err := d.session.TypeText(ctx, selector, field.value); err != nil {
				return err
			}
			break
		}
	}

	return nil
}

func (d *Driver) anyVisible(ctx context.Context, selector string) (bool, error) {
	elements, err := d.session.QueryElements(ctx, selector)
	if err != nil {
		return false, err
	}
	for _, element := range elements {
		if element.Visible {
			return true, nil
		}
	}
	return false, nil
}

func (d *Driver) confirmed(ctx context.Context) (confirmed, rejected bool, err error) {
	elements, err := d.session.QueryElements(ctx, "body")
	if err != nil {
		return false, false, err
	}
	for _, element := range elements {
		if rejectionPattern.MatchString(element.Text) {
			return false, true, nil
		}
		if confirmationPattern.MatchString(element.Text) {
			return true, false, nil
		}
	}
	return false, false, nil
}

func (d *Driver) finish(ctx context.Context, log *zap.Logger, fp string, status store.Status, cause error) Result {
	lastErr := ""
	if cause != nil {
		lastErr = cause.Error()
	}

	// Use a detached context so the terminal transition is recorded even
	// when the run deadline has already expired.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := d.records.Finish(finishCtx, fp, status, d.attempts, lastErr); err != nil {
		log.Error("recording terminal status", zap.Error(err))
	}

	switch status {
	case store.StatusCompleted:
		log.Info("application completed", zap.Int("attempts", d.attempts))
	case store.StatusAborted:
		log.Warn("application aborted", zap.Int("attempts", d.attempts), zap.Error(cause))
	default:
		log.Warn("application failed", zap.Int("attempts", d.attempts), zap.Error(cause))
	}

	return Result{Fingerprint: fp, Status: status, Attempts: d.attempts, Err: cause}
}

// waitFor sleeps for d unless the context ends first.
func waitFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
